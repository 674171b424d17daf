package service

import (
	"context"
	"strings"

	"github.com/pesio-ai/be-crm-workflows/internal/common/errors"
	"github.com/pesio-ai/be-crm-workflows/internal/common/logger"
	"github.com/pesio-ai/be-crm-workflows/internal/repository"
	"github.com/pesio-ai/be-crm-workflows/internal/sequence"
	"github.com/shopspring/decimal"
)

// BookingService runs the Credits FIN desk: branches close FIN accounts into
// entries, branch managers bid on open entries, and the Investment AGM desk
// approves one bid per entry, books, or reverses a booking.
//
// At most one bid per entry is APPROVED or BOOKED at any time. Every
// operation checks that inside the store update that applies it.
type BookingService struct {
	store   repository.EntityStore
	machine *ApprovalMachine
	events  EventPublisher
	log     *logger.Logger
}

// NewBookingService creates a new BookingService.
func NewBookingService(store repository.EntityStore, machine *ApprovalMachine, events EventPublisher, log *logger.Logger) *BookingService {
	return &BookingService{
		store:   store,
		machine: machine,
		events:  publisherOrNop(events),
		log:     log,
	}
}

// CloseEntryInput is a validated FIN closure.
type CloseEntryInput struct {
	Branch     string
	Name       string
	CustomerID int64
	Scheme     decimal.Decimal
	Maturity   string
	Amount     decimal.Decimal
	Narration  string
}

// EntryFilter narrows ListEntries. Zero values match everything.
type EntryFilter struct {
	Booked *bool
	Branch string
	Scheme *decimal.Decimal
}

// BidFilter narrows ListBids.
type BidFilter struct {
	EntryID string
	Status  repository.BidStatus
}

// ── permissions ───────────────────────────────────────────────────────────────

func canBid(u *repository.User) bool {
	return isAdmin(u) || (u != nil && u.Role == repository.RoleBranchManager)
}

func isBookingDesk(u *repository.User) bool {
	return isAdmin(u) || isInvestmentAGM(u)
}

func (s *BookingService) deskActor(snap *repository.Snapshot, actorID string) (*repository.User, error) {
	actor, err := resolveActor(snap, actorID)
	if err != nil {
		return nil, err
	}
	if !isBookingDesk(actor) {
		return nil, forbidden("%s is not on the Investment booking desk", actor.Username)
	}
	return actor, nil
}

func deskUsers(users map[string]*repository.User) []string {
	var out []string
	for _, u := range users {
		if isInvestmentAGM(u) {
			out = append(out, u.Username)
		}
	}
	return sortedStrings(out)
}

// entryVisible applies the FIN desk view: admin and AGMs see every entry,
// branch managers their assigned branches.
func entryVisible(actor *repository.User, e *repository.CreditsFinEntry) bool {
	switch actor.Role {
	case repository.RoleAdmin, repository.RoleAGM:
		return true
	case repository.RoleBranchManager:
		return contains(actor.AssignedBranches, e.Branch)
	}
	return false
}

// winningBid returns the entry's APPROVED or BOOKED bid, if any.
func winningBid(snap *repository.Snapshot, entryID string) (*repository.Bid, bool) {
	for _, b := range snap.BidsForEntry(entryID) {
		if b.Status.Winning() {
			return b, true
		}
	}
	return nil, false
}

// IsOpen reports whether e can take bids: not booked and without a winner.
func IsOpen(snap *repository.Snapshot, e *repository.CreditsFinEntry) bool {
	if e.Booked {
		return false
	}
	_, won := winningBid(snap, e.EntryID)
	return !won
}

// OpenEntries lists the entries in snap that can take bids.
func OpenEntries(snap *repository.Snapshot) []*repository.CreditsFinEntry {
	var out []*repository.CreditsFinEntry
	for _, e := range snap.CreditsFinEntries {
		if IsOpen(snap, e) {
			out = append(out, e)
		}
	}
	return out
}

// ── Entries ───────────────────────────────────────────────────────────────────

// CloseEntry records a closed FIN account as an unbooked entry.
func (s *BookingService) CloseEntry(ctx context.Context, actorID string, in CloseEntryInput) (*repository.CreditsFinEntry, error) {
	if !in.Amount.IsPositive() {
		return nil, errors.InvalidInput("amount", "must be positive")
	}

	var entry *repository.CreditsFinEntry
	err := s.store.Update(ctx, func(snap *repository.Snapshot) error {
		actor, err := resolveActor(snap, actorID)
		if err != nil {
			return err
		}
		if !canBid(actor) {
			return forbidden("%s cannot close FIN entries", actor.Username)
		}
		branch, err := submissionBranch(actor, in.Branch)
		if err != nil {
			return err
		}

		entry = &repository.CreditsFinEntry{
			EntryID: sequence.Next(sequence.CreditsFinEntry, snap.CreditsFinEntries,
				func(e *repository.CreditsFinEntry) string { return e.EntryID }),
			Branch:     branch,
			Department: actor.Department,
			UserName:   actor.Username,
			Name:       strings.TrimSpace(in.Name),
			CustomerID: in.CustomerID,
			Scheme:     in.Scheme,
			Maturity:   in.Maturity,
			Amount:     in.Amount,
			Narration:  in.Narration,
			Booked:     false,
			Timestamp:  repository.FormatTimestamp(s.machine.now()),
		}
		snap.CreditsFinEntries = append(snap.CreditsFinEntries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("entry_id", entry.EntryID).
		Str("branch", entry.Branch).
		Str("amount", entry.Amount.String()).
		Msg("FIN entry closed")
	return entry, nil
}

// ListEntries returns the entries actor's desk view shows.
func (s *BookingService) ListEntries(ctx context.Context, actorID string, f EntryFilter) ([]*repository.CreditsFinEntry, error) {
	snap, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	actor, err := resolveActor(snap, actorID)
	if err != nil {
		return nil, err
	}

	out := make([]*repository.CreditsFinEntry, 0)
	for _, e := range snap.CreditsFinEntries {
		if !entryVisible(actor, e) {
			continue
		}
		if f.Booked != nil && e.Booked != *f.Booked {
			continue
		}
		if f.Branch != "" && e.Branch != f.Branch {
			continue
		}
		if f.Scheme != nil && !e.Scheme.Equal(*f.Scheme) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// ListOpenEntries returns the entries that can take bids. Any user who may
// bid sees every open entry regardless of branch.
func (s *BookingService) ListOpenEntries(ctx context.Context, actorID string) ([]*repository.CreditsFinEntry, error) {
	snap, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	actor, err := resolveActor(snap, actorID)
	if err != nil {
		return nil, err
	}
	open := make([]*repository.CreditsFinEntry, 0)
	if !canBid(actor) && actor.Role != repository.RoleAGM {
		return open, nil
	}
	return append(open, OpenEntries(snap)...), nil
}

// DeleteEntry removes an entry and every bid on it.
func (s *BookingService) DeleteEntry(ctx context.Context, actorID, entryID string) error {
	var removedBids int
	err := s.store.Update(ctx, func(snap *repository.Snapshot) error {
		if _, err := s.deskActor(snap, actorID); err != nil {
			return err
		}
		idx := -1
		for i, e := range snap.CreditsFinEntries {
			if e.EntryID == entryID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return notFound("credits_fin_entry", entryID)
		}
		snap.CreditsFinEntries = append(snap.CreditsFinEntries[:idx], snap.CreditsFinEntries[idx+1:]...)

		kept := snap.Bids[:0]
		for _, b := range snap.Bids {
			if b.EntryID == entryID {
				removedBids++
				continue
			}
			kept = append(kept, b)
		}
		snap.Bids = kept
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Info().
		Str("entry_id", entryID).
		Int("bids_removed", removedBids).
		Str("deleted_by", actorID).
		Msg("FIN entry deleted")
	return nil
}

// ── Bids ──────────────────────────────────────────────────────────────────────

// PlaceBid adds a PLACED bid by actor on an open entry. A zero amount bids
// the entry's full amount.
func (s *BookingService) PlaceBid(ctx context.Context, actorID, entryID string, amount decimal.Decimal) (*repository.Bid, error) {
	if amount.IsNegative() {
		return nil, errors.InvalidInput("amount", "must not be negative")
	}

	var (
		bid  *repository.Bid
		desk []string
	)
	err := s.store.Update(ctx, func(snap *repository.Snapshot) error {
		actor, err := resolveActor(snap, actorID)
		if err != nil {
			return err
		}
		if !canBid(actor) {
			return forbidden("%s cannot place bids", actor.Username)
		}
		entry, ok := snap.FindCreditsFinEntry(entryID)
		if !ok {
			return notFound("credits_fin_entry", entryID)
		}
		if entry.Booked {
			return entryNotOpen(entryID, "already booked")
		}
		if w, won := winningBid(snap, entryID); won {
			return entryNotOpen(entryID, "bid "+w.BidID+" is "+string(w.Status))
		}

		if amount.IsZero() {
			amount = entry.Amount
		}
		bid = &repository.Bid{
			BidID: sequence.Next(sequence.Bid, snap.Bids,
				func(b *repository.Bid) string { return b.BidID }),
			EntryID:   entryID,
			Bidder:    actor.Username,
			Branch:    entry.Branch,
			Amount:    amount,
			Status:    repository.BidPlaced,
			Timestamp: repository.FormatTimestamp(s.machine.now()),
		}
		snap.Bids = append(snap.Bids, bid)
		desk = deskUsers(snap.Users)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.events.PublishCRMEvent(ctx, EventBidPlaced, "bid", bid.BidID, actorID, desk,
		map[string]interface{}{"entry_id": entryID, "amount": bid.Amount.String()})
	s.log.Info().
		Str("bid_id", bid.BidID).
		Str("entry_id", entryID).
		Str("bidder", bid.Bidder).
		Msg("Bid placed")
	return bid, nil
}

// ListBids returns the bids actor may see: all for admin and AGMs, own bids
// for branch managers.
func (s *BookingService) ListBids(ctx context.Context, actorID string, f BidFilter) ([]*repository.Bid, error) {
	snap, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	actor, err := resolveActor(snap, actorID)
	if err != nil {
		return nil, err
	}

	out := make([]*repository.Bid, 0)
	for _, b := range snap.Bids {
		switch actor.Role {
		case repository.RoleAdmin, repository.RoleAGM:
		case repository.RoleBranchManager:
			if b.Bidder != actor.Username {
				continue
			}
		default:
			continue
		}
		if f.EntryID != "" && b.EntryID != f.EntryID {
			continue
		}
		if f.Status != "" && b.Status != f.Status {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

// ApproveBid makes a PLACED bid the entry's winner and books the entry.
func (s *BookingService) ApproveBid(ctx context.Context, actorID, bidID string) (*repository.Bid, error) {
	var bid *repository.Bid
	err := s.store.Update(ctx, func(snap *repository.Snapshot) error {
		if _, err := s.deskActor(snap, actorID); err != nil {
			return err
		}
		b, ok := snap.FindBid(bidID)
		if !ok {
			return notFound("bid", bidID)
		}
		if b.Status != repository.BidPlaced {
			return bidNotPending(bidID, b.Status)
		}
		entry, ok := snap.FindCreditsFinEntry(b.EntryID)
		if !ok {
			return notFound("credits_fin_entry", b.EntryID)
		}
		if entry.Booked {
			return entryNotOpen(entry.EntryID, "already booked")
		}
		if w, won := winningBid(snap, entry.EntryID); won {
			return entryNotOpen(entry.EntryID, "bid "+w.BidID+" is "+string(w.Status))
		}

		b.Status = repository.BidApproved
		entry.Booked = true
		bid = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.events.PublishCRMEvent(ctx, EventBidApproved, "bid", bidID, actorID, []string{bid.Bidder},
		map[string]interface{}{"entry_id": bid.EntryID, "amount": bid.Amount.String()})
	s.log.Info().
		Str("bid_id", bidID).
		Str("entry_id", bid.EntryID).
		Str("approved_by", actorID).
		Msg("Bid approved, entry booked")
	return bid, nil
}

// RejectBid turns down a PLACED bid. The entry is left as it is; a winning
// bid must be released with ReverseBooking instead.
func (s *BookingService) RejectBid(ctx context.Context, actorID, bidID string) (*repository.Bid, error) {
	var bid *repository.Bid
	err := s.store.Update(ctx, func(snap *repository.Snapshot) error {
		if _, err := s.deskActor(snap, actorID); err != nil {
			return err
		}
		b, ok := snap.FindBid(bidID)
		if !ok {
			return notFound("bid", bidID)
		}
		if b.Status != repository.BidPlaced {
			return bidNotPending(bidID, b.Status)
		}
		b.Status = repository.BidRejected
		bid = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.events.PublishCRMEvent(ctx, EventBidRejected, "bid", bidID, actorID, []string{bid.Bidder},
		map[string]interface{}{"entry_id": bid.EntryID})
	s.log.Info().Str("bid_id", bidID).Str("rejected_by", actorID).Msg("Bid rejected")
	return bid, nil
}

// ── Booking ───────────────────────────────────────────────────────────────────

// ManualBook books an open entry without the approve step. The earliest
// PLACED bid, if any, becomes BOOKED; later PLACED bids stay PLACED so the
// entry keeps a single winner.
func (s *BookingService) ManualBook(ctx context.Context, actorID, entryID string) (*repository.CreditsFinEntry, error) {
	var (
		entry      *repository.CreditsFinEntry
		recipients []string
	)
	err := s.store.Update(ctx, func(snap *repository.Snapshot) error {
		if _, err := s.deskActor(snap, actorID); err != nil {
			return err
		}
		e, ok := snap.FindCreditsFinEntry(entryID)
		if !ok {
			return notFound("credits_fin_entry", entryID)
		}
		if !IsOpen(snap, e) {
			return entryNotOpen(entryID, "already booked")
		}

		e.Booked = true
		for _, b := range snap.BidsForEntry(entryID) {
			if b.Status == repository.BidPlaced {
				b.Status = repository.BidBooked
				recipients = append(recipients, b.Bidder)
				break
			}
		}
		if e.UserName != "" && !contains(recipients, e.UserName) {
			recipients = append(recipients, e.UserName)
		}
		entry = e
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.events.PublishCRMEvent(ctx, EventEntryBooked, "credits_fin_entry", entryID, actorID, recipients,
		map[string]interface{}{"manual": true})
	s.log.Info().Str("entry_id", entryID).Str("booked_by", actorID).Msg("FIN entry booked manually")
	return entry, nil
}

// ReverseBooking un-books an entry and returns its winning bid to PLACED.
// REJECTED bids are untouched.
func (s *BookingService) ReverseBooking(ctx context.Context, actorID, entryID string) (*repository.CreditsFinEntry, error) {
	var (
		entry    *repository.CreditsFinEntry
		reverted []string
	)
	err := s.store.Update(ctx, func(snap *repository.Snapshot) error {
		if _, err := s.deskActor(snap, actorID); err != nil {
			return err
		}
		e, ok := snap.FindCreditsFinEntry(entryID)
		if !ok {
			return notFound("credits_fin_entry", entryID)
		}
		_, won := winningBid(snap, entryID)
		if !e.Booked && !won {
			return errors.New(errors.ErrCodeConflict, "entry "+entryID+" is not booked")
		}

		e.Booked = false
		for _, b := range snap.BidsForEntry(entryID) {
			if b.Status.Winning() {
				b.Status = repository.BidPlaced
				reverted = append(reverted, b.Bidder)
			}
		}
		entry = e
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.events.PublishCRMEvent(ctx, EventBookingReversed, "credits_fin_entry", entryID, actorID, reverted, nil)
	s.log.Info().
		Str("entry_id", entryID).
		Int("bids_reverted", len(reverted)).
		Str("reversed_by", actorID).
		Msg("FIN booking reversed")
	return entry, nil
}

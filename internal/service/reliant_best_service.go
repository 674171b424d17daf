package service

import (
	"context"

	"github.com/pesio-ai/be-crm-workflows/internal/common/errors"
	"github.com/pesio-ai/be-crm-workflows/internal/common/logger"
	"github.com/pesio-ai/be-crm-workflows/internal/repository"
	"github.com/pesio-ai/be-crm-workflows/internal/sequence"
	"github.com/shopspring/decimal"
)

// ReliantBestService records combined gold + personal loan customers.
type ReliantBestService struct {
	store   repository.EntityStore
	machine *ApprovalMachine
	log     *logger.Logger
}

// NewReliantBestService creates a new ReliantBestService.
func NewReliantBestService(store repository.EntityStore, machine *ApprovalMachine, log *logger.Logger) *ReliantBestService {
	return &ReliantBestService{store: store, machine: machine, log: log}
}

// CreateReliantBestInput is a validated Reliant Best record.
type CreateReliantBestInput struct {
	Branch         string
	CustomerName   string
	GoldName       string
	GoldLoanNumber string
	GoldAmount     decimal.Decimal
	PLName         string
	PLLoanNumber   string
	PLAmount       decimal.Decimal
}

// Create stores the record under four fresh ids: entry, customer, gold loan
// customer and personal loan customer.
func (s *ReliantBestService) Create(ctx context.Context, actorID string, in CreateReliantBestInput) (*repository.ReliantBestEntry, error) {
	if in.GoldAmount.IsNegative() || in.PLAmount.IsNegative() {
		return nil, errors.InvalidInput("amount", "must not be negative")
	}

	var entry *repository.ReliantBestEntry
	err := s.store.Update(ctx, func(snap *repository.Snapshot) error {
		actor, err := resolveActor(snap, actorID)
		if err != nil {
			return err
		}
		branch, err := submissionBranch(actor, in.Branch)
		if err != nil {
			return err
		}

		entries := snap.ReliantBestEntries
		entry = &repository.ReliantBestEntry{
			EntryID: sequence.Next(sequence.ReliantBestEntry, entries,
				func(e *repository.ReliantBestEntry) string { return e.EntryID }),
			CustomerID: sequence.Next(sequence.ReliantBest, entries,
				func(e *repository.ReliantBestEntry) string { return e.CustomerID }),
			CustomerIDGL: sequence.Next(sequence.GoldLoan, entries,
				func(e *repository.ReliantBestEntry) string { return e.CustomerIDGL }),
			CustomerIDPL: sequence.Next(sequence.PersonalLoan, entries,
				func(e *repository.ReliantBestEntry) string { return e.CustomerIDPL }),
			StaffName:      actor.Username,
			Branch:         branch,
			CustomerName:   in.CustomerName,
			GoldName:       in.GoldName,
			GoldLoanNumber: in.GoldLoanNumber,
			GoldAmount:     in.GoldAmount,
			PLName:         in.PLName,
			PLLoanNumber:   in.PLLoanNumber,
			PLAmount:       in.PLAmount,
			Timestamp:      repository.FormatTimestamp(s.machine.now()),
		}
		snap.ReliantBestEntries = append(snap.ReliantBestEntries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("entry_id", entry.EntryID).
		Str("customer_id", entry.CustomerID).
		Str("total", entry.Total().String()).
		Msg("Reliant Best entry created")
	return entry, nil
}

// List returns the entries visible to actor. Branch staff see none.
func (s *ReliantBestService) List(ctx context.Context, actorID string) ([]*repository.ReliantBestEntry, error) {
	snap, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	actor, err := resolveActor(snap, actorID)
	if err != nil {
		return nil, err
	}
	return FilterByRole(snap.ReliantBestEntries, snap.Users, actor), nil
}

// Delete removes an entry; AGM or admin only.
func (s *ReliantBestService) Delete(ctx context.Context, actorID, entryID string) error {
	err := s.store.Update(ctx, func(snap *repository.Snapshot) error {
		actor, err := resolveActor(snap, actorID)
		if err != nil {
			return err
		}
		if !isAdmin(actor) && actor.Role != repository.RoleAGM {
			return forbidden("%s cannot delete Reliant Best entries", actor.Username)
		}
		for i, e := range snap.ReliantBestEntries {
			if e.EntryID == entryID {
				snap.ReliantBestEntries = append(snap.ReliantBestEntries[:i], snap.ReliantBestEntries[i+1:]...)
				return nil
			}
		}
		return notFound("reliant_best_entry", entryID)
	})
	if err != nil {
		return err
	}
	s.log.Info().Str("entry_id", entryID).Str("deleted_by", actorID).Msg("Reliant Best entry deleted")
	return nil
}

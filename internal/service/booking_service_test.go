package service

import (
	"context"
	"testing"

	"github.com/pesio-ai/be-crm-workflows/internal/common/errors"
	"github.com/pesio-ai/be-crm-workflows/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newBookingService seeds two extra bidding branch managers, alice and bob.
func newBookingService(t *testing.T) (*BookingService, repository.EntityStore, *recordingPublisher) {
	t.Helper()
	store := newSeededStore(t)
	require.NoError(t, store.Update(context.Background(), func(snap *repository.Snapshot) error {
		snap.Users["alice"] = &repository.User{Username: "alice", Role: repository.RoleBranchManager, AssignedBranches: []string{"X"}, CreatedBy: "am_north"}
		snap.Users["bob"] = &repository.User{Username: "bob", Role: repository.RoleBranchManager, AssignedBranches: []string{"Z"}, CreatedBy: "am_south"}
		return nil
	}))
	events := &recordingPublisher{}
	return NewBookingService(store, NewApprovalMachine(fixedClock), events, testLogger()), store, events
}

func closeEntry(t *testing.T, svc *BookingService, actor, branch, amount string) *repository.CreditsFinEntry {
	t.Helper()
	e, err := svc.CloseEntry(context.Background(), actor, CloseEntryInput{
		Branch:     branch,
		Name:       "Ravi",
		CustomerID: 10042,
		Scheme:     decimal.RequireFromString("9.5"),
		Maturity:   "2025-03-15",
		Amount:     decimal.RequireFromString(amount),
		Narration:  "FIN closed",
	})
	require.NoError(t, err)
	return e
}

func bidStatus(t *testing.T, store repository.EntityStore, bidID string) repository.BidStatus {
	t.Helper()
	b, ok := load(t, store).FindBid(bidID)
	require.True(t, ok)
	return b.Status
}

func entryBooked(t *testing.T, store repository.EntityStore, entryID string) bool {
	t.Helper()
	e, ok := load(t, store).FindCreditsFinEntry(entryID)
	require.True(t, ok)
	return e.Booked
}

func TestBookingService_BidApproveReverseRebid(t *testing.T) {
	svc, store, events := newBookingService(t)
	ctx := context.Background()

	entry := closeEntry(t, svc, "bm_x", "X", "50000")
	assert.Equal(t, "CF-00001", entry.EntryID)
	assert.False(t, entry.Booked)

	aliceBid, err := svc.PlaceBid(ctx, "alice", "CF-00001", decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, "BID-00001", aliceBid.BidID)
	assert.Equal(t, repository.BidPlaced, aliceBid.Status)
	assert.True(t, aliceBid.Amount.Equal(decimal.NewFromInt(50000)), "zero amount bids the entry amount")
	assert.Equal(t, []string{"agm1"}, events.last().Recipients)

	other, err := svc.PlaceBid(ctx, "bob", "CF-00001", decimal.NewFromInt(48000))
	require.NoError(t, err)

	approved, err := svc.ApproveBid(ctx, "agm1", aliceBid.BidID)
	require.NoError(t, err)
	assert.Equal(t, repository.BidApproved, approved.Status)
	assert.True(t, entryBooked(t, store, "CF-00001"))
	assert.Equal(t, EventBidApproved, events.last().EventType)

	_, err = svc.ApproveBid(ctx, "agm1", other.BidID)
	assert.ErrorIs(t, err, ErrEntryNotOpen)
	assert.Equal(t, repository.BidPlaced, bidStatus(t, store, other.BidID))

	_, err = svc.PlaceBid(ctx, "bob", "CF-00001", decimal.Zero)
	assert.ErrorIs(t, err, ErrEntryNotOpen)

	reversed, err := svc.ReverseBooking(ctx, "agm1", "CF-00001")
	require.NoError(t, err)
	assert.False(t, reversed.Booked)
	assert.Equal(t, repository.BidPlaced, bidStatus(t, store, aliceBid.BidID))
	assert.Equal(t, []string{"alice"}, events.last().Recipients)

	bobBid, err := svc.PlaceBid(ctx, "bob", "CF-00001", decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, "BID-00003", bobBid.BidID)
	assert.Equal(t, repository.BidPlaced, bobBid.Status)
}

func TestBookingService_ApproveBidRequiresPlaced(t *testing.T) {
	svc, _, _ := newBookingService(t)
	ctx := context.Background()
	closeEntry(t, svc, "bm_x", "X", "1000")

	bid, err := svc.PlaceBid(ctx, "alice", "CF-00001", decimal.Zero)
	require.NoError(t, err)
	_, err = svc.RejectBid(ctx, "agm1", bid.BidID)
	require.NoError(t, err)

	_, err = svc.ApproveBid(ctx, "agm1", bid.BidID)
	assert.ErrorIs(t, err, ErrBidNotPending)
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))

	_, err = svc.ApproveBid(ctx, "agm1", "BID-99999")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBookingService_RejectLeavesEntryUntouched(t *testing.T) {
	svc, store, events := newBookingService(t)
	ctx := context.Background()
	closeEntry(t, svc, "bm_x", "X", "1000")

	bid, err := svc.PlaceBid(ctx, "alice", "CF-00001", decimal.Zero)
	require.NoError(t, err)

	rejected, err := svc.RejectBid(ctx, "agm1", bid.BidID)
	require.NoError(t, err)
	assert.Equal(t, repository.BidRejected, rejected.Status)
	assert.False(t, entryBooked(t, store, "CF-00001"))
	assert.Equal(t, []string{"alice"}, events.last().Recipients)

	open, err := svc.ListOpenEntries(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, open, 1)

	_, err = svc.RejectBid(ctx, "agm1", bid.BidID)
	assert.ErrorIs(t, err, ErrBidNotPending)
}

func TestBookingService_WinningBidCannotBeRejected(t *testing.T) {
	svc, store, _ := newBookingService(t)
	ctx := context.Background()
	closeEntry(t, svc, "bm_x", "X", "1000")

	bid, err := svc.PlaceBid(ctx, "alice", "CF-00001", decimal.Zero)
	require.NoError(t, err)
	_, err = svc.ApproveBid(ctx, "agm1", bid.BidID)
	require.NoError(t, err)

	_, err = svc.RejectBid(ctx, "agm1", bid.BidID)
	assert.ErrorIs(t, err, ErrBidNotPending)
	assert.Equal(t, repository.BidApproved, bidStatus(t, store, bid.BidID))
}

func TestBookingService_ManualBookPromotesEarliestPlacedBid(t *testing.T) {
	svc, store, _ := newBookingService(t)
	ctx := context.Background()
	closeEntry(t, svc, "bm_x", "X", "1000")

	first, err := svc.PlaceBid(ctx, "alice", "CF-00001", decimal.Zero)
	require.NoError(t, err)
	second, err := svc.PlaceBid(ctx, "bob", "CF-00001", decimal.Zero)
	require.NoError(t, err)
	rejected, err := svc.PlaceBid(ctx, "bob", "CF-00001", decimal.Zero)
	require.NoError(t, err)
	_, err = svc.RejectBid(ctx, "agm1", rejected.BidID)
	require.NoError(t, err)

	entry, err := svc.ManualBook(ctx, "agm1", "CF-00001")
	require.NoError(t, err)
	assert.True(t, entry.Booked)

	assert.Equal(t, repository.BidBooked, bidStatus(t, store, first.BidID))
	assert.Equal(t, repository.BidPlaced, bidStatus(t, store, second.BidID))
	assert.Equal(t, repository.BidRejected, bidStatus(t, store, rejected.BidID))

	_, err = svc.ManualBook(ctx, "agm1", "CF-00001")
	assert.ErrorIs(t, err, ErrEntryNotOpen)

	_, err = svc.ReverseBooking(ctx, "agm1", "CF-00001")
	require.NoError(t, err)
	assert.Equal(t, repository.BidPlaced, bidStatus(t, store, first.BidID))
	assert.Equal(t, repository.BidRejected, bidStatus(t, store, rejected.BidID), "reversal leaves rejected bids alone")
	assert.False(t, entryBooked(t, store, "CF-00001"))
}

func TestBookingService_ManualBookWithoutBids(t *testing.T) {
	svc, store, _ := newBookingService(t)
	closeEntry(t, svc, "bm_x", "X", "1000")

	_, err := svc.ManualBook(context.Background(), "ADMIN", "CF-00001")
	require.NoError(t, err)
	assert.True(t, entryBooked(t, store, "CF-00001"))
	assert.Empty(t, OpenEntries(load(t, store)))
}

func TestBookingService_ReverseUnbookedEntryConflicts(t *testing.T) {
	svc, _, _ := newBookingService(t)
	closeEntry(t, svc, "bm_x", "X", "1000")

	_, err := svc.ReverseBooking(context.Background(), "agm1", "CF-00001")
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))
}

func TestBookingService_AtMostOneWinnerAcrossOperations(t *testing.T) {
	svc, store, _ := newBookingService(t)
	ctx := context.Background()
	closeEntry(t, svc, "bm_x", "X", "1000")

	var bids []*repository.Bid
	for _, bidder := range []string{"alice", "bob", "alice"} {
		b, err := svc.PlaceBid(ctx, bidder, "CF-00001", decimal.Zero)
		require.NoError(t, err)
		bids = append(bids, b)
	}

	winners := func() int {
		n := 0
		for _, b := range load(t, store).BidsForEntry("CF-00001") {
			if b.Status.Winning() {
				n++
			}
		}
		return n
	}

	_, _ = svc.ApproveBid(ctx, "agm1", bids[0].BidID)
	_, _ = svc.ApproveBid(ctx, "agm1", bids[1].BidID)
	_, _ = svc.ManualBook(ctx, "agm1", "CF-00001")
	assert.Equal(t, 1, winners())

	_, err := svc.ReverseBooking(ctx, "agm1", "CF-00001")
	require.NoError(t, err)
	assert.Equal(t, 0, winners())

	_, err = svc.ApproveBid(ctx, "agm1", bids[2].BidID)
	require.NoError(t, err)
	_, _ = svc.ApproveBid(ctx, "agm1", bids[0].BidID)
	assert.Equal(t, 1, winners())
}

func TestBookingService_Permissions(t *testing.T) {
	svc, store, _ := newBookingService(t)
	ctx := context.Background()
	closeEntry(t, svc, "bm_x", "X", "1000")
	bid, err := svc.PlaceBid(ctx, "alice", "CF-00001", decimal.Zero)
	require.NoError(t, err)

	_, err = svc.PlaceBid(ctx, "staff_x", "CF-00001", decimal.Zero)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.CloseEntry(ctx, "am_north", CloseEntryInput{Branch: "X", Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrForbidden)

	// Sales AGM and branch managers are not the booking desk.
	for _, actor := range []string{"agm2", "bm_x", "am_north"} {
		_, err = svc.ApproveBid(ctx, actor, bid.BidID)
		assert.ErrorIs(t, err, ErrForbidden, actor)
		_, err = svc.ManualBook(ctx, actor, "CF-00001")
		assert.ErrorIs(t, err, ErrForbidden, actor)
		assert.ErrorIs(t, svc.DeleteEntry(ctx, actor, "CF-00001"), ErrForbidden, actor)
	}
	assert.Equal(t, repository.BidPlaced, bidStatus(t, store, bid.BidID))
	assert.False(t, entryBooked(t, store, "CF-00001"))
}

func TestBookingService_CloseEntryValidation(t *testing.T) {
	svc, _, _ := newBookingService(t)
	ctx := context.Background()

	_, err := svc.CloseEntry(ctx, "bm_x", CloseEntryInput{Branch: "X", Amount: decimal.Zero})
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))

	_, err = svc.CloseEntry(ctx, "bm_x", CloseEntryInput{Branch: "Z", Amount: decimal.NewFromInt(5)})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.PlaceBid(ctx, "alice", "CF-00404", decimal.Zero)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.PlaceBid(ctx, "alice", "CF-00404", decimal.NewFromInt(-1))
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))
}

func TestBookingService_ListEntriesAndBidsByRole(t *testing.T) {
	svc, _, _ := newBookingService(t)
	ctx := context.Background()
	closeEntry(t, svc, "bm_x", "X", "1000")
	closeEntry(t, svc, "bm_z", "Z", "2000")

	_, err := svc.PlaceBid(ctx, "alice", "CF-00002", decimal.Zero)
	require.NoError(t, err)
	_, err = svc.PlaceBid(ctx, "bob", "CF-00001", decimal.Zero)
	require.NoError(t, err)

	all, err := svc.ListEntries(ctx, "agm2", EntryFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	own, err := svc.ListEntries(ctx, "bm_x", EntryFilter{})
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, "X", own[0].Branch)

	none, err := svc.ListEntries(ctx, "staff_x", EntryFilter{})
	require.NoError(t, err)
	assert.Empty(t, none)

	booked := true
	bookedOnly, err := svc.ListEntries(ctx, "ADMIN", EntryFilter{Booked: &booked})
	require.NoError(t, err)
	assert.Empty(t, bookedOnly)

	scheme := decimal.RequireFromString("9.50")
	byScheme, err := svc.ListEntries(ctx, "ADMIN", EntryFilter{Scheme: &scheme})
	require.NoError(t, err)
	assert.Len(t, byScheme, 2)

	aliceBids, err := svc.ListBids(ctx, "alice", BidFilter{})
	require.NoError(t, err)
	require.Len(t, aliceBids, 1)
	assert.Equal(t, "CF-00002", aliceBids[0].EntryID)

	entryBids, err := svc.ListBids(ctx, "agm1", BidFilter{EntryID: "CF-00001"})
	require.NoError(t, err)
	require.Len(t, entryBids, 1)
	assert.Equal(t, "bob", entryBids[0].Bidder)

	staffBids, err := svc.ListBids(ctx, "staff_x", BidFilter{})
	require.NoError(t, err)
	assert.Empty(t, staffBids)
}

func TestBookingService_DeleteEntryRemovesBids(t *testing.T) {
	svc, store, _ := newBookingService(t)
	ctx := context.Background()
	closeEntry(t, svc, "bm_x", "X", "1000")
	closeEntry(t, svc, "bm_x", "X", "2000")
	_, err := svc.PlaceBid(ctx, "alice", "CF-00001", decimal.Zero)
	require.NoError(t, err)
	_, err = svc.PlaceBid(ctx, "bob", "CF-00002", decimal.Zero)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteEntry(ctx, "agm1", "CF-00001"))

	snap := load(t, store)
	_, ok := snap.FindCreditsFinEntry("CF-00001")
	assert.False(t, ok)
	assert.Empty(t, snap.BidsForEntry("CF-00001"))
	assert.Len(t, snap.BidsForEntry("CF-00002"), 1)

	assert.ErrorIs(t, svc.DeleteEntry(ctx, "agm1", "CF-00001"), ErrNotFound)
}

package service

import (
	"context"
	"testing"
	"time"

	"github.com/pesio-ai/be-crm-workflows/internal/common/errors"
	"github.com/pesio-ai/be-crm-workflows/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newInsuranceService(t *testing.T) (*InsuranceService, repository.EntityStore, *recordingPublisher, *MemoryReviewTracker) {
	t.Helper()
	store := newSeededStore(t)
	events := &recordingPublisher{}
	tracker := NewMemoryReviewTracker()
	svc := NewInsuranceService(store, NewApprovalMachine(fixedClock), tracker,
		ReviewGate{Cooldown: DefaultReviewCooldown}, events, testLogger())
	return svc, store, events, tracker
}

func sampleInsurance() SubmitInsuranceInput {
	return SubmitInsuranceInput{
		ApplicantName: "Meera",
		Age:           42,
		PhoneNumber:   "9876543210",
		AadharNumber:  "123412341234",
		Address:       "MG Road",
		InsuranceType: "Health",
		Premium:       decimal.RequireFromString("12500.00"),
	}
}

func TestInsuranceService_Submit(t *testing.T) {
	svc, _, events, _ := newInsuranceService(t)
	ctx := context.Background()

	app, err := svc.Submit(ctx, "staff_x", sampleInsurance())
	require.NoError(t, err)
	assert.Equal(t, "INS-0001", app.EntryID)
	assert.Equal(t, "INSC-00001", app.CustomerID)
	assert.Equal(t, "X", app.Branch, "defaults to the staff member's branch")
	assert.Equal(t, "staff_x", app.StaffID)
	assert.Equal(t, repository.StatusSubmitted, app.Status)
	assert.Equal(t, "2024-03-15 10:30:00", app.Timestamp)

	ev := events.last()
	assert.Equal(t, EventInsuranceSubmitted, ev.EventType)
	assert.Equal(t, []string{"bm_x"}, ev.Recipients)

	second, err := svc.Submit(ctx, "staff_x", sampleInsurance())
	require.NoError(t, err)
	assert.Equal(t, "INS-0002", second.EntryID)
	assert.Equal(t, "INSC-00002", second.CustomerID)
}

func TestInsuranceService_SubmitOutsideAssignedBranch(t *testing.T) {
	svc, _, _, _ := newInsuranceService(t)
	in := sampleInsurance()
	in.Branch = "Z"

	_, err := svc.Submit(context.Background(), "staff_x", in)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestInsuranceService_UnknownActor(t *testing.T) {
	svc, _, _, _ := newInsuranceService(t)
	_, err := svc.Submit(context.Background(), "ghost", sampleInsurance())
	assert.Equal(t, errors.ErrCodeUnauthorized, errors.CodeOf(err))
}

// INS-0001 at branch X: the branch manager of X approves, and an area manager
// without X cannot see the record even though its tier is next.
func TestInsuranceService_BranchManagerApprovalAndScopedVisibility(t *testing.T) {
	svc, store, events, _ := newInsuranceService(t)
	ctx := context.Background()

	_, err := svc.Submit(ctx, "staff_x", sampleInsurance())
	require.NoError(t, err)

	app, err := svc.Approve(ctx, "bm_x", "INS-0001")
	require.NoError(t, err)
	assert.Equal(t, repository.StatusBMApproved, app.Status)
	assert.Equal(t, "bm_x", app.ApprovedByBM)
	assert.Equal(t, "2024-03-15 10:30:00", app.BMApprovalTime)

	ev := events.last()
	assert.Equal(t, EventInsuranceApproved, ev.EventType)
	assert.Equal(t, []string{"am_north"}, ev.Recipients)

	snap := load(t, store)
	stored, ok := snap.FindInsurance("INS-0001")
	require.True(t, ok)
	assert.Equal(t, repository.StatusBMApproved, stored.Status)

	assert.Empty(t, FilterByRole(snap.InsuranceEntries, snap.Users, snap.Users["am_south"]))
	visible, err := svc.List(ctx, "am_south", InsuranceFilter{})
	require.NoError(t, err)
	assert.Empty(t, visible)

	_, err = svc.Get(ctx, "am_south", "INS-0001")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Approve(ctx, "am_south", "INS-0001")
	assert.ErrorIs(t, err, ErrAttemptedTransition)

	app, err = svc.Approve(ctx, "am_north", "INS-0001")
	require.NoError(t, err)
	assert.Equal(t, repository.StatusAMApproved, app.Status)
}

func TestInsuranceService_FailedApprovalPersistsNothing(t *testing.T) {
	svc, store, _, _ := newInsuranceService(t)
	ctx := context.Background()

	_, err := svc.Submit(ctx, "staff_x", sampleInsurance())
	require.NoError(t, err)

	_, err = svc.Approve(ctx, "am_north", "INS-0001")
	require.ErrorIs(t, err, ErrAttemptedTransition)

	stored, _ := load(t, store).FindInsurance("INS-0001")
	assert.Equal(t, repository.StatusSubmitted, stored.Status)
	assert.Empty(t, stored.ApprovedByAM)

	_, err = svc.Approve(ctx, "bm_x", "INS-0404")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInsuranceService_RejectNotifiesSubmitter(t *testing.T) {
	svc, _, events, _ := newInsuranceService(t)
	ctx := context.Background()

	_, err := svc.Submit(ctx, "staff_x", sampleInsurance())
	require.NoError(t, err)

	_, err = svc.Reject(ctx, "bm_x", "INS-0001", "")
	assert.ErrorIs(t, err, ErrMissingReason)

	app, err := svc.Reject(ctx, "bm_x", "INS-0001", "age mismatch")
	require.NoError(t, err)
	assert.Equal(t, repository.StatusRejected, app.Status)
	assert.Equal(t, "age mismatch", app.RejectionReason)

	ev := events.last()
	assert.Equal(t, EventInsuranceRejected, ev.EventType)
	assert.Equal(t, []string{"staff_x"}, ev.Recipients)

	_, err = svc.Reject(ctx, "ADMIN", "INS-0001", "again")
	assert.ErrorIs(t, err, ErrAttemptedTransition)
}

func TestInsuranceService_OpenTracksCooldown(t *testing.T) {
	svc, _, _, tracker := newInsuranceService(t)
	ctx := context.Background()

	_, err := svc.Submit(ctx, "staff_x", sampleInsurance())
	require.NoError(t, err)

	rs, err := svc.Open(ctx, "bm_x", "INS-0001")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, rs.Remaining)
	assert.True(t, rs.CanAct)
	assert.Equal(t, string(repository.StatusSubmitted), rs.Status)

	rs, err = svc.Open(ctx, "am_north", "INS-0001")
	require.NoError(t, err)
	assert.False(t, rs.CanAct, "area manager is not the current tier")

	_, err = svc.Open(ctx, "bm_z", "INS-0001")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Approve(ctx, "bm_x", "INS-0001")
	require.NoError(t, err)
	tracker.mu.Lock()
	_, tracked := tracker.first[reviewKey{approverID: "bm_x", recordID: "INS-0001"}]
	tracker.mu.Unlock()
	assert.False(t, tracked, "review start is cleared after acting")
}

func TestInsuranceService_Delete(t *testing.T) {
	svc, store, _, _ := newInsuranceService(t)
	ctx := context.Background()

	_, err := svc.Submit(ctx, "staff_x", sampleInsurance())
	require.NoError(t, err)
	_, err = svc.Submit(ctx, "staff_x", sampleInsurance())
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Delete(ctx, "bm_x", "INS-0001"), ErrForbidden)

	require.NoError(t, svc.Delete(ctx, "staff_x", "INS-0001"))
	_, ok := load(t, store).FindInsurance("INS-0001")
	assert.False(t, ok)

	_, err = svc.Approve(ctx, "bm_x", "INS-0002")
	require.NoError(t, err)
	err = svc.Delete(ctx, "staff_x", "INS-0002")
	assert.ErrorIs(t, err, ErrAttemptedTransition)

	assert.ErrorIs(t, svc.Delete(ctx, "ADMIN", "INS-0404"), ErrNotFound)
}

func TestInsuranceService_ListNewestFirstWithStatusFilter(t *testing.T) {
	svc, _, _, _ := newInsuranceService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Submit(ctx, "staff_x", sampleInsurance())
		require.NoError(t, err)
	}
	_, err := svc.Approve(ctx, "bm_x", "INS-0002")
	require.NoError(t, err)

	all, err := svc.List(ctx, "staff_x", InsuranceFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "INS-0003", all[0].EntryID)

	pending, err := svc.List(ctx, "bm_x", InsuranceFilter{Status: repository.StatusSubmitted})
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "INS-0003", pending[0].EntryID)
	assert.Equal(t, "INS-0001", pending[1].EntryID)
}

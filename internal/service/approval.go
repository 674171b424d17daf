package service

import (
	"strings"
	"time"

	"github.com/pesio-ai/be-crm-workflows/internal/common/errors"
	"github.com/pesio-ai/be-crm-workflows/internal/repository"
)

// Reviewable is a record that moves through the three-tier approval chain.
type Reviewable interface {
	Scoped
	RecordID() string
	Trail() *repository.Approval
}

// tier is one step of the chain: the role allowed to act on a record in
// status from, the status it advances the record to, and the approver stamp
// it owns.
type tier struct {
	role  repository.Role
	to    repository.ApprovalStatus
	stamp func(a *repository.Approval) (by, at *string)
}

var tiers = map[repository.ApprovalStatus]tier{
	repository.StatusSubmitted: {
		role:  repository.RoleBranchManager,
		to:    repository.StatusBMApproved,
		stamp: func(a *repository.Approval) (*string, *string) { return &a.ApprovedByBM, &a.BMApprovalTime },
	},
	repository.StatusBMApproved: {
		role:  repository.RoleAreaManager,
		to:    repository.StatusAMApproved,
		stamp: func(a *repository.Approval) (*string, *string) { return &a.ApprovedByAM, &a.AMApprovalTime },
	},
	repository.StatusAMApproved: {
		role:  repository.RoleAGM,
		to:    repository.StatusAGMApproved,
		stamp: func(a *repository.Approval) (*string, *string) { return &a.ApprovedByAGM, &a.AGMApprovalTime },
	},
}

// NextTier returns the role that may advance a record in status, or false
// when the status is terminal or unknown.
func NextTier(status repository.ApprovalStatus) (repository.Role, bool) {
	t, ok := tiers[status]
	return t.role, ok
}

// ApprovalMachine applies approve and reject transitions to a Reviewable in
// memory. It never persists; callers run it inside EntityStore.Update so a
// failed transition leaves nothing behind.
type ApprovalMachine struct {
	now func() time.Time
}

// NewApprovalMachine creates a machine stamping times from now.
func NewApprovalMachine(now func() time.Time) *ApprovalMachine {
	if now == nil {
		now = time.Now
	}
	return &ApprovalMachine{now: now}
}

// CanAdvance reports whether actor is the tier currently allowed to advance
// rec with rec's branch in its visible set.
func (m *ApprovalMachine) CanAdvance(rec Reviewable, users map[string]*repository.User, actor *repository.User) bool {
	t, ok := tiers[rec.Trail().Status]
	if !ok || actor == nil || actor.Role != t.role {
		return false
	}
	return VisibleBranches(users, actor).Contains(rec.BranchName())
}

// Advance moves rec one tier forward and stamps actor and the current time
// for that tier. Stamps from earlier tiers are left as they are; a record
// already stamped for the tier it has not yet passed is refused.
func (m *ApprovalMachine) Advance(rec Reviewable, users map[string]*repository.User, actor *repository.User) error {
	trail := rec.Trail()
	if trail.Status.Terminal() {
		return attemptedTransition(errors.ErrCodeConflict,
			"%s is already %s", rec.RecordID(), trail.Status)
	}
	t, ok := tiers[trail.Status]
	if !ok {
		return attemptedTransition(errors.ErrCodeConflict,
			"%s has unknown status %q", rec.RecordID(), trail.Status)
	}
	if actor == nil || actor.Role != t.role {
		return attemptedTransition(errors.ErrCodeForbidden,
			"%s in status %s must be approved by %s", rec.RecordID(), trail.Status, t.role)
	}
	if !VisibleBranches(users, actor).Contains(rec.BranchName()) {
		return attemptedTransition(errors.ErrCodeForbidden,
			"branch %s is outside %s's scope", rec.BranchName(), actor.Username)
	}

	by, at := t.stamp(trail)
	if *by != "" || *at != "" {
		return attemptedTransition(errors.ErrCodeConflict,
			"%s already carries a %s approval by %q", rec.RecordID(), t.role, *by)
	}
	*by, *at = actor.Username, repository.FormatTimestamp(m.now())
	trail.Status = t.to
	return nil
}

// Reject moves a non-terminal rec to rejected. The tier that could advance
// rec and admin may reject; reason must not be blank.
func (m *ApprovalMachine) Reject(rec Reviewable, users map[string]*repository.User, actor *repository.User, reason string) error {
	trail := rec.Trail()
	if trail.Status.Terminal() {
		return attemptedTransition(errors.ErrCodeConflict,
			"%s is already %s", rec.RecordID(), trail.Status)
	}
	if _, ok := tiers[trail.Status]; !ok {
		return attemptedTransition(errors.ErrCodeConflict,
			"%s has unknown status %q", rec.RecordID(), trail.Status)
	}
	if actor == nil || (actor.Role != repository.RoleAdmin && !m.CanAdvance(rec, users, actor)) {
		return attemptedTransition(errors.ErrCodeForbidden,
			"%s cannot reject %s in status %s", actorName(actor), rec.RecordID(), trail.Status)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return missingReason()
	}

	trail.Status = repository.StatusRejected
	trail.RejectionReason = reason
	trail.RejectedBy = actor.Username
	trail.RejectedAt = repository.FormatTimestamp(m.now())
	return nil
}

// Reviewers lists the users who should act on rec next: the holders of the
// next tier who can see its branch. Terminal records have none.
func Reviewers(rec Reviewable, users map[string]*repository.User) []string {
	t, ok := tiers[rec.Trail().Status]
	if !ok {
		return nil
	}
	var out []string
	for _, u := range users {
		if u.Role == t.role && VisibleBranches(users, u).Contains(rec.BranchName()) {
			out = append(out, u.Username)
		}
	}
	return sortedStrings(out)
}

func actorName(u *repository.User) string {
	if u == nil {
		return "anonymous"
	}
	return u.Username
}

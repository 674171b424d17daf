package service

import (
	"context"
	"time"

	"github.com/pesio-ai/be-crm-workflows/internal/common/logger"
	"github.com/pesio-ai/be-crm-workflows/internal/repository"
)

// ReviewStatus is returned when an approver opens a record.
type ReviewStatus struct {
	RecordID  string        `json:"record_id"`
	Status    string        `json:"status"`
	FirstSeen time.Time     `json:"first_seen"`
	Remaining time.Duration `json:"remaining"`
	CanAct    bool          `json:"can_act"`
}

// reviewFlow runs the approval machine for one collection. InsuranceService
// and LeadService each own one.
type reviewFlow struct {
	store    repository.EntityStore
	machine  *ApprovalMachine
	tracker  ReviewTracker
	gate     ReviewGate
	events   EventPublisher
	log      *logger.Logger
	resource string
	find     func(snap *repository.Snapshot, id string) (Reviewable, bool)

	approvedEvent string
	rejectedEvent string
}

// visible loads id for actor; a record outside actor's scope is reported as
// missing.
func (f *reviewFlow) visible(snap *repository.Snapshot, actor *repository.User, id string) (Reviewable, error) {
	rec, ok := f.find(snap, id)
	if !ok || len(FilterByRole([]Reviewable{rec}, snap.Users, actor)) == 0 {
		return nil, notFound(f.resource, id)
	}
	return rec, nil
}

func (f *reviewFlow) open(ctx context.Context, actorID, id string) (*ReviewStatus, error) {
	snap, err := f.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	actor, err := resolveActor(snap, actorID)
	if err != nil {
		return nil, err
	}
	rec, err := f.visible(snap, actor, id)
	if err != nil {
		return nil, err
	}

	now := f.machine.now()
	rc, err := f.tracker.Open(ctx, actor.Username, id, now)
	if err != nil {
		return nil, err
	}

	status := rec.Trail().Status
	return &ReviewStatus{
		RecordID:  id,
		Status:    string(status),
		FirstSeen: rc.FirstSeen,
		Remaining: f.gate.Remaining(rc, now),
		CanAct:    f.machine.CanAdvance(rec, snap.Users, actor) || (isAdmin(actor) && !status.Terminal()),
	}, nil
}

func (f *reviewFlow) approve(ctx context.Context, actorID, id string) (Reviewable, error) {
	var (
		rec        Reviewable
		recipients []string
	)
	err := f.store.Update(ctx, func(snap *repository.Snapshot) error {
		actor, err := resolveActor(snap, actorID)
		if err != nil {
			return err
		}
		r, ok := f.find(snap, id)
		if !ok {
			return notFound(f.resource, id)
		}
		if err := f.machine.Advance(r, snap.Users, actor); err != nil {
			return err
		}
		rec = r
		if r.Trail().Status.Terminal() {
			recipients = ownerRecipients(r)
		} else {
			recipients = Reviewers(r, snap.Users)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	f.clearReview(ctx, actorID, id)
	f.events.PublishCRMEvent(ctx, f.approvedEvent, f.resource, id, actorID, recipients,
		map[string]interface{}{"status": string(rec.Trail().Status), "branch": rec.BranchName()})

	f.log.Info().
		Str(f.resource+"_id", id).
		Str("approved_by", actorID).
		Str("status", string(rec.Trail().Status)).
		Msg("Record approved")
	return rec, nil
}

func (f *reviewFlow) reject(ctx context.Context, actorID, id, reason string) (Reviewable, error) {
	var rec Reviewable
	err := f.store.Update(ctx, func(snap *repository.Snapshot) error {
		actor, err := resolveActor(snap, actorID)
		if err != nil {
			return err
		}
		r, ok := f.find(snap, id)
		if !ok {
			return notFound(f.resource, id)
		}
		if err := f.machine.Reject(r, snap.Users, actor, reason); err != nil {
			return err
		}
		rec = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	f.clearReview(ctx, actorID, id)
	f.events.PublishCRMEvent(ctx, f.rejectedEvent, f.resource, id, actorID, ownerRecipients(rec),
		map[string]interface{}{"reason": rec.Trail().RejectionReason, "branch": rec.BranchName()})

	f.log.Info().
		Str(f.resource+"_id", id).
		Str("rejected_by", actorID).
		Msg("Record rejected")
	return rec, nil
}

func (f *reviewFlow) clearReview(ctx context.Context, actorID, id string) {
	if err := f.tracker.Clear(ctx, actorID, id); err != nil {
		f.log.Warn().Err(err).Str(f.resource+"_id", id).Msg("Could not clear review start")
	}
}

func ownerRecipients(rec Scoped) []string {
	if owner := rec.OwnerID(); owner != "" {
		return []string{owner}
	}
	return nil
}

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

// InsuranceService handles insurance applications from submission through the
// three approval tiers.
type InsuranceService struct {
	store  repository.EntityStore
	flow   *reviewFlow
	events EventPublisher
	log    *logger.Logger
}

// NewInsuranceService creates a new InsuranceService.
func NewInsuranceService(
	store repository.EntityStore,
	machine *ApprovalMachine,
	tracker ReviewTracker,
	gate ReviewGate,
	events EventPublisher,
	log *logger.Logger,
) *InsuranceService {
	events = publisherOrNop(events)
	return &InsuranceService{
		store:  store,
		events: events,
		log:    log,
		flow: &reviewFlow{
			store:    store,
			machine:  machine,
			tracker:  tracker,
			gate:     gate,
			events:   events,
			log:      log,
			resource: "insurance_application",
			find: func(snap *repository.Snapshot, id string) (Reviewable, bool) {
				e, ok := snap.FindInsurance(id)
				return e, ok
			},
			approvedEvent: EventInsuranceApproved,
			rejectedEvent: EventInsuranceRejected,
		},
	}
}

// SubmitInsuranceInput is a validated application from the intake form.
type SubmitInsuranceInput struct {
	Branch          string
	StaffName       string
	ApplicantName   string
	Age             int
	PhoneNumber     string
	AadharNumber    string
	AadharPhotoPath string
	Address         string
	InsuranceType   string
	Premium         decimal.Decimal
}

// InsuranceFilter narrows List. Zero values match everything.
type InsuranceFilter struct {
	Status repository.ApprovalStatus
	Branch string
}

// ── Submit ────────────────────────────────────────────────────────────────────

// Submit records a new application in status submitted with fresh entry and
// customer ids. Branch users may only submit for a branch assigned to them;
// an empty branch defaults to their first one.
func (s *InsuranceService) Submit(ctx context.Context, actorID string, in SubmitInsuranceInput) (*repository.InsuranceApplication, error) {
	var app *repository.InsuranceApplication
	var recipients []string

	err := s.store.Update(ctx, func(snap *repository.Snapshot) error {
		actor, err := resolveActor(snap, actorID)
		if err != nil {
			return err
		}
		branch, err := submissionBranch(actor, in.Branch)
		if err != nil {
			return err
		}

		staffName := strings.TrimSpace(in.StaffName)
		if staffName == "" {
			staffName = actor.Username
		}

		app = &repository.InsuranceApplication{
			EntryID: sequence.Next(sequence.InsuranceEntry, snap.InsuranceEntries,
				func(e *repository.InsuranceApplication) string { return e.EntryID }),
			CustomerID: sequence.Next(sequence.InsuranceCustomer, snap.InsuranceEntries,
				func(e *repository.InsuranceApplication) string { return e.CustomerID }),
			StaffID:         actor.Username,
			StaffName:       staffName,
			Branch:          branch,
			ApplicantName:   in.ApplicantName,
			Age:             in.Age,
			PhoneNumber:     in.PhoneNumber,
			AadharNumber:    in.AadharNumber,
			AadharPhotoPath: in.AadharPhotoPath,
			Address:         in.Address,
			InsuranceType:   in.InsuranceType,
			Premium:         in.Premium,
			Timestamp:       repository.FormatTimestamp(s.flow.machine.now()),
			Approval:        repository.Approval{Status: repository.StatusSubmitted},
		}
		snap.InsuranceEntries = append(snap.InsuranceEntries, app)
		recipients = Reviewers(app, snap.Users)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.events.PublishCRMEvent(ctx, EventInsuranceSubmitted, "insurance_application", app.EntryID, actorID, recipients,
		map[string]interface{}{"branch": app.Branch, "applicant_name": app.ApplicantName})

	s.log.Info().
		Str("entry_id", app.EntryID).
		Str("customer_id", app.CustomerID).
		Str("branch", app.Branch).
		Str("staff_id", app.StaffID).
		Msg("Insurance application submitted")

	return app, nil
}

// submissionBranch resolves the branch a record is filed under for actor.
func submissionBranch(actor *repository.User, requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	if isAdmin(actor) {
		if requested == "" {
			return "", errors.InvalidInput("branch", "required")
		}
		return requested, nil
	}
	if requested == "" {
		if len(actor.AssignedBranches) == 0 {
			return "", errors.InvalidInput("branch", "user has no assigned branch")
		}
		return actor.AssignedBranches[0], nil
	}
	if !contains(actor.AssignedBranches, requested) {
		return "", forbidden("%s is not assigned to branch %s", actor.Username, requested)
	}
	return requested, nil
}

// ── Read ──────────────────────────────────────────────────────────────────────

// Get returns one application if actor can see it.
func (s *InsuranceService) Get(ctx context.Context, actorID, entryID string) (*repository.InsuranceApplication, error) {
	snap, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	actor, err := resolveActor(snap, actorID)
	if err != nil {
		return nil, err
	}
	rec, err := s.flow.visible(snap, actor, entryID)
	if err != nil {
		return nil, err
	}
	return rec.(*repository.InsuranceApplication), nil
}

// List returns the applications visible to actor, newest first.
func (s *InsuranceService) List(ctx context.Context, actorID string, f InsuranceFilter) ([]*repository.InsuranceApplication, error) {
	snap, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	actor, err := resolveActor(snap, actorID)
	if err != nil {
		return nil, err
	}

	visible := FilterByRole(snap.InsuranceEntries, snap.Users, actor)
	out := make([]*repository.InsuranceApplication, 0, len(visible))
	for i := len(visible) - 1; i >= 0; i-- {
		e := visible[i]
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		if f.Branch != "" && e.Branch != f.Branch {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// ── Review ────────────────────────────────────────────────────────────────────

// Open records when actor first opened the application and reports how much
// of the review cool-down is left.
func (s *InsuranceService) Open(ctx context.Context, actorID, entryID string) (*ReviewStatus, error) {
	return s.flow.open(ctx, actorID, entryID)
}

// Approve advances the application one tier.
func (s *InsuranceService) Approve(ctx context.Context, actorID, entryID string) (*repository.InsuranceApplication, error) {
	rec, err := s.flow.approve(ctx, actorID, entryID)
	if err != nil {
		return nil, err
	}
	return rec.(*repository.InsuranceApplication), nil
}

// Reject moves the application to rejected with reason.
func (s *InsuranceService) Reject(ctx context.Context, actorID, entryID, reason string) (*repository.InsuranceApplication, error) {
	rec, err := s.flow.reject(ctx, actorID, entryID, reason)
	if err != nil {
		return nil, err
	}
	return rec.(*repository.InsuranceApplication), nil
}

// ── Delete ────────────────────────────────────────────────────────────────────

// Delete removes an application that nobody has acted on yet. Only the
// submitting staff member or admin may delete.
func (s *InsuranceService) Delete(ctx context.Context, actorID, entryID string) error {
	err := s.store.Update(ctx, func(snap *repository.Snapshot) error {
		actor, err := resolveActor(snap, actorID)
		if err != nil {
			return err
		}
		for i, e := range snap.InsuranceEntries {
			if e.EntryID != entryID {
				continue
			}
			if !isAdmin(actor) && e.StaffID != actor.Username {
				return forbidden("%s cannot delete %s", actor.Username, entryID)
			}
			if e.Status != repository.StatusSubmitted {
				return attemptedTransition(errors.ErrCodeConflict,
					"%s is %s and can no longer be deleted", entryID, e.Status)
			}
			snap.InsuranceEntries = append(snap.InsuranceEntries[:i], snap.InsuranceEntries[i+1:]...)
			return nil
		}
		return notFound("insurance_application", entryID)
	})
	if err != nil {
		return err
	}

	s.log.Info().Str("entry_id", entryID).Str("deleted_by", actorID).Msg("Insurance application deleted")
	return nil
}

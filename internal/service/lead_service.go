package service

import (
	"context"
	"strconv"
	"strings"

	"github.com/pesio-ai/be-crm-workflows/internal/common/errors"
	"github.com/pesio-ai/be-crm-workflows/internal/common/logger"
	"github.com/pesio-ai/be-crm-workflows/internal/repository"
	"github.com/pesio-ai/be-crm-workflows/internal/sequence"
)

// LeadService owns both lead collections: system leads, which go through
// the approval chain, and customer leads, which are followed up until
// converted.
type LeadService struct {
	store  repository.EntityStore
	flow   *reviewFlow
	events EventPublisher
	log    *logger.Logger
}

// NewLeadService creates a new LeadService.
func NewLeadService(
	store repository.EntityStore,
	machine *ApprovalMachine,
	tracker ReviewTracker,
	gate ReviewGate,
	events EventPublisher,
	log *logger.Logger,
) *LeadService {
	events = publisherOrNop(events)
	return &LeadService{
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
			resource: "lead",
			find: func(snap *repository.Snapshot, id string) (Reviewable, bool) {
				l, ok := snap.FindLead(id)
				return l, ok
			},
			approvedEvent: EventLeadApproved,
			rejectedEvent: EventLeadRejected,
		},
	}
}

func (s *LeadService) today() string {
	return s.flow.machine.now().Format(repository.DateLayout)
}

// ── System leads ──────────────────────────────────────────────────────────────

// SubmitLeadInput is a validated system lead.
type SubmitLeadInput struct {
	Branch       string
	CustomerID   string
	CustomerName string
	PhoneNumber  string
	Product      string
	Description  string
}

// Submit files a system lead in status submitted.
func (s *LeadService) Submit(ctx context.Context, actorID string, in SubmitLeadInput) (*repository.Lead, error) {
	var (
		lead       *repository.Lead
		recipients []string
	)
	err := s.store.Update(ctx, func(snap *repository.Snapshot) error {
		actor, err := resolveActor(snap, actorID)
		if err != nil {
			return err
		}
		branch, err := submissionBranch(actor, in.Branch)
		if err != nil {
			return err
		}
		department := actor.Department
		if department == "" {
			department = repository.DepartmentInsurance
		}

		lead = &repository.Lead{
			LeadID: sequence.Next(sequence.Lead, snap.Leads,
				func(l *repository.Lead) string { return l.LeadID }),
			CustomerID:   in.CustomerID,
			SubmittedBy:  actor.Username,
			StaffName:    actor.Username,
			Branch:       branch,
			Department:   department,
			CustomerName: in.CustomerName,
			PhoneNumber:  in.PhoneNumber,
			Product:      in.Product,
			Description:  in.Description,
			Timestamp:    repository.FormatTimestamp(s.flow.machine.now()),
			Approval:     repository.Approval{Status: repository.StatusSubmitted},
		}
		snap.Leads = append(snap.Leads, lead)
		recipients = Reviewers(lead, snap.Users)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.events.PublishCRMEvent(ctx, EventLeadSubmitted, "lead", lead.LeadID, actorID, recipients,
		map[string]interface{}{"branch": lead.Branch, "customer_name": lead.CustomerName})
	s.log.Info().Str("lead_id", lead.LeadID).Str("branch", lead.Branch).Msg("Lead submitted")
	return lead, nil
}

// List returns the system leads visible to actor, optionally by status.
func (s *LeadService) List(ctx context.Context, actorID string, status repository.ApprovalStatus) ([]*repository.Lead, error) {
	snap, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	actor, err := resolveActor(snap, actorID)
	if err != nil {
		return nil, err
	}
	visible := FilterByRole([]*repository.Lead(snap.Leads), snap.Users, actor)
	if status == "" {
		return visible, nil
	}
	out := visible[:0]
	for _, l := range visible {
		if l.Status == status {
			out = append(out, l)
		}
	}
	return out, nil
}

// Open starts (or resumes) actor's review of a system lead.
func (s *LeadService) Open(ctx context.Context, actorID, leadID string) (*ReviewStatus, error) {
	return s.flow.open(ctx, actorID, leadID)
}

// Approve advances a system lead one tier.
func (s *LeadService) Approve(ctx context.Context, actorID, leadID string) (*repository.Lead, error) {
	rec, err := s.flow.approve(ctx, actorID, leadID)
	if err != nil {
		return nil, err
	}
	return rec.(*repository.Lead), nil
}

// Reject moves a system lead to rejected with reason.
func (s *LeadService) Reject(ctx context.Context, actorID, leadID, reason string) (*repository.Lead, error) {
	rec, err := s.flow.reject(ctx, actorID, leadID, reason)
	if err != nil {
		return nil, err
	}
	return rec.(*repository.Lead), nil
}

// ── Customer leads ────────────────────────────────────────────────────────────

const customerLeadActive = "active"

// CreateCustomerLeadInput is a validated field-sales lead.
type CreateCustomerLeadInput struct {
	Branch       string
	Location     string
	LocationURL  string
	GPSLat       *float64
	GPSLon       *float64
	LeadType     repository.LeadType
	CustomerName string
	Job          string
	PhoneNumber  string
	Product      string
	Description  string
}

// CustomerLeadFilter narrows ListCustomerLeads.
type CustomerLeadFilter struct {
	LeadType  repository.LeadType
	Converted *bool
}

// CreateCustomerLead records a new active lead owned by actor.
func (s *LeadService) CreateCustomerLead(ctx context.Context, actorID string, in CreateCustomerLeadInput) (*repository.CustomerLead, error) {
	if !in.LeadType.Valid() {
		return nil, errors.InvalidInput("lead_type", "must be HOT, WARM or COOL")
	}

	var lead *repository.CustomerLead
	err := s.store.Update(ctx, func(snap *repository.Snapshot) error {
		actor, err := resolveActor(snap, actorID)
		if err != nil {
			return err
		}
		branch, err := submissionBranch(actor, in.Branch)
		if err != nil {
			return err
		}

		lead = &repository.CustomerLead{
			LeadID: sequence.Next(sequence.Lead, snap.CustomerLeads,
				func(l *repository.CustomerLead) string { return l.LeadID }),
			Timestamp:    repository.FormatTimestamp(s.flow.machine.now()),
			StaffName:    actor.Username,
			Branch:       branch,
			Department:   actor.Department,
			Location:     in.Location,
			LocationURL:  in.LocationURL,
			GPSLat:       in.GPSLat,
			GPSLon:       in.GPSLon,
			LeadType:     in.LeadType,
			CustomerName: in.CustomerName,
			Job:          in.Job,
			PhoneNumber:  in.PhoneNumber,
			Product:      in.Product,
			Description:  in.Description,
			Status:       customerLeadActive,
			LastFollowup: s.today(),
		}
		snap.CustomerLeads = append(snap.CustomerLeads, lead)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("lead_id", lead.LeadID).
		Str("lead_type", string(lead.LeadType)).
		Str("staff_name", lead.StaffName).
		Msg("Customer lead created")
	return lead, nil
}

// ListCustomerLeads returns the customer leads visible to actor.
func (s *LeadService) ListCustomerLeads(ctx context.Context, actorID string, f CustomerLeadFilter) ([]*repository.CustomerLead, error) {
	snap, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	actor, err := resolveActor(snap, actorID)
	if err != nil {
		return nil, err
	}
	visible := FilterByRole(snap.CustomerLeads, snap.Users, actor)
	out := make([]*repository.CustomerLead, 0, len(visible))
	for _, l := range visible {
		if f.LeadType != "" && l.LeadType != f.LeadType {
			continue
		}
		if f.Converted != nil && l.Converted != *f.Converted {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

// Followup re-grades an unconverted lead and counts the follow-up.
func (s *LeadService) Followup(ctx context.Context, actorID, leadID string, leadType repository.LeadType, description string) (*repository.CustomerLead, error) {
	if !leadType.Valid() {
		return nil, errors.InvalidInput("lead_type", "must be HOT, WARM or COOL")
	}

	var lead *repository.CustomerLead
	err := s.store.Update(ctx, func(snap *repository.Snapshot) error {
		l, err := s.ownedCustomerLead(snap, actorID, leadID)
		if err != nil {
			return err
		}
		if l.Converted {
			return attemptedTransition(errors.ErrCodeConflict, "%s is already converted", leadID)
		}
		l.LeadType = leadType
		l.Description = description
		l.LastFollowup = s.today()
		l.FollowupCount++
		lead = l
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("lead_id", leadID).
		Int("followup_count", lead.FollowupCount).
		Msg("Customer lead followed up")
	return lead, nil
}

// Convert marks the lead converted under a numeric customer id. After this
// the lead accepts no further follow-ups.
func (s *LeadService) Convert(ctx context.Context, actorID, leadID, customerID string) (*repository.CustomerLead, error) {
	customerID = strings.TrimSpace(customerID)
	if _, err := strconv.ParseUint(customerID, 10, 64); err != nil {
		return nil, errors.InvalidInput("customer_id", "must be numeric")
	}

	var lead *repository.CustomerLead
	err := s.store.Update(ctx, func(snap *repository.Snapshot) error {
		l, err := s.ownedCustomerLead(snap, actorID, leadID)
		if err != nil {
			return err
		}
		if l.Converted {
			return attemptedTransition(errors.ErrCodeConflict, "%s is already converted", leadID)
		}
		l.Converted = true
		l.CustomerID = &customerID
		l.ConversionDate = s.today()
		lead = l
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("lead_id", leadID).Str("customer_id", customerID).Msg("Customer lead converted")
	return lead, nil
}

// DeleteCustomerLead removes a lead; owner or admin only.
func (s *LeadService) DeleteCustomerLead(ctx context.Context, actorID, leadID string) error {
	err := s.store.Update(ctx, func(snap *repository.Snapshot) error {
		if _, err := s.ownedCustomerLead(snap, actorID, leadID); err != nil {
			return err
		}
		for i, l := range snap.CustomerLeads {
			if l.LeadID == leadID {
				snap.CustomerLeads = append(snap.CustomerLeads[:i], snap.CustomerLeads[i+1:]...)
				break
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Info().Str("lead_id", leadID).Str("deleted_by", actorID).Msg("Customer lead deleted")
	return nil
}

func (s *LeadService) ownedCustomerLead(snap *repository.Snapshot, actorID, leadID string) (*repository.CustomerLead, error) {
	actor, err := resolveActor(snap, actorID)
	if err != nil {
		return nil, err
	}
	l, ok := snap.FindCustomerLead(leadID)
	if !ok {
		return nil, notFound("customer_lead", leadID)
	}
	if !isAdmin(actor) && l.StaffName != actor.Username {
		return nil, forbidden("%s does not own %s", actor.Username, leadID)
	}
	return l, nil
}

package service

import "context"

// Event types published after a committed change. The publisher prefixes
// them with notifications.crm.
const (
	EventInsuranceSubmitted = "insurance_submitted"
	EventInsuranceApproved  = "insurance_approved"
	EventInsuranceRejected  = "insurance_rejected"
	EventLeadSubmitted      = "lead_submitted"
	EventLeadApproved       = "lead_approved"
	EventLeadRejected       = "lead_rejected"
	EventBidPlaced          = "bid_placed"
	EventBidApproved        = "bid_approved"
	EventBidRejected        = "bid_rejected"
	EventEntryBooked        = "entry_booked"
	EventBookingReversed    = "booking_reversed"
)

// EventPublisher delivers workflow notifications. Implementations must not
// fail the caller: delivery problems are theirs to log.
type EventPublisher interface {
	PublishCRMEvent(ctx context.Context, eventType, resourceType, resourceID, actorID string, recipients []string, payload map[string]interface{})
}

type nopPublisher struct{}

func (nopPublisher) PublishCRMEvent(context.Context, string, string, string, string, []string, map[string]interface{}) {
}

func publisherOrNop(p EventPublisher) EventPublisher {
	if p == nil {
		return nopPublisher{}
	}
	return p
}

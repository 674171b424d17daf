package service

import (
	stderrors "errors"
	"fmt"

	"github.com/pesio-ai/be-crm-workflows/internal/common/errors"
	"github.com/pesio-ai/be-crm-workflows/internal/repository"
)

// Domain error sentinels. Operations return them wrapped in an AppError whose
// code the transports map to a status; match with errors.Is.
var (
	ErrStorage             = repository.ErrStorage
	ErrAttemptedTransition = stderrors.New("attempted transition not allowed")
	ErrMissingReason       = stderrors.New("rejection reason is required")
	ErrBidNotPending       = stderrors.New("bid is not pending")
	ErrEntryNotOpen        = stderrors.New("entry is not open for bidding")
	ErrNotFound            = stderrors.New("not found")
	ErrForbidden           = stderrors.New("action not permitted for this user")
)

func attemptedTransition(code errors.ErrorCode, format string, args ...interface{}) error {
	return errors.Wrap(ErrAttemptedTransition, code, fmt.Sprintf(format, args...))
}

func missingReason() error {
	return errors.Wrap(ErrMissingReason, errors.ErrCodeInvalidInput, "a rejection reason must be provided")
}

func bidNotPending(bidID string, status repository.BidStatus) error {
	return errors.Wrap(ErrBidNotPending, errors.ErrCodeConflict,
		fmt.Sprintf("bid %s is %s, not %s", bidID, status, repository.BidPlaced))
}

func entryNotOpen(entryID, why string) error {
	return errors.Wrap(ErrEntryNotOpen, errors.ErrCodeConflict,
		fmt.Sprintf("entry %s is not open: %s", entryID, why))
}

func notFound(resource, id string) error {
	e := errors.NotFound(resource, id)
	e.Err = ErrNotFound
	return e
}

func forbidden(format string, args ...interface{}) error {
	return errors.Wrap(ErrForbidden, errors.ErrCodeForbidden, fmt.Sprintf(format, args...))
}

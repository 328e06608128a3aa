package fulfillment

import (
	"errors"
	"fmt"
)

var (
	// Validation
	ErrInvalidWindow = errors.New("window must be in the future with a positive duration")
	ErrInvalidRating = errors.New("rating must be between 1 and 5")
	ErrEmptyPackage  = errors.New("package has no tasks")
	ErrInvalidReport = errors.New("invalid nursing report")

	// Not found
	ErrServiceNotFound       = errors.New("service not found")
	ErrNurseNotFound         = errors.New("nurse not found")
	ErrAppointmentNotFound   = errors.New("appointment not found")
	ErrAssignmentNotFound    = errors.New("no active assignment")
	ErrPackageNotFound       = errors.New("customer package not found")
	ErrTaskNotFound          = errors.New("task not found")
	ErrMedicalRecordNotFound = errors.New("medical record not found")
	ErrFeedbackNotFound      = errors.New("feedback not found")

	// Conflict
	ErrNurseNoLongerAvailable = errors.New("nurse no longer available for this window")
	ErrNurseBeingAssigned     = errors.New("nurse is currently being assigned, please retry")
	ErrAssignmentLocked       = errors.New("appointment already in progress, reassignment not permitted")
	ErrOutOfOrderCompletion   = errors.New("task is not the next eligible task")
	ErrFeedbackAlreadyExists  = errors.New("feedback already submitted for this record")
)

// PersistenceError marks a durable write that did not complete. No local state
// has advanced past what was committed; the caller may retry.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: durable write failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindPersistence
)

// Classify buckets an error into the taxonomy the transport layer maps from.
// Validation and not-found are terminal for the attempt; conflict resolves by
// re-reading current state; persistence is retryable.
func Classify(err error) Kind {
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return KindPersistence
	}

	switch {
	case errors.Is(err, ErrInvalidWindow),
		errors.Is(err, ErrInvalidRating),
		errors.Is(err, ErrEmptyPackage),
		errors.Is(err, ErrInvalidReport):
		return KindValidation
	case errors.Is(err, ErrServiceNotFound),
		errors.Is(err, ErrNurseNotFound),
		errors.Is(err, ErrAppointmentNotFound),
		errors.Is(err, ErrAssignmentNotFound),
		errors.Is(err, ErrPackageNotFound),
		errors.Is(err, ErrTaskNotFound),
		errors.Is(err, ErrMedicalRecordNotFound),
		errors.Is(err, ErrFeedbackNotFound):
		return KindNotFound
	case errors.Is(err, ErrNurseNoLongerAvailable),
		errors.Is(err, ErrNurseBeingAssigned),
		errors.Is(err, ErrAssignmentLocked),
		errors.Is(err, ErrOutOfOrderCompletion),
		errors.Is(err, ErrFeedbackAlreadyExists):
		return KindConflict
	}

	return KindUnknown
}

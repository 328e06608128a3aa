package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"

	"github.com/carebridge/nursing-fulfillment/internal/fulfillment"
	redisclient "github.com/carebridge/nursing-fulfillment/internal/redis"
)

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	render.Status(r, status)
	render.JSON(w, r, v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, details string) {
	writeJSON(w, r, status, ErrorResponse{Error: code, Details: details})
}

// writeServiceError maps a fulfillment error onto HTTP by class: validation
// 400, not-found 404, conflict 409, persistence 503 (retryable).
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch fulfillment.Classify(err) {
	case fulfillment.KindValidation:
		status = http.StatusBadRequest
	case fulfillment.KindNotFound:
		status = http.StatusNotFound
	case fulfillment.KindConflict:
		status = http.StatusConflict
	case fulfillment.KindPersistence:
		status = http.StatusServiceUnavailable
	}

	writeError(w, r, status, errorCode(err), err.Error())
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, fulfillment.ErrInvalidWindow):
		return "invalid_window"
	case errors.Is(err, fulfillment.ErrInvalidRating):
		return "invalid_rating"
	case errors.Is(err, fulfillment.ErrInvalidReport):
		return "invalid_report"
	case errors.Is(err, fulfillment.ErrEmptyPackage):
		return "empty_package"
	case errors.Is(err, fulfillment.ErrServiceNotFound):
		return "service_not_found"
	case errors.Is(err, fulfillment.ErrNurseNotFound):
		return "nurse_not_found"
	case errors.Is(err, fulfillment.ErrAppointmentNotFound):
		return "appointment_not_found"
	case errors.Is(err, fulfillment.ErrAssignmentNotFound):
		return "assignment_not_found"
	case errors.Is(err, fulfillment.ErrPackageNotFound):
		return "package_not_found"
	case errors.Is(err, fulfillment.ErrTaskNotFound):
		return "task_not_found"
	case errors.Is(err, fulfillment.ErrMedicalRecordNotFound):
		return "medical_record_not_found"
	case errors.Is(err, fulfillment.ErrFeedbackNotFound):
		return "feedback_not_found"
	case errors.Is(err, fulfillment.ErrNurseNoLongerAvailable):
		return "nurse_no_longer_available"
	case errors.Is(err, fulfillment.ErrNurseBeingAssigned),
		errors.Is(err, redisclient.ErrLockNotAcquired):
		return "nurse_being_assigned"
	case errors.Is(err, fulfillment.ErrAssignmentLocked):
		return "assignment_locked"
	case errors.Is(err, fulfillment.ErrOutOfOrderCompletion):
		return "out_of_order_completion"
	case errors.Is(err, fulfillment.ErrFeedbackAlreadyExists):
		return "feedback_already_exists"
	}

	if fulfillment.Classify(err) == fulfillment.KindPersistence {
		return "persistence_failure"
	}
	return "internal_error"
}

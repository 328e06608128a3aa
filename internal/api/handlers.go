package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/carebridge/nursing-fulfillment/internal/fulfillment"
)

func findAvailableHandler(svc *fulfillment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		serviceID, err := uuid.Parse(q.Get("service_id"))
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_service_id", "service_id must be a valid UUID")
			return
		}

		windowStart, err := time.Parse(time.RFC3339, q.Get("window_start"))
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_window_start", "window_start must be RFC3339")
			return
		}

		duration, err := parseIntParam(q.Get("duration_minutes"))
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_duration", "duration_minutes must be an integer")
			return
		}

		nurses, err := svc.FindAvailable(r.Context(), serviceID, windowStart, duration)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		// Empty pool is a normal outcome: respond 200 with an empty list.
		resp := make([]NurseResponse, 0, len(nurses))
		for _, n := range nurses {
			resp = append(resp, toNurseResponse(n))
		}

		writeJSON(w, r, http.StatusOK, resp)
	}
}

func assignHandler(svc *fulfillment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appointmentID, ok := parseIDParam(w, r, "id", "appointment id")
		if !ok {
			return
		}

		var req AssignRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		nurseID, err := uuid.Parse(req.NurseID)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_nurse_id", "nurse_id must be a valid UUID")
			return
		}

		assignment, err := svc.Assign(r.Context(), appointmentID, nurseID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusCreated, toAssignmentResponse(assignment))
	}
}

func activeAssignmentHandler(svc *fulfillment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appointmentID, ok := parseIDParam(w, r, "id", "appointment id")
		if !ok {
			return
		}

		assignment, err := svc.ActiveAssignment(r.Context(), appointmentID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, toAssignmentResponse(assignment))
	}
}

func packageTasksHandler(svc *fulfillment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		packageID, ok := parseIDParam(w, r, "id", "package id")
		if !ok {
			return
		}

		state, err := svc.PackageTasks(r.Context(), packageID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, toSequencerStateResponse(state))
	}
}

func completeTaskHandler(svc *fulfillment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		taskID, ok := parseIDParam(w, r, "id", "task id")
		if !ok {
			return
		}

		var req CompleteTaskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		state, err := svc.CompleteTask(r.Context(), taskID, req.Note)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, toSequencerStateResponse(state))
	}
}

func medicalRecordHandler(svc *fulfillment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appointmentID, ok := parseIDParam(w, r, "id", "appointment id")
		if !ok {
			return
		}

		record, err := svc.MedicalRecord(r.Context(), appointmentID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, toMedicalRecordResponse(record))
	}
}

func writeReportHandler(svc *fulfillment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recordID, ok := parseIDParam(w, r, "id", "medical record id")
		if !ok {
			return
		}

		var req ReportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		record, err := svc.WriteNursingReport(r.Context(), recordID, req.Text)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, toMedicalRecordResponse(record))
	}
}

func getFeedbackHandler(svc *fulfillment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recordID, ok := parseIDParam(w, r, "id", "medical record id")
		if !ok {
			return
		}

		fb, err := svc.Feedback(r.Context(), recordID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, toFeedbackResponse(fb))
	}
}

func submitFeedbackHandler(svc *fulfillment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recordID, ok := parseIDParam(w, r, "id", "medical record id")
		if !ok {
			return
		}

		var req FeedbackRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		fb, err := svc.SubmitFeedback(r.Context(), recordID, req.Rating, req.Content)
		if err != nil {
			if errors.Is(err, fulfillment.ErrFeedbackAlreadyExists) && fb != nil {
				// Write-once: hand the original back with the conflict.
				existing := toFeedbackResponse(fb)
				writeJSON(w, r, http.StatusConflict, ErrorResponse{
					Error:    "feedback_already_exists",
					Details:  err.Error(),
					Existing: &existing,
				})
				return
			}
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusCreated, toFeedbackResponse(fb))
	}
}

func parseIDParam(w http.ResponseWriter, r *http.Request, name, label string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_"+name, label+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func parseIntParam(raw string) (int, error) {
	return strconv.Atoi(raw)
}

package fulfillment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SubmitFeedback records the one-time rating and comment for a medical record.
// Feedback is write-once: a repeat call is rejected with
// ErrFeedbackAlreadyExists and returns the stored feedback unchanged, so the
// operation is idempotent from the caller's perspective. Rating bounds are
// checked before any storage access.
func (s *Service) SubmitFeedback(ctx context.Context, medicalRecordID uuid.UUID, rating int, content string) (*Feedback, error) {
	if rating < 1 || rating > 5 {
		return nil, ErrInvalidRating
	}

	record, err := s.repo.GetMedicalRecordByID(ctx, medicalRecordID)
	if err != nil {
		return nil, fmt.Errorf("load medical record: %w", err)
	}

	appt, err := s.repo.GetAppointmentByID(ctx, record.AppointmentID)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if appt.Status != StatusCompleted {
		return nil, fmt.Errorf("appointment %s is not completed: %w", appt.ID, ErrMedicalRecordNotFound)
	}

	if existing, err := s.repo.GetFeedbackByRecord(ctx, medicalRecordID); err == nil {
		return existing, ErrFeedbackAlreadyExists
	} else if !errors.Is(err, ErrFeedbackNotFound) {
		return nil, fmt.Errorf("load feedback: %w", err)
	}

	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	fb, err := s.repo.CreateFeedback(storeCtx, medicalRecordID, rating, content)
	if err != nil {
		if errors.Is(err, ErrFeedbackAlreadyExists) {
			// Lost a race with another submitter; hand back theirs.
			if existing, getErr := s.repo.GetFeedbackByRecord(ctx, medicalRecordID); getErr == nil {
				return existing, ErrFeedbackAlreadyExists
			}
		}
		return nil, err
	}

	s.log.Info("feedback submitted",
		zap.String("medical_record_id", medicalRecordID.String()),
		zap.Int("rating", rating))
	s.logEvent(ctx, record.AppointmentID, EventFeedbackSubmitted, map[string]any{
		"medical_record_id": medicalRecordID.String(),
		"rating":            rating,
	})

	return fb, nil
}

// Feedback returns the stored feedback for a medical record, if any.
func (s *Service) Feedback(ctx context.Context, medicalRecordID uuid.UUID) (*Feedback, error) {
	fb, err := s.repo.GetFeedbackByRecord(ctx, medicalRecordID)
	if err != nil {
		return nil, fmt.Errorf("load feedback: %w", err)
	}
	return fb, nil
}

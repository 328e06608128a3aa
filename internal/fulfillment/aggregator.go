package fulfillment

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// onPackageComplete runs when the last task of a package turns done. It
// CAS-transitions the appointment to completed and opens the medical record
// awaiting its nursing report. Retried notifications can reach this twice for
// the same appointment; the second pass finds it already completed and the
// record already present, and changes nothing.
func (s *Service) onPackageComplete(ctx context.Context, appointmentID uuid.UUID) error {
	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	appt, transitioned, err := s.repo.CompleteAppointment(storeCtx, appointmentID)
	if err != nil {
		return fmt.Errorf("complete appointment: %w", err)
	}

	record, err := s.repo.EnsureMedicalRecord(storeCtx, appointmentID)
	if err != nil {
		return fmt.Errorf("open medical record: %w", err)
	}

	if transitioned {
		s.log.Info("appointment completed",
			zap.String("appointment_id", appt.ID.String()),
			zap.String("medical_record_id", record.ID.String()))
		s.logEvent(ctx, appt.ID, EventAppointmentCompleted, map[string]any{
			"medical_record_id": record.ID.String(),
		})
	}

	return nil
}

// MedicalRecord fetches the report opened for a completed appointment.
func (s *Service) MedicalRecord(ctx context.Context, appointmentID uuid.UUID) (*MedicalRecord, error) {
	rec, err := s.repo.GetMedicalRecordByAppointment(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("load medical record: %w", err)
	}
	return rec, nil
}

// WriteNursingReport fills in the record's report text. The record is not
// considered fulfilled until the report is non-empty; the text may be
// rewritten until feedback has been submitted.
func (s *Service) WriteNursingReport(ctx context.Context, recordID uuid.UUID, text string) (*MedicalRecord, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: report text is empty", ErrInvalidReport)
	}

	if _, err := s.repo.GetMedicalRecordByID(ctx, recordID); err != nil {
		return nil, fmt.Errorf("load medical record: %w", err)
	}

	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	rec, err := s.repo.WriteNursingReport(storeCtx, recordID, text)
	if err != nil {
		return nil, err
	}

	return rec, nil
}

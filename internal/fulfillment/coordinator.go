package fulfillment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	redisclient "github.com/carebridge/nursing-fulfillment/internal/redis"
)

// Assign binds the nurse to the appointment. Availability is re-validated
// fresh here rather than trusted from whatever candidate list the operator was
// shown: between "nurse shown as free" and this call the nurse may have been
// booked elsewhere. The commit itself runs under a per-nurse lock and an
// atomic overlap re-check in storage, so two coordinators fighting over the
// same nurse and window cannot both succeed.
//
// A prior assignment for the appointment is superseded, never deleted. Once
// the appointment is in-progress reassignment fails with ErrAssignmentLocked.
func (s *Service) Assign(ctx context.Context, appointmentID, nurseID uuid.UUID) (*Assignment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	if appt.Status != StatusUnassigned && appt.Status != StatusAssigned {
		return nil, ErrAssignmentLocked
	}

	if _, err := s.repo.GetNurseByID(ctx, nurseID); err != nil {
		return nil, fmt.Errorf("load nurse: %w", err)
	}

	svc, err := s.repo.GetServiceByID(ctx, appt.ServiceID)
	if err != nil {
		return nil, fmt.Errorf("load service: %w", err)
	}

	// Fresh availability check for this appointment's window. The candidate
	// list the caller picked from is a point-in-time snapshot and may be
	// stale by now.
	start, end := bufferedWindow(appt.WindowStart, appt.WindowEnd(), svc.TravelBufferMinutes)
	free, err := s.repo.FindQualifiedFreeNurses(ctx, svc.ID, start, end)
	if err != nil {
		return nil, fmt.Errorf("revalidate availability: %w", err)
	}
	if !containsNurse(free, nurseID) && !isCurrentAssignee(appt, nurseID) {
		return nil, ErrNurseNoLongerAvailable
	}

	var (
		committed *Assignment
		prior     *Assignment
	)

	err = s.locker.WithNurseLock(ctx, nurseID, func(lockCtx context.Context) error {
		storeCtx, cancel := s.storeCtx(lockCtx)
		defer cancel()

		existing, err := s.repo.GetActiveAssignment(storeCtx, appointmentID)
		if err != nil && !errors.Is(err, ErrAssignmentNotFound) {
			return fmt.Errorf("load active assignment: %w", err)
		}
		prior = existing

		committed, err = s.repo.CommitAssignment(storeCtx, appointmentID, nurseID)
		return err
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrNurseBeingAssigned
		}
		return nil, err
	}

	s.log.Info("assignment committed",
		zap.String("appointment_id", appointmentID.String()),
		zap.String("nurse_id", nurseID.String()))

	if prior != nil {
		s.logEvent(ctx, appointmentID, EventAssignmentSuperseded, map[string]any{
			"assignment_id": prior.ID.String(),
			"nurse_id":      prior.NurseID.String(),
		})
	}
	s.logEvent(ctx, appointmentID, EventAssignmentCommitted, map[string]any{
		"assignment_id": committed.ID.String(),
		"nurse_id":      nurseID.String(),
	})

	return committed, nil
}

// ActiveAssignment returns the appointment's current binding, if any.
func (s *Service) ActiveAssignment(ctx context.Context, appointmentID uuid.UUID) (*Assignment, error) {
	a, err := s.repo.GetActiveAssignment(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("load active assignment: %w", err)
	}
	return a, nil
}

func containsNurse(nurses []Nurse, id uuid.UUID) bool {
	for _, n := range nurses {
		if n.ID == id {
			return true
		}
	}
	return false
}

// isCurrentAssignee reports whether the nurse already holds this appointment.
// Re-confirming the same nurse is not a conflict even though the matcher no
// longer lists them as free (their own booking occupies the window).
func isCurrentAssignee(appt *Appointment, nurseID uuid.UUID) bool {
	return appt.NurseID != nil && *appt.NurseID == nurseID
}

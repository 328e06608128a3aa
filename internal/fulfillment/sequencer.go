package fulfillment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PackageTasks returns the authoritative progression view for one package:
// every task in sequence order, the derived package status and the single
// eligible task (the lowest-seq pending one). A zero-task package is a
// configuration error reported upstream.
func (s *Service) PackageTasks(ctx context.Context, packageID uuid.UUID) (*SequencerState, error) {
	pkg, err := s.repo.GetPackageByID(ctx, packageID)
	if err != nil {
		return nil, fmt.Errorf("load package: %w", err)
	}

	tasks, err := s.repo.ListPackageTasks(ctx, packageID)
	if err != nil {
		return nil, fmt.Errorf("list package tasks: %w", err)
	}
	if len(tasks) == 0 {
		return nil, ErrEmptyPackage
	}

	return sequencerState(pkg.ID, pkg.AppointmentID, tasks), nil
}

// CompleteTask marks the task done with the nurse's note and returns the
// refreshed progression state. Eligibility is re-verified at the moment of
// commit: the device the nurse tapped on may hold a view that predates a
// reassignment or a concurrent correction. Out-of-order attempts fail with
// ErrOutOfOrderCompletion and mutate nothing.
//
// The completion is durable before it is reported as committed; if the write
// fails the task is still pending and the error is retryable. Completing the
// package's final task hands off to the completion aggregator.
func (s *Service) CompleteTask(ctx context.Context, taskID uuid.UUID, nurseNote string) (*SequencerState, error) {
	task, err := s.repo.GetTaskByID(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("load task: %w", err)
	}

	pkg, err := s.repo.GetPackageByID(ctx, task.PackageID)
	if err != nil {
		return nil, fmt.Errorf("load package: %w", err)
	}

	appt, err := s.repo.GetAppointmentByID(ctx, pkg.AppointmentID)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if appt.Status != StatusAssigned && appt.Status != StatusInProgress {
		return nil, ErrAssignmentLocked
	}

	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	done, remaining, err := s.repo.CompleteEligibleTask(storeCtx, taskID, nurseNote)
	if err != nil {
		return nil, err
	}

	s.log.Info("task completed",
		zap.String("task_id", taskID.String()),
		zap.String("package_id", pkg.ID.String()),
		zap.Int("seq", done.Seq),
		zap.Int("remaining", remaining))

	s.logEvent(ctx, appt.ID, EventTaskCompleted, map[string]any{
		"task_id":   done.ID.String(),
		"seq":       done.Seq,
		"remaining": remaining,
	})

	if remaining == 0 {
		if err := s.onPackageComplete(ctx, appt.ID); err != nil {
			return nil, err
		}
	}

	return s.PackageTasks(ctx, pkg.ID)
}

package fulfillment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository contains all storage interactions needed by the service.
//
// CommitAssignment and CompleteEligibleTask are check-and-set operations: the
// precondition they guard ("nurse still free", "task still eligible") must be
// re-verified atomically with the write, not trusted from an earlier read.
type Repository interface {
	GetServiceByID(ctx context.Context, id uuid.UUID) (*ServiceType, error)
	GetNurseByID(ctx context.Context, id uuid.UUID) (*Nurse, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// FindQualifiedFreeNurses returns nurses qualified for the service with no
	// active assignment overlapping the buffer-widened window. Read-only.
	FindQualifiedFreeNurses(ctx context.Context, serviceID uuid.UUID, windowStart, windowEnd time.Time) ([]Nurse, error)

	// CommitAssignment atomically re-checks that the appointment is still
	// assignable and the nurse has no overlapping active assignment, then
	// supersedes any prior assignment and creates the new one. Fails with
	// ErrNurseNoLongerAvailable on overlap and ErrAssignmentLocked when the
	// appointment has moved past the assignable statuses.
	CommitAssignment(ctx context.Context, appointmentID, nurseID uuid.UUID) (*Assignment, error)
	GetActiveAssignment(ctx context.Context, appointmentID uuid.UUID) (*Assignment, error)

	GetPackageByID(ctx context.Context, id uuid.UUID) (*CustomerPackage, error)
	GetTaskByID(ctx context.Context, id uuid.UUID) (*Task, error)
	ListPackageTasks(ctx context.Context, packageID uuid.UUID) ([]Task, error)

	// CompleteEligibleTask atomically verifies the task is the lowest-seq
	// pending task of its package and its appointment is assigned or
	// in-progress, marks it done with the note, and flips the appointment to
	// in-progress on the package's first completion. Returns the completed
	// task and the number of still-pending tasks. Fails with
	// ErrOutOfOrderCompletion without mutation when the task is blocked or no
	// longer pending.
	CompleteEligibleTask(ctx context.Context, taskID uuid.UUID, note string) (*Task, int, error)

	// CompleteAppointment CAS-transitions assigned/in-progress -> completed.
	// The bool reports whether this call performed the transition; an
	// already-completed appointment returns (appt, false, nil).
	CompleteAppointment(ctx context.Context, appointmentID uuid.UUID) (*Appointment, bool, error)

	// EnsureMedicalRecord creates the appointment's record if absent and
	// returns the existing one otherwise.
	EnsureMedicalRecord(ctx context.Context, appointmentID uuid.UUID) (*MedicalRecord, error)
	GetMedicalRecordByID(ctx context.Context, id uuid.UUID) (*MedicalRecord, error)
	GetMedicalRecordByAppointment(ctx context.Context, appointmentID uuid.UUID) (*MedicalRecord, error)
	WriteNursingReport(ctx context.Context, recordID uuid.UUID, text string) (*MedicalRecord, error)

	GetFeedbackByRecord(ctx context.Context, medicalRecordID uuid.UUID) (*Feedback, error)
	// CreateFeedback inserts write-once feedback; a concurrent or prior insert
	// surfaces as ErrFeedbackAlreadyExists.
	CreateFeedback(ctx context.Context, medicalRecordID uuid.UUID, rating int, content string) (*Feedback, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}

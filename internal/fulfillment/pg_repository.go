package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanNurse(row pgx.Row) (*Nurse, error) {
	var n Nurse
	err := row.Scan(&n.ID, &n.Name, &n.Rating, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNurseNotFound
		}
		return nil, err
	}
	return &n, nil
}

func scanService(row pgx.Row) (*ServiceType, error) {
	var s ServiceType
	err := row.Scan(&s.ID, &s.Name, &s.TravelBufferMinutes, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrServiceNotFound
		}
		return nil, err
	}
	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var nurseID *uuid.UUID

	err := row.Scan(
		&a.ID,
		&a.ServiceID,
		&a.WindowStart,
		&a.DurationMinutes,
		&nurseID,
		&a.Status,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.NurseID = nurseID
	return &a, nil
}

func scanPackage(row pgx.Row) (*CustomerPackage, error) {
	var p CustomerPackage
	err := row.Scan(&p.ID, &p.AppointmentID, &p.Name, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPackageNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanTask(row pgx.Row) (*Task, error) {
	var t Task
	var note *string
	var completedAt *time.Time

	err := row.Scan(
		&t.ID,
		&t.PackageID,
		&t.Seq,
		&t.Name,
		&t.EstimatedMinutes,
		&t.Units,
		&t.Status,
		&note,
		&completedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}

	t.NurseNote = note
	t.CompletedAt = completedAt
	return &t, nil
}

func scanAssignment(row pgx.Row) (*Assignment, error) {
	var a Assignment
	var supersededAt *time.Time

	err := row.Scan(
		&a.ID,
		&a.AppointmentID,
		&a.NurseID,
		&a.WindowStart,
		&a.WindowEnd,
		&a.ConfirmedAt,
		&supersededAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAssignmentNotFound
		}
		return nil, err
	}

	a.SupersededAt = supersededAt
	return &a, nil
}

func scanMedicalRecord(row pgx.Row) (*MedicalRecord, error) {
	var m MedicalRecord
	err := row.Scan(&m.ID, &m.AppointmentID, &m.Report, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMedicalRecordNotFound
		}
		return nil, err
	}
	return &m, nil
}

func scanFeedback(row pgx.Row) (*Feedback, error) {
	var f Feedback
	err := row.Scan(&f.ID, &f.MedicalRecordID, &f.Rating, &f.Content, &f.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFeedbackNotFound
		}
		return nil, err
	}
	return &f, nil
}

// Lookups

func (r *PgRepository) GetServiceByID(ctx context.Context, id uuid.UUID) (*ServiceType, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, travel_buffer_minutes, created_at, updated_at
		FROM services
		WHERE id = $1
	`, id)
	return scanService(row)
}

func (r *PgRepository) GetNurseByID(ctx context.Context, id uuid.UUID) (*Nurse, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, rating, created_at, updated_at
		FROM nurses
		WHERE id = $1
	`, id)
	return scanNurse(row)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, service_id, window_start, duration_minutes, nurse_id, status, created_at, updated_at
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetPackageByID(ctx context.Context, id uuid.UUID) (*CustomerPackage, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, appointment_id, name, created_at, updated_at
		FROM customer_packages
		WHERE id = $1
	`, id)
	return scanPackage(row)
}

func (r *PgRepository) GetTaskByID(ctx context.Context, id uuid.UUID) (*Task, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, package_id, seq, name, estimated_minutes, units, status, nurse_note, completed_at
		FROM package_tasks
		WHERE id = $1
	`, id)
	return scanTask(row)
}

func (r *PgRepository) ListPackageTasks(ctx context.Context, packageID uuid.UUID) ([]Task, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, package_id, seq, name, estimated_minutes, units, status, nurse_note, completed_at
		FROM package_tasks
		WHERE package_id = $1
		ORDER BY seq
	`, packageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Matching

func (r *PgRepository) FindQualifiedFreeNurses(ctx context.Context, serviceID uuid.UUID, windowStart, windowEnd time.Time) ([]Nurse, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT n.id, n.name, n.rating, n.created_at, n.updated_at
		FROM nurses n
		JOIN nurse_qualifications q ON q.nurse_id = n.id
		WHERE q.service_id = $1
		  AND NOT EXISTS (
			SELECT 1
			FROM assignments a
			WHERE a.nurse_id = n.id
			  AND a.superseded_at IS NULL
			  AND a.window_start < $3
			  AND a.window_end > $2
		  )
		ORDER BY n.rating DESC, n.name
	`, serviceID, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Nurse
	for rows.Next() {
		n, err := scanNurse(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *n)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Assignment

func (r *PgRepository) GetActiveAssignment(ctx context.Context, appointmentID uuid.UUID) (*Assignment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, appointment_id, nurse_id, window_start, window_end, confirmed_at, superseded_at
		FROM assignments
		WHERE appointment_id = $1 AND superseded_at IS NULL
	`, appointmentID)
	return scanAssignment(row)
}

// CommitAssignment performs the check-and-set against overlapping bookings in
// a single transaction. A per-nurse advisory lock serializes committers for
// the same nurse so the overlap re-check cannot race a concurrent insert.
func (r *PgRepository) CommitAssignment(ctx context.Context, appointmentID, nurseID uuid.UUID) (*Assignment, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, &PersistenceError{Op: "commit assignment", Err: err}
	}
	defer tx.Rollback(ctx)

	appt, err := scanAppointment(tx.QueryRow(ctx, `
		SELECT id, service_id, window_start, duration_minutes, nurse_id, status, created_at, updated_at
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, appointmentID))
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, &PersistenceError{Op: "commit assignment", Err: err}
	}

	if appt.Status != StatusUnassigned && appt.Status != StatusAssigned {
		return nil, ErrAssignmentLocked
	}

	var buffer int
	if err := tx.QueryRow(ctx, `
		SELECT travel_buffer_minutes FROM services WHERE id = $1
	`, appt.ServiceID).Scan(&buffer); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrServiceNotFound
		}
		return nil, &PersistenceError{Op: "commit assignment", Err: err}
	}

	start, end := bufferedWindow(appt.WindowStart, appt.WindowEnd(), buffer)

	// Serialize all committers for this nurse within the transaction.
	if _, err := tx.Exec(ctx, `
		SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))
	`, nurseID); err != nil {
		return nil, &PersistenceError{Op: "commit assignment", Err: err}
	}

	var conflicts int
	err = tx.QueryRow(ctx, `
		SELECT count(*)
		FROM assignments
		WHERE nurse_id = $1
		  AND superseded_at IS NULL
		  AND appointment_id <> $2
		  AND window_start < $4
		  AND window_end > $3
	`, nurseID, appointmentID, start, end).Scan(&conflicts)
	if err != nil {
		return nil, &PersistenceError{Op: "commit assignment", Err: err}
	}
	if conflicts > 0 {
		return nil, ErrNurseNoLongerAvailable
	}

	if _, err := tx.Exec(ctx, `
		UPDATE assignments
		SET superseded_at = now()
		WHERE appointment_id = $1 AND superseded_at IS NULL
	`, appointmentID); err != nil {
		return nil, &PersistenceError{Op: "commit assignment", Err: err}
	}

	assignment, err := scanAssignment(tx.QueryRow(ctx, `
		INSERT INTO assignments (id, appointment_id, nurse_id, window_start, window_end, confirmed_at)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING id, appointment_id, nurse_id, window_start, window_end, confirmed_at, superseded_at
	`, uuid.New(), appointmentID, nurseID, appt.WindowStart, appt.WindowEnd()))
	if err != nil {
		return nil, &PersistenceError{Op: "commit assignment", Err: err}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE appointments
		SET nurse_id = $2, status = 'assigned', updated_at = now()
		WHERE id = $1
	`, appointmentID, nurseID); err != nil {
		return nil, &PersistenceError{Op: "commit assignment", Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, &PersistenceError{Op: "commit assignment", Err: err}
	}

	return assignment, nil
}

// Tasks

// CompleteEligibleTask re-verifies inside the transaction that the task is
// still the lowest-seq pending task of its package, then records the
// completion. Nothing is reflected as committed until the transaction lands;
// a failed commit leaves the task pending.
func (r *PgRepository) CompleteEligibleTask(ctx context.Context, taskID uuid.UUID, note string) (*Task, int, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, 0, &PersistenceError{Op: "complete task", Err: err}
	}
	defer tx.Rollback(ctx)

	task, err := scanTask(tx.QueryRow(ctx, `
		SELECT id, package_id, seq, name, estimated_minutes, units, status, nurse_note, completed_at
		FROM package_tasks
		WHERE id = $1
		FOR UPDATE
	`, taskID))
	if err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			return nil, 0, err
		}
		return nil, 0, &PersistenceError{Op: "complete task", Err: err}
	}

	// Lock the sibling tasks so eligibility cannot shift under us.
	if _, err := tx.Exec(ctx, `
		SELECT id FROM package_tasks WHERE package_id = $1 FOR UPDATE
	`, task.PackageID); err != nil {
		return nil, 0, &PersistenceError{Op: "complete task", Err: err}
	}

	var eligibleID uuid.UUID
	err = tx.QueryRow(ctx, `
		SELECT id
		FROM package_tasks
		WHERE package_id = $1 AND status = 'pending'
		ORDER BY seq
		LIMIT 1
	`, task.PackageID).Scan(&eligibleID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// All tasks done already; this one is no longer completable.
			return nil, 0, ErrOutOfOrderCompletion
		}
		return nil, 0, &PersistenceError{Op: "complete task", Err: err}
	}
	if eligibleID != taskID {
		return nil, 0, ErrOutOfOrderCompletion
	}

	var appointmentID uuid.UUID
	var apptStatus AppointmentStatus
	err = tx.QueryRow(ctx, `
		SELECT a.id, a.status
		FROM appointments a
		JOIN customer_packages p ON p.appointment_id = a.id
		WHERE p.id = $1
		FOR UPDATE OF a
	`, task.PackageID).Scan(&appointmentID, &apptStatus)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, 0, ErrAppointmentNotFound
		}
		return nil, 0, &PersistenceError{Op: "complete task", Err: err}
	}
	if apptStatus != StatusAssigned && apptStatus != StatusInProgress {
		return nil, 0, ErrAssignmentLocked
	}

	var noteArg *string
	if note != "" {
		noteArg = &note
	}

	done, err := scanTask(tx.QueryRow(ctx, `
		UPDATE package_tasks
		SET status = 'done', nurse_note = $2, completed_at = now()
		WHERE id = $1
		RETURNING id, package_id, seq, name, estimated_minutes, units, status, nurse_note, completed_at
	`, taskID, noteArg))
	if err != nil {
		return nil, 0, &PersistenceError{Op: "complete task", Err: err}
	}

	if apptStatus == StatusAssigned {
		if _, err := tx.Exec(ctx, `
			UPDATE appointments
			SET status = 'in-progress', updated_at = now()
			WHERE id = $1 AND status = 'assigned'
		`, appointmentID); err != nil {
			return nil, 0, &PersistenceError{Op: "complete task", Err: err}
		}
	}

	var remaining int
	if err := tx.QueryRow(ctx, `
		SELECT count(*) FROM package_tasks WHERE package_id = $1 AND status = 'pending'
	`, task.PackageID).Scan(&remaining); err != nil {
		return nil, 0, &PersistenceError{Op: "complete task", Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, 0, &PersistenceError{Op: "complete task", Err: err}
	}

	return done, remaining, nil
}

// Completion

func (r *PgRepository) CompleteAppointment(ctx context.Context, appointmentID uuid.UUID) (*Appointment, bool, error) {
	appt, err := scanAppointment(r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'completed', updated_at = now()
		WHERE id = $1 AND status IN ('assigned', 'in-progress')
		RETURNING id, service_id, window_start, duration_minutes, nurse_id, status, created_at, updated_at
	`, appointmentID))
	if err == nil {
		return appt, true, nil
	}
	if !errors.Is(err, ErrAppointmentNotFound) {
		return nil, false, &PersistenceError{Op: "complete appointment", Err: err}
	}

	// CAS missed: either the row is gone or it already completed.
	appt, err = r.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, false, err
	}
	if appt.Status != StatusCompleted {
		return nil, false, fmt.Errorf("appointment %s cannot complete from status %s", appointmentID, appt.Status)
	}
	return appt, false, nil
}

func (r *PgRepository) EnsureMedicalRecord(ctx context.Context, appointmentID uuid.UUID) (*MedicalRecord, error) {
	rec, err := scanMedicalRecord(r.pool.QueryRow(ctx, `
		INSERT INTO medical_records (id, appointment_id, report, created_at, updated_at)
		VALUES ($1, $2, '', now(), now())
		ON CONFLICT (appointment_id) DO NOTHING
		RETURNING id, appointment_id, report, created_at, updated_at
	`, uuid.New(), appointmentID))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, ErrMedicalRecordNotFound) {
		return nil, &PersistenceError{Op: "open medical record", Err: err}
	}

	// Conflict: the record already exists.
	return r.GetMedicalRecordByAppointment(ctx, appointmentID)
}

func (r *PgRepository) GetMedicalRecordByID(ctx context.Context, id uuid.UUID) (*MedicalRecord, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, appointment_id, report, created_at, updated_at
		FROM medical_records
		WHERE id = $1
	`, id)
	return scanMedicalRecord(row)
}

func (r *PgRepository) GetMedicalRecordByAppointment(ctx context.Context, appointmentID uuid.UUID) (*MedicalRecord, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, appointment_id, report, created_at, updated_at
		FROM medical_records
		WHERE appointment_id = $1
	`, appointmentID)
	return scanMedicalRecord(row)
}

func (r *PgRepository) WriteNursingReport(ctx context.Context, recordID uuid.UUID, text string) (*MedicalRecord, error) {
	rec, err := scanMedicalRecord(r.pool.QueryRow(ctx, `
		UPDATE medical_records
		SET report = $2, updated_at = now()
		WHERE id = $1
		RETURNING id, appointment_id, report, created_at, updated_at
	`, recordID, text))
	if err != nil {
		if errors.Is(err, ErrMedicalRecordNotFound) {
			return nil, err
		}
		return nil, &PersistenceError{Op: "write nursing report", Err: err}
	}
	return rec, nil
}

// Feedback

func (r *PgRepository) GetFeedbackByRecord(ctx context.Context, medicalRecordID uuid.UUID) (*Feedback, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, medical_record_id, rating, content, created_at
		FROM feedback
		WHERE medical_record_id = $1
	`, medicalRecordID)
	return scanFeedback(row)
}

func (r *PgRepository) CreateFeedback(ctx context.Context, medicalRecordID uuid.UUID, rating int, content string) (*Feedback, error) {
	fb, err := scanFeedback(r.pool.QueryRow(ctx, `
		INSERT INTO feedback (id, medical_record_id, rating, content, created_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (medical_record_id) DO NOTHING
		RETURNING id, medical_record_id, rating, content, created_at
	`, uuid.New(), medicalRecordID, rating, content))
	if err == nil {
		return fb, nil
	}
	if errors.Is(err, ErrFeedbackNotFound) {
		// Conflict target hit: feedback is write-once.
		return nil, ErrFeedbackAlreadyExists
	}
	return nil, &PersistenceError{Op: "create feedback", Err: err}
}

// Events

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

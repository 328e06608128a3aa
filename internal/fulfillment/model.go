package fulfillment

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusUnassigned AppointmentStatus = "unassigned"
	StatusAssigned   AppointmentStatus = "assigned"
	StatusInProgress AppointmentStatus = "in-progress"
	StatusCompleted  AppointmentStatus = "completed"
	StatusCancelled  AppointmentStatus = "cancelled"
)

type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskDone    TaskStatus = "done"
)

type PackageStatus string

const (
	PackageNotStarted PackageStatus = "not-started"
	PackageInProgress PackageStatus = "in-progress"
	PackageComplete   PackageStatus = "complete"
)

type Nurse struct {
	ID        uuid.UUID
	Name      string
	Rating    float64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ServiceType is the catalogued care service an appointment is booked against.
// TravelBufferMinutes widens a nurse's occupied interval on both sides when
// matching, to account for travel between visits.
type ServiceType struct {
	ID                  uuid.UUID
	Name                string
	TravelBufferMinutes int
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

type Appointment struct {
	ID              uuid.UUID
	ServiceID       uuid.UUID
	WindowStart     time.Time
	DurationMinutes int
	NurseID         *uuid.UUID
	Status          AppointmentStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// WindowEnd is the exclusive end of the visit window.
func (a Appointment) WindowEnd() time.Time {
	return a.WindowStart.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

type CustomerPackage struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	Name          string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Task struct {
	ID               uuid.UUID
	PackageID        uuid.UUID
	Seq              int
	Name             string
	EstimatedMinutes int
	Units            int
	Status           TaskStatus
	NurseNote        *string
	CompletedAt      *time.Time
}

// Assignment binds one nurse to one appointment. A superseded assignment keeps
// its row with SupersededAt set; at most one assignment per appointment has
// SupersededAt == nil.
type Assignment struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	NurseID       uuid.UUID
	WindowStart   time.Time
	WindowEnd     time.Time
	ConfirmedAt   time.Time
	SupersededAt  *time.Time
}

// AvailabilitySlot is a derived (nurse, window) candidate pairing. It is never
// persisted; availability is time-sensitive and recomputed per request.
type AvailabilitySlot struct {
	Nurse       Nurse
	WindowStart time.Time
	WindowEnd   time.Time
}

type MedicalRecord struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	Report        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Feedback struct {
	ID              uuid.UUID
	MedicalRecordID uuid.UUID
	Rating          int
	Content         string
	CreatedAt       time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// SequencerState is the authoritative view of one package's task progression.
type SequencerState struct {
	PackageID      uuid.UUID
	AppointmentID  uuid.UUID
	Status         PackageStatus
	Tasks          []Task
	EligibleTaskID *uuid.UUID
}

// sequencerState derives package status and the eligible task from a task list
// ordered by seq. Tasks must be non-empty.
func sequencerState(packageID, appointmentID uuid.UUID, tasks []Task) *SequencerState {
	st := &SequencerState{
		PackageID:     packageID,
		AppointmentID: appointmentID,
		Tasks:         tasks,
	}

	done := 0
	for i := range tasks {
		if tasks[i].Status == TaskDone {
			done++
			continue
		}
		if st.EligibleTaskID == nil {
			id := tasks[i].ID
			st.EligibleTaskID = &id
		}
	}

	switch {
	case done == 0:
		st.Status = PackageNotStarted
	case done == len(tasks):
		st.Status = PackageComplete
	default:
		st.Status = PackageInProgress
	}

	return st
}

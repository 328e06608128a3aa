package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/nursing-fulfillment/internal/fulfillment"
)

type AssignRequest struct {
	NurseID string `json:"nurse_id"`
}

type CompleteTaskRequest struct {
	Note string `json:"note"`
}

type ReportRequest struct {
	Text string `json:"text"`
}

type FeedbackRequest struct {
	Rating  int    `json:"rating"`
	Content string `json:"content"`
}

type NurseResponse struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	Rating float64   `json:"rating"`
}

type AssignmentResponse struct {
	ID            uuid.UUID  `json:"id"`
	AppointmentID uuid.UUID  `json:"appointment_id"`
	NurseID       uuid.UUID  `json:"nurse_id"`
	WindowStart   time.Time  `json:"window_start"`
	WindowEnd     time.Time  `json:"window_end"`
	ConfirmedAt   time.Time  `json:"confirmed_at"`
	SupersededAt  *time.Time `json:"superseded_at,omitempty"`
}

type TaskResponse struct {
	ID               uuid.UUID  `json:"id"`
	Seq              int        `json:"seq"`
	Name             string     `json:"name"`
	EstimatedMinutes int        `json:"estimated_minutes"`
	Units            int        `json:"units"`
	Status           string     `json:"status"`
	NurseNote        *string    `json:"nurse_note,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

type SequencerStateResponse struct {
	PackageID      uuid.UUID      `json:"package_id"`
	AppointmentID  uuid.UUID      `json:"appointment_id"`
	Status         string         `json:"status"`
	EligibleTaskID *uuid.UUID     `json:"eligible_task_id,omitempty"`
	Tasks          []TaskResponse `json:"tasks"`
}

type MedicalRecordResponse struct {
	ID            uuid.UUID `json:"id"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	Report        string    `json:"report"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type FeedbackResponse struct {
	ID              uuid.UUID `json:"id"`
	MedicalRecordID uuid.UUID `json:"medical_record_id"`
	Rating          int       `json:"rating"`
	Content         string    `json:"content"`
	CreatedAt       time.Time `json:"created_at"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	// Existing carries the stored feedback on duplicate-submission conflicts
	// so the caller gets the original back without a second read.
	Existing *FeedbackResponse `json:"existing,omitempty"`
}

func toNurseResponse(n fulfillment.Nurse) NurseResponse {
	return NurseResponse{ID: n.ID, Name: n.Name, Rating: n.Rating}
}

func toAssignmentResponse(a *fulfillment.Assignment) AssignmentResponse {
	return AssignmentResponse{
		ID:            a.ID,
		AppointmentID: a.AppointmentID,
		NurseID:       a.NurseID,
		WindowStart:   a.WindowStart,
		WindowEnd:     a.WindowEnd,
		ConfirmedAt:   a.ConfirmedAt,
		SupersededAt:  a.SupersededAt,
	}
}

func toTaskResponse(t fulfillment.Task) TaskResponse {
	return TaskResponse{
		ID:               t.ID,
		Seq:              t.Seq,
		Name:             t.Name,
		EstimatedMinutes: t.EstimatedMinutes,
		Units:            t.Units,
		Status:           string(t.Status),
		NurseNote:        t.NurseNote,
		CompletedAt:      t.CompletedAt,
	}
}

func toSequencerStateResponse(st *fulfillment.SequencerState) SequencerStateResponse {
	tasks := make([]TaskResponse, 0, len(st.Tasks))
	for _, t := range st.Tasks {
		tasks = append(tasks, toTaskResponse(t))
	}
	return SequencerStateResponse{
		PackageID:      st.PackageID,
		AppointmentID:  st.AppointmentID,
		Status:         string(st.Status),
		EligibleTaskID: st.EligibleTaskID,
		Tasks:          tasks,
	}
}

func toMedicalRecordResponse(m *fulfillment.MedicalRecord) MedicalRecordResponse {
	return MedicalRecordResponse{
		ID:            m.ID,
		AppointmentID: m.AppointmentID,
		Report:        m.Report,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func toFeedbackResponse(f *fulfillment.Feedback) FeedbackResponse {
	return FeedbackResponse{
		ID:              f.ID,
		MedicalRecordID: f.MedicalRecordID,
		Rating:          f.Rating,
		Content:         f.Content,
		CreatedAt:       f.CreatedAt,
	}
}

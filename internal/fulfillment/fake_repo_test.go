package fulfillment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/carebridge/nursing-fulfillment/internal/config"
)

// fakeRepo is an in-memory Repository with the same check-and-set semantics
// as the Postgres implementation. All methods take one lock, so its CAS
// operations are atomic the way the real transactions are.
type fakeRepo struct {
	mu sync.Mutex

	services     map[uuid.UUID]ServiceType
	nurses       map[uuid.UUID]Nurse
	quals        map[uuid.UUID]map[uuid.UUID]bool // nurse -> service set
	appointments map[uuid.UUID]Appointment
	packages     map[uuid.UUID]CustomerPackage
	tasks        map[uuid.UUID]Task
	assignments  map[uuid.UUID]Assignment
	records      map[uuid.UUID]MedicalRecord // by record id
	feedbacks    map[uuid.UUID]Feedback      // by record id
	events       []EventLog

	failNextTaskWrite  bool
	failNextAssignment bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		services:     make(map[uuid.UUID]ServiceType),
		nurses:       make(map[uuid.UUID]Nurse),
		quals:        make(map[uuid.UUID]map[uuid.UUID]bool),
		appointments: make(map[uuid.UUID]Appointment),
		packages:     make(map[uuid.UUID]CustomerPackage),
		tasks:        make(map[uuid.UUID]Task),
		assignments:  make(map[uuid.UUID]Assignment),
		records:      make(map[uuid.UUID]MedicalRecord),
		feedbacks:    make(map[uuid.UUID]Feedback),
	}
}

func (f *fakeRepo) GetServiceByID(_ context.Context, id uuid.UUID) (*ServiceType, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.services[id]
	if !ok {
		return nil, ErrServiceNotFound
	}
	return &s, nil
}

func (f *fakeRepo) GetNurseByID(_ context.Context, id uuid.UUID) (*Nurse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nurses[id]
	if !ok {
		return nil, ErrNurseNotFound
	}
	return &n, nil
}

func (f *fakeRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (f *fakeRepo) FindQualifiedFreeNurses(_ context.Context, serviceID uuid.UUID, windowStart, windowEnd time.Time) ([]Nurse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []Nurse
	for id, n := range f.nurses {
		if !f.quals[id][serviceID] {
			continue
		}
		if f.nurseBusyLocked(id, uuid.Nil, windowStart, windowEnd) {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func (f *fakeRepo) nurseBusyLocked(nurseID, excludeAppointment uuid.UUID, start, end time.Time) bool {
	for _, a := range f.assignments {
		if a.NurseID != nurseID || a.SupersededAt != nil {
			continue
		}
		if a.AppointmentID == excludeAppointment {
			continue
		}
		if overlaps(a.WindowStart, a.WindowEnd, start, end) {
			return true
		}
	}
	return false
}

func (f *fakeRepo) GetActiveAssignment(_ context.Context, appointmentID uuid.UUID) (*Assignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.assignments {
		if a.AppointmentID == appointmentID && a.SupersededAt == nil {
			out := a
			return &out, nil
		}
	}
	return nil, ErrAssignmentNotFound
}

func (f *fakeRepo) CommitAssignment(_ context.Context, appointmentID, nurseID uuid.UUID) (*Assignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failNextAssignment {
		f.failNextAssignment = false
		return nil, &PersistenceError{Op: "commit assignment", Err: errors.New("injected failure")}
	}

	appt, ok := f.appointments[appointmentID]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if appt.Status != StatusUnassigned && appt.Status != StatusAssigned {
		return nil, ErrAssignmentLocked
	}

	svc, ok := f.services[appt.ServiceID]
	if !ok {
		return nil, ErrServiceNotFound
	}

	start, end := bufferedWindow(appt.WindowStart, appt.WindowEnd(), svc.TravelBufferMinutes)
	if f.nurseBusyLocked(nurseID, appointmentID, start, end) {
		return nil, ErrNurseNoLongerAvailable
	}

	now := time.Now()
	for id, a := range f.assignments {
		if a.AppointmentID == appointmentID && a.SupersededAt == nil {
			t := now
			a.SupersededAt = &t
			f.assignments[id] = a
		}
	}

	assignment := Assignment{
		ID:            uuid.New(),
		AppointmentID: appointmentID,
		NurseID:       nurseID,
		WindowStart:   appt.WindowStart,
		WindowEnd:     appt.WindowEnd(),
		ConfirmedAt:   now,
	}
	f.assignments[assignment.ID] = assignment

	nID := nurseID
	appt.NurseID = &nID
	appt.Status = StatusAssigned
	appt.UpdatedAt = now
	f.appointments[appointmentID] = appt

	return &assignment, nil
}

func (f *fakeRepo) GetPackageByID(_ context.Context, id uuid.UUID) (*CustomerPackage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.packages[id]
	if !ok {
		return nil, ErrPackageNotFound
	}
	return &p, nil
}

func (f *fakeRepo) GetTaskByID(_ context.Context, id uuid.UUID) (*Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return &t, nil
}

func (f *fakeRepo) ListPackageTasks(_ context.Context, packageID uuid.UUID) ([]Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.packageTasksLocked(packageID), nil
}

func (f *fakeRepo) packageTasksLocked(packageID uuid.UUID) []Task {
	var out []Task
	for _, t := range f.tasks {
		if t.PackageID == packageID {
			out = append(out, t)
		}
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].Seq < out[i].Seq {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

func (f *fakeRepo) CompleteEligibleTask(_ context.Context, taskID uuid.UUID, note string) (*Task, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	task, ok := f.tasks[taskID]
	if !ok {
		return nil, 0, ErrTaskNotFound
	}

	siblings := f.packageTasksLocked(task.PackageID)
	var eligible *Task
	for i := range siblings {
		if siblings[i].Status == TaskPending {
			eligible = &siblings[i]
			break
		}
	}
	if eligible == nil || eligible.ID != taskID {
		return nil, 0, ErrOutOfOrderCompletion
	}

	pkg, ok := f.packages[task.PackageID]
	if !ok {
		return nil, 0, ErrPackageNotFound
	}
	appt, ok := f.appointments[pkg.AppointmentID]
	if !ok {
		return nil, 0, ErrAppointmentNotFound
	}
	if appt.Status != StatusAssigned && appt.Status != StatusInProgress {
		return nil, 0, ErrAssignmentLocked
	}

	if f.failNextTaskWrite {
		f.failNextTaskWrite = false
		return nil, 0, &PersistenceError{Op: "complete task", Err: errors.New("injected failure")}
	}

	now := time.Now()
	task.Status = TaskDone
	task.CompletedAt = &now
	if note != "" {
		n := note
		task.NurseNote = &n
	}
	f.tasks[taskID] = task

	if appt.Status == StatusAssigned {
		appt.Status = StatusInProgress
		appt.UpdatedAt = now
		f.appointments[appt.ID] = appt
	}

	remaining := 0
	for _, t := range f.packageTasksLocked(task.PackageID) {
		if t.Status == TaskPending {
			remaining++
		}
	}

	return &task, remaining, nil
}

func (f *fakeRepo) CompleteAppointment(_ context.Context, appointmentID uuid.UUID) (*Appointment, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	appt, ok := f.appointments[appointmentID]
	if !ok {
		return nil, false, ErrAppointmentNotFound
	}
	if appt.Status == StatusCompleted {
		return &appt, false, nil
	}
	if appt.Status != StatusAssigned && appt.Status != StatusInProgress {
		return nil, false, errors.New("appointment cannot complete from status " + string(appt.Status))
	}

	appt.Status = StatusCompleted
	appt.UpdatedAt = time.Now()
	f.appointments[appointmentID] = appt
	return &appt, true, nil
}

func (f *fakeRepo) EnsureMedicalRecord(_ context.Context, appointmentID uuid.UUID) (*MedicalRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, r := range f.records {
		if r.AppointmentID == appointmentID {
			out := r
			return &out, nil
		}
	}

	now := time.Now()
	rec := MedicalRecord{
		ID:            uuid.New(),
		AppointmentID: appointmentID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	f.records[rec.ID] = rec
	return &rec, nil
}

func (f *fakeRepo) GetMedicalRecordByID(_ context.Context, id uuid.UUID) (*MedicalRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok {
		return nil, ErrMedicalRecordNotFound
	}
	return &r, nil
}

func (f *fakeRepo) GetMedicalRecordByAppointment(_ context.Context, appointmentID uuid.UUID) (*MedicalRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.records {
		if r.AppointmentID == appointmentID {
			out := r
			return &out, nil
		}
	}
	return nil, ErrMedicalRecordNotFound
}

func (f *fakeRepo) WriteNursingReport(_ context.Context, recordID uuid.UUID, text string) (*MedicalRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[recordID]
	if !ok {
		return nil, ErrMedicalRecordNotFound
	}
	r.Report = text
	r.UpdatedAt = time.Now()
	f.records[recordID] = r
	return &r, nil
}

func (f *fakeRepo) GetFeedbackByRecord(_ context.Context, medicalRecordID uuid.UUID) (*Feedback, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fb, ok := f.feedbacks[medicalRecordID]
	if !ok {
		return nil, ErrFeedbackNotFound
	}
	return &fb, nil
}

func (f *fakeRepo) CreateFeedback(_ context.Context, medicalRecordID uuid.UUID, rating int, content string) (*Feedback, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.feedbacks[medicalRecordID]; ok {
		return nil, ErrFeedbackAlreadyExists
	}
	fb := Feedback{
		ID:              uuid.New(),
		MedicalRecordID: medicalRecordID,
		Rating:          rating,
		Content:         content,
		CreatedAt:       time.Now(),
	}
	f.feedbacks[medicalRecordID] = fb
	return &fb, nil
}

func (f *fakeRepo) InsertEvent(_ context.Context, ev EventLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeRepo) eventTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, ev := range f.events {
		out = append(out, ev.EventType)
	}
	return out
}

// passLocker runs the critical section without any real lock; the fake repo's
// mutex already makes the commit atomic.
type passLocker struct{}

func (passLocker) WithNurseLock(ctx context.Context, _ uuid.UUID, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Fixture helpers

func newTestService(t *testing.T) (*Service, *fakeRepo) {
	t.Helper()
	repo := newFakeRepo()
	return NewService(repo, passLocker{}, testConfig(), zapNop()), repo
}

func testConfig() config.Config {
	return config.Config{
		LockTTL:           time.Second,
		StoreTimeout:      time.Second,
		SchedulingHorizon: 5 * time.Minute,
	}
}

func zapNop() *zap.Logger { return zap.NewNop() }

func (f *fakeRepo) addService(travelBufferMinutes int) ServiceType {
	s := ServiceType{
		ID:                  uuid.New(),
		Name:                "wound care",
		TravelBufferMinutes: travelBufferMinutes,
	}
	f.mu.Lock()
	f.services[s.ID] = s
	f.mu.Unlock()
	return s
}

func (f *fakeRepo) addNurse(name string, qualifiedFor ...uuid.UUID) Nurse {
	n := Nurse{ID: uuid.New(), Name: name, Rating: 4.5}
	f.mu.Lock()
	f.nurses[n.ID] = n
	set := make(map[uuid.UUID]bool, len(qualifiedFor))
	for _, svc := range qualifiedFor {
		set[svc] = true
	}
	f.quals[n.ID] = set
	f.mu.Unlock()
	return n
}

func (f *fakeRepo) addAppointment(serviceID uuid.UUID, windowStart time.Time, durationMinutes int) Appointment {
	a := Appointment{
		ID:              uuid.New(),
		ServiceID:       serviceID,
		WindowStart:     windowStart,
		DurationMinutes: durationMinutes,
		Status:          StatusUnassigned,
	}
	f.mu.Lock()
	f.appointments[a.ID] = a
	f.mu.Unlock()
	return a
}

func (f *fakeRepo) addPackage(appointmentID uuid.UUID, taskNames ...string) (CustomerPackage, []Task) {
	p := CustomerPackage{ID: uuid.New(), AppointmentID: appointmentID, Name: "care package"}
	f.mu.Lock()
	f.packages[p.ID] = p
	tasks := make([]Task, 0, len(taskNames))
	for i, name := range taskNames {
		t := Task{
			ID:               uuid.New(),
			PackageID:        p.ID,
			Seq:              i + 1,
			Name:             name,
			EstimatedMinutes: 30,
			Units:            1,
			Status:           TaskPending,
		}
		f.tasks[t.ID] = t
		tasks = append(tasks, t)
	}
	f.mu.Unlock()
	return p, tasks
}

func (f *fakeRepo) setAppointmentStatus(id uuid.UUID, status AppointmentStatus) {
	f.mu.Lock()
	a := f.appointments[id]
	a.Status = status
	f.appointments[id] = a
	f.mu.Unlock()
}

func (f *fakeRepo) taskStatus(id uuid.UUID) TaskStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tasks[id].Status
}

func (f *fakeRepo) appointmentStatus(id uuid.UUID) AppointmentStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.appointments[id].Status
}

func (f *fakeRepo) activeAssignments(appointmentID uuid.UUID) []Assignment {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Assignment
	for _, a := range f.assignments {
		if a.AppointmentID == appointmentID && a.SupersededAt == nil {
			out = append(out, a)
		}
	}
	return out
}

func (f *fakeRepo) activeAssignmentsByNurse(nurseID uuid.UUID) []Assignment {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Assignment
	for _, a := range f.assignments {
		if a.NurseID == nurseID && a.SupersededAt == nil {
			out = append(out, a)
		}
	}
	return out
}

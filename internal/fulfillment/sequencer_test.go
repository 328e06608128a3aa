package fulfillment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// assignedFixture builds a service, nurse, appointment and package with the
// given tasks, with the appointment already assigned.
func assignedFixture(t *testing.T, svc *Service, repo *fakeRepo, taskNames ...string) (Appointment, CustomerPackage, []Task) {
	t.Helper()

	service := repo.addService(0)
	nurse := repo.addNurse("ana", service.ID)
	appt := repo.addAppointment(service.ID, time.Now().Add(2*time.Hour), 60)
	pkg, tasks := repo.addPackage(appt.ID, taskNames...)

	if len(taskNames) > 0 {
		_, err := svc.Assign(context.Background(), appt.ID, nurse.ID)
		require.NoError(t, err)
	}
	return appt, pkg, tasks
}

func TestPackageTasks_NotStartedView(t *testing.T) {
	svc, repo := newTestService(t)
	_, pkg, tasks := assignedFixture(t, svc, repo, "assessment", "treatment", "notes")

	state, err := svc.PackageTasks(context.Background(), pkg.ID)
	require.NoError(t, err)

	assert.Equal(t, PackageNotStarted, state.Status)
	require.NotNil(t, state.EligibleTaskID)
	assert.Equal(t, tasks[0].ID, *state.EligibleTaskID)
	require.Len(t, state.Tasks, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{state.Tasks[0].Seq, state.Tasks[1].Seq, state.Tasks[2].Seq})
}

func TestPackageTasks_EmptyPackageIsConfigError(t *testing.T) {
	svc, repo := newTestService(t)
	service := repo.addService(0)
	appt := repo.addAppointment(service.ID, time.Now().Add(2*time.Hour), 60)
	pkg, _ := repo.addPackage(appt.ID)

	_, err := svc.PackageTasks(context.Background(), pkg.ID)
	require.ErrorIs(t, err, ErrEmptyPackage)
	assert.Equal(t, KindValidation, Classify(err))
}

func TestCompleteTask_StrictOrderWalkthrough(t *testing.T) {
	svc, repo := newTestService(t)
	appt, _, tasks := assignedFixture(t, svc, repo, "assessment", "treatment", "notes")
	ctx := context.Background()

	// Completing task 3 first is blocked and mutates nothing.
	_, err := svc.CompleteTask(ctx, tasks[2].ID, "")
	require.ErrorIs(t, err, ErrOutOfOrderCompletion)
	for _, task := range tasks {
		assert.Equal(t, TaskPending, repo.taskStatus(task.ID))
	}

	// Task 1 is eligible; completing it starts the visit.
	state, err := svc.CompleteTask(ctx, tasks[0].ID, "patient stable")
	require.NoError(t, err)
	assert.Equal(t, PackageInProgress, state.Status)
	assert.Equal(t, StatusInProgress, repo.appointmentStatus(appt.ID))
	require.NotNil(t, state.EligibleTaskID)
	assert.Equal(t, tasks[1].ID, *state.EligibleTaskID)

	// Task 1 again: no longer pending, so no longer completable.
	_, err = svc.CompleteTask(ctx, tasks[0].ID, "")
	require.ErrorIs(t, err, ErrOutOfOrderCompletion)

	_, err = svc.CompleteTask(ctx, tasks[1].ID, "")
	require.NoError(t, err)

	// Final task completes the package and the appointment, and opens the
	// medical record.
	state, err = svc.CompleteTask(ctx, tasks[2].ID, "visit finished")
	require.NoError(t, err)
	assert.Equal(t, PackageComplete, state.Status)
	assert.Nil(t, state.EligibleTaskID)
	assert.Equal(t, StatusCompleted, repo.appointmentStatus(appt.ID))

	record, err := svc.MedicalRecord(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, appt.ID, record.AppointmentID)
	assert.Empty(t, record.Report)
}

func TestCompleteTask_NoteIsAttached(t *testing.T) {
	svc, repo := newTestService(t)
	_, _, tasks := assignedFixture(t, svc, repo, "assessment", "treatment")

	state, err := svc.CompleteTask(context.Background(), tasks[0].ID, "wound healing well")
	require.NoError(t, err)

	require.NotNil(t, state.Tasks[0].NurseNote)
	assert.Equal(t, "wound healing well", *state.Tasks[0].NurseNote)
	assert.NotNil(t, state.Tasks[0].CompletedAt)
}

func TestCompleteTask_RequiresAssignedAppointment(t *testing.T) {
	svc, repo := newTestService(t)
	service := repo.addService(0)
	appt := repo.addAppointment(service.ID, time.Now().Add(2*time.Hour), 60)
	_, tasks := repo.addPackage(appt.ID, "assessment")

	// Still unassigned: nobody is on site to perform care.
	_, err := svc.CompleteTask(context.Background(), tasks[0].ID, "")
	require.ErrorIs(t, err, ErrAssignmentLocked)
	assert.Equal(t, TaskPending, repo.taskStatus(tasks[0].ID))
}

func TestCompleteTask_PersistenceFailureRollsBack(t *testing.T) {
	svc, repo := newTestService(t)
	appt, _, tasks := assignedFixture(t, svc, repo, "assessment", "treatment")

	repo.failNextTaskWrite = true

	_, err := svc.CompleteTask(context.Background(), tasks[0].ID, "lost write")
	require.Error(t, err)
	assert.Equal(t, KindPersistence, Classify(err))

	// The local view never advanced past the durable state.
	assert.Equal(t, TaskPending, repo.taskStatus(tasks[0].ID))
	assert.Equal(t, StatusAssigned, repo.appointmentStatus(appt.ID))

	// The retry succeeds.
	state, err := svc.CompleteTask(context.Background(), tasks[0].ID, "retried")
	require.NoError(t, err)
	assert.Equal(t, PackageInProgress, state.Status)
}

func TestCompleteTask_CompletionHappensExactlyOnce(t *testing.T) {
	svc, repo := newTestService(t)
	appt, _, tasks := assignedFixture(t, svc, repo, "assessment")
	ctx := context.Background()

	_, err := svc.CompleteTask(ctx, tasks[0].ID, "")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, repo.appointmentStatus(appt.ID))

	// A retried completion of the same task does not re-trigger anything.
	_, err = svc.CompleteTask(ctx, tasks[0].ID, "")
	require.ErrorIs(t, err, ErrOutOfOrderCompletion)

	completions := 0
	for _, ev := range repo.eventTypes() {
		if ev == EventAppointmentCompleted {
			completions++
		}
	}
	assert.Equal(t, 1, completions)

	// Exactly one medical record exists.
	record, err := svc.MedicalRecord(ctx, appt.ID)
	require.NoError(t, err)
	again, err := svc.MedicalRecord(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, record.ID, again.ID)
}

func TestWriteNursingReport(t *testing.T) {
	svc, repo := newTestService(t)
	appt, _, tasks := assignedFixture(t, svc, repo, "assessment")
	ctx := context.Background()

	_, err := svc.CompleteTask(ctx, tasks[0].ID, "")
	require.NoError(t, err)

	record, err := svc.MedicalRecord(ctx, appt.ID)
	require.NoError(t, err)

	_, err = svc.WriteNursingReport(ctx, record.ID, "   ")
	require.ErrorIs(t, err, ErrInvalidReport)

	updated, err := svc.WriteNursingReport(ctx, record.ID, "patient recovering, no complications")
	require.NoError(t, err)
	assert.Equal(t, "patient recovering, no complications", updated.Report)
}

func TestMedicalRecord_AbsentBeforeCompletion(t *testing.T) {
	svc, repo := newTestService(t)
	appt, _, _ := assignedFixture(t, svc, repo, "assessment", "treatment")

	_, err := svc.MedicalRecord(context.Background(), appt.ID)
	require.ErrorIs(t, err, ErrMedicalRecordNotFound)
}

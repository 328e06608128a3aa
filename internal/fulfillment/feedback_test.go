package fulfillment

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// completedFixture runs a single-task appointment to completion and returns
// its medical record.
func completedFixture(t *testing.T, svc *Service, repo *fakeRepo) (Appointment, MedicalRecord) {
	t.Helper()

	appt, _, tasks := assignedFixture(t, svc, repo, "assessment")
	_, err := svc.CompleteTask(context.Background(), tasks[0].ID, "")
	require.NoError(t, err)

	record, err := svc.MedicalRecord(context.Background(), appt.ID)
	require.NoError(t, err)
	return appt, *record
}

func TestSubmitFeedback_RejectsOutOfRangeRating(t *testing.T) {
	svc, repo := newTestService(t)
	_, record := completedFixture(t, svc, repo)

	for _, rating := range []int{0, 6, -1} {
		_, err := svc.SubmitFeedback(context.Background(), record.ID, rating, "ok")
		require.ErrorIs(t, err, ErrInvalidRating)
		assert.Equal(t, KindValidation, Classify(err))
	}

	// Nothing was stored by the rejected attempts.
	_, err := svc.Feedback(context.Background(), record.ID)
	require.ErrorIs(t, err, ErrFeedbackNotFound)
}

func TestSubmitFeedback_Success(t *testing.T) {
	svc, repo := newTestService(t)
	_, record := completedFixture(t, svc, repo)

	fb, err := svc.SubmitFeedback(context.Background(), record.ID, 5, "wonderful care")
	require.NoError(t, err)

	assert.Equal(t, record.ID, fb.MedicalRecordID)
	assert.Equal(t, 5, fb.Rating)
	assert.Equal(t, "wonderful care", fb.Content)
	assert.Contains(t, repo.eventTypes(), EventFeedbackSubmitted)

	got, err := svc.Feedback(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, fb.ID, got.ID)
}

func TestSubmitFeedback_WriteOnce(t *testing.T) {
	svc, repo := newTestService(t)
	_, record := completedFixture(t, svc, repo)

	first, err := svc.SubmitFeedback(context.Background(), record.ID, 4, "good")
	require.NoError(t, err)

	// A repeat submission is rejected but hands back the stored feedback,
	// unchanged.
	again, err := svc.SubmitFeedback(context.Background(), record.ID, 1, "changed my mind")
	require.ErrorIs(t, err, ErrFeedbackAlreadyExists)
	assert.Equal(t, KindConflict, Classify(err))
	require.NotNil(t, again)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 4, again.Rating)
	assert.Equal(t, "good", again.Content)
}

func TestSubmitFeedback_UnknownRecord(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.SubmitFeedback(context.Background(), uuid.New(), 3, "ok")
	require.ErrorIs(t, err, ErrMedicalRecordNotFound)
}

func TestSubmitFeedback_RequiresCompletedAppointment(t *testing.T) {
	svc, repo := newTestService(t)
	appt, record := completedFixture(t, svc, repo)

	// A record whose appointment somehow left the completed state cannot
	// take feedback.
	repo.setAppointmentStatus(appt.ID, StatusCancelled)

	_, err := svc.SubmitFeedback(context.Background(), record.ID, 3, "ok")
	require.Error(t, err)
	assert.Equal(t, KindNotFound, Classify(err))
}

func TestFeedback_NotFound(t *testing.T) {
	svc, repo := newTestService(t)
	_, record := completedFixture(t, svc, repo)

	_, err := svc.Feedback(context.Background(), record.ID)
	require.ErrorIs(t, err, ErrFeedbackNotFound)
}

package fulfillment

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/carebridge/nursing-fulfillment/internal/config"
	redisclient "github.com/carebridge/nursing-fulfillment/internal/redis"
)

const (
	EventAssignmentCommitted  = "ASSIGNMENT_COMMITTED"
	EventAssignmentSuperseded = "ASSIGNMENT_SUPERSEDED"
	EventTaskCompleted        = "TASK_COMPLETED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
	EventFeedbackSubmitted    = "FEEDBACK_SUBMITTED"
)

// Service implements the fulfillment pipeline: availability matching,
// assignment coordination, ordered task completion, completion aggregation and
// the feedback gate. Every operation is a short-lived request/response call;
// there is no background work here.
type Service struct {
	repo   Repository
	locker redisclient.Locker
	cfg    config.Config
	log    *zap.Logger
}

func NewService(repo Repository, locker redisclient.Locker, cfg config.Config, log *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		locker: locker,
		cfg:    cfg,
		log:    log,
	}
}

// storeCtx bounds a backing-store interaction. After the timeout the caller
// treats the operation as failed and safe to retry.
func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.StoreTimeout)
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("marshal event payload", zap.String("event", eventType), zap.Error(err))
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     time.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Warn("insert event log",
			zap.String("event", eventType),
			zap.String("appointment_id", appointmentID.String()),
			zap.Error(err))
	}
}

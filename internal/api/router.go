package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/carebridge/nursing-fulfillment/internal/fulfillment"
)

type RouterConfig struct {
	Service *fulfillment.Service
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Logger  *zap.Logger
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Get("/nurses/available", findAvailableHandler(cfg.Service))

	r.Post("/appointments/{id}/assign", assignHandler(cfg.Service))
	r.Get("/appointments/{id}/assignment", activeAssignmentHandler(cfg.Service))
	r.Get("/appointments/{id}/medical-record", medicalRecordHandler(cfg.Service))

	r.Get("/packages/{id}/tasks", packageTasksHandler(cfg.Service))
	r.Post("/tasks/{id}/complete", completeTaskHandler(cfg.Service))

	r.Put("/medical-records/{id}/report", writeReportHandler(cfg.Service))
	r.Get("/medical-records/{id}/feedback", getFeedbackHandler(cfg.Service))
	r.Post("/medical-records/{id}/feedback", submitFeedbackHandler(cfg.Service))

	return r
}

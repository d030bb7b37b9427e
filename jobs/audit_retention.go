package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-sms/meridian-sms/internal/audit"
	jobmetrics "github.com/meridian-sms/meridian-sms/internal/jobs"
)

// AuditRetentionJob deletes audit entries older than the configured window.
type AuditRetentionJob struct {
	Service *audit.Service
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewAuditRetentionJob wires dependencies for the retention handler.
func NewAuditRetentionJob(service *audit.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditRetentionJob {
	return &AuditRetentionJob{Service: service, Logger: logger, Metrics: metrics}
}

// Handle processes TaskAuditRetention tasks.
func (j *AuditRetentionJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("audit retention: handler not configured")
	}
	var payload AuditRetentionPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.RetentionHours <= 0 {
		return asynq.SkipRetry
	}

	retention := time.Duration(payload.RetentionHours) * time.Hour
	tracker := j.metrics().Track(TaskAuditRetention)
	purged, err := j.Service.PurgeOlderThan(ctx, retention)
	if err = tracker.End(err); err != nil {
		j.logger().Error("audit retention failed", slog.Any("error", err))
		return err
	}

	j.metrics().AddReaped("audit_logs", purged)
	j.logger().Info("audit retention complete",
		slog.Int64("purged", purged),
		slog.Int("retention_hours", payload.RetentionHours))
	return nil
}

func (j *AuditRetentionJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *AuditRetentionJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

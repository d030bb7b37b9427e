package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/meridian-sms/meridian-sms/internal/auth"
	jobmetrics "github.com/meridian-sms/meridian-sms/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// SessionSweepJob bulk-revokes sessions whose access and refresh expiries
// have both passed, so the sessions table reflects reality between logins.
type SessionSweepJob struct {
	Repo    auth.Repository
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewSessionSweepJob wires dependencies for the sweep handler.
func NewSessionSweepJob(repo auth.Repository, logger *slog.Logger, metrics *jobmetrics.Metrics) *SessionSweepJob {
	return &SessionSweepJob{Repo: repo, Logger: logger, Metrics: metrics}
}

// Handle processes TaskSessionSweep tasks.
func (j *SessionSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Repo == nil {
		return errors.New("session sweep: handler not configured")
	}
	var payload SessionSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskSessionSweep)
	swept, err := j.Repo.SweepExpiredSessions(ctx)
	if err = tracker.End(err); err != nil {
		j.logger().Error("session sweep failed", slog.Any("error", err))
		return err
	}

	j.metrics().AddReaped("sessions", swept)
	j.logger().Info("session sweep complete",
		slog.Int64("swept", swept),
		slog.String("reason", payload.Reason))
	return nil
}

func (j *SessionSweepJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *SessionSweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

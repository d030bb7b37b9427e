package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSessionSweep revokes sessions whose expiry already passed.
	TaskSessionSweep = "session:sweep"
	// TaskAuditRetention purges audit entries past the retention window.
	TaskAuditRetention = "audit:retention"
)

// SessionSweepPayload scopes a session sweep run.
type SessionSweepPayload struct {
	Reason string `json:"reason"`
}

// AuditRetentionPayload carries the retention window in hours.
type AuditRetentionPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewSessionSweepTask constructs an Asynq task for the session sweep.
func NewSessionSweepTask(reason string) (*asynq.Task, error) {
	data, err := json.Marshal(SessionSweepPayload{Reason: reason})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSessionSweep, data), nil
}

// NewAuditRetentionTask constructs an Asynq task for the audit purge.
func NewAuditRetentionTask(retentionHours int) (*asynq.Task, error) {
	data, err := json.Marshal(AuditRetentionPayload{RetentionHours: retentionHours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditRetention, data), nil
}

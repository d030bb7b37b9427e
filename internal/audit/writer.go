package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-sms/meridian-sms/internal/observability"
)

// writeTimeout bounds the best-effort attempt so a slow sink never holds
// the latency-sensitive auth path.
const writeTimeout = 2 * time.Second

// Writer appends audit entries. It is observability, not a transactional
// participant: Record returns its error so the contract is visible in the
// signature, and callers deliberately discard it.
type Writer struct {
	repo    Repository
	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewWriter constructs a Writer.
func NewWriter(repo Repository, logger *slog.Logger, metrics *observability.Metrics) *Writer {
	return &Writer{repo: repo, logger: logger, metrics: metrics, now: time.Now}
}

// Record attempts the append. A write failure is logged and counted, never
// escalated. High-risk or failed entries are additionally surfaced to
// operational logging for alerting.
func (w *Writer) Record(ctx context.Context, entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = w.now().UTC()
	}

	if entry.RiskScore > HighRiskThreshold || !entry.Success {
		attrs := []any{
			slog.String("action", entry.Action),
			slog.String("entity_type", entry.EntityType),
			slog.String("entity_id", entry.EntityID),
			slog.Int("risk_score", entry.RiskScore),
			slog.Bool("success", entry.Success),
			slog.String("ip", entry.IPAddress),
		}
		if entry.ActorID != nil {
			attrs = append(attrs, slog.String("actor_id", *entry.ActorID))
		}
		if entry.ErrorMessage != "" {
			attrs = append(attrs, slog.String("error", entry.ErrorMessage))
		}
		w.logger.Warn("sensitive audit event", attrs...)
	}

	// Detach from the caller's cancellation so an aborted request still
	// leaves a trail, but keep the attempt bounded.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	if err := w.repo.Insert(writeCtx, &entry); err != nil {
		w.logger.Error("audit write failed",
			slog.String("action", entry.Action),
			slog.String("entity_id", entry.EntityID),
			slog.Any("error", err))
		w.metrics.RecordAuditWriteFailure()
		return err
	}
	return nil
}

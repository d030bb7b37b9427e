package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository defines persistence for the audit trail. Entries are insert
// only; the sole delete path is the external retention sweep.
type Repository interface {
	Insert(ctx context.Context, entry *Entry) error
	Query(ctx context.Context, f Filters, limit, offset int) ([]Entry, error)
	Aggregate(ctx context.Context, f Filters) (*Stats, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Insert appends one entry to audit_logs.
func (r *PGRepository) Insert(ctx context.Context, entry *Entry) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO audit_logs (id, actor_id, action, entity_type, entity_id,
			old_values, new_values, metadata, ip_address, user_agent,
			risk_score, success, error_message, execution_time_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NULLIF($13, ''), $14, now())`,
		entry.ID, entry.ActorID, entry.Action, entry.EntityType, entry.EntityID,
		entry.OldValues, entry.NewValues, entry.Metadata, entry.IPAddress, entry.UserAgent,
		entry.RiskScore, entry.Success, entry.ErrorMessage, entry.ExecutionTimeMS)
	return err
}

// Query returns matching entries, newest first.
func (r *PGRepository) Query(ctx context.Context, f Filters, limit, offset int) ([]Entry, error) {
	where, args := buildWhere(f)
	args = append(args, limit, offset)
	sql := fmt.Sprintf(`SELECT id, actor_id, action, entity_type, entity_id,
			old_values, new_values, metadata, COALESCE(ip_address, ''), COALESCE(user_agent, ''),
			risk_score, success, COALESCE(error_message, ''), execution_time_ms, created_at
		FROM audit_logs %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		where, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.EntityType, &e.EntityID,
			&e.OldValues, &e.NewValues, &e.Metadata, &e.IPAddress, &e.UserAgent,
			&e.RiskScore, &e.Success, &e.ErrorMessage, &e.ExecutionTimeMS, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Aggregate computes counts by action, entity type and risk bucket.
func (r *PGRepository) Aggregate(ctx context.Context, f Filters) (*Stats, error) {
	where, args := buildWhere(f)
	stats := &Stats{ByAction: map[string]int64{}, ByEntityType: map[string]int64{}}

	sql := fmt.Sprintf(`SELECT count(*),
			count(*) FILTER (WHERE NOT success),
			count(*) FILTER (WHERE risk_score > %d),
			count(*) FILTER (WHERE risk_score <= 25),
			count(*) FILTER (WHERE risk_score BETWEEN 26 AND 50),
			count(*) FILTER (WHERE risk_score BETWEEN 51 AND 75),
			count(*) FILTER (WHERE risk_score > 75)
		FROM audit_logs %s`, HighRiskThreshold, where)
	if err := r.pool.QueryRow(ctx, sql, args...).Scan(&stats.Total, &stats.Failed, &stats.HighRisk,
		&stats.RiskBucketLow, &stats.RiskBucketMed, &stats.RiskBucketHigh, &stats.RiskBucketGrave); err != nil {
		return nil, err
	}

	actionSQL := fmt.Sprintf(`SELECT action, count(*) FROM audit_logs %s GROUP BY action`, where)
	rows, err := r.pool.Query(ctx, actionSQL, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var action string
		var n int64
		if err := rows.Scan(&action, &n); err != nil {
			return nil, err
		}
		stats.ByAction[action] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	entitySQL := fmt.Sprintf(`SELECT entity_type, count(*) FROM audit_logs %s GROUP BY entity_type`, where)
	entityRows, err := r.pool.Query(ctx, entitySQL, args...)
	if err != nil {
		return nil, err
	}
	defer entityRows.Close()
	for entityRows.Next() {
		var entity string
		var n int64
		if err := entityRows.Scan(&entity, &n); err != nil {
			return nil, err
		}
		stats.ByEntityType[entity] = n
	}
	return stats, entityRows.Err()
}

// DeleteOlderThan removes entries past the retention cutoff and returns the
// count. Only the retention sweep calls this.
func (r *PGRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func buildWhere(f Filters) (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.ActorID != "" {
		add("actor_id = $%d", f.ActorID)
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if f.EntityType != "" {
		add("entity_type = $%d", f.EntityType)
	}
	if !f.From.IsZero() {
		add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("created_at <= $%d", f.To)
	}
	if f.Success != nil {
		add("success = $%d", *f.Success)
	}
	if f.MinRisk > 0 {
		add("risk_score >= $%d", f.MinRisk)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

var _ Repository = (*PGRepository)(nil)

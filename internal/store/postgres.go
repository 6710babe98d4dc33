// Package store persists dispatch history in PostgreSQL. One row lands per
// broadcast; the daemon writes through the executor's history hook and the
// CLI reads the table back for inspection.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oriys/quasar/internal/rpc"
)

// Dispatch is one stored broadcast outcome.
type Dispatch struct {
	CallID      string    `json:"call_id"`
	Group       string    `json:"group"`
	Action      string    `json:"action"`
	Transport   string    `json:"transport"`
	Members     int       `json:"members"`
	Values      int       `json:"values"`
	Faults      int       `json:"faults"`
	Unreachable int       `json:"unreachable"`
	Absent      int       `json:"absent"`
	Resolved    bool      `json:"resolved"`
	Error       string    `json:"error,omitempty"`
	DurationMs  int64     `json:"duration_ms"`
	StartedAt   time.Time `json:"started_at"`
}

// ActionStat aggregates the stored dispatches of one action.
type ActionStat struct {
	Action      string  `json:"action"`
	Dispatches  int64   `json:"dispatches"`
	Resolved    int64   `json:"resolved"`
	AvgDuration float64 `json:"avg_duration_ms"`
}

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	s := &PostgresStore{pool: pool}

	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if s.pool == nil {
		return fmt.Errorf("postgres not initialized")
	}
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS dispatches (
			call_id TEXT PRIMARY KEY,
			group_name TEXT NOT NULL,
			action TEXT NOT NULL,
			transport TEXT NOT NULL,
			members INTEGER NOT NULL,
			value_count INTEGER NOT NULL,
			fault_count INTEGER NOT NULL,
			unreachable_count INTEGER NOT NULL,
			absent_count INTEGER NOT NULL,
			resolved BOOLEAN NOT NULL DEFAULT FALSE,
			error_message TEXT,
			duration_ms BIGINT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_dispatches_started_at ON dispatches(started_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_dispatches_action_time ON dispatches(action, started_at DESC)`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// RecordDispatch stores one broadcast outcome. Replays of the same call ID
// are ignored so retried writes stay harmless.
func (s *PostgresStore) RecordDispatch(ctx context.Context, rec rpc.DispatchRecord) error {
	if rec.CallID == "" {
		return fmt.Errorf("dispatch call id is required")
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO dispatches (call_id, group_name, action, transport, members, value_count, fault_count, unreachable_count, absent_count, resolved, error_message, duration_ms, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (call_id) DO NOTHING
	`, rec.CallID, rec.Group, rec.Action, rec.Transport, rec.Members, rec.Values, rec.Faults, rec.Unreachable, rec.Absent, rec.Resolved, rec.Error, rec.Duration.Milliseconds(), rec.StartedAt)
	if err != nil {
		return fmt.Errorf("record dispatch: %w", err)
	}
	return nil
}

// RecentDispatches returns the newest stored dispatches, newest first.
func (s *PostgresStore) RecentDispatches(ctx context.Context, limit int) ([]*Dispatch, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.pool.Query(ctx, `
		SELECT call_id, group_name, action, transport, members, value_count, fault_count, unreachable_count, absent_count, resolved, error_message, duration_ms, started_at
		FROM dispatches
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list dispatches: %w", err)
	}
	defer rows.Close()

	var dispatches []*Dispatch
	for rows.Next() {
		var d Dispatch
		var errorMessage *string
		if err := rows.Scan(&d.CallID, &d.Group, &d.Action, &d.Transport, &d.Members, &d.Values, &d.Faults, &d.Unreachable, &d.Absent, &d.Resolved, &errorMessage, &d.DurationMs, &d.StartedAt); err != nil {
			return nil, fmt.Errorf("scan dispatch: %w", err)
		}
		if errorMessage != nil {
			d.Error = *errorMessage
		}
		dispatches = append(dispatches, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list dispatches rows: %w", err)
	}
	return dispatches, nil
}

// ActionStats aggregates dispatches per action over the trailing window.
func (s *PostgresStore) ActionStats(ctx context.Context, since time.Duration) ([]ActionStat, error) {
	if since <= 0 {
		since = time.Hour
	}

	rows, err := s.pool.Query(ctx, `
		SELECT
			action,
			COUNT(*) AS dispatches,
			COUNT(*) FILTER (WHERE resolved) AS resolved,
			COALESCE(AVG(duration_ms), 0) AS avg_duration
		FROM dispatches
		WHERE started_at >= NOW() - make_interval(secs => $1::double precision)
		GROUP BY action
		ORDER BY dispatches DESC
	`, since.Seconds())
	if err != nil {
		return nil, fmt.Errorf("action stats: %w", err)
	}
	defer rows.Close()

	stats := make([]ActionStat, 0)
	for rows.Next() {
		var st ActionStat
		if err := rows.Scan(&st.Action, &st.Dispatches, &st.Resolved, &st.AvgDuration); err != nil {
			return nil, fmt.Errorf("scan action stat: %w", err)
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("action stats rows: %w", err)
	}
	return stats, nil
}

// PurgeOlderThan deletes dispatches older than age and reports how many
// rows went away.
func (s *PostgresStore) PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	if age <= 0 {
		return 0, fmt.Errorf("purge age must be positive")
	}

	tag, err := s.pool.Exec(ctx, `
		DELETE FROM dispatches
		WHERE started_at < NOW() - make_interval(secs => $1::double precision)
	`, age.Seconds())
	if err != nil {
		return 0, fmt.Errorf("purge dispatches: %w", err)
	}
	return tag.RowsAffected(), nil
}

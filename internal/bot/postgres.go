package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Compile-time assertion that PostgresStore satisfies the Store interface.
var _ Store = (*PostgresStore)(nil)

const botSchema = `
CREATE TABLE IF NOT EXISTS bot_config (
    id     INT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
    config JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS scheduled_meetings (
    id        TEXT        PRIMARY KEY,
    title     TEXT        NOT NULL,
    platform  TEXT        NOT NULL,
    url       TEXT        NOT NULL DEFAULT '',
    start_at  TIMESTAMPTZ NOT NULL,
    recurring BOOLEAN     NOT NULL DEFAULT FALSE,
    frequency TEXT        NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS bot_activities (
    seq        BIGSERIAL   PRIMARY KEY,
    id         TEXT        NOT NULL,
    type       TEXT        NOT NULL,
    platform   TEXT        NOT NULL DEFAULT '',
    meeting_id TEXT        NOT NULL DEFAULT '',
    at         TIMESTAMPTZ NOT NULL,
    detail     TEXT        NOT NULL DEFAULT ''
)`

// PostgresStore is a [Store] backed by PostgreSQL tables for the bot
// config singleton, the schedule list, and the bounded activity log.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore ensures the bot tables exist on the given pool. The
// pool is shared with the history store; closing it is the owner's job.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if _, err := pool.Exec(ctx, botSchema); err != nil {
		return nil, fmt.Errorf("bot store: init schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Config implements [Store.Config].
func (s *PostgresStore) Config(ctx context.Context) (Config, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT config FROM bot_config WHERE id = 1`).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("bot store: get config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("bot store: decode config: %w", err)
	}
	return cfg, nil
}

// SaveConfig implements [Store.SaveConfig].
func (s *PostgresStore) SaveConfig(ctx context.Context, cfg Config) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("bot store: encode config: %w", err)
	}
	const q = `
		INSERT INTO bot_config (id, config) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET config = EXCLUDED.config`
	if _, err := s.pool.Exec(ctx, q, raw); err != nil {
		return fmt.Errorf("bot store: save config: %w", err)
	}
	return nil
}

// AddSchedule implements [Store.AddSchedule].
func (s *PostgresStore) AddSchedule(ctx context.Context, m ScheduledMeeting) error {
	const q = `
		INSERT INTO scheduled_meetings (id, title, platform, url, start_at, recurring, frequency)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
		    title = EXCLUDED.title, platform = EXCLUDED.platform,
		    url = EXCLUDED.url, start_at = EXCLUDED.start_at,
		    recurring = EXCLUDED.recurring, frequency = EXCLUDED.frequency`
	if _, err := s.pool.Exec(ctx, q,
		m.ID, m.Title, m.Platform, m.URL, m.StartAt, m.Recurring, string(m.Frequency),
	); err != nil {
		return fmt.Errorf("bot store: add schedule: %w", err)
	}
	return nil
}

// RemoveSchedule implements [Store.RemoveSchedule].
func (s *PostgresStore) RemoveSchedule(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM scheduled_meetings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("bot store: remove schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Schedules implements [Store.Schedules].
func (s *PostgresStore) Schedules(ctx context.Context) ([]ScheduledMeeting, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, title, platform, url, start_at, recurring, frequency
		FROM   scheduled_meetings
		ORDER  BY start_at`)
	if err != nil {
		return nil, fmt.Errorf("bot store: schedules: %w", err)
	}
	meetings, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ScheduledMeeting, error) {
		var (
			m    ScheduledMeeting
			freq string
		)
		if err := row.Scan(&m.ID, &m.Title, &m.Platform, &m.URL, &m.StartAt, &m.Recurring, &freq); err != nil {
			return ScheduledMeeting{}, err
		}
		m.Frequency = Frequency(freq)
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("bot store: scan schedules: %w", err)
	}
	return meetings, nil
}

// AppendActivity implements [Store.AppendActivity].
func (s *PostgresStore) AppendActivity(ctx context.Context, a Activity) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("bot store: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	const insert = `
		INSERT INTO bot_activities (id, type, platform, meeting_id, at, detail)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := tx.Exec(ctx, insert,
		a.ID, string(a.Type), a.Platform, a.MeetingID, a.At, a.Detail,
	); err != nil {
		return fmt.Errorf("bot store: append activity: %w", err)
	}

	const trim = `
		DELETE FROM bot_activities
		WHERE seq NOT IN (SELECT seq FROM bot_activities ORDER BY seq DESC LIMIT $1)`
	if _, err := tx.Exec(ctx, trim, ActivityCapacity); err != nil {
		return fmt.Errorf("bot store: trim activities: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("bot store: commit: %w", err)
	}
	return nil
}

// Activities implements [Store.Activities].
func (s *PostgresStore) Activities(ctx context.Context) ([]Activity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, type, platform, meeting_id, at, detail
		FROM   bot_activities
		ORDER  BY seq DESC`)
	if err != nil {
		return nil, fmt.Errorf("bot store: activities: %w", err)
	}
	acts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Activity, error) {
		var (
			a  Activity
			at time.Time
			ty string
		)
		if err := row.Scan(&a.ID, &ty, &a.Platform, &a.MeetingID, &at, &a.Detail); err != nil {
			return Activity{}, err
		}
		a.Type = ActivityType(ty)
		a.At = at
		return a, nil
	})
	if err != nil {
		return nil, fmt.Errorf("bot store: scan activities: %w", err)
	}
	return acts, nil
}

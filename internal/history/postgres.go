package history

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

// recordingsSchema creates the recordings table. seq orders entries by
// insertion so the FIFO bound and the newest-first listing stay consistent
// across restarts.
const recordingsSchema = `
CREATE TABLE IF NOT EXISTS recordings (
    seq         BIGSERIAL PRIMARY KEY,
    id          TEXT        NOT NULL UNIQUE,
    title       TEXT        NOT NULL,
    platform    TEXT        NOT NULL DEFAULT '',
    meeting_id  TEXT        NOT NULL DEFAULT '',
    started_at  TIMESTAMPTZ NOT NULL,
    duration_ns BIGINT      NOT NULL,
    language    TEXT        NOT NULL DEFAULT '',
    transcript  JSONB       NOT NULL,
    summary     JSONB,
    cost        JSONB       NOT NULL,
    search_text TEXT        NOT NULL DEFAULT ''
)`

// PostgresStore is a [Store] backed by a PostgreSQL recordings table.
// All methods are safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to PostgreSQL at dsn and ensures the
// recordings table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("history store: connect: %w", err)
	}
	if _, err := pool.Exec(ctx, recordingsSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history store: init schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Pool exposes the underlying connection pool so stores living in the
// same database can share it.
func (s *PostgresStore) Pool() *pgxpool.Pool { return s.pool }

// Append implements [Store.Append]. The insert and the capacity trim run
// in one transaction so a concurrent Append cannot leave the table over
// the bound.
func (s *PostgresStore) Append(ctx context.Context, rec Recording) error {
	if rec.SearchText == "" {
		rec.SearchText = BuildSearchText(rec)
	}

	transcript, err := json.Marshal(rec.Transcript)
	if err != nil {
		return fmt.Errorf("history store: marshal transcript: %w", err)
	}
	cost, err := json.Marshal(rec.Cost)
	if err != nil {
		return fmt.Errorf("history store: marshal cost: %w", err)
	}
	var summary []byte
	if rec.Summary != nil {
		if summary, err = json.Marshal(rec.Summary); err != nil {
			return fmt.Errorf("history store: marshal summary: %w", err)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("history store: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	const insert = `
		INSERT INTO recordings
		    (id, title, platform, meeting_id, started_at, duration_ns,
		     language, transcript, summary, cost, search_text)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	if _, err := tx.Exec(ctx, insert,
		rec.ID, rec.Title, rec.Platform, rec.MeetingID, rec.StartedAt,
		rec.Duration.Nanoseconds(), rec.Language, transcript, summary, cost,
		rec.SearchText,
	); err != nil {
		return fmt.Errorf("history store: insert: %w", err)
	}

	const trim = `
		DELETE FROM recordings
		WHERE seq NOT IN (SELECT seq FROM recordings ORDER BY seq DESC LIMIT $1)`
	if _, err := tx.Exec(ctx, trim, Capacity); err != nil {
		return fmt.Errorf("history store: trim: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("history store: commit: %w", err)
	}
	return nil
}

const selectColumns = `
	SELECT id, title, platform, meeting_id, started_at, duration_ns,
	       language, transcript, summary, cost, search_text
	FROM   recordings`

// List implements [Store.List].
func (s *PostgresStore) List(ctx context.Context) ([]Recording, error) {
	rows, err := s.pool.Query(ctx, selectColumns+" ORDER BY seq DESC")
	if err != nil {
		return nil, fmt.Errorf("history store: list: %w", err)
	}
	return collectRecordings(rows)
}

// Get implements [Store.Get].
func (s *PostgresStore) Get(ctx context.Context, id string) (Recording, error) {
	rows, err := s.pool.Query(ctx, selectColumns+" WHERE id = $1", id)
	if err != nil {
		return Recording{}, fmt.Errorf("history store: get: %w", err)
	}
	recs, err := collectRecordings(rows)
	if err != nil {
		return Recording{}, err
	}
	if len(recs) == 0 {
		return Recording{}, ErrNotFound
	}
	return recs[0], nil
}

// UpdateTitle implements [Store.UpdateTitle].
func (s *PostgresStore) UpdateTitle(ctx context.Context, id, title string) (Recording, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return Recording{}, err
	}
	rec.Title = title
	rec.SearchText = BuildSearchText(rec)

	const q = `UPDATE recordings SET title = $2, search_text = $3 WHERE id = $1`
	tag, err := s.pool.Exec(ctx, q, id, title, rec.SearchText)
	if err != nil {
		return Recording{}, fmt.Errorf("history store: update title: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Recording{}, ErrNotFound
	}
	return rec, nil
}

// Delete implements [Store.Delete].
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM recordings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("history store: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Clear implements [Store.Clear].
func (s *PostgresStore) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM recordings`); err != nil {
		return fmt.Errorf("history store: clear: %w", err)
	}
	return nil
}

// Search implements [Store.Search] as a case-insensitive substring match
// over the denormalised search text, mirroring the MemStore behaviour.
func (s *PostgresStore) Search(ctx context.Context, query string) ([]Recording, error) {
	rows, err := s.pool.Query(ctx,
		selectColumns+" WHERE search_text LIKE '%' || lower($1) || '%' ORDER BY seq DESC",
		query,
	)
	if err != nil {
		return nil, fmt.Errorf("history store: search: %w", err)
	}
	return collectRecordings(rows)
}

// Ping reports whether the database is reachable. Used by the readiness probe.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// collectRecordings scans pgx rows into Recording values.
func collectRecordings(rows pgx.Rows) ([]Recording, error) {
	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Recording, error) {
		var (
			r          Recording
			durationNS int64
			transcript []byte
			summary    []byte
			cost       []byte
		)
		if err := row.Scan(
			&r.ID, &r.Title, &r.Platform, &r.MeetingID, &r.StartedAt,
			&durationNS, &r.Language, &transcript, &summary, &cost,
			&r.SearchText,
		); err != nil {
			return Recording{}, err
		}
		r.Duration = time.Duration(durationNS)
		if err := json.Unmarshal(transcript, &r.Transcript); err != nil {
			return Recording{}, err
		}
		if len(summary) > 0 {
			r.Summary = &Summary{}
			if err := json.Unmarshal(summary, r.Summary); err != nil {
				return Recording{}, err
			}
		}
		if err := json.Unmarshal(cost, &r.Cost); err != nil {
			return Recording{}, err
		}
		return r, nil
	})
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("history store: scan rows: %w", err)
	}
	if recs == nil {
		recs = []Recording{}
	}
	return recs, nil
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"smartbuilding-advisor/internal/anchor"
	pipeline "smartbuilding-advisor/internal/pipeline/domain"
)

const defaultCursorTable = "anchor_cursors"

// Store persists cursors in Postgres and serializes runs with advisory locks.
type Store struct {
	db    *sql.DB
	table string
}

// NewStore constructs a cursor store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, table: defaultCursorTable}
}

// Get returns the stored anchor.
func (s *Store) Get(ctx context.Context, pipelineName, buildingID string) (time.Time, bool, error) {
	if s == nil || s.db == nil {
		return time.Time{}, false, errors.New("cursor store: nil db")
	}
	var at time.Time
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
SELECT anchor_ts FROM %s WHERE pipeline = $1 AND building_id = $2`, s.table), pipelineName, buildingID).Scan(&at)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return at.UTC(), true, nil
}

// InitIfAbsent inserts the anchor unless a cursor exists and returns the stored value.
func (s *Store) InitIfAbsent(ctx context.Context, pipelineName, buildingID string, at time.Time) (time.Time, error) {
	if s == nil || s.db == nil {
		return time.Time{}, errors.New("cursor store: nil db")
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (pipeline, building_id, anchor_ts, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (pipeline, building_id) DO NOTHING`, s.table), pipelineName, buildingID, at.UTC()); err != nil {
		return time.Time{}, err
	}
	stored, ok, err := s.Get(ctx, pipelineName, buildingID)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return time.Time{}, errors.New("cursor store: insert lost")
	}
	return stored, nil
}

// StepBack atomically subtracts hours from the stored anchor.
func (s *Store) StepBack(ctx context.Context, pipelineName, buildingID string, hours int) (time.Time, bool, error) {
	if s == nil || s.db == nil {
		return time.Time{}, false, errors.New("cursor store: nil db")
	}
	var at time.Time
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
UPDATE %s
SET anchor_ts = anchor_ts - make_interval(hours => $3), updated_at = NOW()
WHERE pipeline = $1 AND building_id = $2
RETURNING anchor_ts`, s.table), pipelineName, buildingID, hours).Scan(&at)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return at.UTC(), true, nil
}

// Lock takes a session advisory lock on a dedicated connection.
func (s *Store) Lock(ctx context.Context, pipelineName, buildingID string) (func(), error) {
	if s == nil || s.db == nil {
		return nil, errors.New("cursor store: nil db")
	}
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	lockKey := pipelineName + ":" + buildingID
	var acquired bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, lockKey).Scan(&acquired); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if !acquired {
		_ = conn.Close()
		return nil, pipeline.ErrRunInProgress
	}
	return func() {
		_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock(hashtext($1))`, lockKey)
		_ = conn.Close()
	}, nil
}

// List returns cursors of a pipeline ordered by building.
func (s *Store) List(ctx context.Context, pipelineName string) ([]anchor.Cursor, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("cursor store: nil db")
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
SELECT pipeline, building_id, anchor_ts, updated_at
FROM %s
WHERE pipeline = $1
ORDER BY building_id`, s.table), pipelineName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []anchor.Cursor
	for rows.Next() {
		var c anchor.Cursor
		if err := rows.Scan(&c.Pipeline, &c.BuildingID, &c.Anchor, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.Anchor = c.Anchor.UTC()
		c.UpdatedAt = c.UpdatedAt.UTC()
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

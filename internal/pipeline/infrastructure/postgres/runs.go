package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	pipeline "smartbuilding-advisor/internal/pipeline/domain"
)

// CreateRun records a run attempt. Retrying the same run id bumps attempts.
func (s *Store) CreateRun(ctx context.Context, run pipeline.RunRecord) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO pipeline_runs (
	run_id, pipeline, building_id, anchor_ts, config_version, status, attempts, started_at
) VALUES ($1, $2, $3, $4, $5, $6, 1, $7)
ON CONFLICT (run_id) DO UPDATE SET
	status = EXCLUDED.status,
	attempts = pipeline_runs.attempts + 1,
	error = NULL,
	config_version = EXCLUDED.config_version,
	started_at = EXCLUDED.started_at,
	finished_at = NULL`,
		run.RunID, run.Pipeline, run.BuildingID, run.Anchor.UTC(), run.ConfigVersion, string(pipeline.RunRunning), run.StartedAt.UTC())
	return err
}

// FinishRun sets the terminal status of a run.
func (s *Store) FinishRun(ctx context.Context, runID string, status pipeline.RunStatus, reportStatus pipeline.ReportStatus, errMsg string, finishedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE pipeline_runs
SET status = $2, report_status = $3, error = $4, finished_at = $5
WHERE run_id = $1`,
		runID, string(status), nullString(string(reportStatus)), nullString(errMsg), finishedAt.UTC())
	return err
}

// GetRun returns a run record by id.
func (s *Store) GetRun(ctx context.Context, runID string) (pipeline.RunRecord, bool, error) {
	var (
		run                  pipeline.RunRecord
		status, reportStatus string
		errMsg               sql.NullString
		finishedAt           sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
SELECT run_id, pipeline, building_id, anchor_ts, config_version, status,
	COALESCE(report_status, ''), attempts, error, started_at, finished_at
FROM pipeline_runs
WHERE run_id = $1`, runID).Scan(
		&run.RunID, &run.Pipeline, &run.BuildingID, &run.Anchor, &run.ConfigVersion, &status,
		&reportStatus, &run.Attempts, &errMsg, &run.StartedAt, &finishedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return pipeline.RunRecord{}, false, nil
		}
		return pipeline.RunRecord{}, false, err
	}
	run.Anchor = run.Anchor.UTC()
	run.StartedAt = run.StartedAt.UTC()
	run.Status = pipeline.RunStatus(status)
	run.ReportStatus = pipeline.ReportStatus(reportStatus)
	run.Error = errMsg.String
	if finishedAt.Valid {
		run.FinishedAt = finishedAt.Time.UTC()
	}
	return run, true, nil
}

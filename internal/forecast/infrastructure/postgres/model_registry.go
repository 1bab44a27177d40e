package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	forecast "smartbuilding-advisor/internal/forecast/domain"
	pipeline "smartbuilding-advisor/internal/pipeline/domain"
)

const defaultRegistryTable = "model_registry"

// ModelRegistry reads model artifacts stored as JSONB payloads.
type ModelRegistry struct {
	db    *sql.DB
	table string
}

// Option configures the registry.
type Option func(*ModelRegistry)

// WithTable overrides the default table name.
func WithTable(table string) Option {
	return func(r *ModelRegistry) {
		if table != "" {
			r.table = table
		}
	}
}

// NewModelRegistry constructs a registry reader.
func NewModelRegistry(db *sql.DB, opts ...Option) *ModelRegistry {
	r := &ModelRegistry{db: db, table: defaultRegistryTable}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// LoadActive returns the newest active global artifact of a task.
func (r *ModelRegistry) LoadActive(ctx context.Context, task string) (forecast.Artifact, error) {
	if r == nil || r.db == nil {
		return forecast.Artifact{}, errors.New("model registry: nil db")
	}
	query := fmt.Sprintf(`
SELECT model_id, model_type, feature_version, metrics_json, payload, trained_at
FROM %s
WHERE model_scope = 'global'
	AND model_task = $1
	AND is_active = TRUE
ORDER BY trained_at DESC
LIMIT 1`, r.table)

	var modelID, modelType, featureVersion string
	var metricsJSON, payload []byte
	var trainedAt time.Time
	row := r.db.QueryRowContext(ctx, query, task)
	if err := row.Scan(&modelID, &modelType, &featureVersion, &metricsJSON, &payload, &trainedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return forecast.Artifact{}, pipeline.ErrNoActiveModel
		}
		return forecast.Artifact{}, err
	}
	decoded, err := forecast.DecodeArtifact(payload)
	if err != nil {
		return forecast.Artifact{}, err
	}
	artifact := decoded
	artifact.ModelID = modelID
	artifact.ModelType = modelType
	artifact.FeatureVersion = featureVersion
	artifact.TrainedAt = trainedAt.UTC()
	if len(metricsJSON) > 0 {
		metrics, err := decodeMetrics(metricsJSON)
		if err != nil {
			return forecast.Artifact{}, err
		}
		artifact.Metrics = metrics
	}
	return artifact, nil
}

// Register stores an artifact and makes it the only active model of its task.
func (r *ModelRegistry) Register(ctx context.Context, task string, artifact forecast.Artifact, payload []byte, metricsJSON []byte) error {
	if r == nil || r.db == nil {
		return errors.New("model registry: nil db")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
UPDATE %s SET is_active = FALSE WHERE model_scope = 'global' AND model_task = $1`, r.table), task); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (model_id, model_scope, model_task, model_type, feature_version, metrics_json, payload, trained_at, is_active)
VALUES ($1, 'global', $2, $3, $4, $5, $6, $7, TRUE)
ON CONFLICT (model_id) DO UPDATE SET is_active = TRUE`, r.table),
		artifact.ModelID, task, artifact.ModelType, artifact.FeatureVersion, metricsJSON, payload, artifact.TrainedAt.UTC()); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func decodeMetrics(raw []byte) (map[string]float64, error) {
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("model registry: metrics: %w", err)
	}
	out := make(map[string]float64, len(generic))
	for k, v := range generic {
		if f, ok := v.(float64); ok {
			out[k] = f
		}
	}
	return out, nil
}

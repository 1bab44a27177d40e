package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	pipeline "smartbuilding-advisor/internal/pipeline/domain"
)

// Store persists pipeline outputs. Every write is keyed so re-running an
// anchor inserts nothing new.
type Store struct {
	db *sql.DB
}

// NewStore constructs a Store.
func NewStore(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("pipeline store: nil db")
	}
	return &Store{db: db}, nil
}

// SaveEvents appends anomaly events.
func (s *Store) SaveEvents(ctx context.Context, events []pipeline.AnomalyEvent) error {
	if len(events) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, evt := range events {
			details, err := encodeJSON(evt.Details)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
INSERT INTO anomalies_log (
	ts, building_id, unit_id, sensor_type, sensor_id, type,
	value, severity, action, category, details
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (building_id, unit_id, sensor_type, type, ts) DO NOTHING`,
				evt.Timestamp.UTC(), evt.BuildingID, evt.UnitID, string(evt.SensorType), nullString(evt.SensorID), string(evt.Kind),
				nullFloat(evt.Value), string(evt.Severity), string(evt.Action), string(evt.Category), details,
			); err != nil {
				return fmt.Errorf("pipeline store: insert event: %w", err)
			}
		}
		return nil
	})
}

// SaveForecasts appends forecasts.
func (s *Store) SaveForecasts(ctx context.Context, forecasts []pipeline.Forecast) error {
	if len(forecasts) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, f := range forecasts {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO predictions (
	building_id, unit_id, timestamp_created, timestamp_target,
	predicted_kwh_interval, predicted_occupancy_prob, model_id, confidence
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (building_id, unit_id, timestamp_created, timestamp_target) DO NOTHING`,
				f.BuildingID, f.UnitID, f.CreatedAt.UTC(), f.TargetAt.UTC(),
				f.PredictedKWh, nullFloat(f.OccupancyProb), f.ModelID, f.Confidence,
			); err != nil {
				return fmt.Errorf("pipeline store: insert forecast: %w", err)
			}
		}
		return nil
	})
}

// SavePlans appends optimizer plans.
func (s *Store) SavePlans(ctx context.Context, plans []pipeline.Plan) error {
	if len(plans) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, p := range plans {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO optimization_plans (
	building_id, unit_id, timestamp_created, timestamp_target, action, target_temp,
	predicted_kwh, price_per_kwh, estimated_cost, estimated_savings,
	occupancy_prob, cluster_id, priority, reason, risk, confidence
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
ON CONFLICT (building_id, unit_id, timestamp_created) DO NOTHING`,
				p.BuildingID, p.UnitID, p.CreatedAt.UTC(), p.TargetAt.UTC(), string(p.Action), nullFloat(p.TargetTemp),
				p.PredictedKWh, p.PricePerKWh, p.EstimatedCost, p.EstimatedSavings,
				nullFloat(p.OccupancyProb), nullString(p.ClusterID), p.Priority, p.Reason, p.Risk, nullFloat(p.Confidence),
			); err != nil {
				return fmt.Errorf("pipeline store: insert plan: %w", err)
			}
		}
		return nil
	})
}

// SaveDecisions appends decisions.
func (s *Store) SaveDecisions(ctx context.Context, decisions []pipeline.Decision) error {
	if len(decisions) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, d := range decisions {
			notes, err := encodeJSON(d.Notes)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
INSERT INTO decisions_log (
	ts, building_id, unit_id, timestamp_target, action, plan_action, target_temp,
	approved, confidence, mode, predicted_kwh_interval, predicted_occupancy_prob,
	estimated_cost, estimated_savings, notes
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT (building_id, unit_id, ts) DO NOTHING`,
				d.Timestamp.UTC(), d.BuildingID, d.UnitID, nullTime(d.TargetAt), string(d.Action), nullString(string(d.PlanAction)), nullFloat(d.TargetTemp),
				d.Approved, d.Confidence, d.Mode, d.PredictedKWh, nullFloat(d.OccupancyProb),
				d.EstimatedCost, d.EstimatedSavings, notes,
			); err != nil {
				return fmt.Errorf("pipeline store: insert decision: %w", err)
			}
		}
		return nil
	})
}

// SaveReport appends the run-level validation report.
func (s *Store) SaveReport(ctx context.Context, report pipeline.ValidationReport) error {
	blockUnits, err := encodeJSON(nonNil(report.BlockUnits))
	if err != nil {
		return err
	}
	invalidUnits, err := encodeJSON(nonNil(report.InvalidUnits))
	if err != nil {
		return err
	}
	reasons, err := encodeJSON(nonNil(report.Reasons))
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `
INSERT INTO validation_reports (
	building_id, anchor_ts, status, avg_confidence, coverage, bad_ratio,
	total_units, block_units, invalid_units, reasons
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (building_id, anchor_ts) DO NOTHING`,
		report.BuildingID, report.Anchor.UTC(), string(report.Status), report.AvgConfidence, report.Coverage, report.BadRatio,
		report.TotalUnits, blockUnits, invalidUnits, reasons,
	); err != nil {
		return fmt.Errorf("pipeline store: insert report: %w", err)
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func encodeJSON(value any) ([]byte, error) {
	if value == nil {
		return []byte("{}"), nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("pipeline store: encode json: %w", err)
	}
	return payload, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullTime(v time.Time) sql.NullTime {
	if v.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: v.UTC(), Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	out := v.Float64
	return &out
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

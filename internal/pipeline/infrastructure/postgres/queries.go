package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	pipeline "smartbuilding-advisor/internal/pipeline/domain"
	"smartbuilding-advisor/internal/telemetry/domain"
)

const defaultListLimit = 500

// ListEvents returns anomaly events newest first.
func (s *Store) ListEvents(ctx context.Context, filter pipeline.ListFilter) ([]pipeline.AnomalyEvent, error) {
	where, args := buildWhere(filter, "ts", true)
	rows, err := s.db.QueryContext(ctx, `
SELECT ts, building_id, unit_id, sensor_type, COALESCE(sensor_id, ''), type,
	value, severity, action, category, details
FROM anomalies_log`+where+`
ORDER BY ts DESC, unit_id, type`+limitClause(filter, &args), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []pipeline.AnomalyEvent
	for rows.Next() {
		var (
			evt                                       pipeline.AnomalyEvent
			sensorType, kind, severity, action, categ string
			value                                     sql.NullFloat64
			details                                   []byte
		)
		if err := rows.Scan(&evt.Timestamp, &evt.BuildingID, &evt.UnitID, &sensorType, &evt.SensorID, &kind,
			&value, &severity, &action, &categ, &details); err != nil {
			return nil, err
		}
		evt.Timestamp = evt.Timestamp.UTC()
		evt.SensorType = telemetry.SensorType(sensorType)
		evt.Kind = pipeline.EventKind(kind)
		evt.Value = floatPtr(value)
		evt.Severity = pipeline.Severity(severity)
		evt.Action = pipeline.EventAction(action)
		evt.Category = pipeline.Category(categ)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &evt.Details); err != nil {
				return nil, fmt.Errorf("pipeline store: decode details: %w", err)
			}
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}

// ListDecisions returns decisions newest first.
func (s *Store) ListDecisions(ctx context.Context, filter pipeline.ListFilter) ([]pipeline.Decision, error) {
	where, args := buildWhere(filter, "ts", true)
	rows, err := s.db.QueryContext(ctx, `
SELECT ts, building_id, unit_id, timestamp_target, action, COALESCE(plan_action, ''), target_temp,
	approved, confidence, mode, predicted_kwh_interval, predicted_occupancy_prob,
	estimated_cost, estimated_savings, notes
FROM decisions_log`+where+`
ORDER BY ts DESC, unit_id`+limitClause(filter, &args), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []pipeline.Decision
	for rows.Next() {
		var (
			d                  pipeline.Decision
			targetAt           sql.NullTime
			action, planAction string
			targetTemp, occ    sql.NullFloat64
			notes              []byte
		)
		if err := rows.Scan(&d.Timestamp, &d.BuildingID, &d.UnitID, &targetAt, &action, &planAction, &targetTemp,
			&d.Approved, &d.Confidence, &d.Mode, &d.PredictedKWh, &occ,
			&d.EstimatedCost, &d.EstimatedSavings, &notes); err != nil {
			return nil, err
		}
		d.Timestamp = d.Timestamp.UTC()
		if targetAt.Valid {
			d.TargetAt = targetAt.Time.UTC()
		}
		d.Action = pipeline.Action(action)
		d.PlanAction = pipeline.Action(planAction)
		d.TargetTemp = floatPtr(targetTemp)
		d.OccupancyProb = floatPtr(occ)
		if len(notes) > 0 {
			if err := json.Unmarshal(notes, &d.Notes); err != nil {
				return nil, fmt.Errorf("pipeline store: decode notes: %w", err)
			}
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ListReports returns validation reports newest first.
func (s *Store) ListReports(ctx context.Context, filter pipeline.ListFilter) ([]pipeline.ValidationReport, error) {
	where, args := buildWhere(filter, "anchor_ts", false)
	rows, err := s.db.QueryContext(ctx, `
SELECT building_id, anchor_ts, status, avg_confidence, coverage, bad_ratio,
	total_units, block_units, invalid_units, reasons
FROM validation_reports`+where+`
ORDER BY anchor_ts DESC, building_id`+limitClause(filter, &args), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []pipeline.ValidationReport
	for rows.Next() {
		var (
			r                            pipeline.ValidationReport
			status                       string
			blockUnits, invalid, reasons []byte
		)
		if err := rows.Scan(&r.BuildingID, &r.Anchor, &status, &r.AvgConfidence, &r.Coverage, &r.BadRatio,
			&r.TotalUnits, &blockUnits, &invalid, &reasons); err != nil {
			return nil, err
		}
		r.Anchor = r.Anchor.UTC()
		r.Status = pipeline.ReportStatus(status)
		for _, pair := range []struct {
			raw  []byte
			dest *[]string
		}{{blockUnits, &r.BlockUnits}, {invalid, &r.InvalidUnits}, {reasons, &r.Reasons}} {
			if len(pair.raw) == 0 {
				continue
			}
			if err := json.Unmarshal(pair.raw, pair.dest); err != nil {
				return nil, fmt.Errorf("pipeline store: decode report: %w", err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func buildWhere(filter pipeline.ListFilter, tsColumn string, withUnit bool) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter.BuildingID != "" {
		add("building_id = $%d", filter.BuildingID)
	}
	if withUnit && filter.UnitID != "" {
		add("unit_id = $%d", filter.UnitID)
	}
	if !filter.From.IsZero() {
		add(tsColumn+" >= $%d", filter.From.UTC())
	}
	if !filter.To.IsZero() {
		add(tsColumn+" < $%d", filter.To.UTC())
	}
	if len(clauses) == 0 {
		return "", args
	}
	return "\nWHERE " + strings.Join(clauses, "\n\tAND "), args
}

func limitClause(filter pipeline.ListFilter, args *[]any) string {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	*args = append(*args, limit)
	return fmt.Sprintf("\nLIMIT $%d", len(*args))
}

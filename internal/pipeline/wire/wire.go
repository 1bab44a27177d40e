// Package wire holds the JSON shapes of pipeline outputs shared by the HTTP
// API and the advisory stream.
package wire

import (
	"time"

	pipeline "smartbuilding-advisor/internal/pipeline/domain"
)

const timeLayout = time.RFC3339

// Event is the JSON form of an anomaly event.
type Event struct {
	Timestamp  string         `json:"timestamp"`
	BuildingID string         `json:"building_id"`
	UnitID     string         `json:"unit_id"`
	Kind       string         `json:"type"`
	SensorType string         `json:"sensor_type"`
	SensorID   string         `json:"sensor_id,omitempty"`
	Value      *float64       `json:"value"`
	Severity   string         `json:"severity"`
	Action     string         `json:"action"`
	Category   string         `json:"category"`
	Details    map[string]any `json:"details,omitempty"`
}

// Decision is the JSON form of a unit decision.
type Decision struct {
	Timestamp        string   `json:"timestamp"`
	BuildingID       string   `json:"building_id"`
	UnitID           string   `json:"unit_id"`
	TargetAt         string   `json:"timestamp_target,omitempty"`
	Action           string   `json:"action"`
	PlanAction       string   `json:"plan_action,omitempty"`
	TargetTemp       *float64 `json:"target_temp"`
	Approved         bool     `json:"approved"`
	Confidence       float64  `json:"confidence"`
	Mode             string   `json:"mode"`
	PredictedKWh     float64  `json:"predicted_kwh_interval"`
	OccupancyProb    *float64 `json:"predicted_occupancy_prob"`
	EstimatedCost    float64  `json:"estimated_cost"`
	EstimatedSavings float64  `json:"estimated_savings"`
	Notes            []string `json:"notes"`
}

// Report is the JSON form of a validation report.
type Report struct {
	BuildingID    string   `json:"building_id"`
	Anchor        string   `json:"anchor"`
	Status        string   `json:"status"`
	AvgConfidence float64  `json:"avg_confidence"`
	Coverage      float64  `json:"coverage"`
	BadRatio      float64  `json:"bad_ratio"`
	TotalUnits    int      `json:"total_units"`
	BlockUnits    []string `json:"block_units"`
	InvalidUnits  []string `json:"invalid_units"`
	Reasons       []string `json:"reasons"`
}

// Run is the JSON form of a run outcome.
type Run struct {
	RunID      string `json:"run_id"`
	BuildingID string `json:"building_id"`
	Anchor     string `json:"anchor"`
	NextAnchor string `json:"next_anchor,omitempty"`
	Status     string `json:"status"`
	Report     string `json:"report_status,omitempty"`
	Events     int    `json:"events"`
	Forecasts  int    `json:"forecasts"`
	Plans      int    `json:"plans"`
	Decisions  int    `json:"decisions"`
	Error      string `json:"error,omitempty"`
}

// FromEvent converts an anomaly event.
func FromEvent(e pipeline.AnomalyEvent) Event {
	return Event{
		Timestamp:  formatTime(e.Timestamp),
		BuildingID: e.BuildingID,
		UnitID:     e.UnitID,
		Kind:       string(e.Kind),
		SensorType: string(e.SensorType),
		SensorID:   e.SensorID,
		Value:      e.Value,
		Severity:   string(e.Severity),
		Action:     string(e.Action),
		Category:   string(e.Category),
		Details:    e.Details,
	}
}

// FromDecision converts a decision.
func FromDecision(d pipeline.Decision) Decision {
	notes := d.Notes
	if notes == nil {
		notes = []string{}
	}
	return Decision{
		Timestamp:        formatTime(d.Timestamp),
		BuildingID:       d.BuildingID,
		UnitID:           d.UnitID,
		TargetAt:         formatTime(d.TargetAt),
		Action:           string(d.Action),
		PlanAction:       string(d.PlanAction),
		TargetTemp:       d.TargetTemp,
		Approved:         d.Approved,
		Confidence:       d.Confidence,
		Mode:             d.Mode,
		PredictedKWh:     d.PredictedKWh,
		OccupancyProb:    d.OccupancyProb,
		EstimatedCost:    d.EstimatedCost,
		EstimatedSavings: d.EstimatedSavings,
		Notes:            notes,
	}
}

// FromReport converts a validation report.
func FromReport(r pipeline.ValidationReport) Report {
	return Report{
		BuildingID:    r.BuildingID,
		Anchor:        formatTime(r.Anchor),
		Status:        string(r.Status),
		AvgConfidence: r.AvgConfidence,
		Coverage:      r.Coverage,
		BadRatio:      r.BadRatio,
		TotalUnits:    r.TotalUnits,
		BlockUnits:    nonNil(r.BlockUnits),
		InvalidUnits:  nonNil(r.InvalidUnits),
		Reasons:       nonNil(r.Reasons),
	}
}

// FromRunContext summarizes a finished run.
func FromRunContext(rc pipeline.RunContext) Run {
	out := Run{
		RunID:      rc.RunID,
		BuildingID: rc.BuildingID,
		Anchor:     formatTime(rc.Anchor),
		Status:     string(pipeline.RunSucceeded),
		Events:     len(rc.Events),
		Forecasts:  len(rc.Forecasts),
		Plans:      len(rc.Plans),
		Decisions:  len(rc.Decisions),
	}
	if rc.Report != nil {
		out.Report = string(rc.Report.Status)
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

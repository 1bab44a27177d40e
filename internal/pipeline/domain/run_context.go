package pipeline

import (
	"time"

	"smartbuilding-advisor/internal/telemetry/domain"
)

// RunContext carries one building run through the stages. Stages never
// mutate a context they receive; each returns an extended copy.
type RunContext struct {
	RunID         string
	Pipeline      string
	BuildingID    string
	Anchor        time.Time
	ConfigVersion string

	Snapshot  telemetry.Snapshot
	Validated telemetry.Snapshot
	Events    []AnomalyEvent
	Forecasts []Forecast
	Plans     []Plan
	Report    *ValidationReport
	Decisions []Decision
}

// NewRunContext starts a run for a building at an anchor.
func NewRunContext(runID, pipelineName, buildingID string, anchor time.Time, configVersion string) RunContext {
	return RunContext{
		RunID:         runID,
		Pipeline:      pipelineName,
		BuildingID:    buildingID,
		Anchor:        anchor.UTC(),
		ConfigVersion: configVersion,
	}
}

// WithMonitoring returns a copy carrying DataMonitor output.
func (rc RunContext) WithMonitoring(snapshot, validated telemetry.Snapshot, events []AnomalyEvent) RunContext {
	rc.Snapshot = snapshot
	rc.Validated = validated
	rc.Events = events
	return rc
}

// WithForecasts returns a copy carrying Predictor output.
func (rc RunContext) WithForecasts(forecasts []Forecast) RunContext {
	rc.Forecasts = forecasts
	return rc
}

// WithPlans returns a copy carrying Optimizer output.
func (rc RunContext) WithPlans(plans []Plan) RunContext {
	rc.Plans = plans
	return rc
}

// WithDecisions returns a copy carrying the gate report and decisions.
func (rc RunContext) WithDecisions(report ValidationReport, decisions []Decision) RunContext {
	rc.Report = &report
	rc.Decisions = decisions
	return rc
}

// UnitEvents returns the events of one unit in emission order.
func (rc RunContext) UnitEvents(unitID string) []AnomalyEvent {
	var out []AnomalyEvent
	for _, evt := range rc.Events {
		if evt.UnitID == unitID {
			out = append(out, evt)
		}
	}
	return out
}

// ForecastFor returns the forecast of a unit, if any.
func (rc RunContext) ForecastFor(unitID string) (Forecast, bool) {
	for _, f := range rc.Forecasts {
		if f.UnitID == unitID {
			return f, true
		}
	}
	return Forecast{}, false
}

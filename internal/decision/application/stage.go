package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"

	decision "smartbuilding-advisor/internal/decision/domain"
	"smartbuilding-advisor/internal/observability/metrics"
	"smartbuilding-advisor/internal/pipeline/config"
	pipeline "smartbuilding-advisor/internal/pipeline/domain"
)

// DecisionSink appends decisions; re-runs of the same anchor do not duplicate.
type DecisionSink interface {
	SaveDecisions(ctx context.Context, decisions []pipeline.Decision) error
}

// ReportSink stores one validation report per building run.
type ReportSink interface {
	SaveReport(ctx context.Context, report pipeline.ValidationReport) error
}

// Stage gates the run and decides every planned or blocked unit, or every
// run unit when the whole run is blocked.
type Stage struct {
	decisions DecisionSink
	reports   ReportSink
	cfg       config.Config
	logger    *log.Logger
}

// NewStage constructs the decision stage.
func NewStage(decisions DecisionSink, reports ReportSink, cfg config.Config, logger *log.Logger) (*Stage, error) {
	if decisions == nil {
		return nil, errors.New("decision stage: nil decision sink")
	}
	if reports == nil {
		return nil, errors.New("decision stage: nil report sink")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Stage{decisions: decisions, reports: reports, cfg: cfg, logger: logger}, nil
}

// Run evaluates the gate once, then the guard chain per unit in sorted order.
func (s *Stage) Run(ctx context.Context, rc pipeline.RunContext) (pipeline.RunContext, error) {
	gate := decision.GateInputFrom(rc)
	report := decision.Evaluate(gate, s.cfg.Decision)
	settings := s.cfg.ForBuilding(rc.BuildingID)

	plans := make(map[string]pipeline.Plan, len(rc.Plans))
	unitSet := make(map[string]struct{}, len(rc.Plans)+len(report.BlockUnits))
	for _, p := range rc.Plans {
		plans[p.UnitID] = p
		unitSet[p.UnitID] = struct{}{}
	}
	for _, u := range report.BlockUnits {
		unitSet[u] = struct{}{}
	}
	// a blocked run records no_action for every unit, planned or not
	if report.Status == pipeline.StatusBlocked {
		for _, u := range gate.RunUnits {
			unitSet[u] = struct{}{}
		}
	}
	units := make([]string, 0, len(unitSet))
	for u := range unitSet {
		units = append(units, u)
	}
	sort.Strings(units)

	decisions := make([]pipeline.Decision, 0, len(units))
	approved := 0
	for _, unitID := range units {
		in := decision.UnitInput{
			BuildingID:  rc.BuildingID,
			UnitID:      unitID,
			Anchor:      rc.Anchor,
			Events:      rc.UnitEvents(unitID),
			Report:      report,
			ForceBudget: settings.ForceBudget,
		}
		if p, ok := plans[unitID]; ok {
			in.Plan = &p
		}
		if f, ok := rc.ForecastFor(unitID); ok {
			in.Forecast = &f
		}
		d := decision.Decide(in, s.cfg.Decision)
		if d.Approved {
			approved++
		}
		decisions = append(decisions, d)
	}

	if err := s.reports.SaveReport(ctx, report); err != nil {
		return rc, fmt.Errorf("decision stage: save report: %w", err)
	}
	if len(decisions) > 0 {
		if err := s.decisions.SaveDecisions(ctx, decisions); err != nil {
			return rc, fmt.Errorf("decision stage: save decisions: %w", err)
		}
	}
	metrics.IncReport(string(report.Status))
	for _, d := range decisions {
		metrics.IncDecision(string(d.Action), d.Approved)
	}
	s.logger.Printf("event=decide.done building_id=%s run_id=%s status=%s decisions=%d approved=%d blocked_units=%d",
		rc.BuildingID, rc.RunID, report.Status, len(decisions), approved, len(report.BlockUnits))
	return rc.WithDecisions(report, decisions), nil
}

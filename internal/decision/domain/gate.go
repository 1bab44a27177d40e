package decision

import (
	"fmt"
	"sort"
	"time"

	"smartbuilding-advisor/internal/pipeline/config"
	pipeline "smartbuilding-advisor/internal/pipeline/domain"
)

// GateInput is the run-wide view the gate is computed from.
type GateInput struct {
	BuildingID     string
	Anchor         time.Time
	RunUnits       []string
	ValidatedUnits []string
	Forecasts      []pipeline.Forecast
	Events         []pipeline.AnomalyEvent
}

// GateInputFrom collects the gate view of a run context.
func GateInputFrom(rc pipeline.RunContext) GateInput {
	seen := make(map[string]struct{})
	var units []string
	add := func(unitID string) {
		if _, ok := seen[unitID]; ok || unitID == "" {
			return
		}
		seen[unitID] = struct{}{}
		units = append(units, unitID)
	}
	for _, u := range rc.Snapshot.Units() {
		add(u)
	}
	for _, u := range rc.Validated.Units() {
		add(u)
	}
	for _, f := range rc.Forecasts {
		add(f.UnitID)
	}
	sort.Strings(units)
	return GateInput{
		BuildingID:     rc.BuildingID,
		Anchor:         rc.Anchor,
		RunUnits:       units,
		ValidatedUnits: rc.Validated.Units(),
		Forecasts:      rc.Forecasts,
		Events:         rc.Events,
	}
}

// Evaluate computes the run-level validation report once per run.
func Evaluate(in GateInput, cfg config.DecisionConfig) pipeline.ValidationReport {
	report := pipeline.ValidationReport{
		BuildingID:   in.BuildingID,
		Anchor:       in.Anchor.UTC(),
		Status:       pipeline.StatusOK,
		TotalUnits:   len(in.RunUnits),
		BlockUnits:   []string{},
		InvalidUnits: []string{},
		Reasons:      []string{},
	}

	nForecasts := len(in.Forecasts)
	denominator := len(in.ValidatedUnits)
	if nForecasts > denominator {
		denominator = nForecasts
	}
	if denominator > 0 {
		report.Coverage = round4(float64(nForecasts) / float64(denominator))
	}

	var confSum float64
	invalid := make(map[string]struct{})
	for _, f := range in.Forecasts {
		confSum += f.Confidence
		if !f.Valid() {
			invalid[f.UnitID] = struct{}{}
		}
	}
	if nForecasts > 0 {
		report.AvgConfidence = round4(confSum / float64(nForecasts))
	}

	block := make(map[string]struct{})
	for _, evt := range in.Events {
		if evt.Category == pipeline.CategoryDataQuality && evt.Severity.AtLeast(pipeline.SeverityHigh) {
			block[evt.UnitID] = struct{}{}
		}
	}
	report.BlockUnits = sortedKeys(block)
	report.InvalidUnits = sortedKeys(invalid)

	bad := make(map[string]struct{}, len(block)+len(invalid))
	for u := range block {
		bad[u] = struct{}{}
	}
	for u := range invalid {
		bad[u] = struct{}{}
	}
	total := report.TotalUnits
	if total < len(bad) {
		total = len(bad)
	}
	if total > 0 {
		report.BadRatio = round4(float64(len(bad)) / float64(total))
	}

	if report.Coverage < cfg.MinCoverage {
		report.Status = pipeline.StatusDegraded
		report.Reasons = append(report.Reasons, fmt.Sprintf("coverage_low=%.2f", report.Coverage))
	}
	if nForecasts > 0 && report.AvgConfidence < cfg.MinConfidence {
		report.Status = pipeline.StatusDegraded
		report.Reasons = append(report.Reasons, fmt.Sprintf("avg_confidence_low=%.2f", report.AvgConfidence))
	}
	if len(invalid) > 0 {
		report.Status = pipeline.StatusDegraded
		report.Reasons = append(report.Reasons, fmt.Sprintf("invalid_predictions=%d", len(invalid)))
	}
	if total > 0 && report.BadRatio >= cfg.BlockRatio {
		report.Status = pipeline.StatusBlocked
		report.Reasons = append(report.Reasons, fmt.Sprintf("bad_ratio=%.2f", report.BadRatio))
	}
	return report
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

package decision

import (
	"fmt"
	"math"
	"time"

	"smartbuilding-advisor/internal/pipeline/config"
	pipeline "smartbuilding-advisor/internal/pipeline/domain"
)

// UnitInput is everything the guard chain sees for one unit.
type UnitInput struct {
	BuildingID  string
	UnitID      string
	Anchor      time.Time
	Plan        *pipeline.Plan
	Forecast    *pipeline.Forecast
	Events      []pipeline.AnomalyEvent
	Report      pipeline.ValidationReport
	ForceBudget bool
}

// state is the mutable record the guards work on.
type state struct {
	action     pipeline.Action
	targetTemp *float64
	approved   bool
	forced     bool
	confidence float64
	notes      []string
}

func (s *state) note(format string, args ...any) {
	s.notes = append(s.notes, fmt.Sprintf(format, args...))
}

func (s *state) setTarget(v float64) {
	s.targetTemp = &v
}

// energyTiers lists the energy overrides from highest to lowest precedence.
var energyTiers = []pipeline.EventKind{
	pipeline.KindEnergySpike,
	pipeline.KindSustainedHigh,
	pipeline.KindWasteRising,
	pipeline.KindDailyBudgetExceeded,
}

// Decide runs the ordered guard chain for one unit.
func Decide(in UnitInput, cfg config.DecisionConfig) pipeline.Decision {
	d := pipeline.Decision{
		Timestamp:  in.Anchor.UTC(),
		BuildingID: in.BuildingID,
		UnitID:     in.UnitID,
		Mode:       pipeline.ModeLearning,
	}
	if in.Plan != nil {
		d.PlanAction = in.Plan.Action
		d.TargetAt = in.Plan.TargetAt
		d.PredictedKWh = in.Plan.PredictedKWh
		d.OccupancyProb = copyFloat(in.Plan.OccupancyProb)
		d.EstimatedCost = in.Plan.EstimatedCost
		d.EstimatedSavings = in.Plan.EstimatedSavings
	}
	if in.Forecast != nil {
		if d.TargetAt.IsZero() {
			d.TargetAt = in.Forecast.TargetAt
		}
		d.PredictedKWh = in.Forecast.PredictedKWh
		if d.OccupancyProb == nil {
			d.OccupancyProb = copyFloat(in.Forecast.OccupancyProb)
		}
	}

	st := run(in, cfg)
	d.Action = st.action
	d.TargetTemp = st.targetTemp
	d.Approved = st.approved
	d.Confidence = st.confidence
	d.Notes = st.notes
	return d
}

func run(in UnitInput, cfg config.DecisionConfig) state {
	st := state{action: pipeline.ActionNoAction}

	// 1. run-level gate
	if in.Report.Status == pipeline.StatusBlocked {
		st.note("gate:blocked")
		return st
	}
	if in.Report.Blocked(in.UnitID) {
		st.note("gate:block_unit")
		return st
	}
	// 2. unit fail-safe
	for _, evt := range in.Events {
		if evt.IsBlocking() {
			st.note("fail_safe:data_quality_block")
			return st
		}
	}
	if in.Plan == nil {
		st.note("no_plan")
		return st
	}

	// 3. base confidence
	st.action = in.Plan.Action
	st.targetTemp = copyFloat(in.Plan.TargetTemp)
	st.confidence = baseConfidence(in, cfg)
	threshold := cfg.ApproveThreshold
	if in.Report.Status == pipeline.StatusDegraded {
		threshold = cfg.DegradedApproveThreshold
	}
	st.note("conf=%.2f", st.confidence)
	st.note("plan=%s", in.Plan.Action)

	// 4. energy overrides
	byKind := make(map[pipeline.EventKind]pipeline.AnomalyEvent, len(in.Events))
	for _, evt := range in.Events {
		if _, ok := byKind[evt.Kind]; !ok {
			byKind[evt.Kind] = evt
		}
	}
	spike := false
	acted := false
	for _, kind := range energyTiers {
		evt, ok := byKind[kind]
		if !ok {
			continue
		}
		// budget stays in the audit trail even when a higher tier acted
		if acted && kind != pipeline.KindDailyBudgetExceeded {
			st.note("suppressed:%s", kind)
			continue
		}
		switch kind {
		case pipeline.KindEnergySpike:
			spike = true
			acted = true
			st.action = pipeline.ActionEmergencyReduce
			st.setTarget(cfg.Spike.TargetTemp)
			st.approved = true
			st.forced = true
			st.confidence = cfg.Spike.Confidence
			st.note("override:energy_spike=%.3f", eventValue(evt))
		case pipeline.KindSustainedHigh:
			if st.stepDown(cfg.ComfortMinTemp, cfg.Sustained) {
				acted = true
				st.action = pipeline.ActionReduceSustained
				st.approved = true
				st.forced = true
				st.note("override:sustained_high_consumption=%.3f", eventValue(evt))
			} else {
				st.note("noop:sustained_high_consumption")
			}
		case pipeline.KindWasteRising:
			if st.stepDown(cfg.ComfortMinTemp, cfg.Waste) {
				acted = true
				st.action = pipeline.ActionReduceWaste
				st.note("override:energy_waste_rising=%.3f", eventValue(evt))
			} else {
				st.note("noop:energy_waste_rising")
			}
		case pipeline.KindDailyBudgetExceeded:
			overage := detailFloat(evt, "overage_kwh")
			if !acted && in.ForceBudget && overage > cfg.Budget.OverageKWh &&
				st.stepDown(cfg.ComfortMinTemp, config.StepGuardConfig{Step: cfg.Budget.Step}) {
				acted = true
				st.action = pipeline.ActionReduceBudget
				st.approved = true
				st.forced = true
				st.note("override:daily_budget_exceeded=%.3f", overage)
			} else {
				st.note("log:daily_budget_exceeded=%.3f", overage)
			}
		}
	}

	// 5. comfort floor
	if comfort, ok := byKind[pipeline.KindTempBelowComfort]; ok {
		switch {
		case spike:
			st.note("suppressed:%s", pipeline.KindTempBelowComfort)
		case st.targetTemp != nil && *st.targetTemp < cfg.ComfortMinTemp:
			st.setTarget(cfg.ComfortMinTemp)
			st.action = pipeline.ActionMaintainMinComfort
			st.approved = true
			st.forced = true
			st.note("override:temp_below_comfort=%.1f", eventValue(comfort))
		}
	}

	// 6. presence floor
	occ := in.Plan.OccupancyProb
	if occ == nil && in.Forecast != nil {
		occ = in.Forecast.OccupancyProb
	}
	if occ != nil && *occ > cfg.OccupancyPresent && st.targetTemp != nil && *st.targetTemp < cfg.PresenceFloorTemp {
		if spike {
			st.note("suppressed:occ_prob_high")
		} else {
			st.setTarget(cfg.PresenceFloorTemp)
			st.action = pipeline.ActionMaintainOccupied
			st.approved = true
			st.forced = true
			st.note("override:occ_prob_high=%.2f", *occ)
		}
	}

	// 7. approval fallback
	if !st.forced {
		if st.confidence >= threshold {
			st.approved = true
		} else {
			st.approved = false
			st.action = pipeline.ActionMaintain
			st.note("fallback:not_approved")
		}
	}
	return st
}

// stepDown lowers the target by guard.Step while it is above comfortMin +
// guard.Margin, never below comfortMin.
func (s *state) stepDown(comfortMin float64, guard config.StepGuardConfig) bool {
	if s.targetTemp == nil || guard.Step <= 0 {
		return false
	}
	current := *s.targetTemp
	if current <= comfortMin+guard.Margin {
		return false
	}
	s.setTarget(math.Max(current-guard.Step, comfortMin))
	return true
}

func baseConfidence(in UnitInput, cfg config.DecisionConfig) float64 {
	base := 0.5
	switch {
	case in.Forecast != nil:
		base = in.Forecast.Confidence
	case in.Plan.Confidence != nil:
		base = *in.Plan.Confidence
	}
	base = clamp01(base)
	if !in.Plan.Action.Aggressive() {
		return round4(base)
	}
	p := cfg.Penalties
	predicted := in.Plan.PredictedKWh
	if in.Forecast != nil {
		predicted = in.Forecast.PredictedKWh
	}
	occ := in.Plan.OccupancyProb
	if occ == nil && in.Forecast != nil {
		occ = in.Forecast.OccupancyProb
	}
	var penalty float64
	if predicted < p.LowConsumptionKWh {
		penalty += p.LowConsumptionPenalty
	}
	if in.Plan.EstimatedSavings < p.LowSavings {
		penalty += p.LowSavingsPenalty
	}
	if occ != nil && *occ > p.HighOccupancy {
		penalty += p.HighOccupancyPenalty
	}
	return round4(clamp01(base - penalty))
}

func eventValue(evt pipeline.AnomalyEvent) float64 {
	if evt.Value == nil {
		return 0
	}
	return *evt.Value
}

func detailFloat(evt pipeline.AnomalyEvent, key string) float64 {
	switch v := evt.Details[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

package monitoring

import (
	"math"
	"time"

	"smartbuilding-advisor/internal/pipeline/config"
	pipeline "smartbuilding-advisor/internal/pipeline/domain"
	tariff "smartbuilding-advisor/internal/tariff/domain"
	"smartbuilding-advisor/internal/telemetry/domain"
)

// UnitInput is everything the operational detectors see for one unit.
type UnitInput struct {
	BuildingID     string
	UnitID         string
	Latest         telemetry.Sample
	Energy         []telemetry.Sample
	LongEnergy     []telemetry.Sample
	Occupancy      []telemetry.Sample
	Tariff         tariff.Tariff
	DailyBudgetKWh float64
}

// Detector inspects one unit and reports at most one event.
type Detector func(in UnitInput) (pipeline.AnomalyEvent, bool)

// Detectors runs the operational detectors in a fixed order.
type Detectors struct {
	cfg   config.MonitorConfig
	chain []Detector
}

// NewDetectors builds the detector chain from monitor thresholds.
func NewDetectors(cfg config.MonitorConfig) *Detectors {
	d := &Detectors{cfg: cfg}
	d.chain = []Detector{
		d.spike,
		d.unoccupied,
		d.costNow,
		d.drift,
		d.wasteRising,
		d.dailyBudget,
	}
	return d
}

// Detect runs every detector independently.
func (d *Detectors) Detect(in UnitInput) []pipeline.AnomalyEvent {
	var events []pipeline.AnomalyEvent
	for _, detect := range d.chain {
		if evt, ok := detect(in); ok {
			events = append(events, evt)
		}
	}
	return events
}

// SpikeResult describes the tier that fired.
type SpikeResult struct {
	Tier      config.SpikeTier
	Stats     Stats
	Threshold float64
	Fallback  bool
}

// DetectSpike evaluates tiers in order and returns the first that fires.
// With fewer than minSamples baseline values the mean multiplier is used.
func DetectSpike(latest float64, baseline []float64, tiers []config.SpikeTier, minSamples int) (SpikeResult, bool) {
	stats := ComputeStats(baseline)
	if stats.N == 0 || stats.Mean <= 0 {
		return SpikeResult{}, false
	}
	fallback := stats.N < minSamples
	for _, tier := range tiers {
		threshold := stats.Mean + tier.K*stats.Std
		if fallback {
			threshold = tier.MeanMultiplier * stats.Mean
		}
		if latest > threshold {
			return SpikeResult{Tier: tier, Stats: stats, Threshold: threshold, Fallback: fallback}, true
		}
	}
	return SpikeResult{}, false
}

func (d *Detectors) spike(in UnitInput) (pipeline.AnomalyEvent, bool) {
	baseline := valuesBefore(in.Energy, in.Latest.At)
	res, ok := DetectSpike(in.Latest.Value, baseline, d.cfg.Spike.Tiers, d.cfg.MinSamplesForStd)
	if !ok {
		return pipeline.AnomalyEvent{}, false
	}
	details := map[string]any{
		"mean":             round4(res.Stats.Mean),
		"std":              round4(res.Stats.Std),
		"threshold":        round4(res.Threshold),
		"baseline_samples": res.Stats.N,
		"fallback":         res.Fallback,
	}
	if res.Fallback {
		details["mean_multiplier"] = res.Tier.MeanMultiplier
	} else {
		details["k"] = res.Tier.K
	}
	return operationalEvent(in, pipeline.KindEnergySpike, res.Tier.Severity, pipeline.EventActionAlert, in.Latest.Value, details), true
}

func (d *Detectors) unoccupied(in UnitInput) (pipeline.AnomalyEvent, bool) {
	occ, ok := lastAtOrBefore(in.Occupancy, in.Latest.At)
	if !ok || occ.Value != 0 {
		return pipeline.AnomalyEvent{}, false
	}
	occByTime := make(map[time.Time]float64, len(in.Occupancy))
	for _, s := range in.Occupancy {
		occByTime[s.At] = s.Value
	}
	var unocc []float64
	for _, s := range in.Energy {
		if !s.At.Before(in.Latest.At) {
			continue
		}
		v, found := occByTime[s.At]
		if found && v == 0 {
			unocc = append(unocc, s.Value)
		}
	}
	cfg := d.cfg.Unoccupied
	latest := in.Latest.Value
	if len(unocc) == 0 {
		if latest > cfg.NoHistoryKWh {
			details := map[string]any{"threshold": cfg.NoHistoryKWh, "unoccupied_samples": 0}
			return operationalEvent(in, pipeline.KindHighEnergyUnoccupied, pipeline.SeverityMedium, pipeline.EventActionInvestigate, latest, details), true
		}
		return pipeline.AnomalyEvent{}, false
	}
	stats := ComputeStats(unocc)
	threshold := math.Max(cfg.FloorKWh, cfg.MeanMultiplier*stats.Mean)
	if stats.Mean > 0 && latest > threshold {
		details := map[string]any{
			"unoccupied_mean":    round4(stats.Mean),
			"threshold":          round4(threshold),
			"unoccupied_samples": stats.N,
		}
		return operationalEvent(in, pipeline.KindHighEnergyUnoccupied, pipeline.SeverityHigh, pipeline.EventActionAlert, latest, details), true
	}
	return pipeline.AnomalyEvent{}, false
}

func (d *Detectors) costNow(in UnitInput) (pipeline.AnomalyEvent, bool) {
	if in.Tariff.IsLow(in.Latest.At) {
		return pipeline.AnomalyEvent{}, false
	}
	stats := ComputeStats(valuesBefore(in.Energy, in.Latest.At))
	if stats.N == 0 {
		return pipeline.AnomalyEvent{}, false
	}
	cfg := d.cfg.CostNow
	threshold := math.Max(cfg.FloorKWh, cfg.MeanMultiplier*stats.Mean)
	if in.Latest.Value <= threshold {
		return pipeline.AnomalyEvent{}, false
	}
	price := in.Tariff.PriceAt(in.Latest.At)
	details := map[string]any{
		"kwh_interval":  in.Latest.Value,
		"price_per_kwh": price,
		"cost_now":      round4(in.Latest.Value * price),
		"currency":      in.Tariff.Currency,
		"low_tariff":    false,
		"threshold":     round4(threshold),
	}
	return operationalEvent(in, pipeline.KindHighCostNow, pipeline.SeverityMedium, pipeline.EventActionNotify, in.Latest.Value, details), true
}

func (d *Detectors) drift(in UnitInput) (pipeline.AnomalyEvent, bool) {
	cfg := d.cfg.Drift
	minOlder := cfg.MinOlderSamples
	if minOlder < 1 {
		minOlder = 1
	}
	if cfg.RecentSamples <= 0 || len(in.LongEnergy) < cfg.RecentSamples+minOlder {
		return pipeline.AnomalyEvent{}, false
	}
	split := len(in.LongEnergy) - cfg.RecentSamples
	older := ComputeStats(sampleValues(in.LongEnergy[:split]))
	recent := ComputeStats(sampleValues(in.LongEnergy[split:]))
	if older.Mean <= 0 {
		return pipeline.AnomalyEvent{}, false
	}
	margin := (recent.Mean - older.Mean) / older.Mean
	for _, tier := range cfg.Tiers {
		if margin >= tier.Margin {
			details := map[string]any{
				"recent_mean":    round4(recent.Mean),
				"older_mean":     round4(older.Mean),
				"margin":         round4(margin),
				"recent_samples": recent.N,
				"older_samples":  older.N,
			}
			return operationalEvent(in, pipeline.KindSustainedHigh, tier.Severity, pipeline.EventActionNotify, round4(recent.Mean), details), true
		}
	}
	return pipeline.AnomalyEvent{}, false
}

func (d *Detectors) wasteRising(in UnitInput) (pipeline.AnomalyEvent, bool) {
	n := d.cfg.Waste.Samples
	if n < 2 {
		return pipeline.AnomalyEvent{}, false
	}
	occByTime := make(map[time.Time]float64, len(in.Occupancy))
	for _, s := range in.Occupancy {
		occByTime[s.At] = s.Value
	}
	type pair struct {
		energy    float64
		occupancy float64
	}
	var aligned []pair
	for _, s := range in.Energy {
		if occ, ok := occByTime[s.At]; ok {
			aligned = append(aligned, pair{energy: s.Value, occupancy: occ})
		}
	}
	if len(aligned) < n {
		return pipeline.AnomalyEvent{}, false
	}
	tail := aligned[len(aligned)-n:]
	for i := 1; i < len(tail); i++ {
		if tail[i].energy <= tail[i-1].energy {
			return pipeline.AnomalyEvent{}, false
		}
	}
	first, last := tail[0], tail[len(tail)-1]
	if last.occupancy > first.occupancy {
		return pipeline.AnomalyEvent{}, false
	}
	details := map[string]any{
		"energy_start":    first.energy,
		"energy_end":      last.energy,
		"occupancy_start": first.occupancy,
		"occupancy_end":   last.occupancy,
		"samples":         n,
	}
	return operationalEvent(in, pipeline.KindWasteRising, pipeline.SeverityMedium, pipeline.EventActionInvestigate, last.energy, details), true
}

func (d *Detectors) dailyBudget(in UnitInput) (pipeline.AnomalyEvent, bool) {
	cfg := d.cfg.Budget
	budget := in.DailyBudgetKWh
	if budget <= 0 || cfg.Samples <= 0 || len(in.Energy) == 0 {
		return pipeline.AnomalyEvent{}, false
	}
	tail := in.Energy
	if len(tail) > cfg.Samples {
		tail = tail[len(tail)-cfg.Samples:]
	}
	var sum float64
	for _, s := range tail {
		sum += s.Value
	}
	if sum <= budget {
		return pipeline.AnomalyEvent{}, false
	}
	overage := sum - budget
	ratio := overage / budget
	for _, tier := range cfg.Tiers {
		if ratio >= tier.Margin {
			details := map[string]any{
				"sum_kwh":      round4(sum),
				"budget_kwh":   budget,
				"overage_kwh":  round4(overage),
				"overage_cost": round4(overage * in.Tariff.HighPrice),
				"currency":     in.Tariff.Currency,
				"samples":      len(tail),
			}
			return operationalEvent(in, pipeline.KindDailyBudgetExceeded, tier.Severity, pipeline.EventActionNotify, round4(sum), details), true
		}
	}
	return pipeline.AnomalyEvent{}, false
}

func operationalEvent(in UnitInput, kind pipeline.EventKind, severity pipeline.Severity, action pipeline.EventAction, value float64, details map[string]any) pipeline.AnomalyEvent {
	v := value
	return pipeline.AnomalyEvent{
		Timestamp:  in.Latest.At.UTC(),
		BuildingID: in.BuildingID,
		UnitID:     in.UnitID,
		Kind:       kind,
		SensorType: telemetry.SensorEnergy,
		Value:      &v,
		Severity:   severity,
		Action:     action,
		Category:   pipeline.CategoryOperational,
		Details:    details,
	}
}

func lastAtOrBefore(samples []telemetry.Sample, at time.Time) (telemetry.Sample, bool) {
	for i := len(samples) - 1; i >= 0; i-- {
		if !samples[i].At.After(at) {
			return samples[i], true
		}
	}
	return telemetry.Sample{}, false
}

func sampleValues(samples []telemetry.Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Value
	}
	return out
}

package monitoring

import (
	"math"
	"time"

	"smartbuilding-advisor/internal/pipeline/config"
	pipeline "smartbuilding-advisor/internal/pipeline/domain"
	"smartbuilding-advisor/internal/telemetry/domain"
)

// Rule checks one sensor value. A violated Drop rule removes the reading;
// other rules keep it and only raise an event.
type Rule struct {
	Sensor   telemetry.SensorType
	Kind     pipeline.EventKind
	Severity pipeline.Severity
	Action   pipeline.EventAction
	Category pipeline.Category
	Drop     bool
	Violated func(v float64) bool
	Details  func(v float64) map[string]any
}

// DefaultRules builds the rule table from validation bounds. Drop rules of a
// sensor come before its keep rules.
func DefaultRules(cfg config.ValidationConfig) []Rule {
	return []Rule{
		{
			Sensor:   telemetry.SensorEnergy,
			Kind:     pipeline.KindEnergyNegative,
			Severity: pipeline.SeverityHigh,
			Action:   pipeline.EventActionDrop,
			Category: pipeline.CategoryDataQuality,
			Drop:     true,
			Violated: func(v float64) bool { return v < cfg.EnergyMinKWh },
			Details:  func(float64) map[string]any { return map[string]any{"min_kwh": cfg.EnergyMinKWh} },
		},
		{
			Sensor:   telemetry.SensorEnergy,
			Kind:     pipeline.KindEnergyOverCeiling,
			Severity: pipeline.SeverityCritical,
			Action:   pipeline.EventActionDrop,
			Category: pipeline.CategoryDataQuality,
			Drop:     true,
			Violated: func(v float64) bool { return cfg.EnergyCeilingKWh > 0 && v > cfg.EnergyCeilingKWh },
			Details:  func(float64) map[string]any { return map[string]any{"ceiling_kwh": cfg.EnergyCeilingKWh} },
		},
		{
			Sensor:   telemetry.SensorHumidity,
			Kind:     pipeline.KindHumidityOutOfRange,
			Severity: pipeline.SeverityHigh,
			Action:   pipeline.EventActionDrop,
			Category: pipeline.CategoryDataQuality,
			Drop:     true,
			Violated: func(v float64) bool { return v < cfg.HumidityMin || v > cfg.HumidityMax },
			Details: func(float64) map[string]any {
				return map[string]any{"min": cfg.HumidityMin, "max": cfg.HumidityMax}
			},
		},
		{
			Sensor:   telemetry.SensorOccupancy,
			Kind:     pipeline.KindOccupancyInvalid,
			Severity: pipeline.SeverityHigh,
			Action:   pipeline.EventActionDrop,
			Category: pipeline.CategoryDataQuality,
			Drop:     true,
			Violated: func(v float64) bool { return !containsValue(cfg.OccupancyValues, v) },
			Details:  func(float64) map[string]any { return map[string]any{"allowed": cfg.OccupancyValues} },
		},
		{
			Sensor:   telemetry.SensorTempInternal,
			Kind:     pipeline.KindTempSensorFault,
			Severity: pipeline.SeverityHigh,
			Action:   pipeline.EventActionDrop,
			Category: pipeline.CategoryDataQuality,
			Drop:     true,
			Violated: func(v float64) bool { return v < cfg.TempFaultMin || v > cfg.TempFaultMax },
			Details: func(float64) map[string]any {
				return map[string]any{"min": cfg.TempFaultMin, "max": cfg.TempFaultMax}
			},
		},
		{
			Sensor:   telemetry.SensorTempInternal,
			Kind:     pipeline.KindTempBelowComfort,
			Severity: pipeline.SeverityHigh,
			Action:   pipeline.EventActionAlert,
			Category: pipeline.CategoryOperational,
			Violated: func(v float64) bool { return v < cfg.ComfortMin },
			Details:  func(float64) map[string]any { return map[string]any{"comfort_min": cfg.ComfortMin} },
		},
		{
			Sensor:   telemetry.SensorTempInternal,
			Kind:     pipeline.KindTempAboveComfort,
			Severity: pipeline.SeverityHigh,
			Action:   pipeline.EventActionAlert,
			Category: pipeline.CategoryOperational,
			Violated: func(v float64) bool { return v > cfg.ComfortMax },
			Details:  func(float64) map[string]any { return map[string]any{"comfort_max": cfg.ComfortMax} },
		},
	}
}

// Validator splits a snapshot into kept readings and events.
type Validator struct {
	rules []Rule
}

// NewValidator constructs a validator over the default rule table.
func NewValidator(cfg config.ValidationConfig) *Validator {
	return &Validator{rules: DefaultRules(cfg)}
}

// NewValidatorWithRules constructs a validator over a custom rule table.
func NewValidatorWithRules(rules []Rule) *Validator {
	return &Validator{rules: rules}
}

// Validate returns the readings that passed and the events raised. Every
// input reading ends up either in the result or behind a drop event.
// Missing readings are stamped with the anchor.
func (v *Validator) Validate(buildingID string, anchor time.Time, snapshot telemetry.Snapshot) (telemetry.Snapshot, []pipeline.AnomalyEvent) {
	validated := make(telemetry.Snapshot)
	var events []pipeline.AnomalyEvent
	for _, unitID := range snapshot.Units() {
		for _, sensor := range snapshot.SensorTypes(unitID) {
			reading := snapshot[unitID][sensor]
			if reading.Missing() || math.IsNaN(*reading.Value) {
				events = append(events, missingEvent(buildingID, unitID, sensor, anchor, reading))
				continue
			}
			value := *reading.Value
			dropped := false
			for _, rule := range v.rules {
				if rule.Sensor != sensor || !rule.Violated(value) {
					continue
				}
				events = append(events, ruleEvent(buildingID, unitID, reading, rule, value))
				if rule.Drop {
					dropped = true
					break
				}
			}
			if dropped {
				continue
			}
			reading.BuildingID = buildingID
			validated.Put(reading)
		}
	}
	return validated, events
}

func missingEvent(buildingID, unitID string, sensor telemetry.SensorType, anchor time.Time, reading telemetry.Reading) pipeline.AnomalyEvent {
	ts := reading.Timestamp
	reason := "missing_value"
	if ts.IsZero() {
		ts = anchor
		reason = "missing_timestamp"
	}
	return pipeline.AnomalyEvent{
		Timestamp:  ts.UTC(),
		BuildingID: buildingID,
		UnitID:     unitID,
		Kind:       pipeline.KindMissingValue,
		SensorType: sensor,
		Severity:   pipeline.SeverityHigh,
		Action:     pipeline.EventActionDrop,
		Category:   pipeline.CategoryDataQuality,
		Details:    map[string]any{"reason": reason},
	}
}

func ruleEvent(buildingID, unitID string, reading telemetry.Reading, rule Rule, value float64) pipeline.AnomalyEvent {
	v := value
	var details map[string]any
	if rule.Details != nil {
		details = rule.Details(value)
	}
	return pipeline.AnomalyEvent{
		Timestamp:  reading.Timestamp.UTC(),
		BuildingID: buildingID,
		UnitID:     unitID,
		Kind:       rule.Kind,
		SensorType: reading.SensorType,
		Value:      &v,
		Severity:   rule.Severity,
		Action:     rule.Action,
		Category:   rule.Category,
		Details:    details,
	}
}

func containsValue(values []float64, v float64) bool {
	for _, allowed := range values {
		if v == allowed {
			return true
		}
	}
	return false
}

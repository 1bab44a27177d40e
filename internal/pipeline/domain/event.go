package pipeline

import (
	"time"

	"smartbuilding-advisor/internal/telemetry/domain"
)

// EventKind is the closed set of anomaly types.
type EventKind string

const (
	KindMissingValue       EventKind = "missing_value"
	KindEnergyNegative     EventKind = "energy_negative"
	KindEnergyOverCeiling  EventKind = "energy_over_ceiling"
	KindHumidityOutOfRange EventKind = "humidity_out_of_range"
	KindOccupancyInvalid   EventKind = "occupancy_invalid"
	KindTempSensorFault    EventKind = "temp_sensor_fault_extreme"
	KindTempBelowComfort   EventKind = "temp_below_comfort"
	KindTempAboveComfort   EventKind = "temp_above_comfort"

	KindEnergySpike          EventKind = "energy_spike"
	KindHighEnergyUnoccupied EventKind = "high_energy_unoccupied"
	KindHighCostNow          EventKind = "high_cost_now"
	KindSustainedHigh        EventKind = "sustained_high_consumption"
	KindWasteRising          EventKind = "energy_waste_rising"
	KindDailyBudgetExceeded  EventKind = "daily_budget_exceeded"

	KindWeeklyHighVariability EventKind = "weekly_high_variability"
	KindWeeklyBudgetExceeded  EventKind = "weekly_budget_exceeded"
	KindWeeklyRisingTrend     EventKind = "weekly_consumption_rising_trend"
)

// legacyBlockKinds are validator kinds that block at high severity whatever their category.
var legacyBlockKinds = map[EventKind]struct{}{
	KindEnergyNegative:     {},
	KindHumidityOutOfRange: {},
	KindOccupancyInvalid:   {},
}

// IsLegacyBlock reports whether the kind is a validator kind checked without its category.
func (k EventKind) IsLegacyBlock() bool {
	_, ok := legacyBlockKinds[k]
	return ok
}

// Category separates broken data from real but notable behavior.
type Category string

const (
	CategoryDataQuality Category = "data_quality"
	CategoryOperational Category = "operational"
)

// Severity ranks events.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities; unknown values rank lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// AtLeast reports whether s ranks at or above other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// EventAction is the suggested handling of an event.
type EventAction string

const (
	EventActionDrop        EventAction = "drop"
	EventActionAlert       EventAction = "alert"
	EventActionInvestigate EventAction = "investigate"
	EventActionNotify      EventAction = "notify"
	EventActionMonitor     EventAction = "monitor"
)

// AnomalyEvent is an immutable record of a data-quality or operational finding.
type AnomalyEvent struct {
	Timestamp  time.Time
	BuildingID string
	UnitID     string
	Kind       EventKind
	SensorType telemetry.SensorType
	SensorID   string
	Value      *float64
	Severity   Severity
	Action     EventAction
	Category   Category
	Details    map[string]any
}

// IsBlocking reports whether the event excludes its unit from decisions.
func (e AnomalyEvent) IsBlocking() bool {
	if !e.Severity.AtLeast(SeverityHigh) {
		return false
	}
	return e.Category == CategoryDataQuality || e.Kind.IsLegacyBlock()
}

// EventKey identifies an event for idempotent persistence.
type EventKey struct {
	BuildingID string
	UnitID     string
	SensorType telemetry.SensorType
	Kind       EventKind
	Timestamp  time.Time
}

// Key returns the persistence key of the event.
func (e AnomalyEvent) Key() EventKey {
	return EventKey{
		BuildingID: e.BuildingID,
		UnitID:     e.UnitID,
		SensorType: e.SensorType,
		Kind:       e.Kind,
		Timestamp:  e.Timestamp.UTC(),
	}
}

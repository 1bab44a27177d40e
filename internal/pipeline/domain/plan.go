package pipeline

import "time"

// Action is an HVAC recommendation. Plans use the first three; the
// decision guards introduce the rest.
type Action string

const (
	ActionMaintain          Action = "maintain"
	ActionSetbackUnoccupied Action = "setback_unoccupied"
	ActionReduceHighTariff  Action = "reduce_heating_high_tariff"

	ActionNoAction           Action = "no_action"
	ActionEmergencyReduce    Action = "emergency_reduce_heating"
	ActionReduceSustained    Action = "reduce_heating_sustained_high"
	ActionReduceWaste        Action = "reduce_heating_waste_detected"
	ActionReduceBudget       Action = "reduce_heating_budget_exceeded"
	ActionMaintainMinComfort Action = "maintain_min_comfort"
	ActionMaintainOccupied   Action = "maintain_occupied"
)

// Aggressive reports whether the action lowers comfort to save energy.
func (a Action) Aggressive() bool {
	return a == ActionSetbackUnoccupied || a == ActionReduceHighTariff
}

// Plan is a non-authoritative optimizer recommendation for one unit.
type Plan struct {
	BuildingID       string
	UnitID           string
	CreatedAt        time.Time
	TargetAt         time.Time
	Action           Action
	TargetTemp       *float64
	PredictedKWh     float64
	PricePerKWh      float64
	EstimatedCost    float64
	EstimatedSavings float64
	OccupancyProb    *float64
	ClusterID        string
	Priority         float64
	Reason           string
	Risk             float64
	Confidence       *float64
}

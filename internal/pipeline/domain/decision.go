package pipeline

import "time"

// ModeLearning marks decisions that are logged but never executed.
const ModeLearning = "learning"

// Decision is the audited outcome of the guard chain for one unit.
type Decision struct {
	Timestamp        time.Time
	BuildingID       string
	UnitID           string
	TargetAt         time.Time
	Action           Action
	PlanAction       Action
	TargetTemp       *float64
	Approved         bool
	Confidence       float64
	Mode             string
	PredictedKWh     float64
	OccupancyProb    *float64
	EstimatedCost    float64
	EstimatedSavings float64
	Notes            []string
}

// ReportStatus is the run-level gate verdict.
type ReportStatus string

const (
	StatusOK       ReportStatus = "ok"
	StatusDegraded ReportStatus = "degraded"
	StatusBlocked  ReportStatus = "blocked"
)

// ValidationReport summarizes run-level data health for one building run.
type ValidationReport struct {
	BuildingID    string
	Anchor        time.Time
	Status        ReportStatus
	AvgConfidence float64
	Coverage      float64
	BadRatio      float64
	TotalUnits    int
	BlockUnits    []string
	InvalidUnits  []string
	Reasons       []string
}

// Blocked reports whether the unit is in the report's block set.
func (r ValidationReport) Blocked(unitID string) bool {
	for _, id := range r.BlockUnits {
		if id == unitID {
			return true
		}
	}
	return false
}

package pipeline

import (
	"math"
	"time"
)

// Forecast is a short-horizon consumption prediction for one unit.
type Forecast struct {
	BuildingID    string
	UnitID        string
	CreatedAt     time.Time
	TargetAt      time.Time
	PredictedKWh  float64
	OccupancyProb *float64
	ModelID       string
	Confidence    float64
}

// Valid reports whether the forecast can be planned on.
func (f Forecast) Valid() bool {
	if math.IsNaN(f.PredictedKWh) || math.IsInf(f.PredictedKWh, 0) || f.PredictedKWh < 0 {
		return false
	}
	if math.IsNaN(f.Confidence) || f.Confidence < 0 || f.Confidence > 1 {
		return false
	}
	if f.OccupancyProb != nil {
		p := *f.OccupancyProb
		if math.IsNaN(p) || p < 0 || p > 1 {
			return false
		}
	}
	return true
}

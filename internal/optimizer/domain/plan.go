package optimizer

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"smartbuilding-advisor/internal/pipeline/config"
	pipeline "smartbuilding-advisor/internal/pipeline/domain"
	tariff "smartbuilding-advisor/internal/tariff/domain"
)

// Cluster is the behavior group a unit was assigned to.
type Cluster struct {
	ID   string
	Name string
}

// PlanInput is one unit forecast with its pricing context.
type PlanInput struct {
	BuildingID string
	CreatedAt  time.Time
	Forecast   pipeline.Forecast
	Tariff     tariff.Tariff
	Cluster    *Cluster
	Policy     config.Policy
}

// Priority maps a cluster label to a savings priority. The first rule whose
// Match occurs in the label wins.
func Priority(label string, cfg config.OptimizerConfig) float64 {
	if label == "" {
		return cfg.DefaultPriority
	}
	lower := strings.ToLower(label)
	for _, rule := range cfg.Priorities {
		if strings.Contains(lower, strings.ToLower(rule.Match)) {
			return rule.Priority
		}
	}
	return cfg.DefaultPriority
}

// BuildPlan chooses an action for one forecast. Rules are checked in order
// and the first match wins.
func BuildPlan(in PlanInput, cfg config.OptimizerConfig) pipeline.Plan {
	f := in.Forecast
	price := in.Tariff.PriceAt(f.TargetAt)

	var clusterID, label string
	if in.Cluster != nil {
		clusterID = in.Cluster.ID
		label = in.Cluster.Name
		if label == "" {
			label = in.Cluster.ID
		}
	}
	priority := Priority(label, cfg)
	threshold := cfg.ConsumptionThresholdKWh / math.Max(priority, cfg.MinPriority)

	costWeight := in.Policy.CostWeight
	if costWeight <= 0 {
		costWeight = 1
	}

	action := pipeline.ActionMaintain
	target := cfg.TempComfort
	factor := 0.0
	var reason string
	switch {
	case f.OccupancyProb != nil && *f.OccupancyProb < cfg.OccupancyEmpty:
		action = pipeline.ActionSetbackUnoccupied
		target = cfg.TempSetback
		factor = cfg.SavingsSetback * costWeight
		reason = fmt.Sprintf("occ_prob<%g", cfg.OccupancyEmpty)
	case price >= in.Tariff.HighPrice && f.PredictedKWh > threshold:
		action = pipeline.ActionReduceHighTariff
		target = cfg.TempReduce
		factor = cfg.SavingsReduce * costWeight
		reason = "high_tariff_and_high_pred"
	}

	risk := cfg.RiskMaintain
	if action != pipeline.ActionMaintain {
		risk = cfg.RiskAggressive
	}

	kwh := decimal.NewFromFloat(f.PredictedKWh)
	priceDec := decimal.NewFromFloat(price)
	cost := kwh.Mul(priceDec).Round(4)
	savings := kwh.Mul(decimal.NewFromFloat(factor)).Mul(priceDec).Round(4)

	targetTemp := target
	confidence := f.Confidence
	plan := pipeline.Plan{
		BuildingID:       in.BuildingID,
		UnitID:           f.UnitID,
		CreatedAt:        in.CreatedAt.UTC(),
		TargetAt:         f.TargetAt.UTC(),
		Action:           action,
		TargetTemp:       &targetTemp,
		PredictedKWh:     decimal.NewFromFloat(f.PredictedKWh).Round(3).InexactFloat64(),
		PricePerKWh:      priceDec.Round(4).InexactFloat64(),
		EstimatedCost:    cost.InexactFloat64(),
		EstimatedSavings: savings.InexactFloat64(),
		ClusterID:        clusterID,
		Priority:         priority,
		Reason:           reason,
		Risk:             risk,
		Confidence:       &confidence,
	}
	if f.OccupancyProb != nil {
		p := *f.OccupancyProb
		plan.OccupancyProb = &p
	}
	return plan
}

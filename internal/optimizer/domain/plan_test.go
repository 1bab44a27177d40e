package optimizer

import (
	"testing"
	"time"

	"smartbuilding-advisor/internal/pipeline/config"
	pipeline "smartbuilding-advisor/internal/pipeline/domain"
	tariff "smartbuilding-advisor/internal/tariff/domain"
)

func testTariff(t *testing.T) tariff.Tariff {
	t.Helper()
	tf, err := tariff.New("22:00", "06:00", 0.08, 0.18, true, "BAM")
	if err != nil {
		t.Fatalf("tariff: %v", err)
	}
	return tf
}

func prob(v float64) *float64 { return &v }

// Tuesday 12:00 UTC is high tariff.
var highTariffAt = time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)

func TestPriority_OrderedSubstringTable(t *testing.T) {
	cfg := config.Default().Optimizer
	cases := []struct {
		label string
		want  float64
	}{
		{"", 1.0},
		{"Vacant units", 1.5},
		{"minimal_use", 1.5},
		{"Commercial-high", 1.2},
		{"high_consumers", 1.1},
		{"low_use", 0.9},
		{"residential", 1.0},
	}
	for _, tc := range cases {
		if got := Priority(tc.label, cfg); got != tc.want {
			t.Fatalf("priority(%q): expected %v, got %v", tc.label, tc.want, got)
		}
	}
}

func TestBuildPlan_SetbackWhenLikelyEmpty(t *testing.T) {
	cfg := config.Default().Optimizer
	plan := BuildPlan(PlanInput{
		BuildingID: "b1",
		CreatedAt:  highTariffAt,
		Forecast:   pipeline.Forecast{UnitID: "u1", TargetAt: highTariffAt, PredictedKWh: 2.0, OccupancyProb: prob(0.1), Confidence: 0.8},
		Tariff:     testTariff(t),
		Policy:     config.Policy{CostWeight: 1.0},
	}, cfg)
	if plan.Action != pipeline.ActionSetbackUnoccupied || *plan.TargetTemp != 17 {
		t.Fatalf("unexpected plan %+v", plan)
	}
	if plan.EstimatedCost != 0.36 || plan.EstimatedSavings != 0.072 {
		t.Fatalf("unexpected cost/savings %v %v", plan.EstimatedCost, plan.EstimatedSavings)
	}
	if plan.Risk != 0.25 {
		t.Fatalf("expected aggressive risk, got %v", plan.Risk)
	}
}

func TestBuildPlan_ReduceOnHighTariff(t *testing.T) {
	cfg := config.Default().Optimizer
	in := PlanInput{
		BuildingID: "b1",
		CreatedAt:  highTariffAt,
		Forecast:   pipeline.Forecast{UnitID: "u1", TargetAt: highTariffAt, PredictedKWh: 1.0, OccupancyProb: prob(0.9)},
		Tariff:     testTariff(t),
		Cluster:    &Cluster{ID: "c1", Name: "vacant"},
		Policy:     config.Policy{CostWeight: 1.5},
	}
	plan := BuildPlan(in, cfg)
	// threshold 1.2/1.5 = 0.8 < 1.0
	if plan.Action != pipeline.ActionReduceHighTariff || *plan.TargetTemp != 19 {
		t.Fatalf("unexpected plan %+v", plan)
	}
	if plan.EstimatedSavings != 0.027 {
		t.Fatalf("expected policy-weighted savings 0.027, got %v", plan.EstimatedSavings)
	}
	if plan.ClusterID != "c1" || plan.Priority != 1.5 {
		t.Fatalf("unexpected cluster fields %+v", plan)
	}

	in.Cluster = nil
	if plan := BuildPlan(in, cfg); plan.Action != pipeline.ActionMaintain || plan.EstimatedSavings != 0 {
		t.Fatalf("expected maintain below default threshold, got %+v", plan)
	}
}

func TestBuildPlan_LowTariffMaintains(t *testing.T) {
	cfg := config.Default().Optimizer
	night := time.Date(2024, 3, 5, 23, 30, 0, 0, time.UTC)
	plan := BuildPlan(PlanInput{
		BuildingID: "b1",
		CreatedAt:  night,
		Forecast:   pipeline.Forecast{UnitID: "u1", TargetAt: night, PredictedKWh: 5.0, OccupancyProb: prob(0.9)},
		Tariff:     testTariff(t),
	}, cfg)
	if plan.Action != pipeline.ActionMaintain || *plan.TargetTemp != 21 || plan.PricePerKWh != 0.08 {
		t.Fatalf("unexpected plan %+v", plan)
	}
	if plan.EstimatedCost != 0.4 {
		t.Fatalf("expected cost 0.4, got %v", plan.EstimatedCost)
	}
}

package application_test

import (
	"context"
	"io"
	"log"
	"math"
	"testing"
	"time"

	"smartbuilding-advisor/internal/optimizer/application"
	optimizer "smartbuilding-advisor/internal/optimizer/domain"
	optimizermemory "smartbuilding-advisor/internal/optimizer/infrastructure/memory"
	"smartbuilding-advisor/internal/pipeline/config"
	pipeline "smartbuilding-advisor/internal/pipeline/domain"
	pipelinememory "smartbuilding-advisor/internal/pipeline/infrastructure/memory"
	tariff "smartbuilding-advisor/internal/tariff/domain"
)

func TestOptimizer_SkipsInvalidForecastsAndUsesClusters(t *testing.T) {
	anchor := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	tf, err := tariff.New("22:00", "06:00", 0.08, 0.18, true, "BAM")
	if err != nil {
		t.Fatalf("tariff: %v", err)
	}
	clusters := optimizermemory.NewClusters()
	clusters.Assign("b1", "u2", optimizer.Cluster{ID: "c-vacant", Name: "vacant"})
	sink := pipelinememory.NewStore()

	cfg := config.Default()
	cfg.Buildings = map[string]config.BuildingOverride{"b1": {Policy: "aggressive"}}
	opt, err := application.NewOptimizer(tariff.Static{Tariff: tf}, clusters, sink, cfg, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("new optimizer: %v", err)
	}

	occ := 0.9
	rc := pipeline.NewRunContext("run-1", "advisory", "b1", anchor, "test").WithForecasts([]pipeline.Forecast{
		{BuildingID: "b1", UnitID: "u3", TargetAt: anchor, PredictedKWh: math.NaN(), Confidence: 0.8},
		{BuildingID: "b1", UnitID: "u2", TargetAt: anchor, PredictedKWh: 1.0, OccupancyProb: &occ, Confidence: 0.8},
		{BuildingID: "b1", UnitID: "u1", TargetAt: anchor, PredictedKWh: 1.0, OccupancyProb: &occ, Confidence: 0.8},
	})
	out, err := opt.Run(context.Background(), rc)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(out.Plans) != 2 {
		t.Fatalf("expected 2 plans, got %+v", out.Plans)
	}
	if out.Plans[0].UnitID != "u1" || out.Plans[0].Action != pipeline.ActionMaintain {
		t.Fatalf("unexpected first plan %+v", out.Plans[0])
	}
	if out.Plans[1].UnitID != "u2" || out.Plans[1].Action != pipeline.ActionReduceHighTariff {
		t.Fatalf("unexpected second plan %+v", out.Plans[1])
	}
	if out.Plans[1].EstimatedSavings != 0.027 {
		t.Fatalf("expected aggressive policy savings 0.027, got %v", out.Plans[1].EstimatedSavings)
	}
	if stored := sink.Plans("b1"); len(stored) != 2 {
		t.Fatalf("expected 2 stored plans, got %d", len(stored))
	}
}

package application_test

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"smartbuilding-advisor/internal/decision/application"
	"smartbuilding-advisor/internal/pipeline/config"
	pipeline "smartbuilding-advisor/internal/pipeline/domain"
	pipelinememory "smartbuilding-advisor/internal/pipeline/infrastructure/memory"
	"smartbuilding-advisor/internal/telemetry/domain"
)

func TestStage_BlockedUnitsDecidedAndPersisted(t *testing.T) {
	anchor := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	store := pipelinememory.NewStore()
	stage, err := application.NewStage(store, store, config.Default(), log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("new stage: %v", err)
	}

	validated := make(telemetry.Snapshot)
	snapshot := make(telemetry.Snapshot)
	for _, u := range []string{"u1", "u2", "u3"} {
		v := 0.5
		r := telemetry.Reading{BuildingID: "b1", UnitID: u, SensorType: telemetry.SensorEnergy, Timestamp: anchor, Value: &v}
		snapshot.Put(r)
		validated.Put(r)
	}
	neg := -1.0
	snapshot.Put(telemetry.Reading{BuildingID: "b1", UnitID: "u4", SensorType: telemetry.SensorEnergy, Timestamp: anchor, Value: &neg})
	events := []pipeline.AnomalyEvent{{
		Timestamp: anchor, BuildingID: "b1", UnitID: "u4", Kind: pipeline.KindEnergyNegative,
		SensorType: telemetry.SensorEnergy, Value: &neg, Severity: pipeline.SeverityHigh, Category: pipeline.CategoryDataQuality,
	}}

	temp := 21.0
	var forecasts []pipeline.Forecast
	var plans []pipeline.Plan
	for _, u := range []string{"u1", "u2", "u3"} {
		forecasts = append(forecasts, pipeline.Forecast{BuildingID: "b1", UnitID: u, CreatedAt: anchor, TargetAt: anchor.Add(30 * time.Minute), PredictedKWh: 1, Confidence: 0.8})
		plans = append(plans, pipeline.Plan{BuildingID: "b1", UnitID: u, CreatedAt: anchor, TargetAt: anchor.Add(30 * time.Minute), Action: pipeline.ActionMaintain, TargetTemp: &temp, PredictedKWh: 1})
	}

	rc := pipeline.NewRunContext("run-1", "advisory", "b1", anchor, "test").
		WithMonitoring(snapshot, validated, events).
		WithForecasts(forecasts).
		WithPlans(plans)
	out, err := stage.Run(context.Background(), rc)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Report == nil || out.Report.Status != pipeline.StatusOK {
		t.Fatalf("expected ok report, got %+v", out.Report)
	}
	if len(out.Decisions) != 4 {
		t.Fatalf("expected 4 decisions, got %d", len(out.Decisions))
	}
	last := out.Decisions[3]
	if last.UnitID != "u4" || last.Approved || last.Confidence != 0 || last.Action != pipeline.ActionNoAction {
		t.Fatalf("blocked unit must not be approved, got %+v", last)
	}
	for _, d := range out.Decisions[:3] {
		if !d.Approved || d.Mode != pipeline.ModeLearning {
			t.Fatalf("expected approved learning decision, got %+v", d)
		}
	}

	if _, err := stage.Run(context.Background(), rc); err != nil {
		t.Fatalf("re-run: %v", err)
	}
	stored, _ := store.ListDecisions(context.Background(), pipeline.ListFilter{BuildingID: "b1"})
	if len(stored) != 4 {
		t.Fatalf("re-run must not duplicate decisions, got %d", len(stored))
	}
	reports, _ := store.ListReports(context.Background(), pipeline.ListFilter{BuildingID: "b1"})
	if len(reports) != 1 {
		t.Fatalf("expected one report, got %d", len(reports))
	}
}

func TestStage_BlockedRunDecidesEveryUnit(t *testing.T) {
	anchor := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	store := pipelinememory.NewStore()
	stage, err := application.NewStage(store, store, config.Default(), log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("new stage: %v", err)
	}

	units := []string{"u1", "u2", "u3", "u4", "u5"}
	snapshot := make(telemetry.Snapshot)
	validated := make(telemetry.Snapshot)
	for _, u := range units {
		v := 0.5
		r := telemetry.Reading{BuildingID: "b1", UnitID: u, SensorType: telemetry.SensorEnergy, Timestamp: anchor, Value: &v}
		snapshot.Put(r)
		validated.Put(r)
	}
	var events []pipeline.AnomalyEvent
	for _, u := range []string{"u1", "u2"} {
		h := 150.0
		events = append(events, pipeline.AnomalyEvent{
			Timestamp: anchor, BuildingID: "b1", UnitID: u, Kind: pipeline.KindHumidityOutOfRange,
			SensorType: telemetry.SensorHumidity, Value: &h, Severity: pipeline.SeverityHigh, Category: pipeline.CategoryDataQuality,
		})
	}

	// only u1..u3 have enough history for a forecast and plan
	temp := 21.0
	var forecasts []pipeline.Forecast
	var plans []pipeline.Plan
	for _, u := range units[:3] {
		forecasts = append(forecasts, pipeline.Forecast{BuildingID: "b1", UnitID: u, CreatedAt: anchor, TargetAt: anchor.Add(30 * time.Minute), PredictedKWh: 1, Confidence: 0.8})
		plans = append(plans, pipeline.Plan{BuildingID: "b1", UnitID: u, CreatedAt: anchor, TargetAt: anchor.Add(30 * time.Minute), Action: pipeline.ActionMaintain, TargetTemp: &temp, PredictedKWh: 1})
	}

	rc := pipeline.NewRunContext("run-1", "advisory", "b1", anchor, "test").
		WithMonitoring(snapshot, validated, events).
		WithForecasts(forecasts).
		WithPlans(plans)
	out, err := stage.Run(context.Background(), rc)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Report == nil || out.Report.Status != pipeline.StatusBlocked || out.Report.TotalUnits != 5 {
		t.Fatalf("expected blocked report over 5 units, got %+v", out.Report)
	}
	if len(out.Decisions) != len(units) {
		t.Fatalf("expected %d decisions, got %d", len(units), len(out.Decisions))
	}
	for i, d := range out.Decisions {
		if d.UnitID != units[i] {
			t.Fatalf("decision %d: expected unit %s, got %s", i, units[i], d.UnitID)
		}
		if d.Approved || d.Confidence != 0 || d.Action != pipeline.ActionNoAction {
			t.Fatalf("blocked run must force no_action, got %+v", d)
		}
	}
}

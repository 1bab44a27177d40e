package monitoring

import (
	"testing"
	"time"

	"smartbuilding-advisor/internal/pipeline/config"
	pipeline "smartbuilding-advisor/internal/pipeline/domain"
	"smartbuilding-advisor/internal/telemetry/domain"
)

func TestDailyTotals_BucketsByDay(t *testing.T) {
	start := time.Date(2024, time.March, 4, 23, 0, 0, 0, time.UTC)
	samples := []telemetry.Sample{
		{At: start, Value: 1},
		{At: start.Add(30 * time.Minute), Value: 2},
		{At: start.Add(90 * time.Minute), Value: 4},
	}
	totals := DailyTotals(samples)
	if len(totals) != 2 {
		t.Fatalf("expected 2 days, got %d", len(totals))
	}
	if totals[0].KWh != 3 || totals[1].KWh != 4 {
		t.Fatalf("unexpected totals: %+v", totals)
	}
}

func TestAnalyzeWeek(t *testing.T) {
	anchor := time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC)
	daily := make([]DailyTotal, 0, 7)
	for i, kwh := range []float64{5, 10, 12, 15, 18, 20, 45} {
		daily = append(daily, DailyTotal{Day: anchor.AddDate(0, 0, i-7), KWh: kwh})
	}
	events := AnalyzeWeek(WeeklyInput{
		BuildingID: "B001",
		UnitID:     "U1",
		Anchor:     anchor,
		Daily:      daily,
		BudgetKWh:  120,
		Tariff:     dayTariff(t),
	}, config.Default().Weekly)

	want := []pipeline.EventKind{
		pipeline.KindWeeklyHighVariability,
		pipeline.KindWeeklyBudgetExceeded,
		pipeline.KindWeeklyRisingTrend,
	}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %+v", len(want), events)
	}
	for i, kind := range want {
		if events[i].Kind != kind {
			t.Fatalf("event %d: expected %s, got %s", i, kind, events[i].Kind)
		}
		if events[i].Category != pipeline.CategoryOperational || events[i].Details["report"] != "weekly" {
			t.Fatalf("weekly events must be operational weekly reports: %+v", events[i])
		}
	}
	if events[1].Details["overage_kwh"] != 5.0 {
		t.Fatalf("expected 5 kWh overage, got %v", events[1].Details["overage_kwh"])
	}
}

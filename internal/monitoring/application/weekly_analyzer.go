package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	monitoring "smartbuilding-advisor/internal/monitoring/domain"
	"smartbuilding-advisor/internal/observability/metrics"
	"smartbuilding-advisor/internal/pipeline/config"
	pipeline "smartbuilding-advisor/internal/pipeline/domain"
	tariff "smartbuilding-advisor/internal/tariff/domain"
	"smartbuilding-advisor/internal/telemetry/domain"
)

// WeeklyAnalyzer reports week-level consumption findings per unit.
type WeeklyAnalyzer struct {
	readings telemetry.ReadingQuery
	tariffs  tariff.Source
	sink     EventSink
	cfg      config.Config
	logger   *log.Logger
}

// NewWeeklyAnalyzer constructs the weekly analyzer.
func NewWeeklyAnalyzer(readings telemetry.ReadingQuery, tariffs tariff.Source, sink EventSink, cfg config.Config, logger *log.Logger) (*WeeklyAnalyzer, error) {
	if readings == nil || tariffs == nil || sink == nil {
		return nil, errors.New("weekly analyzer: nil dependency")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &WeeklyAnalyzer{readings: readings, tariffs: tariffs, sink: sink, cfg: cfg, logger: logger}, nil
}

// Analyze evaluates the UTC calendar days ending with the anchor's day and
// persists the findings.
func (a *WeeklyAnalyzer) Analyze(ctx context.Context, buildingID string, anchor time.Time) ([]pipeline.AnomalyEvent, error) {
	if buildingID == "" {
		return nil, errors.New("weekly analyzer: building id required")
	}
	if anchor.IsZero() {
		return nil, pipeline.ErrInvalidAnchor
	}
	anchor = anchor.UTC()
	days := a.cfg.Weekly.Days
	if days <= 0 {
		days = 7
	}
	// calendar days ending with the anchor's day; Window excludes its lower
	// bound, so one extra day is fetched and trimmed after bucketing
	start := anchor.Truncate(24*time.Hour).AddDate(0, 0, -(days - 1))
	series, err := a.readings.Window(ctx, buildingID, []telemetry.SensorType{telemetry.SensorEnergy},
		start.AddDate(0, 0, -1), anchor)
	if err != nil {
		return nil, fmt.Errorf("weekly analyzer: window: %w", err)
	}
	t, err := a.tariffs.TariffFor(ctx, buildingID)
	if err != nil {
		return nil, fmt.Errorf("weekly analyzer: tariff: %w", err)
	}
	settings := a.cfg.ForBuilding(buildingID)

	units := make([]string, 0, len(series))
	for unitID := range series {
		units = append(units, unitID)
	}
	sort.Strings(units)

	var events []pipeline.AnomalyEvent
	for _, unitID := range units {
		daily := monitoring.DailyTotals(series.Samples(unitID, telemetry.SensorEnergy))
		for len(daily) > 0 && daily[0].Day.Before(start) {
			daily = daily[1:]
		}
		if len(daily) == 0 {
			continue
		}
		events = append(events, monitoring.AnalyzeWeek(monitoring.WeeklyInput{
			BuildingID: buildingID,
			UnitID:     unitID,
			Anchor:     anchor,
			Daily:      daily,
			BudgetKWh:  settings.WeeklyBudgetKWh,
			Tariff:     t,
		}, a.cfg.Weekly)...)
	}
	if len(events) == 0 {
		return nil, nil
	}
	sensorIDs, err := a.readings.SensorIDs(ctx, buildingID)
	if err != nil {
		return nil, fmt.Errorf("weekly analyzer: sensor ids: %w", err)
	}
	for i := range events {
		events[i].SensorID = sensorIDs[events[i].UnitID][events[i].SensorType]
	}
	if err := a.sink.SaveEvents(ctx, events); err != nil {
		return nil, fmt.Errorf("weekly analyzer: save events: %w", err)
	}
	for _, evt := range events {
		metrics.IncAnomalyEvent(string(evt.Kind), string(evt.Category))
	}
	a.logger.Printf("event=weekly.done building_id=%s anchor=%s events=%d", buildingID, anchor.Format(time.RFC3339), len(events))
	return events, nil
}

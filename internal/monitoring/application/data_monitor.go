package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	monitoring "smartbuilding-advisor/internal/monitoring/domain"
	"smartbuilding-advisor/internal/observability/metrics"
	"smartbuilding-advisor/internal/pipeline/config"
	pipeline "smartbuilding-advisor/internal/pipeline/domain"
	tariff "smartbuilding-advisor/internal/tariff/domain"
	"smartbuilding-advisor/internal/telemetry/domain"
)

// EventSink persists anomaly events idempotently by event key.
type EventSink interface {
	SaveEvents(ctx context.Context, events []pipeline.AnomalyEvent) error
}

// DataMonitor validates the anchor snapshot and runs operational detectors.
type DataMonitor struct {
	readings  telemetry.ReadingQuery
	tariffs   tariff.Source
	sink      EventSink
	cfg       config.Config
	validator *monitoring.Validator
	detectors *monitoring.Detectors
	logger    *log.Logger
}

// NewDataMonitor constructs the monitoring stage.
func NewDataMonitor(readings telemetry.ReadingQuery, tariffs tariff.Source, sink EventSink, cfg config.Config, logger *log.Logger) (*DataMonitor, error) {
	if readings == nil {
		return nil, errors.New("data monitor: nil readings")
	}
	if tariffs == nil {
		return nil, errors.New("data monitor: nil tariff source")
	}
	if sink == nil {
		return nil, errors.New("data monitor: nil event sink")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &DataMonitor{
		readings:  readings,
		tariffs:   tariffs,
		sink:      sink,
		cfg:       cfg,
		validator: monitoring.NewValidator(cfg.Validation),
		detectors: monitoring.NewDetectors(cfg.Monitor),
		logger:    logger,
	}, nil
}

// Run produces the validated snapshot and events for the run's anchor.
func (m *DataMonitor) Run(ctx context.Context, rc pipeline.RunContext) (pipeline.RunContext, error) {
	if rc.BuildingID == "" {
		return rc, errors.New("data monitor: building id required")
	}
	if rc.Anchor.IsZero() {
		return rc, pipeline.ErrInvalidAnchor
	}
	anchor := rc.Anchor.UTC()

	snapshot, err := m.readings.LatestAsOf(ctx, rc.BuildingID, anchor)
	if err != nil {
		return rc, fmt.Errorf("data monitor: latest readings: %w", err)
	}
	validated, events := m.validator.Validate(rc.BuildingID, anchor, snapshot)

	windowHours := m.cfg.Monitor.WindowHours
	lookback := windowHours
	if m.cfg.Monitor.Drift.LookbackHours > lookback {
		lookback = m.cfg.Monitor.Drift.LookbackHours
	}
	series, err := m.readings.Window(ctx, rc.BuildingID,
		[]telemetry.SensorType{telemetry.SensorEnergy, telemetry.SensorOccupancy},
		anchor.Add(-time.Duration(lookback)*time.Hour), anchor)
	if err != nil {
		return rc, fmt.Errorf("data monitor: window: %w", err)
	}
	t, err := m.tariffs.TariffFor(ctx, rc.BuildingID)
	if err != nil {
		return rc, fmt.Errorf("data monitor: tariff: %w", err)
	}
	settings := m.cfg.ForBuilding(rc.BuildingID)
	windowStart := anchor.Add(-time.Duration(windowHours) * time.Hour)
	driftStart := anchor.Add(-time.Duration(m.cfg.Monitor.Drift.LookbackHours) * time.Hour)

	for _, unitID := range validated.Units() {
		reading, ok := validated.Get(unitID, telemetry.SensorEnergy)
		if !ok || reading.Missing() {
			continue
		}
		energy := series.Samples(unitID, telemetry.SensorEnergy)
		in := monitoring.UnitInput{
			BuildingID:     rc.BuildingID,
			UnitID:         unitID,
			Latest:         telemetry.Sample{At: reading.Timestamp.UTC(), Value: *reading.Value},
			Energy:         samplesAfter(energy, windowStart),
			LongEnergy:     samplesAfter(energy, driftStart),
			Occupancy:      samplesAfter(series.Samples(unitID, telemetry.SensorOccupancy), windowStart),
			Tariff:         t,
			DailyBudgetKWh: settings.DailyBudgetKWh,
		}
		events = append(events, m.detectors.Detect(in)...)
	}

	if len(events) > 0 {
		sensorIDs, err := m.readings.SensorIDs(ctx, rc.BuildingID)
		if err != nil {
			return rc, fmt.Errorf("data monitor: sensor ids: %w", err)
		}
		for i := range events {
			events[i].BuildingID = rc.BuildingID
			if events[i].SensorID == "" {
				events[i].SensorID = sensorIDs[events[i].UnitID][events[i].SensorType]
			}
		}
		if err := m.sink.SaveEvents(ctx, events); err != nil {
			return rc, fmt.Errorf("data monitor: save events: %w", err)
		}
	}
	for _, evt := range events {
		metrics.IncAnomalyEvent(string(evt.Kind), string(evt.Category))
	}
	m.logger.Printf("event=monitor.done building_id=%s run_id=%s anchor=%s units=%d validated=%d events=%d",
		rc.BuildingID, rc.RunID, anchor.Format(time.RFC3339), len(snapshot), len(validated), len(events))
	return rc.WithMonitoring(snapshot, validated, events), nil
}

func samplesAfter(samples []telemetry.Sample, from time.Time) []telemetry.Sample {
	for i, s := range samples {
		if s.At.After(from) {
			return samples[i:]
		}
	}
	return nil
}

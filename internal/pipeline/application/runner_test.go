package application_test

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"smartbuilding-advisor/internal/anchor"
	anchormemory "smartbuilding-advisor/internal/anchor/infrastructure/memory"
	decisionapp "smartbuilding-advisor/internal/decision/application"
	forecastapp "smartbuilding-advisor/internal/forecast/application"
	forecast "smartbuilding-advisor/internal/forecast/domain"
	forecastmemory "smartbuilding-advisor/internal/forecast/infrastructure/memory"
	monitoringapp "smartbuilding-advisor/internal/monitoring/application"
	optimizerapp "smartbuilding-advisor/internal/optimizer/application"
	optimizermemory "smartbuilding-advisor/internal/optimizer/infrastructure/memory"
	"smartbuilding-advisor/internal/pipeline/application"
	"smartbuilding-advisor/internal/pipeline/config"
	pipeline "smartbuilding-advisor/internal/pipeline/domain"
	pipelinememory "smartbuilding-advisor/internal/pipeline/infrastructure/memory"
	"smartbuilding-advisor/internal/pipeline/notify"
	tariff "smartbuilding-advisor/internal/tariff/domain"
	"smartbuilding-advisor/internal/telemetry/domain"
	telemetrymemory "smartbuilding-advisor/internal/telemetry/infrastructure/memory"
)

var latest = time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)

type fixture struct {
	readings *telemetrymemory.Store
	cursors  *anchormemory.Store
	cursor   *anchor.Service
	outputs  *pipelinememory.Store
	registry *forecastmemory.Registry
	cfg      config.Config
	logger   *log.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	readings := telemetrymemory.NewStore()
	cursors := anchormemory.NewStore()
	cursor, err := anchor.NewService(cursors, readings)
	if err != nil {
		t.Fatalf("cursor: %v", err)
	}
	registry := forecastmemory.NewRegistry()
	registry.Activate("energy_forecast", lastEnergyArtifact())
	return &fixture{
		readings: readings,
		cursors:  cursors,
		cursor:   cursor,
		outputs:  pipelinememory.NewStore(),
		registry: registry,
		cfg:      config.Default(),
		logger:   log.New(io.Discard, "", 0),
	}
}

func lastEnergyArtifact() forecast.Artifact {
	n := len(forecast.FeatureNames)
	scale := make([]float64, n)
	for i := range scale {
		scale[i] = 1
	}
	coef := make([]float64, n)
	coef[4] = 1
	return forecast.Artifact{
		ModelID:        "lin-1",
		ModelType:      forecast.ModelLinear,
		FeatureVersion: "v1",
		FeatureNames:   append([]string(nil), forecast.FeatureNames...),
		Scaler:         forecast.Scaler{Mean: make([]float64, n), Scale: scale},
		Linear:         &forecast.Linear{Coef: coef},
		Metrics:        map[string]float64{"r2": 0.9},
	}
}

// seedDays writes days of half-hourly readings ending at latest.
func (f *fixture) seedDays(buildingID, unitID string, days int) {
	samples := days * 48
	for i := samples - 1; i >= 0; i-- {
		ts := latest.Add(-time.Duration(i) * 30 * time.Minute)
		f.readings.AddSample(buildingID, unitID, telemetry.SensorEnergy, ts, 0.3)
		f.readings.AddSample(buildingID, unitID, telemetry.SensorOccupancy, ts, 0)
		f.readings.AddSample(buildingID, unitID, telemetry.SensorTempInternal, ts, 21)
	}
}

func (f *fixture) stages(t *testing.T) []application.NamedStage {
	t.Helper()
	tr, err := tariff.New(f.cfg.Tariff.LowStart, f.cfg.Tariff.LowEnd, f.cfg.Tariff.LowPrice, f.cfg.Tariff.HighPrice, f.cfg.Tariff.SundayAllDayLow, f.cfg.Tariff.Currency)
	if err != nil {
		t.Fatalf("tariff: %v", err)
	}
	tariffs := tariff.Static{Tariff: tr}
	monitor, err := monitoringapp.NewDataMonitor(f.readings, tariffs, f.outputs, f.cfg, f.logger)
	if err != nil {
		t.Fatalf("monitor: %v", err)
	}
	predictor, err := forecastapp.NewPredictor(f.readings, f.registry, f.outputs, f.cfg.Forecast, f.logger)
	if err != nil {
		t.Fatalf("predictor: %v", err)
	}
	optimizer, err := optimizerapp.NewOptimizer(tariffs, optimizermemory.NewClusters(), f.outputs, f.cfg, f.logger)
	if err != nil {
		t.Fatalf("optimizer: %v", err)
	}
	decision, err := decisionapp.NewStage(f.outputs, f.outputs, f.cfg, f.logger)
	if err != nil {
		t.Fatalf("decision: %v", err)
	}
	return []application.NamedStage{
		{Name: "monitor", Stage: monitor},
		{Name: "predict", Stage: predictor},
		{Name: "optimize", Stage: optimizer},
		{Name: "decide", Stage: decision},
	}
}

func (f *fixture) runner(t *testing.T, stages []application.NamedStage, opts ...application.RunnerOption) *application.Runner {
	t.Helper()
	runner, err := application.NewRunner(f.cursor, f.outputs, stages, f.cfg, f.logger, opts...)
	if err != nil {
		t.Fatalf("runner: %v", err)
	}
	return runner
}

type failingStage struct {
	err error
}

func (s failingStage) Run(_ context.Context, rc pipeline.RunContext) (pipeline.RunContext, error) {
	return rc, s.err
}

type recordingPublisher struct {
	runs []pipeline.RunContext
}

func (p *recordingPublisher) Publish(_ context.Context, rc pipeline.RunContext) error {
	p.runs = append(p.runs, rc)
	return nil
}

type recordingNotifier struct {
	alerts []notify.RunAlert
}

func (n *recordingNotifier) Notify(_ context.Context, alert notify.RunAlert) error {
	n.alerts = append(n.alerts, alert)
	return nil
}

func TestRunner_SuccessAdvancesCursor(t *testing.T) {
	f := newFixture(t)
	f.seedDays("b1", "u1", 3)
	publisher := &recordingPublisher{}
	runner := f.runner(t, f.stages(t), application.WithPublisher(publisher))

	out, err := runner.Run(context.Background(), "b1")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !out.NextAnchor.Equal(latest.Add(-24 * time.Hour)) {
		t.Fatalf("expected anchor-24h, got %s", out.NextAnchor)
	}
	stored, ok, _ := f.cursors.Get(context.Background(), "advisory", "b1")
	if !ok || !stored.Equal(latest.Add(-24*time.Hour)) {
		t.Fatalf("cursor not advanced: %s %v", stored, ok)
	}
	if out.Run.Report == nil || len(out.Run.Decisions) != 1 {
		t.Fatalf("expected report and one decision, got %+v", out.Run)
	}
	run, ok, _ := f.outputs.GetRun(context.Background(), out.Run.RunID)
	if !ok || run.Status != pipeline.RunSucceeded || run.ConfigVersion != f.cfg.Version {
		t.Fatalf("unexpected run record %+v", run)
	}
	if len(publisher.runs) != 1 || publisher.runs[0].RunID != out.Run.RunID {
		t.Fatalf("expected one published run, got %d", len(publisher.runs))
	}
}

func TestRunner_FailureLeavesCursor(t *testing.T) {
	f := newFixture(t)
	f.seedDays("b1", "u1", 3)
	boom := errors.New("store unavailable")
	stages := append(f.stages(t)[:1], application.NamedStage{Name: "predict", Stage: failingStage{err: boom}})
	runner := f.runner(t, stages)

	out, err := runner.Run(context.Background(), "b1")
	if !errors.Is(err, boom) {
		t.Fatalf("expected stage error, got %v", err)
	}
	stored, _, _ := f.cursors.Get(context.Background(), "advisory", "b1")
	if !stored.Equal(latest) {
		t.Fatalf("cursor must stay at %s, got %s", latest, stored)
	}

	if _, err := runner.Run(context.Background(), "b1"); !errors.Is(err, boom) {
		t.Fatalf("expected retry to fail again, got %v", err)
	}
	run, ok, _ := f.outputs.GetRun(context.Background(), out.Run.RunID)
	if !ok || run.Status != pipeline.RunFailed || run.Attempts != 2 {
		t.Fatalf("expected failed run with two attempts, got %+v", run)
	}
	if run.RunID != application.RunID("advisory", "b1", latest) {
		t.Fatalf("retry must reuse the run id")
	}
}

func TestRunner_MissingModelIsFatalForBuilding(t *testing.T) {
	f := newFixture(t)
	f.seedDays("b1", "u1", 3)
	f.registry = forecastmemory.NewRegistry()
	runner := f.runner(t, f.stages(t))
	if _, err := runner.Run(context.Background(), "b1"); !errors.Is(err, pipeline.ErrNoActiveModel) {
		t.Fatalf("expected no active model, got %v", err)
	}
	stored, _, _ := f.cursors.Get(context.Background(), "advisory", "b1")
	if !stored.Equal(latest) {
		t.Fatalf("cursor moved after failure: %s", stored)
	}
}

func TestRunner_RunAllIsolatesFailures(t *testing.T) {
	f := newFixture(t)
	f.seedDays("b1", "u1", 3)
	runner := f.runner(t, f.stages(t))

	outcomes := runner.RunAll(context.Background(), []string{"b2", "b1", "b1", ""})
	if len(outcomes) != 2 {
		t.Fatalf("expected two outcomes, got %d", len(outcomes))
	}
	if outcomes[0].BuildingID != "b1" || outcomes[0].Err != nil {
		t.Fatalf("b1 should succeed: %+v", outcomes[0])
	}
	if outcomes[1].BuildingID != "b2" || !errors.Is(outcomes[1].Err, pipeline.ErrNoData) {
		t.Fatalf("b2 should fail with no data: %+v", outcomes[1])
	}
}

func TestRunner_BackfillStepsBack(t *testing.T) {
	f := newFixture(t)
	f.seedDays("b1", "u1", 4)
	runner := f.runner(t, f.stages(t))

	outcomes, err := runner.Backfill(context.Background(), "b1", 2)
	if err != nil {
		t.Fatalf("backfill: %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("expected two runs, got %d", len(outcomes))
	}
	if !outcomes[1].Run.Anchor.Equal(latest.Add(-24 * time.Hour)) {
		t.Fatalf("second run should start one day back, got %s", outcomes[1].Run.Anchor)
	}
	if !outcomes[1].NextAnchor.Equal(latest.Add(-48 * time.Hour)) {
		t.Fatalf("expected anchor-48h, got %s", outcomes[1].NextAnchor)
	}
}

func TestRunner_LockedBuilding(t *testing.T) {
	f := newFixture(t)
	f.seedDays("b1", "u1", 3)
	runner := f.runner(t, f.stages(t))
	unlock, err := f.cursor.Lock(context.Background(), "advisory", "b1")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	defer unlock()
	if _, err := runner.Run(context.Background(), "b1"); !errors.Is(err, pipeline.ErrRunInProgress) {
		t.Fatalf("expected run in progress, got %v", err)
	}
}

func TestRunner_NotifiesOnBlockedReport(t *testing.T) {
	f := newFixture(t)
	f.seedDays("b1", "u1", 3)
	f.readings.AddSample("b1", "u2", telemetry.SensorEnergy, latest, -2)
	notifier := &recordingNotifier{}
	runner := f.runner(t, f.stages(t), application.WithNotifier(notifier), application.WithPublicBaseURL("https://advisor.local/"))

	out, err := runner.Run(context.Background(), "b1")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Run.Report == nil || out.Run.Report.Status == pipeline.StatusOK {
		t.Fatalf("expected a non-ok report, got %+v", out.Run.Report)
	}
	if len(notifier.alerts) != 1 {
		t.Fatalf("expected one alert, got %d", len(notifier.alerts))
	}
	alert := notifier.alerts[0]
	if alert.ReportURL != "https://advisor.local/api/v1/validation-reports?building_id=b1" {
		t.Fatalf("unexpected report url %s", alert.ReportURL)
	}
}

func TestWeeklyReport_UsesCursorAnchor(t *testing.T) {
	f := newFixture(t)
	f.seedDays("b1", "u1", 7)
	tr, _ := tariff.New("22:00", "06:00", 0.08, 0.18, true, "BAM")
	analyzer, err := monitoringapp.NewWeeklyAnalyzer(f.readings, tariff.Static{Tariff: tr}, f.outputs, f.cfg, f.logger)
	if err != nil {
		t.Fatalf("analyzer: %v", err)
	}
	weekly, err := application.NewWeeklyReport(f.cursor, analyzer, "advisory")
	if err != nil {
		t.Fatalf("weekly: %v", err)
	}
	at, _, err := weekly.Run(context.Background(), "b1", time.Time{})
	if err != nil {
		t.Fatalf("weekly run: %v", err)
	}
	if !at.Equal(latest) {
		t.Fatalf("expected cursor anchor, got %s", at)
	}
	stored, _, _ := f.cursors.Get(context.Background(), "advisory", "b1")
	if !stored.Equal(latest) {
		t.Fatalf("weekly analysis must not move the cursor")
	}
}

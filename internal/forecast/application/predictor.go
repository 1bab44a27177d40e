package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	forecast "smartbuilding-advisor/internal/forecast/domain"
	"smartbuilding-advisor/internal/observability/metrics"
	"smartbuilding-advisor/internal/pipeline/config"
	pipeline "smartbuilding-advisor/internal/pipeline/domain"
	"smartbuilding-advisor/internal/telemetry/domain"
)

// ArtifactStore loads the active model of a task.
// Implementations return pipeline.ErrNoActiveModel when none is active.
type ArtifactStore interface {
	LoadActive(ctx context.Context, task string) (forecast.Artifact, error)
}

// ForecastSink persists forecasts keyed by unit and timestamps.
type ForecastSink interface {
	SaveForecasts(ctx context.Context, forecasts []pipeline.Forecast) error
}

// Predictor scores the next interval of each validated unit.
type Predictor struct {
	history   telemetry.HistoryQuery
	artifacts ArtifactStore
	sink      ForecastSink
	cfg       config.ForecastConfig
	logger    *log.Logger
}

// NewPredictor constructs the prediction stage.
func NewPredictor(history telemetry.HistoryQuery, artifacts ArtifactStore, sink ForecastSink, cfg config.ForecastConfig, logger *log.Logger) (*Predictor, error) {
	if history == nil {
		return nil, errors.New("predictor: nil history query")
	}
	if artifacts == nil {
		return nil, errors.New("predictor: nil artifact store")
	}
	if sink == nil {
		return nil, errors.New("predictor: nil forecast sink")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Predictor{history: history, artifacts: artifacts, sink: sink, cfg: cfg, logger: logger}, nil
}

// Run loads the active artifact and forecasts every unit with enough history.
func (p *Predictor) Run(ctx context.Context, rc pipeline.RunContext) (pipeline.RunContext, error) {
	if rc.Anchor.IsZero() {
		return rc, pipeline.ErrInvalidAnchor
	}
	artifact, err := p.artifacts.LoadActive(ctx, p.cfg.ModelTask)
	if err != nil {
		return rc, fmt.Errorf("predictor: %w", err)
	}
	if err := artifact.Check(p.cfg.FeatureVersion); err != nil {
		return rc, fmt.Errorf("predictor: model %s: %w", artifact.ModelID, err)
	}
	confidence := artifact.Confidence()
	step := time.Duration(p.cfg.DefaultIntervalMinutes) * time.Minute
	if step <= 0 {
		step = 30 * time.Minute
	}
	occWindow := time.Duration(p.cfg.OccupancyWindowHours) * time.Hour
	limit := p.cfg.Lookback
	if n := int(occWindow / step); n > limit {
		limit = n
	}

	forecasts := make([]pipeline.Forecast, 0)
	skipped := 0
	invalid := 0
	for _, unitID := range rc.Validated.Units() {
		records, err := p.history.History(ctx, rc.BuildingID, unitID, rc.Anchor, limit)
		if err != nil {
			return rc, fmt.Errorf("predictor: history %s: %w", unitID, err)
		}
		if len(records) < p.cfg.Lookback {
			skipped++
			continue
		}
		target := forecast.TargetAt(records, step)
		features := forecast.BuildFeatures(forecast.FeatureInput{
			Records:     records,
			Lookback:    p.cfg.Lookback,
			DefaultArea: p.cfg.DefaultAreaM2,
		}, target)
		kwh, err := artifact.Predict(features)
		if err != nil {
			return rc, fmt.Errorf("predictor: unit %s: %w", unitID, err)
		}
		f := pipeline.Forecast{
			BuildingID:   rc.BuildingID,
			UnitID:       unitID,
			CreatedAt:    rc.Anchor,
			TargetAt:     target,
			PredictedKWh: kwh,
			ModelID:      artifact.ModelID,
			Confidence:   confidence,
		}
		if prob, ok := forecast.OccupancyProbability(records, occWindow, step); ok {
			f.OccupancyProb = &prob
		}
		if !f.Valid() {
			invalid++
			p.logger.Printf("event=predict.invalid building_id=%s run_id=%s unit_id=%s predicted_kwh=%v",
				rc.BuildingID, rc.RunID, unitID, f.PredictedKWh)
		}
		forecasts = append(forecasts, f)
	}

	if len(forecasts) > 0 {
		if err := p.sink.SaveForecasts(ctx, forecasts); err != nil {
			return rc, fmt.Errorf("predictor: save forecasts: %w", err)
		}
	}
	metrics.AddForecasts("produced", len(forecasts))
	metrics.AddForecasts("skipped", skipped)
	metrics.AddForecasts("invalid", invalid)
	p.logger.Printf("event=predict.done building_id=%s run_id=%s model_id=%s forecasts=%d skipped=%d invalid=%d",
		rc.BuildingID, rc.RunID, artifact.ModelID, len(forecasts), skipped, invalid)
	return rc.WithForecasts(forecasts), nil
}

package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"

	optimizer "smartbuilding-advisor/internal/optimizer/domain"
	"smartbuilding-advisor/internal/pipeline/config"
	pipeline "smartbuilding-advisor/internal/pipeline/domain"
	tariff "smartbuilding-advisor/internal/tariff/domain"
)

// ClusterSource resolves the behavior cluster of a unit.
type ClusterSource interface {
	ClusterOf(ctx context.Context, buildingID, unitID string) (optimizer.Cluster, bool, error)
}

// PlanSink persists non-authoritative plans.
type PlanSink interface {
	SavePlans(ctx context.Context, plans []pipeline.Plan) error
}

// Optimizer turns valid forecasts into per-unit plans.
type Optimizer struct {
	tariffs  tariff.Source
	clusters ClusterSource
	sink     PlanSink
	cfg      config.Config
	logger   *log.Logger
}

// NewOptimizer constructs the planning stage.
func NewOptimizer(tariffs tariff.Source, clusters ClusterSource, sink PlanSink, cfg config.Config, logger *log.Logger) (*Optimizer, error) {
	if tariffs == nil {
		return nil, errors.New("optimizer: nil tariff source")
	}
	if clusters == nil {
		return nil, errors.New("optimizer: nil cluster source")
	}
	if sink == nil {
		return nil, errors.New("optimizer: nil plan sink")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Optimizer{tariffs: tariffs, clusters: clusters, sink: sink, cfg: cfg, logger: logger}, nil
}

// Run plans every valid forecast in unit order.
func (o *Optimizer) Run(ctx context.Context, rc pipeline.RunContext) (pipeline.RunContext, error) {
	if len(rc.Forecasts) == 0 {
		o.logger.Printf("event=optimize.skipped building_id=%s run_id=%s reason=no_forecasts", rc.BuildingID, rc.RunID)
		return rc.WithPlans(nil), nil
	}
	t, err := o.tariffs.TariffFor(ctx, rc.BuildingID)
	if err != nil {
		return rc, fmt.Errorf("optimizer: tariff: %w", err)
	}
	settings := o.cfg.ForBuilding(rc.BuildingID)

	forecasts := append([]pipeline.Forecast(nil), rc.Forecasts...)
	sort.Slice(forecasts, func(i, j int) bool { return forecasts[i].UnitID < forecasts[j].UnitID })

	plans := make([]pipeline.Plan, 0, len(forecasts))
	for _, f := range forecasts {
		if !f.Valid() {
			continue
		}
		in := optimizer.PlanInput{
			BuildingID: rc.BuildingID,
			CreatedAt:  rc.Anchor,
			Forecast:   f,
			Tariff:     t,
			Policy:     settings.Policy,
		}
		cluster, ok, err := o.clusters.ClusterOf(ctx, rc.BuildingID, f.UnitID)
		if err != nil {
			return rc, fmt.Errorf("optimizer: cluster %s: %w", f.UnitID, err)
		}
		if ok {
			in.Cluster = &cluster
		}
		plans = append(plans, optimizer.BuildPlan(in, o.cfg.Optimizer))
	}

	if len(plans) > 0 {
		if err := o.sink.SavePlans(ctx, plans); err != nil {
			return rc, fmt.Errorf("optimizer: save plans: %w", err)
		}
	}
	o.logger.Printf("event=optimize.done building_id=%s run_id=%s policy=%s plans=%d",
		rc.BuildingID, rc.RunID, settings.PolicyName, len(plans))
	return rc.WithPlans(plans), nil
}

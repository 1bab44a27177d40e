package application

import (
	"context"
	"log"
	"time"
)

// Scheduler triggers the daily run of every configured building.
type Scheduler struct {
	runner    *Runner
	buildings []string
	dailyAt   string
	logger    *log.Logger
}

// NewScheduler constructs a Scheduler.
func NewScheduler(runner *Runner, buildings []string, dailyAt string, logger *log.Logger) *Scheduler {
	return &Scheduler{
		runner:    runner,
		buildings: buildings,
		dailyAt:   dailyAt,
		logger:    logger,
	}
}

// Start begins the scheduler loop.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil || s.runner == nil {
		return
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if !s.shouldRun(now.UTC()) {
				continue
			}
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) shouldRun(now time.Time) bool {
	hour, minute, err := parseDailyAt(s.dailyAt)
	if err != nil {
		return false
	}
	return now.Hour() == hour && now.Minute() == minute
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if len(s.buildings) == 0 {
		return
	}
	for _, out := range s.runner.RunAll(ctx, s.buildings) {
		if out.Err != nil && s.logger != nil {
			s.logger.Printf("event=pipeline_schedule_error building_id=%s err=%v", out.BuildingID, out.Err)
		}
	}
}

func parseDailyAt(value string) (int, int, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, 0, err
	}
	return t.Hour(), t.Minute(), nil
}

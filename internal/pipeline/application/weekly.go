package application

import (
	"context"
	"errors"
	"time"

	pipeline "smartbuilding-advisor/internal/pipeline/domain"
)

// WeeklyAnalyzer produces weekly report events for a building.
type WeeklyAnalyzer interface {
	Analyze(ctx context.Context, buildingID string, anchor time.Time) ([]pipeline.AnomalyEvent, error)
}

// WeeklyReport runs the weekly analysis bounded by the building's cursor.
// It never moves the cursor.
type WeeklyReport struct {
	cursor       Cursor
	analyzer     WeeklyAnalyzer
	pipelineName string
}

// NewWeeklyReport constructs a WeeklyReport.
func NewWeeklyReport(cursor Cursor, analyzer WeeklyAnalyzer, pipelineName string) (*WeeklyReport, error) {
	if cursor == nil || analyzer == nil {
		return nil, errors.New("weekly report: nil dependency")
	}
	if pipelineName == "" {
		return nil, errors.New("weekly report: pipeline name required")
	}
	return &WeeklyReport{cursor: cursor, analyzer: analyzer, pipelineName: pipelineName}, nil
}

// Run analyzes the week ending at the current anchor, or at the explicit
// anchor when one is given.
func (w *WeeklyReport) Run(ctx context.Context, buildingID string, at time.Time) (time.Time, []pipeline.AnomalyEvent, error) {
	if at.IsZero() {
		current, err := w.cursor.GetOrInit(ctx, w.pipelineName, buildingID)
		if err != nil {
			return time.Time{}, nil, err
		}
		at = current
	}
	events, err := w.analyzer.Analyze(ctx, buildingID, at.UTC())
	return at.UTC(), events, err
}

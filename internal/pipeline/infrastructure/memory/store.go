package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	pipeline "smartbuilding-advisor/internal/pipeline/domain"
)

type forecastKey struct {
	buildingID string
	unitID     string
	createdAt  time.Time
	targetAt   time.Time
}

type unitKey struct {
	buildingID string
	unitID     string
	ts         time.Time
}

type reportKey struct {
	buildingID string
	anchor     time.Time
}

// Store keeps every pipeline output in memory with the same keys as Postgres.
type Store struct {
	mu        sync.RWMutex
	events    map[pipeline.EventKey]pipeline.AnomalyEvent
	forecasts map[forecastKey]pipeline.Forecast
	plans     map[unitKey]pipeline.Plan
	decisions map[unitKey]pipeline.Decision
	reports   map[reportKey]pipeline.ValidationReport
	runs      map[string]pipeline.RunRecord
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		events:    make(map[pipeline.EventKey]pipeline.AnomalyEvent),
		forecasts: make(map[forecastKey]pipeline.Forecast),
		plans:     make(map[unitKey]pipeline.Plan),
		decisions: make(map[unitKey]pipeline.Decision),
		reports:   make(map[reportKey]pipeline.ValidationReport),
		runs:      make(map[string]pipeline.RunRecord),
	}
}

// SaveEvents inserts events; existing keys are left untouched.
func (s *Store) SaveEvents(_ context.Context, events []pipeline.AnomalyEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range events {
		key := evt.Key()
		if _, ok := s.events[key]; ok {
			continue
		}
		s.events[key] = evt
	}
	return nil
}

// SaveForecasts inserts forecasts keyed by unit and timestamps.
func (s *Store) SaveForecasts(_ context.Context, forecasts []pipeline.Forecast) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range forecasts {
		key := forecastKey{f.BuildingID, f.UnitID, f.CreatedAt.UTC(), f.TargetAt.UTC()}
		if _, ok := s.forecasts[key]; ok {
			continue
		}
		s.forecasts[key] = f
	}
	return nil
}

// SavePlans inserts plans keyed by unit and creation time.
func (s *Store) SavePlans(_ context.Context, plans []pipeline.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range plans {
		key := unitKey{p.BuildingID, p.UnitID, p.CreatedAt.UTC()}
		if _, ok := s.plans[key]; ok {
			continue
		}
		s.plans[key] = p
	}
	return nil
}

// SaveDecisions appends decisions keyed by unit and timestamp.
func (s *Store) SaveDecisions(_ context.Context, decisions []pipeline.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range decisions {
		key := unitKey{d.BuildingID, d.UnitID, d.Timestamp.UTC()}
		if _, ok := s.decisions[key]; ok {
			continue
		}
		s.decisions[key] = d
	}
	return nil
}

// SaveReport stores the run report keyed by building and anchor.
func (s *Store) SaveReport(_ context.Context, report pipeline.ValidationReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := reportKey{report.BuildingID, report.Anchor.UTC()}
	if _, ok := s.reports[key]; ok {
		return nil
	}
	s.reports[key] = report
	return nil
}

// CreateRun records a run; an existing id is a retry and bumps attempts.
func (s *Store) CreateRun(_ context.Context, run pipeline.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.runs[run.RunID]; ok {
		existing.Attempts++
		existing.Status = pipeline.RunRunning
		existing.Error = ""
		existing.StartedAt = run.StartedAt
		s.runs[run.RunID] = existing
		return nil
	}
	if run.Attempts == 0 {
		run.Attempts = 1
	}
	s.runs[run.RunID] = run
	return nil
}

// FinishRun sets the terminal status of a run.
func (s *Store) FinishRun(_ context.Context, runID string, status pipeline.RunStatus, reportStatus pipeline.ReportStatus, errMsg string, finishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil
	}
	run.Status = status
	run.ReportStatus = reportStatus
	run.Error = errMsg
	run.FinishedAt = finishedAt
	s.runs[runID] = run
	return nil
}

// GetRun returns a run record by id.
func (s *Store) GetRun(_ context.Context, runID string) (pipeline.RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	return run, ok, nil
}

// ListEvents returns events newest first.
func (s *Store) ListEvents(_ context.Context, filter pipeline.ListFilter) ([]pipeline.AnomalyEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]pipeline.AnomalyEvent, 0)
	for _, evt := range s.events {
		if !matches(filter, evt.BuildingID, evt.UnitID, evt.Timestamp) {
			continue
		}
		out = append(out, evt)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		if out[i].UnitID != out[j].UnitID {
			return out[i].UnitID < out[j].UnitID
		}
		return out[i].Kind < out[j].Kind
	})
	return limit(out, filter.Limit), nil
}

// ListDecisions returns decisions newest first.
func (s *Store) ListDecisions(_ context.Context, filter pipeline.ListFilter) ([]pipeline.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]pipeline.Decision, 0)
	for _, d := range s.decisions {
		if !matches(filter, d.BuildingID, d.UnitID, d.Timestamp) {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].UnitID < out[j].UnitID
	})
	return limit(out, filter.Limit), nil
}

// ListReports returns validation reports newest first.
func (s *Store) ListReports(_ context.Context, filter pipeline.ListFilter) ([]pipeline.ValidationReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]pipeline.ValidationReport, 0)
	for _, r := range s.reports {
		if !matches(filter, r.BuildingID, "", r.Anchor) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Anchor.Equal(out[j].Anchor) {
			return out[i].Anchor.After(out[j].Anchor)
		}
		return out[i].BuildingID < out[j].BuildingID
	})
	return limit(out, filter.Limit), nil
}

// Forecasts returns stored forecasts of a building ordered by unit.
func (s *Store) Forecasts(buildingID string) []pipeline.Forecast {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []pipeline.Forecast
	for _, f := range s.forecasts {
		if f.BuildingID == buildingID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UnitID != out[j].UnitID {
			return out[i].UnitID < out[j].UnitID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Plans returns stored plans of a building ordered by unit.
func (s *Store) Plans(buildingID string) []pipeline.Plan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []pipeline.Plan
	for _, p := range s.plans {
		if p.BuildingID == buildingID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UnitID != out[j].UnitID {
			return out[i].UnitID < out[j].UnitID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func matches(filter pipeline.ListFilter, buildingID, unitID string, ts time.Time) bool {
	if filter.BuildingID != "" && filter.BuildingID != buildingID {
		return false
	}
	if filter.UnitID != "" && unitID != "" && filter.UnitID != unitID {
		return false
	}
	return filter.Contains(ts)
}

func limit[T any](items []T, n int) []T {
	if n > 0 && len(items) > n {
		return items[:n]
	}
	return items
}

package anchor

import (
	"context"
	"errors"
	"fmt"
	"time"

	pipeline "smartbuilding-advisor/internal/pipeline/domain"
	"smartbuilding-advisor/internal/telemetry/domain"
)

// Cursor is the persisted replay position of one pipeline/building pair.
type Cursor struct {
	Pipeline   string
	BuildingID string
	Anchor     time.Time
	UpdatedAt  time.Time
}

// Store persists cursors. Implementations must make InitIfAbsent and
// StepBack atomic per pair.
type Store interface {
	Get(ctx context.Context, pipelineName, buildingID string) (time.Time, bool, error)
	InitIfAbsent(ctx context.Context, pipelineName, buildingID string, anchor time.Time) (time.Time, error)
	StepBack(ctx context.Context, pipelineName, buildingID string, hours int) (time.Time, bool, error)
	Lock(ctx context.Context, pipelineName, buildingID string) (func(), error)
	List(ctx context.Context, pipelineName string) ([]Cursor, error)
}

// Service resolves and moves anchors.
type Service struct {
	store    Store
	readings telemetry.AnchorQuery
}

// NewService constructs a cursor service.
func NewService(store Store, readings telemetry.AnchorQuery) (*Service, error) {
	if store == nil {
		return nil, errors.New("anchor cursor: nil store")
	}
	if readings == nil {
		return nil, errors.New("anchor cursor: nil reading query")
	}
	return &Service{store: store, readings: readings}, nil
}

// GetOrInit returns the stored anchor, initializing it to the newest valid
// reading of the building on first use.
func (s *Service) GetOrInit(ctx context.Context, pipelineName, buildingID string) (time.Time, error) {
	if pipelineName == "" || buildingID == "" {
		return time.Time{}, errors.New("anchor cursor: pipeline and building required")
	}
	anchor, ok, err := s.store.Get(ctx, pipelineName, buildingID)
	if err != nil {
		return time.Time{}, err
	}
	if ok {
		return anchor.UTC(), nil
	}
	latest, found, err := s.readings.LatestValidTimestamp(ctx, buildingID)
	if err != nil {
		return time.Time{}, err
	}
	if !found {
		return time.Time{}, fmt.Errorf("%w: building %s", pipeline.ErrNoData, buildingID)
	}
	stored, err := s.store.InitIfAbsent(ctx, pipelineName, buildingID, latest.UTC())
	if err != nil {
		return time.Time{}, err
	}
	return stored.UTC(), nil
}

// StepBack moves the anchor hours into the past and returns the new value.
func (s *Service) StepBack(ctx context.Context, pipelineName, buildingID string, hours int) (time.Time, error) {
	if hours <= 0 {
		return time.Time{}, errors.New("anchor cursor: hours must be positive")
	}
	if _, err := s.GetOrInit(ctx, pipelineName, buildingID); err != nil {
		return time.Time{}, err
	}
	anchor, ok, err := s.store.StepBack(ctx, pipelineName, buildingID, hours)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return time.Time{}, fmt.Errorf("anchor cursor: %s/%s vanished during step back", pipelineName, buildingID)
	}
	return anchor.UTC(), nil
}

// Lock serializes runs of a pipeline/building pair.
func (s *Service) Lock(ctx context.Context, pipelineName, buildingID string) (func(), error) {
	return s.store.Lock(ctx, pipelineName, buildingID)
}

// List returns every cursor of a pipeline.
func (s *Service) List(ctx context.Context, pipelineName string) ([]Cursor, error) {
	return s.store.List(ctx, pipelineName)
}

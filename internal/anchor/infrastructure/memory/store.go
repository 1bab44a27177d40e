package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"smartbuilding-advisor/internal/anchor"
	pipeline "smartbuilding-advisor/internal/pipeline/domain"
)

type key struct {
	pipeline string
	building string
}

// Store is an in-memory cursor store.
type Store struct {
	mu      sync.Mutex
	cursors map[key]anchor.Cursor
	locks   map[key]bool
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{cursors: make(map[key]anchor.Cursor), locks: make(map[key]bool)}
}

// Get returns the stored anchor.
func (s *Store) Get(_ context.Context, pipelineName, buildingID string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cursors[key{pipelineName, buildingID}]
	return c.Anchor, ok, nil
}

// InitIfAbsent stores anchor unless a cursor exists and returns the stored value.
func (s *Store) InitIfAbsent(_ context.Context, pipelineName, buildingID string, at time.Time) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{pipelineName, buildingID}
	if c, ok := s.cursors[k]; ok {
		return c.Anchor, nil
	}
	s.cursors[k] = anchor.Cursor{Pipeline: pipelineName, BuildingID: buildingID, Anchor: at.UTC(), UpdatedAt: time.Now().UTC()}
	return at.UTC(), nil
}

// StepBack subtracts hours from the stored anchor.
func (s *Store) StepBack(_ context.Context, pipelineName, buildingID string, hours int) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{pipelineName, buildingID}
	c, ok := s.cursors[k]
	if !ok {
		return time.Time{}, false, nil
	}
	c.Anchor = c.Anchor.Add(-time.Duration(hours) * time.Hour)
	c.UpdatedAt = time.Now().UTC()
	s.cursors[k] = c
	return c.Anchor, true, nil
}

// Lock marks the pair busy; a second caller gets ErrRunInProgress.
func (s *Store) Lock(_ context.Context, pipelineName, buildingID string) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{pipelineName, buildingID}
	if s.locks[k] {
		return nil, pipeline.ErrRunInProgress
	}
	s.locks[k] = true
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.locks, k)
			s.mu.Unlock()
		})
	}, nil
}

// List returns cursors of a pipeline ordered by building.
func (s *Store) List(_ context.Context, pipelineName string) ([]anchor.Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []anchor.Cursor
	for k, c := range s.cursors {
		if k.pipeline == pipelineName {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BuildingID < out[j].BuildingID })
	return out, nil
}

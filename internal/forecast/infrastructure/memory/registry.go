package memory

import (
	"context"
	"sync"

	forecast "smartbuilding-advisor/internal/forecast/domain"
	pipeline "smartbuilding-advisor/internal/pipeline/domain"
)

// Registry keeps one active artifact per task.
type Registry struct {
	mu     sync.RWMutex
	active map[string]forecast.Artifact
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{active: make(map[string]forecast.Artifact)}
}

// Activate makes the artifact the active model of a task.
func (r *Registry) Activate(task string, artifact forecast.Artifact) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[task] = artifact
}

// LoadActive returns the active artifact of a task.
func (r *Registry) LoadActive(_ context.Context, task string) (forecast.Artifact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	artifact, ok := r.active[task]
	if !ok {
		return forecast.Artifact{}, pipeline.ErrNoActiveModel
	}
	return artifact, nil
}

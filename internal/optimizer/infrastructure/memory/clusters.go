package memory

import (
	"context"
	"sync"

	optimizer "smartbuilding-advisor/internal/optimizer/domain"
)

// Clusters is an in-memory cluster assignment table.
type Clusters struct {
	mu     sync.RWMutex
	byUnit map[string]optimizer.Cluster
}

// NewClusters constructs an empty table.
func NewClusters() *Clusters {
	return &Clusters{byUnit: make(map[string]optimizer.Cluster)}
}

// Assign places a unit in a cluster.
func (c *Clusters) Assign(buildingID, unitID string, cluster optimizer.Cluster) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byUnit[buildingID+"/"+unitID] = cluster
}

// ClusterOf returns the cluster of a unit, if assigned.
func (c *Clusters) ClusterOf(_ context.Context, buildingID, unitID string) (optimizer.Cluster, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cluster, ok := c.byUnit[buildingID+"/"+unitID]
	return cluster, ok, nil
}

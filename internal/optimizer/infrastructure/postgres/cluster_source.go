package postgres

import (
	"context"
	"database/sql"
	"errors"

	optimizer "smartbuilding-advisor/internal/optimizer/domain"
)

// ClusterSource reads the latest cluster assignment of a unit.
type ClusterSource struct {
	db *sql.DB
}

// NewClusterSource constructs a cluster reader.
func NewClusterSource(db *sql.DB) *ClusterSource {
	return &ClusterSource{db: db}
}

// ClusterOf returns the most recently assigned cluster of a unit.
func (s *ClusterSource) ClusterOf(ctx context.Context, buildingID, unitID string) (optimizer.Cluster, bool, error) {
	if s == nil || s.db == nil {
		return optimizer.Cluster{}, false, errors.New("cluster source: nil db")
	}
	const query = `
SELECT a.cluster_id, COALESCE(c.name, '')
FROM unit_cluster_assignment a
LEFT JOIN clusters c ON c.cluster_id = a.cluster_id
WHERE a.building_id = $1
	AND a.unit_id = $2
ORDER BY a.assigned_at DESC
LIMIT 1`
	var cluster optimizer.Cluster
	if err := s.db.QueryRowContext(ctx, query, buildingID, unitID).Scan(&cluster.ID, &cluster.Name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return optimizer.Cluster{}, false, nil
		}
		return optimizer.Cluster{}, false, err
	}
	return cluster, true, nil
}

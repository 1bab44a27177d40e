package pipeline

import "time"

// RunStatus tracks a building run record.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// RunRecord is the persisted trace of one building run at one anchor.
// Retrying the same anchor bumps Attempts on the same record.
type RunRecord struct {
	RunID         string
	Pipeline      string
	BuildingID    string
	Anchor        time.Time
	ConfigVersion string
	Status        RunStatus
	ReportStatus  ReportStatus
	Attempts      int
	Error         string
	StartedAt     time.Time
	FinishedAt    time.Time
}

// ListFilter narrows read-side queries. Zero values mean unbounded.
type ListFilter struct {
	BuildingID string
	UnitID     string
	From       time.Time
	To         time.Time
	Limit      int
}

// Contains reports whether ts falls in [From, To).
func (f ListFilter) Contains(ts time.Time) bool {
	if !f.From.IsZero() && ts.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !ts.Before(f.To) {
		return false
	}
	return true
}

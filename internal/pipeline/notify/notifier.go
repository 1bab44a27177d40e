package notify

import "context"

// RunAlert describes a building run whose validation report needs attention.
type RunAlert struct {
	BuildingID string         `json:"building_id"`
	RunID      string         `json:"run_id"`
	Anchor     string         `json:"anchor"`
	Status     string         `json:"status"`
	Reasons    []string       `json:"reasons"`
	BlockUnits []string       `json:"block_units,omitempty"`
	Summary    map[string]any `json:"summary,omitempty"`
	ReportURL  string         `json:"report_url,omitempty"`
}

// Notifier sends run alerts.
type Notifier interface {
	Notify(ctx context.Context, alert RunAlert) error
}

package metrics

import (
	"database/sql"
	"log"

	"github.com/prometheus/client_golang/prometheus"
)

func registerDBMetrics(db *sql.DB, logger *log.Logger) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "pipeline_runs_running",
			Help: "Pipeline runs currently marked running",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM pipeline_runs WHERE status = 'running'")
		},
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "pipeline_runs_failed",
			Help: "Pipeline runs whose last attempt failed",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM pipeline_runs WHERE status = 'failed'")
		},
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "cursors_tracked",
			Help: "Buildings with a stored anchor cursor",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM anchor_cursors")
		},
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "reports_blocked_24h",
			Help: "Blocked validation reports written in the last 24 hours",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM validation_reports WHERE status = 'blocked' AND created_at > NOW() - INTERVAL '24 hours'")
		},
	))
}

func queryCount(db *sql.DB, logger *log.Logger, query string) float64 {
	if db == nil {
		return 0
	}
	var count int64
	if err := db.QueryRow(query).Scan(&count); err != nil {
		if logger != nil {
			logger.Printf("metrics query failed: %v", err)
		}
		return 0
	}
	if count < 0 {
		return 0
	}
	return float64(count)
}

package metrics

import (
	"database/sql"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "advisor_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	runsTotal    *prometheus.CounterVec
	runLatency   *prometheus.HistogramVec
	stageLatency *prometheus.HistogramVec

	anomalyEventsTotal *prometheus.CounterVec
	forecastsTotal     *prometheus.CounterVec
	decisionsTotal     *prometheus.CounterVec
	reportsTotal       *prometheus.CounterVec
	cursorAnchor       *prometheus.GaugeVec

	streamPublishTotal *prometheus.CounterVec
	notifyTotal        *prometheus.CounterVec

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec
)

// Init registers pipeline metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		runsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "pipeline_runs_total",
				Help: "Total building pipeline runs by result",
			},
			[]string{"result"},
		)
		runLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "pipeline_run_latency_seconds",
				Help:    "Building pipeline run latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		stageLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "pipeline_stage_latency_seconds",
				Help:    "Pipeline stage latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage", "result"},
		)
		anomalyEventsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "anomaly_events_total",
				Help: "Total anomaly events by kind and category",
			},
			[]string{"kind", "category"},
		)
		forecastsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "forecasts_total",
				Help: "Total unit forecasts by outcome",
			},
			[]string{"outcome"},
		)
		decisionsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "decisions_total",
				Help: "Total unit decisions by action and approval",
			},
			[]string{"action", "approved"},
		)
		reportsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "validation_reports_total",
				Help: "Total run validation reports by status",
			},
			[]string{"status"},
		)
		cursorAnchor = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "anchor_cursor_timestamp_seconds",
				Help: "Current anchor of each building cursor as unix seconds",
			},
			[]string{"building_id"},
		)
		streamPublishTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "advisory_stream_publish_total",
				Help: "Total advisory stream publishes by result",
			},
			[]string{"result"},
		)
		notifyTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "pipeline_notify_total",
				Help: "Total run notifications by result",
			},
			[]string{"result"},
		)
		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "decision_export_total",
				Help: "Total decision log exports by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "decision_export_latency_seconds",
				Help:    "Decision log export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)
		prometheus.MustRegister(
			runsTotal,
			runLatency,
			stageLatency,
			anomalyEventsTotal,
			forecastsTotal,
			decisionsTotal,
			reportsTotal,
			cursorAnchor,
			streamPublishTotal,
			notifyTotal,
			exportTotal,
			exportLatency,
		)
		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveRun records a building run duration and result.
func ObserveRun(err error, duration time.Duration) {
	result := resultOf(err)
	if runsTotal != nil {
		runsTotal.WithLabelValues(result).Inc()
	}
	if runLatency != nil {
		runLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// ObserveStage records one stage duration and result.
func ObserveStage(stage string, err error, duration time.Duration) {
	if stage == "" {
		stage = "unknown"
	}
	if stageLatency != nil {
		stageLatency.WithLabelValues(stage, resultOf(err)).Observe(duration.Seconds())
	}
}

// IncAnomalyEvent counts an emitted anomaly event.
func IncAnomalyEvent(kind, category string) {
	if anomalyEventsTotal != nil {
		anomalyEventsTotal.WithLabelValues(kind, category).Inc()
	}
}

// AddForecasts counts produced, skipped or invalid unit forecasts.
func AddForecasts(outcome string, n int) {
	if forecastsTotal != nil && n > 0 {
		forecastsTotal.WithLabelValues(outcome).Add(float64(n))
	}
}

// IncDecision counts a unit decision.
func IncDecision(action string, approved bool) {
	if decisionsTotal != nil {
		decisionsTotal.WithLabelValues(action, strconv.FormatBool(approved)).Inc()
	}
}

// IncReport counts a validation report by status.
func IncReport(status string) {
	if reportsTotal != nil {
		reportsTotal.WithLabelValues(status).Inc()
	}
}

// SetCursor exports the current anchor of a building.
func SetCursor(buildingID string, anchor time.Time) {
	if cursorAnchor != nil && !anchor.IsZero() {
		cursorAnchor.WithLabelValues(buildingID).Set(float64(anchor.Unix()))
	}
}

// IncStreamPublish counts advisory stream publishes.
func IncStreamPublish(err error) {
	if streamPublishTotal != nil {
		streamPublishTotal.WithLabelValues(resultOf(err)).Inc()
	}
}

// IncNotify counts run notifications.
func IncNotify(err error) {
	if notifyTotal != nil {
		notifyTotal.WithLabelValues(resultOf(err)).Inc()
	}
}

// ObserveExport records decision export duration and result.
func ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

func resultOf(err error) string {
	if err != nil {
		return resultError
	}
	return resultSuccess
}

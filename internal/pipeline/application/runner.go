package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"smartbuilding-advisor/internal/observability/metrics"
	"smartbuilding-advisor/internal/pipeline/config"
	pipeline "smartbuilding-advisor/internal/pipeline/domain"
	"smartbuilding-advisor/internal/pipeline/notify"
)

// Stage transforms a run context into the next one.
type Stage interface {
	Run(ctx context.Context, rc pipeline.RunContext) (pipeline.RunContext, error)
}

// NamedStage labels a stage for logs and latency metrics.
type NamedStage struct {
	Name  string
	Stage Stage
}

// Cursor resolves, locks and moves building anchors.
type Cursor interface {
	GetOrInit(ctx context.Context, pipelineName, buildingID string) (time.Time, error)
	StepBack(ctx context.Context, pipelineName, buildingID string, hours int) (time.Time, error)
	Lock(ctx context.Context, pipelineName, buildingID string) (func(), error)
}

// RunStore records run attempts.
type RunStore interface {
	CreateRun(ctx context.Context, run pipeline.RunRecord) error
	FinishRun(ctx context.Context, runID string, status pipeline.RunStatus, reportStatus pipeline.ReportStatus, errMsg string, finishedAt time.Time) error
}

// Publisher streams finished runs.
type Publisher interface {
	Publish(ctx context.Context, rc pipeline.RunContext) error
}

// Outcome is the result of one building run.
type Outcome struct {
	BuildingID string
	Run        pipeline.RunContext
	NextAnchor time.Time
	Err        error
}

// Runner executes the stage chain for buildings and advances their cursors.
type Runner struct {
	cursor        Cursor
	runs          RunStore
	stages        []NamedStage
	cfg           config.Config
	publisher     Publisher
	notifier      notify.Notifier
	publicBaseURL string
	logger        *log.Logger
	now           func() time.Time
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithPublisher streams every successful run.
func WithPublisher(publisher Publisher) RunnerOption {
	return func(r *Runner) {
		r.publisher = publisher
	}
}

// WithNotifier alerts on degraded or blocked reports.
func WithNotifier(notifier notify.Notifier) RunnerOption {
	return func(r *Runner) {
		r.notifier = notifier
	}
}

// WithPublicBaseURL sets the base used for report links in alerts.
func WithPublicBaseURL(base string) RunnerOption {
	return func(r *Runner) {
		r.publicBaseURL = strings.TrimRight(base, "/")
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRunner constructs a Runner.
func NewRunner(cursor Cursor, runs RunStore, stages []NamedStage, cfg config.Config, logger *log.Logger, opts ...RunnerOption) (*Runner, error) {
	if cursor == nil {
		return nil, errors.New("pipeline runner: nil cursor")
	}
	if runs == nil {
		return nil, errors.New("pipeline runner: nil run store")
	}
	if len(stages) == 0 {
		return nil, errors.New("pipeline runner: no stages")
	}
	for _, st := range stages {
		if st.Stage == nil || st.Name == "" {
			return nil, errors.New("pipeline runner: stage requires name and implementation")
		}
	}
	if cfg.AdvanceHours <= 0 {
		return nil, errors.New("pipeline runner: advance hours must be positive")
	}
	if logger == nil {
		logger = log.Default()
	}
	r := &Runner{
		cursor: cursor,
		runs:   runs,
		stages: stages,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// RunID derives a stable id for a building run at an anchor, so retries of
// the same anchor land on the same run record.
func RunID(pipelineName, buildingID string, anchor time.Time) string {
	key := fmt.Sprintf("%s/%s/%s", pipelineName, buildingID, anchor.UTC().Format(time.RFC3339))
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String()
}

// Run executes one building at its current anchor. The cursor moves only
// after every stage succeeded.
func (r *Runner) Run(ctx context.Context, buildingID string) (Outcome, error) {
	out := Outcome{BuildingID: buildingID}
	if buildingID == "" {
		out.Err = errors.New("pipeline runner: building_id required")
		return out, out.Err
	}
	pipelineName := r.cfg.Pipeline
	unlock, err := r.cursor.Lock(ctx, pipelineName, buildingID)
	if err != nil {
		out.Err = err
		return out, err
	}
	defer unlock()

	anchorAt, err := r.cursor.GetOrInit(ctx, pipelineName, buildingID)
	if err != nil {
		r.logf("pipeline_run_failed", buildingID, "", time.Time{}, err.Error())
		metrics.ObserveRun(err, 0)
		out.Err = err
		return out, err
	}

	started := r.now().UTC()
	runID := RunID(pipelineName, buildingID, anchorAt)
	if err := r.runs.CreateRun(ctx, pipeline.RunRecord{
		RunID:         runID,
		Pipeline:      pipelineName,
		BuildingID:    buildingID,
		Anchor:        anchorAt,
		ConfigVersion: r.cfg.Version,
		Status:        pipeline.RunRunning,
		Attempts:      1,
		StartedAt:     started,
	}); err != nil {
		out.Err = fmt.Errorf("pipeline runner: create run: %w", err)
		return out, out.Err
	}
	r.logf("pipeline_run_start", buildingID, runID, anchorAt, "")

	rc := pipeline.NewRunContext(runID, pipelineName, buildingID, anchorAt, r.cfg.Version)
	for _, st := range r.stages {
		stageStarted := time.Now()
		next, err := st.Stage.Run(ctx, rc)
		metrics.ObserveStage(st.Name, err, time.Since(stageStarted))
		if err != nil {
			err = fmt.Errorf("%s: %w", st.Name, err)
			r.fail(ctx, runID, buildingID, anchorAt, started, err)
			out.Run = rc
			out.Err = err
			return out, err
		}
		rc = next
	}

	nextAnchor, err := r.cursor.StepBack(ctx, pipelineName, buildingID, r.cfg.AdvanceHours)
	if err != nil {
		err = fmt.Errorf("advance cursor: %w", err)
		r.fail(ctx, runID, buildingID, anchorAt, started, err)
		out.Run = rc
		out.Err = err
		return out, err
	}
	metrics.SetCursor(buildingID, nextAnchor)

	reportStatus := pipeline.ReportStatus("")
	if rc.Report != nil {
		reportStatus = rc.Report.Status
	}
	ended := r.now().UTC()
	if err := r.runs.FinishRun(ctx, runID, pipeline.RunSucceeded, reportStatus, "", ended); err != nil {
		r.logf("pipeline_run_record_failed", buildingID, runID, anchorAt, err.Error())
	}
	metrics.ObserveRun(nil, ended.Sub(started))
	r.logf("pipeline_run_success", buildingID, runID, anchorAt, "next_anchor="+nextAnchor.Format(time.RFC3339))

	r.publish(ctx, rc)
	r.alert(ctx, rc)

	out.Run = rc
	out.NextAnchor = nextAnchor
	return out, nil
}

// RunAll runs buildings concurrently on a bounded pool. Failures are
// isolated per building and reported in the outcomes, sorted by building.
func (r *Runner) RunAll(ctx context.Context, buildingIDs []string) []Outcome {
	ids := uniqueSorted(buildingIDs)
	outcomes := make([]Outcome, len(ids))
	workers := r.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	var g errgroup.Group
	g.SetLimit(workers)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			outcomes[i], _ = r.Run(ctx, id)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// Backfill runs one building steps times in a row, stopping at the first failure.
func (r *Runner) Backfill(ctx context.Context, buildingID string, steps int) ([]Outcome, error) {
	if steps <= 0 {
		return nil, errors.New("pipeline runner: steps must be positive")
	}
	outcomes := make([]Outcome, 0, steps)
	for i := 0; i < steps; i++ {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		out, err := r.Run(ctx, buildingID)
		outcomes = append(outcomes, out)
		if err != nil {
			return outcomes, err
		}
	}
	return outcomes, nil
}

func (r *Runner) fail(ctx context.Context, runID, buildingID string, anchorAt, started time.Time, runErr error) {
	ended := r.now().UTC()
	if err := r.runs.FinishRun(ctx, runID, pipeline.RunFailed, "", runErr.Error(), ended); err != nil {
		r.logf("pipeline_run_record_failed", buildingID, runID, anchorAt, err.Error())
	}
	metrics.ObserveRun(runErr, ended.Sub(started))
	r.logf("pipeline_run_failed", buildingID, runID, anchorAt, runErr.Error())
}

func (r *Runner) publish(ctx context.Context, rc pipeline.RunContext) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(ctx, rc); err != nil {
		r.logf("pipeline_publish_failed", rc.BuildingID, rc.RunID, rc.Anchor, err.Error())
	}
}

func (r *Runner) alert(ctx context.Context, rc pipeline.RunContext) {
	if r.notifier == nil || rc.Report == nil || rc.Report.Status == pipeline.StatusOK {
		return
	}
	report := rc.Report
	alert := notify.RunAlert{
		BuildingID: rc.BuildingID,
		RunID:      rc.RunID,
		Anchor:     rc.Anchor.Format(time.RFC3339),
		Status:     string(report.Status),
		Reasons:    report.Reasons,
		BlockUnits: report.BlockUnits,
		Summary: map[string]any{
			"coverage":       report.Coverage,
			"avg_confidence": report.AvgConfidence,
			"bad_ratio":      report.BadRatio,
			"decisions":      len(rc.Decisions),
		},
	}
	if r.publicBaseURL != "" {
		alert.ReportURL = fmt.Sprintf("%s/api/v1/validation-reports?building_id=%s", r.publicBaseURL, rc.BuildingID)
	}
	err := r.notifier.Notify(ctx, alert)
	metrics.IncNotify(err)
	if err != nil {
		r.logf("pipeline_notify_failed", rc.BuildingID, rc.RunID, rc.Anchor, err.Error())
	}
}

func (r *Runner) logf(event, buildingID, runID string, anchorAt time.Time, errMsg string) {
	if r.logger == nil {
		return
	}
	anchorText := ""
	if !anchorAt.IsZero() {
		anchorText = anchorAt.UTC().Format(time.RFC3339)
	}
	if errMsg != "" {
		r.logger.Printf("event=%s pipeline=%s building_id=%s run_id=%s anchor=%s detail=%s", event, r.cfg.Pipeline, buildingID, runID, anchorText, errMsg)
		return
	}
	r.logger.Printf("event=%s pipeline=%s building_id=%s run_id=%s anchor=%s", event, r.cfg.Pipeline, buildingID, runID, anchorText)
}

func uniqueSorted(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

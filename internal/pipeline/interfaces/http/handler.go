package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"smartbuilding-advisor/internal/anchor"
	"smartbuilding-advisor/internal/audit"
	"smartbuilding-advisor/internal/auth"
	"smartbuilding-advisor/internal/pipeline/application"
	pipeline "smartbuilding-advisor/internal/pipeline/domain"
	"smartbuilding-advisor/internal/pipeline/wire"
)

const (
	timeLayout    = time.RFC3339
	maxBackfill   = 90
	maxListLimit  = 5000
	exportTimeout = 30 * time.Second
)

// Runner triggers building runs.
type Runner interface {
	RunAll(ctx context.Context, buildingIDs []string) []application.Outcome
	Backfill(ctx context.Context, buildingID string, steps int) ([]application.Outcome, error)
}

// Weekly runs the weekly analysis of a building.
type Weekly interface {
	Run(ctx context.Context, buildingID string, at time.Time) (time.Time, []pipeline.AnomalyEvent, error)
}

// CursorLister lists stored cursors.
type CursorLister interface {
	List(ctx context.Context, pipelineName string) ([]anchor.Cursor, error)
}

// Reader queries persisted pipeline outputs.
type Reader interface {
	ListEvents(ctx context.Context, filter pipeline.ListFilter) ([]pipeline.AnomalyEvent, error)
	ListDecisions(ctx context.Context, filter pipeline.ListFilter) ([]pipeline.Decision, error)
	ListReports(ctx context.Context, filter pipeline.ListFilter) ([]pipeline.ValidationReport, error)
}

// Handler provides the advisory pipeline APIs.
type Handler struct {
	runner       Runner
	weekly       Weekly
	cursors      CursorLister
	reader       Reader
	auditLogger  audit.Logger
	pipelineName string
	buildings    []string
}

// NewHandler constructs a handler. buildings is the default set for run
// requests that name none.
func NewHandler(runner Runner, weekly Weekly, cursors CursorLister, reader Reader, auditLogger audit.Logger, pipelineName string, buildings []string) (*Handler, error) {
	if runner == nil || weekly == nil || cursors == nil || reader == nil {
		return nil, errors.New("pipeline handler: nil dependency")
	}
	if pipelineName == "" {
		return nil, errors.New("pipeline handler: pipeline name required")
	}
	return &Handler{
		runner:       runner,
		weekly:       weekly,
		cursors:      cursors,
		reader:       reader,
		auditLogger:  auditLogger,
		pipelineName: pipelineName,
		buildings:    buildings,
	}, nil
}

// ServeHTTP routes pipeline endpoints.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/pipeline/run" && r.Method == http.MethodPost:
		h.handleRun(w, r)
	case r.URL.Path == "/api/v1/pipeline/backfill" && r.Method == http.MethodPost:
		h.handleBackfill(w, r)
	case r.URL.Path == "/api/v1/pipeline/weekly" && r.Method == http.MethodPost:
		h.handleWeekly(w, r)
	case r.URL.Path == "/api/v1/pipeline/cursors" && r.Method == http.MethodGet:
		h.handleCursors(w, r)
	case r.URL.Path == "/api/v1/anomalies" && r.Method == http.MethodGet:
		h.handleAnomalies(w, r)
	case r.URL.Path == "/api/v1/decisions" && r.Method == http.MethodGet:
		h.handleDecisions(w, r)
	case r.URL.Path == "/api/v1/validation-reports" && r.Method == http.MethodGet:
		h.handleReports(w, r)
	case r.URL.Path == "/api/v1/decisions/export.xlsx" && r.Method == http.MethodGet:
		h.handleExport(w, r, exportXLSX)
	case r.URL.Path == "/api/v1/decisions/export.pdf" && r.Method == http.MethodGet:
		h.handleExport(w, r, exportPDF)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BuildingIDs []string `json:"building_ids"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
	}
	buildings := req.BuildingIDs
	if len(buildings) == 0 {
		buildings = h.buildings
	}
	if len(buildings) == 0 {
		http.Error(w, "building_ids required", http.StatusBadRequest)
		return
	}
	for _, id := range buildings {
		if err := auth.EnsureBuilding(r.Context(), id); err != nil {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	}
	outcomes := h.runner.RunAll(r.Context(), buildings)
	results := make([]wire.Run, 0, len(outcomes))
	for _, out := range outcomes {
		results = append(results, runResult(out))
	}
	h.logAudit(r, "", "pipeline.run", map[string]any{"building_ids": buildings})
	writeJSON(w, results)
}

func (h *Handler) handleBackfill(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BuildingID string `json:"building_id"`
		Steps      int    `json:"steps"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.BuildingID == "" {
		http.Error(w, "building_id required", http.StatusBadRequest)
		return
	}
	if req.Steps <= 0 || req.Steps > maxBackfill {
		http.Error(w, fmt.Sprintf("steps must be between 1 and %d", maxBackfill), http.StatusBadRequest)
		return
	}
	if err := auth.EnsureBuilding(r.Context(), req.BuildingID); err != nil {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	outcomes, err := h.runner.Backfill(r.Context(), req.BuildingID, req.Steps)
	results := make([]wire.Run, 0, len(outcomes))
	for _, out := range outcomes {
		results = append(results, runResult(out))
	}
	h.logAudit(r, req.BuildingID, "pipeline.backfill", map[string]any{"steps": req.Steps, "completed": len(outcomes)})
	resp := map[string]any{
		"building_id": req.BuildingID,
		"requested":   req.Steps,
		"runs":        results,
	}
	if err != nil {
		resp["error"] = err.Error()
	}
	writeJSON(w, resp)
}

func (h *Handler) handleWeekly(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BuildingID string `json:"building_id"`
		Anchor     string `json:"anchor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.BuildingID == "" {
		http.Error(w, "building_id required", http.StatusBadRequest)
		return
	}
	if err := auth.EnsureBuilding(r.Context(), req.BuildingID); err != nil {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	var at time.Time
	if req.Anchor != "" {
		parsed, err := time.Parse(timeLayout, req.Anchor)
		if err != nil {
			http.Error(w, "invalid anchor", http.StatusBadRequest)
			return
		}
		at = parsed
	}
	anchorAt, events, err := h.weekly.Run(r.Context(), req.BuildingID, at)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, pipeline.ErrNoData) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}
	h.logAudit(r, req.BuildingID, "pipeline.weekly", map[string]any{"anchor": anchorAt.Format(timeLayout), "events": len(events)})
	list := make([]wire.Event, 0, len(events))
	for _, evt := range events {
		list = append(list, wire.FromEvent(evt))
	}
	writeJSON(w, map[string]any{
		"building_id": req.BuildingID,
		"anchor":      anchorAt.Format(timeLayout),
		"events":      list,
	})
}

func (h *Handler) handleCursors(w http.ResponseWriter, r *http.Request) {
	cursors, err := h.cursors.List(r.Context(), h.pipelineName)
	if err != nil {
		http.Error(w, "query cursors error", http.StatusInternalServerError)
		return
	}
	list := make([]map[string]any, 0, len(cursors))
	for _, c := range cursors {
		if auth.EnsureBuilding(r.Context(), c.BuildingID) != nil {
			continue
		}
		list = append(list, map[string]any{
			"pipeline":    c.Pipeline,
			"building_id": c.BuildingID,
			"anchor":      c.Anchor.UTC().Format(timeLayout),
			"updated_at":  c.UpdatedAt.UTC().Format(timeLayout),
		})
	}
	writeJSON(w, list)
}

func (h *Handler) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseFilter(w, r)
	if !ok {
		return
	}
	events, err := h.reader.ListEvents(r.Context(), filter)
	if err != nil {
		http.Error(w, "query anomalies error", http.StatusInternalServerError)
		return
	}
	list := make([]wire.Event, 0, len(events))
	for _, evt := range events {
		list = append(list, wire.FromEvent(evt))
	}
	writeJSON(w, list)
}

func (h *Handler) handleDecisions(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseFilter(w, r)
	if !ok {
		return
	}
	decisions, err := h.reader.ListDecisions(r.Context(), filter)
	if err != nil {
		http.Error(w, "query decisions error", http.StatusInternalServerError)
		return
	}
	list := make([]wire.Decision, 0, len(decisions))
	for _, d := range decisions {
		list = append(list, wire.FromDecision(d))
	}
	writeJSON(w, list)
}

func (h *Handler) handleReports(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseFilter(w, r)
	if !ok {
		return
	}
	reports, err := h.reader.ListReports(r.Context(), filter)
	if err != nil {
		http.Error(w, "query reports error", http.StatusInternalServerError)
		return
	}
	list := make([]wire.Report, 0, len(reports))
	for _, report := range reports {
		list = append(list, wire.FromReport(report))
	}
	writeJSON(w, list)
}

func (h *Handler) logAudit(r *http.Request, buildingID, action string, meta map[string]any) {
	if h.auditLogger == nil {
		return
	}
	payload, _ := json.Marshal(meta)
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: "pipeline",
		ResourceID:   h.pipelineName,
		BuildingID:   buildingID,
		Metadata:     payload,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
}

func runResult(out application.Outcome) wire.Run {
	result := wire.FromRunContext(out.Run)
	result.BuildingID = out.BuildingID
	if !out.NextAnchor.IsZero() {
		result.NextAnchor = out.NextAnchor.UTC().Format(timeLayout)
	}
	if out.Err != nil {
		result.Status = string(pipeline.RunFailed)
		result.Error = out.Err.Error()
	}
	return result
}

func parseFilter(w http.ResponseWriter, r *http.Request) (pipeline.ListFilter, bool) {
	q := r.URL.Query()
	filter := pipeline.ListFilter{
		BuildingID: q.Get("building_id"),
		UnitID:     q.Get("unit_id"),
	}
	if err := auth.EnsureBuilding(r.Context(), filter.BuildingID); err != nil {
		http.Error(w, "forbidden", http.StatusForbidden)
		return filter, false
	}
	var err error
	if filter.From, err = parseTimeQuery(r, "from"); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return filter, false
	}
	if filter.To, err = parseTimeQuery(r, "to"); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return filter, false
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && !filter.To.After(filter.From) {
		http.Error(w, "to must be after from", http.StatusBadRequest)
		return filter, false
	}
	if value := q.Get("limit"); value != "" {
		limit, err := strconv.Atoi(value)
		if err != nil || limit <= 0 || limit > maxListLimit {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return filter, false
		}
		filter.Limit = limit
	}
	return filter, true
}

func parseTimeQuery(r *http.Request, key string) (time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s", key)
	}
	return parsed.UTC(), nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

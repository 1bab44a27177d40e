package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"smartbuilding-advisor/internal/anchor"
	"smartbuilding-advisor/internal/audit"
	"smartbuilding-advisor/internal/auth"
	"smartbuilding-advisor/internal/pipeline/application"
	pipeline "smartbuilding-advisor/internal/pipeline/domain"
	pipelinememory "smartbuilding-advisor/internal/pipeline/infrastructure/memory"
	"smartbuilding-advisor/internal/pipeline/wire"
)

var testAnchor = time.Date(2024, time.March, 5, 12, 0, 0, 0, time.UTC)

type stubRunner struct {
	ran      []string
	backfill int
}

func (s *stubRunner) RunAll(_ context.Context, buildingIDs []string) []application.Outcome {
	s.ran = append(s.ran, buildingIDs...)
	var out []application.Outcome
	for _, id := range buildingIDs {
		if id == "broken" {
			out = append(out, application.Outcome{BuildingID: id, Err: pipeline.ErrNoData})
			continue
		}
		rc := pipeline.NewRunContext("run-"+id, "advisory", id, testAnchor, "2024.1")
		out = append(out, application.Outcome{BuildingID: id, Run: rc, NextAnchor: testAnchor.Add(-24 * time.Hour)})
	}
	return out
}

func (s *stubRunner) Backfill(_ context.Context, buildingID string, steps int) ([]application.Outcome, error) {
	s.backfill = steps
	return []application.Outcome{{BuildingID: buildingID}}, nil
}

type stubWeekly struct{}

func (stubWeekly) Run(_ context.Context, buildingID string, at time.Time) (time.Time, []pipeline.AnomalyEvent, error) {
	if at.IsZero() {
		at = testAnchor
	}
	return at, []pipeline.AnomalyEvent{{
		Timestamp:  at,
		BuildingID: buildingID,
		UnitID:     "U1",
		Kind:       pipeline.KindWeeklyBudgetExceeded,
		Severity:   pipeline.SeverityMedium,
		Category:   pipeline.CategoryOperational,
		Details:    map[string]any{"report": "weekly"},
	}}, nil
}

type stubCursors struct{}

func (stubCursors) List(_ context.Context, pipelineName string) ([]anchor.Cursor, error) {
	return []anchor.Cursor{
		{Pipeline: pipelineName, BuildingID: "B001", Anchor: testAnchor, UpdatedAt: testAnchor},
		{Pipeline: pipelineName, BuildingID: "B002", Anchor: testAnchor, UpdatedAt: testAnchor},
	}, nil
}

type recordingAudit struct {
	entries []audit.Entry
}

func (r *recordingAudit) Log(_ context.Context, entry audit.Entry) error {
	r.entries = append(r.entries, entry)
	return nil
}

func newTestHandler(t *testing.T) (*Handler, *stubRunner, *pipelinememory.Store, *recordingAudit) {
	t.Helper()
	runner := &stubRunner{}
	store := pipelinememory.NewStore()
	auditLog := &recordingAudit{}
	h, err := NewHandler(runner, stubWeekly{}, stubCursors{}, store, auditLog, "advisory", []string{"B001"})
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return h, runner, store, auditLog
}

func seedDecisions(t *testing.T, store *pipelinememory.Store) {
	t.Helper()
	temp := 19.0
	decisions := []pipeline.Decision{
		{Timestamp: testAnchor, BuildingID: "B001", UnitID: "U1", Action: pipeline.ActionReduceHighTariff, TargetTemp: &temp, Approved: true, Confidence: 0.8, Mode: pipeline.ModeLearning, Notes: []string{"conf=0.80", "plan=reduce_heating_high_tariff"}},
		{Timestamp: testAnchor, BuildingID: "B001", UnitID: "U2", Action: pipeline.ActionNoAction, Mode: pipeline.ModeLearning, Notes: []string{"gate:block_unit"}},
		{Timestamp: testAnchor, BuildingID: "B002", UnitID: "U9", Action: pipeline.ActionMaintain, Mode: pipeline.ModeLearning},
	}
	if err := store.SaveDecisions(context.Background(), decisions); err != nil {
		t.Fatalf("seed decisions: %v", err)
	}
}

func TestHandler_RunDefaultsToConfiguredBuildings(t *testing.T) {
	h, runner, _, auditLog := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/pipeline/run", nil)
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if len(runner.ran) != 1 || runner.ran[0] != "B001" {
		t.Fatalf("expected configured building, got %v", runner.ran)
	}
	var results []wire.Run
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(results) != 1 || results[0].NextAnchor != "2024-03-04T12:00:00Z" || results[0].Status != "succeeded" {
		t.Fatalf("unexpected results %+v", results)
	}
	if len(auditLog.entries) != 1 || auditLog.entries[0].Action != "pipeline.run" {
		t.Fatalf("expected audited run, got %+v", auditLog.entries)
	}
}

func TestHandler_RunReportsPerBuildingFailure(t *testing.T) {
	h, _, _, _ := newTestHandler(t)
	body := bytes.NewBufferString(`{"building_ids":["B001","broken"]}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/pipeline/run", body)
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	var results []wire.Run
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(results) != 2 || results[1].Status != "failed" || !strings.Contains(results[1].Error, "no valid sensor readings") {
		t.Fatalf("unexpected results %+v", results)
	}
}

func TestHandler_BackfillValidatesSteps(t *testing.T) {
	h, runner, _, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/pipeline/backfill", bytes.NewBufferString(`{"building_id":"B001","steps":0}`))
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/pipeline/backfill", bytes.NewBufferString(`{"building_id":"B001","steps":3}`))
	resp = httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK || runner.backfill != 3 {
		t.Fatalf("expected backfill of 3, got %d %d", resp.Code, runner.backfill)
	}
}

func TestHandler_WeeklyReturnsEvents(t *testing.T) {
	h, _, _, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/pipeline/weekly", bytes.NewBufferString(`{"building_id":"B001"}`))
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	var payload struct {
		Anchor string       `json:"anchor"`
		Events []wire.Event `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Anchor != "2024-03-05T12:00:00Z" || len(payload.Events) != 1 || payload.Events[0].Kind != "weekly_budget_exceeded" {
		t.Fatalf("unexpected weekly payload %+v", payload)
	}
}

func TestHandler_ListDecisionsFiltersBuilding(t *testing.T) {
	h, _, store, _ := newTestHandler(t)
	seedDecisions(t, store)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/decisions?building_id=B001", nil)
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	var list []wire.Decision
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected two B001 decisions, got %d", len(list))
	}
	for _, d := range list {
		if d.BuildingID != "B001" {
			t.Fatalf("unexpected building %s", d.BuildingID)
		}
		if d.Action == "no_action" && d.TargetTemp != nil {
			t.Fatalf("no_action must not carry a target")
		}
	}
}

func TestHandler_RejectsBadTimeRange(t *testing.T) {
	h, _, _, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/anomalies?from=2024-03-05T00:00:00Z&to=2024-03-04T00:00:00Z", nil)
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestHandler_ScopedTokenLimitsBuildings(t *testing.T) {
	h, _, _, _ := newTestHandler(t)
	ctx := auth.WithIdentity(context.Background(), auth.RoleViewer, "user-1", []string{"B001"})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/decisions?building_id=B002", nil).WithContext(ctx)
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/pipeline/cursors", nil).WithContext(ctx)
	resp = httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	var cursors []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&cursors); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(cursors) != 1 || cursors[0]["building_id"] != "B001" {
		t.Fatalf("expected only B001 cursor, got %+v", cursors)
	}
}

func TestHandler_ExportXLSX(t *testing.T) {
	h, _, store, _ := newTestHandler(t)
	seedDecisions(t, store)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/decisions/export.xlsx?building_id=B001", nil)
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if !strings.Contains(resp.Header().Get("Content-Disposition"), "decisions-B001.xlsx") {
		t.Fatalf("unexpected disposition %q", resp.Header().Get("Content-Disposition"))
	}
	book, err := excelize.OpenReader(resp.Body)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer book.Close()
	rows, err := book.GetRows("decisions")
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header plus two rows, got %d", len(rows))
	}
	if rows[0][2] != "Action" {
		t.Fatalf("unexpected header %v", rows[0])
	}
}

func TestHandler_ExportRequiresBuilding(t *testing.T) {
	h, _, _, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/decisions/export.pdf", nil)
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestBuildDecisionsPDF(t *testing.T) {
	temp := 17.0
	payload, err := BuildDecisionsPDF(DecisionExport{
		BuildingID:  "B001",
		GeneratedAt: testAnchor,
		Decisions: []pipeline.Decision{{
			Timestamp: testAnchor, UnitID: "U1", Action: pipeline.ActionEmergencyReduce, TargetTemp: &temp,
			Approved: true, Confidence: 0.95, Notes: []string{"override:energy_spike=0.900"},
		}},
	})
	if err != nil {
		t.Fatalf("pdf: %v", err)
	}
	if !bytes.HasPrefix(payload, []byte("%PDF")) {
		t.Fatalf("expected pdf header")
	}
}

func TestNewHandler_RequiresDependencies(t *testing.T) {
	if _, err := NewHandler(nil, stubWeekly{}, stubCursors{}, pipelinememory.NewStore(), nil, "advisory", nil); err == nil {
		t.Fatalf("expected error for nil runner")
	}
	if _, err := NewHandler(&stubRunner{}, stubWeekly{}, stubCursors{}, pipelinememory.NewStore(), nil, "", nil); err == nil {
		t.Fatalf("expected error for empty pipeline")
	}
}

package http

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"smartbuilding-advisor/internal/observability/metrics"
	pipeline "smartbuilding-advisor/internal/pipeline/domain"
)

type exportFormat string

const (
	exportXLSX exportFormat = "xlsx"
	exportPDF  exportFormat = "pdf"
)

// DecisionExport is the content of a decision-log export.
type DecisionExport struct {
	BuildingID  string
	From        time.Time
	To          time.Time
	GeneratedAt time.Time
	Decisions   []pipeline.Decision
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request, format exportFormat) {
	started := time.Now()
	filter, ok := parseFilter(w, r)
	if !ok {
		return
	}
	if filter.BuildingID == "" {
		http.Error(w, "building_id required", http.StatusBadRequest)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), exportTimeout)
	defer cancel()
	decisions, err := h.reader.ListDecisions(ctx, filter)
	if err != nil {
		metrics.ObserveExport(string(format), "error", time.Since(started))
		http.Error(w, "query decisions error", http.StatusInternalServerError)
		return
	}
	export := DecisionExport{
		BuildingID:  filter.BuildingID,
		From:        filter.From,
		To:          filter.To,
		GeneratedAt: time.Now().UTC(),
		Decisions:   decisions,
	}

	var (
		payload     []byte
		contentType string
	)
	switch format {
	case exportXLSX:
		payload, err = BuildDecisionsXLSX(export)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case exportPDF:
		payload, err = BuildDecisionsPDF(export)
		contentType = "application/pdf"
	}
	if err != nil {
		metrics.ObserveExport(string(format), "error", time.Since(started))
		http.Error(w, "export error", http.StatusInternalServerError)
		return
	}
	metrics.ObserveExport(string(format), "success", time.Since(started))
	filename := fmt.Sprintf("decisions-%s.%s", filter.BuildingID, format)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	_, _ = w.Write(payload)
}

// BuildDecisionsPDF renders a decision log as a PDF table.
func BuildDecisionsPDF(export DecisionExport) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Advisory Decision Log")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Building: %s", export.BuildingID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Period: %s", periodLabel(export.From, export.To)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", export.GeneratedAt.Format(time.RFC3339)))
	pdf.Ln(5)
	approved := 0
	for _, d := range export.Decisions {
		if d.Approved {
			approved++
		}
	}
	pdf.Cell(0, 6, fmt.Sprintf("Decisions: %d (approved %d)", len(export.Decisions), approved))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 9)
	headers := []struct {
		title string
		width float64
	}{
		{"Time", 36}, {"Unit", 22}, {"Action", 52}, {"Target", 16}, {"Approved", 18}, {"Conf.", 14}, {"Notes", 119},
	}
	for _, col := range headers {
		pdf.CellFormat(col.width, 6, col.title, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 8)
	for _, d := range export.Decisions {
		pdf.CellFormat(36, 6, d.Timestamp.UTC().Format("2006-01-02 15:04"), "1", 0, "L", false, 0, "")
		pdf.CellFormat(22, 6, d.UnitID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(52, 6, string(d.Action), "1", 0, "L", false, 0, "")
		pdf.CellFormat(16, 6, targetLabel(d.TargetTemp), "1", 0, "R", false, 0, "")
		pdf.CellFormat(18, 6, yesNo(d.Approved), "1", 0, "C", false, 0, "")
		pdf.CellFormat(14, 6, fmt.Sprintf("%.2f", d.Confidence), "1", 0, "R", false, 0, "")
		pdf.CellFormat(119, 6, truncate(strings.Join(d.Notes, "; "), 90), "1", 0, "L", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildDecisionsXLSX renders a decision log as a workbook with a summary
// sheet and one row per decision.
func BuildDecisionsXLSX(export DecisionExport) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	summarySheet := "summary"
	decisionsSheet := "decisions"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(decisionsSheet); err != nil {
		return nil, err
	}

	approved := 0
	for _, d := range export.Decisions {
		if d.Approved {
			approved++
		}
	}
	_ = f.SetCellValue(summarySheet, "A1", "Advisory Decision Log")
	_ = f.SetCellValue(summarySheet, "A3", "Building")
	_ = f.SetCellValue(summarySheet, "B3", export.BuildingID)
	_ = f.SetCellValue(summarySheet, "A4", "Period")
	_ = f.SetCellValue(summarySheet, "B4", periodLabel(export.From, export.To))
	_ = f.SetCellValue(summarySheet, "A5", "Generated")
	_ = f.SetCellValue(summarySheet, "B5", export.GeneratedAt.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A6", "Decisions")
	_ = f.SetCellValue(summarySheet, "B6", len(export.Decisions))
	_ = f.SetCellValue(summarySheet, "A7", "Approved")
	_ = f.SetCellValue(summarySheet, "B7", approved)

	headers := []string{"Time", "Unit", "Action", "Plan Action", "Target Temp", "Approved", "Confidence",
		"Predicted kWh", "Occupancy Prob", "Estimated Cost", "Estimated Savings", "Mode", "Notes"}
	for i, title := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		_ = f.SetCellValue(decisionsSheet, cell, title)
	}
	for i, d := range export.Decisions {
		row := i + 2
		values := []any{
			d.Timestamp.UTC().Format(time.RFC3339),
			d.UnitID,
			string(d.Action),
			string(d.PlanAction),
			optionalFloat(d.TargetTemp),
			d.Approved,
			d.Confidence,
			d.PredictedKWh,
			optionalFloat(d.OccupancyProb),
			d.EstimatedCost,
			d.EstimatedSavings,
			d.Mode,
			strings.Join(d.Notes, "; "),
		}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return nil, err
			}
			_ = f.SetCellValue(decisionsSheet, cell, value)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func periodLabel(from, to time.Time) string {
	start, end := "-", "-"
	if !from.IsZero() {
		start = from.UTC().Format(time.RFC3339)
	}
	if !to.IsZero() {
		end = to.UTC().Format(time.RFC3339)
	}
	return start + " .. " + end
}

func targetLabel(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f", *v)
}

func optionalFloat(v *float64) any {
	if v == nil {
		return ""
	}
	return *v
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

package notify

import (
	"bytes"
	"errors"
	"strings"
	"text/template"
)

const DefaultTemplate = `[Advisory {{.Status}}]
Building: {{.Building}}
Anchor: {{.Anchor}}
Run: {{.RunID}}
{{ if .Reasons }}Reasons: {{.Reasons}}
{{ end }}{{ if .BlockUnits }}Blocked units: {{.BlockUnits}}
{{ end }}{{ if .ReportURL }}Report: {{.ReportURL}}
{{ end }}`

// TemplateData provides fields for rendering alert content.
type TemplateData struct {
	Building   string
	RunID      string
	Anchor     string
	Status     string
	Reasons    string
	BlockUnits string
	ReportURL  string
}

// Template renders alert content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses an alert template, falling back to DefaultTemplate.
func NewTemplate(tpl string) (*Template, error) {
	if tpl == "" {
		tpl = DefaultTemplate
	}
	parsed, err := template.New("run-alert").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to an alert.
func (t *Template) Render(alert RunAlert) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("alert template: nil")
	}
	data := TemplateData{
		Building:   alert.BuildingID,
		RunID:      alert.RunID,
		Anchor:     alert.Anchor,
		Status:     alert.Status,
		Reasons:    strings.Join(alert.Reasons, ", "),
		BlockUnits: strings.Join(alert.BlockUnits, ", "),
		ReportURL:  alert.ReportURL,
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

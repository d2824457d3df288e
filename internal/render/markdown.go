package render

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"github.com/dshills/phiguard/internal/audit"
)

type markdownRenderer struct{}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "open"
	}
	return t.UTC().Format(time.RFC3339Nano)
}

var mdTemplate = template.Must(template.New("export").Funcs(template.FuncMap{"ts": formatTime}).Parse(`# Audit Log Export

**Exported:** {{ ts .ExportDate }}{{ if .ExportedBy }} by {{ .ExportedBy }}{{ end }}
**Range:** {{ ts .DateRange.Start }} – {{ ts .DateRange.End }}
**Events:** {{ len .Events }}
{{ if .Unreadable }}> Warning: {{ .Unreadable }} event file(s) could not be read and are not included.
{{ end }}{{ if .Events }}
---

| Timestamp | Event | User | Session | Details |
|---|---|---|---|---|
{{ range .Events }}| {{ ts .Timestamp }} | {{ .EventType }} | {{ .UserID }} | {{ if .SessionID }}{{ .SessionID }}{{ end }} | {{ range $k, $v := .Details }}{{ $k }}={{ $v }} {{ end }}|
{{ end }}{{ end }}`))

func (r *markdownRenderer) Render(exp *audit.Export) ([]byte, error) {
	var buf bytes.Buffer
	if err := mdTemplate.Execute(&buf, exp); err != nil {
		return nil, fmt.Errorf("rendering markdown: %w", err)
	}
	return buf.Bytes(), nil
}

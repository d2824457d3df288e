package auditor

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/template"

	"github.com/dshills/phiguard/internal/phi"
	"github.com/dshills/phiguard/internal/redact"
)

// Audit detail keys produced by Details.
const (
	DetailRedactionCount = "redaction_count"
	DetailCategories     = "categories"
)

// CategoryCount is one row of a redaction summary.
type CategoryCount struct {
	Category phi.Category
	Count    int
}

// Counts tallies items by category, sorted by category name.
func Counts(items []redact.Item) []CategoryCount {
	m := make(map[phi.Category]int)
	for _, it := range items {
		m[it.Category]++
	}
	out := make([]CategoryCount, 0, len(m))
	for c, n := range m {
		out = append(out, CategoryCount{Category: c, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}

// Details returns audit-safe event details for items: a total and a
// "category=count" list. No value from the text is ever included.
func Details(items []redact.Item) map[string]string {
	counts := Counts(items)
	parts := make([]string, len(counts))
	for i, c := range counts {
		parts[i] = fmt.Sprintf("%s=%d", c.Category, c.Count)
	}
	return map[string]string{
		DetailRedactionCount: strconv.Itoa(len(items)),
		DetailCategories:     strings.Join(parts, ","),
	}
}

var logTemplate = template.Must(template.New("log").Parse(`Redactions: {{ len .Items }}
{{ range .Items }}  #{{ .Ordinal }} {{ .Category }}
{{ end }}{{ if .Counts }}By category:
{{ range .Counts }}  {{ .Category }}: {{ .Count }}
{{ end }}{{ end }}`))

// RenderLog formats items for local debugging. It is not an audit record.
func RenderLog(items []redact.Item) string {
	var buf bytes.Buffer
	data := struct {
		Items  []redact.Item
		Counts []CategoryCount
	}{items, Counts(items)}
	if err := logTemplate.Execute(&buf, data); err != nil {
		return fmt.Sprintf("rendering redaction log: %v", err)
	}
	return buf.String()
}

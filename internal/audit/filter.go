package audit

import (
	"strconv"

	"github.com/dshills/phiguard/internal/phi"
)

const (
	// FilteredValue replaces a details value that matched a PHI pattern.
	FilteredValue = "[FILTERED]"
	// DetailFilteredFields counts how many values were replaced.
	DetailFilteredFields = "filtered_fields"
)

// DetailsFilter keeps PHI out of event details. Callers are expected to pass
// only metadata; the filter catches the mistakes.
type DetailsFilter struct {
	table *phi.Table
}

// NewDetailsFilter returns a filter backed by the full pattern table.
func NewDetailsFilter(table *phi.Table) *DetailsFilter {
	return &DetailsFilter{table: table}
}

// Apply returns a copy of details with every flagged value replaced. The
// input map is not modified.
func (f *DetailsFilter) Apply(details map[string]string) map[string]string {
	if len(details) == 0 {
		return details
	}
	out := make(map[string]string, len(details)+1)
	filtered := 0
	for k, v := range details {
		if f.table.Contains(v, phi.TierFull) {
			out[k] = FilteredValue
			filtered++
			continue
		}
		out[k] = v
	}
	if filtered > 0 {
		out[DetailFilteredFields] = strconv.Itoa(filtered)
	}
	return out
}

package redact

import (
	"github.com/dshills/phiguard/internal/phi"
)

// maxPasses bounds the rescan loop. Each pass replaces unredacted text with
// inert placeholders, so real inputs settle in one or two passes.
const maxPasses = 8

// Item records one redaction. The original value is never kept.
type Item struct {
	Category phi.Category `json:"category"`
	Ordinal  int          `json:"ordinal"`
}

// Result is the output of a deterministic redaction.
type Result struct {
	Text  string
	Items []Item
}

type span struct {
	start, end int
	category   phi.Category
}

// Redact replaces every match of the given tier with [REDACTED_PHI_<n>].
//
// Ordinals are zero-based and assigned left to right. Overlapping matches from
// different patterns are merged into one span, labelled with the category of
// the earliest and longest match. Replacement runs in reverse position order
// so earlier offsets stay valid. The text is rescanned until no pattern
// matches; the same input always yields the same output and ordinals.
func Redact(table *phi.Table, text string, tier phi.Tier) Result {
	var items []Item
	next := 0
	for pass := 0; pass < maxPasses; pass++ {
		spans := merge(table.ScanTier(text, tier))
		if len(spans) == 0 {
			break
		}
		for i, s := range spans {
			items = append(items, Item{Category: s.category, Ordinal: next + i})
		}
		for i := len(spans) - 1; i >= 0; i-- {
			s := spans[i]
			text = text[:s.start] + phi.Placeholder(next+i) + text[s.end:]
		}
		next += len(spans)
	}
	return Result{Text: text, Items: items}
}

// merge collapses overlapping matches. Input must be ordered by start
// ascending then end descending, which ScanTier guarantees.
func merge(matches []phi.Match) []span {
	var out []span
	for _, m := range matches {
		if n := len(out); n > 0 && m.Start < out[n-1].end {
			if m.End > out[n-1].end {
				out[n-1].end = m.End
			}
			continue
		}
		out = append(out, span{start: m.Start, end: m.End, category: m.Category})
	}
	return out
}

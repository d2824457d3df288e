package auditor

import (
	"strings"

	"github.com/dshills/phiguard/internal/phi"
	"github.com/dshills/phiguard/internal/redact"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// Summarize reconstructs the redaction log for a before/after pair without
// looking at the redacted values.
//
// Both texts are split on whitespace and aligned with a longest common
// subsequence diff over tokens. Every changed hunk contributes one item per
// placeholder it inserts; labelled placeholders carry their category, ordinal
// placeholders resolve to CategoryUnknown. A hunk that removes tokens without
// inserting a placeholder (a paraphrase or an outright deletion) is reported
// once as CategoryUnknown. Hunks that only insert plain text are ignored.
// Ordinals are assigned in output order.
func Summarize(original, redacted string) []redact.Item {
	a, b := tokenize(original, redacted)
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0 // exact alignment; the same pair always yields the same log
	diffs := dmp.DiffMainRunes(a.runes, b.runes, false)

	var items []redact.Item
	add := func(c phi.Category) {
		items = append(items, redact.Item{Category: c, Ordinal: len(items)})
	}

	var deleted int
	var inserted []string
	flush := func() {
		var holders []string
		for _, tok := range inserted {
			holders = append(holders, phi.FindPlaceholders(tok)...)
		}
		switch {
		case len(holders) > 0:
			for _, h := range holders {
				add(phi.PlaceholderCategory(h))
			}
		case deleted > 0:
			add(phi.CategoryUnknown)
		}
		deleted, inserted = 0, nil
	}

	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			flush()
		case diffmatchpatch.DiffDelete:
			deleted += len([]rune(d.Text))
		case diffmatchpatch.DiffInsert:
			inserted = append(inserted, b.words(d.Text)...)
		}
	}
	flush()
	return items
}

// alphabet maps whitespace-delimited tokens onto runes so the character diff
// works on words.
type alphabet struct {
	byToken map[string]rune
	tokens  []string // indexed by rune - firstRune, skipping the surrogate gap
	next    rune
}

const firstRune rune = 1

type encoded struct {
	runes []rune
	alpha *alphabet
}

func tokenize(original, redacted string) (encoded, encoded) {
	al := &alphabet{byToken: make(map[string]rune), next: firstRune}
	return encoded{runes: al.encode(original), alpha: al}, encoded{runes: al.encode(redacted), alpha: al}
}

func (al *alphabet) encode(s string) []rune {
	fields := strings.Fields(s)
	out := make([]rune, len(fields))
	for i, f := range fields {
		r, ok := al.byToken[f]
		if !ok {
			r = al.next
			al.byToken[f] = r
			al.tokens = append(al.tokens, f)
			al.next++
			// Surrogate code points do not survive a string round trip.
			if al.next >= 0xD800 && al.next <= 0xDFFF {
				al.next = 0xE000
			}
		}
		out[i] = r
	}
	return out
}

func (al *alphabet) token(r rune) string {
	idx := int(r - firstRune)
	if r >= 0xE000 {
		idx -= 0xE000 - 0xD800
	}
	if idx < 0 || idx >= len(al.tokens) {
		return ""
	}
	return al.tokens[idx]
}

// words decodes a diff fragment back into tokens.
func (e encoded) words(fragment string) []string {
	var out []string
	for _, r := range fragment {
		out = append(out, e.alpha.token(r))
	}
	return out
}

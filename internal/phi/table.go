package phi

import (
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed patterns.yaml
var defaultTable []byte

// ErrIncompleteTable is returned when a table leaves a Safe Harbor category
// without a matcher.
var ErrIncompleteTable = errors.New("pattern table does not cover every category")

// CompileError reports a single pattern entry that could not be built.
type CompileError struct {
	Category Category
	ID       string
	Err      error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("pattern %s (%s): %v", e.ID, e.Category, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// Tier selects which subset of the table a scan runs.
type Tier int

const (
	// TierFull runs every pattern.
	TierFull Tier = iota
	// TierObvious runs only the high-precision patterns: SSN, street
	// addresses, prefixed record numbers, phone, fax, email and file numbers.
	TierObvious
)

func (t Tier) String() string {
	switch t {
	case TierObvious:
		return "obvious"
	default:
		return "full"
	}
}

// Pattern is one compiled detector.
type Pattern struct {
	ID            string
	Category      Category
	CaseSensitive bool
	Obvious       bool
	re            *regexp.Regexp
}

// Match is a detected span. Start and End are byte offsets into the scanned
// text; the matched value itself is deliberately not carried.
type Match struct {
	Category  Category
	PatternID string
	Start     int
	End       int
}

// Table is an immutable, fully compiled pattern library.
type Table struct {
	version  string
	patterns []Pattern
}

type tableFile struct {
	Version  string      `yaml:"version"`
	Patterns []entryFile `yaml:"patterns"`
}

type entryFile struct {
	ID            string `yaml:"id"`
	Category      string `yaml:"category"`
	Regex         string `yaml:"regex"`
	CaseSensitive bool   `yaml:"case_sensitive"`
	Obvious       bool   `yaml:"obvious"`
}

// Compile builds the embedded table. Any failure is fatal for callers: the
// library never runs with a partial set of patterns.
func Compile() (*Table, error) {
	return CompileFrom(defaultTable)
}

// MustCompile is like Compile but panics on error.
func MustCompile() *Table {
	t, err := Compile()
	if err != nil {
		panic(err)
	}
	return t
}

// CompileFrom builds a table from YAML source.
func CompileFrom(src []byte) (*Table, error) {
	var file tableFile
	if err := yaml.Unmarshal(src, &file); err != nil {
		return nil, fmt.Errorf("parsing pattern table: %w", err)
	}
	if strings.TrimSpace(file.Version) == "" {
		return nil, errors.New("pattern table has no version")
	}

	t := &Table{version: file.Version, patterns: make([]Pattern, 0, len(file.Patterns))}
	seen := make(map[string]bool, len(file.Patterns))
	covered := make(map[Category]bool)

	for _, e := range file.Patterns {
		cat := Category(e.Category)
		if e.ID == "" {
			return nil, &CompileError{Category: cat, ID: "<unnamed>", Err: errors.New("missing id")}
		}
		if seen[e.ID] {
			return nil, &CompileError{Category: cat, ID: e.ID, Err: errors.New("duplicate id")}
		}
		seen[e.ID] = true
		if !IsValidCategory(cat) {
			return nil, &CompileError{Category: cat, ID: e.ID, Err: fmt.Errorf("unknown category %q", e.Category)}
		}
		if e.Regex == "" {
			return nil, &CompileError{Category: cat, ID: e.ID, Err: errors.New("empty regex")}
		}
		expr := e.Regex
		if !e.CaseSensitive {
			expr = "(?i)" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, &CompileError{Category: cat, ID: e.ID, Err: err}
		}
		// A pattern that matches the empty string would report zero-width
		// spans everywhere.
		if re.MatchString("") {
			return nil, &CompileError{Category: cat, ID: e.ID, Err: errors.New("pattern matches empty input")}
		}
		t.patterns = append(t.patterns, Pattern{
			ID:            e.ID,
			Category:      cat,
			CaseSensitive: e.CaseSensitive,
			Obvious:       e.Obvious,
			re:            re,
		})
		covered[cat] = true
	}

	var missing []string
	for _, c := range safeHarbor {
		if !covered[c] {
			missing = append(missing, string(c))
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrIncompleteTable, strings.Join(missing, ", "))
	}
	return t, nil
}

// Version returns the table's declared version string.
func (t *Table) Version() string { return t.version }

// Patterns returns a copy of the compiled patterns in table order.
func (t *Table) Patterns() []Pattern {
	return append([]Pattern(nil), t.patterns...)
}

// Categories returns the distinct categories the table detects, in
// Safe Harbor order.
func (t *Table) Categories() []Category {
	have := make(map[Category]bool)
	for _, p := range t.patterns {
		have[p.Category] = true
	}
	var out []Category
	for _, c := range safeHarbor {
		if have[c] {
			out = append(out, c)
		}
	}
	return out
}

// Scan runs every pattern over text.
func (t *Table) Scan(text string) []Match {
	return t.ScanTier(text, TierFull)
}

// ScanObvious runs only the obvious subset over text.
func (t *Table) ScanObvious(text string) []Match {
	return t.ScanTier(text, TierObvious)
}

// ScanTier runs each pattern of the tier independently over the full text.
// Matches are ordered by start offset, longer spans first, then table order.
// A match lying entirely inside an existing placeholder token is dropped.
func (t *Table) ScanTier(text string, tier Tier) []Match {
	if text == "" {
		return nil
	}
	holders := placeholderSpans(text)

	type ordered struct {
		Match
		idx int
	}
	var found []ordered
	for i, p := range t.patterns {
		if tier == TierObvious && !p.Obvious {
			continue
		}
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			if loc[0] == loc[1] || insideAny(loc, holders) {
				continue
			}
			found = append(found, ordered{
				Match: Match{Category: p.Category, PatternID: p.ID, Start: loc[0], End: loc[1]},
				idx:   i,
			})
		}
	}
	sort.SliceStable(found, func(i, j int) bool {
		a, b := found[i], found[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.End != b.End {
			return a.End > b.End
		}
		return a.idx < b.idx
	})

	out := make([]Match, len(found))
	for i, f := range found {
		out[i] = f.Match
	}
	return out
}

// Contains reports whether any pattern of the tier matches text.
func (t *Table) Contains(text string, tier Tier) bool {
	return len(t.ScanTier(text, tier)) > 0
}

func insideAny(loc []int, spans [][]int) bool {
	for _, s := range spans {
		if loc[0] >= s[0] && loc[1] <= s[1] {
			return true
		}
	}
	return false
}

package phi

import (
	"errors"
	"strings"
	"testing"
)

func TestCompile_EmbeddedTableCoversSafeHarbor(t *testing.T) {
	table, err := Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if table.Version() == "" {
		t.Error("expected a table version")
	}
	got := table.Categories()
	want := SafeHarborCategories()
	if len(got) != len(want) {
		t.Fatalf("covered %d categories, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("category %d: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestCompileFrom_BadRegexFailsFast(t *testing.T) {
	src := []byte(`
version: "test"
patterns:
  - id: BROKEN
    category: email
    regex: '([a-z'
`)
	_, err := CompileFrom(src)
	if err == nil {
		t.Fatal("expected error for invalid regex")
	}
	var ce *CompileError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *CompileError, got %T: %v", err, err)
	}
	if ce.ID != "BROKEN" || ce.Category != CategoryEmail {
		t.Errorf("unexpected error detail: %+v", ce)
	}
}

func TestCompileFrom_MissingCategory(t *testing.T) {
	src := []byte(`
version: "test"
patterns:
  - id: ONLY_EMAIL
    category: email
    regex: '\S+@\S+'
`)
	_, err := CompileFrom(src)
	if !errors.Is(err, ErrIncompleteTable) {
		t.Fatalf("expected ErrIncompleteTable, got %v", err)
	}
	if !strings.Contains(err.Error(), "ssn") {
		t.Errorf("error should name missing categories: %v", err)
	}
}

func TestCompileFrom_Rejects(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unknown category", "version: x\npatterns:\n  - id: A\n    category: shoe_size\n    regex: 'x'\n"},
		{"duplicate id", "version: x\npatterns:\n  - id: A\n    category: email\n    regex: 'a'\n  - id: A\n    category: email\n    regex: 'b'\n"},
		{"empty regex", "version: x\npatterns:\n  - id: A\n    category: email\n    regex: ''\n"},
		{"matches empty", "version: x\npatterns:\n  - id: A\n    category: email\n    regex: 'a*'\n"},
		{"missing version", "patterns:\n  - id: A\n    category: email\n    regex: 'a'\n"},
		{"not yaml", "{{{"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := CompileFrom([]byte(tt.src)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestScan_DetectsEachCategory(t *testing.T) {
	table := MustCompile()
	tests := []struct {
		text string
		want Category
	}{
		{"Patient: Maria Lopez", CategoryName},
		{"seen by Dr. Alvarez today", CategoryClinician},
		{"admitted 03/14/2021", CategoryDate},
		{"born on March 4, 1950", CategoryDate},
		{"a 72 year old man", CategoryAge},
		{"call 555-123-4567", CategoryPhone},
		{"Fax: 555 123 4567", CategoryFax},
		{"write to jdoe@example.org", CategoryEmail},
		{"SSN 123-45-6789", CategorySSN},
		{"MRN: 00482913", CategoryMedicalRecord},
		{"member id: XJH-4492101", CategoryHealthPlan},
		{"account #: 4400-1234", CategoryAccount},
		{"license number: D1234567", CategoryLicense},
		{"VIN 1HGCM82633A004352", CategoryVehicle},
		{"pacemaker serial: PM-88213", CategoryDevice},
		{"see https://portal.example.org/u/42", CategoryURL},
		{"logged in from 10.0.4.17", CategoryIPAddress},
		{"fingerprints were collected", CategoryBiometric},
		{"attached full-face photograph", CategoryPhoto},
		{"C-file: 12345678", CategoryVAFileNumber},
		{"lives at 42 Elm Street", CategoryAddress},
		{"moved to Springfield, IL 62704", CategoryGeographic},
		{"treated at Walter Reed Medical Center", CategoryFacility},
	}
	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			found := false
			for _, m := range table.Scan(tt.text) {
				if m.Category == tt.want {
					found = true
				}
			}
			if !found {
				t.Errorf("%q: no %s match in %+v", tt.text, tt.want, table.Scan(tt.text))
			}
		})
	}
}

func TestScanObvious_IgnoresAdvisoryQuestion(t *testing.T) {
	table := MustCompile()
	q := "What are the PTSD rating criteria for a 72 year old veteran?"
	if got := table.ScanObvious(q); len(got) != 0 {
		t.Errorf("expected no obvious matches, got %+v", got)
	}
	if got := table.ScanObvious("SSN: 123-45-6789"); len(got) != 1 || got[0].Category != CategorySSN {
		t.Errorf("expected one SSN match, got %+v", got)
	}
}

func TestScan_OrderedAndSkipsPlaceholders(t *testing.T) {
	table := MustCompile()
	text := "[REDACTED_PHI_0] wrote to a@b.io and 555-123-4567"
	ms := table.Scan(text)
	if len(ms) < 2 {
		t.Fatalf("expected at least two matches, got %+v", ms)
	}
	for i := 1; i < len(ms); i++ {
		if ms[i].Start < ms[i-1].Start {
			t.Errorf("matches out of order: %+v", ms)
		}
	}
	for _, m := range ms {
		if m.End <= len("[REDACTED_PHI_0]") {
			t.Errorf("match inside placeholder: %+v", m)
		}
	}
}

func TestScan_EmptyText(t *testing.T) {
	if got := MustCompile().Scan(""); got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestPlaceholderCategory(t *testing.T) {
	tests := []struct {
		token string
		want  Category
	}{
		{"[REDACTED_PHI_3]", CategoryUnknown},
		{"[REDACTED_EMAIL]", CategoryEmail},
		{"[REDACTED_MEDICAL_RECORD]", CategoryMedicalRecord},
		{"[REDACTED_SHOE]", CategoryUnknown},
		{LabelPlaceholder(CategoryVAFileNumber), CategoryVAFileNumber},
	}
	for _, tt := range tests {
		if got := PlaceholderCategory(tt.token); got != tt.want {
			t.Errorf("PlaceholderCategory(%q) = %s, want %s", tt.token, got, tt.want)
		}
	}
	if Placeholder(7) != "[REDACTED_PHI_7]" {
		t.Errorf("Placeholder(7) = %q", Placeholder(7))
	}
}

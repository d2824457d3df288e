package policy

import (
	"strings"
	"testing"

	"github.com/dshills/phiguard/internal/phi"
)

func TestParseContext(t *testing.T) {
	for _, name := range []string{"user_query", "stored_record", "uploaded_document", " Stored_Record "} {
		if _, err := ParseContext(name); err != nil {
			t.Errorf("ParseContext(%q): %v", name, err)
		}
	}
	if _, err := ParseContext("email"); err == nil {
		t.Error("expected error for unknown context")
	}
}

func TestFor_AllContexts(t *testing.T) {
	tests := []struct {
		ctx        UsageContext
		mandatory  bool
		tier       phi.Tier
		exhaustive bool
	}{
		{UserQuery, false, phi.TierObvious, false},
		{StoredRecord, true, phi.TierFull, true},
		{UploadedDocument, true, phi.TierFull, true},
		{UsageContext("fax_cover"), true, phi.TierFull, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.ctx), func(t *testing.T) {
			p := For(tt.ctx)
			if p.Context != tt.ctx {
				t.Errorf("context = %s", p.Context)
			}
			if p.Mandatory != tt.mandatory || p.Tier != tt.tier || p.Exhaustive != tt.exhaustive {
				t.Errorf("got %+v", p)
			}
		})
	}
}

func TestFormatRulesForPrompt(t *testing.T) {
	rules := For(UploadedDocument).FormatRulesForPrompt()
	if !strings.Contains(rules, "uploaded_document") || !strings.Contains(rules, "signature") {
		t.Errorf("unexpected rules block: %q", rules)
	}
	if (&Policy{}).FormatRulesForPrompt() != "" {
		t.Error("expected empty block for policy without rules")
	}
}

func TestShouldDeidentify_MandatoryContextsAlwaysTrue(t *testing.T) {
	c := NewChecker(phi.MustCompile())
	inputs := []string{
		"",
		"hello",
		"What are the PTSD rating criteria for a 72 year old veteran?",
		"SSN: 123-45-6789",
		strings.Repeat("x", 4096),
	}
	for _, in := range inputs {
		for _, ctx := range []UsageContext{StoredRecord, UploadedDocument} {
			if !c.ShouldDeidentify(in, ctx) {
				t.Errorf("ShouldDeidentify(%.20q, %s) = false", in, ctx)
			}
		}
	}
}

func TestShouldDeidentify_UserQuery(t *testing.T) {
	c := NewChecker(phi.MustCompile())
	tests := []struct {
		text string
		want bool
	}{
		{"What are the PTSD rating criteria for a 72 year old veteran?", false},
		{"How should I word a nexus letter for John?", false},
		{"Is tinnitus service connected for a Navy machinist?", false},
		{"SSN: 123-45-6789", true},
		{"he lives at 1200 Oak Avenue now", true},
		{"reach her at 555-867-5309", true},
		{"email maria@example.org about it", true},
		{"MRN: A1234567 shows a prior claim", true},
		{"C-file 12345678 is missing pages", true},
	}
	for _, tt := range tests {
		if got := c.ShouldDeidentify(tt.text, UserQuery); got != tt.want {
			t.Errorf("ShouldDeidentify(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

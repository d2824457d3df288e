package auditor

import (
	"strings"
	"testing"

	"github.com/dshills/phiguard/internal/phi"
	"github.com/dshills/phiguard/internal/redact"
)

func categories(items []redact.Item) []phi.Category {
	out := make([]phi.Category, len(items))
	for i, it := range items {
		out[i] = it.Category
	}
	return out
}

func TestSummarize_LabelledPlaceholders(t *testing.T) {
	original := "Contact John Smith at john.smith@example.com or 555-123-4567 today."
	redacted := "Contact [REDACTED_NAME] at [REDACTED_EMAIL] or [REDACTED_PHONE] today."
	items := Summarize(original, redacted)

	want := []phi.Category{phi.CategoryName, phi.CategoryEmail, phi.CategoryPhone}
	got := categories(items)
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("item %d = %s, want %s", i, got[i], want[i])
		}
		if items[i].Ordinal != i {
			t.Errorf("item %d ordinal = %d", i, items[i].Ordinal)
		}
	}
}

func TestSummarize_OrdinalPlaceholdersAreUnknown(t *testing.T) {
	items := Summarize("call 555-123-4567 now", "call [REDACTED_PHI_0] now")
	if len(items) != 1 || items[0].Category != phi.CategoryUnknown {
		t.Errorf("got %+v", items)
	}
}

func TestSummarize_DeletionWithoutPlaceholder(t *testing.T) {
	items := Summarize("seen by Dr. Alvarez on Monday", "seen on Monday")
	if len(items) != 1 || items[0].Category != phi.CategoryUnknown {
		t.Errorf("got %+v", items)
	}
}

func TestSummarize_LengthChangeAndReorder(t *testing.T) {
	original := "Veteran James Carter, born 04/12/1961, lives at 42 Elm Street in Springfield."
	redacted := "Veteran [REDACTED_NAME], born [REDACTED_DATE], lives at [REDACTED_ADDRESS] in [REDACTED_GEOGRAPHIC]. Note: reviewed."
	items := Summarize(original, redacted)
	got := categories(items)
	want := []phi.Category{phi.CategoryName, phi.CategoryDate, phi.CategoryAddress, phi.CategoryGeographic}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("item %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestSummarize_IdenticalText(t *testing.T) {
	if items := Summarize("nothing changed here", "nothing changed here"); len(items) != 0 {
		t.Errorf("expected no items, got %+v", items)
	}
	if items := Summarize("", ""); len(items) != 0 {
		t.Errorf("expected no items for empty input, got %+v", items)
	}
}

func TestSummarize_PlaceholderAlreadyPresent(t *testing.T) {
	items := Summarize("[REDACTED_PHI_0] and a@b.io", "[REDACTED_PHI_0] and [REDACTED_EMAIL]")
	if len(items) != 1 || items[0].Category != phi.CategoryEmail {
		t.Errorf("got %+v", items)
	}
}

func TestSummarize_ManyDistinctTokens(t *testing.T) {
	// Enough distinct tokens to cross the surrogate gap in the rune alphabet.
	var sb strings.Builder
	for i := 0; i < 0xD800+10; i++ {
		sb.WriteString("w")
		sb.WriteString(strings.Repeat("x", i%7))
		sb.WriteString(string(rune('a' + i%26)))
		sb.WriteString(itoa(i))
		sb.WriteString(" ")
	}
	original := sb.String() + "tail 555-123-4567"
	redacted := sb.String() + "tail [REDACTED_PHONE]"
	items := Summarize(original, redacted)
	if len(items) != 1 || items[0].Category != phi.CategoryPhone {
		t.Errorf("got %+v", items)
	}
}

func itoa(i int) string {
	const digits = "0123456789"
	if i == 0 {
		return "0"
	}
	var b []byte
	for i > 0 {
		b = append([]byte{digits[i%10]}, b...)
		i /= 10
	}
	return string(b)
}

func TestDetails_NoValues(t *testing.T) {
	original := "SSN 123-45-6789 for Maria Lopez"
	redacted := "SSN [REDACTED_SSN] for [REDACTED_NAME]"
	d := Details(Summarize(original, redacted))
	if d[DetailRedactionCount] != "2" {
		t.Errorf("redaction_count = %q", d[DetailRedactionCount])
	}
	if d[DetailCategories] != "name=1,ssn=1" {
		t.Errorf("categories = %q", d[DetailCategories])
	}
	for k, v := range d {
		for _, leak := range []string{"123-45-6789", "Maria", "Lopez"} {
			if strings.Contains(v, leak) {
				t.Errorf("detail %s leaks %q", k, leak)
			}
		}
	}
}

func TestDetails_Empty(t *testing.T) {
	d := Details(nil)
	if d[DetailRedactionCount] != "0" || d[DetailCategories] != "" {
		t.Errorf("unexpected details: %v", d)
	}
}

func TestRenderLog(t *testing.T) {
	out := RenderLog([]redact.Item{
		{Category: phi.CategoryEmail, Ordinal: 0},
		{Category: phi.CategoryName, Ordinal: 1},
		{Category: phi.CategoryEmail, Ordinal: 2},
	})
	for _, want := range []string{"Redactions: 3", "#1 name", "email: 2", "name: 1"} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q:\n%s", want, out)
		}
	}
}

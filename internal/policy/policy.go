package policy

import (
	"fmt"
	"strings"

	"github.com/dshills/phiguard/internal/phi"
)

// UsageContext names where a piece of text came from.
type UsageContext string

const (
	UserQuery        UsageContext = "user_query"
	StoredRecord     UsageContext = "stored_record"
	UploadedDocument UsageContext = "uploaded_document"
)

// ParseContext validates a context name.
func ParseContext(s string) (UsageContext, error) {
	switch c := UsageContext(strings.ToLower(strings.TrimSpace(s))); c {
	case UserQuery, StoredRecord, UploadedDocument:
		return c, nil
	default:
		return "", fmt.Errorf("unknown context %q: valid contexts are user_query, stored_record, uploaded_document", s)
	}
}

// Policy defines how text from one context is handled.
type Policy struct {
	Context UsageContext
	// Mandatory contexts are always scrubbed, whatever the text contains.
	Mandatory bool
	// Tier is the pattern set used both to decide and to redact.
	Tier phi.Tier
	// Exhaustive selects the full Safe Harbor instruction for the assisted
	// path; otherwise the minimal-redaction instruction is used.
	Exhaustive bool
	// Rules are context-specific lines appended to the assisted prompt.
	Rules []string
}

// For returns the policy for ctx. Unknown contexts get the strictest policy.
func For(ctx UsageContext) *Policy {
	switch ctx {
	case UserQuery:
		return userQuery()
	case StoredRecord:
		return storedRecord()
	case UploadedDocument:
		return uploadedDocument()
	default:
		p := storedRecord()
		p.Context = ctx
		return p
	}
}

// FormatRulesForPrompt returns a block suitable for the assisted-path system prompt.
func (p *Policy) FormatRulesForPrompt() string {
	if len(p.Rules) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Context: %s\n", p.Context))
	for _, r := range p.Rules {
		sb.WriteString(fmt.Sprintf("- %s\n", r))
	}
	return sb.String()
}

// Checker answers whether text must be de-identified.
type Checker struct {
	table *phi.Table
}

// NewChecker returns a Checker backed by table.
func NewChecker(table *phi.Table) *Checker {
	return &Checker{table: table}
}

// ShouldDeidentify reports whether text in ctx must be scrubbed. Mandatory
// contexts always return true; a user query returns true only when the
// obvious subset matches.
func (c *Checker) ShouldDeidentify(text string, ctx UsageContext) bool {
	p := For(ctx)
	if p.Mandatory {
		return true
	}
	return c.table.Contains(text, phi.TierObvious)
}

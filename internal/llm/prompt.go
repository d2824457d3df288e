package llm

import (
	"fmt"
	"strings"
)

const minimalRedactionPrompt = `You redact protected health information from short questions typed by caseworkers.

Redact only values that identify a specific person:
- social security numbers, medical record numbers, claim and VA file numbers
- phone and fax numbers, email addresses
- street addresses with a house number
- a full name (first and last) of a real person

Do not redact medical terms, conditions, ratings, general ages, ranks, branches
of service, or a first name on its own.`

const safeHarborPrompt = `You de-identify clinical and veteran records under the HIPAA Safe Harbor method.

Redact every value in these nine groups:
1. Names of patients, relatives, employers and clinicians, including titles such as Dr. or Nurse
2. Dates tied to an individual (birth, admission, discharge, death, service) and ages over 89
3. Telephone and fax numbers, email addresses
4. Social security, medical record, health plan, account, license and certificate numbers
5. VA claim, C-file and beneficiary numbers
6. Street addresses, cities, counties, ZIP codes and other geography smaller than a state
7. Vehicle identifiers, license plates, device identifiers and serial numbers
8. URLs, IP addresses, biometric identifiers and references to full-face photographs
9. Names of hospitals, clinics and other facilities that locate the individual`

const outputRules = `
Output rules:
- Replace each redacted value with a placeholder of the form [REDACTED_<LABEL>]
- <LABEL> must be one of: %s
- Change nothing else: keep every other word, punctuation mark and line break exactly as given
- Do not summarize, explain or add text before or after the result
- If nothing needs redaction, return the text unchanged`

// BuildRedactionPrompt returns the system prompt for an assisted redaction.
// Exhaustive selects the Safe Harbor instruction; labels lists the placeholder
// labels the model may use; rules carries context-specific lines.
func BuildRedactionPrompt(exhaustive bool, labels []string, rules string) string {
	var sb strings.Builder
	if exhaustive {
		sb.WriteString(safeHarborPrompt)
	} else {
		sb.WriteString(minimalRedactionPrompt)
	}
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf(outputRules, strings.Join(labels, ", ")))
	if rules != "" {
		sb.WriteString("\n\n")
		sb.WriteString(rules)
	}
	return sb.String()
}

// BuildRedactionInput wraps the text for the user turn.
func BuildRedactionInput(text string) string {
	var sb strings.Builder
	sb.WriteString("Redact the following text.\n\n<text>\n")
	sb.WriteString(text)
	if !strings.HasSuffix(text, "\n") {
		sb.WriteString("\n")
	}
	sb.WriteString("</text>")
	return sb.String()
}

// ExtractRedacted strips a markdown code fence or <text> wrapper from model
// output. Output without either is returned verbatim.
func ExtractRedacted(s string) string {
	t := strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(t, "```"):
		if i := strings.Index(t, "\n"); i >= 0 {
			t = t[i+1:]
		} else {
			t = strings.TrimPrefix(t, "```")
		}
		t = strings.TrimSuffix(strings.TrimSpace(t), "```")
		return strings.TrimSpace(t)
	case strings.HasPrefix(t, "<text>") && strings.HasSuffix(t, "</text>"):
		return strings.TrimSpace(t[len("<text>") : len(t)-len("</text>")])
	default:
		return s
	}
}

package redact

import (
	"regexp"
	"strings"
)

const secretMask = "[SECRET]"

var pemPattern = regexp.MustCompile(`(?s)-----BEGIN [A-Z ]+KEY-----.*?-----END [A-Z ]+KEY-----`)

// secretPatterns catch credentials that upstream error bodies sometimes echo.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	regexp.MustCompile(`sk-(?:ant-)?[a-zA-Z0-9_-]{20,}`),
	regexp.MustCompile(`eyJ[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]+`),
	regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9\-._~+/]{20,}=*`),
	regexp.MustCompile(`(?i)(?:x-api-key|api[_-]?key)\s*[:=]\s*\S+`),
}

// Secrets masks credentials in s. It is applied to provider error bodies
// before they are wrapped into errors that may reach logs.
func Secrets(s string) string {
	s = pemPattern.ReplaceAllStringFunc(s, func(match string) string {
		return strings.Repeat("\n", strings.Count(match, "\n")) + secretMask
	})
	for _, re := range secretPatterns {
		s = re.ReplaceAllString(s, secretMask)
	}
	return s
}

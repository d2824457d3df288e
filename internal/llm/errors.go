package llm

import (
	"fmt"
	"net/http"

	"github.com/dshills/phiguard/internal/redact"
)

// CompletionError is returned by every provider when a call does not yield
// usable text. StatusCode is zero for transport and decoding failures.
type CompletionError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *CompletionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: HTTP %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *CompletionError) Unwrap() error { return e.Err }

// RateLimited reports whether the upstream rejected the call for rate.
func (e *CompletionError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

func completionErr(provider string, status int, format string, args ...any) *CompletionError {
	return &CompletionError{Provider: provider, StatusCode: status, Err: fmt.Errorf(format, args...)}
}

// bodySnippet prepares an upstream body for inclusion in an error.
func bodySnippet(body []byte) string {
	return truncate(redact.Secrets(string(body)), 200)
}

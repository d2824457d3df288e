package policy

import "github.com/dshills/phiguard/internal/phi"

// userQuery scrubs only the obvious subset.
func userQuery() *Policy {
	return &Policy{
		Context:   UserQuery,
		Mandatory: false,
		Tier:      phi.TierObvious,
		Rules: []string{
			"The text is a question typed by a caseworker, usually hypothetical",
			"Keep medical vocabulary, conditions, ratings and ages in natural speech",
			"Keep a first name on its own unless it is joined to a surname or identifier",
		},
	}
}

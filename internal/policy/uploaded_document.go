package policy

import "github.com/dshills/phiguard/internal/phi"

func uploadedDocument() *Policy {
	return &Policy{
		Context:    UploadedDocument,
		Mandatory:  true,
		Tier:       phi.TierFull,
		Exhaustive: true,
		Rules: []string{
			"The text was extracted from an uploaded document and may contain letterheads, signatures and form fields",
			"Redact signature blocks, letterhead addresses and contact lines",
			"Keep form labels; redact only their filled-in values",
		},
	}
}

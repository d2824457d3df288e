package policy

import "github.com/dshills/phiguard/internal/phi"

func storedRecord() *Policy {
	return &Policy{
		Context:    StoredRecord,
		Mandatory:  true,
		Tier:       phi.TierFull,
		Exhaustive: true,
		Rules: []string{
			"The text is a persisted clinical or veteran record",
			"Treat every date tied to the individual (birth, admission, discharge, death) as an identifier; keep years only when stated alone",
			"Treat claim, file and beneficiary numbers as identifiers",
		},
	}
}

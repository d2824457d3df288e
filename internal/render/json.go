package render

import (
	"encoding/json"

	"github.com/dshills/phiguard/internal/audit"
)

type jsonRenderer struct{}

func (r *jsonRenderer) Render(exp *audit.Export) ([]byte, error) {
	if exp.Events == nil {
		cp := *exp
		cp.Events = []audit.Event{}
		exp = &cp
	}
	return json.MarshalIndent(exp, "", "  ")
}

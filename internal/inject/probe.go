package inject

import (
	"context"
	"encoding/json"

	"github.com/standardbeagle/aglink/internal/cdp"
	"github.com/standardbeagle/aglink/internal/scripts"
)

// ContextProbe is the upload-related inventory of one execution context.
type ContextProbe struct {
	ContextID int             `json:"contextId"`
	Name      string          `json:"name,omitempty"`
	Origin    string          `json:"origin,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Probe lists file inputs, buttons and the topmost overlay in every context.
// Used to diagnose uploads that cannot find their input.
func (e *Engine) Probe(ctx context.Context, c cdp.Client) []ContextProbe {
	expr := scripts.Invoke(scripts.Probe)
	contexts := c.Contexts()
	out := make([]ContextProbe, 0, len(contexts))
	for _, ec := range contexts {
		p := ContextProbe{ContextID: ec.ID, Name: ec.Name, Origin: ec.Origin}
		obj, err := cdp.Evaluate(ctx, c, ec.ID, expr, cdp.EvalOptions{ReturnByValue: true})
		switch {
		case err != nil:
			p.Error = err.Error()
		case !obj.IsNull():
			p.Data = obj.Value
		}
		out = append(out, p)
	}
	return out
}

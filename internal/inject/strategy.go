package inject

import (
	"context"
	"log"

	"github.com/standardbeagle/aglink/internal/cdp"
)

// Strategy is one named way of performing an operation inside a single
// execution context.
type Strategy struct {
	Name string

	// Applies reports whether the strategy is usable for the current request.
	// Nil means always.
	Applies func() bool

	// Run attempts the strategy in ec. An error means the attempt could not be
	// made at all (protocol failure, dead context) and does not replace the
	// last reported Result.
	Run func(ctx context.Context, ec cdp.ExecutionContext) (Result, error)
}

// FirstSuccess tries each applicable strategy in every context before moving
// on to the next strategy, and returns the first successful Result. When
// nothing succeeds, the last failure reported by a strategy is returned, or
// no_context if none reported anything.
func FirstSuccess(ctx context.Context, contexts []cdp.ExecutionContext, strategies ...Strategy) Result {
	last := Fail(ReasonNoContext)
	for _, s := range strategies {
		if s.Applies != nil && !s.Applies() {
			continue
		}
		for _, ec := range contexts {
			if ctx.Err() != nil {
				return Fail(ReasonInjectionError)
			}
			r, err := s.Run(ctx, ec)
			if err != nil {
				log.Printf("[DEBUG] [inject] %s in context %d: %v", s.Name, ec.ID, err)
				continue
			}
			if r.OK {
				return r
			}
			last = r
		}
	}
	return last
}

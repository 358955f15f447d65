package inject

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/standardbeagle/aglink/internal/cdp"
	"github.com/standardbeagle/aglink/internal/scripts"
)

// Options tunes the UI-driven upload sequence.
type Options struct {
	// MenuSettle is how long to wait after opening the attach menu.
	MenuSettle time.Duration

	// InputAttempts bounds polling for a file input after the menu opens.
	InputAttempts int

	// InputBackoff is the pause between attempts.
	InputBackoff time.Duration
}

// DefaultOptions returns the stock timings.
func DefaultOptions() Options {
	return Options{
		MenuSettle:    600 * time.Millisecond,
		InputAttempts: 5,
		InputBackoff:  200 * time.Millisecond,
	}
}

// Engine runs injection operations against a connection.
type Engine struct {
	opts      Options
	newMarker func() string
}

// NewEngine creates an Engine. Zero fields in opts take their defaults.
func NewEngine(opts Options) *Engine {
	def := DefaultOptions()
	if opts.MenuSettle < 0 {
		opts.MenuSettle = 0
	} else if opts.MenuSettle == 0 {
		opts.MenuSettle = def.MenuSettle
	}
	if opts.InputAttempts <= 0 {
		opts.InputAttempts = def.InputAttempts
	}
	if opts.InputBackoff <= 0 {
		opts.InputBackoff = def.InputBackoff
	}
	return &Engine{
		opts:      opts,
		newMarker: func() string { return "ag-" + uuid.NewString() },
	}
}

// SendMessage types text into the chat editor and submits it.
func (e *Engine) SendMessage(ctx context.Context, c cdp.Client, text string) Result {
	if text == "" {
		return Fail(ReasonEmptyMessage)
	}
	expr := scripts.Invoke(scripts.Send, text)
	return FirstSuccess(ctx, c.Contexts(), Strategy{
		Name: "type_and_submit",
		Run: func(ctx context.Context, ec cdp.ExecutionContext) (Result, error) {
			return evalResult(ctx, c, ec.ID, expr, true)
		},
	})
}

// ClickRequest describes the element to click. Selector beats coordinates,
// coordinates beat text.
type ClickRequest struct {
	Selector string   `json:"selector,omitempty"`
	Text     string   `json:"text,omitempty"`
	Tag      string   `json:"tag,omitempty"`
	X        *float64 `json:"x,omitempty"`
	Y        *float64 `json:"y,omitempty"`
}

type clickArgs struct {
	Mode     string   `json:"mode"`
	Selector string   `json:"selector,omitempty"`
	Text     string   `json:"text,omitempty"`
	Tag      string   `json:"tag,omitempty"`
	X        *float64 `json:"x,omitempty"`
	Y        *float64 `json:"y,omitempty"`
}

// Click resolves and clicks an element. Each mode is tried in every context
// before the next mode is considered.
func (e *Engine) Click(ctx context.Context, c cdp.Client, req ClickRequest) Result {
	mode := func(name string, applies func() bool) Strategy {
		expr := scripts.Invoke(scripts.Click, clickArgs{
			Mode:     name,
			Selector: req.Selector,
			Text:     req.Text,
			Tag:      req.Tag,
			X:        req.X,
			Y:        req.Y,
		})
		return Strategy{
			Name:    name,
			Applies: applies,
			Run: func(ctx context.Context, ec cdp.ExecutionContext) (Result, error) {
				return evalResult(ctx, c, ec.ID, expr, false)
			},
		}
	}

	contexts := c.Contexts()
	if len(contexts) == 0 {
		return Fail(ReasonNoContext)
	}

	hasText := func() bool { return req.Text != "" }
	r := FirstSuccess(ctx, contexts,
		mode("selector", func() bool { return req.Selector != "" }),
		mode("coordinate", func() bool { return req.X != nil && req.Y != nil }),
		mode("text_exact", hasText),
		mode("text_contains", hasText),
	)
	if !r.OK && r.Reason != ReasonInjectionError {
		return Fail(ReasonElementNotFound)
	}
	return r
}

// evalResult evaluates an expression that resolves to a Result-shaped object.
func evalResult(ctx context.Context, c cdp.Caller, contextID int, expr string, await bool) (Result, error) {
	obj, err := cdp.Evaluate(ctx, c, contextID, expr, cdp.EvalOptions{ReturnByValue: true, AwaitPromise: await})
	if err != nil {
		return Result{}, err
	}
	if obj.IsNull() {
		return Result{}, errors.New("script returned nothing")
	}
	var r Result
	if err := obj.Decode(&r); err != nil {
		return Result{}, fmt.Errorf("decode result: %w", err)
	}
	return r, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/standardbeagle/aglink/internal/cdp"
	"github.com/standardbeagle/aglink/internal/scripts"
)

// ErrNoSnapshot is returned when no execution context produced a capture.
var ErrNoSnapshot = errors.New("snapshot: no context produced a snapshot")

// CaptureError is a failure reported by the capture routine itself.
type CaptureError struct {
	ContextID int
	Message   string
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("snapshot: capture failed in context %d: %s", e.ContextID, e.Message)
}

// Capturer evaluates the capture routine against a connection.
type Capturer struct {
	inliner *AssetInliner
}

// NewCapturer creates a Capturer. A nil inliner leaves asset references as
// they are.
func NewCapturer(inliner *AssetInliner) *Capturer {
	return &Capturer{inliner: inliner}
}

// Capture tries each execution context in order and returns the first
// usable snapshot. Per-context failures are logged and skipped.
func (c *Capturer) Capture(ctx context.Context, client cdp.Client) (*Snapshot, error) {
	expr := scripts.Invoke(scripts.Capture)

	for _, ec := range client.Contexts() {
		obj, err := cdp.Evaluate(ctx, client, ec.ID, expr, cdp.EvalOptions{ReturnByValue: true})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, cdp.ErrClosed) {
				return nil, err
			}
			log.Printf("[DEBUG] [snapshot] context %d: %v", ec.ID, err)
			continue
		}
		if obj.IsNull() {
			continue
		}

		var snap Snapshot
		if err := obj.Decode(&snap); err != nil {
			log.Printf("[DEBUG] [snapshot] context %d: %v", ec.ID, err)
			continue
		}
		if snap.Error != "" {
			log.Printf("[WARN] %v", &CaptureError{ContextID: ec.ID, Message: snap.Error})
			continue
		}

		if c.inliner != nil {
			c.inliner.Apply(&snap)
		}
		snap.Fingerprint = Fingerprint(snap.HTML)
		return &snap, nil
	}
	return nil, ErrNoSnapshot
}

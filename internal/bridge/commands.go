package bridge

import (
	"context"

	"github.com/standardbeagle/aglink/internal/discovery"
	"github.com/standardbeagle/aglink/internal/inject"
	"github.com/standardbeagle/aglink/internal/snapshot"
)

// Discover lists the current candidates without changing the binding.
func (b *Bridge) Discover(ctx context.Context) ([]discovery.Candidate, error) {
	return b.deps.Discoverer.Discover(ctx)
}

// LastSnapshot returns the most recent snapshot, or nil before the first
// capture.
func (b *Bridge) LastSnapshot() *snapshot.Snapshot {
	return b.deps.State.LastSnapshot()
}

// SendMessage types text into the active target's chat input and submits it.
func (b *Bridge) SendMessage(ctx context.Context, text string) inject.Result {
	conn, target, ok := b.deps.State.Active()
	if !ok {
		return inject.Fail(inject.ReasonNotConnected)
	}
	r := b.deps.Engine.SendMessage(ctx, conn, text)
	if r.OK && r.Target == "" {
		r.Target = target.Title
	}
	return r
}

// Click clicks an element in the active target and schedules a capture so
// viewers see the effect promptly.
func (b *Bridge) Click(ctx context.Context, req inject.ClickRequest) inject.Result {
	conn, _, ok := b.deps.State.Active()
	if !ok {
		return inject.Fail(inject.ReasonNotConnected)
	}
	r := b.deps.Engine.Click(ctx, conn, req)
	if r.OK {
		b.scheduleRefresh()
	}
	return r
}

// UploadFile attaches a local file to the active target's chat input.
func (b *Bridge) UploadFile(ctx context.Context, path, selector string) inject.Result {
	conn, _, ok := b.deps.State.Active()
	if !ok {
		return inject.Fail(inject.ReasonNotConnected)
	}
	return b.deps.Engine.UploadFile(ctx, conn, path, selector)
}

// ProbeUploads inventories file inputs in every context of the active target.
func (b *Bridge) ProbeUploads(ctx context.Context) ([]inject.ContextProbe, error) {
	conn, _, ok := b.deps.State.Active()
	if !ok {
		return nil, ErrNotConnected
	}
	return b.deps.Engine.Probe(ctx, conn), nil
}

// ConnectionInfo describes the live connection in the debug view.
type ConnectionInfo struct {
	Title    string `json:"title"`
	URL      string `json:"url"`
	PageURL  string `json:"pageUrl,omitempty"`
	Contexts int    `json:"contexts"`
}

// TargetsView is the debug view of discovery and the active binding.
type TargetsView struct {
	Status
	Connected *ConnectionInfo    `json:"connected,omitempty"`
	Instances []discovery.Scored `json:"instances"`
	Cache     []CacheEntry       `json:"cache"`
}

// Targets runs discovery and reports every candidate with its score next to
// the active binding.
func (b *Bridge) Targets(ctx context.Context) (TargetsView, error) {
	cands, err := b.deps.Discoverer.Discover(ctx)
	if err != nil {
		return TargetsView{}, err
	}
	view := TargetsView{
		Status:    b.Status(),
		Instances: discovery.Annotate(cands),
		Cache:     b.deps.State.Cache(),
	}
	if conn, target, ok := b.deps.State.Active(); ok {
		view.Connected = &ConnectionInfo{
			Title:    target.Title,
			URL:      target.URL,
			PageURL:  target.PageURL,
			Contexts: len(conn.Contexts()),
		}
	}
	return view, nil
}

// Package bridge owns the session with the desktop app: it picks a target,
// keeps one protocol connection to it, mirrors its chat surface to viewers
// and routes commands through the injection engine.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/standardbeagle/aglink/internal/cdp"
	"github.com/standardbeagle/aglink/internal/discovery"
	"github.com/standardbeagle/aglink/internal/inject"
	"github.com/standardbeagle/aglink/internal/snapshot"
)

var (
	// ErrNoTargets is returned when discovery finds nothing to connect to.
	ErrNoTargets = errors.New("bridge: no targets found")
	// ErrAllCandidatesFailed is returned when every candidate refused a connection.
	ErrAllCandidatesFailed = errors.New("bridge: could not connect to any target")
	// ErrNotConnected is returned by operations that need an active target.
	ErrNotConnected = errors.New("bridge: not connected")
	// ErrStopped is returned once the bridge has been stopped.
	ErrStopped = errors.New("bridge: stopped")
)

// Stage is the lifecycle position of the bridge.
type Stage int32

const (
	StageIdle Stage = iota
	StageConnecting
	StageActive
	StageReconnecting
	StageStopped
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageConnecting:
		return "connecting"
	case StageActive:
		return "active"
	case StageReconnecting:
		return "reconnecting"
	case StageStopped:
		return "stopped"
	}
	return fmt.Sprintf("stage(%d)", int32(s))
}

// Connection is a live protocol connection to one target.
type Connection interface {
	cdp.Client
	Done() <-chan struct{}
	Close() error
}

// Dialer opens a Connection to a target's socket URL.
type Dialer func(ctx context.Context, url string) (Connection, error)

// CDPDialer dials with the cdp package, waiting settle for contexts.
func CDPDialer(settle time.Duration) Dialer {
	return func(ctx context.Context, url string) (Connection, error) {
		conn, err := cdp.Dial(ctx, url, cdp.DialOptions{ContextSettle: settle})
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// Discoverer lists candidate targets.
type Discoverer interface {
	Discover(ctx context.Context) ([]discovery.Candidate, error)
}

// Capturer takes a snapshot through a connection.
type Capturer interface {
	Capture(ctx context.Context, client cdp.Client) (*snapshot.Snapshot, error)
}

// Broadcaster fans snapshots out to viewers.
type Broadcaster interface {
	Broadcast(snap *snapshot.Snapshot)
	Close() error
}

// Deps are the collaborators a Bridge drives.
type Deps struct {
	Discoverer Discoverer
	Dial       Dialer
	Capturer   Capturer
	Engine     *inject.Engine
	Hub        Broadcaster
	State      *State
}

// Options holds bridge timings.
type Options struct {
	// PollInterval is the snapshot polling period. Default: 3s.
	PollInterval time.Duration
	// ReconnectInterval is the minimum spacing of reconnect attempts. Default: 3s.
	ReconnectInterval time.Duration
	// RefreshDelay is how long after a click the surface is re-captured. Default: 50ms.
	RefreshDelay time.Duration
	// CaptureTimeout bounds one capture pass. Default: 30s.
	CaptureTimeout time.Duration
}

func (o *Options) applyDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 3 * time.Second
	}
	if o.ReconnectInterval <= 0 {
		o.ReconnectInterval = 3 * time.Second
	}
	if o.RefreshDelay <= 0 {
		o.RefreshDelay = 50 * time.Millisecond
	}
	if o.CaptureTimeout <= 0 {
		o.CaptureTimeout = 30 * time.Second
	}
}

// Status describes the active binding.
type Status struct {
	ActiveTargetID string `json:"activeTargetId,omitempty"`
	ActivePort     int    `json:"activePort,omitempty"`
	ActiveTitle    string `json:"activeTitle,omitempty"`
	Stage          string `json:"stage"`
}

// Bridge coordinates discovery, the active connection, polling and commands.
type Bridge struct {
	deps Deps
	opts Options

	// lifecycle serializes connect and disconnect.
	lifecycle sync.Mutex
	stage     atomic.Int32

	preferredID atomic.Value // string
	lastAttempt time.Time    // guarded by lifecycle

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
	started   atomic.Bool
	stopOnce  sync.Once

	// refreshMu orders every wg.Add against the Wait in Stop.
	refreshMu    sync.Mutex
	refreshTimer *time.Timer
}

// New creates a Bridge. Nil State and Engine get fresh defaults.
func New(deps Deps, opts Options) *Bridge {
	opts.applyDefaults()
	if deps.State == nil {
		deps.State = NewState()
	}
	if deps.Engine == nil {
		deps.Engine = inject.NewEngine(inject.DefaultOptions())
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		deps:      deps,
		opts:      opts,
		runCtx:    ctx,
		runCancel: cancel,
	}
	b.preferredID.Store("")
	return b
}

// Stage returns the current lifecycle stage.
func (b *Bridge) Stage() Stage {
	return Stage(b.stage.Load())
}

func (b *Bridge) setStage(s Stage) {
	for {
		cur := b.stage.Load()
		if Stage(cur) == StageStopped {
			return
		}
		if b.stage.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

func (b *Bridge) stopped() bool {
	return b.Stage() == StageStopped
}

// Start connects to the best target, if any, and starts polling. A failed
// initial connection is not an error: the poll loop keeps retrying.
func (b *Bridge) Start(ctx context.Context) error {
	if b.stopped() {
		return ErrStopped
	}
	if !b.started.CompareAndSwap(false, true) {
		return nil
	}

	if _, err := b.SelectAndConnect(ctx, ""); err != nil {
		log.Printf("[WARN] [bridge] initial connection failed, will keep polling: %v", err)
	}

	b.refreshMu.Lock()
	defer b.refreshMu.Unlock()
	if b.stopped() {
		return ErrStopped
	}
	b.wg.Add(1)
	go b.pollLoop()
	return nil
}

// Stop halts polling, closes the broadcast hub and then the active
// connection. Safe to call more than once; nothing is broadcast after it
// returns.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.setStage(StageStopped)

		b.runCancel()
		b.cancelRefresh()
		b.wg.Wait()

		if b.deps.Hub != nil {
			if err := b.deps.Hub.Close(); err != nil {
				log.Printf("[WARN] [bridge] close hub: %v", err)
			}
		}

		b.lifecycle.Lock()
		conn := b.deps.State.Release()
		b.lifecycle.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		log.Printf("[INFO] [bridge] stopped")
	})
}

// SelectAndConnect discovers targets and connects to the best one. When
// preferredID names a live candidate it is used without scoring. Candidates
// that refuse a connection are skipped; an error is returned only when all
// of them fail.
func (b *Bridge) SelectAndConnect(ctx context.Context, preferredID string) (Status, error) {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()
	return b.connectLocked(ctx, preferredID)
}

func (b *Bridge) connectLocked(ctx context.Context, preferredID string) (Status, error) {
	if b.stopped() {
		return b.Status(), ErrStopped
	}
	b.lastAttempt = time.Now()
	b.setStage(StageConnecting)

	cands, err := b.deps.Discoverer.Discover(ctx)
	if err != nil {
		b.setStage(StageReconnecting)
		return b.Status(), fmt.Errorf("discover: %w", err)
	}

	chosen, ok := discovery.Choose(cands, preferredID)

	if old := b.deps.State.Release(); old != nil {
		_ = old.Close()
	}

	if !ok {
		b.setStage(StageReconnecting)
		return b.Status(), ErrNoTargets
	}

	for _, cand := range discovery.Attempts(cands, chosen) {
		conn, err := b.deps.Dial(ctx, cand.URL)
		if err != nil {
			log.Printf("[WARN] [bridge] connect %s (%s :%d): %v", cand.ID, cand.Title, cand.Port, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if b.stopped() {
			_ = conn.Close()
			return b.Status(), ErrStopped
		}

		b.deps.State.SetActive(conn, cand)
		b.preferredID.Store(cand.ID)
		b.setStage(StageActive)
		log.Printf("[INFO] [bridge] connected to %q on port %d (%d contexts)", cand.Title, cand.Port, len(conn.Contexts()))

		if _, err := b.Refresh(ctx); err != nil {
			log.Printf("[DEBUG] [bridge] first capture: %v", err)
		}
		return b.Status(), nil
	}

	b.setStage(StageReconnecting)
	if ctx.Err() != nil {
		return b.Status(), ctx.Err()
	}
	return b.Status(), ErrAllCandidatesFailed
}

// SelectTarget switches to the target with the given id. Selecting the
// already-active target re-broadcasts the last snapshot instead.
func (b *Bridge) SelectTarget(ctx context.Context, id string) (Status, error) {
	if id != "" {
		st := b.Status()
		if st.ActiveTargetID == id {
			if snap := b.deps.State.LastSnapshot(); snap != nil && b.deps.Hub != nil {
				b.deps.Hub.Broadcast(snap)
			}
			return st, nil
		}
	}
	return b.SelectAndConnect(ctx, id)
}

// Status returns the active binding.
func (b *Bridge) Status() Status {
	st := Status{Stage: b.Stage().String()}
	if _, target, ok := b.deps.State.Active(); ok {
		st.ActiveTargetID = target.ID
		st.ActivePort = target.Port
		st.ActiveTitle = target.Title
	}
	return st
}

// Refresh captures the active target once and broadcasts on change. It
// reports whether a broadcast happened.
func (b *Bridge) Refresh(ctx context.Context) (bool, error) {
	conn, _, ok := b.deps.State.Active()
	if !ok {
		return false, ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, b.opts.CaptureTimeout)
	defer cancel()

	snap, err := b.deps.Capturer.Capture(ctx, conn)
	if err != nil {
		return false, err
	}
	if !b.deps.State.Apply(conn, snap) {
		return false, nil
	}
	if b.deps.Hub != nil && !b.stopped() {
		b.deps.Hub.Broadcast(snap)
	}
	return true, nil
}

func (b *Bridge) pollLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.runCtx.Done():
			return
		case <-ticker.C:
		}
		if b.runCtx.Err() != nil {
			return
		}
		b.tick(b.runCtx)
	}
}

func (b *Bridge) tick(ctx context.Context) {
	conn, target, ok := b.deps.State.Active()
	if ok {
		select {
		case <-conn.Done():
			if b.deps.State.ReleaseIf(conn) {
				b.setStage(StageReconnecting)
				log.Printf("[WARN] [bridge] lost connection to %q, reconnecting", target.Title)
			}
			ok = false
		default:
		}
	}

	if ok {
		if _, err := b.Refresh(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[DEBUG] [bridge] poll: %v", err)
		}
		return
	}

	if !b.lifecycle.TryLock() {
		return
	}
	defer b.lifecycle.Unlock()
	if _, _, active := b.deps.State.Active(); active {
		return
	}
	if time.Since(b.lastAttempt) < b.opts.ReconnectInterval {
		return
	}
	preferred, _ := b.preferredID.Load().(string)
	if _, err := b.connectLocked(ctx, preferred); err != nil && ctx.Err() == nil {
		log.Printf("[DEBUG] [bridge] reconnect: %v", err)
	}
}

// scheduleRefresh captures shortly after a command changed the UI.
func (b *Bridge) scheduleRefresh() {
	b.refreshMu.Lock()
	defer b.refreshMu.Unlock()
	if b.stopped() {
		return
	}
	if b.refreshTimer != nil && b.refreshTimer.Stop() {
		b.wg.Done()
	}
	b.wg.Add(1)
	b.refreshTimer = time.AfterFunc(b.opts.RefreshDelay, func() {
		defer b.wg.Done()
		if b.runCtx.Err() != nil {
			return
		}
		if _, err := b.Refresh(b.runCtx); err != nil {
			log.Printf("[DEBUG] [bridge] refresh: %v", err)
		}
	})
}

func (b *Bridge) cancelRefresh() {
	b.refreshMu.Lock()
	defer b.refreshMu.Unlock()
	if b.refreshTimer != nil && b.refreshTimer.Stop() {
		b.wg.Done()
	}
	b.refreshTimer = nil
}

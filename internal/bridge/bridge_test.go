package bridge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/aglink/internal/cdp"
	"github.com/standardbeagle/aglink/internal/discovery"
	"github.com/standardbeagle/aglink/internal/inject"
	"github.com/standardbeagle/aglink/internal/snapshot"
)

type fakeConn struct {
	url       string
	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
	respond   func(method string) ([]byte, error)
}

func newFakeConn(url string) *fakeConn {
	return &fakeConn{url: url, done: make(chan struct{})}
}

func (c *fakeConn) Call(_ context.Context, _, method string, _ interface{}) ([]byte, error) {
	if c.respond != nil {
		return c.respond(method)
	}
	return []byte(`{"result":{"type":"object","value":{"ok":true,"method":"selector_hit"}}}`), nil
}

func (c *fakeConn) Contexts() []cdp.ExecutionContext { return []cdp.ExecutionContext{{ID: 1}} }
func (c *fakeConn) Done() <-chan struct{}            { return c.done }

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
	})
	return nil
}

type fakeDiscoverer struct {
	mu    sync.Mutex
	cands []discovery.Candidate
}

func (d *fakeDiscoverer) Discover(context.Context) ([]discovery.Candidate, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]discovery.Candidate(nil), d.cands...), nil
}

// gatedDiscoverer blocks Discover until release is closed.
type gatedDiscoverer struct {
	entered chan struct{}
	release chan struct{}
}

func (d *gatedDiscoverer) Discover(context.Context) ([]discovery.Candidate, error) {
	close(d.entered)
	<-d.release
	return candidates(), nil
}

type fakeDialer struct {
	mu     sync.Mutex
	dialed []string
	fail   map[string]bool
	conns  []*fakeConn
}

func (d *fakeDialer) dial(_ context.Context, url string) (Connection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialed = append(d.dialed, url)
	if d.fail[url] {
		return nil, &cdp.ConnectionError{URL: url, Err: errors.New("refused")}
	}
	c := newFakeConn(url)
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) urls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.dialed...)
}

type fakeCapturer struct {
	html  atomic.Value // string
	calls atomic.Int32
}

func (c *fakeCapturer) Capture(context.Context, cdp.Client) (*snapshot.Snapshot, error) {
	c.calls.Add(1)
	html, _ := c.html.Load().(string)
	if html == "" {
		return nil, snapshot.ErrNoSnapshot
	}
	return &snapshot.Snapshot{HTML: html, Fingerprint: snapshot.Fingerprint(html)}, nil
}

type fakeHub struct {
	mu         sync.Mutex
	sent       []*snapshot.Snapshot
	closed     bool
	afterClose int
}

func (h *fakeHub) Broadcast(s *snapshot.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		h.afterClose++
		return
	}
	h.sent = append(h.sent, s)
}

func (h *fakeHub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

func (h *fakeHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sent)
}

type harness struct {
	bridge *Bridge
	disc   *fakeDiscoverer
	dialer *fakeDialer
	cap    *fakeCapturer
	hub    *fakeHub
}

func candidates() []discovery.Candidate {
	return []discovery.Candidate{
		{ID: "qr", Port: 9000, URL: "ws://qr", Title: "Antigravity QR"},
		{ID: "chat", Port: 9222, URL: "ws://chat", Title: "Antigravity", PageURL: "workbench.html"},
		{ID: "other", Port: 9223, URL: "ws://other", Title: "Antigravity"},
	}
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		disc:   &fakeDiscoverer{cands: candidates()},
		dialer: &fakeDialer{fail: map[string]bool{}},
		cap:    &fakeCapturer{},
		hub:    &fakeHub{},
	}
	h.cap.html.Store("<div>one</div>")
	h.bridge = New(Deps{
		Discoverer: h.disc,
		Dial:       h.dialer.dial,
		Capturer:   h.cap,
		Engine:     inject.NewEngine(inject.Options{InputBackoff: time.Millisecond}),
		Hub:        h.hub,
	}, opts)
	t.Cleanup(h.bridge.Stop)
	return h
}

func TestSelectAndConnect_PrefersChatTarget(t *testing.T) {
	h := newHarness(t, Options{})

	st, err := h.bridge.SelectAndConnect(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "chat", st.ActiveTargetID)
	assert.Equal(t, 9222, st.ActivePort)
	assert.Equal(t, "active", st.Stage)
	assert.Equal(t, []string{"ws://chat"}, h.dialer.urls())
	assert.Equal(t, 1, h.hub.count(), "first capture is broadcast")
}

func TestSelectTarget_ExplicitIDNeverScores(t *testing.T) {
	h := newHarness(t, Options{})

	st, err := h.bridge.SelectTarget(context.Background(), "other")
	require.NoError(t, err)
	assert.Equal(t, "other", st.ActiveTargetID)
	assert.Equal(t, []string{"ws://other"}, h.dialer.urls())
}

func TestSelectAndConnect_FallsBackInScoreOrder(t *testing.T) {
	h := newHarness(t, Options{})
	h.dialer.fail["ws://chat"] = true

	st, err := h.bridge.SelectAndConnect(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "other", st.ActiveTargetID)
	assert.Equal(t, []string{"ws://chat", "ws://other"}, h.dialer.urls())
}

func TestSelectAndConnect_AllFail(t *testing.T) {
	h := newHarness(t, Options{})
	for _, c := range candidates() {
		h.dialer.fail[c.URL] = true
	}

	st, err := h.bridge.SelectAndConnect(context.Background(), "")
	assert.ErrorIs(t, err, ErrAllCandidatesFailed)
	assert.Empty(t, st.ActiveTargetID)
	assert.Equal(t, StageReconnecting, h.bridge.Stage())
	assert.Len(t, h.dialer.urls(), 3)
}

func TestSelectAndConnect_NoTargets(t *testing.T) {
	h := newHarness(t, Options{})
	h.disc.cands = nil

	_, err := h.bridge.SelectAndConnect(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoTargets)
}

func TestSelectAndConnect_ClosesPreviousConnectionFirst(t *testing.T) {
	h := newHarness(t, Options{})

	_, err := h.bridge.SelectAndConnect(context.Background(), "")
	require.NoError(t, err)
	first := h.dialer.conns[0]

	_, err = h.bridge.SelectTarget(context.Background(), "other")
	require.NoError(t, err)
	assert.True(t, first.closed.Load())
	assert.Len(t, h.dialer.conns, 2)
}

func TestSelectTarget_SameIDRebroadcasts(t *testing.T) {
	h := newHarness(t, Options{})

	_, err := h.bridge.SelectAndConnect(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, 1, h.hub.count())

	st, err := h.bridge.SelectTarget(context.Background(), "chat")
	require.NoError(t, err)
	assert.Equal(t, "chat", st.ActiveTargetID)
	assert.Equal(t, 2, h.hub.count())
	assert.Len(t, h.dialer.urls(), 1, "no reconnect for the active target")
}

func TestRefresh_BroadcastsOnlyOnChange(t *testing.T) {
	h := newHarness(t, Options{})
	_, err := h.bridge.SelectAndConnect(context.Background(), "")
	require.NoError(t, err)

	changed, err := h.bridge.Refresh(context.Background())
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 1, h.hub.count())

	h.cap.html.Store("<div>two</div>")
	changed, err = h.bridge.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 2, h.hub.count())
	assert.Equal(t, "<div>two</div>", h.bridge.LastSnapshot().HTML)
}

func TestState_ApplyIgnoresStaleConnection(t *testing.T) {
	s := NewState()
	active := newFakeConn("ws://a")
	stale := newFakeConn("ws://b")
	s.SetActive(active, discovery.Candidate{ID: "a", Port: 9222})

	snap := &snapshot.Snapshot{HTML: "x", Fingerprint: snapshot.Fingerprint("x")}
	assert.False(t, s.Apply(stale, snap))
	assert.Nil(t, s.LastSnapshot())

	assert.True(t, s.Apply(active, snap))
	assert.Equal(t, []CacheEntry{{Port: 9222, Fingerprint: snap.Fingerprint, Bytes: 1}}, s.Cache())
	assert.False(t, s.Apply(active, &snapshot.Snapshot{HTML: "x", Fingerprint: snap.Fingerprint}))

	assert.False(t, s.ReleaseIf(stale))
	assert.True(t, s.ReleaseIf(active))
	_, _, ok := s.Active()
	assert.False(t, ok)
}

func TestCommands_NotConnected(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	assert.Equal(t, inject.Fail(inject.ReasonNotConnected), h.bridge.SendMessage(ctx, "hi"))
	assert.Equal(t, inject.Fail(inject.ReasonNotConnected), h.bridge.Click(ctx, inject.ClickRequest{Text: "x"}))
	assert.Equal(t, inject.Fail(inject.ReasonNotConnected), h.bridge.UploadFile(ctx, "/tmp/x", ""))
	_, err := h.bridge.ProbeUploads(ctx)
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = h.bridge.Refresh(ctx)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestClick_SchedulesRefresh(t *testing.T) {
	h := newHarness(t, Options{RefreshDelay: 5 * time.Millisecond})
	_, err := h.bridge.SelectAndConnect(context.Background(), "")
	require.NoError(t, err)
	before := h.cap.calls.Load()

	r := h.bridge.Click(context.Background(), inject.ClickRequest{Selector: "#go"})
	require.True(t, r.OK)

	assert.Eventually(t, func() bool { return h.cap.calls.Load() > before }, time.Second, 5*time.Millisecond)
}

func TestPoll_ReconnectsAfterDrop(t *testing.T) {
	h := newHarness(t, Options{PollInterval: 5 * time.Millisecond, ReconnectInterval: time.Millisecond})
	require.NoError(t, h.bridge.Start(context.Background()))
	require.Equal(t, "chat", h.bridge.Status().ActiveTargetID)

	h.dialer.mu.Lock()
	first := h.dialer.conns[0]
	h.dialer.mu.Unlock()
	first.Close()

	assert.Eventually(t, func() bool {
		return len(h.dialer.urls()) >= 2 && h.bridge.Stage() == StageActive
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "chat", h.bridge.Status().ActiveTargetID)
}

func TestStop_NoBroadcastAfterStop(t *testing.T) {
	h := newHarness(t, Options{PollInterval: time.Millisecond, RefreshDelay: time.Millisecond})
	require.NoError(t, h.bridge.Start(context.Background()))

	clicking := make(chan struct{})
	go func() {
		defer close(clicking)
		for i := 0; i < 50; i++ {
			h.cap.html.Store("<div>" + string(rune('a'+i%26)) + "</div>")
			h.bridge.Click(context.Background(), inject.ClickRequest{Selector: "#go"})
			time.Sleep(time.Millisecond)
		}
	}()
	time.Sleep(10 * time.Millisecond)

	h.bridge.Stop()
	sent := h.hub.count()
	conn := h.dialer.conns[0]

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, sent, h.hub.count())
	assert.True(t, conn.closed.Load())
	assert.Equal(t, StageStopped, h.bridge.Stage())
	assert.Equal(t, Status{Stage: "stopped"}, h.bridge.Status())

	h.bridge.Stop()
	_, err := h.bridge.SelectAndConnect(context.Background(), "")
	assert.ErrorIs(t, err, ErrStopped)

	<-clicking
	assert.Equal(t, sent, h.hub.count())
}

func TestStart_StopDuringInitialConnect(t *testing.T) {
	disc := &gatedDiscoverer{entered: make(chan struct{}), release: make(chan struct{})}
	dialer := &fakeDialer{fail: map[string]bool{}}
	b := New(Deps{Discoverer: disc, Dial: dialer.dial, Capturer: &fakeCapturer{}}, Options{PollInterval: time.Millisecond})

	started := make(chan error, 1)
	go func() { started <- b.Start(context.Background()) }()
	<-disc.entered

	stopped := make(chan struct{})
	go func() {
		b.Stop()
		close(stopped)
	}()
	time.Sleep(20 * time.Millisecond)
	close(disc.release)

	select {
	case err := <-started:
		assert.ErrorIs(t, err, ErrStopped)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return")
	}
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	assert.Equal(t, StageStopped, b.Stage())
}

func TestTargets_DebugView(t *testing.T) {
	h := newHarness(t, Options{})
	_, err := h.bridge.SelectAndConnect(context.Background(), "")
	require.NoError(t, err)

	view, err := h.bridge.Targets(context.Background())
	require.NoError(t, err)
	require.NotNil(t, view.Connected)
	assert.Equal(t, 1, view.Connected.Contexts)
	require.Len(t, view.Instances, 3)
	assert.Equal(t, "chat", view.Instances[0].ID)
	assert.True(t, view.Instances[0].Chat)
	require.Len(t, view.Cache, 1)
	assert.Equal(t, view.ActivePort, view.Cache[0].Port)
}

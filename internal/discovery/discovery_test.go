package discovery

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatTarget() Target {
	return Target{
		ID:                   "page-1",
		Type:                 "page",
		Title:                "Antigravity Chat",
		URL:                  "vscode-file://vscode-app/out/vs/code/electron-browser/workbench/workbench.html",
		WebSocketDebuggerURL: "ws://127.0.0.1:9222/devtools/page/page-1",
	}
}

func TestMerge_ChatWorkbenchTargetIncludedAndScoredPositive(t *testing.T) {
	got := Merge([]PortListing{{Port: 9222, Targets: []Target{chatTarget()}}})

	require.Len(t, got, 1)
	assert.Equal(t, "page-1", got[0].ID)
	assert.Equal(t, 9222, got[0].Port)
	assert.Greater(t, Score(got[0]), 0)
	assert.True(t, IsChatTarget(got[0]))
}

func TestScore_SocketURLDoesNotCountAsDevtools(t *testing.T) {
	c := Merge([]PortListing{{Port: 9222, Targets: []Target{chatTarget()}}})[0]
	// Every socket URL contains "/devtools/"; only the page URL is scored.
	assert.Equal(t, 8, Score(c))
}

func TestMerge_IdenticalSocketURLsDeduplicated(t *testing.T) {
	first := chatTarget()
	second := chatTarget()
	second.ID = "page-2"
	second.WebSocketDebuggerURL = "WS://127.0.0.1:9222/devtools/page/PAGE-1"

	got := Merge([]PortListing{
		{Port: 9222, Targets: []Target{first}},
		{Port: 9223, Targets: []Target{second}},
	})

	require.Len(t, got, 1)
	assert.Equal(t, 9222, got[0].Port)
}

func TestMerge_Idempotent(t *testing.T) {
	input := []PortListing{
		{Port: 9000, Targets: []Target{chatTarget(), {Title: "DevTools", URL: "devtools://x", WebSocketDebuggerURL: "ws://a"}}},
		{Port: 9222, Targets: []Target{chatTarget(), {ID: "p3", Title: "Antigravity - QR", URL: "http://x", WebSocketDebuggerURL: "ws://b"}}},
	}
	assert.Equal(t, Merge(input), Merge(input))
}

func TestExcluded_PriorityOrder(t *testing.T) {
	tests := []struct {
		name   string
		target Target
		reason string
	}{
		{"self", Target{Title: "Antigravity Link", URL: "workbench"}, "self"},
		{"devtools title", Target{Title: "DevTools - antigravity"}, "devtools"},
		{"devtools url", Target{Title: "Antigravity", URL: "devtools://devtools/bundled"}, "devtools"},
		{"webview", Target{Title: "Antigravity", URL: "vscode-webview://abc"}, "webview"},
		{"service worker", Target{Title: "Antigravity", Type: "service_worker"}, "service_worker"},
		{"launchpad", Target{Title: "Antigravity Launchpad"}, "launchpad"},
		{"blank", Target{Title: "   ", URL: "workbench"}, "blank_title"},
		{"placeholder", Target{Title: "Instance :9222", URL: "workbench"}, "blank_title"},
		{"foreign", Target{Title: "Some other app", URL: "https://example.com"}, "not_application"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, excluded := Excluded(tt.target)
			assert.True(t, excluded)
			assert.Equal(t, tt.reason, reason)
		})
	}

	_, excluded := Excluded(Target{Title: "Agent Manager", URL: "vscode-file://vscode-app/jetski/index.html"})
	assert.False(t, excluded)
}

func TestMerge_RequiresSocketURL(t *testing.T) {
	tgt := chatTarget()
	tgt.WebSocketDebuggerURL = ""
	assert.Empty(t, Merge([]PortListing{{Port: 9222, Targets: []Target{tgt}}}))
}

func TestRank_StableOnTies(t *testing.T) {
	cands := []Candidate{
		{ID: "a", Title: "Antigravity"},
		{ID: "b", Title: "Antigravity", PageURL: "workbench.html"},
		{ID: "c", Title: "Antigravity"},
	}
	ranked := Rank(cands)
	assert.Equal(t, []string{"b", "a", "c"}, []string{ranked[0].ID, ranked[1].ID, ranked[2].ID})
	assert.Equal(t, "a", cands[0].ID, "input must not be reordered")
}

func TestChoose_PreferredIDNeverScores(t *testing.T) {
	cands := []Candidate{
		{ID: "best", Title: "Antigravity", PageURL: "workbench.html"},
		{ID: "weak", Title: "Antigravity - QR"},
	}
	got, ok := Choose(cands, "weak")
	require.True(t, ok)
	assert.Equal(t, "weak", got.ID)
}

func TestChoose_UnknownPreferredIDFallsBackToChat(t *testing.T) {
	cands := []Candidate{
		{ID: "qr", Title: "Antigravity-Link QR"},
		{ID: "chat", Title: "Antigravity", PageURL: "workbench.html"},
	}
	got, ok := Choose(cands, "gone")
	require.True(t, ok)
	assert.Equal(t, "chat", got.ID)
}

func TestChoose_NoChatTargetUsesRawScore(t *testing.T) {
	cands := []Candidate{
		{ID: "auth", Title: "Antigravity auth.ts"},
		{ID: "qr", Title: "Antigravity-Link QR"},
	}
	require.False(t, IsChatTarget(cands[0]))
	require.False(t, IsChatTarget(cands[1]))

	got, ok := Choose(cands, "")
	require.True(t, ok)
	assert.Equal(t, "qr", got.ID)

	_, ok = Choose(nil, "")
	assert.False(t, ok)
}

func TestAttempts_ChosenFirstThenScoreOrder(t *testing.T) {
	cands := []Candidate{
		{ID: "low", Title: "Antigravity QR"},
		{ID: "high", Title: "Antigravity", PageURL: "workbench.html"},
		{ID: "mid", Title: "Antigravity"},
	}
	got := Attempts(cands, cands[0])
	ids := make([]string, len(got))
	for i, c := range got {
		ids[i] = c.ID
	}
	assert.Equal(t, []string{"low", "high", "mid"}, ids)
}

func listServer(t *testing.T, targets []Target) int {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/json/list" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(targets)
	}))
	t.Cleanup(srv.Close)
	_, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return port
}

func TestDiscover_SweepsPortsAndSkipsMisses(t *testing.T) {
	live := listServer(t, []Target{chatTarget()})

	garbage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not a debugger</html>"))
	}))
	defer garbage.Close()
	_, gp, _ := net.SplitHostPort(garbage.Listener.Addr().String())
	garbagePort, _ := strconv.Atoi(gp)

	closed := httptest.NewServer(http.NotFoundHandler())
	_, cp, _ := net.SplitHostPort(closed.Listener.Addr().String())
	closedPort, _ := strconv.Atoi(cp)
	closed.Close()

	d := New("127.0.0.1", []int{closedPort, garbagePort, live}, 500*time.Millisecond)
	got, err := d.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, live, got[0].Port)
}

func TestDiscover_CancelledContext(t *testing.T) {
	d := New("127.0.0.1", []int{listServer(t, nil)}, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Discover(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_Defaults(t *testing.T) {
	d := New("", nil, 0)
	assert.Equal(t, DefaultPorts, d.ports)
	assert.Equal(t, "127.0.0.1", d.host)
	assert.Equal(t, DefaultProbeTimeout, d.timeout)
}

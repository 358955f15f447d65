package tunnel

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderURLPatterns(t *testing.T) {
	tests := []struct {
		provider Provider
		input    string
		expected string
	}{
		{ProviderCloudflare, "INF | https://threaded-fathers-explore-supplier.trycloudflare.com |", "https://threaded-fathers-explore-supplier.trycloudflare.com"},
		{ProviderCloudflare, "2024/01/15 10:00:00 https://test123.trycloudflare.com connected", "https://test123.trycloudflare.com"},
		{ProviderCloudflare, "https://example.com is not cloudflare", ""},
		{ProviderNgrok, `t=2024 lvl=info msg="started tunnel" url=https://abcd-1234-wxyz.ngrok-free.app`, "https://abcd-1234-wxyz.ngrok-free.app"},
		{ProviderNgrok, "Forwarding https://abc123def.ngrok.io -> http://localhost:3000", "https://abc123def.ngrok.io"},
		{ProviderNgrok, "no url here", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, providers[tt.provider].url.FindString(tt.input))
		})
	}
}

func TestScan_FirstURLWins(t *testing.T) {
	tun := &Tunnel{provider: ProviderCloudflare, found: make(chan struct{}), done: make(chan struct{})}
	out := strings.NewReader("starting\nhttps://one.trycloudflare.com\nhttps://two.trycloudflare.com\n")

	tun.scan(out, providers[ProviderCloudflare].url)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	url, err := tun.WaitForURL(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://one.trycloudflare.com", url)
}

func TestWaitForURL_ProcessExitWithoutURL(t *testing.T) {
	tun := &Tunnel{provider: ProviderNgrok, found: make(chan struct{}), done: make(chan struct{})}
	close(tun.done)

	_, err := tun.WaitForURL(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpen_Errors(t *testing.T) {
	_, err := Open(context.Background(), "carrier-pigeon", 3000, "")
	assert.ErrorContains(t, err, "unsupported tunnel provider")

	_, err = Open(context.Background(), ProviderCloudflare, 3000, "definitely-not-installed-cloudflared")
	assert.ErrorContains(t, err, "not found in PATH")
}

// Package tunnel exposes the local mirror server through a public tunnel
// (Cloudflare quick tunnels or ngrok) for viewers off the local network.
package tunnel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"regexp"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Provider names a tunnel service.
type Provider string

const (
	ProviderCloudflare Provider = "cloudflare"
	ProviderNgrok      Provider = "ngrok"
)

// ErrClosed is returned by WaitForURL when the tunnel process exits before
// announcing a URL.
var ErrClosed = errors.New("tunnel: closed without providing a URL")

type provider struct {
	binary string
	args   func(port int) []string
	// stderr reports whether the URL is logged on stderr rather than stdout.
	stderr bool
	url    *regexp.Regexp
}

var providers = map[Provider]provider{
	ProviderCloudflare: {
		binary: "cloudflared",
		args: func(port int) []string {
			return []string{"tunnel", "--url", "http://localhost:" + strconv.Itoa(port)}
		},
		stderr: true,
		url:    regexp.MustCompile(`https://[a-z0-9-]+\.trycloudflare\.com`),
	},
	ProviderNgrok: {
		binary: "ngrok",
		args: func(port int) []string {
			return []string{"http", strconv.Itoa(port), "--log", "stdout"}
		},
		url: regexp.MustCompile(`https://[a-z0-9-]+\.ngrok(?:-free)?\.(?:io|app|dev)`),
	},
}

// Tunnel is a running tunnel process.
type Tunnel struct {
	provider  Provider
	cmd       *exec.Cmd
	cancel    context.CancelFunc
	publicURL atomic.Pointer[string]
	found     chan struct{}
	foundOnce sync.Once
	done      chan struct{}

	errMu sync.Mutex
	err   error
}

// Open starts a tunnel to localPort. binary overrides the provider's
// executable name when non-empty.
func Open(ctx context.Context, p Provider, localPort int, binary string) (*Tunnel, error) {
	prov, ok := providers[p]
	if !ok {
		return nil, fmt.Errorf("unsupported tunnel provider: %s", p)
	}
	if binary == "" {
		binary = prov.binary
	}
	if _, err := exec.LookPath(binary); err != nil {
		return nil, fmt.Errorf("%s not found in PATH: %w", binary, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	t := &Tunnel{
		provider: p,
		cmd:      exec.CommandContext(ctx, binary, prov.args(localPort)...),
		cancel:   cancel,
		found:    make(chan struct{}),
		done:     make(chan struct{}),
	}

	var out io.ReadCloser
	var err error
	if prov.stderr {
		out, err = t.cmd.StderrPipe()
	} else {
		out, err = t.cmd.StdoutPipe()
	}
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create output pipe: %w", err)
	}

	if err := t.cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start %s: %w", binary, err)
	}

	go t.scan(out, prov.url)
	go func() {
		defer close(t.done)
		if err := t.cmd.Wait(); err != nil && ctx.Err() == nil {
			t.setError(fmt.Errorf("%s exited: %w", binary, err))
		}
	}()

	return t, nil
}

func (t *Tunnel) scan(r io.Reader, pattern *regexp.Regexp) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if match := pattern.FindString(scanner.Text()); match != "" {
			t.foundOnce.Do(func() {
				t.publicURL.Store(&match)
				close(t.found)
				log.Printf("[INFO] [tunnel] %s ready at %s", t.provider, match)
			})
		}
	}
}

// PublicURL returns the announced URL, or "" before it is known.
func (t *Tunnel) PublicURL() string {
	if p := t.publicURL.Load(); p != nil {
		return *p
	}
	return ""
}

// WaitForURL blocks until the provider announces the public URL.
func (t *Tunnel) WaitForURL(ctx context.Context) (string, error) {
	select {
	case <-t.found:
		return t.PublicURL(), nil
	case <-t.done:
		// the URL may have been the last line written
		if url := t.PublicURL(); url != "" {
			return url, nil
		}
		if err := t.Err(); err != nil {
			return "", err
		}
		return "", ErrClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Err returns the process failure, if any.
func (t *Tunnel) Err() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.err
}

func (t *Tunnel) setError(err error) {
	t.errMu.Lock()
	t.err = err
	t.errMu.Unlock()
}

// Close stops the tunnel process and waits for it to exit.
func (t *Tunnel) Close() error {
	t.cancel()
	select {
	case <-t.done:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("tunnel: %s did not exit", t.provider)
	}
}

// Package discovery finds inspectable targets exposed by the desktop app on
// its local remote-debugging ports and ranks them.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultPorts is the ordered sweep list. Order matters: when two ports expose
// the same target, the earlier port wins.
var DefaultPorts = []int{
	9000, 9001, 9002, 9003, 9004, 9005,
	9222, 9223, 9224, 9225, 9226, 9227, 9228, 9229, 9230,
	5858,
}

// DefaultProbeTimeout bounds each /json/list query.
const DefaultProbeTimeout = 2 * time.Second

// Target is one entry of a /json/list response.
type Target struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	Description          string `json:"description,omitempty"`
	DevtoolsFrontendURL  string `json:"devtoolsFrontendUrl,omitempty"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// PortListing is the raw result of probing a single port.
type PortListing struct {
	Port    int
	Targets []Target
}

// Candidate is a target that survived filtering.
type Candidate struct {
	ID      string `json:"id"`
	Port    int    `json:"port"`
	URL     string `json:"url"`
	Title   string `json:"title"`
	PageURL string `json:"pageUrl"`
	Type    string `json:"type,omitempty"`
}

// Discoverer sweeps a fixed list of ports.
type Discoverer struct {
	host    string
	ports   []int
	timeout time.Duration
	client  *http.Client
	extra   func(ctx context.Context) []int
}

// New creates a Discoverer. Empty arguments fall back to 127.0.0.1,
// DefaultPorts and DefaultProbeTimeout.
func New(host string, ports []int, timeout time.Duration) *Discoverer {
	if host == "" {
		host = "127.0.0.1"
	}
	if len(ports) == 0 {
		ports = DefaultPorts
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &Discoverer{
		host:    host,
		ports:   append([]int(nil), ports...),
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

// SetPortSource adds a dynamic port source consulted on every sweep. Its
// ports follow the configured list; duplicates are ignored. Each call is
// bounded by the probe timeout.
func (d *Discoverer) SetPortSource(src func(ctx context.Context) []int) {
	d.extra = src
}

func (d *Discoverer) sweep(ctx context.Context) []int {
	if d.extra == nil {
		return d.ports
	}
	ports := append([]int(nil), d.ports...)
	seen := make(map[int]bool, len(ports))
	for _, p := range ports {
		seen[p] = true
	}
	scanCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	for _, p := range d.extra(scanCtx) {
		if !seen[p] {
			seen[p] = true
			ports = append(ports, p)
		}
	}
	return ports
}

// Discover probes every port and returns the merged candidates. A port that
// refuses, times out or answers garbage contributes nothing. The only error
// is cancellation of ctx.
func (d *Discoverer) Discover(ctx context.Context) ([]Candidate, error) {
	listings, err := d.Probe(ctx)
	if err != nil {
		return nil, err
	}
	return Merge(listings), nil
}

// Probe queries every port concurrently and returns the raw listings in port
// order. Ports without a usable answer are omitted.
func (d *Discoverer) Probe(ctx context.Context) ([]PortListing, error) {
	ports := d.sweep(ctx)
	results := make([]*PortListing, len(ports))

	var g errgroup.Group
	g.SetLimit(8)
	for i, port := range ports {
		g.Go(func() error {
			targets, err := d.list(ctx, port)
			if err != nil {
				log.Printf("[DEBUG] [discovery] port %d: %v", port, err)
				return nil
			}
			results[i] = &PortListing{Port: port, Targets: targets}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	listings := make([]PortListing, 0, len(results))
	for _, l := range results {
		if l != nil {
			listings = append(listings, *l)
		}
	}
	return listings, nil
}

func (d *Discoverer) list(ctx context.Context, port int) ([]Target, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	url := fmt.Sprintf("http://%s:%d/json/list", d.host, port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var targets []Target
	if err := json.NewDecoder(resp.Body).Decode(&targets); err != nil {
		return nil, fmt.Errorf("decode target list: %w", err)
	}
	return targets, nil
}

// Merge filters and deduplicates raw listings. It is pure: the same input
// always yields the same output, in listing order.
func Merge(listings []PortListing) []Candidate {
	var out []Candidate
	seen := make(map[string]bool)

	for _, l := range listings {
		for _, t := range l.Targets {
			if _, excluded := Excluded(t); excluded {
				continue
			}
			if t.WebSocketDebuggerURL == "" {
				continue
			}

			key := dedupeKey(l.Port, t)
			if seen[key] {
				continue
			}
			seen[key] = true

			out = append(out, toCandidate(l.Port, t))
		}
	}
	return out
}

func dedupeKey(port int, t Target) string {
	if t.WebSocketDebuggerURL != "" {
		return strings.ToLower(t.WebSocketDebuggerURL)
	}
	id := t.ID
	if id == "" {
		id = t.Title
	}
	return strings.ToLower(fmt.Sprintf("%d-%s", port, id))
}

func toCandidate(port int, t Target) Candidate {
	id := t.ID
	if id == "" {
		id = t.WebSocketDebuggerURL
	}
	title := t.Title
	if title == "" {
		title = fmt.Sprintf("Instance :%d", port)
	}
	return Candidate{
		ID:      id,
		Port:    port,
		URL:     t.WebSocketDebuggerURL,
		Title:   title,
		PageURL: t.URL,
		Type:    t.Type,
	}
}

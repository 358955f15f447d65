// Package cdp is a small Chrome DevTools Protocol client.
//
// A Conn owns one websocket to a single inspectable target. Calls are framed
// as correlated requests and may be in flight concurrently; responses are
// matched back by id. Execution contexts announced by the target accumulate
// on the Conn as they arrive, independent of any call.
//
// Conn.Call has the same shape as go-rod's proto.Client, so typed requests
// from github.com/go-rod/rod/lib/proto are used to build parameters.
package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/gorilla/websocket"
)

// Event names the client reacts to.
const (
	EventExecutionContextCreated = "Runtime.executionContextCreated"
	EventFileChooserOpened       = "Page.fileChooserOpened"
)

// ExecutionContext is an isolated script realm inside the target, such as the
// top-level page or an embedded frame.
type ExecutionContext struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Origin string `json:"origin"`
}

// DialOptions configures Dial.
type DialOptions struct {
	// ContextSettle is how long Dial waits after the handshake so the initial
	// execution contexts can register. Zero disables the wait.
	ContextSettle time.Duration

	// HandshakeTimeout bounds the websocket upgrade. Default: 5s.
	HandshakeTimeout time.Duration
}

// Conn is a live protocol connection.
type Conn struct {
	url string
	ws  *websocket.Conn

	writeMu sync.Mutex
	nextID  atomic.Int64

	mu          sync.Mutex
	pending     map[int64]*waiter
	contexts    []ExecutionContext
	subscribers map[string][]chan json.RawMessage
	closed      bool

	done      chan struct{}
	closeOnce sync.Once
}

type waiter struct {
	method string
	ch     chan reply
}

type reply struct {
	result json.RawMessage
	err    error
}

type request struct {
	ID        int64       `json:"id"`
	Method    string      `json:"method"`
	Params    interface{} `json:"params"`
	SessionID string      `json:"sessionId,omitempty"`
}

type message struct {
	ID     int64           `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ProtocolError  `json:"error,omitempty"`
}

// Dial opens a connection to a target's websocket debugger URL, enables the
// Runtime domain and waits for the context-settle period.
func Dial(ctx context.Context, url string, opts DialOptions) (*Conn, error) {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 5 * time.Second
	}

	dialer := websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, &ConnectionError{URL: url, Err: err}
	}

	c := newConn(url, ws)
	go c.readLoop()

	if err := Send(ctx, c, proto.RuntimeEnable{}, nil); err != nil {
		c.Close()
		return nil, &ConnectionError{URL: url, Err: fmt.Errorf("enable runtime: %w", err)}
	}

	if opts.ContextSettle > 0 {
		timer := time.NewTimer(opts.ContextSettle)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			c.Close()
			return nil, &ConnectionError{URL: url, Err: ctx.Err()}
		}
	}

	return c, nil
}

func newConn(url string, ws *websocket.Conn) *Conn {
	return &Conn{
		url:         url,
		ws:          ws,
		pending:     make(map[int64]*waiter),
		subscribers: make(map[string][]chan json.RawMessage),
		done:        make(chan struct{}),
	}
}

// URL returns the websocket URL the connection was opened with.
func (c *Conn) URL() string { return c.url }

// Done is closed once the socket is gone.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Contexts returns a copy of the execution contexts observed so far, in the
// order they were announced.
func (c *Conn) Contexts() []ExecutionContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ExecutionContext, len(c.contexts))
	copy(out, c.contexts)
	return out
}

// Call sends one request and waits for the response bearing the same id.
// The transport imposes no deadline; ctx only bounds the caller's wait.
func (c *Conn) Call(ctx context.Context, sessionID, method string, params interface{}) ([]byte, error) {
	id := c.nextID.Add(1)
	w := &waiter{method: method, ch: make(chan reply, 1)}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.pending[id] = w
	c.mu.Unlock()

	if params == nil {
		params = struct{}{}
	}
	data, err := json.Marshal(request{ID: id, Method: method, Params: params, SessionID: sessionID})
	if err != nil {
		c.forget(id)
		return nil, fmt.Errorf("cdp: marshal %s: %w", method, err)
	}

	c.writeMu.Lock()
	err = c.ws.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return nil, fmt.Errorf("cdp: write %s: %w", method, err)
	}

	select {
	case r := <-w.ch:
		return r.result, r.err
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	}
}

// Subscribe delivers the params of every notification named method until the
// returned cancel func is called. Slow subscribers miss events rather than
// stalling the read loop.
func (c *Conn) Subscribe(method string) (<-chan json.RawMessage, func()) {
	ch := make(chan json.RawMessage, 8)

	c.mu.Lock()
	c.subscribers[method] = append(c.subscribers[method], ch)
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		subs := c.subscribers[method]
		for i, s := range subs {
			if s == ch {
				c.subscribers[method] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
	return ch, cancel
}

// Close closes the socket. Pending calls fail with ErrClosed. Safe to call
// more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Conn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.shutdown()
			return
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("[cdp] dropping malformed frame from %s: %v", c.url, err)
			continue
		}

		switch {
		case msg.ID != 0:
			c.resolve(msg)
		case msg.Method != "":
			c.dispatch(msg)
		}
	}
}

// resolve completes the waiter for msg.ID. Unknown ids belong to callers that
// gave up or to a previous target and are dropped.
func (c *Conn) resolve(msg message) {
	c.mu.Lock()
	w, ok := c.pending[msg.ID]
	delete(c.pending, msg.ID)
	c.mu.Unlock()
	if !ok {
		return
	}

	if msg.Error != nil {
		msg.Error.Method = w.method
		w.ch <- reply{err: msg.Error}
		return
	}
	w.ch <- reply{result: msg.Result}
}

func (c *Conn) dispatch(msg message) {
	if msg.Method == EventExecutionContextCreated {
		var ev proto.RuntimeExecutionContextCreated
		if err := json.Unmarshal(msg.Params, &ev); err == nil && ev.Context != nil {
			c.mu.Lock()
			c.contexts = append(c.contexts, ExecutionContext{
				ID:     int(ev.Context.ID),
				Name:   ev.Context.Name,
				Origin: ev.Context.Origin,
			})
			c.mu.Unlock()
		}
	}

	c.mu.Lock()
	subs := append([]chan json.RawMessage(nil), c.subscribers[msg.Method]...)
	c.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- msg.Params:
		default:
		}
	}
}

func (c *Conn) shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := c.pending
	c.pending = make(map[int64]*waiter)
	c.mu.Unlock()

	for _, w := range pending {
		w.ch <- reply{err: ErrClosed}
	}
	close(c.done)
	_ = c.ws.Close()
}

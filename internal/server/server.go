// Package server exposes the bridge to browsers over HTTP and websockets.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/standardbeagle/aglink/internal/bridge"
	"github.com/standardbeagle/aglink/internal/discovery"
	"github.com/standardbeagle/aglink/internal/inject"
	"github.com/standardbeagle/aglink/internal/snapshot"
)

// Controller is the part of the bridge the HTTP surface drives.
type Controller interface {
	LastSnapshot() *snapshot.Snapshot
	Discover(ctx context.Context) ([]discovery.Candidate, error)
	Status() bridge.Status
	SelectTarget(ctx context.Context, id string) (bridge.Status, error)
	SendMessage(ctx context.Context, text string) inject.Result
	Click(ctx context.Context, req inject.ClickRequest) inject.Result
	UploadFile(ctx context.Context, path, selector string) inject.Result
	ProbeUploads(ctx context.Context) ([]inject.ContextProbe, error)
	Targets(ctx context.Context) (bridge.TargetsView, error)
}

// Options configures a Server.
type Options struct {
	Port int
	// Token guards API routes. Empty disables auth.
	Token          string
	UploadsDir     string
	PublicDir      string
	MaxUploadBytes int64
	TLSCert        string
	TLSKey         string
}

// Server serves the viewer API, static files and the snapshot websocket.
type Server struct {
	opts    Options
	ctrl    Controller
	hub     http.Handler
	started time.Time

	mu         sync.Mutex
	httpServer *http.Server
	addr       string
	ready      chan struct{}
	readyOnce  sync.Once
}

// New creates a server. hub handles /ws and may be nil.
func New(ctrl Controller, hub http.Handler, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 50 << 20
	}
	if opts.UploadsDir == "" {
		opts.UploadsDir = "uploads"
	}
	return &Server{
		opts:    opts,
		ctrl:    ctrl,
		hub:     hub,
		started: time.Now(),
		ready:   make(chan struct{}),
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)

	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("pong"))
	})
	r.Get("/sys", s.handleSys)

	r.Route("/debug", func(r chi.Router) {
		r.Get("/targets", s.handleDebugTargets)
		r.Get("/upload-probe", s.handleUploadProbe)
	})

	r.Group(func(r chi.Router) {
		if s.opts.Token != "" {
			r.Use(requireToken(s.opts.Token))
		}
		r.Get("/snapshot", s.handleSnapshot)
		r.Get("/instances", s.handleInstances)
		r.Post("/instance", s.handleSelectInstance)
		r.Post("/send", s.handleSend)
		r.Post("/click", s.handleClick)
		r.Post("/upload", s.handleUpload)
		if s.hub != nil {
			r.Handle("/ws", s.hub)
		}
	})

	if dir := s.opts.PublicDir; dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			r.Handle("/*", http.FileServer(http.Dir(dir)))
		} else {
			log.Printf("[WARN] [server] public dir %s not found, static files disabled", dir)
		}
	}

	return r
}

// Start binds the listener and serves in the background. If the port is
// taken, an ephemeral port is used instead.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer != nil {
		return fmt.Errorf("server already running")
	}

	if err := os.MkdirAll(s.opts.UploadsDir, 0755); err != nil {
		return fmt.Errorf("create uploads dir: %w", err)
	}

	listenAddr := fmt.Sprintf(":%d", s.opts.Port)
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		if !isAddressInUse(err) {
			return fmt.Errorf("failed to listen on %s: %w", listenAddr, err)
		}
		log.Printf("[WARN] [server] port %d in use, picking another", s.opts.Port)
		listener, err = net.Listen("tcp", ":0")
		if err != nil {
			return fmt.Errorf("failed to find available port: %w", err)
		}
	}
	s.addr = listener.Addr().String()

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
	srv := s.httpServer
	tls := s.opts.TLSCert != "" && s.opts.TLSKey != ""

	s.readyOnce.Do(func() { close(s.ready) })

	go func() {
		var err error
		if tls {
			err = srv.ServeTLS(listener, s.opts.TLSCert, s.opts.TLSKey)
		} else {
			err = srv.Serve(listener)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[WARN] [server] serve: %v", err)
		}
	}()

	log.Printf("[INFO] [server] listening on %s", s.addr)
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer == nil {
		return nil
	}
	err := s.httpServer.Shutdown(ctx)
	s.httpServer = nil
	return err
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// PairingURL is the URL a phone on the same network opens, token included.
func (s *Server) PairingURL() string {
	_, port, err := net.SplitHostPort(s.Addr())
	if err != nil {
		port = fmt.Sprint(s.opts.Port)
	}
	scheme := "http"
	if s.opts.TLSCert != "" {
		scheme = "https"
	}
	url := fmt.Sprintf("%s://%s:%s/", scheme, LocalIP(), port)
	if s.opts.Token != "" {
		url += "?token=" + s.opts.Token
	}
	return url
}

func isAddressInUse(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "address already in use") ||
		strings.Contains(err.Error(), "bind") && strings.Contains(err.Error(), "in use")
}

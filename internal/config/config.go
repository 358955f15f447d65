// Package config holds aglink's settings and loads them from KDL.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/standardbeagle/aglink/internal/discovery"
)

// Config holds the complete bridge configuration.
type Config struct {
	// Version is the config file version.
	Version string `json:"version"`

	Discovery Discovery `json:"discovery"`
	Session   Session   `json:"session"`
	Inject    Inject    `json:"inject"`
	Server    Server    `json:"server"`
}

// Discovery controls how targets are found.
type Discovery struct {
	// Host is where the debugging ports listen.
	Host string `json:"host"`
	// Ports are swept in order.
	Ports []int `json:"ports"`
	// ProbeTimeout bounds each port query.
	ProbeTimeout time.Duration `json:"probe_timeout"`
	// ScanProcesses adds ports found on running processes' command lines.
	ScanProcesses bool `json:"scan_processes"`
}

// Session controls the connection lifecycle.
type Session struct {
	PollInterval      time.Duration `json:"poll_interval"`
	ReconnectInterval time.Duration `json:"reconnect_interval"`
	// ContextSettle is the wait after connecting for contexts to register.
	ContextSettle time.Duration `json:"context_settle"`
	// RefreshDelay is the wait before re-capturing after a click.
	RefreshDelay time.Duration `json:"refresh_delay"`
}

// Inject tunes the UI-driven upload.
type Inject struct {
	MenuSettle    time.Duration `json:"menu_settle"`
	InputAttempts int           `json:"input_attempts"`
	InputBackoff  time.Duration `json:"input_backoff"`
}

// Server configures the HTTP and websocket surface.
type Server struct {
	Port int `json:"port"`
	// Auth requires the pairing token on API routes.
	Auth        bool   `json:"auth"`
	TokenFile   string `json:"token_file"`
	UploadsDir  string `json:"uploads_dir"`
	PublicDir   string `json:"public_dir"`
	MaxUploadMB int    `json:"max_upload_mb"`
	TLSCert     string `json:"tls_cert,omitempty"`
	TLSKey      string `json:"tls_key,omitempty"`
	// Tunnel is "cloudflare" or "ngrok" to publish the server beyond the
	// local network. Empty disables it.
	Tunnel string `json:"tunnel,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	dir := DataDir()
	return &Config{
		Version: "1.0",
		Discovery: Discovery{
			Host:          "127.0.0.1",
			Ports:         append([]int(nil), discovery.DefaultPorts...),
			ProbeTimeout:  2 * time.Second,
			ScanProcesses: true,
		},
		Session: Session{
			PollInterval:      3 * time.Second,
			ReconnectInterval: 3 * time.Second,
			ContextSettle:     time.Second,
			RefreshDelay:      50 * time.Millisecond,
		},
		Inject: Inject{
			MenuSettle:    600 * time.Millisecond,
			InputAttempts: 5,
			InputBackoff:  200 * time.Millisecond,
		},
		Server: Server{
			Port:        3000,
			Auth:        true,
			TokenFile:   filepath.Join(dir, ".token"),
			UploadsDir:  filepath.Join(dir, "uploads"),
			PublicDir:   "public",
			MaxUploadMB: 50,
		},
	}
}

// Validate rejects unusable values and clamps the rest into range.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server port %d out of range", c.Server.Port)
	}
	for _, p := range c.Discovery.Ports {
		if p <= 0 || p > 65535 {
			return fmt.Errorf("config: discovery port %d out of range", p)
		}
	}
	switch c.Server.Tunnel {
	case "", "cloudflare", "ngrok":
	default:
		return fmt.Errorf("config: unknown tunnel provider %q", c.Server.Tunnel)
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return fmt.Errorf("config: tls-cert and tls-key must be set together")
	}

	def := DefaultConfig()
	if c.Discovery.Host == "" {
		c.Discovery.Host = def.Discovery.Host
	}
	if len(c.Discovery.Ports) == 0 {
		c.Discovery.Ports = def.Discovery.Ports
	}
	if c.Discovery.ProbeTimeout <= 0 {
		c.Discovery.ProbeTimeout = def.Discovery.ProbeTimeout
	}
	if c.Session.PollInterval < 250*time.Millisecond {
		c.Session.PollInterval = 250 * time.Millisecond
	}
	if c.Session.ReconnectInterval < c.Session.PollInterval {
		c.Session.ReconnectInterval = c.Session.PollInterval
	}
	if c.Session.ContextSettle < 0 {
		c.Session.ContextSettle = 0
	}
	if c.Inject.InputAttempts <= 0 {
		c.Inject.InputAttempts = def.Inject.InputAttempts
	}
	if c.Server.MaxUploadMB <= 0 {
		c.Server.MaxUploadMB = def.Server.MaxUploadMB
	}
	return nil
}

// MaxUploadBytes is the upload cap in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Server.MaxUploadMB) << 20
}

// ConfigDir returns $XDG_CONFIG_HOME, falling back to ~/.config.
func ConfigDir() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(home, ".config")
	}
	return configDir
}

// DataDir is where aglink keeps its token and uploads.
func DataDir() string {
	return filepath.Join(ConfigDir(), "aglink")
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	kdl "github.com/sblinch/kdl-go"
)

// GlobalConfigFile is the config file name under the config directory.
const GlobalConfigFile = "config.kdl"

// TokenEnv overrides the pairing token.
const TokenEnv = "AGLINK_TOKEN"

// KDLConfig represents the KDL configuration structure.
// Durations are strings accepted by time.ParseDuration.
type KDLConfig struct {
	Version   string       `kdl:"version"`
	Discovery KDLDiscovery `kdl:"discovery"`
	Session   KDLSession   `kdl:"session"`
	Inject    KDLInject    `kdl:"inject"`
	Server    KDLServer    `kdl:"server"`
}

// KDLDiscovery holds discovery settings from KDL.
type KDLDiscovery struct {
	Host          string `kdl:"host"`
	Ports         []int  `kdl:"ports"`
	ProbeTimeout  string `kdl:"probe-timeout"`
	ScanProcesses *bool  `kdl:"scan-processes"`
}

// KDLSession holds session timings from KDL.
type KDLSession struct {
	PollInterval      string `kdl:"poll-interval"`
	ReconnectInterval string `kdl:"reconnect-interval"`
	ContextSettle     string `kdl:"context-settle"`
	RefreshDelay      string `kdl:"refresh-delay"`
}

// KDLInject holds upload timings from KDL.
type KDLInject struct {
	MenuSettle    string `kdl:"menu-settle"`
	InputAttempts int    `kdl:"input-attempts"`
	InputBackoff  string `kdl:"input-backoff"`
}

// KDLServer holds server settings from KDL.
type KDLServer struct {
	Port        int    `kdl:"port"`
	Auth        *bool  `kdl:"auth"`
	TokenFile   string `kdl:"token-file"`
	UploadsDir  string `kdl:"uploads-dir"`
	PublicDir   string `kdl:"public-dir"`
	MaxUploadMB int    `kdl:"max-upload-mb"`
	TLSCert     string `kdl:"tls-cert"`
	TLSKey      string `kdl:"tls-key"`
	Tunnel      string `kdl:"tunnel"`
}

// GlobalConfigPath returns the path to the global config file.
func GlobalConfigPath() string {
	dir := ConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "aglink", GlobalConfigFile)
}

// Load reads path, or the global config file when path is empty. A missing
// global file yields the defaults; a missing explicit file is an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = GlobalConfigPath()
		if path == "" {
			return DefaultConfig(), nil
		}
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return DefaultConfig(), nil
		}
	}
	cfg, err := LoadConfigFile(path)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadConfigFile loads configuration from a specific file path.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseKDLConfig(string(data))
}

// ParseKDLConfig parses KDL configuration data on top of the defaults.
func ParseKDLConfig(data string) (*Config, error) {
	var kdlCfg KDLConfig
	if err := kdl.Unmarshal([]byte(data), &kdlCfg); err != nil {
		return nil, err
	}
	return kdlConfigToConfig(&kdlCfg)
}

func kdlConfigToConfig(k *KDLConfig) (*Config, error) {
	cfg := DefaultConfig()

	if k.Version != "" {
		cfg.Version = k.Version
	}

	// Discovery
	if k.Discovery.Host != "" {
		cfg.Discovery.Host = k.Discovery.Host
	}
	if len(k.Discovery.Ports) > 0 {
		cfg.Discovery.Ports = k.Discovery.Ports
	}
	if k.Discovery.ScanProcesses != nil {
		cfg.Discovery.ScanProcesses = *k.Discovery.ScanProcesses
	}

	// Server
	if k.Server.Port > 0 {
		cfg.Server.Port = k.Server.Port
	}
	if k.Server.Auth != nil {
		cfg.Server.Auth = *k.Server.Auth
	}
	if k.Server.TokenFile != "" {
		cfg.Server.TokenFile = expandHome(k.Server.TokenFile)
	}
	if k.Server.UploadsDir != "" {
		cfg.Server.UploadsDir = expandHome(k.Server.UploadsDir)
	}
	if k.Server.PublicDir != "" {
		cfg.Server.PublicDir = expandHome(k.Server.PublicDir)
	}
	if k.Server.MaxUploadMB > 0 {
		cfg.Server.MaxUploadMB = k.Server.MaxUploadMB
	}
	cfg.Server.TLSCert = expandHome(k.Server.TLSCert)
	cfg.Server.TLSKey = expandHome(k.Server.TLSKey)
	cfg.Server.Tunnel = k.Server.Tunnel

	if k.Inject.InputAttempts > 0 {
		cfg.Inject.InputAttempts = k.Inject.InputAttempts
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"discovery.probe-timeout", k.Discovery.ProbeTimeout, &cfg.Discovery.ProbeTimeout},
		{"session.poll-interval", k.Session.PollInterval, &cfg.Session.PollInterval},
		{"session.reconnect-interval", k.Session.ReconnectInterval, &cfg.Session.ReconnectInterval},
		{"session.context-settle", k.Session.ContextSettle, &cfg.Session.ContextSettle},
		{"session.refresh-delay", k.Session.RefreshDelay, &cfg.Session.RefreshDelay},
		{"inject.menu-settle", k.Inject.MenuSettle, &cfg.Inject.MenuSettle},
		{"inject.input-backoff", k.Inject.InputBackoff, &cfg.Inject.InputBackoff},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = v
	}

	return cfg, nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// WriteDefaultConfig writes a default config file with documentation.
func WriteDefaultConfig(path string) error {
	defaultKDL := `// aglink configuration

version "1.0"

discovery {
    host "127.0.0.1"
    // Swept in order; the first port exposing a target wins duplicates
    ports 9000 9001 9002 9003 9004 9005 9222 9223 9224 9225 9226 9227 9228 9229 9230 5858
    probe-timeout "2s"
    // Also try --remote-debugging-port values of running processes
    scan-processes true
}

session {
    poll-interval "3s"
    reconnect-interval "3s"
    // Wait after connecting for execution contexts to register
    context-settle "1s"
    // Re-capture this long after a click
    refresh-delay "50ms"
}

inject {
    menu-settle "600ms"
    input-attempts 5
    input-backoff "200ms"
}

server {
    port 3000
    auth true
    // token-file "~/.config/aglink/.token"
    // uploads-dir "~/.config/aglink/uploads"
    public-dir "public"
    max-upload-mb 50
    // tls-cert "cert.pem"
    // tls-key "key.pem"
    // Publish beyond the LAN: "cloudflare" or "ngrok"
    // tunnel "cloudflare"
}
`
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, []byte(strings.TrimSpace(defaultKDL)+"\n"), 0644)
}

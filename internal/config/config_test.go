package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/aglink/internal/discovery"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "127.0.0.1", cfg.Discovery.Host)
	assert.Equal(t, discovery.DefaultPorts, cfg.Discovery.Ports)
	assert.Equal(t, 2*time.Second, cfg.Discovery.ProbeTimeout)
	assert.Equal(t, 3*time.Second, cfg.Session.PollInterval)
	assert.Equal(t, 50*time.Millisecond, cfg.Session.RefreshDelay)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.True(t, cfg.Server.Auth)
	assert.Equal(t, int64(50<<20), cfg.MaxUploadBytes())
	require.NoError(t, cfg.Validate())
}

func TestDefaultConfig_PortsAreACopy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Discovery.Ports[0] = 1
	assert.Equal(t, 9000, discovery.DefaultPorts[0])
}

func TestParseKDLConfig(t *testing.T) {
	cfg, err := ParseKDLConfig(`
discovery {
    host "localhost"
    ports 9222 9333
    probe-timeout "500ms"
    scan-processes false
}
session {
    poll-interval "5s"
    refresh-delay "100ms"
}
inject {
    input-attempts 3
}
server {
    port 8080
    auth false
    max-upload-mb 10
    tunnel "ngrok"
}
`)
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Discovery.Host)
	assert.Equal(t, []int{9222, 9333}, cfg.Discovery.Ports)
	assert.Equal(t, 500*time.Millisecond, cfg.Discovery.ProbeTimeout)
	assert.False(t, cfg.Discovery.ScanProcesses)
	assert.Equal(t, 5*time.Second, cfg.Session.PollInterval)
	assert.Equal(t, 100*time.Millisecond, cfg.Session.RefreshDelay)
	assert.Equal(t, 3*time.Second, cfg.Session.ReconnectInterval, "unset values keep defaults")
	assert.Equal(t, 3, cfg.Inject.InputAttempts)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.False(t, cfg.Server.Auth)
	assert.Equal(t, 10, cfg.Server.MaxUploadMB)
	assert.Equal(t, "ngrok", cfg.Server.Tunnel)
}

func TestParseKDLConfig_BadDuration(t *testing.T) {
	_, err := ParseKDLConfig(`
session {
    poll-interval "soon"
}
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session.poll-interval")
}

func TestValidate(t *testing.T) {
	t.Run("clamps intervals", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Session.PollInterval = time.Millisecond
		cfg.Session.ReconnectInterval = 0
		cfg.Inject.InputAttempts = 0
		require.NoError(t, cfg.Validate())
		assert.Equal(t, 250*time.Millisecond, cfg.Session.PollInterval)
		assert.Equal(t, 250*time.Millisecond, cfg.Session.ReconnectInterval)
		assert.Equal(t, 5, cfg.Inject.InputAttempts)
	})

	t.Run("rejects bad port", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Server.Port = 70000
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects unknown tunnel", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Server.Tunnel = "carrier-pigeon"
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects half tls", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Server.TLSCert = "cert.pem"
		assert.Error(t, cfg.Validate())
	})
}

func TestWriteDefaultConfig_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aglink", GlobalConfigFile)
	require.NoError(t, WriteDefaultConfig(path))

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)

	def := DefaultConfig()
	assert.Equal(t, def.Discovery, cfg.Discovery)
	assert.Equal(t, def.Session, cfg.Session)
	assert.Equal(t, def.Inject, cfg.Inject)
	assert.Equal(t, def.Server.Port, cfg.Server.Port)
}

func TestLoad(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	t.Run("missing global file gives defaults", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, 3000, cfg.Server.Port)
	})

	t.Run("missing explicit file is an error", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.kdl"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("global file is read", func(t *testing.T) {
		path := GlobalConfigPath()
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte("server {\n    port 4000\n}\n"), 0644))

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, 4000, cfg.Server.Port)
	})
}

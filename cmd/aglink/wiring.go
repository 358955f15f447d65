package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/standardbeagle/aglink/internal/bridge"
	"github.com/standardbeagle/aglink/internal/config"
	"github.com/standardbeagle/aglink/internal/discovery"
	"github.com/standardbeagle/aglink/internal/inject"
	"github.com/standardbeagle/aglink/internal/snapshot"
)

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newDiscoverer(cfg *config.Config) *discovery.Discoverer {
	d := discovery.New(cfg.Discovery.Host, cfg.Discovery.Ports, cfg.Discovery.ProbeTimeout)
	if cfg.Discovery.ScanProcesses {
		scanner := discovery.NewProcessScanner()
		d.SetPortSource(func(ctx context.Context) []int {
			return scanner.Scan(ctx)
		})
	}
	return d
}

// newBridge assembles a bridge. hub may be nil when nothing watches the
// mirror.
func newBridge(cfg *config.Config, state *bridge.State, hub bridge.Broadcaster) *bridge.Bridge {
	deps := bridge.Deps{
		Discoverer: newDiscoverer(cfg),
		Dial:       bridge.CDPDialer(cfg.Session.ContextSettle),
		Capturer:   snapshot.NewCapturer(snapshot.NewAssetInliner()),
		Engine: inject.NewEngine(inject.Options{
			MenuSettle:    cfg.Inject.MenuSettle,
			InputAttempts: cfg.Inject.InputAttempts,
			InputBackoff:  cfg.Inject.InputBackoff,
		}),
		Hub:   hub,
		State: state,
	}
	return bridge.New(deps, bridge.Options{
		PollInterval:      cfg.Session.PollInterval,
		ReconnectInterval: cfg.Session.ReconnectInterval,
		RefreshDelay:      cfg.Session.RefreshDelay,
	})
}

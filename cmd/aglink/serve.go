package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/standardbeagle/aglink/internal/bridge"
	"github.com/standardbeagle/aglink/internal/broadcast"
	"github.com/standardbeagle/aglink/internal/config"
	"github.com/standardbeagle/aglink/internal/server"
	"github.com/standardbeagle/aglink/internal/tunnel"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the mirror server",
	Long: `Run the HTTP and websocket server that mirrors the chat panel.

Open the printed URL on a phone or another machine on the same network.
The pairing token in the URL is required for API and websocket access
unless --no-auth is given.`,
	RunE: runServe,
}

var (
	servePort   int
	serveNoAuth bool
	serveTunnel string
)

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (default from config, 3000)")
	serveCmd.Flags().BoolVar(&serveNoAuth, "no-auth", false, "Disable the pairing token")
	serveCmd.Flags().StringVar(&serveTunnel, "tunnel", "", "Publish through a tunnel: cloudflare or ngrok")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = servePort
	}
	if serveNoAuth {
		cfg.Server.Auth = false
	}
	if serveTunnel != "" {
		cfg.Server.Tunnel = serveTunnel
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer cancel()

	var token string
	if cfg.Server.Auth {
		token, err = server.LoadOrCreateToken(cfg.Server.TokenFile, os.Getenv(config.TokenEnv))
		if err != nil {
			return err
		}
	}

	state := bridge.NewState()
	hub := broadcast.NewHub(state)
	b := newBridge(cfg, state, hub)

	srv := server.New(b, hub, server.Options{
		Port:           cfg.Server.Port,
		Token:          token,
		UploadsDir:     cfg.Server.UploadsDir,
		PublicDir:      cfg.Server.PublicDir,
		MaxUploadBytes: cfg.MaxUploadBytes(),
		TLSCert:        cfg.Server.TLSCert,
		TLSKey:         cfg.Server.TLSKey,
	})
	if err := srv.Start(ctx); err != nil {
		return err
	}

	log.Printf("[INFO] Starting %s v%s", appName, appVersion)
	fmt.Fprintf(cmd.OutOrStdout(), "Mirror ready: %s\n", srv.PairingURL())

	var tun *tunnel.Tunnel
	if cfg.Server.Tunnel != "" {
		tun, err = openTunnel(ctx, cfg.Server.Tunnel, srv.Addr(), token)
		if err != nil {
			log.Printf("[WARN] [tunnel] %v", err)
		}
	}

	if err := b.Start(ctx); err != nil {
		log.Printf("[WARN] %v", err)
	}

	<-ctx.Done()
	log.Println("[INFO] Shutdown signal received...")

	b.Stop()
	if tun != nil {
		if err := tun.Close(); err != nil {
			log.Printf("[WARN] %v", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Printf("[WARN] server shutdown: %v", err)
	}

	log.Println("[INFO] Shutdown complete")
	return nil
}

// openTunnel publishes addr and prints the public pairing URL once the
// provider announces it.
func openTunnel(ctx context.Context, provider, addr, token string) (*tunnel.Tunnel, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, err
	}

	tun, err := tunnel.Open(ctx, tunnel.Provider(provider), port, "")
	if err != nil {
		return nil, err
	}

	go func() {
		waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		url, err := tun.WaitForURL(waitCtx)
		if err != nil {
			log.Printf("[WARN] [tunnel] no public URL: %v", err)
			return
		}
		if token != "" {
			url += "/?token=" + token
		}
		log.Printf("[INFO] Public mirror: %s", url)
	}()
	return tun, nil
}

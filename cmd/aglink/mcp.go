package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/standardbeagle/aglink/internal/bridge"
	"github.com/standardbeagle/aglink/internal/tools"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run as MCP server",
	Long: `Run as an MCP (Model Context Protocol) server over stdio.

The bridge attaches to the desktop app in the background; tools act on
whichever target is active.`,
	Run: runMCP,
}

func runMCP(cmd *cobra.Command, _ []string) {
	// stdout carries the protocol
	log.SetOutput(os.Stderr)

	cfg, err := loadConfig(cmd)
	if err != nil {
		log.Fatalf("[ERROR] %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer cancel()

	b := newBridge(cfg, bridge.NewState(), nil)

	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    appName,
			Version: appVersion,
		},
		&mcp.ServerOptions{
			HasTools: true,
			Instructions: `Bridge to a desktop coding agent's chat panel over its remote-debugging port.

Available tools:
- instances: List discovered targets and which one is active
- select_target: Switch to a specific target
- send_message: Type and submit a chat message
- click: Click an element by selector, coordinates or text
- upload_file: Attach a local file to the chat input
- snapshot: Read the mirrored chat view (markdown, html or meta)`,
		},
	)
	tools.Register(server, b)

	// Connect in the background so the MCP handshake is not held up by
	// discovery.
	go func() {
		if err := b.Start(ctx); err != nil {
			log.Printf("[WARN] %v", err)
		}
	}()

	log.Printf("[INFO] Starting %s v%s (mcp)", appName, appVersion)

	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		if ctx.Err() == nil {
			b.Stop()
			log.Fatalf("[ERROR] Server error: %v", err)
		}
	}

	b.Stop()
	log.Println("[INFO] MCP server shutdown complete")
}

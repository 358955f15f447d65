package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/standardbeagle/aglink/internal/discovery"
)

var instancesCmd = &cobra.Command{
	Use:   "instances",
	Short: "List inspectable targets and their scores",
	Long: `Sweep the debugging ports once and print every target that survives
filtering, best first. The target marked * is the one the bridge would pick.`,
	RunE: runInstances,
}

var instancesJSON bool

func init() {
	instancesCmd.Flags().BoolVar(&instancesJSON, "json", false, "Print JSON")
}

func runInstances(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Discovery.ProbeTimeout+5*time.Second)
	defer cancel()

	cands, err := newDiscoverer(cfg).Discover(ctx)
	if err != nil {
		return err
	}
	chosen, _ := discovery.Choose(cands, "")
	scored := discovery.Annotate(cands)

	out := cmd.OutOrStdout()
	if instancesJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Chosen    string             `json:"chosen,omitempty"`
			Instances []discovery.Scored `json:"instances"`
		}{chosen.ID, scored})
	}

	if len(scored) == 0 {
		fmt.Fprintln(out, "No targets found.")
		return nil
	}
	for _, s := range scored {
		mark := " "
		if s.ID == chosen.ID {
			mark = "*"
		}
		chat := ""
		if s.Chat {
			chat = " chat"
		}
		fmt.Fprintf(out, "%s %5d %4d%-5s  %-40s  %s\n", mark, s.Port, s.Score, chat, truncate(s.Title, 40), s.ID)
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

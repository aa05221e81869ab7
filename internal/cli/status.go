package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/holdfast-sec/holdfast/internal/client"
)

var (
	statusAddr   string
	statusFormat string
)

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&statusAddr, "addr", "http://127.0.0.1:8470", "Daemon address")
	statusCmd.Flags().StringVarP(&statusFormat, "format", "f", "text", "Output format (text|json)")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon health and emergency state",
	Long:  "Queries a running daemon for health, engine counters, and any active\nlockdowns and quarantines.",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	c := client.New(statusAddr)

	h, err := c.Health()
	if err != nil {
		return fmt.Errorf("daemon unreachable: %w", err)
	}
	state, err := c.EmergencyState()
	if err != nil {
		return fmt.Errorf("read emergency state: %w", err)
	}

	if statusFormat == "json" {
		out, _ := json.MarshalIndent(map[string]any{
			"health":    h,
			"emergency": state,
		}, "", "  ")
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("holdfast daemon at %s\n", statusAddr)
	fmt.Printf("Status: %s\n", h.Status)
	fmt.Printf("Config: %s\n", h.ConfigHash)

	keys := make([]string, 0, len(h.Stats))
	for k := range h.Stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %s: %v\n", k, h.Stats[k])
	}

	fmt.Println()
	if len(state.Lockdowns) == 0 {
		fmt.Println("Lockdowns: none")
	} else {
		fmt.Println("Lockdowns:")
		for _, l := range state.Lockdowns {
			fmt.Printf("  %s  set %s by %s  reason: %s\n",
				l.WorkspaceID, l.SetAt.Format(time.RFC3339), l.Actor, l.Reason)
		}
	}
	if len(state.Quarantines) == 0 {
		fmt.Println("Quarantines: none")
	} else {
		fmt.Println("Quarantines:")
		for _, q := range state.Quarantines {
			expiry := "until lifted"
			if !q.ExpiresAt.IsZero() {
				expiry = "expires " + q.ExpiresAt.Format(time.RFC3339)
			}
			fmt.Printf("  %s in %s  set %s by %s (%s)  reason: %s\n",
				q.UserID, q.WorkspaceID, q.SetAt.Format(time.RFC3339), q.Actor, expiry, q.Reason)
		}
	}

	return nil
}

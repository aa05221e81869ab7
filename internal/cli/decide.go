package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/holdfast-sec/holdfast/internal/client"
)

var (
	decideAddr      string
	decideUser      string
	decideWorkspace string
	decideAgent     string
	decideOperation string
	decideFormat    string
)

func init() {
	rootCmd.AddCommand(decideCmd)
	decideCmd.Flags().StringVar(&decideAddr, "addr", "http://127.0.0.1:8470", "Daemon address")
	decideCmd.Flags().StringVarP(&decideUser, "user", "u", "", "User ID (required)")
	decideCmd.Flags().StringVarP(&decideWorkspace, "workspace", "w", "", "Workspace ID (required)")
	decideCmd.Flags().StringVar(&decideAgent, "agent", "", "Agent ID")
	decideCmd.Flags().StringVar(&decideOperation, "op", "", "Agent operation (create|view|interact|configure|delete)")
	decideCmd.Flags().StringVarP(&decideFormat, "format", "f", "text", "Output format (text|json)")
	decideCmd.MarkFlagRequired("user")
	decideCmd.MarkFlagRequired("workspace")
}

var decideCmd = &cobra.Command{
	Use:   "decide",
	Short: "Ask the daemon for one access decision",
	Long: "Sends a decision request to a running daemon and prints the result.\n" +
		"Exit code 0 on allow, 1 on deny. An unreachable daemon is a deny:\n" +
		"the client fails closed.",
	RunE: runDecide,
}

func runDecide(cmd *cobra.Command, args []string) error {
	c := client.New(decideAddr)
	d := c.Decide(client.DecisionRequest{
		UserID:      decideUser,
		WorkspaceID: decideWorkspace,
		AgentID:     decideAgent,
		Operation:   decideOperation,
	})

	switch decideFormat {
	case "json":
		out, _ := json.MarshalIndent(d, "", "  ")
		fmt.Println(string(out))
	default:
		if d.Allowed {
			fmt.Printf("ALLOW  level=%s\n", d.AccessLevel)
		} else {
			fmt.Printf("DENY   reason=%s", d.ReasonCode)
			if d.Detail != "" {
				fmt.Printf("  (%s)", d.Detail)
			}
			fmt.Println()
		}
	}

	if !d.Allowed {
		os.Exit(1)
	}
	return nil
}

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/holdfast-sec/holdfast/internal/mcp"
)

var (
	mcpConfig   string
	mcpSnapshot string
)

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().StringVar(&mcpConfig, "config", "", "Path to config file (default ~/.holdfast/config.yaml)")
	mcpCmd.Flags().StringVar(&mcpSnapshot, "snapshot", "", "Path to directory snapshot (overrides config)")
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for agent integration",
	Long: "Runs holdfast as an MCP (Model Context Protocol) server over stdio.\n" +
		"Exposes read-and-decide tools: holdfast_check, holdfast_agents,\n" +
		"holdfast_emergency_state, holdfast_audit_tail. Emergency controls\n" +
		"stay on the HTTP API.",
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	srv, err := mcp.New(mcp.Config{
		ConfigPath:   mcpConfig,
		SnapshotPath: mcpSnapshot,
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down MCP server...")
		cancel()
	}()

	fmt.Fprintln(os.Stderr, "holdfast MCP server running on stdio")
	return srv.Run(ctx)
}

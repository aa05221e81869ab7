package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/holdfast-sec/holdfast/internal/audit"
	"github.com/holdfast-sec/holdfast/internal/config"
	"github.com/holdfast-sec/holdfast/internal/model"
)

var (
	auditDB         string
	tailLines       int
	tailWorkspace   string
	tailMinSeverity string
	reportWorkspace string
	reportFrom      string
	reportTo        string
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditTailCmd)
	auditCmd.AddCommand(auditReportCmd)
	auditCmd.PersistentFlags().StringVar(&auditDB, "db", "", "Path to audit SQLite DB (default from config)")
	auditTailCmd.Flags().IntVarP(&tailLines, "lines", "n", 10, "Number of recent events to show")
	auditTailCmd.Flags().StringVar(&tailWorkspace, "workspace", "", "Filter by workspace ID")
	auditTailCmd.Flags().StringVar(&tailMinSeverity, "min-severity", "", "Filter by minimum severity (low|medium|high|critical)")
	auditReportCmd.Flags().StringVar(&reportWorkspace, "workspace", "", "Limit to one workspace")
	auditReportCmd.Flags().StringVar(&reportFrom, "from", "", "Start time filter (RFC3339)")
	auditReportCmd.Flags().StringVar(&reportTo, "to", "", "End time filter (RFC3339)")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit trail operations",
	Long:  "Commands for verifying and inspecting the hash-chained audit trail.",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify <path>",
	Short: "Verify hash chain integrity of an audit log",
	Long: "Walks the JSONL audit chain and validates that every event's prev_hash\n" +
		"matches the SHA-256 of the previous line. Exits 0 if intact, 1 if tampered.",
	Args: cobra.ExactArgs(1),
	RunE: runAuditVerify,
}

var auditTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show recent audit events",
	Long:  "Reads the last N events from the audit store and pretty-prints them\nin chronological order.",
	RunE:  runAuditTail,
}

var auditReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarize stored audit events",
	Long:  "Aggregates the audit store into decision counts, override and critical\ntotals, the maximum risk score, and a per-type breakdown.",
	RunE:  runAuditReport,
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	result := audit.Verify(args[0])
	if result.Valid {
		fmt.Printf("OK: %d events verified\n", result.Lines)
		return nil
	}
	fmt.Fprintf(os.Stderr, "FAILED at line %d: %s\n", result.ErrorLine, result.Error)
	os.Exit(1)
	return nil
}

// auditDBPath resolves --db, falling back to the configured store location.
func auditDBPath() (string, error) {
	if auditDB != "" {
		return auditDB, nil
	}
	conf, err := config.LoadConfig("")
	if err != nil {
		return "", err
	}
	return conf.Audit.DBPath, nil
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	path, err := auditDBPath()
	if err != nil {
		return err
	}
	db, err := audit.OpenStore(path)
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}
	defer db.Close()

	filter := audit.Filter{
		WorkspaceID: tailWorkspace,
		Limit:       tailLines,
	}
	if tailMinSeverity != "" {
		sev, err := model.ParseSeverity(tailMinSeverity)
		if err != nil {
			return err
		}
		filter.MinSeverity = sev
	}

	events, err := db.Query(filter)
	if err != nil {
		return fmt.Errorf("query audit store: %w", err)
	}

	// Query returns newest first; a tail reads top to bottom.
	for i := len(events) - 1; i >= 0; i-- {
		out, _ := json.MarshalIndent(events[i], "", "  ")
		fmt.Println(string(out))
	}

	return nil
}

func runAuditReport(cmd *cobra.Command, args []string) error {
	var from, to time.Time
	if reportFrom != "" {
		t, err := time.Parse(time.RFC3339, reportFrom)
		if err != nil {
			return fmt.Errorf("invalid --from time %q: %w", reportFrom, err)
		}
		from = t
	}
	if reportTo != "" {
		t, err := time.Parse(time.RFC3339, reportTo)
		if err != nil {
			return fmt.Errorf("invalid --to time %q: %w", reportTo, err)
		}
		to = t
	}

	path, err := auditDBPath()
	if err != nil {
		return err
	}
	db, err := audit.OpenStore(path)
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}
	defer db.Close()

	summary, err := db.Summarize(reportWorkspace, from, to)
	if err != nil {
		return err
	}

	scope := "all workspaces"
	if reportWorkspace != "" {
		scope = reportWorkspace
	}
	fmt.Printf("Audit report: %s\n", scope)
	fmt.Printf("  Total events:   %d\n", summary.Total)
	fmt.Printf("  Denials:        %d\n", summary.DenyCount)
	fmt.Printf("  Overrides:      %d\n", summary.OverrideCount)
	fmt.Printf("  Critical:       %d\n", summary.CriticalCount)
	fmt.Printf("  Max risk score: %d\n", summary.MaxRiskScore)
	if len(summary.ByType) > 0 {
		fmt.Println("  By type:")
		for _, tc := range summary.ByType {
			fmt.Printf("    %-24s %d\n", tc.Type, tc.Count)
		}
	}

	return nil
}

package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/holdfast-sec/holdfast/internal/access"
	"github.com/holdfast-sec/holdfast/internal/audit"
	"github.com/holdfast-sec/holdfast/internal/gate"
	"github.com/holdfast-sec/holdfast/internal/model"
	"github.com/holdfast-sec/holdfast/internal/store"
)

func init() {
	rootCmd.AddCommand(demoCmd)
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run demonstration scenarios",
}

func init() {
	demoCmd.AddCommand(breachCmd)
}

var breachCmd = &cobra.Command{
	Use:   "breach",
	Short: "Run tenant-boundary demo (cross-workspace access must be denied)",
	RunE:  runBreachDemo,
}

const demoDirectoryYAML = `workspaces:
  - id: ws-finance
    owner_id: fin-lead
  - id: ws-support
    owner_id: sup-lead
agents:
  - id: agent-ledger
    workspace_id: ws-finance
    created_by: fin-lead
    status: active
  - id: agent-helpdesk
    workspace_id: ws-support
    created_by: sup-lead
    status: active
permissions:
  - user_id: fin-analyst
    entity_type: workspace
    entity_id: ws-finance
    permission_type: write
users:
  - user_id: fin-lead
    memberships:
      - workspace_id: ws-finance
        role: member
  - user_id: fin-analyst
    memberships:
      - workspace_id: ws-finance
        role: member
  - user_id: sup-lead
    memberships:
      - workspace_id: ws-support
        role: member
`

func runBreachDemo(cmd *cobra.Command, args []string) error {
	fmt.Println("=== holdfast Tenant Boundary Demo ===")
	fmt.Println("Purpose: Prove the workspace boundary is a control plane, not a suggestion.")
	fmt.Println()

	tmpDir, err := os.MkdirTemp("", "holdfast-demo-*")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	snapPath := filepath.Join(tmpDir, "directory.yaml")
	if err := os.WriteFile(snapPath, []byte(demoDirectoryYAML), 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	snap, err := store.LoadSnapshot(snapPath)
	if err != nil {
		return err
	}

	chainPath := filepath.Join(tmpDir, "audit.log")
	chain, err := audit.OpenChain(chainPath)
	if err != nil {
		return fmt.Errorf("failed to open audit chain: %w", err)
	}
	recorder := audit.NewRecorder(audit.RecorderConfig{}, chain)

	eng, err := gate.New(gate.Options{
		Directory: snap.Directory(),
		Recorder:  recorder,
	})
	if err != nil {
		recorder.Close()
		return err
	}
	eng.Start()

	ctx := context.Background()
	attempt := func(userID, workspaceID, agentID string) model.Decision {
		p, _ := snap.Principal(userID)
		return eng.AuthorizeAgent(ctx, &p, workspaceID, agentID, access.OpInteract, "203.0.113.7")
	}
	report := func(desc string, d model.Decision) {
		icon := "✓"
		verdict := "allowed"
		if !d.Allowed {
			icon = "✗"
			verdict = "BLOCKED"
		}
		fmt.Printf("  %s %-52s %s (%s)\n", icon, desc, verdict, d.ReasonCode)
	}

	boundaryHeld := true
	lockdownHeld := true

	// A member works inside their own workspace.
	d := attempt("fin-analyst", "ws-finance", "agent-ledger")
	report("fin-analyst -> agent-ledger (own workspace)", d)

	// The same member reaches into another tenant's workspace.
	d = attempt("fin-analyst", "ws-support", "agent-helpdesk")
	report("fin-analyst -> agent-helpdesk (other tenant)", d)
	if d.Allowed {
		boundaryHeld = false
	}

	// Quarantine freezes a user without touching anyone else.
	if err := eng.Quarantine("ws-finance", "fin-analyst", "credential leak drill", "sec-oncall", 0); err != nil {
		return err
	}
	d = attempt("fin-analyst", "ws-finance", "agent-ledger")
	report("fin-analyst while quarantined", d)
	if d.Allowed {
		lockdownHeld = false
	}
	if err := eng.LiftQuarantine("ws-finance", "fin-analyst", "sec-oncall"); err != nil {
		return err
	}

	// Lockdown denies everyone in the workspace, owners included.
	if err := eng.Lockdown("ws-finance", "active incident drill", "sec-oncall"); err != nil {
		return err
	}
	d = attempt("fin-lead", "ws-finance", "agent-ledger")
	report("fin-lead (owner) during lockdown", d)
	if d.Allowed {
		lockdownHeld = false
	}
	if err := eng.LiftLockdown("ws-finance", "sec-oncall"); err != nil {
		return err
	}

	// Normal service resumes once the lockdown lifts.
	d = attempt("fin-lead", "ws-finance", "agent-ledger")
	report("fin-lead after lockdown lifted", d)

	// Close flushes every decision into the chain before verification.
	if err := eng.Close(); err != nil {
		return err
	}

	fmt.Println()
	result := audit.Verify(chainPath)
	if !result.Valid {
		fmt.Printf("FAIL: audit chain broken at line %d: %s\n", result.ErrorLine, result.Error)
		os.Exit(1)
	}
	fmt.Printf("Audit chain: %d events, hash chain intact.\n", result.Lines)
	fmt.Println()

	// CI gate: the boundary and the emergency controls MUST hold.
	if !boundaryHeld {
		fmt.Println("FAIL: Cross-tenant access was NOT blocked. This is a control plane failure.")
		os.Exit(1)
	}
	if !lockdownHeld {
		fmt.Println("FAIL: An emergency control did not hold. This is a control plane failure.")
		os.Exit(1)
	}

	fmt.Println("PASS: Tenant boundary and emergency controls verified.")
	return nil
}

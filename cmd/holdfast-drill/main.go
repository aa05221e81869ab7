// holdfast-drill — the intruder that fails.
// Scripted adversarial client that drives a live holdfast daemon through
// boundary probes, privilege escalation attempts, and emergency drills.
// The drill probes; holdfast decides. Exit code 1 when any control fails.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/holdfast-sec/holdfast/internal/client"
	"github.com/holdfast-sec/holdfast/internal/model"
)

// version is set by ldflags at build time.
var version = "dev"

const (
	red    = "\033[0;31m"
	green  = "\033[0;32m"
	cyan   = "\033[0;36m"
	yellow = "\033[1;33m"
	bold   = "\033[1m"
	dim    = "\033[2m"
	reset  = "\033[0m"

	defaultAddr = "http://127.0.0.1:8470"
)

// probe is a single decision attempt with an expected outcome.
type probe struct {
	desc      string
	user      string
	workspace string
	agent     string
	op        string
	wantAllow bool
}

// defaultProbes matches the directory snapshot written by holdfast init:
// user-alice owns ws-example, user-bob holds an explicit write record.
var defaultProbes = []probe{
	{"owner interacts with own agent", "user-alice", "ws-example", "agent-example", "interact", true},
	{"member with write record interacts", "user-bob", "ws-example", "agent-example", "interact", true},
	{"member escalates: write tries configure", "user-bob", "ws-example", "agent-example", "configure", false},
	{"outsider enters the workspace", "user-mallory", "ws-example", "", "", false},
	{"owner reaches a nonexistent agent", "user-alice", "ws-example", "agent-ghost", "view", false},
}

func main() {
	var (
		flagAddr   string
		flagDryRun bool
		flagFlood  int
	)

	rootCmd := &cobra.Command{
		Use:   "holdfast-drill",
		Short: "the intruder that fails",
		Long:  "Adversarial client for a live holdfast daemon. The drill probes; holdfast decides.",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run the breach drill against a live daemon",
		Long: `Probes the daemon with legitimate requests, boundary violations, and
privilege escalation attempts, then drills the emergency controls.
Every expectation that does not hold fails the run.

The built-in probe set targets the sample directory written by
'holdfast init'. For custom assertion suites use 'holdfast check'.

Examples:
  holdfast-drill run
  holdfast-drill run --addr http://10.0.0.5:8470
  holdfast-drill run --flood 150`,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := flagAddr
			if addr == "" {
				addr = os.Getenv("HOLDFAST_ADDR")
			}
			if addr == "" {
				addr = defaultAddr
			}
			return runDrill(addr, flagDryRun, flagFlood)
		},
	}

	runCmd.Flags().StringVar(&flagAddr, "addr", "", "daemon address (env: HOLDFAST_ADDR)")
	runCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "show the probe plan without executing")
	runCmd.Flags().IntVar(&flagFlood, "flood", 0, "send N rapid decisions to exercise the rate guard (0 = skip)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "print holdfast-drill version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("holdfast-drill %s\n", version)
		},
	}

	rootCmd.AddCommand(runCmd, versionCmd)

	// CI compatibility: bare invocation with HOLDFAST_CI runs the default drill.
	if len(os.Args) == 1 && os.Getenv("HOLDFAST_CI") == "1" {
		addr := os.Getenv("HOLDFAST_ADDR")
		if addr == "" {
			addr = defaultAddr
		}
		if err := runDrill(addr, false, 0); err != nil {
			fmt.Fprintf(os.Stderr, "holdfast-drill: %s\n", err)
			os.Exit(1)
		}
		return
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runDrill(addr string, dryRun bool, flood int) error {
	fmt.Printf("%s%s=== HOLDFAST BREACH DRILL ===%s\n\n", bold, cyan, reset)

	if dryRun {
		fmt.Printf("%s%sDry run — probe plan:%s\n\n", bold, yellow, reset)
		for i, p := range defaultProbes {
			want := "deny"
			if p.wantAllow {
				want = "allow"
			}
			fmt.Printf("  %d. %s%-45s%s %s(expect %s)%s\n", i+1, bold, p.desc, reset, dim, want, reset)
		}
		fmt.Printf("\n  then: lockdown drill, quarantine drill")
		if flood > 0 {
			fmt.Printf(", %d-request flood", flood)
		}
		fmt.Println()
		return nil
	}

	c := client.New(addr)

	// --- Phase 0: Daemon health ---
	health, err := c.Health()
	if err != nil {
		return fmt.Errorf("daemon unreachable at %s: %w", addr, err)
	}
	fmt.Printf("%sDaemon:  %s (%s)%s\n", dim, addr, health.Status, reset)
	fmt.Printf("%sConfig:  %s%s\n\n", dim, health.ConfigHash, reset)
	time.Sleep(300 * time.Millisecond)

	var passed, failed int
	check := func(desc string, d model.Decision, wantAllow bool) {
		ok := d.Allowed == wantAllow
		icon, color := "✓", green
		if !ok {
			icon, color = "✗", red
			failed++
		} else {
			passed++
		}
		verdict := "denied"
		if d.Allowed {
			verdict = "allowed"
		}
		fmt.Printf("  %s%s%s %-45s %s%s (%s)%s\n", color, icon, reset, desc, dim, verdict, d.ReasonCode, reset)
		time.Sleep(200 * time.Millisecond)
	}

	// --- Phase 1: Boundary probes ---
	fmt.Printf("%s%s=== BOUNDARY PROBES ===%s\n\n", bold, cyan, reset)
	for _, p := range defaultProbes {
		d := c.Decide(client.DecisionRequest{
			UserID:      p.user,
			WorkspaceID: p.workspace,
			AgentID:     p.agent,
			Operation:   p.op,
		})
		check(p.desc, d, p.wantAllow)
	}
	fmt.Println()

	// --- Phase 2: Emergency drill ---
	fmt.Printf("%s%s=== EMERGENCY DRILL ===%s\n\n", bold, cyan, reset)

	if err := c.Lockdown("ws-example", "breach drill", "drill"); err != nil {
		return fmt.Errorf("set lockdown: %w", err)
	}
	d := c.Decide(client.DecisionRequest{UserID: "user-alice", WorkspaceID: "ws-example"})
	check("owner denied during lockdown", d, false)

	if err := c.LiftLockdown("ws-example", "drill"); err != nil {
		return fmt.Errorf("lift lockdown: %w", err)
	}
	d = c.Decide(client.DecisionRequest{UserID: "user-alice", WorkspaceID: "ws-example"})
	check("owner restored after lift", d, true)

	if err := c.Quarantine("ws-example", "user-bob", "breach drill", "drill", time.Minute); err != nil {
		return fmt.Errorf("set quarantine: %w", err)
	}
	d = c.Decide(client.DecisionRequest{UserID: "user-bob", WorkspaceID: "ws-example"})
	check("quarantined member denied", d, false)

	if err := c.LiftQuarantine("ws-example", "user-bob", "drill"); err != nil {
		return fmt.Errorf("lift quarantine: %w", err)
	}
	d = c.Decide(client.DecisionRequest{UserID: "user-bob", WorkspaceID: "ws-example"})
	check("member restored after lift", d, true)
	fmt.Println()

	// --- Phase 3: Rate guard flood (informational) ---
	if flood > 0 {
		fmt.Printf("%s%s=== RATE GUARD FLOOD ===%s\n\n", bold, cyan, reset)
		tripped := 0
		for i := 0; i < flood; i++ {
			d := c.Decide(client.DecisionRequest{UserID: "user-flood", WorkspaceID: "ws-example"})
			if d.ReasonCode == model.ReasonRateLimited && tripped == 0 {
				tripped = i + 1
			}
		}
		if tripped > 0 {
			fmt.Printf("  %s✓%s rate guard tripped at request %d of %d\n\n", green, reset, tripped, flood)
		} else {
			fmt.Printf("  %snote: %d requests never tripped the rate guard (limit may be higher)%s\n\n", yellow, flood, reset)
		}
	}

	// --- Results ---
	fmt.Printf("%s=== RESULTS ===%s\n\n", bold, reset)
	fmt.Printf("  Probes: %d  |  %sHeld: %d%s  |  %sFailed: %d%s\n\n", passed+failed, green, passed, reset, red, failed, reset)

	if failed > 0 {
		fmt.Printf("%s%sFAIL: %d control(s) did not hold. This is a control plane failure.%s\n", bold, red, failed, reset)
		os.Exit(1)
	}

	fmt.Printf("%s%sPASS: The intruder failed everywhere. Drill complete.%s\n", bold, green, reset)
	return nil
}

package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/holdfast-sec/holdfast/internal/client"
)

var (
	quarantineAddr     string
	quarantineReason   string
	quarantineActor    string
	quarantineDuration string
)

func init() {
	rootCmd.AddCommand(quarantineCmd)
	quarantineCmd.AddCommand(quarantineLiftCmd)
	quarantineCmd.PersistentFlags().StringVar(&quarantineAddr, "addr", "http://127.0.0.1:8470", "Daemon address")
	quarantineCmd.PersistentFlags().StringVar(&quarantineActor, "actor", "", "Administrator ID (required)")
	quarantineCmd.Flags().StringVar(&quarantineReason, "reason", "", "Reason recorded on the audit event (required)")
	quarantineCmd.Flags().StringVar(&quarantineDuration, "duration", "", "Auto-expiry, e.g. 30m or 2h (empty = until lifted)")
	quarantineCmd.MarkPersistentFlagRequired("actor")
	quarantineCmd.MarkFlagRequired("reason")
}

var quarantineCmd = &cobra.Command{
	Use:   "quarantine <workspace-id> <user-id>",
	Short: "Suspend one user inside one workspace",
	Long: "Quarantines the user in the workspace: their decisions there are denied\n" +
		"until the quarantine expires or is lifted. Other members are unaffected.",
	Args: cobra.ExactArgs(2),
	RunE: runQuarantine,
}

var quarantineLiftCmd = &cobra.Command{
	Use:   "lift <workspace-id> <user-id>",
	Short: "Lift an active quarantine",
	Args:  cobra.ExactArgs(2),
	RunE:  runQuarantineLift,
}

func runQuarantine(cmd *cobra.Command, args []string) error {
	var dur time.Duration
	if quarantineDuration != "" {
		var err error
		dur, err = time.ParseDuration(quarantineDuration)
		if err != nil {
			return fmt.Errorf("invalid --duration %q: %w", quarantineDuration, err)
		}
	}

	c := client.New(quarantineAddr)
	if err := c.Quarantine(args[0], args[1], quarantineReason, quarantineActor, dur); err != nil {
		return err
	}
	if dur > 0 {
		fmt.Printf("quarantined %s in %s for %s\n", args[1], args[0], dur)
	} else {
		fmt.Printf("quarantined %s in %s until lifted\n", args[1], args[0])
	}
	return nil
}

func runQuarantineLift(cmd *cobra.Command, args []string) error {
	c := client.New(quarantineAddr)
	if err := c.LiftQuarantine(args[0], args[1], quarantineActor); err != nil {
		return err
	}
	fmt.Printf("quarantine lifted for %s in %s\n", args[1], args[0])
	return nil
}

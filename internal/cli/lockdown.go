package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/holdfast-sec/holdfast/internal/client"
)

var (
	lockdownAddr   string
	lockdownReason string
	lockdownActor  string
)

func init() {
	rootCmd.AddCommand(lockdownCmd)
	lockdownCmd.AddCommand(lockdownLiftCmd)
	lockdownCmd.PersistentFlags().StringVar(&lockdownAddr, "addr", "http://127.0.0.1:8470", "Daemon address")
	lockdownCmd.PersistentFlags().StringVar(&lockdownActor, "actor", "", "Administrator ID (required)")
	lockdownCmd.Flags().StringVar(&lockdownReason, "reason", "", "Reason recorded on the audit event (required)")
	lockdownCmd.MarkPersistentFlagRequired("actor")
	lockdownCmd.MarkFlagRequired("reason")
}

var lockdownCmd = &cobra.Command{
	Use:   "lockdown <workspace-id>",
	Short: "Freeze all access to a workspace",
	Long: "Sets an emergency lockdown on the workspace. Every decision in it is\n" +
		"denied until the lockdown is lifted, including the owner's.",
	Args: cobra.ExactArgs(1),
	RunE: runLockdown,
}

var lockdownLiftCmd = &cobra.Command{
	Use:   "lift <workspace-id>",
	Short: "Lift an active lockdown",
	Args:  cobra.ExactArgs(1),
	RunE:  runLockdownLift,
}

func runLockdown(cmd *cobra.Command, args []string) error {
	c := client.New(lockdownAddr)
	if err := c.Lockdown(args[0], lockdownReason, lockdownActor); err != nil {
		return err
	}
	fmt.Printf("lockdown set on %s\n", args[0])
	return nil
}

func runLockdownLift(cmd *cobra.Command, args []string) error {
	c := client.New(lockdownAddr)
	if err := c.LiftLockdown(args[0], lockdownActor); err != nil {
		return err
	}
	fmt.Printf("lockdown lifted on %s\n", args[0])
	return nil
}

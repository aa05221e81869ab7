package cli

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/holdfast-sec/holdfast/internal/config"
	"github.com/holdfast-sec/holdfast/internal/systemd"
)

var (
	initMode           string
	initInstallSystemd bool
	initForce          bool
)

func init() {
	initCmd.Flags().StringVar(&initMode, "mode", "user", "Config location: user (~/.holdfast) or system (/etc/holdfast)")
	initCmd.Flags().BoolVar(&initInstallSystemd, "install-systemd", false, "Install holdfast.service unit (requires root)")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing config files")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Bootstrap holdfast configuration",
	Long: `Creates the config directory, a commented default config, and a sample
directory snapshot.

User mode (default):  writes to ~/.holdfast/
System mode:          writes to /etc/holdfast/ (requires root)

With --install-systemd: installs holdfast.service so the daemon runs
under systemd with hardening and records the unit file baseline hash.`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	configDir, err := initConfigDir()
	if err != nil {
		return err
	}

	var created []string

	// Write config.yaml.
	configPath := filepath.Join(configDir, "config.yaml")
	if wrote, err := writeIfMissing(configPath, config.DefaultConfigYAML()); err != nil {
		return err
	} else if wrote {
		created = append(created, configPath)
	}

	// Write directory.yaml.
	directoryPath := filepath.Join(configDir, "directory.yaml")
	if wrote, err := writeIfMissing(directoryPath, sampleDirectoryYAML); err != nil {
		return err
	} else if wrote {
		created = append(created, directoryPath)
	}

	// Install systemd unit if requested.
	if initInstallSystemd {
		if runtime.GOOS != "linux" {
			return fmt.Errorf("--install-systemd is only supported on Linux")
		}
		if os.Geteuid() != 0 {
			return fmt.Errorf("--install-systemd requires root; run with sudo")
		}

		unitPath := "/etc/systemd/system/holdfast.service"
		if err := os.WriteFile(unitPath, []byte(systemd.DaemonTemplate()), 0o644); err != nil {
			return fmt.Errorf("write systemd unit: %w", err)
		}
		created = append(created, unitPath)

		// Record the baseline so later modifications are detected.
		if err := systemd.RecordUnitFileHash(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not record unit file hash: %v\n", err)
		}

		// Reload systemd.
		if err := exec.Command("systemctl", "daemon-reload").Run(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: systemctl daemon-reload failed: %v\n", err)
		}
	}

	// Print summary.
	fmt.Println("holdfast init complete.")
	fmt.Println()
	if len(created) > 0 {
		fmt.Println("Created:")
		for _, path := range created {
			fmt.Printf("  %s\n", path)
		}
		fmt.Println()
	} else {
		fmt.Println("All files already exist (use --force to overwrite).")
		fmt.Println()
	}

	// Print next steps.
	fmt.Println("Edit the directory snapshot, then start the daemon:")
	fmt.Printf("  holdfast serve --config %s\n", configPath)
	fmt.Println()
	fmt.Println("Ask for a decision:")
	fmt.Println("  holdfast decide --user user-alice --workspace ws-example")

	if initInstallSystemd {
		fmt.Println()
		fmt.Println("Enable the daemon under systemd:")
		fmt.Println("  sudo systemctl enable --now holdfast")
	}

	return nil
}

// initConfigDir returns the configuration directory based on mode.
func initConfigDir() (string, error) {
	switch initMode {
	case "system":
		return "/etc/holdfast", nil
	case "user", "":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		return filepath.Join(home, ".holdfast"), nil
	default:
		return "", fmt.Errorf("unknown mode %q: use 'user' or 'system'", initMode)
	}
}

// writeIfMissing writes content to path if it doesn't exist or --force is set.
// Returns true if the file was written.
func writeIfMissing(path, content string) (bool, error) {
	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("create directory %s: %w", dir, err)
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}

const sampleDirectoryYAML = `# holdfast directory snapshot
# Generated by: holdfast init
#
# The directory is the source of truth for workspaces, agents, explicit
# permission records, and memberships. The daemon loads it at startup;
# edit and restart to change it. Explicit permission records override the
# configured default member level; workspace owners are always admins.

workspaces:
  - id: ws-example
    owner_id: user-alice

agents:
  - id: agent-example
    workspace_id: ws-example
    created_by: user-alice
    status: active

permissions:
  - user_id: user-bob
    entity_type: workspace
    entity_id: ws-example
    permission_type: write

users:
  - user_id: user-alice
    memberships:
      - workspace_id: ws-example
        role: member
  - user_id: user-bob
    memberships:
      - workspace_id: ws-example
        role: member
`

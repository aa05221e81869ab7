package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/holdfast-sec/holdfast/internal/audit"
	"github.com/holdfast-sec/holdfast/internal/config"
	"github.com/holdfast-sec/holdfast/internal/store"
	"github.com/holdfast-sec/holdfast/internal/systemd"
)

func init() {
	rootCmd.AddCommand(doctorCmd)
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check daemon readiness and diagnose configuration issues",
	RunE:  runDoctor,
}

type checkResult struct {
	label  string
	ok     bool
	detail string
	fix    string
}

func runDoctor(cmd *cobra.Command, args []string) error {
	var checks []checkResult

	// 1. Binary location and version.
	execPath, _ := os.Executable()
	if execPath != "" {
		checks = append(checks, checkResult{
			label:  "holdfast binary",
			ok:     true,
			detail: fmt.Sprintf("%s (v%s)", execPath, version),
		})
	} else {
		checks = append(checks, checkResult{
			label:  "holdfast binary",
			ok:     false,
			detail: "cannot determine executable path",
		})
	}

	// 2. Config directory.
	home, homeErr := os.UserHomeDir()
	configDir := ""
	if homeErr == nil {
		configDir = filepath.Join(home, ".holdfast")
	}

	if configDir != "" {
		if info, err := os.Stat(configDir); err == nil && info.IsDir() {
			checks = append(checks, checkResult{
				label:  "config directory",
				ok:     true,
				detail: configDir,
			})
		} else {
			checks = append(checks, checkResult{
				label:  "config directory",
				ok:     false,
				detail: "missing",
				fix:    "holdfast init",
			})
		}
	} else {
		checks = append(checks, checkResult{
			label:  "config directory",
			ok:     false,
			detail: "cannot determine home directory",
		})
	}

	// 3. config.yaml parses and validates.
	conf := config.DefaultConfig()
	if configDir != "" {
		configPath := filepath.Join(configDir, "config.yaml")
		if _, err := os.Stat(configPath); err != nil {
			checks = append(checks, checkResult{
				label:  "config.yaml",
				ok:     false,
				detail: "missing",
				fix:    "holdfast init",
			})
		} else if loaded, err := config.LoadConfig(configPath); err != nil {
			checks = append(checks, checkResult{
				label:  "config.yaml",
				ok:     false,
				detail: err.Error(),
			})
		} else {
			conf = loaded
			checks = append(checks, checkResult{
				label:  "config.yaml",
				ok:     true,
				detail: "valid",
			})
		}
	}

	// 4. Directory snapshot loads.
	snapPath := conf.Directory.SnapshotPath
	if snap, err := store.LoadSnapshot(snapPath); err == nil {
		checks = append(checks, checkResult{
			label: "directory snapshot",
			ok:    true,
			detail: fmt.Sprintf("%d workspaces, %d agents, %d users",
				len(snap.Workspaces), len(snap.Agents), len(snap.Users)),
		})
	} else if errors.Is(err, os.ErrNotExist) {
		checks = append(checks, checkResult{
			label:  "directory snapshot",
			ok:     false,
			detail: "missing",
			fix:    "holdfast init",
		})
	} else {
		checks = append(checks, checkResult{
			label:  "directory snapshot",
			ok:     false,
			detail: err.Error(),
		})
	}

	// 5. Audit chain integrity.
	if _, err := os.Stat(conf.Audit.ChainPath); err != nil {
		checks = append(checks, checkResult{
			label:  "audit chain",
			ok:     true,
			detail: "not yet created",
		})
	} else {
		result := audit.Verify(conf.Audit.ChainPath)
		if result.Valid {
			checks = append(checks, checkResult{
				label:  "audit chain",
				ok:     true,
				detail: fmt.Sprintf("%d events, chain intact", result.Lines),
			})
		} else {
			checks = append(checks, checkResult{
				label:  "audit chain",
				ok:     false,
				detail: fmt.Sprintf("broken at line %d: %s", result.ErrorLine, result.Error),
			})
		}
	}

	// 6. systemd (Linux only).
	if runtime.GOOS == "linux" {
		unitPath := "/etc/systemd/system/holdfast.service"
		if _, err := os.Stat(unitPath); err == nil {
			if warning := systemd.CheckUnitFileIntegrity(); warning != "" {
				checks = append(checks, checkResult{
					label:  "systemd unit",
					ok:     false,
					detail: warning,
					fix:    "sudo holdfast init --install-systemd --force",
				})
			} else {
				checks = append(checks, checkResult{
					label:  "systemd unit",
					ok:     true,
					detail: "installed",
				})
			}
		} else {
			checks = append(checks, checkResult{
				label:  "systemd unit",
				ok:     false,
				detail: "not installed",
				fix:    "sudo holdfast init --install-systemd",
			})
		}
	}

	// Print results.
	hasFailures := false
	for _, c := range checks {
		mark := "✓"
		if !c.ok {
			mark = "✗"
			hasFailures = true
		}
		line := fmt.Sprintf("%s %-20s %s", mark, c.label+":", c.detail)
		if !c.ok && c.fix != "" {
			line += fmt.Sprintf("  ->  %s", c.fix)
		}
		fmt.Println(line)
	}

	if hasFailures {
		fmt.Println()
		fmt.Println("Some checks failed. Run the suggested commands to fix.")
		return fmt.Errorf("doctor found issues")
	}

	fmt.Println()
	fmt.Println("All checks passed.")
	return nil
}

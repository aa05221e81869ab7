// Package integrity verifies the holdfast binary checksum at startup.
// The expected hash is embedded at build time via ldflags; dev builds
// without one fall back to a checksum file, or skip the check. On a
// mismatch a tamper event is recorded and the process refuses to start.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/holdfast-sec/holdfast/internal/alert"
	"github.com/holdfast-sec/holdfast/internal/audit"
	"github.com/holdfast-sec/holdfast/internal/model"
)

// ExpectedHash is set at build time via:
//
//	-ldflags "-X github.com/holdfast-sec/holdfast/internal/integrity.ExpectedHash=<sha256hex>"
//
// When empty (dev builds), verification falls back to a checksum file.
var ExpectedHash string

// TamperLogDir is the directory where tamper events are written.
// Defaults to /var/log/holdfast. Override for testing.
var TamperLogDir = "/var/log/holdfast"

// ChecksumPaths are the paths checked (in order) for a sha256 checksum file.
// The file should contain a single hex-encoded SHA-256 hash.
// Override for testing.
var ChecksumPaths = []string{
	"/etc/holdfast/binary.sha256",
	"$HOME/.holdfast/binary.sha256",
}

// TamperEvent records a binary integrity violation.
type TamperEvent struct {
	Timestamp    string `json:"timestamp"`
	Binary       string `json:"binary"`
	ExpectedHash string `json:"expected_hash"`
	ActualHash   string `json:"actual_hash"`
	Hostname     string `json:"hostname"`
	Type         string `json:"type"`
}

// Verify checks that the running binary matches ExpectedHash.
// If ExpectedHash is empty, falls back to a checksum file at ChecksumPaths.
// Returns nil if verification passes or no expected hash is available (dev
// mode). On mismatch, writes a tamper event before returning the error.
func Verify() error {
	expected := ExpectedHash
	if expected == "" {
		expected = loadChecksumFile()
	}
	if expected == "" {
		return nil
	}

	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("integrity: cannot resolve executable path: %w", err)
	}

	actual, err := hashFile(exePath)
	if err != nil {
		return fmt.Errorf("integrity: cannot hash binary: %w", err)
	}

	if actual == expected {
		return nil
	}

	event := TamperEvent{
		Timestamp:    time.Now().UTC().Format(audit.TimestampFormat),
		Binary:       exePath,
		ExpectedHash: expected,
		ActualHash:   actual,
		Type:         "binary_tamper",
	}
	event.Hostname, _ = os.Hostname()

	writeTamperEvent(event)

	return fmt.Errorf("integrity: binary checksum mismatch (expected %s, got %s)", expected, actual)
}

// HashSelf returns the SHA-256 hex digest of the running binary.
// Useful for writing the checksum file after install.
func HashSelf() (string, error) {
	exePath, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("integrity: cannot resolve executable path: %w", err)
	}
	return hashFile(exePath)
}

// loadChecksumFile reads the expected hash from a checksum file.
// Returns empty string if no file is found or readable.
func loadChecksumFile() string {
	for _, p := range ChecksumPaths {
		path := os.ExpandEnv(p)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		hash := strings.TrimSpace(string(data))
		if len(hash) == 64 && isHex(hash) {
			return hash
		}
	}
	return ""
}

func isHex(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// writeTamperEvent appends a tamper event to the tamper log, prints to
// stderr for the journal, and fires webhook alerts.
func writeTamperEvent(event TamperEvent) {
	line, err := json.Marshal(event)
	if err != nil {
		return
	}

	logPath := filepath.Join(TamperLogDir, "tamper.jsonl")
	if err := os.MkdirAll(TamperLogDir, 0700); err == nil {
		if f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600); err == nil {
			f.Write(append(line, '\n'))
			f.Sync()
			f.Close()
		}
	}

	fmt.Fprintf(os.Stderr, "TAMPER ALERT: %s\n", string(line))

	dispatchTamperAlert(event)
}

// dispatchTamperAlert reads the alerts section from the daemon config and
// fires the tamper event to matching destinations. Sends run synchronously;
// the process is about to exit.
func dispatchTamperAlert(event TamperEvent) {
	configs := loadAlertConfigs()
	if len(configs) == 0 {
		return
	}

	payload := alert.Event{
		Timestamp: event.Timestamp,
		Type:      "binary_tamper",
		Severity:  model.SeverityCritical,
		RiskScore: audit.Score(audit.Signals{Severity: model.SeverityCritical, Denied: true}),
		Detail: fmt.Sprintf("binary checksum mismatch on %s: expected %s, got %s",
			event.Hostname, event.ExpectedHash, event.ActualHash),
	}

	for _, cfg := range configs {
		if cfg.MinSeverity != "" && model.SeverityCritical.AtLeast(cfg.MinSeverity) {
			alert.Send(cfg, payload)
			continue
		}
		for _, e := range cfg.Events {
			if e == "binary_tamper" {
				alert.Send(cfg, payload)
				break
			}
		}
	}
}

// configAlerts parses just the alerts section of the daemon config. This
// runs before full config init.
type configAlerts struct {
	Alerts []alert.Config `yaml:"alerts"`
}

func loadAlertConfigs() []alert.Config {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	data, err := os.ReadFile(filepath.Join(home, ".holdfast", "config.yaml"))
	if err != nil {
		return nil
	}

	var ca configAlerts
	if err := yaml.Unmarshal(data, &ca); err != nil {
		return nil
	}
	return ca.Alerts
}

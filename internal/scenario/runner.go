// Package scenario runs decision assertion suites against a directory
// snapshot. Suites are YAML files of expected allow/deny outcomes, evaluated
// through a one-shot engine so CI can gate on access control correctness.
package scenario

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/holdfast-sec/holdfast/internal/access"
	"github.com/holdfast-sec/holdfast/internal/audit"
	"github.com/holdfast-sec/holdfast/internal/config"
	"github.com/holdfast-sec/holdfast/internal/gate"
	"github.com/holdfast-sec/holdfast/internal/model"
	"github.com/holdfast-sec/holdfast/internal/ratelimit"
	"github.com/holdfast-sec/holdfast/internal/store"
)

// Run evaluates all cases in a scenario against the given directory snapshot.
// Decisions stay in-process: the engine gets no audit sinks, and rate limits
// are off so large suites evaluate deterministically.
func Run(s *Scenario, snap *store.Snapshot) (*RunResult, error) {
	cfg := config.DefaultConfig()
	cfg.RateLimits = ratelimit.Rules{}

	eng, err := gate.New(gate.Options{
		Config:    cfg,
		Directory: snap.Directory(),
		Recorder:  audit.NewRecorder(audit.RecorderConfig{}),
	})
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}
	defer eng.Close()

	result := &RunResult{
		Name:  s.Name,
		Total: len(s.Cases),
	}

	ctx := context.Background()
	for i, c := range s.Cases {
		d := evaluate(ctx, eng, snap, c)

		actual := "deny"
		if d.Allowed {
			actual = "allow"
		}
		expected := strings.ToLower(c.Expect)

		cr := CaseResult{
			Index:     i + 1,
			User:      c.User,
			Workspace: c.Workspace,
			Expected:  expected,
			Actual:    actual,
			Reason:    string(d.ReasonCode),
		}

		if actual == expected && (c.Reason == "" || c.Reason == string(d.ReasonCode)) {
			cr.Passed = true
			result.Passed++
		} else {
			result.Failed++
		}

		result.Cases = append(result.Cases, cr)
	}

	return result, nil
}

func evaluate(ctx context.Context, eng *gate.Engine, snap *store.Snapshot, c Case) model.Decision {
	p, ok := snap.Principal(c.User)
	if !ok {
		p = model.Principal{UserID: c.User}
	}

	if c.Operation == "" {
		if c.Agent == "" {
			return eng.AuthorizeWorkspace(ctx, &p, c.Workspace, "")
		}
		return eng.AuthorizeAgent(ctx, &p, c.Workspace, c.Agent, access.OpView, "")
	}

	op, ok := access.ParseOperation(c.Operation)
	if !ok {
		return model.Deny(model.ReasonValidation, fmt.Sprintf("unknown operation %q", c.Operation))
	}
	return eng.AuthorizeAgent(ctx, &p, c.Workspace, c.Agent, op, "")
}

// LoadAndRun loads a scenario YAML file and its directory snapshot and runs.
// A snapshot named inside the scenario file resolves relative to the file and
// wins over the fallback path.
func LoadAndRun(path, snapshotPath string) (*RunResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}

	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}

	snapPath := snapshotPath
	if s.Snapshot != "" {
		snapPath = s.Snapshot
		if !filepath.IsAbs(snapPath) {
			snapPath = filepath.Join(filepath.Dir(path), snapPath)
		}
	}
	if snapPath == "" {
		return nil, fmt.Errorf("scenario %s names no snapshot and no fallback was given", path)
	}

	snap, err := store.LoadSnapshot(snapPath)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	result, err := Run(&s, snap)
	if err != nil {
		return nil, err
	}
	result.File = path

	return result, nil
}

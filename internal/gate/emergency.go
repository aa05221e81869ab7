package gate

import (
	"errors"
	"strings"
	"time"

	"github.com/holdfast-sec/holdfast/internal/audit"
	"github.com/holdfast-sec/holdfast/internal/emergency"
	"github.com/holdfast-sec/holdfast/internal/model"
)

// Lockdown denies every operation in the workspace, for all users, until
// lifted. The action is audited with the acting operator.
func (e *Engine) Lockdown(workspaceID, reason, actor string) error {
	if err := model.ValidateID("workspace_id", workspaceID); err != nil {
		return err
	}
	now := time.Now().UTC()
	ld, err := e.emergency.Lockdown(workspaceID, reason, actor, now)
	if err != nil {
		return err
	}
	e.logAdmin(adminEvent{
		eventType:   audit.TypeLockdownSet,
		severity:    model.SeverityHigh,
		workspaceID: ld.WorkspaceID,
		actor:       ld.Actor,
		detail:      ld.Reason,
		override:    true,
	})
	return nil
}

// LiftLockdown restores normal operation for the workspace. The lift itself
// is audited with the acting operator.
func (e *Engine) LiftLockdown(workspaceID, actor string) error {
	if err := model.ValidateID("workspace_id", workspaceID); err != nil {
		return err
	}
	if strings.TrimSpace(actor) == "" {
		return errors.New("gate: lift requires an actor")
	}
	ld, ok := e.emergency.LiftLockdown(workspaceID)
	if !ok {
		return ErrNoActiveLockdown
	}
	e.logAdmin(adminEvent{
		eventType:   audit.TypeLockdownLifted,
		severity:    model.SeverityMedium,
		workspaceID: ld.WorkspaceID,
		actor:       actor,
		detail:      "lockdown lifted; was: " + ld.Reason,
	})
	return nil
}

// Quarantine denies every operation by one user in one workspace until the
// quarantine expires or is lifted. Zero duration quarantines indefinitely.
func (e *Engine) Quarantine(workspaceID, userID, reason, actor string, duration time.Duration) error {
	if err := model.ValidateID("workspace_id", workspaceID); err != nil {
		return err
	}
	if err := model.ValidateID("user_id", userID); err != nil {
		return err
	}
	now := time.Now().UTC()
	q, err := e.emergency.Quarantine(workspaceID, userID, reason, actor, duration, now)
	if err != nil {
		return err
	}
	e.logAdmin(adminEvent{
		eventType:   audit.TypeQuarantineSet,
		severity:    model.SeverityHigh,
		workspaceID: q.WorkspaceID,
		userID:      q.UserID,
		actor:       q.Actor,
		detail:      q.Reason,
		override:    true,
	})
	return nil
}

// LiftQuarantine restores the user's access in the workspace. Audited with
// the acting operator.
func (e *Engine) LiftQuarantine(workspaceID, userID, actor string) error {
	if err := model.ValidateID("workspace_id", workspaceID); err != nil {
		return err
	}
	if err := model.ValidateID("user_id", userID); err != nil {
		return err
	}
	if strings.TrimSpace(actor) == "" {
		return errors.New("gate: lift requires an actor")
	}
	q, ok := e.emergency.LiftQuarantine(workspaceID, userID)
	if !ok {
		return ErrNoActiveQuarantine
	}
	e.logAdmin(adminEvent{
		eventType:   audit.TypeQuarantineLifted,
		severity:    model.SeverityMedium,
		workspaceID: q.WorkspaceID,
		userID:      q.UserID,
		actor:       actor,
		detail:      "quarantine lifted; was: " + q.Reason,
	})
	return nil
}

// EmergencyState reports active lockdowns and quarantines, for the realtime
// transport to force-disconnect affected connections.
func (e *Engine) EmergencyState() emergency.State {
	return e.emergency.Snapshot(time.Now().UTC())
}

package holdfast

import (
	"fmt"

	"github.com/holdfast-sec/holdfast/internal/model"
)

// Request describes one access attempt.
type Request struct {
	UserID      string // principal making the attempt
	WorkspaceID string // workspace the attempt targets
	AgentID     string // optional: agent within the workspace
	Operation   string // optional: create, view, interact, configure, delete
	IP          string // optional: source address for rate keys and audit
}

// Result is a decision outcome.
type Result struct {
	Allowed bool
	Reason  string // stable reason code, "ok" when allowed
	Level   string // resolved access level, agent-scoped checks only
	Detail  string
}

// DeniedError is returned when a guarded call is denied.
type DeniedError struct {
	Request Request
	Reason  string
	Detail  string
}

func (e *DeniedError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("holdfast denied (%s)", e.Reason)
	}
	return fmt.Sprintf("holdfast denied (%s): %s", e.Reason, e.Detail)
}

// toResult maps an engine decision to an SDK Result.
func toResult(d model.Decision) Result {
	return Result{
		Allowed: d.Allowed,
		Reason:  string(d.ReasonCode),
		Level:   string(d.AccessLevel),
		Detail:  d.Detail,
	}
}

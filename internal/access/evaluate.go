package access

import "github.com/holdfast-sec/holdfast/internal/model"

// Operation names an agent-scoped action being gated.
type Operation string

const (
	OpCreate    Operation = "create"
	OpView      Operation = "view"
	OpInteract  Operation = "interact"
	OpConfigure Operation = "configure"
	OpDelete    Operation = "delete"
)

// ParseOperation validates an operation name from the wire.
func ParseOperation(s string) (Operation, bool) {
	switch Operation(s) {
	case OpCreate, OpView, OpInteract, OpConfigure, OpDelete:
		return Operation(s), true
	}
	return "", false
}

// Evaluate derives the access level a resolved context grants on one agent.
// crossWorkspace reports the hard precondition: an agent persisted under a
// different workspace than the context's yields NONE before any ranking,
// and the caller must record a cross-workspace-attempt event.
func Evaluate(pctx PermissionContext, agent model.AgentRecord) (level model.AccessLevel, crossWorkspace bool) {
	if agent.WorkspaceID != pctx.WorkspaceID {
		return model.AccessNone, true
	}
	if pctx.IsOwner || pctx.Level == model.PermissionAdmin {
		return model.AccessManage, false
	}
	if agent.CreatedBy == pctx.UserID {
		return model.AccessConfigure, false
	}
	if pctx.Level == model.PermissionWrite {
		return model.AccessInteract, false
	}
	if pctx.Level == model.PermissionRead {
		return model.AccessView, false
	}
	return model.AccessNone, false
}

// CanCreate reports whether the context may create agents in its workspace.
func CanCreate(pctx PermissionContext) bool {
	return pctx.IsOwner || pctx.Level.AtLeast(model.PermissionWrite)
}

// Ceiling is the highest access level the context can hold against any
// agent in its own workspace, before creator promotion.
func Ceiling(pctx PermissionContext) model.AccessLevel {
	switch {
	case pctx.IsOwner || pctx.Level == model.PermissionAdmin:
		return model.AccessManage
	case pctx.Level == model.PermissionWrite:
		return model.AccessInteract
	case pctx.Level == model.PermissionRead:
		return model.AccessView
	default:
		return model.AccessNone
	}
}

// Allows reports whether an evaluated level clears the operation. Viewing
// and interacting both clear at VIEW; the INTERACT threshold gates session
// creation, not per-request interaction. isCreator matters only for
// deletion, which the agent's creator may perform below MANAGE, never
// across workspaces, where the level is already NONE.
func Allows(op Operation, level model.AccessLevel, isCreator bool) bool {
	switch op {
	case OpView:
		return level.AtLeast(model.AccessView)
	case OpInteract:
		return level.AtLeast(model.AccessView)
	case OpConfigure:
		return level.AtLeast(model.AccessConfigure)
	case OpDelete:
		if level.AtLeast(model.AccessManage) {
			return true
		}
		return isCreator && level != model.AccessNone
	}
	return false
}

// FilterVisible returns the agents the context clears VIEW for. Agents from
// foreign workspaces never pass (Evaluate yields NONE for them).
func FilterVisible(pctx PermissionContext, agents []model.AgentRecord) []model.AgentRecord {
	var visible []model.AgentRecord
	for _, agent := range agents {
		level, _ := Evaluate(pctx, agent)
		if level.AtLeast(model.AccessView) {
			visible = append(visible, agent)
		}
	}
	return visible
}

// Package holdfast provides in-process access decisions for Go platform
// services. It embeds the same decision engine the daemon runs: emergency
// controls, rate limits, workspace boundary checks, and permission
// resolution, with every attempt funneled through one evaluation path.
//
// Usage:
//
//	hf, err := holdfast.New(holdfast.WithSnapshot("/etc/holdfast/directory.yaml"))
//	guarded := hf.Guard(invokeAgent)
//	out, err := guarded(ctx, holdfast.Request{
//	    UserID:      "user-7",
//	    WorkspaceID: "ws-acme",
//	    AgentID:     "agent-billing",
//	    Operation:   "interact",
//	})
//
// The SDK links directly against internal packages for zero-subprocess
// overhead. External users import github.com/holdfast-sec/holdfast/sdk/go/holdfast.
package holdfast

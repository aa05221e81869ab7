package gate

import (
	"time"

	"github.com/holdfast-sec/holdfast/internal/lifecycle"
)

// ApplyLifecycle performs the targeted cache invalidation a directory
// lifecycle event demands. Every session the event ends is audited with the
// event type as the cause.
func (e *Engine) ApplyLifecycle(ev lifecycle.Event) (lifecycle.Outcome, error) {
	if err := ev.Validate(); err != nil {
		return lifecycle.Outcome{}, err
	}

	e.mu.RLock()
	resolver := e.resolver
	e.mu.RUnlock()

	now := time.Now().UTC()
	out, err := lifecycle.Apply(ev, resolver, e.guard, now)
	if err != nil {
		return out, err
	}
	detail := "session ended by " + string(ev.Type) + " event"
	for _, s := range out.EndedSessions {
		e.logSessionClosed(s, detail, now)
	}
	return out, nil
}

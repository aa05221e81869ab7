package alert

// Dispatcher fans out alert events to matching webhook configurations.
type Dispatcher struct {
	configs []Config
}

// NewDispatcher creates a Dispatcher from webhook configurations.
// Returns nil if configs is empty (callers should nil-check).
func NewDispatcher(configs []Config) *Dispatcher {
	if len(configs) == 0 {
		return nil
	}
	return &Dispatcher{configs: configs}
}

// Dispatch sends the event to all webhooks whose filter matches.
// Fires goroutines; does not block the caller.
func (d *Dispatcher) Dispatch(event Event) {
	for _, cfg := range d.configs {
		if matches(cfg, event) {
			go Send(cfg, event)
		}
	}
}

// matches accepts an event at or above the destination's minimum severity,
// or whose type is explicitly listed. A destination with neither filter
// set receives nothing.
func matches(cfg Config, event Event) bool {
	if cfg.MinSeverity != "" && event.Severity.AtLeast(cfg.MinSeverity) {
		return true
	}
	for _, e := range cfg.Events {
		if e == event.Type {
			return true
		}
	}
	return false
}

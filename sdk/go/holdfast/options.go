package holdfast

// Option configures a Client at creation time.
type Option func(*clientConfig)

type clientConfig struct {
	configPath   string
	snapshotPath string
	chainPath    string
	sourceIP     string
}

// WithConfig sets the path to a daemon config YAML file.
func WithConfig(path string) Option {
	return func(c *clientConfig) { c.configPath = path }
}

// WithSnapshot sets the path to a directory snapshot YAML file.
func WithSnapshot(path string) Option {
	return func(c *clientConfig) { c.snapshotPath = path }
}

// WithAuditChain appends every decision to a hash-chained audit log at path.
// Without it decisions are evaluated but not persisted; the embedding
// service owns its own audit surface.
func WithAuditChain(path string) Option {
	return func(c *clientConfig) { c.chainPath = path }
}

// WithSourceIP sets the source address attached to requests that carry none.
// Defaults to 127.0.0.1.
func WithSourceIP(ip string) Option {
	return func(c *clientConfig) { c.sourceIP = ip }
}

// GuardOption configures a single Guard call.
type GuardOption func(*guardConfig)

type guardConfig struct {
	ip string
}

// GuardWithIP overrides the client-level source address for this guard.
func GuardWithIP(ip string) GuardOption {
	return func(g *guardConfig) { g.ip = ip }
}

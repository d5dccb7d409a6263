package plugin

import "context"

// Plugin is the lifecycle contract for goal sources and outcome processors.
type Plugin interface {
	// Info returns the static metadata for the plugin.
	Info() Info
	// Configure lets the plugin validate its configuration block before
	// initialisation. Implementations may mutate the map to inject defaults.
	Configure(cfg map[string]any) error
	// Init prepares the plugin for use.
	Init(ctx *ExecutionContext) error
	// Start activates the plugin. Long running work (feeding goals,
	// draining outcome channels) should be spawned here.
	Start(ctx *ExecutionContext) error
	// Stop gracefully halts the plugin and releases its resources.
	Stop(ctx *ExecutionContext) error
}

// ExecutionContext is handed to plugins at every lifecycle stage.
type ExecutionContext struct {
	// C carries cancellation and deadlines.
	C context.Context
	// Config is the plugin specific configuration block merged with
	// manager overrides.
	Config map[string]any
	// Resources exposes shared services supplied by the host daemon,
	// such as the goal sink or the outcome stream.
	Resources map[string]any
}

// Clone returns a shallow copy so plugins can mutate the maps without
// affecting their siblings.
func (c *ExecutionContext) Clone() *ExecutionContext {
	if c == nil {
		return nil
	}
	dup := *c
	dup.Config = cloneAnyMap(c.Config)
	dup.Resources = cloneAnyMap(c.Resources)
	return &dup
}

func cloneAnyMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// Option modifies the behaviour of a plugin manager instance.
type Option func(*Manager)

// WithLoader overrides the default binary loader implementation.
func WithLoader(loader Loader) Option {
	return func(m *Manager) {
		if loader != nil {
			m.loader = loader
		}
	}
}

// WithIsolationStrategy sets a custom isolation policy enforcement strategy.
func WithIsolationStrategy(strategy IsolationStrategy) Option {
	return func(m *Manager) {
		if strategy != nil {
			m.isolation = strategy
		}
	}
}

// WithResource registers a shared resource exposed to every plugin.
func WithResource(key string, value any) Option {
	return func(m *Manager) {
		if key == "" || value == nil {
			return
		}
		if m.resources == nil {
			m.resources = make(map[string]any)
		}
		m.resources[key] = value
	}
}

package worldview

import "github.com/goliatone/go-worldview/pkg/activity"

// WithActivity emits a state.committed event through emitter after each
// commit that changed the state. Emit failures go to the error handler.
func WithActivity(emitter *activity.Emitter) Option {
	return func(cfg *worldConfig) { cfg.activity = emitter }
}

// WithActivityHooks builds an enabled emitter over hooks. Nil hooks are
// dropped; with none left activity stays off. An optional Config sets the
// channel and the store, actor and tenant stamped on every event.
func WithActivityHooks(hooks activity.Hooks, config ...activity.Config) Option {
	var base activity.Config
	if len(config) > 0 {
		base = config[0]
	}
	base.Enabled = true
	emitter := activity.NewEmitter(hooks, base)
	return func(cfg *worldConfig) {
		if !emitter.Enabled() {
			cfg.activity = nil
			return
		}
		cfg.activity = emitter
	}
}

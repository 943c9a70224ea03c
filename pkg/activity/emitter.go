package activity

import (
	"context"
	"strings"
)

// DefaultChannel is stamped on events emitted without a channel.
const DefaultChannel = "worldview"

// Config sets the defaults an Emitter applies. StoreID, ActorID and TenantID
// only fill commit events that leave them empty.
type Config struct {
	Enabled  bool
	Channel  string
	StoreID  string
	ActorID  string
	TenantID string
}

// Emitter forwards events to hooks after applying its defaults.
type Emitter struct {
	hooks Hooks
	cfg   Config
}

func NewEmitter(hooks Hooks, cfg Config) *Emitter {
	cfg.Channel = strings.TrimSpace(cfg.Channel)
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	kept := make(Hooks, 0, len(hooks))
	for _, hook := range hooks {
		if hook != nil {
			kept = append(kept, hook)
		}
	}
	cfg.Enabled = cfg.Enabled && len(kept) > 0
	return &Emitter{hooks: kept, cfg: cfg}
}

// Enabled reports whether Emit will reach any hook. A nil emitter is disabled.
func (e *Emitter) Enabled() bool {
	return e != nil && e.cfg.Enabled
}

// Channel returns the channel applied to events without one.
func (e *Emitter) Channel() string {
	if e == nil {
		return DefaultChannel
	}
	return e.cfg.Channel
}

func (e *Emitter) Emit(ctx context.Context, event Event) error {
	if !e.Enabled() {
		return nil
	}
	if strings.TrimSpace(event.Channel) == "" {
		event.Channel = e.cfg.Channel
	}
	return e.hooks.Notify(ctx, event)
}

// EmitCommit builds a state.committed event from input, filling the
// configured store, actor and tenant, and emits it.
func (e *Emitter) EmitCommit(ctx context.Context, input CommitEventInput) error {
	if !e.Enabled() {
		return nil
	}
	if input.StoreID == "" {
		input.StoreID = e.cfg.StoreID
	}
	if input.ActorID == "" {
		input.ActorID = e.cfg.ActorID
	}
	if input.TenantID == "" {
		input.TenantID = e.cfg.TenantID
	}
	return e.Emit(ctx, BuildStateCommittedEvent(input))
}

package worldview

import (
	"slices"

	"github.com/google/uuid"
)

// Listener receives the current and previous value of whatever it observes,
// plus its own subscription so it can cancel itself mid-invocation.
type Listener func(current, previous any, sub *Subscription)

// Subscription is the record of one listener registration.
type Subscription struct {
	id     string
	path   Path
	phase  Phase
	handle handle
}

type handle interface {
	Remove()
	Active() bool
}

func newSubscription(phase Phase, path Path, h handle) *Subscription {
	return &Subscription{
		id:     uuid.NewString(),
		path:   slices.Clone(path),
		phase:  phase,
		handle: h,
	}
}

// ID uniquely identifies the registration.
func (s *Subscription) ID() string {
	if s == nil {
		return ""
	}
	return s.id
}

// Path is the location the listener was registered at. It is nil for
// listeners on derived and compound views, which observe a value instead.
func (s *Subscription) Path() Path {
	if s == nil {
		return nil
	}
	return slices.Clone(s.path)
}

// Phase reports whether the listener fires before or after the commit point.
func (s *Subscription) Phase() Phase {
	if s == nil {
		return ""
	}
	return s.phase
}

// Unsubscribe stops future invocations. It may be called any number of times,
// including from inside the listener while it runs.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.handle == nil {
		return
	}
	s.handle.Remove()
}

// Active reports whether the listener is still registered.
func (s *Subscription) Active() bool {
	return s != nil && s.handle != nil && s.handle.Active()
}

type subscriber struct {
	listener Listener
	sub      *Subscription
}

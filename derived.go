package worldview

import (
	"sync"

	"github.com/goliatone/go-worldview/internal/listeners"
	"github.com/goliatone/go-worldview/tree"
)

// Derived is a read-only view holding a pure transform of a source. It
// recomputes in the source's pre-commit phase, fires its own pre-commit
// listeners straight away and its post-commit listeners once per commit,
// after every post-commit listener of the World has run.
type Derived struct {
	world    *World
	fn       func(any) any
	upstream *Subscription

	mu    sync.Mutex
	value any
	// seq is the commit that last scheduled a post-commit flush; prev is the
	// value published before that commit's first recomputation.
	seq  uint64
	prev any

	pre  listeners.List[*subscriber]
	post listeners.List[*subscriber]
}

var _ Source = (*Derived)(nil)

func newDerived(src Source, fn func(any) any) *Derived {
	d := &Derived{world: src.World(), fn: fn}
	d.mu.Lock()
	d.value = fn(src.Get())
	d.mu.Unlock()
	d.upstream = src.ListenPre(d.recompute)
	return d
}

func (d *Derived) recompute(upstream, _ any, _ *Subscription) {
	next := d.fn(upstream)

	d.mu.Lock()
	prev := d.value
	if tree.Same(next, prev) {
		d.mu.Unlock()
		return
	}
	seq := d.world.Seq()
	first := d.seq != seq
	if first {
		d.seq = seq
		d.prev = prev
	}
	d.mu.Unlock()

	notify(d.world, &d.pre, PhasePre, next, prev)

	d.mu.Lock()
	d.value = next
	d.mu.Unlock()

	if first {
		d.world.AfterCommit(d.flush)
	}
}

func (d *Derived) flush(any) {
	d.mu.Lock()
	current, prev := d.value, d.prev
	d.prev = nil
	d.mu.Unlock()
	if tree.Same(current, prev) {
		return
	}
	notify(d.world, &d.post, PhasePost, current, prev)
}

// World returns the World the source belongs to.
func (d *Derived) World() *World {
	return d.world
}

// Get returns the published value. It is available as soon as the view is
// constructed.
func (d *Derived) Get() any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.value
}

// Listen registers fn to run once per commit that changes the value.
func (d *Derived) Listen(fn Listener) *Subscription {
	if fn == nil {
		panic(usage("Derived.Listen", "Listen(fn)"))
	}
	return subscribe(&d.post, PhasePost, fn)
}

// ListenPre registers fn to run as soon as the value is recomputed, before
// the commit is published.
func (d *Derived) ListenPre(fn Listener) *Subscription {
	if fn == nil {
		panic(usage("Derived.ListenPre", "ListenPre(fn)"))
	}
	return subscribe(&d.pre, PhasePre, fn)
}

// Derive chains another transform off this one.
func (d *Derived) Derive(fn func(any) any) *Derived {
	if fn == nil {
		panic(usage("Derived.Derive", "Derive(func(value any) any)"))
	}
	return newDerived(d, fn)
}

// DeriveExpr chains an expression off this view.
func (d *Derived) DeriveExpr(expr string) (*Derived, error) {
	return deriveExpr(d, "derived", expr)
}

// Close detaches the view from its source. The last value stays readable.
func (d *Derived) Close() {
	d.upstream.Unsubscribe()
}

func subscribe(list *listeners.List[*subscriber], phase Phase, fn Listener) *Subscription {
	var sub *Subscription
	list.AddWith(func(e *listeners.Entry[*subscriber]) *subscriber {
		sub = newSubscription(phase, nil, e)
		return &subscriber{listener: fn, sub: sub}
	})
	return sub
}

func notify(w *World, list *listeners.List[*subscriber], phase Phase, current, previous any) {
	list.Each(func(e *listeners.Entry[*subscriber]) {
		s := e.Value()
		w.guard(phase, nil, s.sub.id, func() { s.listener(current, previous, s.sub) })
	})
}

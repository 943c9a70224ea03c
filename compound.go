package worldview

import (
	"fmt"
	"sort"
	"sync"

	"github.com/goliatone/go-worldview/internal/listeners"
	"github.com/goliatone/go-worldview/tree"
)

// Compound joins named sources into one mapping. However many of its sources
// change within one commit, its listeners fire once, with every field
// already updated.
type Compound struct {
	world    *World
	keys     []string
	initial  bool
	upstream []*Subscription

	mu  sync.Mutex
	agg map[string]any
	// seq is the commit that last scheduled notifications; prev is the
	// aggregate as it was before that commit's first change.
	seq  uint64
	prev map[string]any

	pre  listeners.List[*subscriber]
	post listeners.List[*subscriber]
}

var _ Source = (*Compound)(nil)

// CompoundOption configures a Compound.
type CompoundOption func(*Compound)

// WithInitialDelivery makes Listen invoke the new listener immediately with
// the current aggregate and a nil previous value. By default listeners only
// hear about the next change.
func WithInitialDelivery(enabled bool) CompoundOption {
	return func(c *Compound) {
		c.initial = enabled
	}
}

// Compound joins sources into one view. Each entry is a Source, a Path, or a
// dotted path string, which is read through a read-only view of this World.
func (w *World) Compound(sources map[string]any, opts ...CompoundOption) (*Compound, error) {
	resolved := make(map[string]Source, len(sources))
	for key, entry := range sources {
		switch src := entry.(type) {
		case Source:
			resolved[key] = src
		case Path:
			resolved[key] = w.At(src)
		case []string:
			resolved[key] = w.At(Path(src))
		case string:
			resolved[key] = w.At(ParsePath(src))
		default:
			return nil, fmt.Errorf("%w: key %q has type %T", ErrInvalidSource, key, entry)
		}
	}
	return NewCompound(w, resolved, opts...)
}

// NewCompound joins sources belonging to w.
func NewCompound(w *World, sources map[string]Source, opts ...CompoundOption) (*Compound, error) {
	if len(sources) == 0 {
		return nil, ErrEmptyCompound
	}
	c := &Compound{
		world: w,
		keys:  make([]string, 0, len(sources)),
		agg:   make(map[string]any, len(sources)),
	}
	for key, src := range sources {
		if src == nil {
			return nil, fmt.Errorf("%w: key %q is nil", ErrInvalidSource, key)
		}
		if src.World() != w {
			return nil, fmt.Errorf("%w: key %q belongs to another world", ErrInvalidSource, key)
		}
		c.keys = append(c.keys, key)
	}
	sort.Strings(c.keys)
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	c.mu.Lock()
	for _, key := range c.keys {
		c.agg[key] = sources[key].Get()
	}
	c.mu.Unlock()
	for _, key := range c.keys {
		c.upstream = append(c.upstream, sources[key].ListenPre(c.changed(key)))
	}
	return c, nil
}

func (c *Compound) changed(key string) Listener {
	return func(value, _ any, _ *Subscription) {
		c.mu.Lock()
		if tree.Same(c.agg[key], value) {
			c.mu.Unlock()
			return
		}
		seq := c.world.Seq()
		first := c.seq != seq
		if first {
			c.seq = seq
			c.prev = c.agg
		}
		next := make(map[string]any, len(c.agg))
		for k, v := range c.agg {
			next[k] = v
		}
		next[key] = value
		c.agg = next
		hasPre := c.pre.Len() > 0
		c.mu.Unlock()

		if !first {
			return
		}
		if hasPre {
			c.world.BeforeCommit(c.flushPre)
		}
		c.world.AfterCommit(c.flushPost)
	}
}

func (c *Compound) flushPre(any) {
	c.mu.Lock()
	current, prev := c.agg, c.prev
	c.mu.Unlock()
	notify(c.world, &c.pre, PhasePre, current, prev)
}

func (c *Compound) flushPost(any) {
	c.mu.Lock()
	current, prev := c.agg, c.prev
	c.prev = nil
	c.mu.Unlock()
	notify(c.world, &c.post, PhasePost, current, prev)
}

// World returns the World the sources belong to.
func (c *Compound) World() *World {
	return c.world
}

// Get returns the aggregate mapping. It is replaced, never modified, on
// change.
func (c *Compound) Get() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agg
}

// Keys returns the joined keys in sorted order.
func (c *Compound) Keys() []string {
	return append([]string(nil), c.keys...)
}

// Listen registers fn to run once per commit in which any source changed.
func (c *Compound) Listen(fn Listener) *Subscription {
	if fn == nil {
		panic(usage("Compound.Listen", "Listen(fn)"))
	}
	sub := subscribe(&c.post, PhasePost, fn)
	if c.initial {
		c.world.guard(PhasePost, nil, sub.id, func() { fn(c.Get(), nil, sub) })
	}
	return sub
}

// ListenPre registers fn to run before the commit is published, once all of
// this commit's source changes have been folded into the aggregate.
func (c *Compound) ListenPre(fn Listener) *Subscription {
	if fn == nil {
		panic(usage("Compound.ListenPre", "ListenPre(fn)"))
	}
	return subscribe(&c.pre, PhasePre, fn)
}

// Derive returns a view holding fn applied to the aggregate.
func (c *Compound) Derive(fn func(any) any) *Derived {
	if fn == nil {
		panic(usage("Compound.Derive", "Derive(func(value any) any)"))
	}
	return newDerived(c, fn)
}

// DeriveExpr derives a view from an expression over the aggregate; the
// joined keys are bound as variables.
func (c *Compound) DeriveExpr(expr string) (*Derived, error) {
	return deriveExpr(c, "compound", expr)
}

// Close detaches the compound from its sources.
func (c *Compound) Close() {
	for _, sub := range c.upstream {
		sub.Unsubscribe()
	}
}

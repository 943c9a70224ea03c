package worldview

import (
	"slices"

	"github.com/goliatone/go-worldview/tree"
)

// Source is anything that can be read, observed and derived from. Views,
// derived views and compound views all implement it.
type Source interface {
	Get() any
	Listen(fn Listener) *Subscription
	ListenPre(fn Listener) *Subscription
	World() *World
}

// View is a read-only handle on a path. It holds no state of its own; every
// read goes to the World's committed state.
type View struct {
	world *World
	path  Path
}

// WritableView is a View that can also queue mutations at its path.
type WritableView struct {
	View
}

var (
	_ Source = (*View)(nil)
	_ Source = (*WritableView)(nil)
)

// World returns the World the view reads from.
func (v *View) World() *World {
	return v.world
}

// Path returns the view's location.
func (v *View) Path() Path {
	return slices.Clone(v.path)
}

// Get returns the committed value at the view's path, or nil when any part
// of the path does not exist.
func (v *View) Get() any {
	return tree.Get(v.world.State(), v.path)
}

// GetIn reads sub relative to the view's path.
func (v *View) GetIn(sub Path) any {
	return tree.Get(v.world.State(), v.path.Concat(sub))
}

// At returns a read-only view at sub relative to this one. Views compose by
// path concatenation, so v.At(a).At(b) and v.At(a.Concat(b)) are the same
// location.
func (v *View) At(sub Path) *View {
	return &View{world: v.world, path: v.path.Concat(sub)}
}

// Listen registers fn for the post-commit phase at the view's path.
func (v *View) Listen(fn Listener) *Subscription {
	if fn == nil {
		panic(usage("Listen", "Listen(fn)", "ListenIn(sub, fn)"))
	}
	return v.world.listen(PhasePost, v.path, fn)
}

// ListenIn registers fn for the post-commit phase at sub relative to the
// view's path.
func (v *View) ListenIn(sub Path, fn Listener) *Subscription {
	if fn == nil {
		panic(usage("ListenIn", "Listen(fn)", "ListenIn(sub, fn)"))
	}
	return v.world.listen(PhasePost, v.path.Concat(sub), fn)
}

// ListenPre registers fn for the pre-commit phase: it sees the candidate
// state before it is published.
func (v *View) ListenPre(fn Listener) *Subscription {
	if fn == nil {
		panic(usage("ListenPre", "ListenPre(fn)", "ListenPreIn(sub, fn)"))
	}
	return v.world.listen(PhasePre, v.path, fn)
}

// ListenPreIn is ListenPre at sub relative to the view's path.
func (v *View) ListenPreIn(sub Path, fn Listener) *Subscription {
	if fn == nil {
		panic(usage("ListenPreIn", "ListenPre(fn)", "ListenPreIn(sub, fn)"))
	}
	return v.world.listen(PhasePre, v.path.Concat(sub), fn)
}

// Derive returns a read-only view holding fn applied to this view's value.
func (v *View) Derive(fn func(any) any) *Derived {
	if fn == nil {
		panic(usage("Derive", "Derive(func(value any) any)"))
	}
	return newDerived(v, fn)
}

// DeriveExpr derives a view from an expression compiled with the World's
// evaluator.
func (v *View) DeriveExpr(expr string) (*Derived, error) {
	return deriveExpr(v, v.label(), expr)
}

func (v *View) label() string {
	if len(v.path) == 0 {
		return "root"
	}
	return v.path.String()
}

// WritableAt returns a writable view at sub relative to this one.
func (v *WritableView) WritableAt(sub Path) *WritableView {
	return &WritableView{View: View{world: v.world, path: v.path.Concat(sub)}}
}

// Set queues a write of value at the view's path. Values are stored by
// reference and must not be modified after being written.
func (v *WritableView) Set(value any) {
	v.write(v.path, func(any) any { return value })
}

// SetIn queues a write of value at sub relative to the view's path.
func (v *WritableView) SetIn(sub Path, value any) {
	v.write(v.path.Concat(sub), func(any) any { return value })
}

// Compute queues a write of fn's result. fn runs while the commit folds and
// never sees the previous value.
func (v *WritableView) Compute(fn func() any) {
	if fn == nil {
		panic(usage("Compute", "Compute(func() any)", "ComputeIn(sub, func() any)"))
	}
	v.write(v.path, func(any) any { return fn() })
}

// ComputeIn is Compute at sub relative to the view's path.
func (v *WritableView) ComputeIn(sub Path, fn func() any) {
	if fn == nil {
		panic(usage("ComputeIn", "Compute(func() any)", "ComputeIn(sub, func() any)"))
	}
	v.write(v.path.Concat(sub), func(any) any { return fn() })
}

// Update queues a read-modify-write. fn receives the value at the view's
// path as folded so far in the pending batch, not as committed when Update
// was called, so several Updates queued before one commit compose. Returning
// the same value leaves the state untouched.
func (v *WritableView) Update(fn func(prev any) any) {
	if fn == nil {
		panic(usage("Update", "Update(func(prev any) any)", "UpdateIn(sub, func(prev any) any)"))
	}
	v.write(v.path, fn)
}

// UpdateIn is Update at sub relative to the view's path.
func (v *WritableView) UpdateIn(sub Path, fn func(prev any) any) {
	if fn == nil {
		panic(usage("UpdateIn", "Update(func(prev any) any)", "UpdateIn(sub, func(prev any) any)"))
	}
	v.write(v.path.Concat(sub), fn)
}

// Clear queues deletion of the value at the view's path.
func (v *WritableView) Clear() {
	v.write(v.path, func(any) any { return nil })
}

// ClearIn queues deletion at sub relative to the view's path.
func (v *WritableView) ClearIn(sub Path) {
	v.write(v.path.Concat(sub), func(any) any { return nil })
}

// Merge queues a deep merge of patch into the mapping at the view's path. Nil
// patch values delete keys; subtrees the patch leaves untouched are shared.
func (v *WritableView) Merge(patch map[string]any) {
	v.write(v.path, func(prev any) any { return tree.Merge(prev, patch) })
}

func (v *WritableView) write(path Path, fn func(prev any) any) {
	v.world.enqueue(mutation{
		path: path,
		apply: func(state any) any {
			prev := tree.Get(state, path)
			next := fn(prev)
			if tree.Same(next, prev) {
				return state
			}
			return tree.Set(state, path, next)
		},
	})
}

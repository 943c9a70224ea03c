// Package worldview is an in-memory, path-addressable reactive state
// container. The state is one immutable tree of maps, slices and scalars. It
// only changes through mutations queued on a World, which folds every
// mutation queued before its scheduler fires into a single commit and then
// notifies subscribers in two phases: pre-commit listeners see the candidate
// before it is published, post-commit listeners see it after.
//
// Views address the state by path. Derived views apply a pure transform to a
// source and compound views join several sources into one mapping; both
// recompute during the pre-commit phase so that every post-commit listener
// observes settled values.
package worldview

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-worldview/internal/listeners"
	"github.com/goliatone/go-worldview/pkg/activity"
	"github.com/goliatone/go-worldview/tree"
)

// Status is the commit engine state.
type Status int

const (
	StatusIdle Status = iota
	StatusScheduled
	StatusCommitting
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusScheduled:
		return "scheduled"
	case StatusCommitting:
		return "committing"
	default:
		return "unknown"
	}
}

// World owns the current state, the queue of pending mutations and the
// listener tries for both dispatch phases.
type World struct {
	cfg      worldConfig
	observer CommitObserver

	mu         sync.Mutex
	state      any
	pending    []mutation
	scheduled  bool
	committing bool
	before     []func(any)
	after      []func(any)

	// commitMu serialises commits when the scheduler fires on more than one
	// goroutine.
	commitMu sync.Mutex
	seq      atomic.Uint64
	run      atomic.Pointer[commitRun]

	pre   listeners.Trie[*subscriber]
	post  listeners.Trie[*subscriber]
	hooks listeners.List[*subscriber]

	evalOnce  sync.Once
	evaluator Evaluator
}

type mutation struct {
	path  Path
	apply func(state any) any
	done  chan struct{}
}

type commitRun struct {
	id             string
	seq            uint64
	started        time.Time
	mutations      int
	noop           bool
	prev, next     any
	listenerPanics atomic.Int32
	mutationFails  atomic.Int32
}

// New constructs an isolated World.
func New(opts ...Option) *World {
	cfg := applyOptions(opts)
	return &World{
		cfg:      cfg,
		observer: cfg.observer(),
		state:    cfg.initial,
	}
}

var (
	defaultOnce  sync.Once
	defaultWorld *World
)

// Default returns a process-wide World built on first use with default
// options. Nothing in this package depends on it.
func Default() *World {
	defaultOnce.Do(func() {
		defaultWorld = New()
	})
	return defaultWorld
}

// Root returns a writable view of the whole state.
func (w *World) Root() *WritableView {
	return &WritableView{View: View{world: w, path: Path{}}}
}

// At returns a read-only view at path.
func (w *World) At(path Path) *View {
	return &View{world: w, path: slices.Clone(path)}
}

// WritableAt returns a writable view at path.
func (w *World) WritableAt(path Path) *WritableView {
	return &WritableView{View: View{world: w, path: slices.Clone(path)}}
}

// State returns the committed state.
func (w *World) State() any {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Status reports whether a commit is running or waiting for the scheduler.
func (w *World) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch {
	case w.committing:
		return StatusCommitting
	case w.scheduled:
		return StatusScheduled
	default:
		return StatusIdle
	}
}

// Seq is the number of commits that changed the state so far.
func (w *World) Seq() uint64 {
	return w.seq.Load()
}

// BeforeCommit queues fn to run once, with the candidate state, after the
// pre-commit dispatch of the next commit that changes the state. Queued from
// a pre-commit listener it runs in the current commit.
func (w *World) BeforeCommit(fn func(candidate any)) {
	if fn == nil {
		panic(usage("BeforeCommit", "BeforeCommit(func(candidate any))"))
	}
	w.mu.Lock()
	w.before = append(w.before, fn)
	w.mu.Unlock()
}

// AfterCommit queues fn to run once, with the committed state, after the
// post-commit dispatch of the next commit that changes the state. Queued from
// any listener it runs in the current commit.
func (w *World) AfterCommit(fn func(state any)) {
	if fn == nil {
		panic(usage("AfterCommit", "AfterCommit(func(state any))"))
	}
	w.mu.Lock()
	w.after = append(w.after, fn)
	w.mu.Unlock()
}

// OnCommit registers fn to run at the end of every commit that changes the
// state, with the new and previous root. With sendInitial it is also invoked
// immediately with the current state and a nil previous value.
func (w *World) OnCommit(fn Listener, sendInitial bool) *Subscription {
	if fn == nil {
		panic(usage("OnCommit", "OnCommit(fn Listener, sendInitial bool)"))
	}
	var sub *Subscription
	w.hooks.AddWith(func(e *listeners.Entry[*subscriber]) *subscriber {
		sub = newSubscription(PhaseAfter, Path{}, e)
		return &subscriber{listener: fn, sub: sub}
	})
	if sendInitial {
		w.guard(PhaseAfter, Path{}, sub.id, func() { fn(w.State(), nil, sub) })
	}
	return sub
}

// Sync blocks until every mutation queued before the call has been folded
// and its commit has finished, or ctx is done. It must not be called from a
// listener, which runs inside the commit it would wait for.
func (w *World) Sync(ctx context.Context) error {
	done := make(chan struct{})
	w.enqueue(mutation{done: done})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *World) enqueue(m mutation) {
	w.mu.Lock()
	w.pending = append(w.pending, m)
	schedule := !w.scheduled
	w.scheduled = true
	w.mu.Unlock()
	if schedule {
		w.cfg.scheduler.Schedule(w.commit)
	}
}

func (w *World) listen(phase Phase, path Path, fn Listener) *Subscription {
	trie := &w.post
	if phase == PhasePre {
		trie = &w.pre
	}
	var sub *Subscription
	trie.InsertWith(path, func(e *listeners.Entry[*subscriber]) *subscriber {
		sub = newSubscription(phase, path, e)
		return &subscriber{listener: fn, sub: sub}
	})
	return sub
}

// commit runs one transaction. Mutations queued while it runs start a fresh
// batch and a fresh scheduler request.
func (w *World) commit() {
	w.commitMu.Lock()
	defer w.commitMu.Unlock()

	w.mu.Lock()
	batch := w.pending
	w.pending = nil
	w.scheduled = false
	w.committing = true
	prev := w.state
	w.mu.Unlock()

	run := &commitRun{id: uuid.NewString(), started: time.Now(), prev: prev}
	w.run.Store(run)
	defer w.finish(run, batch)

	next := prev
	for i, m := range batch {
		if m.apply == nil {
			continue
		}
		run.mutations++
		next = w.fold(run, i, m, next)
	}
	if next == nil {
		next = map[string]any{}
	}
	if tree.Same(next, prev) {
		run.noop = true
		return
	}
	run.next = next
	run.seq = w.seq.Add(1)

	w.pre.Dispatch(prev, next, w.visit(PhasePre))
	w.drain(&w.before, next, PhaseBefore)

	w.mu.Lock()
	w.state = next
	w.mu.Unlock()

	w.post.Dispatch(prev, next, w.visit(PhasePost))
	w.drain(&w.after, next, PhaseAfter)
	w.hooks.Each(func(e *listeners.Entry[*subscriber]) {
		s := e.Value()
		w.guard(PhaseAfter, Path{}, s.sub.id, func() { s.listener(next, prev, s.sub) })
	})
}

func (w *World) fold(run *commitRun, index int, m mutation, state any) (out any) {
	defer func() {
		if r := recover(); r != nil {
			run.mutationFails.Add(1)
			w.reportError(&MutationError{Path: m.path, Index: index, Value: r})
			out = state
		}
	}()
	return m.apply(state)
}

func (w *World) visit(phase Phase) listeners.Visit[*subscriber] {
	return func(path tree.Path, entry *listeners.Entry[*subscriber], current, previous any) {
		s := entry.Value()
		w.guard(phase, path, s.sub.id, func() { s.listener(current, previous, s.sub) })
	}
}

// drain runs queued one-shot callbacks until none are left, including those
// queued by the callbacks themselves.
func (w *World) drain(queue *[]func(any), state any, phase Phase) {
	for {
		w.mu.Lock()
		fns := *queue
		*queue = nil
		w.mu.Unlock()
		if len(fns) == 0 {
			return
		}
		for _, fn := range fns {
			w.guard(phase, nil, "", func() { fn(state) })
		}
	}
}

// guard invokes fn and converts a panic into a reported ListenerError.
func (w *World) guard(phase Phase, path Path, id string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			if run := w.run.Load(); run != nil {
				run.listenerPanics.Add(1)
			}
			w.reportError(&ListenerError{Phase: phase, Path: slices.Clone(path), ID: id, Value: r})
		}
	}()
	fn()
}

func (w *World) reportError(err error) {
	if err == nil || w.cfg.errorHandler == nil {
		return
	}
	w.cfg.errorHandler(err)
}

func (w *World) finish(run *commitRun, batch []mutation) {
	w.run.Store(nil)
	w.mu.Lock()
	w.committing = false
	w.mu.Unlock()

	report := CommitReport{
		ID:               run.id,
		Seq:              run.seq,
		Mutations:        run.mutations,
		NoOp:             run.noop,
		ListenerPanics:   int(run.listenerPanics.Load()),
		MutationFailures: int(run.mutationFails.Load()),
		StartedAt:        run.started,
	}
	if !run.noop && run.next != nil {
		report.Changed = tree.ChangedPaths(run.prev, run.next, 1)
		w.emitActivity(report)
	}
	report.Duration = time.Since(run.started)
	w.observer.ObserveCommit(report)

	for _, m := range batch {
		if m.done != nil {
			close(m.done)
		}
	}
}

func (w *World) emitActivity(report CommitReport) {
	if !w.cfg.activity.Enabled() {
		return
	}
	changed := make([]string, len(report.Changed))
	for i, path := range report.Changed {
		changed[i] = path.String()
	}
	err := w.cfg.activity.EmitCommit(w.cfg.ctx, activity.CommitEventInput{
		CommitID:   report.ID,
		Seq:        report.Seq,
		Mutations:  report.Mutations,
		Changed:    changed,
		OccurredAt: report.StartedAt,
	})
	if err != nil {
		w.reportError(err)
	}
}

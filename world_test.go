package worldview

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-worldview/pkg/activity"
	"github.com/goliatone/go-worldview/scheduler"
	"github.com/goliatone/go-worldview/tree"
)

func newManualWorld(t *testing.T, opts ...Option) (*World, *scheduler.Manual) {
	t.Helper()
	manual := scheduler.NewManual()
	return New(append([]Option{WithScheduler(manual)}, opts...)...), manual
}

type errorSink struct {
	mu   sync.Mutex
	errs []error
}

func (s *errorSink) handle(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *errorSink) all() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errs...)
}

func TestNewStartsWithEmptyMapping(t *testing.T) {
	w, _ := newManualWorld(t)
	state, ok := w.State().(map[string]any)
	if !ok || len(state) != 0 {
		t.Fatalf("expected empty mapping, got %#v", w.State())
	}
	if w.Status() != StatusIdle {
		t.Fatalf("expected idle, got %s", w.Status())
	}
}

func TestSetOfCurrentValueIsNoOp(t *testing.T) {
	var reports []CommitReport
	w, manual := newManualWorld(t, WithCommitObserver(CommitObserverFunc(func(r CommitReport) {
		reports = append(reports, r)
	})))
	root := w.Root()
	root.SetIn(ParsePath("a"), 1)
	manual.Flush()

	calls := 0
	root.Listen(func(_, _ any, _ *Subscription) { calls++ })
	root.ListenIn(ParsePath("a"), func(_, _ any, _ *Subscription) { calls++ })
	root.ListenPre(func(_, _ any, _ *Subscription) { calls++ })

	root.SetIn(ParsePath("a"), 1)
	manual.Flush()

	if calls != 0 {
		t.Fatalf("expected no listener for a no-op write, got %d", calls)
	}
	if w.Seq() != 1 {
		t.Fatalf("expected seq to stay at 1, got %d", w.Seq())
	}
	if len(reports) != 2 || !reports[1].NoOp {
		t.Fatalf("expected second report to be a noop, got %+v", reports)
	}
}

func TestWritesBeforeCommitAreBatched(t *testing.T) {
	w, manual := newManualWorld(t)
	root := w.Root()

	var seen []any
	root.Listen(func(current, _ any, _ *Subscription) {
		seen = append(seen, current)
	})

	root.SetIn(ParsePath("a"), "x")
	root.SetIn(ParsePath("b"), "y")
	if manual.Len() != 1 {
		t.Fatalf("expected a single scheduled commit, got %d", manual.Len())
	}
	if w.Status() != StatusScheduled {
		t.Fatalf("expected scheduled status, got %s", w.Status())
	}
	manual.Flush()

	want := []any{map[string]any{"a": "x", "b": "y"}}
	if !reflect.DeepEqual(seen, want) {
		t.Fatalf("want %v got %v", want, seen)
	}
	if w.Status() != StatusIdle {
		t.Fatalf("expected idle after commit, got %s", w.Status())
	}
}

func TestUpdateReadsValueAtFoldTime(t *testing.T) {
	w, manual := newManualWorld(t)
	num := w.Root().WritableAt(Keys("num"))

	num.Set(0)
	for i := 0; i < 3; i++ {
		num.Update(func(prev any) any { return prev.(int) + 1 })
	}
	manual.Flush()

	if got := num.Get(); got != 3 {
		t.Fatalf("expected 3, got %v", got)
	}

	num.Update(func(prev any) any { return prev.(int) + 1 })
	num.Compute(func() any { return 10 })
	manual.Flush()
	if got := num.Get(); got != 10 {
		t.Fatalf("expected compute to replace the value, got %v", got)
	}
}

func TestUpdateReturningSameValueIsNoOp(t *testing.T) {
	w, manual := newManualWorld(t, WithInitialState(map[string]any{"items": map[string]any{"a": 1}}))
	root := w.Root()
	fired := false
	root.Listen(func(_, _ any, _ *Subscription) { fired = true })

	root.UpdateIn(ParsePath("items"), func(prev any) any { return prev })
	manual.Flush()

	if fired {
		t.Fatalf("expected identity update to be a no-op")
	}
}

func TestUnrelatedSubtreesAreShared(t *testing.T) {
	w, manual := newManualWorld(t, WithInitialState(map[string]any{
		"x":     map[string]any{"y": 1},
		"other": map[string]any{"k": 1},
	}))
	before := w.State()

	w.Root().SetIn(ParsePath("x.y"), 2)
	manual.Flush()
	after := w.State()

	if tree.Same(before, after) {
		t.Fatalf("expected a new root")
	}
	if !tree.Same(tree.Get(before, ParsePath("other")), tree.Get(after, ParsePath("other"))) {
		t.Fatalf("expected untouched sibling to be shared")
	}
	if tree.Get(before, ParsePath("x.y")) != 1 {
		t.Fatalf("previous state was modified")
	}
}

func TestCommitPhaseOrdering(t *testing.T) {
	w, manual := newManualWorld(t, WithInitialState(map[string]any{"n": 1}))
	root := w.Root()
	var order []string

	root.ListenPre(func(current, previous any, _ *Subscription) {
		order = append(order, "pre")
		if !tree.Same(w.State(), previous) {
			t.Errorf("pre listener saw a published state")
		}
		w.BeforeCommit(func(candidate any) {
			order = append(order, "before")
			if !tree.Same(candidate, current) {
				t.Errorf("before callback did not receive the candidate")
			}
			if tree.Same(w.State(), candidate) {
				t.Errorf("before callback ran after publication")
			}
		})
		w.AfterCommit(func(state any) {
			order = append(order, "after")
			if !tree.Same(state, w.State()) {
				t.Errorf("after callback did not receive the committed state")
			}
		})
	})
	root.Listen(func(current, _ any, _ *Subscription) {
		order = append(order, "post")
		if !tree.Same(w.State(), current) {
			t.Errorf("post listener ran before publication")
		}
	})
	w.OnCommit(func(_, _ any, _ *Subscription) {
		order = append(order, "hook")
	}, false)

	root.SetIn(ParsePath("n"), 2)
	manual.Flush()

	want := []string{"pre", "before", "post", "after", "hook"}
	if !reflect.DeepEqual(order, want) {
		t.Fatalf("want %v got %v", want, order)
	}
}

func TestReentrantWritesWaitForNextCommit(t *testing.T) {
	w, manual := newManualWorld(t)
	root := w.Root()
	counter := root.WritableAt(Keys("counter"))

	var seen []any
	counter.Listen(func(current, _ any, sub *Subscription) {
		seen = append(seen, current)
		if current.(int) < 3 {
			counter.Update(func(prev any) any { return prev.(int) + 1 })
		}
	})

	counter.Set(1)
	if ran := manual.RunPending(); ran != 1 {
		t.Fatalf("expected one commit, got %d", ran)
	}
	if got := counter.Get(); got != 1 {
		t.Fatalf("re-entrant write leaked into the running commit: %v", got)
	}
	if manual.Len() != 1 {
		t.Fatalf("expected the re-entrant write to schedule a new commit")
	}
	manual.Flush()

	if !reflect.DeepEqual(seen, []any{1, 2, 3}) {
		t.Fatalf("unexpected sequence %v", seen)
	}
}

func TestAfterCommitSkipsNoOpCommits(t *testing.T) {
	w, manual := newManualWorld(t)
	ran := 0
	w.AfterCommit(func(any) { ran++ })

	w.Root().Update(func(prev any) any { return prev })
	manual.Flush()
	if ran != 0 {
		t.Fatalf("after callback ran on a no-op commit")
	}

	w.Root().SetIn(ParsePath("k"), true)
	manual.Flush()
	if ran != 1 {
		t.Fatalf("expected after callback on the next real commit, got %d", ran)
	}
}

func TestPanickingListenerDoesNotStopSiblingsOrCommit(t *testing.T) {
	sink := &errorSink{}
	w, manual := newManualWorld(t, WithErrorHandler(sink.handle))
	view := w.Root().WritableAt(Keys("p"))

	var order []string
	view.Listen(func(_, _ any, _ *Subscription) { order = append(order, "one") })
	view.Listen(func(_, _ any, _ *Subscription) { panic("boom") })
	view.Listen(func(_, _ any, _ *Subscription) { order = append(order, "three") })

	view.Set(1)
	manual.Flush()

	if !reflect.DeepEqual(order, []string{"one", "three"}) {
		t.Fatalf("expected siblings to fire, got %v", order)
	}
	if view.Get() != 1 {
		t.Fatalf("expected commit to publish, got %v", view.Get())
	}
	if w.Status() != StatusIdle {
		t.Fatalf("expected idle after a panicking listener, got %s", w.Status())
	}
	errs := sink.all()
	var listenerErr *ListenerError
	if len(errs) != 1 || !errors.As(errs[0], &listenerErr) {
		t.Fatalf("expected one ListenerError, got %v", errs)
	}
	if listenerErr.Phase != PhasePost || listenerErr.Path.String() != "p" {
		t.Fatalf("unexpected listener error metadata: %+v", listenerErr)
	}

	view.Set(2)
	manual.Flush()
	if view.Get() != 2 {
		t.Fatalf("expected later commits to keep working")
	}
}

func TestPanickingMutationIsSkipped(t *testing.T) {
	sink := &errorSink{}
	var report CommitReport
	w, manual := newManualWorld(t,
		WithErrorHandler(sink.handle),
		WithCommitObserver(CommitObserverFunc(func(r CommitReport) { report = r })),
	)
	root := w.Root()

	root.SetIn(ParsePath("a"), 1)
	root.UpdateIn(ParsePath("b"), func(any) any { panic(errors.New("bad update")) })
	root.SetIn(ParsePath("c"), 3)
	manual.Flush()

	want := map[string]any{"a": 1, "c": 3}
	if !reflect.DeepEqual(w.State(), want) {
		t.Fatalf("want %v got %v", want, w.State())
	}
	var mutErr *MutationError
	errs := sink.all()
	if len(errs) != 1 || !errors.As(errs[0], &mutErr) {
		t.Fatalf("expected one MutationError, got %v", errs)
	}
	if mutErr.Index != 1 || mutErr.Path.String() != "b" {
		t.Fatalf("unexpected mutation error metadata: %+v", mutErr)
	}
	if report.MutationFailures != 1 || report.Mutations != 3 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestStatusDuringCommit(t *testing.T) {
	w, manual := newManualWorld(t)
	var during Status
	w.Root().Listen(func(_, _ any, _ *Subscription) { during = w.Status() })

	w.Root().SetIn(ParsePath("a"), 1)
	manual.Flush()

	if during != StatusCommitting {
		t.Fatalf("expected committing inside a listener, got %s", during)
	}
}

func TestOnCommitSendInitial(t *testing.T) {
	w, manual := newManualWorld(t, WithInitialState(map[string]any{"v": 1}))
	var calls [][2]any
	sub := w.OnCommit(func(current, previous any, _ *Subscription) {
		calls = append(calls, [2]any{current, previous})
	}, true)

	if len(calls) != 1 || calls[0][1] != nil {
		t.Fatalf("expected immediate delivery with nil previous, got %v", calls)
	}
	w.Root().SetIn(ParsePath("v"), 2)
	manual.Flush()
	if len(calls) != 2 {
		t.Fatalf("expected commit delivery, got %d", len(calls))
	}

	sub.Unsubscribe()
	w.Root().SetIn(ParsePath("v"), 3)
	manual.Flush()
	if len(calls) != 2 {
		t.Fatalf("expected no delivery after unsubscribe")
	}
}

func TestSelfUnsubscribeKeepsSiblings(t *testing.T) {
	w, manual := newManualWorld(t)
	view := w.Root().WritableAt(Keys("p"))
	var order []string

	view.Listen(func(_, _ any, _ *Subscription) { order = append(order, "one") })
	view.Listen(func(_, _ any, sub *Subscription) {
		order = append(order, "once")
		sub.Unsubscribe()
		sub.Unsubscribe()
	})
	view.Listen(func(_, _ any, _ *Subscription) { order = append(order, "three") })

	view.Set(1)
	manual.Flush()
	view.Set(2)
	manual.Flush()

	want := []string{"one", "once", "three", "one", "three"}
	if !reflect.DeepEqual(order, want) {
		t.Fatalf("want %v got %v", want, order)
	}
}

func TestSyncWaitsForCommit(t *testing.T) {
	w := New()
	counter := w.Root().WritableAt(Keys("n"))
	counter.Set(0)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			counter.Update(func(prev any) any { return prev.(int) + 1 })
		}()
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.Sync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if got := counter.Get(); got != 50 {
		t.Fatalf("expected 50 increments, got %v", got)
	}
}

func TestSyncWithLoopScheduler(t *testing.T) {
	loop := scheduler.NewLoop(8)
	defer loop.Close()
	w := New(WithScheduler(loop))

	w.Root().SetIn(ParsePath("ready"), true)
	if err := w.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if w.Root().GetIn(ParsePath("ready")) != true {
		t.Fatalf("expected write to be committed")
	}
}

func TestSyncHonoursContext(t *testing.T) {
	w, _ := newManualWorld(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := w.Sync(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestCommitReportListsChangedKeys(t *testing.T) {
	var report CommitReport
	w, manual := newManualWorld(t, WithCommitObserver(CommitObserverFunc(func(r CommitReport) { report = r })))
	w.Root().Merge(map[string]any{"b": 1, "a": map[string]any{"x": 1}})
	manual.Flush()

	if report.ID == "" || report.Seq != 1 || report.NoOp {
		t.Fatalf("unexpected report %+v", report)
	}
	got := make([]string, len(report.Changed))
	for i, path := range report.Changed {
		got[i] = path.String()
	}
	if !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("expected sorted changed keys, got %v", got)
	}
}

func TestActivityEmittedPerCommit(t *testing.T) {
	capture := &activity.CaptureHook{}
	w, manual := newManualWorld(t, WithActivityHooks(activity.Hooks{nil, capture}))

	w.Root().SetIn(ParsePath("cart.total"), 12)
	manual.Flush()
	w.Root().SetIn(ParsePath("cart.total"), 12)
	manual.Flush()

	if len(capture.Events) != 1 {
		t.Fatalf("expected one event for one applied commit, got %d", len(capture.Events))
	}
	event := capture.Events[0]
	if event.Verb != activity.VerbStateCommitted || event.Channel != activity.DefaultChannel {
		t.Fatalf("unexpected event %+v", event)
	}
	if !reflect.DeepEqual(event.Metadata["changed"], []string{"cart"}) {
		t.Fatalf("expected changed metadata, got %v", event.Metadata["changed"])
	}
}

func TestActivityErrorsReachHandler(t *testing.T) {
	sink := &errorSink{}
	sinkDown := errors.New("sink down")
	capture := &activity.CaptureHook{Err: sinkDown}
	w, manual := newManualWorld(t, WithErrorHandler(sink.handle), WithActivityHooks(activity.Hooks{capture}))

	w.Root().SetIn(ParsePath("a"), 1)
	manual.Flush()

	if errs := sink.all(); len(errs) != 1 || !errors.Is(errs[0], sinkDown) {
		t.Fatalf("expected activity error to be reported, got %v", errs)
	}
}

func TestNilCallbacksPanicWithUsageError(t *testing.T) {
	w, _ := newManualWorld(t)
	cases := map[string]func(){
		"Listen":      func() { w.Root().Listen(nil) },
		"ListenIn":    func() { w.Root().ListenIn(ParsePath("a"), nil) },
		"Update":      func() { w.Root().Update(nil) },
		"Compute":     func() { w.Root().Compute(nil) },
		"Derive":      func() { w.Root().Derive(nil) },
		"AfterCommit": func() { w.AfterCommit(nil) },
	}
	for name, call := range cases {
		name, call := name, call
		t.Run(name, func(t *testing.T) {
			defer func() {
				r := recover()
				usageErr, ok := r.(*UsageError)
				if !ok {
					t.Fatalf("expected *UsageError panic, got %#v", r)
				}
				if len(usageErr.Shapes) == 0 {
					t.Fatalf("expected accepted call shapes")
				}
			}()
			call()
		})
	}
}

func TestDefaultIsSingleton(t *testing.T) {
	if Default() != Default() {
		t.Fatalf("expected Default to return the same world")
	}
	if Default() == New() {
		t.Fatalf("expected New to build an isolated world")
	}
}

func TestInitialStateIsCopied(t *testing.T) {
	seed := map[string]any{"nested": map[string]any{"k": 1}}
	w, _ := newManualWorld(t, WithInitialState(seed))
	seed["nested"].(map[string]any)["k"] = 2

	if got := w.Root().GetIn(ParsePath("nested.k")); got != 1 {
		t.Fatalf("expected seed to be detached, got %v", got)
	}
}

func TestWorldKeepsCommittingAfterSchedulerStops(t *testing.T) {
	frame := scheduler.NewFrame(time.Hour)
	w := New(WithScheduler(frame))
	w.Root().SetIn(Keys("a"), 1)
	frame.Stop()
	w.Root().SetIn(Keys("b"), 2)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.Sync(ctx); err != nil {
		t.Fatalf("sync: %v (status %s)", err, w.Status())
	}
	want := map[string]any{"a": 1, "b": 2}
	if !reflect.DeepEqual(w.State(), want) {
		t.Fatalf("want %v got %v", want, w.State())
	}

	loop := scheduler.NewLoop(4)
	_ = loop.Close()
	lw := New(WithScheduler(loop))
	lw.Root().SetIn(Keys("c"), 3)
	if err := lw.Sync(ctx); err != nil {
		t.Fatalf("sync after close: %v", err)
	}
	if lw.Root().GetIn(Keys("c")) != 3 {
		t.Fatalf("expected commit after Close, got %v", lw.State())
	}
}

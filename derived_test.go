package worldview

import (
	"errors"
	"reflect"
	"testing"
)

func double(v any) any {
	n, _ := v.(int)
	return n * 2
}

func increment(v any) any {
	n, _ := v.(int)
	return n + 1
}

func TestDerivedInitialValueIsSynchronous(t *testing.T) {
	w, _ := newManualWorld(t, WithInitialState(map[string]any{"n": 4}))
	d := w.Root().At(Keys("n")).Derive(double)
	if d.Get() != 8 {
		t.Fatalf("expected 8 before any commit, got %v", d.Get())
	}
}

func TestChainedDerivationMatchesComposition(t *testing.T) {
	w, manual := newManualWorld(t, WithInitialState(map[string]any{"n": 1}))
	n := w.Root().WritableAt(Keys("n"))
	chained := n.Derive(double).Derive(increment)

	var seen [][2]any
	chained.Listen(func(current, previous any, _ *Subscription) {
		seen = append(seen, [2]any{current, previous})
	})

	if chained.Get() != increment(double(n.Get())) {
		t.Fatalf("initial value mismatch: %v", chained.Get())
	}
	for _, value := range []int{2, 5, 7} {
		n.Set(value)
		manual.Flush()
		if chained.Get() != increment(double(value)) {
			t.Fatalf("after %d expected %v, got %v", value, increment(double(value)), chained.Get())
		}
	}
	want := [][2]any{{5, 3}, {11, 5}, {15, 11}}
	if !reflect.DeepEqual(seen, want) {
		t.Fatalf("want %v got %v", want, seen)
	}
}

func TestDerivedFiresOncePerCommit(t *testing.T) {
	w, manual := newManualWorld(t, WithInitialState(map[string]any{"a": 1, "b": 1}))
	root := w.Root()
	sum := root.Derive(func(v any) any {
		m := v.(map[string]any)
		return m["a"].(int) + m["b"].(int)
	})

	calls := 0
	sum.Listen(func(_, _ any, _ *Subscription) { calls++ })

	root.SetIn(Keys("a"), 2)
	root.SetIn(Keys("b"), 3)
	manual.Flush()

	if calls != 1 || sum.Get() != 5 {
		t.Fatalf("expected one notification with 5, got %d calls and %v", calls, sum.Get())
	}
}

func TestDerivedSkipsUnchangedResults(t *testing.T) {
	w, manual := newManualWorld(t, WithInitialState(map[string]any{"n": 2}))
	n := w.Root().WritableAt(Keys("n"))
	parity := n.Derive(func(v any) any { return v.(int) % 2 })

	calls := 0
	parity.ListenPre(func(_, _ any, _ *Subscription) { calls++ })
	parity.Listen(func(_, _ any, _ *Subscription) { calls++ })

	n.Set(4)
	manual.Flush()
	if calls != 0 {
		t.Fatalf("expected no notification when the derived value is unchanged, got %d", calls)
	}
}

func TestDerivedIsSettledBeforePostListeners(t *testing.T) {
	w, manual := newManualWorld(t, WithInitialState(map[string]any{"n": 1}))
	n := w.Root().WritableAt(Keys("n"))

	var observed any
	n.Listen(func(_, _ any, _ *Subscription) {
		observed = n.Derive(double).Get()
	})
	d := n.Derive(double)
	var fromPost any
	w.Root().Listen(func(_, _ any, _ *Subscription) { fromPost = d.Get() })

	n.Set(10)
	manual.Flush()

	if fromPost != 20 {
		t.Fatalf("post listener read a stale derived value: %v", fromPost)
	}
	if observed != 20 {
		t.Fatalf("derived view built inside a listener should read the committed value, got %v", observed)
	}
}

func TestDerivedPreListenersRunInPrePhase(t *testing.T) {
	w, manual := newManualWorld(t, WithInitialState(map[string]any{"n": 1}))
	n := w.Root().WritableAt(Keys("n"))
	d := n.Derive(double)

	var order []string
	d.ListenPre(func(current, previous any, _ *Subscription) {
		order = append(order, "derived-pre")
		if current != 4 || previous != 2 {
			t.Errorf("unexpected pre values %v %v", current, previous)
		}
		if d.Get() != 2 {
			t.Errorf("pre listener should see the old published value, got %v", d.Get())
		}
	})
	n.Listen(func(_, _ any, _ *Subscription) { order = append(order, "source-post") })
	d.Listen(func(_, _ any, _ *Subscription) { order = append(order, "derived-post") })

	n.Set(2)
	manual.Flush()

	want := []string{"derived-pre", "source-post", "derived-post"}
	if !reflect.DeepEqual(order, want) {
		t.Fatalf("want %v got %v", want, order)
	}
}

func TestDerivedPanicKeepsPreviousValue(t *testing.T) {
	sink := &errorSink{}
	w, manual := newManualWorld(t, WithErrorHandler(sink.handle), WithInitialState(map[string]any{"n": 1}))
	n := w.Root().WritableAt(Keys("n"))
	d := n.Derive(func(v any) any {
		if v.(int) < 0 {
			panic("negative")
		}
		return v
	})

	n.Set(-1)
	manual.Flush()

	if d.Get() != 1 {
		t.Fatalf("expected previous value to survive, got %v", d.Get())
	}
	if n.Get() != -1 {
		t.Fatalf("expected the commit to publish, got %v", n.Get())
	}
	var listenerErr *ListenerError
	if errs := sink.all(); len(errs) != 1 || !errors.As(errs[0], &listenerErr) || listenerErr.Phase != PhasePre {
		t.Fatalf("expected a pre-phase listener error, got %v", errs)
	}
}

func TestDerivedClose(t *testing.T) {
	w, manual := newManualWorld(t, WithInitialState(map[string]any{"n": 1}))
	n := w.Root().WritableAt(Keys("n"))
	d := n.Derive(double)
	d.Close()

	n.Set(5)
	manual.Flush()
	if d.Get() != 2 {
		t.Fatalf("closed derived view should keep its last value, got %v", d.Get())
	}
	if w.pre.Count(Keys("n")) != 0 {
		t.Fatalf("expected upstream listener to be removed")
	}
}

func TestDerivedListenerSelfUnsubscribe(t *testing.T) {
	w, manual := newManualWorld(t)
	n := w.Root().WritableAt(Keys("n"))
	d := n.Derive(double)

	var order []string
	d.Listen(func(_, _ any, sub *Subscription) {
		order = append(order, "once")
		sub.Unsubscribe()
	})
	d.Listen(func(_, _ any, _ *Subscription) { order = append(order, "always") })

	n.Set(1)
	manual.Flush()
	n.Set(2)
	manual.Flush()

	want := []string{"once", "always", "always"}
	if !reflect.DeepEqual(order, want) {
		t.Fatalf("want %v got %v", want, order)
	}
}

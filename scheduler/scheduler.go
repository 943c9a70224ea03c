// Package scheduler provides the deferred-callback capability the store needs
// to batch writes: Schedule(fn) must run fn exactly once, asynchronously,
// never before the calling code has returned.
package scheduler

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrClosed is returned when scheduling on a stopped scheduler.
var ErrClosed = errors.New("scheduler: closed")

// Scheduler defers a callback.
type Scheduler interface {
	Schedule(fn func())
}

// Option configures Loop and Frame.
type Option func(*config)

type config struct {
	onPanic func(any)
}

// WithPanicHandler receives the value of a callback that panicked. The
// default logs it through slog.Default.
func WithPanicHandler(fn func(any)) Option {
	return func(cfg *config) {
		if fn != nil {
			cfg.onPanic = fn
		}
	}
}

func applyOptions(opts []Option) config {
	cfg := config{onPanic: func(r any) {
		slog.Default().Error("scheduler: callback panicked", slog.String("panic", fmt.Sprint(r)))
	}}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

func (cfg config) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			cfg.onPanic(r)
		}
	}()
	fn()
}

// Func adapts a plain function to Scheduler.
type Func func(fn func())

// Schedule implements Scheduler.
func (f Func) Schedule(fn func()) {
	f(fn)
}

// Goroutine runs each callback on its own goroutine.
type Goroutine struct{}

// Schedule implements Scheduler.
func (Goroutine) Schedule(fn func()) {
	go fn()
}

// Loop runs callbacks one at a time, in submission order, on a single
// goroutine. It is the closest analogue of an event loop's immediate queue.
type Loop struct {
	cfg     config
	queue   chan func()
	done    chan struct{}
	mu      sync.RWMutex
	closed  bool
	pending sync.WaitGroup
}

// NewLoop starts a loop with the given queue capacity.
func NewLoop(capacity int, opts ...Option) *Loop {
	if capacity <= 0 {
		capacity = 64
	}
	l := &Loop{
		cfg:   applyOptions(opts),
		queue: make(chan func(), capacity),
		done:  make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.done)
	for fn := range l.queue {
		l.invoke(fn)
	}
}

func (l *Loop) invoke(fn func()) {
	defer l.pending.Done()
	l.cfg.run(fn)
}

// Schedule implements Scheduler. After Close each callback runs on its own
// goroutine. Scheduling from inside a running callback never blocks the loop
// itself: a full queue hands the callback to a helper goroutine that waits
// for room.
func (l *Loop) Schedule(fn func()) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		go l.cfg.run(fn)
		return
	}
	l.pending.Add(1)
	select {
	case l.queue <- fn:
	default:
		go func() {
			l.mu.RLock()
			defer l.mu.RUnlock()
			if l.closed {
				l.invoke(fn)
				return
			}
			l.queue <- fn
		}()
	}
}

// Close waits for queued callbacks to finish and stops the loop.
func (l *Loop) Close() error {
	l.pending.Wait()
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()
	<-l.done
	return nil
}

// Frame collects callbacks and runs every one of them on the next tick, the
// way a display loop batches work per animation frame.
type Frame struct {
	cfg     config
	mu      sync.Mutex
	batch   []func()
	closed  bool
	ticker  *time.Ticker
	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// DefaultFrameInterval is roughly one frame at 60 FPS.
const DefaultFrameInterval = 16667 * time.Microsecond

// NewFrame starts a frame scheduler ticking at interval.
func NewFrame(interval time.Duration, opts ...Option) *Frame {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	f := &Frame{
		cfg:     applyOptions(opts),
		ticker:  time.NewTicker(interval),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go f.loop()
	return f
}

// Schedule implements Scheduler. After Stop each callback runs on its own
// goroutine.
func (f *Frame) Schedule(fn func()) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		go f.cfg.run(fn)
		return
	}
	f.batch = append(f.batch, fn)
	f.mu.Unlock()
}

func (f *Frame) loop() {
	defer close(f.stopped)
	for {
		select {
		case <-f.stop:
			return
		case <-f.ticker.C:
			f.tick()
		}
	}
}

// tick runs the callbacks queued before the tick started. Callbacks scheduled
// while the batch runs wait for the next frame.
func (f *Frame) tick() {
	f.mu.Lock()
	batch := f.batch
	f.batch = nil
	f.mu.Unlock()
	for _, fn := range batch {
		f.cfg.run(fn)
	}
}

// Stop halts the ticker and runs the callbacks still queued before returning.
func (f *Frame) Stop() {
	f.once.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
		f.ticker.Stop()
		close(f.stop)
		<-f.stopped
		f.tick()
	})
}

// Manual queues callbacks until the caller drives them, which makes commit
// timing fully deterministic in tests.
type Manual struct {
	mu    sync.Mutex
	queue []func()
}

// NewManual returns an empty manual scheduler.
func NewManual() *Manual {
	return &Manual{}
}

// Schedule implements Scheduler.
func (m *Manual) Schedule(fn func()) {
	m.mu.Lock()
	m.queue = append(m.queue, fn)
	m.mu.Unlock()
}

// Len returns the number of queued callbacks.
func (m *Manual) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// RunPending runs the callbacks queued so far and returns how many ran.
// Callbacks they schedule stay queued.
func (m *Manual) RunPending() int {
	m.mu.Lock()
	batch := m.queue
	m.queue = nil
	m.mu.Unlock()
	for _, fn := range batch {
		fn()
	}
	return len(batch)
}

// Flush runs callbacks until the queue stays empty and returns how many ran.
func (m *Manual) Flush() int {
	total := 0
	for {
		ran := m.RunPending()
		if ran == 0 {
			return total
		}
		total += ran
	}
}

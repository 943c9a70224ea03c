// Package listeners holds subscriber bookkeeping for the store: an ordered
// list for value-based subscribers and a trie keyed by path segment for
// location-based subscribers.
//
// Both structures tolerate removal while they are being iterated. Iteration
// works on a snapshot of the entries and skips any entry removed after the
// snapshot was taken, so a subscriber that cancels itself (or a sibling)
// mid-dispatch never causes another subscriber to be skipped or run twice.
package listeners

import (
	"slices"
	"sync"
	"sync/atomic"
)

// Entry is one registration. Value is whatever the owner stores per
// subscriber.
type Entry[V any] struct {
	value   V
	removed atomic.Bool
	detach  func(*Entry[V])
	once    sync.Once
}

// Value returns the registered payload.
func (e *Entry[V]) Value() V {
	return e.value
}

// Active reports whether the entry has not been removed.
func (e *Entry[V]) Active() bool {
	return !e.removed.Load()
}

// Remove detaches the entry. It is safe to call more than once and from inside
// a dispatch that is currently visiting the entry.
func (e *Entry[V]) Remove() {
	e.once.Do(func() {
		e.removed.Store(true)
		if e.detach != nil {
			e.detach(e)
		}
	})
}

// List is an ordered collection of entries.
type List[V any] struct {
	mu      sync.Mutex
	entries []*Entry[V]
}

// Add appends value and returns its entry.
func (l *List[V]) Add(value V) *Entry[V] {
	return l.AddWith(func(*Entry[V]) V { return value })
}

// AddWith appends the value built by build. The entry is handed to build
// before it becomes visible to Each, so the value may keep a reference to it.
func (l *List[V]) AddWith(build func(*Entry[V]) V) *Entry[V] {
	entry := &Entry[V]{detach: l.remove}
	entry.value = build(entry)
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
	return entry
}

// Len returns the number of active entries.
func (l *List[V]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Each calls fn for every entry that is still active when its turn comes, in
// insertion order.
func (l *List[V]) Each(fn func(*Entry[V])) {
	l.mu.Lock()
	snapshot := slices.Clone(l.entries)
	l.mu.Unlock()
	for _, entry := range snapshot {
		if entry.Active() {
			fn(entry)
		}
	}
}

func (l *List[V]) remove(entry *Entry[V]) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if idx := slices.Index(l.entries, entry); idx >= 0 {
		l.entries = slices.Delete(l.entries, idx, idx+1)
	}
}

package listeners

import (
	"slices"
	"sync"

	"github.com/goliatone/go-worldview/tree"
)

// Trie stores entries at path locations. Its shape follows the path space of
// the state, not its values. Empty branches are pruned on removal so dispatch
// never walks dead subtrees.
type Trie[V any] struct {
	mu   sync.Mutex
	root *trieNode[V]
}

type trieNode[V any] struct {
	entries  []*Entry[V]
	keys     []string
	children map[string]*trieNode[V]
}

// Visit is invoked for each active entry during Dispatch.
type Visit[V any] func(path tree.Path, entry *Entry[V], current, previous any)

// Insert registers value at path.
func (t *Trie[V]) Insert(path tree.Path, value V) *Entry[V] {
	return t.InsertWith(path, func(*Entry[V]) V { return value })
}

// InsertWith registers the value built by build at path. The entry is handed
// to build before any dispatch can observe it.
func (t *Trie[V]) InsertWith(path tree.Path, build func(*Entry[V]) V) *Entry[V] {
	path = slices.Clone(path)
	entry := &Entry[V]{}
	entry.detach = func(e *Entry[V]) { t.remove(path, e) }
	entry.value = build(entry)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.root == nil {
		t.root = &trieNode[V]{}
	}
	node := t.root
	for _, key := range path {
		next, ok := node.children[key]
		if !ok {
			next = &trieNode[V]{}
			if node.children == nil {
				node.children = map[string]*trieNode[V]{}
			}
			node.children[key] = next
			node.keys = append(node.keys, key)
		}
		node = next
	}
	node.entries = append(node.entries, entry)
	return entry
}

// Empty reports whether no entries are registered anywhere.
func (t *Trie[V]) Empty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.root == nil || t.root.empty()
}

// Count returns the number of entries registered exactly at path.
func (t *Trie[V]) Count(path tree.Path) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	node := t.root
	for _, key := range path {
		if node == nil {
			return 0
		}
		node = node.children[key]
	}
	if node == nil {
		return 0
	}
	return len(node.entries)
}

func (t *Trie[V]) remove(path tree.Path, entry *Entry[V]) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.root == nil {
		return
	}
	stack := make([]*trieNode[V], 0, len(path)+1)
	node := t.root
	stack = append(stack, node)
	for _, key := range path {
		node = node.children[key]
		if node == nil {
			return
		}
		stack = append(stack, node)
	}
	idx := slices.Index(node.entries, entry)
	if idx < 0 {
		return
	}
	node.entries = slices.Delete(node.entries, idx, idx+1)

	for depth := len(path); depth > 0; depth-- {
		current := stack[depth]
		if !current.empty() {
			return
		}
		parent := stack[depth-1]
		key := path[depth-1]
		delete(parent.children, key)
		if i := slices.Index(parent.keys, key); i >= 0 {
			parent.keys = slices.Delete(parent.keys, i, i+1)
		}
	}
}

func (n *trieNode[V]) empty() bool {
	return len(n.entries) == 0 && len(n.children) == 0
}

// Dispatch walks the trie against a pair of trees. A node whose previous and
// current values are the same reference is skipped with its whole subtree.
// Otherwise the entries registered at the node fire in insertion order before
// its children are visited in insertion order.
func (t *Trie[V]) Dispatch(previous, current any, visit Visit[V]) {
	t.mu.Lock()
	root := t.root
	t.mu.Unlock()
	if root == nil {
		return
	}
	t.dispatch(root, tree.Path{}, previous, current, visit)
}

func (t *Trie[V]) dispatch(node *trieNode[V], at tree.Path, previous, current any, visit Visit[V]) {
	if tree.Same(previous, current) {
		return
	}

	t.mu.Lock()
	entries := slices.Clone(node.entries)
	keys := slices.Clone(node.keys)
	children := make([]*trieNode[V], len(keys))
	for i, key := range keys {
		children[i] = node.children[key]
	}
	t.mu.Unlock()

	for _, entry := range entries {
		if entry.Active() {
			visit(at, entry, current, previous)
		}
	}
	for i, key := range keys {
		if children[i] == nil {
			continue
		}
		t.dispatch(children[i], at.Child(key), tree.Child(previous, key), tree.Child(current, key), visit)
	}
}

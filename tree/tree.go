// Package tree implements the structural-sharing primitives the store is built
// on: path lookups, copy-on-write updates and reference equality over trees of
// map[string]any, []any and opaque leaf values.
//
// Nodes are never mutated in place. A write returns a new root in which every
// node on the written path is freshly allocated while untouched subtrees are
// reused, so Same doubles as a cheap "did this subtree change" test.
package tree

import (
	"reflect"
	"strconv"
)

// Same reports whether a and b are the same value by reference. Maps, slices,
// pointers, channels and funcs compare by identity; other comparable values by
// value. Values that cannot be compared are never the same.
func Same(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() {
		return false
	}
	switch va.Kind() {
	case reflect.Map, reflect.Pointer, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return va.Pointer() == vb.Pointer()
	case reflect.Slice:
		return va.Pointer() == vb.Pointer() && va.Len() == vb.Len()
	}
	if !va.Comparable() || !vb.Comparable() {
		return false
	}
	return va.Equal(vb)
}

// IsContainer reports whether value can hold children.
func IsContainer(value any) bool {
	switch value.(type) {
	case map[string]any, []any:
		return true
	default:
		return false
	}
}

// Child returns the child stored under key, or nil when node is not a
// container or has no such child.
func Child(node any, key string) any {
	value, _ := child(node, key)
	return value
}

func child(node any, key string) (any, bool) {
	switch typed := node.(type) {
	case map[string]any:
		value, ok := typed[key]
		return value, ok
	case []any:
		idx, ok := index(key, len(typed))
		if !ok || idx == len(typed) {
			return nil, false
		}
		return typed[idx], true
	default:
		return nil, false
	}
}

// Lookup walks path from root. It reports false as soon as it meets a missing
// key or a non-container before the path is exhausted.
func Lookup(root any, path Path) (any, bool) {
	current := root
	if current == nil {
		return nil, false
	}
	for _, key := range path {
		next, ok := child(current, key)
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

// Get returns the value at path or nil.
func Get(root any, path Path) any {
	if len(path) == 0 {
		return root
	}
	value, _ := Lookup(root, path)
	return value
}

// Set returns a root in which path holds value. A nil value deletes the key.
// When the write changes nothing the original root is returned unchanged, so
// callers can detect no-ops with Same.
func Set(root any, path Path, value any) any {
	if len(path) == 0 {
		return value
	}
	key := path[0]
	if len(path) == 1 {
		existing, exists := child(root, key)
		if value == nil && !exists {
			return root
		}
		if exists && Same(existing, value) {
			return root
		}
		return assign(root, key, value)
	}

	next, exists := child(root, key)
	if !exists || !IsContainer(next) {
		next = map[string]any{}
	}
	updated := Set(next, path[1:], value)
	if Same(updated, next) {
		return root
	}
	return assign(root, key, updated)
}

// assign writes key on a shallow copy of node. Slices accept in-range indexes
// and an append at len; any other key turns the slice into a map of its
// elements. Scalars are replaced by a fresh map.
func assign(node any, key string, value any) any {
	if list, ok := node.([]any); ok {
		if idx, ok := index(key, len(list)); ok {
			return assignIndex(list, idx, value)
		}
	}
	out := Copy(node)
	if value == nil {
		delete(out, key)
	} else {
		out[key] = value
	}
	return out
}

func assignIndex(list []any, idx int, value any) []any {
	if value == nil {
		if idx == len(list) {
			return list
		}
		out := make([]any, 0, len(list)-1)
		out = append(out, list[:idx]...)
		return append(out, list[idx+1:]...)
	}
	size := len(list)
	if idx == size {
		size++
	}
	out := make([]any, size)
	copy(out, list)
	out[idx] = value
	return out
}

// Copy returns a shallow copy of node as a map. A slice keeps its elements
// under their decimal indexes; any other non-map node yields an empty map.
func Copy(node any) map[string]any {
	switch source := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(source)+1)
		for key, value := range source {
			out[key] = value
		}
		return out
	case []any:
		out := make(map[string]any, len(source)+1)
		for i, value := range source {
			out[strconv.Itoa(i)] = value
		}
		return out
	default:
		return map[string]any{}
	}
}

func index(key string, size int) (int, bool) {
	idx, err := strconv.Atoi(key)
	if err != nil || idx < 0 || idx > size {
		return 0, false
	}
	return idx, true
}

package worldview

import "github.com/goliatone/go-worldview/tree"

// Path is an ordered list of segments addressing a location in the state.
// The empty path is the root.
type Path = tree.Path

// ParsePath splits a dotted path string into segments.
func ParsePath(raw string) Path {
	return tree.ParsePath(raw)
}

// Keys builds a path from literal segments, which may themselves contain dots.
func Keys(segments ...string) Path {
	return append(Path{}, segments...)
}

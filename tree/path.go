package tree

import "strings"

// Path is an ordered sequence of key segments addressing a location inside a
// state tree. The empty path addresses the root.
type Path []string

// ParsePath converts the dotted string form into a Path. Empty segments are
// dropped, so "a..b", ".a.b." and "a.b" all address the same location.
func ParsePath(raw string) Path {
	if raw == "" {
		return Path{}
	}
	parts := strings.Split(raw, ".")
	out := make(Path, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

// Concat returns a new path made of p followed by other. The receiver is never
// aliased by the result.
func (p Path) Concat(other Path) Path {
	out := make(Path, 0, len(p)+len(other))
	out = append(out, p...)
	return append(out, other...)
}

// Child returns a new path extended by segments.
func (p Path) Child(segments ...string) Path {
	return p.Concat(Path(segments))
}

// IsRoot reports whether p addresses the root.
func (p Path) IsRoot() bool {
	return len(p) == 0
}

// Equal reports whether both paths have the same segments.
func (p Path) Equal(other Path) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// String renders the dotted form. The root renders as "".
func (p Path) String() string {
	return strings.Join(p, ".")
}

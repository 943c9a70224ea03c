package tree

import "sort"

// ChangedPaths lists the locations where prev and next differ by reference,
// descending at most depth levels below the root. A depth of zero reports only
// whether the roots differ.
func ChangedPaths(prev, next any, depth int) []Path {
	var out []Path
	collectChanges(prev, next, Path{}, depth, &out)
	return out
}

func collectChanges(prev, next any, at Path, depth int, out *[]Path) {
	if Same(prev, next) {
		return
	}
	prevMap, prevOK := prev.(map[string]any)
	nextMap, nextOK := next.(map[string]any)
	if depth <= 0 || (!prevOK && !nextOK) {
		*out = append(*out, at)
		return
	}
	keys := make([]string, 0, len(prevMap)+len(nextMap))
	seen := make(map[string]struct{}, len(prevMap)+len(nextMap))
	for key := range prevMap {
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	for key := range nextMap {
		if _, ok := seen[key]; ok {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		collectChanges(prevMap[key], nextMap[key], at.Child(key), depth-1, out)
	}
}

package tree

import "reflect"

// Merge folds patch into base key by key. Nested maps present on both sides are
// merged recursively, nil patch values delete, and every other patch value
// replaces what base holds. Subtrees the patch leaves untouched keep their
// identity, and when the patch changes nothing base itself is returned.
func Merge(base any, patch map[string]any) any {
	if len(patch) == 0 {
		return base
	}
	var out map[string]any
	for key, incoming := range patch {
		existing, exists := child(base, key)
		next := incoming
		if nested, ok := incoming.(map[string]any); ok {
			if _, isMap := existing.(map[string]any); isMap {
				next = Merge(existing, nested)
			}
		}
		if next == nil && !exists {
			continue
		}
		if exists && Same(existing, next) {
			continue
		}
		if out == nil {
			out = Copy(base)
		}
		if next == nil {
			delete(out, key)
			continue
		}
		out[key] = next
	}
	if out == nil {
		return base
	}
	return out
}

// Clone returns a deep copy of value so callers can hand a tree to the store
// without keeping a mutable alias into it. Maps and slices of any element type
// are copied; other values are returned as-is.
func Clone(value any) any {
	switch typed := value.(type) {
	case nil:
		return nil
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			out[key] = Clone(item)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = Clone(item)
		}
		return out
	}
	return cloneValue(reflect.ValueOf(value)).Interface()
}

func cloneValue(v reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Map:
		if v.IsNil() {
			return v
		}
		clone := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			clone.SetMapIndex(iter.Key(), cloneElem(iter.Value(), v.Type().Elem()))
		}
		return clone
	case reflect.Slice:
		if v.IsNil() {
			return v
		}
		clone := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			clone.Index(i).Set(cloneElem(v.Index(i), v.Type().Elem()))
		}
		return clone
	default:
		return v
	}
}

func cloneElem(v reflect.Value, elemType reflect.Type) reflect.Value {
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Zero(elemType)
		}
		return reflect.ValueOf(Clone(v.Elem().Interface()))
	}
	return cloneValue(v)
}

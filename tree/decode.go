package tree

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// FromYAML decodes a YAML document into a normalised tree suitable for seeding
// a store.
func FromYAML(data []byte) (any, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("tree: decode yaml: %w", err)
	}
	return Normalize(raw)
}

// FromJSON decodes a JSON document into a normalised tree.
func FromJSON(data []byte) (any, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("tree: decode json: %w", err)
	}
	return Normalize(raw)
}

// Normalize rewrites decoded documents so every mapping is a map[string]any
// and every sequence a []any. Mapping keys that are not strings are rendered
// with fmt.
func Normalize(value any) (any, error) {
	switch typed := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			normalized, err := Normalize(item)
			if err != nil {
				return nil, err
			}
			out[key] = normalized
		}
		return out, nil
	case map[any]any:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			normalized, err := Normalize(item)
			if err != nil {
				return nil, err
			}
			out[fmt.Sprint(key)] = normalized
		}
		return out, nil
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			normalized, err := Normalize(item)
			if err != nil {
				return nil, fmt.Errorf("tree: index %d: %w", i, err)
			}
			out[i] = normalized
		}
		return out, nil
	default:
		return value, nil
	}
}

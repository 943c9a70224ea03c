package worldview

import (
	"fmt"

	"github.com/goliatone/go-worldview/internal/hydrate"
	"github.com/goliatone/go-worldview/tree"
)

// DecodeOption configures Decode.
type DecodeOption[T any] = hydrate.DecoderOption[T]

// DecodeUseNumber keeps numbers as json.Number while decoding.
func DecodeUseNumber[T any]() DecodeOption[T] {
	return hydrate.WithUseNumber[T]()
}

// DecodeStrict rejects fields T does not declare.
func DecodeStrict[T any]() DecodeOption[T] {
	return hydrate.WithDisallowUnknownFields[T]()
}

// DecodeNormalize runs fn on a copy of the mapping before it is decoded.
func DecodeNormalize[T any](fn func(map[string]any) (map[string]any, error)) DecodeOption[T] {
	return hydrate.WithPreHook[T](func(_ hydrate.Context, payload map[string]any) (map[string]any, error) {
		return fn(payload)
	})
}

// DecodeValidate runs fn on the decoded value.
func DecodeValidate[T any](fn func(*T) error) DecodeOption[T] {
	return hydrate.WithPostHook[T](func(_ hydrate.Context, out *T) error {
		return fn(out)
	})
}

// Decode hydrates the current value of src into T. The value must be a
// mapping.
func Decode[T any](src Source, opts ...DecodeOption[T]) (T, error) {
	var zero T
	value := src.Get()
	payload, ok := value.(map[string]any)
	if !ok {
		normalized, err := tree.Normalize(value)
		if err != nil {
			return zero, fmt.Errorf("worldview: decode: %w", err)
		}
		payload, ok = normalized.(map[string]any)
		if !ok {
			return zero, fmt.Errorf("worldview: decode: value of type %T is not a mapping", value)
		}
	}
	return hydrate.NewDecoder[T](opts...).Decode(hydrate.Context{Source: sourceLabel(src)}, payload)
}

func sourceLabel(src Source) string {
	switch s := src.(type) {
	case *View:
		return s.label()
	case *WritableView:
		return s.label()
	case *Derived:
		return "derived"
	case *Compound:
		return "compound"
	default:
		return fmt.Sprintf("%T", src)
	}
}

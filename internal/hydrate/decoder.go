// Package hydrate turns state mappings into typed values by encoding them as
// JSON and decoding into the target, with hooks on either side.
package hydrate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Stage names the step of a decode that failed.
type Stage string

const (
	StagePayload Stage = "payload"
	StagePreHook Stage = "pre-hook"
	StageDecode  Stage = "decode"
	StageCustom  Stage = "custom decoder"
	StagePost    Stage = "post-hook"
)

// Error reports which stage of decoding Source failed.
type Error struct {
	Stage  Stage
	Source string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("hydrate: %s for %q: %v", e.Stage, e.Source, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Context is handed to every hook.
type Context struct {
	Source string
}

// PreHook rewrites a private copy of the mapping before decoding. A nil
// result keeps the input.
type PreHook func(Context, map[string]any) (map[string]any, error)

// PostHook adjusts or validates the decoded value.
type PostHook[T any] func(Context, *T) error

// CustomDecoder replaces the JSON step.
type CustomDecoder[T any] func(Context, map[string]any) (T, error)

type DecoderOption[T any] func(*Decoder[T])

// Decoder converts mappings into T. It is safe for concurrent use once built.
type Decoder[T any] struct {
	pre       []PreHook
	post      []PostHook[T]
	configure []func(*json.Decoder)
	custom    CustomDecoder[T]
}

func WithPreHook[T any](hook PreHook) DecoderOption[T] {
	return func(d *Decoder[T]) {
		if hook != nil {
			d.pre = append(d.pre, hook)
		}
	}
}

func WithPostHook[T any](hook PostHook[T]) DecoderOption[T] {
	return func(d *Decoder[T]) {
		if hook != nil {
			d.post = append(d.post, hook)
		}
	}
}

func WithUseNumber[T any]() DecoderOption[T] {
	return WithDecoderConfig[T]((*json.Decoder).UseNumber)
}

func WithDisallowUnknownFields[T any]() DecoderOption[T] {
	return WithDecoderConfig[T]((*json.Decoder).DisallowUnknownFields)
}

// WithDecoderConfig runs configure on the json.Decoder before it decodes.
func WithDecoderConfig[T any](configure func(*json.Decoder)) DecoderOption[T] {
	return func(d *Decoder[T]) {
		if configure != nil {
			d.configure = append(d.configure, configure)
		}
	}
}

func WithCustomDecoder[T any](decoder CustomDecoder[T]) DecoderOption[T] {
	return func(d *Decoder[T]) { d.custom = decoder }
}

func NewDecoder[T any](opts ...DecoderOption[T]) *Decoder[T] {
	d := &Decoder[T]{}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Decode converts payload into T. The payload is never modified: hooks and
// custom decoders see a deep copy.
func (d *Decoder[T]) Decode(ctx Context, payload map[string]any) (T, error) {
	var zero T
	fail := func(stage Stage, err error) (T, error) {
		return zero, &Error{Stage: stage, Source: ctx.Source, Err: err}
	}
	if payload == nil {
		return fail(StagePayload, errors.New("payload is nil"))
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return fail(StagePayload, err)
	}

	if len(d.pre) > 0 || d.custom != nil {
		var current map[string]any
		if err := json.Unmarshal(encoded, &current); err != nil {
			return fail(StagePayload, err)
		}
		for _, hook := range d.pre {
			next, err := hook(ctx, current)
			if err != nil {
				return fail(StagePreHook, err)
			}
			if next != nil {
				current = next
			}
		}
		if d.custom != nil {
			result, err := d.custom(ctx, current)
			if err != nil {
				return fail(StageCustom, err)
			}
			return d.finish(ctx, result)
		}
		if encoded, err = json.Marshal(current); err != nil {
			return fail(StagePreHook, err)
		}
	}

	var result T
	dec := json.NewDecoder(bytes.NewReader(encoded))
	for _, configure := range d.configure {
		configure(dec)
	}
	if err := dec.Decode(&result); err != nil {
		return fail(StageDecode, err)
	}
	return d.finish(ctx, result)
}

func (d *Decoder[T]) finish(ctx Context, result T) (T, error) {
	for _, hook := range d.post {
		if err := hook(ctx, &result); err != nil {
			var zero T
			return zero, &Error{Stage: StagePost, Source: ctx.Source, Err: err}
		}
	}
	return result, nil
}

package worldview

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Function is a host function exposed to expressions.
type Function func(args ...any) (any, error)

var (
	ErrFunctionNotFound = errors.New("worldview: function not registered")
	ErrFunctionExists   = errors.New("worldview: function already registered")
)

type namedFunction struct {
	name string
	fn   Function
}

// FunctionRegistry holds host functions. Lookups ignore case; Names reports
// the spelling used at registration, which is how expressions call them.
type FunctionRegistry struct {
	mu      sync.RWMutex
	entries map[string]namedFunction
}

func NewFunctionRegistry() *FunctionRegistry {
	return &FunctionRegistry{entries: map[string]namedFunction{}}
}

// Register adds fn under name. A name already taken in any case is rejected
// with ErrFunctionExists.
func (r *FunctionRegistry) Register(name string, fn Function) error {
	return r.put(name, fn, false)
}

// Replace adds fn under name, overwriting any earlier registration.
func (r *FunctionRegistry) Replace(name string, fn Function) error {
	return r.put(name, fn, true)
}

func (r *FunctionRegistry) put(name string, fn Function, overwrite bool) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("worldview: function name must not be empty")
	}
	if fn == nil {
		return fmt.Errorf("worldview: function %q is nil", name)
	}
	key := strings.ToLower(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries == nil {
		r.entries = map[string]namedFunction{}
	}
	if _, taken := r.entries[key]; taken && !overwrite {
		return fmt.Errorf("%w: %q", ErrFunctionExists, name)
	}
	r.entries[key] = namedFunction{name: name, fn: fn}
	return nil
}

// Lookup returns the function registered under name.
func (r *FunctionRegistry) Lookup(name string) (Function, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	entry, ok := r.entries[strings.ToLower(strings.TrimSpace(name))]
	r.mu.RUnlock()
	return entry.fn, ok
}

func (r *FunctionRegistry) Call(name string, args ...any) (any, error) {
	fn, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrFunctionNotFound, name)
	}
	return fn(args...)
}

// Names returns the registered names, sorted.
func (r *FunctionRegistry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for _, entry := range r.entries {
		names = append(names, entry.name)
	}
	slices.Sort(names)
	return names
}

// Clone copies the registry so later registrations on either side stay
// private.
func (r *FunctionRegistry) Clone() *FunctionRegistry {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := &FunctionRegistry{entries: make(map[string]namedFunction, len(r.entries))}
	for key, entry := range r.entries {
		out.entries[key] = entry
	}
	return out
}

// WithFunctionRegistry exposes a copy of registry to expressions.
func WithFunctionRegistry(registry *FunctionRegistry) Option {
	return func(cfg *worldConfig) {
		if registry != nil {
			cfg.functions = registry.Clone()
		}
	}
}

// WithCustomFunction exposes fn to expressions as name. A later option with
// the same name wins. An empty name or nil fn panics with *UsageError.
func WithCustomFunction(name string, fn Function) Option {
	if strings.TrimSpace(name) == "" || fn == nil {
		panic(usage("WithCustomFunction", "WithCustomFunction(name string, fn Function)"))
	}
	return func(cfg *worldConfig) {
		if cfg.functions == nil {
			cfg.functions = NewFunctionRegistry()
		}
		_ = cfg.functions.Replace(name, fn)
	}
}

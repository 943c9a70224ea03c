package worldview

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidSource is returned by Compound when a join entry is neither a
	// Source, a Path, nor a path string.
	ErrInvalidSource = errors.New("worldview: invalid compound source")
	// ErrEmptyCompound is returned by Compound for an empty mapping.
	ErrEmptyCompound = errors.New("worldview: compound requires at least one source")
	// ErrNoEvaluator is returned when no expression evaluator can be resolved.
	ErrNoEvaluator = errors.New("worldview: evaluator not configured")
)

// UsageError signals a call made with an argument the API does not accept.
// It is raised with panic at the call site, the way net/http treats a nil
// handler.
type UsageError struct {
	Op     string
	Shapes []string
}

func (e *UsageError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("worldview: invalid call to %s; accepted forms: %s", e.Op, strings.Join(e.Shapes, ", "))
}

func usage(op string, shapes ...string) *UsageError {
	return &UsageError{Op: op, Shapes: shapes}
}

// Phase names the dispatch stage a listener was registered for.
type Phase string

const (
	PhasePre    Phase = "pre"
	PhasePost   Phase = "post"
	PhaseBefore Phase = "before"
	PhaseAfter  Phase = "after"
)

// ListenerError reports a listener or commit callback that panicked. The
// commit it ran in still completes.
type ListenerError struct {
	Phase Phase
	Path  Path
	ID    string
	Value any
}

func (e *ListenerError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("worldview: %s listener %s panicked at %q: %v", e.Phase, describeID(e.ID), e.Path.String(), e.Value)
}

// Unwrap exposes the panic value when it was an error.
func (e *ListenerError) Unwrap() error {
	if e == nil {
		return nil
	}
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// MutationError reports a queued mutation that panicked while folding. The
// mutation is skipped; the rest of its batch still applies.
type MutationError struct {
	Path  Path
	Index int
	Value any
}

func (e *MutationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("worldview: mutation %d at %q panicked: %v", e.Index, e.Path.String(), e.Value)
}

func (e *MutationError) Unwrap() error {
	if e == nil {
		return nil
	}
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// EvaluationError captures evaluator metadata alongside the originating error.
type EvaluationError struct {
	Engine string
	Expr   string
	Source string
	Err    error
}

func (e *EvaluationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("worldview: %s evaluator %s source=%s: %v", e.Engine, describeExpression(e.Expr), e.Source, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func describeExpression(expr string) string {
	if expr == "" {
		return "expr=<empty>"
	}
	return fmt.Sprintf("expr=%q", expr)
}

func describeID(id string) string {
	if id == "" {
		return "<anonymous>"
	}
	return id
}

func wrapEvaluatorError(engine string, err error) error {
	if err == nil {
		return nil
	}

	var evalErr *EvaluationError
	if errors.As(err, &evalErr) {
		return err
	}

	if strings.HasPrefix(err.Error(), "worldview:") {
		return err
	}
	return fmt.Errorf("worldview: %s evaluator: %w", engine, err)
}

func wrapEvaluationError(engine, expr, source string, err error) error {
	if err == nil {
		return nil
	}

	var evalErr *EvaluationError
	if errors.As(err, &evalErr) {
		if evalErr.Engine == "" {
			evalErr.Engine = engine
		}
		if evalErr.Expr == "" {
			evalErr.Expr = expr
		}
		if evalErr.Source == "" {
			evalErr.Source = source
		}
		return evalErr
	}

	return &EvaluationError{
		Engine: engine,
		Expr:   expr,
		Source: source,
		Err:    err,
	}
}

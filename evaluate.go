package worldview

import (
	"fmt"
	"time"
)

// EvalContext carries the inputs of one expression evaluation.
type EvalContext struct {
	Value  any
	Now    *time.Time
	Args   map[string]any
	Source string
}

func (ctx EvalContext) withDefaultNow() EvalContext {
	if ctx.Now != nil {
		return ctx
	}
	now := time.Now()
	ctx.Now = &now
	return ctx
}

func (ctx EvalContext) timestamp() time.Time {
	ctx = ctx.withDefaultNow()
	return *ctx.Now
}

func (ctx EvalContext) withDefaults() EvalContext {
	ctx = ctx.withDefaultNow()
	if ctx.Args == nil {
		ctx.Args = map[string]any{}
	}
	return ctx
}

func (ctx EvalContext) sourceLabel() string {
	if ctx.Source != "" {
		return ctx.Source
	}
	return "unknown"
}

// fields copies the keys of a mapping value. The copy is safe to extend.
func (ctx EvalContext) fields() map[string]any {
	m, _ := ctx.Value.(map[string]any)
	out := make(map[string]any, len(m)+4)
	for key, value := range m {
		out[key] = value
	}
	return out
}

// Evaluator executes expressions against an evaluation context.
type Evaluator interface {
	Evaluate(ctx EvalContext, expr string) (any, error)
	Compile(expr string) (Program, error)
}

// Program is a reusable compiled expression.
type Program interface {
	Evaluate(ctx EvalContext) (any, error)
}

// Evaluate runs expr once against value using the world's evaluator.
func (w *World) Evaluate(expr string, value any) (any, error) {
	if expr == "" {
		return nil, fmt.Errorf("worldview: expression must not be empty")
	}
	evaluator, err := w.resolveEvaluator()
	if err != nil {
		return nil, err
	}
	ctx := EvalContext{Value: value, Source: "world"}.withDefaults()
	out, err := evaluator.Evaluate(ctx, expr)
	if err != nil {
		return nil, wrapEvaluationError(evaluatorEngineName(evaluator), expr, ctx.sourceLabel(), err)
	}
	return out, nil
}

func (w *World) resolveEvaluator() (Evaluator, error) {
	w.evalOnce.Do(func() {
		if w.cfg.evaluator != nil {
			w.evaluator = w.cfg.evaluator
			return
		}
		var exprOpts []ExprEvaluatorOption
		if w.cfg.programCache != nil {
			exprOpts = append(exprOpts, ExprWithProgramCache(w.cfg.programCache))
		}
		if w.cfg.functions != nil {
			exprOpts = append(exprOpts, ExprWithFunctionRegistry(w.cfg.functions))
		}
		w.evaluator = NewExprEvaluator(exprOpts...)
	})
	if w.evaluator == nil {
		return nil, ErrNoEvaluator
	}
	return w.evaluator, nil
}

// deriveExpr compiles expr once and derives a view that evaluates it against
// every value of src. Evaluation failures are reported to the error handler
// and publish nil.
func deriveExpr(src Source, label, expr string) (*Derived, error) {
	if expr == "" {
		return nil, fmt.Errorf("worldview: expression must not be empty")
	}
	w := src.World()
	evaluator, err := w.resolveEvaluator()
	if err != nil {
		return nil, err
	}
	engine := evaluatorEngineName(evaluator)
	program, err := evaluator.Compile(expr)
	if err != nil {
		return nil, wrapEvaluationError(engine, expr, label, err)
	}
	return newDerived(src, func(value any) any {
		start := time.Now()
		out, err := program.Evaluate(EvalContext{Value: value, Source: label}.withDefaults())
		w.cfg.logger.Debug("worldview evaluation",
			"engine", engine,
			"expr", expr,
			"source", label,
			"duration", time.Since(start),
		)
		if err != nil {
			w.reportError(wrapEvaluationError(engine, expr, label, err))
			return nil
		}
		return out
	}), nil
}

func evaluatorEngineName(e Evaluator) string {
	if e == nil {
		return "unknown"
	}
	switch fmt.Sprintf("%T", e) {
	case "*worldview.exprEvaluator":
		return "expr"
	case "*worldview.celEvaluator":
		return "cel"
	case "*worldview.jsEvaluator":
		return "js"
	default:
		return "custom"
	}
}

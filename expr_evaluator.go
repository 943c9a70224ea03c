package worldview

import (
	"errors"
	"strings"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"
)

const exprEngine = "expr"

// ExprEvaluatorOption configures NewExprEvaluator.
type ExprEvaluatorOption func(*exprEvaluator)

func ExprWithProgramCache(cache ProgramCache) ExprEvaluatorOption {
	return func(e *exprEvaluator) { e.cache = cache }
}

// ExprWithFunctionRegistry binds each registered function by name and adds
// call(name, args...).
func ExprWithFunctionRegistry(registry *FunctionRegistry) ExprEvaluatorOption {
	return func(e *exprEvaluator) {
		if registry != nil {
			e.registry = registry.Clone()
		}
	}
}

// ExprWithOptions appends compile options such as exprlang.Operator or
// exprlang.ConstExpr.
func ExprWithOptions(opts ...exprlang.Option) ExprEvaluatorOption {
	return func(e *exprEvaluator) { e.extra = append(e.extra, opts...) }
}

// exprEvaluator binds `value`, `now` and `args`, plus the keys of a mapping
// value as top-level names.
type exprEvaluator struct {
	cache    ProgramCache
	registry *FunctionRegistry
	extra    []exprlang.Option
}

// NewExprEvaluator returns the default Evaluator, backed by expr-lang/expr.
func NewExprEvaluator(opts ...ExprEvaluatorOption) Evaluator {
	e := &exprEvaluator{}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

func (e *exprEvaluator) Evaluate(ctx EvalContext, expression string) (any, error) {
	program, err := e.Compile(expression)
	if err != nil {
		return nil, err
	}
	return program.Evaluate(ctx)
}

func (e *exprEvaluator) Compile(expression string) (Program, error) {
	if strings.TrimSpace(expression) == "" {
		return nil, wrapEvaluatorError(exprEngine, errors.New("expression must not be empty"))
	}
	key := e.cacheKey(expression)
	if e.cache != nil {
		if cached, ok := e.cache.Get(key); ok {
			if program, ok := cached.(*exprvm.Program); ok {
				return &exprProgram{evaluator: e, program: program, expression: expression}, nil
			}
		}
	}

	options := []exprlang.Option{
		exprlang.Env(map[string]any{}),
		exprlang.AllowUndefinedVariables(),
	}
	for _, name := range e.registry.Names() {
		options = append(options, exprlang.Function(name, e.bound(name)))
	}
	options = append(options, e.extra...)

	program, err := exprlang.Compile(expression, options...)
	if err != nil {
		return nil, wrapEvaluationError(exprEngine, expression, "", err)
	}
	if e.cache != nil {
		e.cache.Set(key, program)
	}
	return &exprProgram{evaluator: e, program: program, expression: expression}, nil
}

// cacheKey folds the bound function names in, so evaluators with different
// registries can share one cache.
func (e *exprEvaluator) cacheKey(expression string) string {
	names := e.registry.Names()
	if len(names) == 0 {
		return exprEngine + ":" + expression
	}
	return exprEngine + ":" + strings.Join(names, ",") + ":" + expression
}

func (e *exprEvaluator) bound(name string) func(...any) (any, error) {
	return func(arguments ...any) (any, error) {
		return e.registry.Call(name, arguments...)
	}
}

func (e *exprEvaluator) env(ctx EvalContext) map[string]any {
	env := ctx.fields()
	env["value"] = ctx.Value
	env["now"] = ctx.timestamp()
	env["args"] = ctx.Args
	if e.registry != nil {
		env["call"] = func(name string, arguments ...any) (any, error) {
			return e.registry.Call(name, arguments...)
		}
	}
	return env
}

type exprProgram struct {
	evaluator  *exprEvaluator
	program    *exprvm.Program
	expression string
}

func (p *exprProgram) Evaluate(ctx EvalContext) (any, error) {
	ctx = ctx.withDefaults()
	out, err := exprlang.Run(p.program, p.evaluator.env(ctx))
	if err != nil {
		return nil, wrapEvaluationError(exprEngine, p.expression, ctx.sourceLabel(), err)
	}
	return out, nil
}

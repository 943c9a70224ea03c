//go:build js_eval

package worldview

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"
)

const jsEngine = "js"

// jsEvaluator wraps each expression in an immediately invoked function and
// runs it in a fresh goja runtime per evaluation.
type jsEvaluator struct {
	cfg jsEvaluatorConfig
}

// NewJSEvaluator returns an Evaluator backed by goja.
func NewJSEvaluator(opts ...JSEvaluatorOption) Evaluator {
	return &jsEvaluator{cfg: applyJSEvaluatorOptions(opts)}
}

func (e *jsEvaluator) Evaluate(ctx EvalContext, expression string) (any, error) {
	program, err := e.Compile(expression)
	if err != nil {
		return nil, err
	}
	return program.Evaluate(ctx)
}

func (e *jsEvaluator) Compile(expression string) (Program, error) {
	if strings.TrimSpace(expression) == "" {
		return nil, wrapEvaluatorError(jsEngine, errors.New("expression must not be empty"))
	}
	key := jsEngine + ":" + expression
	if e.cfg.cache != nil {
		if cached, ok := e.cfg.cache.Get(key); ok {
			if compiled, ok := cached.(*goja.Program); ok {
				return &jsProgram{evaluator: e, expression: expression, program: compiled}, nil
			}
		}
	}
	compiled, err := goja.Compile("", "(function(){ return ("+expression+"); })()", false)
	if err != nil {
		return nil, wrapEvaluationError(jsEngine, expression, "", err)
	}
	if e.cfg.cache != nil {
		e.cfg.cache.Set(key, compiled)
	}
	return &jsProgram{evaluator: e, expression: expression, program: compiled}, nil
}

func (e *jsEvaluator) bind(vm *goja.Runtime, ctx EvalContext) error {
	globals := ctx.fields()
	globals["value"] = ctx.Value
	globals["now"] = ctx.timestamp()
	globals["args"] = ctx.Args
	if registry := e.cfg.registry; registry != nil {
		globals["call"] = func(name string, arguments ...any) (any, error) {
			return registry.Call(name, arguments...)
		}
		for _, name := range registry.Names() {
			fn, _ := registry.Lookup(name)
			globals[name] = func(arguments ...any) (any, error) { return fn(arguments...) }
		}
	}
	for name, value := range globals {
		if err := vm.Set(name, value); err != nil {
			return fmt.Errorf("bind %s: %w", name, err)
		}
	}
	return nil
}

type jsProgram struct {
	evaluator  *jsEvaluator
	expression string
	program    *goja.Program
}

func (p *jsProgram) Evaluate(ctx EvalContext) (any, error) {
	ctx = ctx.withDefaults()
	vm := goja.New()
	if err := p.evaluator.bind(vm, ctx); err != nil {
		return nil, wrapEvaluationError(jsEngine, p.expression, ctx.sourceLabel(), err)
	}
	if timeout := p.evaluator.cfg.timeout; timeout > 0 {
		timer := time.AfterFunc(timeout, func() {
			vm.Interrupt(fmt.Sprintf("script exceeded %s", timeout))
		})
		defer timer.Stop()
	}
	value, err := vm.RunProgram(p.program)
	if err != nil {
		return nil, wrapEvaluationError(jsEngine, p.expression, ctx.sourceLabel(), err)
	}
	return value.Export(), nil
}

// JSEvaluatorAvailable reports whether the binary was built with js_eval.
func JSEvaluatorAvailable() bool {
	return true
}

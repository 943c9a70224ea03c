//go:build !js_eval

package worldview

// NewJSEvaluator is unavailable without the js_eval build tag. It returns nil,
// so WithEvaluator(NewJSEvaluator()) keeps the default expr evaluator.
func NewJSEvaluator(opts ...JSEvaluatorOption) Evaluator {
	_ = applyJSEvaluatorOptions(opts)
	return nil
}

// JSEvaluatorAvailable reports whether the binary was built with js_eval.
func JSEvaluatorAvailable() bool {
	return false
}

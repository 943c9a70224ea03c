package worldview

// ProgramCache stores compiled expression programs keyed by expression strings.
type ProgramCache interface {
	Get(key string) (any, bool)
	Set(key string, value any)
}

// WithProgramCache registers a program cache with the default evaluator.
func WithProgramCache(cache ProgramCache) Option {
	return func(cfg *worldConfig) {
		cfg.programCache = cache
	}
}

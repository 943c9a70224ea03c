package worldview

import (
	"context"
	"log/slog"

	"github.com/goliatone/go-worldview/pkg/activity"
	"github.com/goliatone/go-worldview/scheduler"
	"github.com/goliatone/go-worldview/tree"
)

// Option configures a World.
type Option func(*worldConfig)

type worldConfig struct {
	scheduler    scheduler.Scheduler
	initial      any
	logger       *slog.Logger
	errorHandler func(error)
	observers    []CommitObserver
	activity     *activity.Emitter
	ctx          context.Context
	evaluator    Evaluator
	programCache ProgramCache
	functions    *FunctionRegistry
}

func applyOptions(opts []Option) worldConfig {
	cfg := worldConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.scheduler == nil {
		cfg.scheduler = scheduler.Goroutine{}
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.DiscardHandler)
	}
	if cfg.ctx == nil {
		cfg.ctx = context.Background()
	}
	if cfg.initial == nil {
		cfg.initial = map[string]any{}
	}
	if cfg.errorHandler == nil {
		logger := cfg.logger
		cfg.errorHandler = func(err error) {
			logger.Error("worldview error", slog.Any("error", err))
		}
	}
	return cfg
}

func (cfg worldConfig) observer() CommitObserver {
	switch len(cfg.observers) {
	case 0:
		return noopCommitObserver{}
	case 1:
		return cfg.observers[0]
	default:
		return commitObservers(cfg.observers)
	}
}

// WithScheduler sets the deferred-callback capability commits run on. The
// default starts a goroutine per commit.
func WithScheduler(s scheduler.Scheduler) Option {
	return func(cfg *worldConfig) {
		cfg.scheduler = s
	}
}

// WithInitialState seeds the state with a deep copy of value.
func WithInitialState(value any) Option {
	return func(cfg *worldConfig) {
		cfg.initial = tree.Clone(value)
	}
}

// WithLogger sets the diagnostics logger.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *worldConfig) {
		cfg.logger = logger
	}
}

// WithErrorHandler receives listener, mutation and evaluation failures. The
// default logs them at error level.
func WithErrorHandler(fn func(error)) Option {
	return func(cfg *worldConfig) {
		cfg.errorHandler = fn
	}
}

// WithCommitObserver appends observers notified after every commit attempt.
func WithCommitObserver(observers ...CommitObserver) Option {
	return func(cfg *worldConfig) {
		for _, observer := range observers {
			if observer != nil {
				cfg.observers = append(cfg.observers, observer)
			}
		}
	}
}

// WithContext sets the context handed to activity hooks.
func WithContext(ctx context.Context) Option {
	return func(cfg *worldConfig) {
		cfg.ctx = ctx
	}
}

// WithEvaluator configures the evaluator used by DeriveExpr.
func WithEvaluator(e Evaluator) Option {
	return func(cfg *worldConfig) {
		cfg.evaluator = e
	}
}

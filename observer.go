package worldview

import (
	"context"
	"log/slog"
	"time"
)

// CommitReport describes one commit attempt.
type CommitReport struct {
	ID               string
	Seq              uint64
	Mutations        int
	NoOp             bool
	Changed          []Path
	ListenerPanics   int
	MutationFailures int
	StartedAt        time.Time
	Duration         time.Duration
}

// CommitObserver records commit reports. ObserveCommit runs on the committing
// goroutine after the commit has fully finished.
type CommitObserver interface {
	ObserveCommit(CommitReport)
}

// CommitObserverFunc adapts a function to CommitObserver.
type CommitObserverFunc func(CommitReport)

// ObserveCommit implements CommitObserver.
func (f CommitObserverFunc) ObserveCommit(report CommitReport) {
	if f != nil {
		f(report)
	}
}

type noopCommitObserver struct{}

func (noopCommitObserver) ObserveCommit(CommitReport) {}

type commitObservers []CommitObserver

func (o commitObservers) ObserveCommit(report CommitReport) {
	for _, observer := range o {
		observer.ObserveCommit(report)
	}
}

// SlogObserver logs each commit report at debug level, or at warn level when
// a listener or mutation panicked.
func SlogObserver(logger *slog.Logger) CommitObserver {
	if logger == nil {
		return noopCommitObserver{}
	}
	return CommitObserverFunc(func(report CommitReport) {
		level := slog.LevelDebug
		if report.ListenerPanics > 0 || report.MutationFailures > 0 {
			level = slog.LevelWarn
		}
		changed := make([]string, len(report.Changed))
		for i, path := range report.Changed {
			changed[i] = path.String()
		}
		logger.LogAttrs(context.Background(), level, "worldview commit",
			slog.String("commit_id", report.ID),
			slog.Uint64("seq", report.Seq),
			slog.Int("mutations", report.Mutations),
			slog.Bool("noop", report.NoOp),
			slog.Any("changed", changed),
			slog.Int("listener_panics", report.ListenerPanics),
			slog.Int("mutation_failures", report.MutationFailures),
			slog.Duration("duration", report.Duration),
		)
	})
}

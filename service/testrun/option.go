package testrun

import (
	"log/slog"

	"github.com/viant/kgrader/model"
	"github.com/viant/kgrader/progress"
	"github.com/viant/kgrader/service/dao"
	"github.com/viant/kgrader/service/testcase"
)

// Option customises a Run.
type Option func(r *Run)

// WithRunner sets the case runner (a default testcase.Runner otherwise).
func WithRunner(runner CaseRunner) Option {
	return func(r *Run) { r.runner = runner }
}

// WithMaxAttempts bounds the number of boots a run may span.
func WithMaxAttempts(attempts int) Option {
	return func(r *Run) { r.maxAttempts = attempts }
}

// WithLogger sets the operator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Run) { r.logger = logger }
}

// WithResults sets the results log receiving one line per outcome.
func WithResults(logger *slog.Logger) Option {
	return func(r *Run) { r.results = logger }
}

// WithProgress registers a callback receiving counter snapshots.
func WithProgress(fn func(progress.Progress)) Option {
	return func(r *Run) { r.onProgress = fn }
}

// New creates a run of cases against ref.
func New(ref *model.SubmissionRef, cases []*testcase.Case, ledgers dao.Service[string, model.RunLedger], outcomes dao.Service[string, model.TestOutcome], opts ...Option) *Run {
	r := &Run{
		ref:         ref,
		cases:       cases,
		ledgers:     ledgers,
		outcomes:    outcomes,
		maxAttempts: DefaultMaxAttempts,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.runner == nil {
		r.runner = testcase.New(testcase.WithLogger(r.logger))
	}
	if r.results == nil {
		r.results = r.logger
	}
	return r
}

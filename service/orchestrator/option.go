package orchestrator

import (
	"io"
	"log/slog"
	"time"

	"github.com/viant/kgrader/service/testrun"
)

// Option customises an Orchestrator.
type Option func(o *Orchestrator)

// WithLogger sets the operator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithResults sets the results log.
func WithResults(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.results = logger }
}

// WithConsole sets where the final summary table is printed.
func WithConsole(w io.Writer) Option {
	return func(o *Orchestrator) { o.console = w }
}

// WithPrompt sets the operator abort prompt; nil disables it.
func WithPrompt(prompt Prompt) Option {
	return func(o *Orchestrator) { o.prompt = prompt }
}

// WithAbortWait sets the abort window.
func WithAbortWait(d time.Duration) Option {
	return func(o *Orchestrator) { o.abortWait = d }
}

// WithRunner sets the case runner.
func WithRunner(runner testrun.CaseRunner) Option {
	return func(o *Orchestrator) { o.runner = runner }
}

// WithMaxBootAttempts bounds the boots one test run may span.
func WithMaxBootAttempts(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxBootAttempts = n
		}
	}
}

// WithMaxPrepareAttempts bounds interrupted PREPARE phases of a submission.
func WithMaxPrepareAttempts(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxPrepareAttempts = n
		}
	}
}

// WithSummaryPublisher replaces the summary file writer.
func WithSummaryPublisher(fn func(summary *Summary) error) Option {
	return func(o *Orchestrator) { o.publish = fn }
}

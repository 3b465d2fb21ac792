package testcase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/debug"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/viant/kgrader/internal/clock"
	"github.com/viant/kgrader/model"
	"github.com/viant/kgrader/service/rendezvous"
	"github.com/viant/kgrader/tracing"
)

const maxMessage = 4096

// Runner executes cases one at a time.
type Runner struct {
	defaultTimeout  time.Duration
	teardownTimeout time.Duration
	abandonTimeout  time.Duration
	output          io.Writer
	logger          *slog.Logger
}

// Option customises a Runner.
type Option func(r *Runner)

// WithDefaultTimeout sets the timeout of cases that do not declare one.
func WithDefaultTimeout(timeout time.Duration) Option {
	return func(r *Runner) { r.defaultTimeout = timeout }
}

// WithTeardownTimeout bounds teardown and reaping of children after a case
// that finished on its own. Teardown may hang on a broken module.
func WithTeardownTimeout(timeout time.Duration) Option {
	return func(r *Runner) { r.teardownTimeout = timeout }
}

// WithAbandonTimeout bounds teardown and reaping after a case that timed out.
func WithAbandonTimeout(timeout time.Duration) Option {
	return func(r *Runner) { r.abandonTimeout = timeout }
}

// WithOutput receives the stdout and stderr of forked children.
func WithOutput(w io.Writer) Option {
	return func(r *Runner) { r.output = w }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// New creates a Runner.
func New(opts ...Option) *Runner {
	r := &Runner{
		defaultTimeout:  DefaultTimeout,
		teardownTimeout: 5 * time.Second,
		abandonTimeout:  time.Second,
		output:          os.Stderr,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type result struct {
	setupErr error
	panicked interface{}
	stack    []byte
}

// Run executes c and always returns an outcome: timeouts, panics and setup
// errors are captured as verdicts, never returned as errors.
func (r *Runner) Run(ctx context.Context, c *Case) *model.TestOutcome {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	ctx, span := tracing.StartSpan(ctx, "testcase.run "+c.Name, "INTERNAL")
	span.WithAttributes(map[string]string{"case": c.Name, "timeout": timeout.String()})

	started := clock.Now()
	caseCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	group := rendezvous.NewGroup(rendezvous.WithOutput(r.output))
	t := newT(caseCtx, c.Name, group, r.logger.With("case", c.Name))

	done := make(chan result, 1)
	go r.execute(t, c, done)

	outcome := &model.TestOutcome{Name: c.Name, Points: c.Weight()}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	budget := r.teardownTimeout
	select {
	case res := <-done:
		outcome.Verdict, outcome.Message = verdictOf(t, res)
	case <-timer.C:
		cancel()
		killed := group.Kill()
		span.AddEvent("killed", map[string]string{"count": strconv.Itoa(killed)})
		outcome.Verdict = model.VerdictTimeout
		outcome.Message = fmt.Sprintf("timed out after %s", timeout)
		if killed > 0 {
			outcome.Message += fmt.Sprintf(", killed %d child process(es)", killed)
		}
		t.logger.Warn("case abandoned", "timeout", timeout)
		budget = r.abandonTimeout
	}
	outcome.Duration = clock.Since(started)

	r.cleanup(t, c, group, budget)
	outcome.Message = truncate(outcome.Message, maxMessage)
	var spanErr error
	if !outcome.Verdict.Passed() {
		spanErr = fmt.Errorf("%s: %s", outcome.Verdict, outcome.Message)
	}
	tracing.EndSpan(span, spanErr)
	return outcome
}

func (r *Runner) execute(t *T, c *Case, done chan<- result) {
	res := result{}
	defer func() {
		if p := recover(); p != nil {
			res.panicked = p
			res.stack = debug.Stack()
		}
		done <- res
	}()
	if c.Setup != nil {
		if err := c.Setup(t); err != nil {
			res.setupErr = err
			return
		}
	}
	if c.Body != nil {
		c.Body(t)
	}
}

func verdictOf(t *T, res result) (model.Verdict, string) {
	switch {
	case res.setupErr != nil:
		return model.VerdictError, "setup: " + res.setupErr.Error()
	case res.panicked != nil:
		return model.VerdictError, fmt.Sprintf("panic: %v\n%s", res.panicked, res.stack)
	case t.Failed():
		return model.VerdictFail, t.message()
	}
	return model.VerdictPass, ""
}

// cleanup tears the case down, then reaps its children. Both steps share one
// deadline, so a broken case holds up the next one by at most budget.
func (r *Runner) cleanup(t *T, c *Case, group *rendezvous.Group, budget time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()
	r.teardown(ctx, t, c)
	r.reap(ctx, t, group)
}

// teardown runs the case teardown on a fresh goroutine; it is abandoned, not
// waited for, once ctx is done.
func (r *Runner) teardown(ctx context.Context, t *T, c *Case) {
	if c.Teardown == nil {
		return
	}
	errs := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				errs <- fmt.Errorf("teardown panic: %v", p)
			}
		}()
		errs <- c.Teardown(t)
	}()
	select {
	case err := <-errs:
		if err != nil {
			t.logger.Warn("teardown failed", "error", err)
		}
	case <-ctx.Done():
		t.logger.Warn("teardown abandoned")
	}
}

// reap kills leftover children and waits for them until ctx is done; a child
// stuck in the kernel is left behind and logged.
func (r *Runner) reap(ctx context.Context, t *T, group *rendezvous.Group) {
	group.Kill()
	closed := make(chan error, 1)
	go func() { closed <- group.Close() }()
	select {
	case err := <-closed:
		if err != nil {
			t.logger.Warn("failed to reap children", "error", err)
		}
	case <-ctx.Done():
		if live := group.Live(); live > 0 {
			t.logger.Warn("children not reaped", "live", live)
		}
	}
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

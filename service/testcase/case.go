// Package testcase runs single test cases against code that may hang or
// crash, enforcing a wall clock timeout from outside the test body.
package testcase

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/viant/kgrader/service/rendezvous"
)

// DefaultTimeout bounds a case without an explicit timeout.
const DefaultTimeout = 10 * time.Second

// Case is one named test with scoped setup and teardown.
type Case struct {
	Name    string
	Timeout time.Duration
	// Points earned on pass; zero means one point.
	Points float64
	// Setup prepares per case resources; an error yields VerdictError.
	Setup func(t *T) error
	Body  func(t *T)
	// Teardown always runs; its failure is logged only.
	Teardown func(t *T) error
}

// Weight returns the points the case is worth.
func (c *Case) Weight() float64 {
	if c.Points <= 0 {
		return 1
	}
	return c.Points
}

// T is handed to case bodies. It satisfies testify's require.TestingT, so
// bodies may use assert and require directly.
type T struct {
	ctx    context.Context
	name   string
	group  *rendezvous.Group
	logger *slog.Logger

	mu       sync.Mutex
	failures []string
	values   map[string]interface{}
}

func newT(ctx context.Context, name string, group *rendezvous.Group, logger *slog.Logger) *T {
	return &T{ctx: ctx, name: name, group: group, logger: logger, values: map[string]interface{}{}}
}

// Name returns the case name.
func (t *T) Name() string { return t.name }

// Context is cancelled when the case deadline passes. Honouring it is
// optional; the runner abandons the body regardless.
func (t *T) Context() context.Context { return t.ctx }

// Logger returns the case logger.
func (t *T) Logger() *slog.Logger { return t.logger }

// Fork starts a synchronized child owned by the case; it is killed when the
// case ends or times out.
func (t *T) Fork(routine string, arg []byte) (*rendezvous.Fork, error) {
	return t.group.SyncFork(t.ctx, routine, arg)
}

// Spawn starts a fire-and-forget child owned by the case.
func (t *T) Spawn(routine string, arg []byte) (*rendezvous.Child, error) {
	return t.group.Spawn(t.ctx, routine, arg)
}

// WaitChildren reaps every child of the case.
func (t *T) WaitChildren() error {
	return t.group.WaitAll(t.ctx)
}

// Set stores a value shared between setup, body and teardown.
func (t *T) Set(key string, value interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.values[key] = value
}

// Get returns a value stored with Set.
func (t *T) Get(key string) interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.values[key]
}

// Errorf records a failure and continues.
func (t *T) Errorf(format string, args ...interface{}) {
	msg := strings.TrimSpace(fmt.Sprintf(format, args...))
	t.mu.Lock()
	t.failures = append(t.failures, msg)
	t.mu.Unlock()
	t.logger.Debug("assertion failed", "case", t.name, "message", msg)
}

// FailNow stops the body. Deferred calls of the body still run.
func (t *T) FailNow() {
	t.mu.Lock()
	if len(t.failures) == 0 {
		t.failures = append(t.failures, "failed")
	}
	t.mu.Unlock()
	runtime.Goexit()
}

// Fatalf records a failure and stops the body.
func (t *T) Fatalf(format string, args ...interface{}) {
	t.Errorf(format, args...)
	t.FailNow()
}

// Helper is a no-op kept for testify compatibility.
func (t *T) Helper() {}

// Failed reports whether any failure was recorded.
func (t *T) Failed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.failures) > 0
}

func (t *T) message() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.failures, "\n")
}

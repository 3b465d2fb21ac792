// Package orchestrator drives the grading state machine. Every boot starts in
// NO_RUN and reconstructs where it stands from durable state: the grader
// state (mode), the run ledger and the submission queue. The process may be
// killed at any instruction; each transition persists what the next boot
// needs before acting on it.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/fatih/color"
	"github.com/viant/kgrader/model"
	"github.com/viant/kgrader/service/dao"
	"github.com/viant/kgrader/service/installer"
	"github.com/viant/kgrader/service/submission"
	"github.com/viant/kgrader/service/testcase"
	"github.com/viant/kgrader/service/testrun"
)

// ErrNotInitialized is returned when no grader state exists.
var ErrNotInitialized = errors.New("orchestrator: grader is not initialized")

const (
	// DefaultAbortWait is the operator abort window offered on every boot.
	DefaultAbortWait = 5 * time.Second
	// DefaultMaxPrepareAttempts bounds interrupted PREPARE phases per submission.
	DefaultMaxPrepareAttempts = 3
)

// Extractor unpacks a submission archive into a directory.
type Extractor interface {
	Extract(ctx context.Context, archive, dest string) (model.Submitters, error)
}

// CaseSource builds the cases of the configured suite for ref. It must
// return the same cases on every boot.
type CaseSource func(ctx context.Context, state *model.GraderState, ref *model.SubmissionRef) ([]*testcase.Case, error)

// Stores groups the durable documents of the grader.
type Stores struct {
	States   dao.Service[string, model.GraderState]
	Ledgers  dao.Service[string, model.RunLedger]
	Outcomes dao.Service[string, model.TestOutcome]
	Grades   dao.Service[string, model.GradeRecord]
	Stats    dao.Service[string, model.StatRecord]
}

func (s *Stores) validate() error {
	if s.States == nil || s.Ledgers == nil || s.Outcomes == nil || s.Grades == nil || s.Stats == nil {
		return fmt.Errorf("orchestrator: all stores are required")
	}
	return nil
}

// Orchestrator is the grading state machine of one boot.
type Orchestrator struct {
	stores    Stores
	queue     *submission.Queue
	extractor Extractor
	installer installer.Installer
	cases     CaseSource
	runner    testrun.CaseRunner

	prompt             Prompt
	abortWait          time.Duration
	maxBootAttempts    int
	maxPrepareAttempts int

	logger  *slog.Logger
	results *slog.Logger
	console io.Writer
	publish func(summary *Summary) error

	state     State
	grader    *model.GraderState
	current   *model.SubmissionRef
	result    *testrun.Result
	rebooting bool
}

// New creates an orchestrator.
func New(stores Stores, queue *submission.Queue, extractor Extractor, inst installer.Installer, cases CaseSource, opts ...Option) (*Orchestrator, error) {
	if err := stores.validate(); err != nil {
		return nil, err
	}
	if queue == nil || extractor == nil || inst == nil || cases == nil {
		return nil, fmt.Errorf("orchestrator: queue, extractor, installer and case source are required")
	}
	o := &Orchestrator{
		stores:             stores,
		queue:              queue,
		extractor:          extractor,
		installer:          inst,
		cases:              cases,
		abortWait:          DefaultAbortWait,
		maxBootAttempts:    testrun.DefaultMaxAttempts,
		maxPrepareAttempts: DefaultMaxPrepareAttempts,
		logger:             slog.Default(),
		console:            color.Output,
		state:              StateNoRun,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.results == nil {
		o.results = o.logger
	}
	if o.publish == nil {
		o.publish = o.writeSummaryFile
	}
	return o, nil
}

// State returns the current state.
func (o *Orchestrator) State() State { return o.state }

// Rebooting reports whether a reboot was issued; the boot is over.
func (o *Orchestrator) Rebooting() bool { return o.rebooting }

// Run steps the machine until the boot is over: a reboot was issued, the
// queue is drained or the grader halted. Infrastructure errors stop it.
func (o *Orchestrator) Run(ctx context.Context) (State, error) {
	for !o.state.Terminal() && !o.rebooting {
		if _, err := o.Step(ctx); err != nil {
			return o.state, err
		}
	}
	return o.state, nil
}

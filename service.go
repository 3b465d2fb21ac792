package kgrader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/fatih/color"
	"github.com/viant/afs"
	"github.com/viant/kgrader/internal/lock"
	"github.com/viant/kgrader/internal/logx"
	"github.com/viant/kgrader/model"
	"github.com/viant/kgrader/service/dao"
	dfs "github.com/viant/kgrader/service/dao/fs"
	"github.com/viant/kgrader/service/installer"
	"github.com/viant/kgrader/service/installer/shell"
	"github.com/viant/kgrader/service/messaging"
	mfs "github.com/viant/kgrader/service/messaging/fs"
	"github.com/viant/kgrader/service/orchestrator"
	"github.com/viant/kgrader/service/submission"
	"github.com/viant/kgrader/service/suite"
	"github.com/viant/kgrader/service/testcase"
	"github.com/viant/kgrader/service/testrun"
	"github.com/viant/kgrader/tracing"
)

// Version is reported in traces and by the CLI.
const Version = "0.4.0"

// Service wires the grader from a Config.
type Service struct {
	config *Config
	fs     afs.Service

	logger  *slog.Logger
	results *slog.Logger
	console io.Writer

	installer installer.Installer
	modules   installer.Modules
	extractor orchestrator.Extractor
	shell     *shell.Shell
	runner    testrun.CaseRunner
	prompt    orchestrator.Prompt
	promptSet bool

	stores  *orchestrator.Stores
	durable messaging.Durable[model.SubmissionRef]
	queue   *submission.Queue

	tracing   bool
	traceFile string
	closers   []io.Closer
}

// New creates a grader service.
func New(config *Config, opts ...Option) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	s := &Service{config: config, console: color.Output}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.init(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Service) init() error {
	if s.logger == nil {
		level, _ := logx.ParseLevel(s.config.LogLevel)
		s.logger = logx.Console(level)
	}
	if s.fs == nil {
		s.fs = afs.New()
	}
	if s.results == nil {
		results, closer, err := logx.OpenResults(s.config.ResultsPath())
		if err != nil {
			return err
		}
		s.results = results
		s.closers = append(s.closers, closer)
	}
	if s.tracing || s.config.TraceFile != "" {
		file := s.traceFile
		if file == "" {
			file = s.config.TraceFile
		}
		closer, err := tracing.Init("kgrader", Version, file)
		if err != nil {
			return fmt.Errorf("failed to init tracing: %w", err)
		}
		s.closers = append(s.closers, closer)
	}
	if s.stores == nil {
		stores, err := s.fileStores()
		if err != nil {
			return err
		}
		s.stores = stores
	}
	if s.durable == nil {
		queueConfig := mfs.DefaultConfig()
		queueConfig.BasePath = s.config.Path("queue")
		durable, err := mfs.NewQueue[model.SubmissionRef](s.fs, queueConfig)
		if err != nil {
			return fmt.Errorf("failed to open submission queue: %w", err)
		}
		s.durable = durable
	}
	s.queue = submission.NewQueue(s.durable, submission.WithQueueFS(s.fs), submission.WithQueueLogger(s.logger))
	if s.extractor == nil {
		s.extractor = submission.NewExtractor(submission.WithExtractorFS(s.fs), submission.WithExtractorLogger(s.logger))
	}
	if s.installer == nil || s.modules == nil {
		s.shell = shell.New(nil)
		s.closers = append(s.closers, s.shell)
	}
	if s.installer == nil {
		inst, err := shell.NewInstaller(s.config.Installer, shell.WithShell(s.shell), shell.WithLogger(s.logger))
		if err != nil {
			return err
		}
		s.installer = inst
	}
	if s.modules == nil {
		s.modules = shell.NewModules(s.shell, s.logger)
	}
	if s.runner == nil {
		s.runner = testcase.New(testcase.WithDefaultTimeout(s.config.DefaultTimeout), testcase.WithLogger(s.logger))
	}
	if !s.promptSet {
		s.prompt = orchestrator.NewConsolePrompt()
	}
	return nil
}

func (s *Service) fileStores() (*orchestrator.Stores, error) {
	options := []dfs.Option{dfs.WithFS(s.fs), dfs.WithLogger(s.logger)}
	states, err := dfs.NewKeyed[model.GraderState](s.config.Path("state"), append(options, dfs.WithCodec(dfs.YAML))...)
	if err != nil {
		return nil, err
	}
	ledgers, err := dfs.NewKeyed[model.RunLedger](s.config.Path("ledger"), options...)
	if err != nil {
		return nil, err
	}
	outcomes, err := dfs.NewKeyed[model.TestOutcome](s.config.Path("outcomes"), options...)
	if err != nil {
		return nil, err
	}
	grades, err := dfs.NewKeyed[model.GradeRecord](s.config.Path("grades"), options...)
	if err != nil {
		return nil, err
	}
	stats, err := dfs.NewKeyed[model.StatRecord](s.config.Path("stats"), options...)
	if err != nil {
		return nil, err
	}
	// writes cut short by a crash leave temp files behind
	ctx := context.Background()
	for _, store := range []interface {
		Sweep(ctx context.Context) (int, error)
		BasePath() string
	}{states, ledgers, outcomes, grades, stats} {
		removed, err := store.Sweep(ctx)
		if err != nil {
			return nil, err
		}
		if removed > 0 {
			s.logger.Warn("removed interrupted writes", "location", store.BasePath(), "count", removed)
		}
	}
	return &orchestrator.Stores{States: states, Ledgers: ledgers, Outcomes: outcomes, Grades: grades, Stats: stats}, nil
}

// Orchestrator creates the state machine of one boot.
func (s *Service) Orchestrator() (*orchestrator.Orchestrator, error) {
	return orchestrator.New(*s.stores, s.queue, s.extractor, s.installer, s.cases,
		orchestrator.WithLogger(s.logger),
		orchestrator.WithResults(s.results),
		orchestrator.WithConsole(s.console),
		orchestrator.WithPrompt(s.prompt),
		orchestrator.WithAbortWait(s.config.AbortWait),
		orchestrator.WithRunner(s.runner),
		orchestrator.WithMaxBootAttempts(s.config.MaxBootAttempts),
		orchestrator.WithMaxPrepareAttempts(s.config.MaxPrepareAttempts),
	)
}

// cases builds the suite of state for the extracted submission.
func (s *Service) cases(_ context.Context, state *model.GraderState, _ *model.SubmissionRef) ([]*testcase.Case, error) {
	var plan *suite.Plan
	if state.PlanPath != "" {
		var err error
		if plan, err = suite.LoadPlan(state.PlanPath); err != nil {
			return nil, err
		}
	}
	env := &suite.Env{
		SubmissionDir: state.WorkPath,
		Params:        s.config.Params,
		Modules:       s.modules,
		Logger:        s.logger,
	}
	return suite.Build(state.Suite, env, plan)
}

// Init writes the grader state for submissions and requests the first reboot.
func (s *Service) Init(ctx context.Context, submissions string) error {
	return s.locked(func() error {
		if submissions != "" {
			s.config.Submissions = submissions
		}
		if s.config.Submissions == "" {
			return fmt.Errorf("submissions folder is required")
		}
		if s.config.Suite == "" {
			return fmt.Errorf("suite is required, one of %v", suite.Names())
		}
		o, err := s.Orchestrator()
		if err != nil {
			return err
		}
		return o.Init(ctx, s.config.GraderState())
	})
}

// Reset removes the grader state and restores normal boot.
func (s *Service) Reset(ctx context.Context) error {
	return s.locked(func() error {
		o, err := s.Orchestrator()
		if err != nil {
			return err
		}
		return o.Reset(ctx)
	})
}

// Run performs the work of one boot. It returns once the machine is about to
// reboot, the queue drained or the grader halted.
func (s *Service) Run(ctx context.Context) (orchestrator.State, error) {
	var state orchestrator.State
	err := s.locked(func() error {
		o, err := s.Orchestrator()
		if err != nil {
			return err
		}
		state, err = o.Run(ctx)
		return err
	})
	return state, err
}

// Status is a snapshot of the durable grader documents.
type Status struct {
	State  *model.GraderState     `yaml:"state,omitempty"`
	Ledger *model.RunLedger       `yaml:"ledger,omitempty"`
	Queue  map[messaging.State]int `yaml:"queue"`
	Grades int                    `yaml:"grades"`
}

// Status reads the durable documents without taking the lock.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	state, err := dao.LoadOptional(ctx, s.stores.States, model.StateKey)
	if err != nil {
		return nil, err
	}
	ledger, err := dao.LoadOptional(ctx, s.stores.Ledgers, model.LedgerKey)
	if err != nil {
		return nil, err
	}
	queue, err := s.queue.Stats(ctx)
	if err != nil {
		return nil, err
	}
	grades, err := s.stores.Grades.List(ctx)
	if err != nil {
		return nil, err
	}
	return &Status{State: state, Ledger: ledger, Queue: queue, Grades: len(grades)}, nil
}

func (s *Service) locked(fn func() error) error {
	held, err := lock.Acquire(s.config.LockPath())
	if err != nil {
		return err
	}
	defer func() {
		if err := held.Release(); err != nil {
			s.logger.Warn("failed to release lock", "error", err)
		}
	}()
	return fn()
}

// Close releases the results log, tracing and the shell session.
func (s *Service) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

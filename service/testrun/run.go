// Package testrun drives an ordered sequence of cases for one submission and
// persists a continuation token after every step so that a run interrupted by
// a machine crash resumes where it stopped.
package testrun

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/viant/kgrader/internal/clock"
	"github.com/viant/kgrader/internal/idgen"
	"github.com/viant/kgrader/model"
	"github.com/viant/kgrader/progress"
	"github.com/viant/kgrader/service/dao"
	"github.com/viant/kgrader/service/testcase"
	"github.com/viant/kgrader/tracing"
)

// DefaultMaxAttempts is the number of boots a run may span before the
// remaining cases are written off as crashed.
const DefaultMaxAttempts = 8

// CaseRunner executes one case. *testcase.Runner is the production runner.
type CaseRunner interface {
	Run(ctx context.Context, c *testcase.Case) *model.TestOutcome
}

// Result is a completed run.
type Result struct {
	Ledger   *model.RunLedger
	Outcomes []*model.TestOutcome
	MaxScore float64
	Progress progress.Progress
}

// Run is a resumable test run of one submission.
type Run struct {
	ref         *model.SubmissionRef
	cases       []*testcase.Case
	ledgers     dao.Service[string, model.RunLedger]
	outcomes    dao.Service[string, model.TestOutcome]
	runner      CaseRunner
	maxAttempts int
	logger      *slog.Logger
	results     *slog.Logger
	onProgress  func(progress.Progress)
}

// Execute starts a fresh run or resumes the interrupted one recorded in the
// ledger, then runs every remaining case. Before case k starts the ledger is
// saved as {next: k, running: true}; after its outcome is saved the ledger
// becomes {next: k+1, running: false}. A ledger found with running set means
// case k took the machine down: it is recorded as crashed and skipped.
//
// Only infrastructure failures (storage) are returned as errors.
func (r *Run) Execute(ctx context.Context) (*Result, error) {
	ledger, err := r.open(ctx)
	if err != nil {
		return nil, err
	}
	ctx, span := tracing.StartSpan(ctx, "testrun.execute "+r.ref.ID, "INTERNAL")
	span.WithAttributes(map[string]string{
		"run":     ledger.RunID,
		"attempt": fmt.Sprint(ledger.Attempt),
	})
	result, err := r.execute(ctx, ledger)
	tracing.EndSpan(span, err)
	return result, err
}

func (r *Run) execute(ctx context.Context, ledger *model.RunLedger) (*Result, error) {
	ctx, tracker := progress.WithNewTracker(ctx, ledger.RunID, r.ref.ID, r.onProgress)
	tracker.Update(progress.Delta{Total: len(r.cases)})
	if ledger.Next > 0 || ledger.Running {
		previous, err := r.outcomes.List(ctx, dao.WithPrefix(ledger.RunID+"/"))
		if err != nil {
			return nil, model.NewInfrastructureError("list outcomes", err)
		}
		for _, outcome := range previous {
			tracker.Update(progress.VerdictDelta(outcome.Verdict))
		}
	}

	if ledger.Running {
		if err := r.recordCrash(ctx, ledger); err != nil {
			return nil, err
		}
	}
	if ledger.Attempt > r.maxAttempts && ledger.Next < len(r.cases) {
		r.logger.Error("boot attempt budget exhausted", "submission", r.ref.ID, "attempt", ledger.Attempt)
		for ledger.Next < len(r.cases) {
			ledger.Running = true
			if err := r.recordCrash(ctx, ledger); err != nil {
				return nil, err
			}
		}
	}

	for ledger.Next < len(r.cases) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ordinal := ledger.Next
		aCase := r.cases[ordinal]
		ledger.Running = true
		if err := r.saveLedger(ctx, ledger); err != nil {
			return nil, err
		}
		progress.UpdateCtx(ctx, progress.Delta{Running: 1})
		outcome := r.runner.Run(ctx, aCase)
		outcome.Ordinal = ordinal
		delta := progress.VerdictDelta(outcome.Verdict)
		delta.Running = -1
		if err := r.record(ctx, ledger, outcome); err != nil {
			return nil, err
		}
		progress.UpdateCtx(ctx, delta)
	}

	outcomes, err := r.outcomes.List(ctx, dao.WithPrefix(ledger.RunID+"/"))
	if err != nil {
		return nil, model.NewInfrastructureError("list outcomes", err)
	}
	return &Result{Ledger: ledger, Outcomes: outcomes, MaxScore: MaxScore(r.cases), Progress: tracker.Snapshot()}, nil
}

// open loads or creates the ledger and counts this boot as an attempt.
func (r *Run) open(ctx context.Context) (*model.RunLedger, error) {
	ledger, err := dao.LoadOptional(ctx, r.ledgers, model.LedgerKey)
	if err != nil {
		return nil, model.NewInfrastructureError("load run ledger", err)
	}
	if ledger == nil {
		ledger = &model.RunLedger{
			RunID:        idgen.New(),
			SubmissionID: r.ref.ID,
			StartedAt:    clock.Now(),
		}
		r.logger.Info("starting test run", "submission", r.ref.ID, "run", ledger.RunID, "cases", len(r.cases))
	} else {
		if ledger.SubmissionID != r.ref.ID {
			return nil, model.NewInfrastructureError("resume run",
				fmt.Errorf("ledger belongs to submission %s, expected %s", ledger.SubmissionID, r.ref.ID))
		}
		if err := ledger.Validate(len(r.cases)); err != nil {
			return nil, model.NewInfrastructureError("resume run", err)
		}
		r.logger.Warn("resuming interrupted test run", "submission", r.ref.ID, "run", ledger.RunID,
			"next", ledger.Next, "running", ledger.Running, "attempt", ledger.Attempt+1)
	}
	ledger.Attempt++
	if err := r.saveLedger(ctx, ledger); err != nil {
		return nil, err
	}
	return ledger, nil
}

// recordCrash writes the crash verdict of the case that was running, unless
// its outcome had already been saved, and advances the ledger past it.
func (r *Run) recordCrash(ctx context.Context, ledger *model.RunLedger) error {
	ordinal := ledger.Next
	existing, err := dao.LoadOptional(ctx, r.outcomes, model.OutcomeKey(ledger.RunID, ordinal))
	if err != nil {
		return model.NewInfrastructureError("load outcome", err)
	}
	if existing != nil {
		ledger.Running = false
		ledger.Next = ordinal + 1
		return r.saveLedger(ctx, ledger)
	}
	aCase := r.cases[ordinal]
	outcome := &model.TestOutcome{
		Name:    aCase.Name,
		Ordinal: ordinal,
		Verdict: model.VerdictCrash,
		Message: "machine went down while the case was running",
		Points:  aCase.Weight(),
	}
	if ledger.Attempt > r.maxAttempts {
		outcome.Message = fmt.Sprintf("not run: boot attempt budget of %d exhausted", r.maxAttempts)
	}
	progress.UpdateCtx(ctx, progress.VerdictDelta(model.VerdictCrash))
	return r.record(ctx, ledger, outcome)
}

// record persists outcome, then advances the ledger.
func (r *Run) record(ctx context.Context, ledger *model.RunLedger, outcome *model.TestOutcome) error {
	outcome.RunID = ledger.RunID
	outcome.Attempt = ledger.Attempt
	outcome.At = clock.Now()
	if err := r.outcomes.Save(ctx, outcome); err != nil {
		return model.NewInfrastructureError("save outcome", err)
	}
	r.report(outcome)
	ledger.Running = false
	ledger.Next = outcome.Ordinal + 1
	return r.saveLedger(ctx, ledger)
}

func (r *Run) saveLedger(ctx context.Context, ledger *model.RunLedger) error {
	if err := r.ledgers.Save(ctx, ledger); err != nil {
		return model.NewInfrastructureError("save run ledger", err)
	}
	return nil
}

func (r *Run) report(outcome *model.TestOutcome) {
	attrs := []any{
		"submission", r.ref.ID,
		"case", outcome.Name,
		"ordinal", outcome.Ordinal,
		"verdict", outcome.Verdict,
		"duration", outcome.Duration,
	}
	if outcome.Message != "" {
		attrs = append(attrs, "message", outcome.Message)
	}
	if outcome.Verdict.Passed() {
		r.logger.Info("case finished", attrs...)
	} else {
		r.logger.Warn("case finished", attrs...)
	}
	r.results.Info("test outcome", attrs...)
}

// MaxScore sums the weights of cases.
func MaxScore(cases []*testcase.Case) float64 {
	total := 0.0
	for _, c := range cases {
		total += c.Weight()
	}
	return total
}

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/viant/kgrader/internal/clock"
	"github.com/viant/kgrader/model"
	"github.com/viant/kgrader/progress"
	"github.com/viant/kgrader/service/dao"
	"github.com/viant/kgrader/service/messaging"
	"github.com/viant/kgrader/service/testrun"
	"github.com/viant/kgrader/tracing"
)

// Step performs the transition out of the current state and returns the new
// state. Errors are infrastructure errors: the machine stays where it was.
func (o *Orchestrator) Step(ctx context.Context) (State, error) {
	if o.state.Terminal() {
		return o.state, nil
	}
	ctx, span := tracing.StartSpan(ctx, "orchestrator.step "+o.state.String(), "INTERNAL")
	from := o.state
	next, err := o.step(ctx)
	tracing.EndSpan(span, err)
	if err != nil {
		o.logger.Error("grader step failed", "state", from, "error", err)
		return o.state, model.NewInfrastructureError(strings.ToLower(from.String()), err)
	}
	if next != from {
		o.logger.Info("state transition", "from", from, "to", next)
	}
	o.state = next
	return next, nil
}

func (o *Orchestrator) step(ctx context.Context) (State, error) {
	switch o.state {
	case StateNoRun:
		return o.boot(ctx)
	case StateSelectSubmission:
		return o.selectSubmission(ctx)
	case StatePrepare:
		return o.prepare(ctx)
	case StateAwaitReboot:
		return o.awaitReboot(ctx)
	case StateRunTests:
		return o.runTests(ctx)
	case StateFinalize:
		return o.finalize(ctx)
	}
	return o.state, fmt.Errorf("unexpected state %s", o.state)
}

// boot reconstructs the position of the machine from durable state.
func (o *Orchestrator) boot(ctx context.Context) (State, error) {
	grader, err := dao.LoadOptional(ctx, o.stores.States, model.StateKey)
	if err != nil {
		return StateNoRun, fmt.Errorf("failed to load grader state: %w", err)
	}
	if grader == nil {
		return StateNoRun, ErrNotInitialized
	}
	if err := grader.Validate(); err != nil {
		return StateNoRun, err
	}
	o.grader = grader

	if o.prompt != nil && o.abortWait > 0 {
		abort, err := o.prompt.Wait(ctx, o.abortWait)
		if err != nil {
			o.logger.Warn("abort prompt failed", "error", err)
		}
		if abort {
			o.results.Info("Terminating grader")
			if err := o.teardown(ctx); err != nil {
				return StateNoRun, err
			}
			return StateHalted, nil
		}
	}

	if grader.SubmissionsPath != "" {
		added, err := o.queue.Discover(ctx, grader.SubmissionsPath)
		if err != nil {
			return StateNoRun, err
		}
		if added > 0 {
			o.logger.Info("discovered submissions", "count", added)
		}
	}

	ledger, err := dao.LoadOptional(ctx, o.stores.Ledgers, model.LedgerKey)
	if err != nil {
		return StateNoRun, fmt.Errorf("failed to load run ledger: %w", err)
	}
	current, err := o.queue.Current(ctx)
	if err != nil {
		return StateNoRun, err
	}
	o.current = current

	switch {
	case ledger != nil:
		return o.resume(ctx, ledger)
	case grader.Mode == model.ModeTest && current != nil:
		return StateRunTests, nil
	case grader.Mode == model.ModeTest:
		o.logger.Warn("test mode without a selected submission, returning to normal mode")
		if err := o.switchMode(ctx, model.ModeNormal); err != nil {
			return StateNoRun, err
		}
		return StateSelectSubmission, nil
	case current != nil:
		o.logger.Warn("resuming interrupted preparation", "submission", current.ID, "attempts", current.PrepareAttempts)
		return StatePrepare, nil
	}
	return StateSelectSubmission, nil
}

// resume continues the run recorded in ledger.
func (o *Orchestrator) resume(ctx context.Context, ledger *model.RunLedger) (State, error) {
	if o.current != nil && o.current.ID == ledger.SubmissionID {
		return StateRunTests, nil
	}
	state, err := o.queue.State(ctx, ledger.SubmissionID)
	if err != nil {
		return StateNoRun, err
	}
	if state != messaging.StateCompleted {
		return StateNoRun, fmt.Errorf("run ledger references submission %s in queue state %q", ledger.SubmissionID, state)
	}
	// records were committed before the ledger could be removed
	o.logger.Warn("completing interrupted finalize", "submission", ledger.SubmissionID)
	if err := o.commit(ctx); err != nil {
		return StateNoRun, err
	}
	return o.reboot(ctx, StateSelectSubmission)
}

func (o *Orchestrator) selectSubmission(ctx context.Context) (State, error) {
	ref, err := o.queue.Next(ctx)
	if err != nil {
		return StateSelectSubmission, err
	}
	if ref == nil {
		return o.drain(ctx)
	}
	o.current = ref
	o.results.Info(strings.Repeat("#", 70))
	o.results.Info("Processing submission", "submission", ref.ID, "archive", ref.Archive)
	return StatePrepare, nil
}

// prepare extracts, builds and installs the current submission. A submission
// problem becomes a zero score and the queue moves on without a reboot.
func (o *Orchestrator) prepare(ctx context.Context) (State, error) {
	ref := o.current
	ref.PrepareAttempts++
	if err := o.queue.Update(ctx, ref); err != nil {
		return StatePrepare, err
	}
	if ref.PrepareAttempts > o.maxPrepareAttempts {
		diagnostic := fmt.Sprintf("preparation interrupted %d times", ref.PrepareAttempts-1)
		return o.buildFailed(ctx, model.NewBuildFailure(ref.ID, "prepare", diagnostic, nil))
	}

	submitters, err := o.extractor.Extract(ctx, ref.Archive, o.grader.WorkPath)
	if err != nil {
		return o.buildFailed(ctx, err)
	}
	ref.Submitters = submitters
	if err := o.queue.Update(ctx, ref); err != nil {
		return StatePrepare, err
	}
	o.results.Info("Start of compilation", "submission", ref.ID, "submitters", ref.Identity().Key())
	if err := o.installer.BuildAndInstall(ctx, ref.ID, o.grader.WorkPath); err != nil {
		return o.buildFailed(ctx, err)
	}
	return StateAwaitReboot, nil
}

// buildFailed grades a submission that never reached test mode. Errors other
// than build failures are escalated.
func (o *Orchestrator) buildFailed(ctx context.Context, err error) (State, error) {
	var failure *model.BuildFailure
	if !errors.As(err, &failure) {
		return StatePrepare, err
	}
	ref := o.current
	o.results.Warn("Build failed", "submission", ref.ID, "stage", failure.Stage, "diagnostic", failure.Diagnostic)
	maxScore := 0.0
	if cases, err := o.cases(ctx, o.grader, ref); err == nil {
		maxScore = testrun.MaxScore(cases)
	}
	grade, stat := model.NewBuildFailureRecords(ref, maxScore, failure.Error(), clock.Now())
	if err := o.saveRecords(ctx, grade, stat); err != nil {
		return StatePrepare, err
	}
	if err := o.queue.Complete(ctx, ref); err != nil {
		return StatePrepare, err
	}
	o.current = nil
	return StateSelectSubmission, nil
}

// awaitReboot switches into test mode. Kernel grading boots the test kernel;
// module grading tests in the running kernel.
func (o *Orchestrator) awaitReboot(ctx context.Context) (State, error) {
	if err := o.switchMode(ctx, model.ModeTest); err != nil {
		return StateAwaitReboot, err
	}
	if !o.installer.Kind().RebootsToTest() {
		return StateRunTests, nil
	}
	return o.reboot(ctx, StateAwaitReboot)
}

func (o *Orchestrator) runTests(ctx context.Context) (State, error) {
	ref := o.current
	if ref == nil {
		return StateRunTests, fmt.Errorf("no submission selected for testing")
	}
	if o.grader.Break {
		o.results.Info("Breaking for manual testing", "submission", ref.ID)
		return StateHalted, nil
	}
	o.results.Info("Start of automatic testing", "submission", ref.ID)
	cases, err := o.cases(ctx, o.grader, ref)
	if err != nil {
		return StateRunTests, fmt.Errorf("failed to build cases of suite %s: %w", o.grader.Suite, err)
	}
	options := []testrun.Option{
		testrun.WithMaxAttempts(o.maxBootAttempts),
		testrun.WithLogger(o.logger),
		testrun.WithResults(o.results),
		testrun.WithProgress(o.reportProgress),
	}
	if o.runner != nil {
		options = append(options, testrun.WithRunner(o.runner))
	}
	run := testrun.New(ref, cases, o.stores.Ledgers, o.stores.Outcomes, options...)
	result, err := run.Execute(ctx)
	if err != nil {
		return StateRunTests, err
	}
	o.result = result
	return StateFinalize, nil
}

// reportProgress logs the run counters each time a case gets its verdict.
func (o *Orchestrator) reportProgress(p progress.Progress) {
	if p.RunningCases > 0 || p.Done() == 0 {
		return
	}
	o.results.Info("Progress", "submission", p.SubmissionID, "done", p.Done(), "total", p.TotalCases,
		"passed", p.PassedCases, "failed", p.FailedCases, "errored", p.ErroredCases,
		"timedOut", p.TimedOutCases, "crashed", p.CrashedCases)
}

// finalize emits the records, completes the submission and removes the
// ledger. Records are keyed by submission so a repeated finalize overwrites
// them; removing the ledger commits the run.
func (o *Orchestrator) finalize(ctx context.Context) (State, error) {
	ref, result := o.current, o.result
	grade, stat := model.NewRecords(ref, result.Ledger, result.Outcomes, result.MaxScore, clock.Now())
	if err := o.saveRecords(ctx, grade, stat); err != nil {
		return StateFinalize, err
	}
	if err := o.queue.Complete(ctx, ref); err != nil {
		return StateFinalize, err
	}
	if err := o.commit(ctx); err != nil {
		return StateFinalize, err
	}
	o.current, o.result = nil, nil
	return o.reboot(ctx, StateSelectSubmission)
}

// commit removes the ledger and returns to normal mode.
func (o *Orchestrator) commit(ctx context.Context) error {
	if err := o.stores.Ledgers.Delete(ctx, model.LedgerKey); err != nil && !errors.Is(err, dao.ErrNotFound) {
		return fmt.Errorf("failed to delete run ledger: %w", err)
	}
	return o.switchMode(ctx, model.ModeNormal)
}

func (o *Orchestrator) saveRecords(ctx context.Context, grade *model.GradeRecord, stat *model.StatRecord) error {
	if err := o.stores.Grades.Save(ctx, grade); err != nil {
		return fmt.Errorf("failed to save grade of %s: %w", grade.SubmissionID, err)
	}
	if err := o.stores.Stats.Save(ctx, stat); err != nil {
		return fmt.Errorf("failed to save stats of %s: %w", stat.SubmissionID, err)
	}
	o.results.Info("Grade", "submission", grade.SubmissionID, "submitters", grade.Submitters.Key(),
		"score", grade.Score, "max", grade.MaxScore, "reboots", stat.Reboots)
	return nil
}

// switchMode points the boot loader at mode, then persists it.
func (o *Orchestrator) switchMode(ctx context.Context, mode model.Mode) error {
	if err := o.installer.SwitchBootMode(ctx, mode); err != nil {
		return fmt.Errorf("failed to switch boot mode to %s: %w", mode, err)
	}
	if o.grader.Mode == mode {
		return nil
	}
	o.grader.Mode = mode
	o.grader.UpdatedAt = clock.Now()
	if err := o.stores.States.Save(ctx, o.grader); err != nil {
		return fmt.Errorf("failed to save grader state: %w", err)
	}
	return nil
}

// reboot ends the boot; next is the state the following boot arrives at.
func (o *Orchestrator) reboot(ctx context.Context, next State) (State, error) {
	o.logger.Info("rebooting", "next", next)
	if err := o.installer.Reboot(ctx); err != nil {
		return o.state, fmt.Errorf("failed to reboot: %w", err)
	}
	o.rebooting = true
	return next, nil
}

func (o *Orchestrator) drain(ctx context.Context) (State, error) {
	if err := o.switchMode(ctx, model.ModeNormal); err != nil {
		return StateSelectSubmission, err
	}
	summary, err := o.summarize(ctx)
	if err != nil {
		return StateSelectSubmission, err
	}
	o.results.Info("Finished checking all submissions", "submissions", len(summary.Entries), "buildFailures", summary.BuildFailures)
	for _, entry := range summary.Entries {
		o.results.Info("Summary", "submission", entry.Submission, "submitters", entry.Submitters,
			"score", entry.Score, "max", entry.MaxScore)
	}
	summary.Print(o.console)
	if err := o.publish(summary); err != nil {
		o.logger.Warn("failed to write summary", "error", err)
	}
	return StateDrainEmpty, nil
}

package testrun

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/kgrader/model"
	"github.com/viant/kgrader/progress"
	"github.com/viant/kgrader/service/dao"
	"github.com/viant/kgrader/service/dao/store"
	"github.com/viant/kgrader/service/testcase"
)

// machineDown is raised by the fake runner to cut execution short the way a
// kernel crash would.
type machineDown struct{}

type step struct {
	verdict model.Verdict
	// crash aborts the boot while the case is running.
	crash bool
}

type fakeRunner struct {
	steps map[string][]step
	calls map[string]int
}

func newFakeRunner(steps map[string][]step) *fakeRunner {
	return &fakeRunner{steps: steps, calls: map[string]int{}}
}

func (f *fakeRunner) Run(_ context.Context, c *testcase.Case) *model.TestOutcome {
	call := f.calls[c.Name]
	f.calls[c.Name]++
	plan := f.steps[c.Name]
	s := step{verdict: model.VerdictPass}
	if call < len(plan) {
		s = plan[call]
	}
	if s.crash {
		panic(machineDown{})
	}
	return &model.TestOutcome{Name: c.Name, Verdict: s.verdict, Points: c.Weight()}
}

type stores struct {
	ledgers  *store.MemoryStore[model.RunLedger]
	outcomes *store.MemoryStore[model.TestOutcome]
}

func newStores() *stores {
	return &stores{
		ledgers:  store.NewMemoryStore[model.RunLedger](func(l *model.RunLedger) string { return l.Key() }),
		outcomes: store.NewMemoryStore[model.TestOutcome](func(o *model.TestOutcome) string { return o.Key() }),
	}
}

func cases(names ...string) []*testcase.Case {
	var result []*testcase.Case
	for _, name := range names {
		result = append(result, &testcase.Case{Name: name, Body: func(*testcase.T) {}})
	}
	return result
}

// boot runs one boot worth of execution and reports whether the machine went down.
func boot(t *testing.T, s *stores, ref *model.SubmissionRef, cs []*testcase.Case, runner CaseRunner, opts ...Option) (result *Result, crashed bool) {
	t.Helper()
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(machineDown); !ok {
				panic(r)
			}
			crashed = true
		}
	}()
	opts = append([]Option{WithRunner(runner)}, opts...)
	run := New(ref, cs, s.ledgers, s.outcomes, opts...)
	result, err := run.Execute(context.Background())
	require.NoError(t, err)
	return result, false
}

func verdicts(outcomes []*model.TestOutcome) []model.Verdict {
	var result []model.Verdict
	for _, o := range outcomes {
		result = append(result, o.Verdict)
	}
	return result
}

func TestExecute(t *testing.T) {
	testCases := []struct {
		description string
		cases       []string
		steps       map[string][]step
		maxAttempts int
		boots       int
		expect      []model.Verdict
		attempts    []int
		calls       map[string]int
	}{
		{
			description: "all pass in one boot",
			cases:       []string{"a", "b", "c"},
			boots:       1,
			expect:      []model.Verdict{model.VerdictPass, model.VerdictPass, model.VerdictPass},
			attempts:    []int{1, 1, 1},
			calls:       map[string]int{"a": 1, "b": 1, "c": 1},
		},
		{
			description: "crashing case is recorded and the run resumes after it",
			cases:       []string{"a", "b", "c"},
			steps:       map[string][]step{"b": {{crash: true}}},
			boots:       2,
			expect:      []model.Verdict{model.VerdictPass, model.VerdictCrash, model.VerdictPass},
			attempts:    []int{1, 2, 2},
			calls:       map[string]int{"a": 1, "b": 1, "c": 1},
		},
		{
			description: "mixed verdicts",
			cases:       []string{"a", "b", "c"},
			steps:       map[string][]step{"a": {{verdict: model.VerdictFail}}, "c": {{verdict: model.VerdictTimeout}}},
			boots:       1,
			expect:      []model.Verdict{model.VerdictFail, model.VerdictPass, model.VerdictTimeout},
			attempts:    []int{1, 1, 1},
			calls:       map[string]int{"a": 1, "b": 1, "c": 1},
		},
		{
			description: "every case crashes",
			cases:       []string{"a", "b"},
			steps:       map[string][]step{"a": {{crash: true}}, "b": {{crash: true}}},
			boots:       3,
			expect:      []model.Verdict{model.VerdictCrash, model.VerdictCrash},
			attempts:    []int{2, 3},
			calls:       map[string]int{"a": 1, "b": 1},
		},
		{
			description: "boot budget exhausted writes off the rest",
			cases:       []string{"a", "b", "c", "d"},
			steps:       map[string][]step{"a": {{crash: true}}, "b": {{crash: true}}},
			maxAttempts: 2,
			boots:       3,
			expect:      []model.Verdict{model.VerdictCrash, model.VerdictCrash, model.VerdictCrash, model.VerdictCrash},
			attempts:    []int{2, 3, 3, 3},
			calls:       map[string]int{"a": 1, "b": 1},
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.description, func(t *testing.T) {
			s := newStores()
			ref := &model.SubmissionRef{ID: "sub-1"}
			cs := cases(testCase.cases...)
			runner := newFakeRunner(testCase.steps)
			var opts []Option
			if testCase.maxAttempts > 0 {
				opts = append(opts, WithMaxAttempts(testCase.maxAttempts))
			}

			var result *Result
			for i := 0; i < testCase.boots; i++ {
				var crashed bool
				result, crashed = boot(t, s, ref, cs, runner, opts...)
				if i < testCase.boots-1 {
					require.True(t, crashed, "boot %d", i+1)
				} else {
					require.False(t, crashed, "final boot")
				}
			}

			require.NotNil(t, result)
			assert.Equal(t, testCase.expect, verdicts(result.Outcomes))
			var attempts []int
			for i, o := range result.Outcomes {
				assert.Equal(t, i, o.Ordinal)
				assert.Equal(t, testCase.cases[i], o.Name)
				attempts = append(attempts, o.Attempt)
			}
			assert.Equal(t, testCase.attempts, attempts)
			assert.Equal(t, testCase.calls, runner.calls)
			assert.Equal(t, len(testCase.cases), result.Ledger.Next)
			assert.False(t, result.Ledger.Running)
			assert.Equal(t, testCase.boots, result.Ledger.Attempt)
			assert.EqualValues(t, len(testCase.cases), result.MaxScore)
		})
	}
}

func TestExecute_OutcomeSavedBeforeLedgerAdvanced(t *testing.T) {
	s := newStores()
	ctx := context.Background()
	ref := &model.SubmissionRef{ID: "sub-1"}
	cs := cases("a", "b")

	// The machine went down after the outcome of case 0 was written but
	// before the ledger moved on.
	require.NoError(t, s.ledgers.Save(ctx, &model.RunLedger{RunID: "run-1", SubmissionID: "sub-1", Next: 0, Running: true, Attempt: 1}))
	require.NoError(t, s.outcomes.Save(ctx, &model.TestOutcome{RunID: "run-1", Ordinal: 0, Name: "a", Verdict: model.VerdictFail, Attempt: 1}))

	runner := newFakeRunner(nil)
	result, crashed := boot(t, s, ref, cs, runner)
	require.False(t, crashed)
	assert.Equal(t, []model.Verdict{model.VerdictFail, model.VerdictPass}, verdicts(result.Outcomes))
	assert.Equal(t, map[string]int{"b": 1}, runner.calls)
	assert.Equal(t, "run-1", result.Ledger.RunID)
}

func TestExecute_InterruptedBetweenCases(t *testing.T) {
	s := newStores()
	ctx := context.Background()
	ref := &model.SubmissionRef{ID: "sub-1"}
	cs := cases("a", "b", "c")

	// A clean shutdown between cases leaves running unset.
	require.NoError(t, s.ledgers.Save(ctx, &model.RunLedger{RunID: "run-1", SubmissionID: "sub-1", Next: 1, Attempt: 1}))
	require.NoError(t, s.outcomes.Save(ctx, &model.TestOutcome{RunID: "run-1", Ordinal: 0, Name: "a", Verdict: model.VerdictPass, Attempt: 1}))

	var last progress.Progress
	runner := newFakeRunner(nil)
	result, crashed := boot(t, s, ref, cs, runner, WithProgress(func(p progress.Progress) { last = p }))
	require.False(t, crashed)
	assert.Len(t, result.Outcomes, 3)
	assert.Equal(t, map[string]int{"b": 1, "c": 1}, runner.calls)
	assert.Equal(t, 3, last.PassedCases)
	assert.Equal(t, 0, last.RunningCases)
	assert.Equal(t, 3, result.Progress.Done())
	assert.Equal(t, "sub-1", result.Progress.SubmissionID)
}

func TestExecute_ForeignLedger(t *testing.T) {
	s := newStores()
	ctx := context.Background()
	require.NoError(t, s.ledgers.Save(ctx, &model.RunLedger{RunID: "run-1", SubmissionID: "other", Attempt: 1}))

	run := New(&model.SubmissionRef{ID: "sub-1"}, cases("a"), s.ledgers, s.outcomes, WithRunner(newFakeRunner(nil)))
	_, err := run.Execute(ctx)
	require.Error(t, err)
	assert.True(t, model.IsInfrastructure(err))
}

func TestExecute_RunningLedgerPastLastCase(t *testing.T) {
	s := newStores()
	ctx := context.Background()
	require.NoError(t, s.ledgers.Save(ctx, &model.RunLedger{RunID: "run-1", SubmissionID: "sub-1", Next: 1, Running: true, Attempt: 1}))

	run := New(&model.SubmissionRef{ID: "sub-1"}, cases("a"), s.ledgers, s.outcomes, WithRunner(newFakeRunner(nil)))
	result, err := run.Execute(ctx)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, model.IsInfrastructure(err))
}

func TestExecute_LedgerOutlivesRunUntilCommitted(t *testing.T) {
	s := newStores()
	ctx := context.Background()
	result, crashed := boot(t, s, &model.SubmissionRef{ID: "sub-1"}, cases("a"), newFakeRunner(nil))
	require.False(t, crashed)

	ledger, err := dao.LoadOptional[string, model.RunLedger](ctx, s.ledgers, model.LedgerKey)
	require.NoError(t, err)
	require.NotNil(t, ledger)
	assert.Equal(t, result.Ledger.RunID, ledger.RunID)
	assert.Equal(t, 1, ledger.Next)
}

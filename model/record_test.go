package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewSubmitters(t *testing.T) {
	actual := NewSubmitters("bob", " alice ", "", "bob")
	assert.Equal(t, Submitters{"alice", "bob"}, actual)
	assert.Equal(t, "alice+bob", actual.Key())
	assert.True(t, actual.Equal(Submitters{"bob", "alice"}))
	assert.False(t, actual.Equal(Submitters{"bob"}))
}

func TestSubmissionRef_Identity(t *testing.T) {
	ref := &SubmissionRef{ID: "hw1-007"}
	assert.Equal(t, Submitters{"hw1-007"}, ref.Identity())
	ref.Submitters = NewSubmitters("carol")
	assert.Equal(t, Submitters{"carol"}, ref.Identity())
}

func TestNewRecords(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ref := &SubmissionRef{ID: "s1", Submitters: NewSubmitters("alice")}
	ledger := &RunLedger{RunID: "r1", SubmissionID: "s1", Next: 3, Attempt: 2}
	outcomes := []*TestOutcome{
		{Ordinal: 0, Verdict: VerdictPass, Points: 2, Duration: time.Second},
		{Ordinal: 1, Verdict: VerdictCrash, Points: 1},
		{Ordinal: 2, Verdict: VerdictPass, Points: 1, Duration: 2 * time.Second},
	}

	grade, stat := NewRecords(ref, ledger, outcomes, 4, at)
	assert.Equal(t, 3.0, grade.Score)
	assert.Equal(t, 75.0, grade.Percent())
	assert.Equal(t, "r1", grade.RunID)
	assert.Equal(t, 3, stat.Cases)
	assert.Equal(t, map[Verdict]int{VerdictPass: 2, VerdictCrash: 1}, stat.Histogram)
	assert.Equal(t, 3*time.Second, stat.TestTime)
	assert.Equal(t, 2, stat.Boots)
	assert.Equal(t, 1, stat.Reboots)
}

func TestNewBuildFailureRecords(t *testing.T) {
	ref := &SubmissionRef{ID: "s2"}
	grade, stat := NewBuildFailureRecords(ref, 10, "make: *** [all] Error 2", time.Now())
	assert.True(t, grade.BuildFailed)
	assert.Zero(t, grade.Score)
	assert.Zero(t, grade.Percent())
	assert.Equal(t, 0, stat.Cases)
	assert.Equal(t, Submitters{"s2"}, grade.Submitters)
}

func TestRunLedger_Validate(t *testing.T) {
	testCases := []struct {
		name   string
		ledger *RunLedger
		valid  bool
	}{
		{name: "ok", ledger: &RunLedger{RunID: "r", SubmissionID: "s", Next: 3, Attempt: 1}, valid: true},
		{name: "nil", ledger: nil},
		{name: "missing id", ledger: &RunLedger{SubmissionID: "s", Attempt: 1}},
		{name: "out of range", ledger: &RunLedger{RunID: "r", SubmissionID: "s", Next: 4, Attempt: 1}},
		{name: "no attempt", ledger: &RunLedger{RunID: "r", SubmissionID: "s"}},
		{name: "running last case", ledger: &RunLedger{RunID: "r", SubmissionID: "s", Next: 2, Running: true, Attempt: 1}, valid: true},
		{name: "running past the end", ledger: &RunLedger{RunID: "r", SubmissionID: "s", Next: 3, Running: true, Attempt: 1}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.ledger.Validate(3)
			if tc.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestErrors(t *testing.T) {
	cause := errors.New("exit status 2")
	build := NewBuildFailure("s1", "build", "missing header", cause)
	assert.True(t, IsBuildFailure(build))
	assert.ErrorIs(t, build, cause)
	assert.Contains(t, build.Error(), "missing header")

	infra := NewInfrastructureError("load ledger", cause)
	assert.True(t, IsInfrastructure(infra))
	assert.False(t, IsInfrastructure(build))
	assert.Same(t, infra, NewInfrastructureError("again", infra))
	assert.Nil(t, NewInfrastructureError("noop", nil))
}

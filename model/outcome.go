package model

import (
	"fmt"
	"time"
)

// Verdict is the result class of one test case.
type Verdict string

const (
	VerdictPass    Verdict = "pass"
	VerdictFail    Verdict = "fail"
	VerdictError   Verdict = "error"
	VerdictTimeout Verdict = "timeout"
	// VerdictCrash marks a case that was running when the machine went down.
	VerdictCrash Verdict = "crash"
)

// Verdicts lists all verdicts in report order.
var Verdicts = []Verdict{VerdictPass, VerdictFail, VerdictError, VerdictTimeout, VerdictCrash}

// Passed reports whether the verdict earns points.
func (v Verdict) Passed() bool { return v == VerdictPass }

// TestOutcome is the immutable record of one executed (or crashed) case.
type TestOutcome struct {
	RunID    string        `json:"runId"`
	Ordinal  int           `json:"ordinal"`
	Name     string        `json:"name"`
	Verdict  Verdict       `json:"verdict"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration"`
	Points   float64       `json:"points"`
	Attempt  int           `json:"attempt"`
	At       time.Time     `json:"at"`
}

// OutcomeKey builds the storage key of an outcome.
func OutcomeKey(runID string, ordinal int) string {
	return fmt.Sprintf("%s/%04d", runID, ordinal)
}

// Key returns the storage key.
func (o *TestOutcome) Key() string { return OutcomeKey(o.RunID, o.Ordinal) }

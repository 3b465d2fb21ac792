package model

import (
	"errors"
	"fmt"
)

// BuildFailure means a submission could not be extracted, built or installed.
// It is graded, never escalated.
type BuildFailure struct {
	SubmissionID string
	Stage        string
	Diagnostic   string
	Err          error
}

func (e *BuildFailure) Error() string {
	msg := fmt.Sprintf("build failure of %s during %s", e.SubmissionID, e.Stage)
	if e.Diagnostic != "" {
		msg += ": " + e.Diagnostic
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BuildFailure) Unwrap() error { return e.Err }

// NewBuildFailure wraps err as a build failure of a submission stage.
func NewBuildFailure(submissionID, stage, diagnostic string, err error) error {
	return &BuildFailure{SubmissionID: submissionID, Stage: stage, Diagnostic: diagnostic, Err: err}
}

// IsBuildFailure reports whether err carries a BuildFailure.
func IsBuildFailure(err error) bool {
	var target *BuildFailure
	return errors.As(err, &target)
}

// InfrastructureError is fatal for the current grader invocation: the ledger,
// the queue or the installer cannot be trusted and a human has to look.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("infrastructure error: %s: %v", e.Op, e.Err)
}

func (e *InfrastructureError) Unwrap() error { return e.Err }

// NewInfrastructureError wraps err unless it already is an infrastructure error.
func NewInfrastructureError(op string, err error) error {
	if err == nil {
		return nil
	}
	var target *InfrastructureError
	if errors.As(err, &target) {
		return err
	}
	return &InfrastructureError{Op: op, Err: err}
}

// IsInfrastructure reports whether err carries an InfrastructureError.
func IsInfrastructure(err error) bool {
	var target *InfrastructureError
	return errors.As(err, &target)
}

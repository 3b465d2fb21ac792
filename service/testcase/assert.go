package testcase

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/pmezard/go-difflib/difflib"
)

// TestingT is the subset of T used by the helpers below.
type TestingT interface {
	Errorf(format string, args ...interface{})
}

// TextDiff renders a unified diff between expected and actual.
func TextDiff(expected, actual string) string {
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(expected),
		B:        difflib.SplitLines(actual),
		FromFile: "expected",
		ToFile:   "actual",
		Context:  2,
	})
	if err != nil {
		return fmt.Sprintf("expected %q, actual %q", expected, actual)
	}
	return diff
}

// EqualText compares textual output, typically read back from a device, and
// reports a unified diff on mismatch.
func EqualText(t TestingT, expected, actual, what string) bool {
	if expected == actual {
		return true
	}
	t.Errorf("%s differs:\n%s", what, TextDiff(expected, actual))
	return false
}

// Errno extracts the errno carried by err, or 0.
func Errno(err error) syscall.Errno {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return 0
}

// ExpectErrno checks that a system call failed with want.
func ExpectErrno(t TestingT, err error, want syscall.Errno, call string) bool {
	if err == nil {
		t.Errorf("%s succeeded, expected %v", call, want)
		return false
	}
	if got := Errno(err); got != want {
		t.Errorf("%s failed with %v, expected %v", call, err, want)
		return false
	}
	return true
}

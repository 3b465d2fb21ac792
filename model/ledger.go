package model

import (
	"fmt"
	"time"
)

// LedgerKey is the single key the run ledger is stored under.
const LedgerKey = "current"

// RunLedger is the continuation token of an interrupted test run. Its presence
// on disk means a run must be resumed, never restarted.
//
// Next is the ordinal of the next case. Running is set, in the same atomic
// write, right before case Next starts and cleared once its outcome has been
// persisted; finding it set on boot means the case never returned.
type RunLedger struct {
	RunID        string    `json:"runId"`
	SubmissionID string    `json:"submissionId"`
	Next         int       `json:"next"`
	Running      bool      `json:"running"`
	Attempt      int       `json:"attempt"`
	StartedAt    time.Time `json:"startedAt"`
}

// Key returns the storage key.
func (l *RunLedger) Key() string { return LedgerKey }

// Validate rejects ledgers that cannot be resumed.
func (l *RunLedger) Validate(total int) error {
	switch {
	case l == nil:
		return fmt.Errorf("run ledger is nil")
	case l.RunID == "" || l.SubmissionID == "":
		return fmt.Errorf("run ledger: missing run or submission id")
	case l.Next < 0 || l.Next > total:
		return fmt.Errorf("run ledger: next ordinal %d out of range [0,%d]", l.Next, total)
	case l.Running && l.Next >= total:
		return fmt.Errorf("run ledger: case %d marked running but the run has %d cases", l.Next, total)
	case l.Attempt < 1:
		return fmt.Errorf("run ledger: invalid attempt %d", l.Attempt)
	}
	return nil
}

package model

import (
	"time"
)

// GradeRecord is the single score emitted per submission and queue pass.
type GradeRecord struct {
	SubmissionID string     `json:"submissionId"`
	RunID        string     `json:"runId,omitempty"`
	Submitters   Submitters `json:"submitters"`
	Score        float64    `json:"score"`
	MaxScore     float64    `json:"maxScore"`
	BuildFailed  bool       `json:"buildFailed,omitempty"`
	Diagnostic   string     `json:"diagnostic,omitempty"`
	GradedAt     time.Time  `json:"gradedAt"`
}

// Key returns the storage key.
func (g *GradeRecord) Key() string { return g.SubmissionID }

// Percent returns the score as a percentage of MaxScore.
func (g *GradeRecord) Percent() float64 {
	if g.MaxScore <= 0 {
		return 0
	}
	return 100 * g.Score / g.MaxScore
}

// StatRecord aggregates timing and verdict counts of one submission's run.
type StatRecord struct {
	SubmissionID string          `json:"submissionId"`
	RunID        string          `json:"runId,omitempty"`
	Submitters   Submitters      `json:"submitters"`
	Cases        int             `json:"cases"`
	Histogram    map[Verdict]int `json:"histogram"`
	TestTime     time.Duration   `json:"testTime"`
	// Boots is the number of boots the run spanned; Reboots the unplanned ones.
	Boots      int       `json:"boots"`
	Reboots    int       `json:"reboots"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Key returns the storage key.
func (s *StatRecord) Key() string { return s.SubmissionID }

// NewRecords aggregates outcomes into grade and stat records.
func NewRecords(ref *SubmissionRef, ledger *RunLedger, outcomes []*TestOutcome, maxScore float64, at time.Time) (*GradeRecord, *StatRecord) {
	grade := &GradeRecord{
		SubmissionID: ref.ID,
		Submitters:   ref.Identity(),
		MaxScore:     maxScore,
		GradedAt:     at,
	}
	stat := &StatRecord{
		SubmissionID: ref.ID,
		Submitters:   ref.Identity(),
		Cases:        len(outcomes),
		Histogram:    map[Verdict]int{},
		FinishedAt:   at,
	}
	if ledger != nil {
		grade.RunID = ledger.RunID
		stat.RunID = ledger.RunID
		stat.Boots = ledger.Attempt
		stat.Reboots = ledger.Attempt - 1
	}
	for _, outcome := range outcomes {
		stat.Histogram[outcome.Verdict]++
		stat.TestTime += outcome.Duration
		if outcome.Verdict.Passed() {
			grade.Score += outcome.Points
		}
	}
	return grade, stat
}

// NewBuildFailureRecords returns the zero score records of a submission that
// never reached test mode.
func NewBuildFailureRecords(ref *SubmissionRef, maxScore float64, diagnostic string, at time.Time) (*GradeRecord, *StatRecord) {
	grade, stat := NewRecords(ref, nil, nil, maxScore, at)
	grade.BuildFailed = true
	grade.Diagnostic = diagnostic
	return grade, stat
}

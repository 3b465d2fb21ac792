package progress

import (
	"context"
	"sync"
	"time"

	"github.com/viant/kgrader/internal/clock"
	"github.com/viant/kgrader/model"
)

// Delta represents an incremental counter change emitted by the test run.
// The fields are signed and therefore can be either positive (increment) or
// negative (decrement).
type Delta struct {
	Total    int
	Running  int
	Passed   int
	Failed   int
	Errored  int
	TimedOut int
	Crashed  int
}

// VerdictDelta returns the delta of one finished case.
func VerdictDelta(verdict model.Verdict) Delta {
	switch verdict {
	case model.VerdictPass:
		return Delta{Passed: 1}
	case model.VerdictFail:
		return Delta{Failed: 1}
	case model.VerdictTimeout:
		return Delta{TimedOut: 1}
	case model.VerdictCrash:
		return Delta{Crashed: 1}
	default:
		return Delta{Errored: 1}
	}
}

// Progress keeps aggregated case counters for one test run. It is safe for
// concurrent use.
type Progress struct {
	// Identification, informative only.
	RunID        string
	SubmissionID string
	StartedAt    time.Time

	// Counters, modified via Update().
	TotalCases    int
	RunningCases  int
	PassedCases   int
	FailedCases   int
	ErroredCases  int
	TimedOutCases int
	CrashedCases  int

	sync.Mutex
	onChange func(Progress)
}

// Done returns the number of cases with a verdict.
func (p *Progress) Done() int {
	return p.PassedCases + p.FailedCases + p.ErroredCases + p.TimedOutCases + p.CrashedCases
}

// Update applies the supplied delta to the tracker. If an onChange callback
// has been registered it is invoked with a copy of the updated tracker
// outside the critical section.
func (p *Progress) Update(d Delta) {
	if p == nil {
		return
	}

	p.Lock()

	p.TotalCases += d.Total
	p.RunningCases += d.Running
	p.PassedCases += d.Passed
	p.FailedCases += d.Failed
	p.ErroredCases += d.Errored
	p.TimedOutCases += d.TimedOut
	p.CrashedCases += d.Crashed

	snapshot := p.copy()
	cb := p.onChange

	p.Unlock()

	if cb != nil {
		cb(snapshot)
	}
}

// Snapshot returns a copy of the tracker suitable for read-only inspection.
func (p *Progress) Snapshot() Progress {
	if p == nil {
		return Progress{}
	}
	p.Lock()
	defer p.Unlock()
	return p.copy()
}

func (p *Progress) copy() Progress {
	return Progress{
		RunID:         p.RunID,
		SubmissionID:  p.SubmissionID,
		StartedAt:     p.StartedAt,
		TotalCases:    p.TotalCases,
		RunningCases:  p.RunningCases,
		PassedCases:   p.PassedCases,
		FailedCases:   p.FailedCases,
		ErroredCases:  p.ErroredCases,
		TimedOutCases: p.TimedOutCases,
		CrashedCases:  p.CrashedCases,
	}
}

// ----------------------------------------------------------------------------
// Context helpers
// ----------------------------------------------------------------------------

type trackerKeyT struct{}

var trackerKey trackerKeyT

// WithNewTracker creates a new Progress tracker, embeds it in a derived
// context and returns both.
func WithNewTracker(ctx context.Context, runID, submissionID string, onChange func(Progress)) (context.Context, *Progress) {
	if ctx == nil {
		ctx = context.Background()
	}
	tr := &Progress{
		RunID:        runID,
		SubmissionID: submissionID,
		StartedAt:    clock.Now(),
		onChange:     onChange,
	}
	return context.WithValue(ctx, trackerKey, tr), tr
}

// FromContext extracts the Progress tracker from ctx.
func FromContext(ctx context.Context) (*Progress, bool) {
	if ctx == nil {
		return nil, false
	}
	tr, ok := ctx.Value(trackerKey).(*Progress)
	return tr, ok
}

// UpdateCtx looks up the tracker in ctx (if any) and applies the delta.
func UpdateCtx(ctx context.Context, d Delta) {
	if tr, ok := FromContext(ctx); ok {
		tr.Update(d)
	}
}

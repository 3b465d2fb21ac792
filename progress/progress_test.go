package progress

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/viant/kgrader/model"
)

func TestProgress_Update(t *testing.T) {
	var seen []Progress
	ctx, tracker := WithNewTracker(context.Background(), "run-1", "hw1-alice", func(p Progress) {
		seen = append(seen, p)
	})
	UpdateCtx(ctx, Delta{Total: 3})
	for _, verdict := range []model.Verdict{model.VerdictPass, model.VerdictCrash, model.VerdictPass} {
		UpdateCtx(ctx, Delta{Running: 1})
		d := VerdictDelta(verdict)
		d.Running = -1
		UpdateCtx(ctx, d)
	}

	snapshot := tracker.Snapshot()
	assert.Equal(t, 3, snapshot.TotalCases)
	assert.Equal(t, 2, snapshot.PassedCases)
	assert.Equal(t, 1, snapshot.CrashedCases)
	assert.Equal(t, 0, snapshot.RunningCases)
	assert.Equal(t, 3, snapshot.Done())
	assert.Len(t, seen, 7)
	assert.Equal(t, "hw1-alice", seen[0].SubmissionID)

	var missing *Progress
	missing.Update(Delta{Total: 1})
	assert.Equal(t, 0, missing.Snapshot().TotalCases)
	UpdateCtx(context.Background(), Delta{Total: 1})
}

func TestVerdictDelta(t *testing.T) {
	assert.Equal(t, Delta{Failed: 1}, VerdictDelta(model.VerdictFail))
	assert.Equal(t, Delta{TimedOut: 1}, VerdictDelta(model.VerdictTimeout))
	assert.Equal(t, Delta{Errored: 1}, VerdictDelta(model.VerdictError))
}

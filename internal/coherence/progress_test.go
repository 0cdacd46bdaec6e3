package coherence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressTrackerSnapshots(t *testing.T) {
	var snapshots []Progress
	tracker := newProgressTracker(func(pr Progress) { snapshots = append(snapshots, pr) }, 2, 10)

	tracker.beginPass(1, passTransitions)
	tracker.emitFunc()(50, "s4", 5)
	tracker.completePass()
	tracker.beginPass(2, passSequences)

	require.Len(t, snapshots, 4)
	assert.Equal(t, 0.0, snapshots[0].PassProgress)
	assert.Equal(t, 50.0, snapshots[1].PassProgress)
	assert.Equal(t, "s4", snapshots[1].CurrentScene)
	assert.Equal(t, 5, snapshots[1].ScenesAnalyzed)
	assert.Equal(t, 100.0, snapshots[2].PassProgress)

	// A new pass resets the pass-local fields.
	assert.Equal(t, passSequences, snapshots[3].CurrentPass)
	assert.Equal(t, 0.0, snapshots[3].PassProgress)
	assert.Equal(t, "", snapshots[3].CurrentScene)
}

func TestProgressTrackerErrorsAreCopied(t *testing.T) {
	tracker := newProgressTracker(nil, 1, 1)
	tracker.recordError("pass failed")

	snap := tracker.snapshot()
	require.Equal(t, []string{"pass failed"}, snap.Errors)

	snap.Errors[0] = "mutated"
	assert.Equal(t, []string{"pass failed"}, tracker.snapshot().Errors)
}

func TestProgressTrackerETA(t *testing.T) {
	tracker := newProgressTracker(nil, 2, 10)

	// Nothing started yet: no estimate.
	assert.Equal(t, time.Duration(0), tracker.snapshot().EstimatedTimeRemaining)

	tracker.started = time.Now().Add(-time.Minute)
	tracker.beginPass(1, passTransitions)
	tracker.passPercent = 100

	// One of two passes done in a minute: about a minute to go.
	eta := tracker.snapshot().EstimatedTimeRemaining
	assert.InDelta(t, time.Minute.Seconds(), eta.Seconds(), 2)
}

func TestProgressTrackerCancelled(t *testing.T) {
	var last Progress
	tracker := newProgressTracker(func(pr Progress) { last = pr }, 1, 3)
	tracker.beginPass(1, passTransitions)
	tracker.markCancelled()

	assert.True(t, last.Cancelled)
	assert.True(t, tracker.snapshot().Cancelled)
}

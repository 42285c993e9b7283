package session

import (
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openlift/cable-coach/internal/machine"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func repEvent(rom, working, up, down int) machine.RepEvent {
	return machine.RepEvent{
		RomReps:         rom,
		WorkingReps:     working,
		UpTransitions:   up,
		DownTransitions: down,
	}
}

func TestRepCounter_WarmupClassification(t *testing.T) {
	rc := NewRepCounter(testLogger())
	rc.Configure(2, 8, false, false, false)

	rc.Process(repEvent(1, 0, 1, 1))
	counts := rc.Counts()
	assert.Equal(t, 1, counts.WarmupReps)
	assert.Equal(t, 0, counts.WorkingReps)
	assert.False(t, counts.IsWarmupComplete)
	assert.False(t, rc.WarmupComplete())

	rc.Process(repEvent(2, 0, 2, 2))
	counts = rc.Counts()
	assert.Equal(t, 2, counts.WarmupReps)
	assert.Equal(t, 0, counts.WorkingReps)
	assert.True(t, counts.IsWarmupComplete)
	assert.True(t, rc.WarmupComplete())

	rc.Process(repEvent(5, 3, 5, 5))
	counts = rc.Counts()
	assert.Equal(t, 2, counts.WarmupReps)
	assert.Equal(t, 3, counts.WorkingReps)
	assert.Equal(t, 5, counts.TotalReps)
	assert.False(t, rc.ShouldStopWorkout())

	rc.Process(repEvent(10, 8, 10, 10))
	assert.Equal(t, 8, rc.Counts().WorkingReps)
	assert.True(t, rc.ShouldStopWorkout())
}

func TestRepCounter_LegacyEdgeCounting(t *testing.T) {
	rc := NewRepCounter(testLogger())
	rc.Configure(0, 10, false, false, false)

	// Both authoritative counters zero while the transitions move: the
	// frame is treated as legacy and reps count per completed eccentric.
	rc.Process(repEvent(0, 0, 2, 1))
	assert.Equal(t, 1, rc.Counts().TotalReps)

	rc.Process(repEvent(0, 0, 4, 3))
	assert.Equal(t, 3, rc.Counts().TotalReps)

	// An explicitly marked legacy frame ignores its counters too.
	ev := repEvent(7, 7, 5, 4)
	ev.Legacy = true
	rc.Process(ev)
	assert.Equal(t, 4, rc.Counts().TotalReps)
}

func TestRepCounter_LegacyStopAtTopCountsUpTransitions(t *testing.T) {
	rc := NewRepCounter(testLogger())
	rc.Configure(0, 6, false, true, false)

	rc.Process(repEvent(0, 0, 3, 2))
	assert.Equal(t, 3, rc.Counts().TotalReps)
}

func TestRepCounter_StopAtTopUpCounterLeads(t *testing.T) {
	rc := NewRepCounter(testLogger())
	rc.Configure(0, 6, false, true, false)

	// The final concentric finishes before the firmware closes the rep
	// boundary; the up counter is already ahead.
	rc.Process(repEvent(5, 5, 6, 5))
	counts := rc.Counts()
	assert.Equal(t, 6, counts.TotalReps)
	assert.Equal(t, 6, counts.WorkingReps)
	assert.True(t, rc.ShouldStopWorkout())
}

func TestRepCounter_TotalsNeverDecrease(t *testing.T) {
	rc := NewRepCounter(testLogger())
	rc.Configure(0, 10, false, false, false)

	rc.Process(repEvent(5, 5, 5, 5))
	assert.Equal(t, 5, rc.Counts().TotalReps)

	// A stale or duplicated frame with a lower count is dropped.
	rc.Process(repEvent(3, 3, 3, 3))
	assert.Equal(t, 5, rc.Counts().TotalReps)

	rc.Process(repEvent(5, 5, 5, 5))
	assert.Equal(t, 5, rc.Counts().TotalReps)
}

func TestRepCounter_JustLiftCountsEverythingAsWorking(t *testing.T) {
	rc := NewRepCounter(testLogger())
	rc.Configure(0, 0, true, false, true)

	rc.Process(repEvent(4, 0, 4, 4))
	counts := rc.Counts()
	assert.Equal(t, 0, counts.WarmupReps)
	assert.Equal(t, 4, counts.WorkingReps)
	assert.False(t, rc.ShouldStopWorkout(), "open sets have no target to stop at")
}

func TestRepCounter_ResetVariants(t *testing.T) {
	rc := NewRepCounter(testLogger())
	rc.Configure(1, 5, false, false, false)

	rc.UpdatePositionRanges(0, 10)
	rc.UpdatePositionRanges(100, 90)
	rc.Process(repEvent(3, 2, 3, 3))

	assert.Equal(t, 3, rc.Counts().TotalReps)
	assert.InDelta(t, 100.0, rc.Ranges().RangeA(), 1e-9)
	assert.InDelta(t, 80.0, rc.Ranges().RangeB(), 1e-9)

	// Between sets of the same exercise the calibration survives.
	rc.ResetCountsOnly()
	assert.Equal(t, RepCount{}, rc.Counts())
	assert.InDelta(t, 100.0, rc.Ranges().RangeA(), 1e-9)
	assert.True(t, rc.HasMeaningfulRange(DefaultMeaningfulRange))

	// A new exercise starts from scratch.
	rc.Process(repEvent(2, 1, 2, 2))
	rc.Reset()
	assert.Equal(t, RepCount{}, rc.Counts())
	assert.Zero(t, rc.Ranges().RangeA())
	assert.False(t, rc.HasMeaningfulRange(DefaultMeaningfulRange))
}

func TestRepCounter_DangerZone(t *testing.T) {
	rc := NewRepCounter(testLogger())

	// Uncalibrated: nothing is a danger zone.
	assert.False(t, rc.IsInDangerZone(1, 1, DefaultMeaningfulRange))

	rc.UpdatePositionRanges(0, 0)
	rc.UpdatePositionRanges(100, 20)

	// Cable A spans 100, so its danger zone is the bottom 5 units.
	assert.True(t, rc.IsInDangerZone(4, 50, DefaultMeaningfulRange))
	assert.False(t, rc.IsInDangerZone(6, 50, DefaultMeaningfulRange))

	// Cable B's span is under the threshold; its position never triggers.
	assert.False(t, rc.IsInDangerZone(50, 0, DefaultMeaningfulRange))
}

func TestRepCounter_WarmupCompleteBeforeFirstEvent(t *testing.T) {
	rc := NewRepCounter(testLogger())

	rc.Configure(0, 5, false, false, false)
	assert.True(t, rc.WarmupComplete(), "zero warmup target is satisfied immediately")

	rc.Configure(2, 5, false, false, false)
	assert.False(t, rc.WarmupComplete())
}

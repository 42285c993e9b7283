package session

import (
	"log"

	"github.com/openlift/cable-coach/internal/machine"
)

// DefaultMeaningfulRange is the ROM span (position units) above which a
// cable's calibration counts as established.
const DefaultMeaningfulRange = 50.0

// dangerZoneFraction is the bottom slice of a calibrated ROM treated as the
// danger zone.
const dangerZoneFraction = 0.05

// RepCount is the classified rep tally for one set. Monotonically
// non-decreasing between resets.
type RepCount struct {
	WarmupReps       int
	WorkingReps      int
	TotalReps        int
	IsWarmupComplete bool
}

// RepRanges is the observed per-cable position envelope. Widened on every
// telemetry sample, including before the set starts.
type RepRanges struct {
	MinA, MaxA float64
	MinB, MaxB float64
	SeenA      bool
	SeenB      bool
}

// RangeA returns cable A's observed span.
func (r RepRanges) RangeA() float64 {
	if !r.SeenA {
		return 0
	}
	return r.MaxA - r.MinA
}

// RangeB returns cable B's observed span.
func (r RepRanges) RangeB() float64 {
	if !r.SeenB {
		return 0
	}
	return r.MaxB - r.MinB
}

// RepCounter classifies device rep-boundary events into warmup and working
// reps and tracks ROM calibration. Owned by the engine goroutine; not safe
// for concurrent use.
type RepCounter struct {
	logger *log.Logger

	warmupTarget  int
	workingTarget int
	isJustLift    bool
	stopAtTop     bool
	isAMRAP       bool

	counts RepCount
	ranges RepRanges
}

func NewRepCounter(logger *log.Logger) *RepCounter {
	if logger == nil {
		panic("RepCounter: logger cannot be nil")
	}
	return &RepCounter{logger: logger}
}

// Configure sets the targets for the upcoming set. Counts are not touched;
// call Reset or ResetCountsOnly separately.
func (rc *RepCounter) Configure(warmupTarget, workingTarget int, isJustLift, stopAtTop, isAMRAP bool) {
	rc.warmupTarget = warmupTarget
	rc.workingTarget = workingTarget
	rc.isJustLift = isJustLift
	rc.stopAtTop = stopAtTop
	rc.isAMRAP = isAMRAP
}

// Process folds one boundary event into the tally.
//
// Firmware that reports the authoritative ROM/working counters is trusted
// directly. Events with both counters zero while the transition counters
// moved are legacy frames: those are edge-counted, a rep per completed
// eccentric (down transition), or per completed concentric when the set
// stops at the top.
func (rc *RepCounter) Process(ev machine.RepEvent) {
	legacy := ev.Legacy || (ev.RomReps == 0 && ev.WorkingReps == 0 && (ev.UpTransitions > 0 || ev.DownTransitions > 0))

	var total int
	if legacy {
		total = ev.DownTransitions
		if rc.stopAtTop {
			total = ev.UpTransitions
		}
	} else {
		total = ev.RomReps
		if ev.WorkingReps > total {
			total = ev.WorkingReps
		}
		// A stop-at-top set ends mid-boundary; the up counter leads.
		if rc.stopAtTop && ev.UpTransitions > total {
			total = ev.UpTransitions
		}
	}

	if total <= rc.counts.TotalReps {
		return
	}

	warmup := total
	if !rc.isJustLift && warmup > rc.warmupTarget {
		warmup = rc.warmupTarget
	}
	if rc.isJustLift {
		warmup = 0
	}

	rc.counts.TotalReps = total
	rc.counts.WarmupReps = warmup
	rc.counts.WorkingReps = total - warmup
	rc.counts.IsWarmupComplete = rc.warmupTarget == 0 || warmup >= rc.warmupTarget

	rc.logger.Printf("RepCounter: total %d (warmup %d/%d, working %d, legacy=%t)",
		total, warmup, rc.warmupTarget, rc.counts.WorkingReps, legacy)
}

// UpdatePositionRanges widens the per-cable envelope. Called on every
// telemetry sample regardless of session phase, so calibration builds before
// the user starts.
func (rc *RepCounter) UpdatePositionRanges(posA, posB float64) {
	if !rc.ranges.SeenA {
		rc.ranges.MinA, rc.ranges.MaxA = posA, posA
		rc.ranges.SeenA = true
	} else {
		if posA < rc.ranges.MinA {
			rc.ranges.MinA = posA
		}
		if posA > rc.ranges.MaxA {
			rc.ranges.MaxA = posA
		}
	}
	if !rc.ranges.SeenB {
		rc.ranges.MinB, rc.ranges.MaxB = posB, posB
		rc.ranges.SeenB = true
	} else {
		if posB < rc.ranges.MinB {
			rc.ranges.MinB = posB
		}
		if posB > rc.ranges.MaxB {
			rc.ranges.MaxB = posB
		}
	}
}

// HasMeaningfulRange reports whether either cable's envelope exceeds the
// threshold.
func (rc *RepCounter) HasMeaningfulRange(threshold float64) bool {
	return rc.ranges.RangeA() > threshold || rc.ranges.RangeB() > threshold
}

// IsInDangerZone reports whether a calibrated cable sits within the bottom
// 5% of its envelope.
func (rc *RepCounter) IsInDangerZone(posA, posB, threshold float64) bool {
	if rc.ranges.SeenA {
		if span := rc.ranges.RangeA(); span > threshold && posA-rc.ranges.MinA <= dangerZoneFraction*span {
			return true
		}
	}
	if rc.ranges.SeenB {
		if span := rc.ranges.RangeB(); span > threshold && posB-rc.ranges.MinB <= dangerZoneFraction*span {
			return true
		}
	}
	return false
}

// WarmupComplete reports whether warmup gating is satisfied. A zero warmup
// target is satisfied before the first event arrives.
func (rc *RepCounter) WarmupComplete() bool {
	return rc.warmupTarget == 0 || rc.counts.IsWarmupComplete
}

// ShouldStopWorkout reports whether the working target is met. Never true
// for AMRAP or JustLift sets.
func (rc *RepCounter) ShouldStopWorkout() bool {
	if rc.isAMRAP || rc.isJustLift || rc.workingTarget <= 0 {
		return false
	}
	return rc.counts.WorkingReps >= rc.workingTarget
}

// Reset zeroes counts and ranges. Use when the exercise changes.
func (rc *RepCounter) Reset() {
	rc.counts = RepCount{}
	rc.ranges = RepRanges{}
}

// ResetCountsOnly zeroes counts but keeps ROM calibration. Use between sets
// of the same exercise.
func (rc *RepCounter) ResetCountsOnly() {
	rc.counts = RepCount{}
}

// Counts returns the current tally.
func (rc *RepCounter) Counts() RepCount {
	return rc.counts
}

// Ranges returns the observed envelope.
func (rc *RepCounter) Ranges() RepRanges {
	return rc.ranges
}

package session

import (
	"log"
	"time"

	"github.com/openlift/cable-coach/internal/machine"
)

// Detector tuning. Velocities are in position units per second.
const (
	stallVelocityLow  = 2.5  // below arms the stall timer
	stallVelocityHigh = 10.0 // above clears it; in between preserves state
	stallDuration     = 5 * time.Second

	positionDuration = 2500 * time.Millisecond
	restPositionMax  = 2.5  // absolute-rest position
	releaseProximity = 10.0 // units above a cable's min that still reads released

	startupGrace = 8 * time.Second
)

// AutoStopEvaluator decides when an unattended or idle set should be
// force-completed. Two detectors run independently on every telemetry
// sample. Time comes from sample timestamps, never the wall clock, so the
// detectors are deterministic. Owned by the engine goroutine.
type AutoStopEvaluator struct {
	logger  *log.Logger
	counter *RepCounter

	stallEnabled bool
	graceApplies bool
	sessionStart time.Time

	// Zero time means the detector is not counting.
	stallSince   time.Time
	bothLowSince time.Time
	dangerSince  time.Time

	handleReleased bool
	lastSample     machine.TelemetrySample
	haveSample     bool

	requested bool
}

func NewAutoStopEvaluator(counter *RepCounter, logger *log.Logger) *AutoStopEvaluator {
	if counter == nil {
		panic("AutoStopEvaluator: counter cannot be nil")
	}
	if logger == nil {
		panic("AutoStopEvaluator: logger cannot be nil")
	}
	return &AutoStopEvaluator{logger: logger, counter: counter}
}

// Arm prepares the evaluator for a new set. The one-shot request flag is
// cleared here and in Reset, nowhere else.
func (a *AutoStopEvaluator) Arm(sessionStart time.Time, stallEnabled, graceApplies bool) {
	a.sessionStart = sessionStart
	a.stallEnabled = stallEnabled
	a.graceApplies = graceApplies
	a.handleReleased = false
	a.haveSample = false
	a.requested = false
	a.ClearTimers()
}

// Reset fully disarms the evaluator. Called at set-completion finalize.
func (a *AutoStopEvaluator) Reset() {
	a.Arm(time.Time{}, false, false)
}

// ClearTimers drops any counting detector without touching the request flag.
// Sample timestamps keep advancing through a pause, so detectors restart on
// resume instead of firing with the pause counted as stall time.
func (a *AutoStopEvaluator) ClearTimers() {
	a.stallSince = time.Time{}
	a.bothLowSince = time.Time{}
	a.dangerSince = time.Time{}
}

// NoteHandleState feeds the handle stream into the release condition.
func (a *AutoStopEvaluator) NoteHandleState(state machine.HandleState) {
	a.handleReleased = state == machine.HandleReleased
}

// Evaluate folds one telemetry sample into the detectors and reports whether
// completion is requested. At most one Evaluate ever returns true between
// Arm calls.
func (a *AutoStopEvaluator) Evaluate(sample machine.TelemetrySample) bool {
	a.lastSample = sample
	a.haveSample = true
	return a.evaluateAt(sample)
}

// ForceEvaluate re-runs the detectors against the most recent sample. Used
// when a deload signal arrives between samples.
func (a *AutoStopEvaluator) ForceEvaluate() bool {
	if !a.haveSample {
		return false
	}
	return a.evaluateAt(a.lastSample)
}

func (a *AutoStopEvaluator) evaluateAt(s machine.TelemetrySample) bool {
	if a.requested {
		return false
	}
	now := s.Timestamp

	if a.inGrace(now) {
		a.ClearTimers()
		return false
	}

	a.updateStall(s, now)
	a.updatePosition(s, now)

	if a.stallEnabled && !a.stallSince.IsZero() && now.Sub(a.stallSince) >= stallDuration {
		return a.request("velocity stall")
	}
	if !a.bothLowSince.IsZero() && now.Sub(a.bothLowSince) >= positionDuration {
		return a.request("both cables at rest")
	}
	if !a.dangerSince.IsZero() && now.Sub(a.dangerSince) >= positionDuration {
		return a.request("released in danger zone")
	}
	return false
}

// inGrace reports whether the startup window still suppresses detection: 8s
// from session start or until a meaningful ROM shows up, whichever ends
// first. Only AMRAP/JustLift sets get the window; rep-target sets are
// already gated on warmup completion.
func (a *AutoStopEvaluator) inGrace(now time.Time) bool {
	if !a.graceApplies {
		return false
	}
	if a.counter.HasMeaningfulRange(DefaultMeaningfulRange) {
		return false
	}
	return now.Sub(a.sessionStart) < startupGrace
}

func (a *AutoStopEvaluator) updateStall(s machine.TelemetrySample, now time.Time) {
	if !a.stallEnabled {
		return
	}
	v := s.Left.Velocity
	if v < 0 {
		v = -v
	}
	if r := s.Right.Velocity; r > v {
		v = r
	} else if -r > v {
		v = -r
	}

	switch {
	case v < stallVelocityLow:
		if a.stallSince.IsZero() {
			a.stallSince = now
		}
	case v > stallVelocityHigh:
		a.stallSince = time.Time{}
	}
	// Between the thresholds: preserve whatever state the timer is in.
}

func (a *AutoStopEvaluator) updatePosition(s machine.TelemetrySample, now time.Time) {
	posA, posB := s.Left.Position, s.Right.Position

	bothLow := posA < restPositionMax && posB < restPositionMax &&
		a.counter.HasMeaningfulRange(DefaultMeaningfulRange)
	if bothLow {
		if a.bothLowSince.IsZero() {
			a.bothLowSince = now
		}
	} else {
		a.bothLowSince = time.Time{}
	}

	danger := a.cableReleasedInDanger(posA, posB)
	if danger {
		if a.dangerSince.IsZero() {
			a.dangerSince = now
		}
	} else {
		a.dangerSince = time.Time{}
	}
}

// cableReleasedInDanger checks condition (b): a calibrated cable inside its
// danger zone that also appears released: position below the rest
// threshold, within releaseProximity of its min, or the handle stream says
// so.
func (a *AutoStopEvaluator) cableReleasedInDanger(posA, posB float64) bool {
	ranges := a.counter.Ranges()

	check := func(pos, lo, span float64) bool {
		if span <= DefaultMeaningfulRange {
			return false
		}
		if pos-lo > dangerZoneFraction*span {
			return false
		}
		return pos < restPositionMax || pos-lo <= releaseProximity || a.handleReleased
	}

	if ranges.SeenA && check(posA, ranges.MinA, ranges.RangeA()) {
		return true
	}
	if ranges.SeenB && check(posB, ranges.MinB, ranges.RangeB()) {
		return true
	}
	return false
}

func (a *AutoStopEvaluator) request(reason string) bool {
	a.requested = true
	a.logger.Printf("AutoStop: requesting completion (%s)", reason)
	return true
}

// UiState derives the observable countdown from the detector timers. The
// stall detector takes priority when both are counting.
func (a *AutoStopEvaluator) UiState() AutoStopUiState {
	if !a.haveSample || a.requested {
		return AutoStopUiState{}
	}
	now := a.lastSample.Timestamp

	if a.stallEnabled && !a.stallSince.IsZero() {
		return countdownState(now.Sub(a.stallSince), stallDuration)
	}

	var elapsed time.Duration
	counting := false
	if !a.bothLowSince.IsZero() {
		elapsed = now.Sub(a.bothLowSince)
		counting = true
	}
	if !a.dangerSince.IsZero() {
		if d := now.Sub(a.dangerSince); !counting || d > elapsed {
			elapsed = d
		}
		counting = true
	}
	if !counting {
		return AutoStopUiState{}
	}
	return countdownState(elapsed, positionDuration)
}

func countdownState(elapsed, total time.Duration) AutoStopUiState {
	if elapsed < 0 {
		elapsed = 0
	}
	progress := float64(elapsed) / float64(total)
	if progress > 1 {
		progress = 1
	}
	remaining := (total - elapsed).Seconds()
	if remaining < 0 {
		remaining = 0
	}
	return AutoStopUiState{IsActive: true, Progress: progress, SecondsRemaining: remaining}
}

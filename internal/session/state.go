package session

import (
	"time"

	"github.com/openlift/cable-coach/internal/machine"
)

// Phase enumerates the session state machine. Exactly one phase is live at a
// time; only the engine moves between them, through setState.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseInitializing
	PhaseCountdown
	PhaseActive
	PhasePaused
	PhaseResting
	PhaseSetSummary
	PhaseCompleted
)

var phaseNames = map[Phase]string{
	PhaseIdle:         "Idle",
	PhaseInitializing: "Initializing",
	PhaseCountdown:    "Countdown",
	PhaseActive:       "Active",
	PhasePaused:       "Paused",
	PhaseResting:      "Resting",
	PhaseSetSummary:   "Set Summary",
	PhaseCompleted:    "Completed",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return "Unknown"
}

// validTransitions is the authoritative edge set of the state machine. Every
// setState call is checked against it; an edge missing here is a bug, logged
// loudly and refused.
var validTransitions = map[Phase][]Phase{
	PhaseIdle:         {PhaseInitializing},
	PhaseInitializing: {PhaseCountdown, PhaseActive, PhaseIdle},
	PhaseCountdown:    {PhaseActive, PhaseIdle, PhaseInitializing},
	PhaseActive:       {PhasePaused, PhaseSetSummary, PhaseResting, PhaseIdle, PhaseCompleted, PhaseInitializing},
	PhasePaused:       {PhaseActive, PhaseIdle, PhaseInitializing},
	PhaseResting:      {PhaseInitializing, PhaseActive, PhaseIdle, PhaseCompleted},
	PhaseSetSummary:   {PhaseResting, PhaseInitializing, PhaseIdle, PhaseCompleted},
	PhaseCompleted:    {PhaseIdle, PhaseInitializing},
}

func canTransition(from, to Phase) bool {
	if from == to {
		return true
	}
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CompletionReason says what ended a set.
type CompletionReason int

const (
	ReasonTarget CompletionReason = iota
	ReasonAutoStop
	ReasonManual
	ReasonDuration // bodyweight timer ran out
)

var reasonNames = map[CompletionReason]string{
	ReasonTarget:   "target reached",
	ReasonAutoStop: "auto-stop",
	ReasonManual:   "manual stop",
	ReasonDuration: "time up",
}

func (r CompletionReason) String() string {
	if name, ok := reasonNames[r]; ok {
		return name
	}
	return "unknown"
}

// SetSummary is the record of one finished set, shown on the summary screen
// and handed to the history store.
type SetSummary struct {
	SessionID    string
	ExerciseName string
	Mode         machine.ResistanceMode
	SetIndex     int // 0-based
	TotalSets    int
	WarmupReps   int
	WorkingReps  int
	WeightKg     float64
	StartedAt    time.Time
	Duration     time.Duration
	Reason       CompletionReason
}

// SessionRecord is the whole-session row persisted when a session ends.
// RoutineName is empty for JustLift sessions; TotalVolume is the sum of
// weight times working reps in kg.
type SessionRecord struct {
	ID          string
	RoutineName string
	JustLift    bool
	StartedAt   time.Time
	EndedAt     time.Time
	SetsDone    int
	WorkingReps int
	TotalVolume float64
}

// SessionState is the phase snapshot published to the model. SetIndex is
// 0-based within the current exercise. SecondsRemaining counts down during
// Countdown, Resting, SetSummary and bodyweight Active phases; NextLabel and
// SupersetChange describe the upcoming step while Resting.
type SessionState struct {
	Phase            Phase
	ExerciseName     string
	Mode             machine.ResistanceMode
	WeightKg         float64
	SetIndex         int
	TotalSets        int
	SecondsRemaining int
	NextLabel        string
	SupersetChange   bool
	Summary          *SetSummary
}

// AutoStopUiState mirrors the evaluator's countdown for display. Purely
// observational.
type AutoStopUiState struct {
	IsActive         bool
	Progress         float64 // 0..1
	SecondsRemaining float64
}

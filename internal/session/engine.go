package session

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openlift/cable-coach/internal/machine"
	"github.com/openlift/cable-coach/internal/prefs"
	"github.com/openlift/cable-coach/internal/routine"
	"github.com/openlift/cable-coach/internal/syncutil"
)

// justLiftName is the exercise name recorded for free-lift sets. Weight
// pre-fill looks history up under the same name.
const justLiftName = "Just Lift"

// maxSessionSamples caps the per-set telemetry buffer (an hour at 10 Hz).
const maxSessionSamples = 36000

// Device is the slice of the machine link the engine drives. Subscribe
// methods deliver onto the given channel until the returned function is
// called.
type Device interface {
	Configure(cmd machine.ParameterCommand) error
	Start() error
	Stop() error
	SetColor(c machine.Color) error
	SubscribeTelemetry(ch chan<- machine.TelemetrySample) func()
	SubscribeReps(ch chan<- machine.RepEvent) func()
	SubscribeHandles(ch chan<- machine.HandleState) func()
	SubscribeDeload(ch chan<- machine.DeloadEvent) func()
}

var _ Device = (*machine.Link)(nil)

// ErrNoHistory is returned by History lookups when an exercise has no
// recorded sets yet.
var ErrNoHistory = errors.New("no history for exercise")

// History persists finished work and answers weight pre-fill queries.
// Save failures are logged and never interrupt a session.
type History interface {
	SaveSession(record SessionRecord) error
	SaveCompletedSet(set SetSummary) error
	SaveMetrics(sessionID string, samples []machine.TelemetrySample) error
	LastWeight(exerciseName string) (float64, error)
}

// Config carries the engine tunables from the application config.
type Config struct {
	// CountdownSeconds is the get-ready countdown before each loaded set.
	// Zero skips straight to configuration.
	CountdownSeconds int
	// SettleDelay is the gap between the configure write and the start
	// command, giving the motor time to take up the load.
	SettleDelay time.Duration
}

type commandKind int

const (
	cmdStartRoutine commandKind = iota
	cmdStartJustLift
	cmdPause
	cmdResume
	cmdStopExit
	cmdStopRetry
	cmdSkipRest
	cmdSkipCountdown
	cmdAdvanceSummary
	cmdNavigateNext
	cmdNavigatePrev
	cmdAdjustWeight
	cmdTimerFired
)

type engineCommand struct {
	kind     commandKind
	routine  *routine.Routine // cmdStartRoutine
	deltaKg  float64          // cmdAdjustWeight
	timer    timerKind        // cmdTimerFired
	timerGen uint64           // cmdTimerFired
}

type timerKind int

const (
	timerCountdown timerKind = iota
	timerSettle
	timerAutoStart
	timerBodyweight
	timerRest
	timerSummary
)

var timerNames = map[timerKind]string{
	timerCountdown:  "countdown",
	timerSettle:     "settle",
	timerAutoStart:  "auto-start",
	timerBodyweight: "bodyweight",
	timerRest:       "rest",
	timerSummary:    "summary",
}

// timerHandle pairs a running timer with the generation it was armed
// under. A fire notification whose generation no longer matches is stale
// and gets dropped.
type timerHandle struct {
	gen   uint64
	timer *time.Timer
}

// sessionContext is the working state of one session, created at start
// and discarded when the session ends. Only the engine goroutine touches
// it.
type sessionContext struct {
	id        string
	startedAt time.Time
	justLift  bool

	routine   *routine.Routine
	sequencer *routine.Sequencer
	step      routine.Step
	exercise  *routine.Exercise // nil for free lifting
	params    SetParameters

	setStartedAt time.Time
	samples      []machine.TelemetrySample

	setsDone     int
	workingTotal int
	volume       float64

	nextStep routine.Step
	hasNext  bool

	countdownEndsAt  time.Time
	restEndsAt       time.Time
	summaryEndsAt    time.Time
	bodyweightEndsAt time.Time
	pausedRemaining  time.Duration
}

func (s *sessionContext) bodyweight() bool {
	return s.exercise != nil && s.exercise.IsBodyweight()
}

// Engine drives sessions end to end: sequencing sets, commanding the
// machine, counting reps, evaluating auto-stop, and publishing state to
// the model.
//
// Concurrency model: one goroutine owns everything. Public methods post
// commands onto cmdChan; machine events arrive on their own channels;
// timers post fire notifications. The run loop consumes all of them, so
// handlers never race. The mutex guards only the published state
// snapshot, read by buildState and the public phase check.
type Engine struct {
	model   *Model
	device  Device
	history History
	prefs   *prefs.Manager
	cfg     Config
	logger  *log.Logger

	mu    sync.RWMutex
	state SessionState

	// Owned by the run goroutine.
	counter        *RepCounter
	autoStop       *AutoStopEvaluator
	led            *LedFeedbackController
	sess           *sessionContext
	timers         map[timerKind]*timerHandle
	timerGen       uint64
	completionDone bool // one finalize per set, no matter how many triggers fire
	stopSent       bool
	lastHandle     machine.HandleState

	cmdChan     chan engineCommand
	telemetryCh chan machine.TelemetrySample
	repCh       chan machine.RepEvent
	handleCh    chan machine.HandleState
	deloadCh    chan machine.DeloadEvent
	cancelSubs  []func()

	doneChan     chan struct{}
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

// NewEngine wires the engine to its collaborators and starts the run
// goroutine. Use Shutdown to stop it.
func NewEngine(model *Model, device Device, history History, prefsManager *prefs.Manager, cfg Config, logger *log.Logger) *Engine {
	if model == nil {
		panic("session: model cannot be nil")
	}
	if device == nil {
		panic("session: device cannot be nil")
	}
	if history == nil {
		panic("session: history cannot be nil")
	}
	if prefsManager == nil {
		panic("session: prefsManager cannot be nil")
	}
	if logger == nil {
		panic("session: logger cannot be nil")
	}

	e := &Engine{
		model:       model,
		device:      device,
		history:     history,
		prefs:       prefsManager,
		cfg:         cfg,
		logger:      logger,
		state:       SessionState{Phase: PhaseIdle},
		timers:      make(map[timerKind]*timerHandle),
		cmdChan:     make(chan engineCommand, 32),
		telemetryCh: make(chan machine.TelemetrySample, 64),
		repCh:       make(chan machine.RepEvent, 16),
		handleCh:    make(chan machine.HandleState, 8),
		deloadCh:    make(chan machine.DeloadEvent, 4),
		doneChan:    make(chan struct{}),
	}
	e.counter = NewRepCounter(logger)
	e.autoStop = NewAutoStopEvaluator(e.counter, logger)
	e.led = NewLedFeedbackController(device.SetColor, logger)

	e.cancelSubs = []func(){
		device.SubscribeTelemetry(e.telemetryCh),
		device.SubscribeReps(e.repCh),
		device.SubscribeHandles(e.handleCh),
		device.SubscribeDeload(e.deloadCh),
	}

	e.wg.Add(1)
	syncutil.Go(logger, func() { e.runLoop() })
	return e
}

// Shutdown detaches from the machine and stops the run goroutine. It
// does not end a running session first; callers that want the session
// persisted call StopAndExit and let it settle before shutting down.
func (e *Engine) Shutdown() {
	e.shutdownOnce.Do(func() {
		e.logger.Println("Engine: Shutting down")
		for _, cancel := range e.cancelSubs {
			cancel()
		}
		close(e.doneChan)
		e.wg.Wait()
		e.logger.Println("Engine: Shutdown complete")
	})
}

// StartRoutine begins a routine session. Rejected with a status message
// while another session is running.
func (e *Engine) StartRoutine(r *routine.Routine) {
	if r == nil {
		e.logger.Println("Engine: StartRoutine called with nil routine")
		return
	}
	e.logger.Printf("Engine: StartRoutine %q requested", r.Name)
	e.post(engineCommand{kind: cmdStartRoutine, routine: r})
}

// StartJustLift begins a free-lift session at the last recorded weight.
func (e *Engine) StartJustLift() {
	e.logger.Println("Engine: StartJustLift requested")
	e.post(engineCommand{kind: cmdStartJustLift})
}

// Pause freezes the current set. The load stays on the cables.
func (e *Engine) Pause() {
	e.post(engineCommand{kind: cmdPause})
}

// Resume continues a paused set. Auto-stop timers restart from zero so
// the pause gap is never counted as stall time.
func (e *Engine) Resume() {
	e.post(engineCommand{kind: cmdResume})
}

// StopAndExit ends the session from any phase. A set in progress is
// persisted with a manual-stop reason.
func (e *Engine) StopAndExit() {
	e.post(engineCommand{kind: cmdStopExit})
}

// StopAndRetry abandons the set in progress and restarts the same step.
// The aborted attempt is discarded, not recorded.
func (e *Engine) StopAndRetry() {
	e.post(engineCommand{kind: cmdStopRetry})
}

// SkipRest advances to the queued set immediately.
func (e *Engine) SkipRest() {
	e.post(engineCommand{kind: cmdSkipRest})
}

// SkipCountdown cuts the get-ready countdown short.
func (e *Engine) SkipCountdown() {
	e.post(engineCommand{kind: cmdSkipCountdown})
}

// AdvanceSummary dismisses the set-summary screen.
func (e *Engine) AdvanceSummary() {
	e.post(engineCommand{kind: cmdAdvanceSummary})
}

// NextStep jumps forward one step while resting or on the summary
// screen. Mid-set it is refused with a status message.
func (e *Engine) NextStep() {
	e.post(engineCommand{kind: cmdNavigateNext})
}

// PreviousStep jumps back one step, typically to redo the set just
// finished.
func (e *Engine) PreviousStep() {
	e.post(engineCommand{kind: cmdNavigatePrev})
}

// AdjustWeight shifts the working weight by deltaKg during a set. The
// result is clamped to the machine's range and reconfigured live.
func (e *Engine) AdjustWeight(deltaKg float64) {
	e.post(engineCommand{kind: cmdAdjustWeight, deltaKg: deltaKg})
}

func (e *Engine) post(cmd engineCommand) {
	select {
	case e.cmdChan <- cmd:
	case <-e.doneChan:
	}
}

func (e *Engine) runLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-e.doneChan:
			e.cancelAllTimers()
			e.logger.Println("Engine: goroutine exiting")
			return
		case cmd := <-e.cmdChan:
			e.handleCommand(cmd)
		case sample := <-e.telemetryCh:
			e.handleTelemetry(sample)
		case ev := <-e.repCh:
			e.handleRepEvent(ev)
		case hs := <-e.handleCh:
			e.handleHandleState(hs)
		case ev := <-e.deloadCh:
			e.handleDeload(ev)
		case <-ticker.C:
			e.handleTick()
		}
	}
}

func (e *Engine) handleCommand(cmd engineCommand) {
	switch cmd.kind {
	case cmdStartRoutine:
		e.handleStartRoutine(cmd.routine)
	case cmdStartJustLift:
		e.handleStartJustLift()
	case cmdPause:
		e.handlePause()
	case cmdResume:
		e.handleResume()
	case cmdStopExit:
		e.handleStopExit()
	case cmdStopRetry:
		e.handleStopRetry()
	case cmdSkipRest:
		e.handleSkipRest()
	case cmdSkipCountdown:
		e.handleSkipCountdown()
	case cmdAdvanceSummary:
		e.handleAdvanceSummary()
	case cmdNavigateNext:
		e.handleNavigate(true)
	case cmdNavigatePrev:
		e.handleNavigate(false)
	case cmdAdjustWeight:
		e.handleAdjustWeight(cmd.deltaKg)
	case cmdTimerFired:
		e.handleTimerFired(cmd)
	}
}

func (e *Engine) handleStartRoutine(r *routine.Routine) {
	if e.sess != nil || !e.idlePhase() {
		e.rejectBusy()
		return
	}
	if err := r.Validate(); err != nil {
		e.logger.Printf("Engine: rejecting routine %q: %v", r.Name, err)
		e.model.SetStatus("invalid routine: " + err.Error())
		return
	}
	seq := routine.NewSequencer(r)
	first, ok := seq.First()
	if !ok {
		e.model.SetStatus("routine has no sets")
		return
	}
	e.sess = &sessionContext{
		id:        uuid.NewString(),
		startedAt: time.Now(),
		routine:   r,
		sequencer: seq,
	}
	e.logger.Printf("Engine: session %s starting routine %q", e.sess.id, r.Name)
	e.startStep(first)
}

func (e *Engine) handleStartJustLift() {
	if e.sess != nil || !e.idlePhase() {
		e.rejectBusy()
		return
	}
	e.beginJustLift()
}

func (e *Engine) beginJustLift() {
	weight := DefaultWeightKg
	w, err := e.history.LastWeight(justLiftName)
	switch {
	case err == nil && w > 0:
		weight = w
	case err != nil && !errors.Is(err, ErrNoHistory):
		e.logger.Printf("Engine: weight lookup for %q: %v", justLiftName, err)
	}

	s := &sessionContext{
		id:        uuid.NewString(),
		startedAt: time.Now(),
		justLift:  true,
	}
	s.params = justLiftParams(weight, e.prefs.Current().StallDetectionEnabled)
	e.sess = s
	e.logger.Printf("Engine: session %s starting free lift at %.1f kg", s.id, weight)
	e.beginSet(false)
}

// startStep loads the exercise behind step, resolves the working weight,
// and begins the set.
func (e *Engine) startStep(step routine.Step) {
	s := e.sess
	ex := s.routine.ExerciseAt(step.ExerciseIndex)
	if ex == nil {
		e.logger.Printf("Engine: no exercise at index %d, ending session", step.ExerciseIndex)
		e.endSession(PhaseCompleted)
		return
	}
	sameExercise := s.exercise == ex
	s.step = step
	s.exercise = ex

	// The routine's weight wins when set; otherwise the last weight this
	// exercise was done at.
	weightOverride := 0.0
	if !ex.IsBodyweight() && ex.WeightKg <= 0 {
		w, err := e.history.LastWeight(ex.Name)
		switch {
		case err == nil && w > 0:
			weightOverride = w
		case err != nil && !errors.Is(err, ErrNoHistory):
			e.logger.Printf("Engine: weight lookup for %q: %v", ex.Name, err)
		}
	}
	s.params = paramsForExercise(ex, weightOverride, e.prefs.Current().StallDetectionEnabled)
	e.beginSet(sameExercise)
}

// beginSet resets per-set state and either runs the get-ready countdown
// or configures the machine straight away. keepRanges preserves the
// calibrated cable ranges when the same exercise repeats.
func (e *Engine) beginSet(keepRanges bool) {
	s := e.sess
	e.completionDone = false
	e.stopSent = false
	s.setStartedAt = time.Now()
	s.samples = s.samples[:0]

	if keepRanges {
		e.counter.ResetCountsOnly()
	} else {
		e.counter.Reset()
	}
	e.counter.Configure(s.params.WarmupReps, s.params.TargetReps, s.params.IsJustLift, s.params.StopAtTop, s.params.IsAMRAP)
	e.model.SetRepCount(e.counter.Counts())
	e.model.SetAutoStop(AutoStopUiState{})

	e.setState(e.buildState(PhaseInitializing))

	secs := e.cfg.CountdownSeconds
	if s.justLift {
		// The grab-to-start countdown already ran.
		secs = 0
	}
	if secs > 0 {
		s.countdownEndsAt = time.Now().Add(time.Duration(secs) * time.Second)
		st := e.buildState(PhaseCountdown)
		st.SecondsRemaining = secs
		e.setState(st)
		e.armTimer(timerCountdown, time.Duration(secs)*time.Second)
		return
	}
	e.configureAndStart()
}

// configureAndStart sends the parameter command and arms the settle
// timer; the start command follows when it fires. Bodyweight sets touch
// no machine state and go straight to their duration timer.
func (e *Engine) configureAndStart() {
	s := e.sess
	if s.bodyweight() {
		d := time.Duration(s.exercise.DurationSeconds) * time.Second
		if d <= 0 {
			d = 30 * time.Second
		}
		s.bodyweightEndsAt = time.Now().Add(d)
		e.armTimer(timerBodyweight, d)
		st := e.buildState(PhaseActive)
		st.SecondsRemaining = int(d / time.Second)
		e.setState(st)
		e.logger.Printf("Engine: bodyweight set started: %s for %s", e.exerciseName(), d)
		return
	}

	if err := e.device.Configure(s.params.command()); err != nil {
		e.logger.Printf("Engine: configuring machine: %v", err)
		e.abandonSession("machine refused configuration")
		return
	}
	e.armTimer(timerSettle, e.cfg.SettleDelay)
}

// startLoadedSet issues the start command and arms the detectors. Runs
// when the settle timer fires.
func (e *Engine) startLoadedSet() {
	s := e.sess
	if err := e.device.Start(); err != nil {
		e.logger.Printf("Engine: starting machine: %v", err)
		e.abandonSession("machine refused start")
		return
	}
	graceApplies := s.params.IsAMRAP || s.params.IsJustLift
	e.autoStop.Arm(time.Now(), s.params.StallDetectionEnabled, graceApplies)
	e.led.ConfigureSet(s.params.Mode, s.params.WeightKg)
	e.setState(e.buildState(PhaseActive))
	e.logger.Printf("Engine: set started: %s, %.1f kg, mode %s", e.exerciseName(), s.params.WeightKg, s.params.Mode)
}

func (e *Engine) handlePause() {
	if e.phase() != PhaseActive {
		e.model.SetStatus("nothing to pause")
		return
	}
	s := e.sess
	st := e.buildState(PhasePaused)
	if s.bodyweight() {
		s.pausedRemaining = time.Until(s.bodyweightEndsAt)
		if s.pausedRemaining < 0 {
			s.pausedRemaining = 0
		}
		e.cancelTimer(timerBodyweight)
		st.SecondsRemaining = int(math.Ceil(s.pausedRemaining.Seconds()))
	}
	e.setState(st)
	e.logger.Println("Engine: set paused")
}

func (e *Engine) handleResume() {
	if e.phase() != PhasePaused {
		e.model.SetStatus("nothing to resume")
		return
	}
	s := e.sess
	st := e.buildState(PhaseActive)
	if s.bodyweight() {
		s.bodyweightEndsAt = time.Now().Add(s.pausedRemaining)
		e.armTimer(timerBodyweight, s.pausedRemaining)
		st.SecondsRemaining = int(math.Ceil(s.pausedRemaining.Seconds()))
	} else {
		// Detector windows restart so the pause gap is not counted as
		// stall time.
		e.autoStop.ClearTimers()
	}
	e.setState(st)
	e.logger.Println("Engine: set resumed")
}

func (e *Engine) handleStopExit() {
	switch e.phase() {
	case PhaseIdle:
		return
	case PhaseCompleted:
		e.setState(SessionState{Phase: PhaseIdle})
	case PhaseActive, PhasePaused:
		e.completeSetCore(ReasonManual)
		e.endSession(PhaseIdle)
	default: // Initializing, Countdown, Resting, SetSummary
		if e.sess != nil && !e.sess.bodyweight() {
			e.sendStop()
		}
		e.autoStop.Reset()
		e.endSession(PhaseIdle)
	}
}

func (e *Engine) handleStopRetry() {
	switch e.phase() {
	case PhaseActive, PhasePaused, PhaseCountdown, PhaseInitializing:
		e.logger.Println("Engine: retrying current set")
		e.cancelAllTimers()
		if !e.sess.bodyweight() {
			e.sendStop()
		}
		e.autoStop.Reset()
		e.model.SetAutoStop(AutoStopUiState{})
		e.beginSet(true)
	default:
		e.model.SetStatus("nothing to retry")
	}
}

func (e *Engine) handleSkipRest() {
	if e.phase() != PhaseResting || e.sess == nil || !e.sess.hasNext {
		e.model.SetStatus("not resting")
		return
	}
	e.cancelTimer(timerRest)
	e.advanceToNextStep()
}

func (e *Engine) handleSkipCountdown() {
	if e.phase() != PhaseCountdown {
		return
	}
	e.cancelTimer(timerCountdown)
	e.configureAndStart()
}

func (e *Engine) handleAdvanceSummary() {
	if e.phase() != PhaseSetSummary {
		return
	}
	e.advancePastSummary()
}

func (e *Engine) handleNavigate(forward bool) {
	s := e.sess
	if s == nil || s.justLift {
		e.model.SetStatus("no routine in progress")
		return
	}
	switch e.phase() {
	case PhaseActive, PhasePaused, PhaseCountdown, PhaseInitializing:
		e.model.SetStatus("stop the current set first")
		return
	case PhaseResting, PhaseSetSummary:
	default:
		return
	}

	// While resting, the queued step is the reference: forward skips it,
	// backward lands on the set just finished.
	ref := s.step
	if s.hasNext {
		ref = s.nextStep
	}
	var target routine.Step
	var ok bool
	if forward {
		target, ok = s.sequencer.NextStep(ref)
	} else {
		target, ok = s.sequencer.PreviousStep(ref)
	}
	if !ok {
		if forward {
			e.model.SetStatus("already at the last set")
		} else {
			e.model.SetStatus("already at the first set")
		}
		return
	}

	e.cancelTimer(timerRest)
	e.cancelTimer(timerSummary)
	e.led.EndRest()
	s.hasNext = false
	e.logger.Printf("Engine: navigating to %s", s.sequencer.Label(target))
	e.startStep(target)
}

func (e *Engine) handleAdjustWeight(deltaKg float64) {
	s := e.sess
	if s == nil || s.bodyweight() {
		e.model.SetStatus("no loaded set to adjust")
		return
	}
	if p := e.phase(); p != PhaseActive && p != PhasePaused {
		e.model.SetStatus("adjust weight during a set")
		return
	}
	p := s.params
	p.WeightKg += deltaKg
	s.params = p.Clamped()
	if err := e.device.Configure(s.params.command()); err != nil {
		e.logger.Printf("Engine: adjusting weight: %v", err)
		e.model.SetStatus("machine refused weight change")
		return
	}
	e.led.ConfigureSet(s.params.Mode, s.params.WeightKg)
	st := e.currentState()
	st.WeightKg = s.params.WeightKg
	e.setState(st)
	e.logger.Printf("Engine: weight adjusted to %.1f kg", s.params.WeightKg)
}

// completeSetCore stops the machine, persists the set, and updates the
// session tallies. Returns nil when the set was already finalized; at
// most one finalize happens per set regardless of how many stop triggers
// fire.
func (e *Engine) completeSetCore(reason CompletionReason) *SetSummary {
	s := e.sess
	if s == nil || e.completionDone {
		return nil
	}
	e.completionDone = true
	now := time.Now()

	e.cancelTimer(timerBodyweight)
	e.cancelTimer(timerSettle)
	if !s.bodyweight() {
		e.sendStop()
	}
	e.autoStop.Reset()
	e.model.SetAutoStop(AutoStopUiState{})

	counts := e.counter.Counts()
	setIndex := s.step.SetIndex
	if s.justLift {
		setIndex = s.setsDone
	}
	summary := &SetSummary{
		SessionID:    s.id,
		ExerciseName: e.exerciseName(),
		Mode:         s.params.Mode,
		SetIndex:     setIndex,
		TotalSets:    e.totalSets(),
		WarmupReps:   counts.WarmupReps,
		WorkingReps:  counts.WorkingReps,
		WeightKg:     s.params.WeightKg,
		StartedAt:    s.setStartedAt,
		Duration:     now.Sub(s.setStartedAt),
		Reason:       reason,
	}
	s.setsDone++
	s.workingTotal += counts.WorkingReps
	if !s.bodyweight() {
		s.volume += s.params.WeightKg * float64(counts.WorkingReps)
	}

	if err := e.history.SaveCompletedSet(*summary); err != nil {
		e.logger.Printf("Engine: saving set: %v", err)
	}
	e.flushMetrics()
	e.logger.Printf("Engine: set complete: %s, %d working reps, %s",
		summary.ExerciseName, summary.WorkingReps, reason)
	return summary
}

// finalizeSet ends the running set and moves to the summary screen,
// honoring the summary-countdown preference: negative skips the screen,
// zero waits for the user, positive advances automatically.
func (e *Engine) finalizeSet(reason CompletionReason) {
	summary := e.completeSetCore(reason)
	if summary == nil {
		return
	}
	if reason == ReasonTarget {
		e.led.Celebrate()
	}

	secs := e.prefs.Current().SummaryCountdownSeconds
	if secs < 0 {
		e.advancePastSummary()
		return
	}
	st := e.buildState(PhaseSetSummary)
	st.Summary = summary
	st.SecondsRemaining = secs
	e.setState(st)
	if secs > 0 {
		d := time.Duration(secs) * time.Second
		e.sess.summaryEndsAt = time.Now().Add(d)
		e.armTimer(timerSummary, d)
	}
}

// advancePastSummary leaves the summary screen: free-lift sessions end,
// routine sessions move to rest before the next step or complete.
func (e *Engine) advancePastSummary() {
	e.cancelTimer(timerSummary)
	s := e.sess
	if s == nil {
		return
	}
	if s.justLift {
		e.endSession(PhaseIdle)
		return
	}
	next, ok := s.sequencer.NextStep(s.step)
	if !ok {
		e.endSession(PhaseCompleted)
		return
	}
	restSecs, supersetChange := s.sequencer.RestAfter(s.step, next)
	s.nextStep = next
	s.hasNext = true
	e.startRest(restSecs, supersetChange)
}

// startRest publishes the Resting phase exactly once. A zero rest still
// publishes it, then advances synchronously in the same handler, so no
// tick can land in between.
func (e *Engine) startRest(seconds int, supersetChange bool) {
	s := e.sess
	st := e.buildState(PhaseResting)
	st.NextLabel = s.sequencer.Label(s.nextStep)
	st.SupersetChange = supersetChange

	if seconds <= 0 {
		st.SecondsRemaining = 0
		e.setState(st)
		e.advanceToNextStep()
		return
	}

	now := time.Now()
	d := time.Duration(seconds) * time.Second
	s.restEndsAt = now.Add(d)
	e.led.StartRest(now)
	e.model.SetZone(ZoneRest)
	st.SecondsRemaining = seconds
	e.setState(st)
	e.armTimer(timerRest, d)
}

func (e *Engine) advanceToNextStep() {
	s := e.sess
	if s == nil || !s.hasNext {
		return
	}
	e.led.EndRest()
	s.hasNext = false
	e.startStep(s.nextStep)
}

// endSession persists the session record and returns to final, either
// PhaseCompleted or PhaseIdle. Sessions with no completed sets leave no
// record.
func (e *Engine) endSession(final Phase) {
	s := e.sess
	if s == nil {
		e.setState(SessionState{Phase: final})
		return
	}
	e.cancelAllTimers()

	if s.setsDone > 0 {
		record := SessionRecord{
			ID:          s.id,
			JustLift:    s.justLift,
			StartedAt:   s.startedAt,
			EndedAt:     time.Now(),
			SetsDone:    s.setsDone,
			WorkingReps: s.workingTotal,
			TotalVolume: s.volume,
		}
		if s.routine != nil {
			record.RoutineName = s.routine.Name
		}
		if err := e.history.SaveSession(record); err != nil {
			e.logger.Printf("Engine: saving session: %v", err)
		}
	}
	e.logger.Printf("Engine: session %s ended with %d sets", s.id, s.setsDone)

	e.led.Off(time.Now())
	e.model.SetZone(ZoneNone)

	st := SessionState{Phase: final}
	if final == PhaseCompleted {
		st = e.buildState(PhaseCompleted)
	}
	e.sess = nil
	e.setState(st)
}

// abandonSession tears a session down after a machine error, before any
// set completed.
func (e *Engine) abandonSession(status string) {
	e.logger.Printf("Engine: abandoning session: %s", status)
	e.model.SetStatus(status)
	e.cancelAllTimers()
	e.autoStop.Reset()
	e.led.Off(time.Now())
	e.model.SetZone(ZoneNone)
	e.sess = nil
	e.setState(SessionState{Phase: PhaseIdle})
}

func (e *Engine) handleTelemetry(sample machine.TelemetrySample) {
	e.model.SetTelemetry(sample)
	s := e.sess
	if s == nil || e.phase() != PhaseActive || s.bodyweight() {
		return
	}

	e.counter.UpdatePositionRanges(sample.Left.Position, sample.Right.Position)
	if len(s.samples) < maxSessionSamples {
		s.samples = append(s.samples, sample)
	}
	e.model.SetZone(e.led.Update(sample))

	if !e.stopEligible() {
		return
	}
	if e.autoStop.Evaluate(sample) {
		e.finalizeSet(ReasonAutoStop)
		return
	}
	e.model.SetAutoStop(e.autoStop.UiState())
}

func (e *Engine) handleRepEvent(ev machine.RepEvent) {
	s := e.sess
	if s == nil || e.phase() != PhaseActive || s.bodyweight() {
		return
	}
	e.counter.Process(ev)
	e.model.SetRepCount(e.counter.Counts())
	if e.counter.ShouldStopWorkout() {
		e.finalizeSet(ReasonTarget)
	}
}

func (e *Engine) handleHandleState(hs machine.HandleState) {
	prev := e.lastHandle
	e.lastHandle = hs
	s := e.sess

	if s != nil && e.phase() == PhaseActive && s.params.IsJustLift {
		e.autoStop.NoteHandleState(hs)
		if hs == machine.HandleReleased && e.autoStop.ForceEvaluate() {
			e.finalizeSet(ReasonAutoStop)
		}
		return
	}
	if s != nil || !e.idlePhase() {
		return
	}

	// Grab-to-start for free lifting.
	switch hs {
	case machine.HandleGrabbed:
		secs := e.prefs.Current().AutoStartSeconds
		if secs <= 0 || prev == machine.HandleGrabbed {
			return
		}
		e.armTimer(timerAutoStart, time.Duration(secs)*time.Second)
		e.model.SetStatus(fmt.Sprintf("handles grabbed, lifting in %ds", secs))
	case machine.HandleReleased:
		if _, armed := e.timers[timerAutoStart]; armed {
			e.cancelTimer(timerAutoStart)
			e.model.SetStatus("auto-start cancelled")
		}
	}
}

func (e *Engine) handleDeload(ev machine.DeloadEvent) {
	s := e.sess
	if s == nil || e.phase() != PhaseActive || s.bodyweight() {
		return
	}
	e.logger.Printf("Engine: deload signal from machine at %s", ev.Timestamp.Format(time.RFC3339))
	if e.stopEligible() && e.autoStop.ForceEvaluate() {
		e.finalizeSet(ReasonAutoStop)
	}
}

// handleTick refreshes the displayed countdown from the phase's absolute
// deadline. Timers fire on their own; the ticker only drives display.
func (e *Engine) handleTick() {
	s := e.sess
	if s == nil {
		return
	}
	st := e.currentState()

	var deadline time.Time
	var kind timerKind
	switch st.Phase {
	case PhaseCountdown:
		deadline, kind = s.countdownEndsAt, timerCountdown
	case PhaseResting:
		deadline, kind = s.restEndsAt, timerRest
	case PhaseSetSummary:
		deadline, kind = s.summaryEndsAt, timerSummary
	case PhaseActive:
		if !s.bodyweight() {
			return
		}
		deadline, kind = s.bodyweightEndsAt, timerBodyweight
	default:
		return
	}
	if _, armed := e.timers[kind]; !armed {
		return
	}
	secs := secondsUntil(deadline)
	if secs == st.SecondsRemaining {
		return
	}
	st.SecondsRemaining = secs
	e.setState(st)
}

func (e *Engine) handleTimerFired(cmd engineCommand) {
	h, ok := e.timers[cmd.timer]
	if !ok || h.gen != cmd.timerGen {
		e.logger.Printf("Engine: stale %s timer ignored", timerNames[cmd.timer])
		return
	}
	delete(e.timers, cmd.timer)

	// Conditions may have moved between arming and firing; every branch
	// re-validates before acting.
	switch cmd.timer {
	case timerCountdown:
		if e.sess != nil && e.phase() == PhaseCountdown {
			e.configureAndStart()
		}
	case timerSettle:
		if p := e.phase(); e.sess != nil && !e.completionDone && (p == PhaseInitializing || p == PhaseCountdown) {
			e.startLoadedSet()
		}
	case timerAutoStart:
		if e.sess == nil && e.idlePhase() && e.lastHandle == machine.HandleGrabbed {
			e.beginJustLift()
		} else {
			e.logger.Println("Engine: auto-start expired but conditions changed, ignoring")
		}
	case timerBodyweight:
		if e.sess != nil && e.phase() == PhaseActive && e.sess.bodyweight() {
			e.finalizeSet(ReasonDuration)
		}
	case timerRest:
		if e.sess != nil && e.phase() == PhaseResting {
			e.handleRestExpiry()
		}
	case timerSummary:
		if e.sess != nil && e.phase() == PhaseSetSummary {
			e.advancePastSummary()
		}
	}
}

func (e *Engine) handleRestExpiry() {
	if e.prefs.Current().AutoplayEnabled {
		e.advanceToNextStep()
		return
	}
	st := e.currentState()
	st.SecondsRemaining = 0
	e.setState(st)
	e.model.SetStatus("rest over, start when ready")
}

// setState is the single place session state changes. Transitions are
// checked against the state machine's edge set; an invalid one is
// refused and logged, never applied.
func (e *Engine) setState(next SessionState) {
	e.mu.Lock()
	prev := e.state
	if !canTransition(prev.Phase, next.Phase) {
		e.mu.Unlock()
		e.logger.Printf("Engine: refusing invalid transition %s -> %s", prev.Phase, next.Phase)
		return
	}
	e.state = next
	e.mu.Unlock()

	if prev.Phase != next.Phase {
		e.logger.Printf("Engine: %s -> %s", prev.Phase, next.Phase)
	}
	e.model.SetSessionState(next)
}

// buildState composes the published snapshot for phase from the live
// session context.
func (e *Engine) buildState(phase Phase) SessionState {
	st := SessionState{Phase: phase}
	s := e.sess
	if s == nil {
		return st
	}
	st.ExerciseName = e.exerciseName()
	st.Mode = s.params.Mode
	st.WeightKg = s.params.WeightKg
	if s.justLift {
		st.SetIndex = s.setsDone
		st.TotalSets = 0
	} else {
		st.SetIndex = s.step.SetIndex
		if s.exercise != nil {
			st.TotalSets = s.exercise.Sets
		}
	}
	return st
}

func (e *Engine) currentState() SessionState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *Engine) phase() Phase {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.Phase
}

func (e *Engine) idlePhase() bool {
	p := e.phase()
	return p == PhaseIdle || p == PhaseCompleted
}

func (e *Engine) rejectBusy() {
	e.logger.Printf("Engine: rejecting start, session in progress (%s)", e.phase())
	e.model.SetStatus("stop the current set first")
}

func (e *Engine) exerciseName() string {
	s := e.sess
	switch {
	case s == nil:
		return ""
	case s.justLift:
		return justLiftName
	case s.exercise != nil:
		return s.exercise.Name
	default:
		return ""
	}
}

func (e *Engine) totalSets() int {
	s := e.sess
	if s == nil || s.justLift || s.exercise == nil {
		return 0
	}
	return s.exercise.Sets
}

// stopEligible reports whether auto-stop applies right now: free lifting
// and AMRAP always, target sets once the warmup is done.
func (e *Engine) stopEligible() bool {
	s := e.sess
	return s.params.IsJustLift || s.params.IsAMRAP || e.counter.WarmupComplete()
}

// sendStop issues at most one stop command per set.
func (e *Engine) sendStop() {
	if e.stopSent {
		return
	}
	e.stopSent = true
	if err := e.device.Stop(); err != nil {
		e.logger.Printf("Engine: stopping machine: %v", err)
		e.model.SetStatus("machine refused stop")
	}
}

func (e *Engine) flushMetrics() {
	s := e.sess
	if s == nil || len(s.samples) == 0 {
		return
	}
	if err := e.history.SaveMetrics(s.id, s.samples); err != nil {
		e.logger.Printf("Engine: saving metrics: %v", err)
	}
	s.samples = s.samples[:0]
}

func (e *Engine) armTimer(kind timerKind, d time.Duration) {
	e.cancelTimer(kind)
	e.timerGen++
	gen := e.timerGen
	e.timers[kind] = &timerHandle{
		gen:   gen,
		timer: time.AfterFunc(d, func() { e.postTimerFired(kind, gen) }),
	}
}

func (e *Engine) postTimerFired(kind timerKind, gen uint64) {
	select {
	case e.cmdChan <- engineCommand{kind: cmdTimerFired, timer: kind, timerGen: gen}:
	case <-e.doneChan:
	}
}

func (e *Engine) cancelTimer(kind timerKind) {
	if h, ok := e.timers[kind]; ok {
		h.timer.Stop()
		delete(e.timers, kind)
	}
}

func (e *Engine) cancelAllTimers() {
	for kind, h := range e.timers {
		h.timer.Stop()
		delete(e.timers, kind)
	}
}

func secondsUntil(deadline time.Time) int {
	secs := int(math.Ceil(time.Until(deadline).Seconds()))
	if secs < 0 {
		return 0
	}
	return secs
}

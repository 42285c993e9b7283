package ui

import (
	"log"

	"github.com/openlift/cable-coach/internal/prefs"
	"github.com/openlift/cable-coach/internal/routine"
	"github.com/openlift/cable-coach/internal/session"
)

// WeightStepKg is how much one keypress moves the working weight.
const WeightStepKg = 2.5

// Controller translates view events into engine operations. It keeps no
// session state of its own; phase-sensitive actions consult the model
// snapshot at the moment the key is pressed.
type Controller struct {
	engine   *session.Engine
	model    *session.Model
	prefsMgr *prefs.Manager
	routines []*routine.Routine
	logger   *log.Logger
}

// NewController wires the view's callbacks to the engine. The routine list
// is what the picker shows, in order.
func NewController(engine *session.Engine, model *session.Model, prefsMgr *prefs.Manager, routines []*routine.Routine, logger *log.Logger) *Controller {
	if engine == nil {
		panic("Controller: engine cannot be nil")
	}
	if model == nil {
		panic("Controller: model cannot be nil")
	}
	if prefsMgr == nil {
		panic("Controller: prefsMgr cannot be nil")
	}
	if logger == nil {
		panic("Controller: logger cannot be nil")
	}
	return &Controller{
		engine:   engine,
		model:    model,
		prefsMgr: prefsMgr,
		routines: routines,
		logger:   logger,
	}
}

// Routines returns the selectable routines, builtins first.
func (c *Controller) Routines() []*routine.Routine {
	return c.routines
}

// OnRoutineSelected starts the routine at the given picker index.
func (c *Controller) OnRoutineSelected(index int) {
	if index < 0 || index >= len(c.routines) {
		c.logger.Printf("Controller: routine index %d out of range", index)
		return
	}
	c.engine.StartRoutine(c.routines[index])
}

// OnJustLift starts a free session outside any routine.
func (c *Controller) OnJustLift() {
	c.engine.StartJustLift()
}

// OnTogglePause pauses an active set or resumes a paused one.
func (c *Controller) OnTogglePause() {
	switch c.model.GetSessionState().Phase {
	case session.PhaseActive:
		c.engine.Pause()
	case session.PhasePaused:
		c.engine.Resume()
	default:
		c.logger.Println("Controller: pause ignored, no set in progress")
	}
}

// OnSkip advances past whatever wait the session is currently in.
func (c *Controller) OnSkip() {
	switch c.model.GetSessionState().Phase {
	case session.PhaseCountdown:
		c.engine.SkipCountdown()
	case session.PhaseResting:
		c.engine.SkipRest()
	case session.PhaseSetSummary:
		c.engine.AdvanceSummary()
	default:
		c.logger.Println("Controller: skip ignored, nothing to skip")
	}
}

// OnStop abandons the session, keeping any finished sets.
func (c *Controller) OnStop() {
	c.engine.StopAndExit()
}

// OnRetry discards the current attempt and reloads the same set.
func (c *Controller) OnRetry() {
	c.engine.StopAndRetry()
}

// OnNextExercise jumps forward during rest or a summary.
func (c *Controller) OnNextExercise() {
	c.engine.NextStep()
}

// OnPreviousExercise jumps back during rest or a summary.
func (c *Controller) OnPreviousExercise() {
	c.engine.PreviousStep()
}

// OnWeightUp raises the loaded weight by one step.
func (c *Controller) OnWeightUp() {
	c.engine.AdjustWeight(WeightStepKg)
}

// OnWeightDown lowers the loaded weight by one step.
func (c *Controller) OnWeightDown() {
	c.engine.AdjustWeight(-WeightStepKg)
}

// OnToggleWeightUnit flips the display unit between kg and lb.
func (c *Controller) OnToggleWeightUnit() {
	err := c.prefsMgr.Update(func(p *prefs.Prefs) {
		if p.WeightUnit == prefs.UnitPounds {
			p.WeightUnit = prefs.UnitKilograms
		} else {
			p.WeightUnit = prefs.UnitPounds
		}
	})
	if err != nil {
		c.logger.Printf("Controller: saving weight unit: %v", err)
	}
	c.model.SetStatus("weight unit: " + c.prefsMgr.Current().WeightUnit)
}

// OnToggleAutoplay flips whether rest timers roll into the next set.
func (c *Controller) OnToggleAutoplay() {
	err := c.prefsMgr.Update(func(p *prefs.Prefs) {
		p.AutoplayEnabled = !p.AutoplayEnabled
	})
	if err != nil {
		c.logger.Printf("Controller: saving autoplay: %v", err)
	}
	if c.prefsMgr.Current().AutoplayEnabled {
		c.model.SetStatus("autoplay on")
	} else {
		c.model.SetStatus("autoplay off")
	}
}

// OnToggleStallDetection arms or disarms the velocity stall detector.
func (c *Controller) OnToggleStallDetection() {
	err := c.prefsMgr.Update(func(p *prefs.Prefs) {
		p.StallDetectionEnabled = !p.StallDetectionEnabled
	})
	if err != nil {
		c.logger.Printf("Controller: saving stall detection: %v", err)
	}
	if c.prefsMgr.Current().StallDetectionEnabled {
		c.model.SetStatus("stall detection on")
	} else {
		c.model.SetStatus("stall detection off")
	}
}

// OnEscapeKey asks the application to shut down.
func (c *Controller) OnEscapeKey() {
	c.logger.Println("Controller: escape pressed, requesting close")
	c.model.RequestCloseApplication()
}

package session

import (
	"log"
	"sync"
	"time"

	"github.com/openlift/cable-coach/internal/machine"
	"github.com/openlift/cable-coach/internal/syncutil"
)

// Zone is the resolved feedback bucket. Echo sets use the load zones, tempo
// modes the tempo zones, everything else the raw velocity zones.
type Zone int

const (
	ZoneNone Zone = iota
	ZoneLoadMatch
	ZoneLoadNear
	ZoneLoadOff
	ZoneTooSlow
	ZoneOnTempo
	ZoneSlightlyFast
	ZoneTooFast
	ZoneIdle
	ZoneMoving
	ZoneBrisk
	ZoneRest
)

var zoneNames = map[Zone]string{
	ZoneNone:         "",
	ZoneLoadMatch:    "Load Match",
	ZoneLoadNear:     "Load Near",
	ZoneLoadOff:      "Load Off",
	ZoneTooSlow:      "Too Slow",
	ZoneOnTempo:      "On Tempo",
	ZoneSlightlyFast: "Slightly Fast",
	ZoneTooFast:      "Too Fast",
	ZoneIdle:         "Idle",
	ZoneMoving:       "Moving",
	ZoneBrisk:        "Brisk",
	ZoneRest:         "Rest",
}

func (z Zone) String() string {
	return zoneNames[z]
}

var zoneColors = map[Zone]machine.Color{
	ZoneNone:         machine.ColorOff,
	ZoneLoadMatch:    machine.ColorGreen,
	ZoneLoadNear:     machine.ColorYellow,
	ZoneLoadOff:      machine.ColorRed,
	ZoneTooSlow:      machine.ColorBlue,
	ZoneOnTempo:      machine.ColorGreen,
	ZoneSlightlyFast: machine.ColorYellow,
	ZoneTooFast:      machine.ColorRed,
	ZoneIdle:         machine.ColorWhite,
	ZoneMoving:       machine.ColorGreen,
	ZoneBrisk:        machine.ColorYellow,
	ZoneRest:         machine.ColorBlue,
}

const (
	ledStabilitySamples = 3
	ledWriteMinInterval = 500 * time.Millisecond

	echoMatchTolerance = 0.10
	echoNearTolerance  = 0.25
	tempoTolerance     = 0.25

	rawIdleMax  = 5.0
	rawBriskMin = 300.0

	celebrationStepDelay = 300 * time.Millisecond
)

// LedFeedbackController maps live telemetry to LED colors. It is independent
// of completion logic: its only output is throttled, deduplicated color
// writes plus the resolved zone for the dashboard. Update runs on the engine
// goroutine; Celebrate's script runs on its own, hence the mutex.
type LedFeedbackController struct {
	logger   *log.Logger
	setColor func(machine.Color) error

	mu           sync.Mutex
	mode         machine.ResistanceMode
	targetLoadKg float64

	pendingZone  Zone
	pendingCount int
	currentZone  Zone

	lastSent    machine.Color
	haveSent    bool
	lastWriteAt time.Time
	haveWrite   bool

	resting     bool
	celebrating bool
}

func NewLedFeedbackController(setColor func(machine.Color) error, logger *log.Logger) *LedFeedbackController {
	if setColor == nil {
		panic("LedFeedbackController: setColor cannot be nil")
	}
	if logger == nil {
		panic("LedFeedbackController: logger cannot be nil")
	}
	return &LedFeedbackController{logger: logger, setColor: setColor}
}

// ConfigureSet resets zone state for a new set.
func (c *LedFeedbackController) ConfigureSet(mode machine.ResistanceMode, targetLoadKg float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = mode
	c.targetLoadKg = targetLoadKg
	c.pendingZone = ZoneNone
	c.pendingCount = 0
	c.currentZone = ZoneNone
	c.resting = false
}

// Update resolves the sample's zone, applies stability hysteresis, and sends
// the color when it is due. Returns the zone currently shown.
func (c *LedFeedbackController) Update(sample machine.TelemetrySample) Zone {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.resting || c.celebrating {
		return c.currentZone
	}

	zone := c.resolveZone(sample)
	if zone != c.currentZone {
		if zone == c.pendingZone {
			c.pendingCount++
		} else {
			c.pendingZone = zone
			c.pendingCount = 1
		}
		if c.pendingCount >= ledStabilitySamples {
			c.currentZone = zone
			c.pendingCount = 0
		}
	} else {
		c.pendingZone = zone
		c.pendingCount = 0
	}

	c.sendLocked(zoneColors[c.currentZone], sample.Timestamp, false)
	return c.currentZone
}

// StartRest forces the calming color for the rest period.
func (c *LedFeedbackController) StartRest(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resting = true
	c.currentZone = ZoneRest
	c.sendLocked(zoneColors[ZoneRest], at, true)
}

// EndRest resumes normal resolution.
func (c *LedFeedbackController) EndRest() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resting = false
	c.currentZone = ZoneNone
	c.pendingCount = 0
}

// Off turns the LEDs off, for set teardown.
func (c *LedFeedbackController) Off(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentZone = ZoneNone
	c.sendLocked(machine.ColorOff, at, true)
}

// Celebrate plays a short scripted cycle, suspending normal feedback, then
// restores the zone that was showing.
func (c *LedFeedbackController) Celebrate() {
	c.mu.Lock()
	if c.celebrating {
		c.mu.Unlock()
		return
	}
	c.celebrating = true
	restore := c.currentZone
	c.mu.Unlock()

	syncutil.Go(c.logger, func() {
		script := []machine.Color{
			machine.ColorGreen, machine.ColorPurple,
			machine.ColorGreen, machine.ColorPurple,
		}
		for _, color := range script {
			c.mu.Lock()
			c.sendLocked(color, time.Now(), true)
			c.mu.Unlock()
			time.Sleep(celebrationStepDelay)
		}

		c.mu.Lock()
		c.celebrating = false
		c.sendLocked(zoneColors[restore], time.Now(), true)
		c.mu.Unlock()
	})
}

// CurrentZone returns the zone currently shown.
func (c *LedFeedbackController) CurrentZone() Zone {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentZone
}

func (c *LedFeedbackController) resolveZone(sample machine.TelemetrySample) Zone {
	v := maxAbsVelocity(sample)

	switch {
	case c.mode == machine.ResistanceEcho:
		if c.targetLoadKg <= 0 {
			return ZoneNone
		}
		load := sample.Left.Load
		if sample.Right.Load > load {
			load = sample.Right.Load
		}
		diff := load/c.targetLoadKg - 1
		if diff < 0 {
			diff = -diff
		}
		switch {
		case diff <= echoMatchTolerance:
			return ZoneLoadMatch
		case diff <= echoNearTolerance:
			return ZoneLoadNear
		default:
			return ZoneLoadOff
		}

	case c.mode.HasTempoTarget():
		target := machine.AllResistanceModes[c.mode].TargetVel
		switch {
		case v < (1-tempoTolerance)*target:
			return ZoneTooSlow
		case v <= (1+tempoTolerance)*target:
			return ZoneOnTempo
		case v <= (1+2*tempoTolerance)*target:
			return ZoneSlightlyFast
		default:
			return ZoneTooFast
		}

	default:
		switch {
		case v < rawIdleMax:
			return ZoneIdle
		case v < rawBriskMin:
			return ZoneMoving
		default:
			return ZoneBrisk
		}
	}
}

// sendLocked writes a color, deduplicated against the last sent value and,
// unless forced, throttled. Write errors are logged, never retried.
func (c *LedFeedbackController) sendLocked(color machine.Color, at time.Time, force bool) {
	if c.haveSent && color == c.lastSent {
		return
	}
	if !force && c.haveWrite && at.Sub(c.lastWriteAt) < ledWriteMinInterval {
		return
	}
	if err := c.setColor(color); err != nil {
		c.logger.Printf("Led: setting color %s: %v", color, err)
		return
	}
	c.lastSent = color
	c.haveSent = true
	c.lastWriteAt = at
	c.haveWrite = true
}

func maxAbsVelocity(sample machine.TelemetrySample) float64 {
	v := sample.Left.Velocity
	if v < 0 {
		v = -v
	}
	r := sample.Right.Velocity
	if r < 0 {
		r = -r
	}
	if r > v {
		return r
	}
	return v
}

package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlift/cable-coach/internal/machine"
)

type colorRecorder struct {
	mu     sync.Mutex
	colors []machine.Color
	err    error
}

func (r *colorRecorder) set(c machine.Color) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.colors = append(r.colors, c)
	return nil
}

func (r *colorRecorder) sent() []machine.Color {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]machine.Color, len(r.colors))
	copy(out, r.colors)
	return out
}

func (r *colorRecorder) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func newLed(t *testing.T) (*LedFeedbackController, *colorRecorder) {
	t.Helper()
	rec := &colorRecorder{}
	return NewLedFeedbackController(rec.set, testLogger()), rec
}

func velocitySample(at time.Time, vel float64) machine.TelemetrySample {
	return machine.TelemetrySample{
		Timestamp: at,
		Left:      machine.CableSample{Position: 50, Velocity: vel, Load: 20},
		Right:     machine.CableSample{Position: 50, Velocity: 0, Load: 20},
	}
}

func loadSample(at time.Time, load float64) machine.TelemetrySample {
	return machine.TelemetrySample{
		Timestamp: at,
		Left:      machine.CableSample{Position: 50, Velocity: 100, Load: load},
		Right:     machine.CableSample{Position: 50, Velocity: 0, Load: 0},
	}
}

func TestLed_ZoneChangeNeedsThreeStableSamples(t *testing.T) {
	led, _ := newLed(t)
	led.ConfigureSet(machine.ResistanceFixed, 20)
	t0 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	// Two samples of a new zone are not enough.
	assert.Equal(t, ZoneNone, led.Update(velocitySample(t0, 50)))
	assert.Equal(t, ZoneNone, led.Update(velocitySample(t0.Add(100*time.Millisecond), 50)))
	// The third applies it.
	assert.Equal(t, ZoneMoving, led.Update(velocitySample(t0.Add(200*time.Millisecond), 50)))
}

func TestLed_FlickerSuppressed(t *testing.T) {
	led, _ := newLed(t)
	led.ConfigureSet(machine.ResistanceFixed, 20)
	t0 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		led.Update(velocitySample(t0.Add(time.Duration(i)*100*time.Millisecond), 50))
	}
	require.Equal(t, ZoneMoving, led.CurrentZone())

	// Single-sample blips into Idle never survive the stability window.
	at := t0.Add(time.Second)
	for i := 0; i < 10; i++ {
		vel := 50.0
		if i%2 == 0 {
			vel = 1.0
		}
		zone := led.Update(velocitySample(at.Add(time.Duration(i)*100*time.Millisecond), vel))
		assert.Equal(t, ZoneMoving, zone, "blip %d must not change the zone", i)
	}
}

func TestLed_WritesThrottledAndDeduplicated(t *testing.T) {
	led, rec := newLed(t)
	led.ConfigureSet(machine.ResistanceFixed, 20)
	t0 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	// First sample writes the initial color immediately.
	led.Update(velocitySample(t0, 50))
	require.Equal(t, []machine.Color{machine.ColorOff}, rec.sent())

	// Zone settles to Moving 200ms in, but green is throttled until 500ms
	// have passed since the last write.
	led.Update(velocitySample(t0.Add(100*time.Millisecond), 50))
	led.Update(velocitySample(t0.Add(200*time.Millisecond), 50))
	assert.Equal(t, ZoneMoving, led.CurrentZone())
	assert.Equal(t, []machine.Color{machine.ColorOff}, rec.sent())

	led.Update(velocitySample(t0.Add(500*time.Millisecond), 50))
	assert.Equal(t, []machine.Color{machine.ColorOff, machine.ColorGreen}, rec.sent())

	// Same zone again: deduplicated, nothing new on the wire.
	led.Update(velocitySample(t0.Add(1200*time.Millisecond), 50))
	assert.Equal(t, []machine.Color{machine.ColorOff, machine.ColorGreen}, rec.sent())
}

func TestLed_EchoLoadZones(t *testing.T) {
	led, _ := newLed(t)
	led.ConfigureSet(machine.ResistanceEcho, 50)
	t0 := time.Now()

	assert.Equal(t, ZoneLoadMatch, led.resolveZone(loadSample(t0, 50)))
	assert.Equal(t, ZoneLoadMatch, led.resolveZone(loadSample(t0, 54)), "under 10%% off is a match")
	assert.Equal(t, ZoneLoadMatch, led.resolveZone(loadSample(t0, 46)))
	assert.Equal(t, ZoneLoadNear, led.resolveZone(loadSample(t0, 60)))
	assert.Equal(t, ZoneLoadNear, led.resolveZone(loadSample(t0, 40)))
	assert.Equal(t, ZoneLoadOff, led.resolveZone(loadSample(t0, 63)))
	assert.Equal(t, ZoneLoadOff, led.resolveZone(loadSample(t0, 30)))

	// No target load means no echo feedback.
	led.ConfigureSet(machine.ResistanceEcho, 0)
	assert.Equal(t, ZoneNone, led.resolveZone(loadSample(t0, 50)))
}

func TestLed_TempoZones(t *testing.T) {
	led, _ := newLed(t)
	// TUT targets 200 units/s; the band is ±25%.
	led.ConfigureSet(machine.ResistanceTUT, 30)
	t0 := time.Now()

	assert.Equal(t, ZoneTooSlow, led.resolveZone(velocitySample(t0, 140)))
	assert.Equal(t, ZoneOnTempo, led.resolveZone(velocitySample(t0, 150)))
	assert.Equal(t, ZoneOnTempo, led.resolveZone(velocitySample(t0, 250)))
	assert.Equal(t, ZoneSlightlyFast, led.resolveZone(velocitySample(t0, 280)))
	assert.Equal(t, ZoneSlightlyFast, led.resolveZone(velocitySample(t0, 300)))
	assert.Equal(t, ZoneTooFast, led.resolveZone(velocitySample(t0, 301)))

	// Velocity sign does not matter; the eccentric counts too.
	assert.Equal(t, ZoneOnTempo, led.resolveZone(velocitySample(t0, -200)))
}

func TestLed_RawVelocityZones(t *testing.T) {
	led, _ := newLed(t)
	led.ConfigureSet(machine.ResistanceFixed, 20)
	t0 := time.Now()

	assert.Equal(t, ZoneIdle, led.resolveZone(velocitySample(t0, 2)))
	assert.Equal(t, ZoneMoving, led.resolveZone(velocitySample(t0, 100)))
	assert.Equal(t, ZoneBrisk, led.resolveZone(velocitySample(t0, 400)))
}

func TestLed_RestForcesCalmingColor(t *testing.T) {
	led, rec := newLed(t)
	led.ConfigureSet(machine.ResistanceFixed, 20)
	t0 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	led.StartRest(t0)
	assert.Equal(t, []machine.Color{machine.ColorBlue}, rec.sent())
	assert.Equal(t, ZoneRest, led.CurrentZone())

	// Telemetry during rest changes nothing.
	for i := 0; i < 5; i++ {
		zone := led.Update(velocitySample(t0.Add(time.Duration(i)*time.Second), 400))
		assert.Equal(t, ZoneRest, zone)
	}
	assert.Equal(t, []machine.Color{machine.ColorBlue}, rec.sent())

	led.EndRest()
	assert.Equal(t, ZoneNone, led.CurrentZone())
}

func TestLed_CelebrationScriptThenRestore(t *testing.T) {
	led, rec := newLed(t)
	led.ConfigureSet(machine.ResistanceFixed, 20)

	led.Celebrate()
	// A second call while the script runs is a no-op.
	led.Celebrate()

	// Green, purple, green, purple, then the restored zone color (Off for
	// ZoneNone). Forced writes ignore the throttle.
	want := []machine.Color{
		machine.ColorGreen, machine.ColorPurple,
		machine.ColorGreen, machine.ColorPurple,
		machine.ColorOff,
	}
	require.Eventually(t, func() bool {
		return len(rec.sent()) == len(want)
	}, 3*time.Second, 20*time.Millisecond, "celebration script should finish")
	assert.Equal(t, want, rec.sent())
}

func TestLed_WriteErrorsAreNotRetriedButNotSticky(t *testing.T) {
	led, rec := newLed(t)
	led.ConfigureSet(machine.ResistanceFixed, 20)
	t0 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	rec.setErr(errors.New("gatt write failed"))
	led.Off(t0)
	assert.Empty(t, rec.sent())

	// The failed color was never marked as sent, so the next attempt goes
	// through.
	rec.setErr(nil)
	led.Off(t0.Add(time.Second))
	assert.Equal(t, []machine.Color{machine.ColorOff}, rec.sent())
}

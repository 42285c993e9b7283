package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openlift/cable-coach/internal/machine"
	"github.com/openlift/cable-coach/internal/routine"
)

func TestSetParameters_ClampedPullsIntoHardwareEnvelope(t *testing.T) {
	p := SetParameters{
		WeightKg:     200,
		EccentricPct: 200,
		EchoLevel:    7,
		TargetReps:   -3,
		WarmupReps:   -1,
	}.Clamped()

	assert.InDelta(t, machine.MaxWeightKg, p.WeightKg, 1e-9)
	assert.Equal(t, machine.MaxEccentricPct, p.EccentricPct)
	assert.Equal(t, machine.MaxEchoLevel, p.EchoLevel)
	assert.Equal(t, 0, p.TargetReps)
	assert.Equal(t, 0, p.WarmupReps)
	assert.True(t, p.IsAMRAP, "a zero rep target is an open set")

	p = SetParameters{WeightKg: -5, EccentricPct: -10, EchoLevel: -2, TargetReps: 8}.Clamped()
	assert.InDelta(t, machine.MinWeightKg, p.WeightKg, 1e-9)
	assert.Equal(t, machine.MinEccentricPct, p.EccentricPct)
	assert.Equal(t, machine.MinEchoLevel, p.EchoLevel)
	assert.False(t, p.IsAMRAP)
}

func TestSetParameters_ClampLeavesZeroEchoAlone(t *testing.T) {
	// Echo level zero means "not an echo set"; clamping must not invent
	// level 1.
	p := SetParameters{TargetReps: 5}.Clamped()
	assert.Equal(t, 0, p.EchoLevel)
}

func TestParamsForExercise_WeightResolution(t *testing.T) {
	ex := &routine.Exercise{
		Name:       "Chest Press",
		Mode:       machine.ResistanceFixed,
		WeightKg:   40,
		Sets:       3,
		RepsPerSet: 8,
	}

	// The routine's weight wins when set.
	p := paramsForExercise(ex, 55, true)
	assert.InDelta(t, 55.0, p.WeightKg, 1e-9, "history override replaces the routine weight")

	p = paramsForExercise(ex, 0, true)
	assert.InDelta(t, 40.0, p.WeightKg, 1e-9)

	// No weight anywhere: the default keeps the cables from going slack.
	ex.WeightKg = 0
	p = paramsForExercise(ex, 0, true)
	assert.InDelta(t, DefaultWeightKg, p.WeightKg, 1e-9)
}

func TestParamsForExercise_EccentricOverloadClamped(t *testing.T) {
	ex := &routine.Exercise{
		Name:         "Eccentric Pull",
		Mode:         machine.ResistanceEccentricOnly,
		WeightKg:     30,
		Sets:         4,
		RepsPerSet:   6,
		EccentricPct: 200,
	}
	p := paramsForExercise(ex, 0, true)
	assert.Equal(t, machine.MaxEccentricPct, p.EccentricPct,
		"an eccentric request beyond the motor limit is pulled down, not rejected")
}

func TestParamsForExercise_AMRAPAndFlags(t *testing.T) {
	ex := &routine.Exercise{
		Name:       "Burnout Curl",
		Mode:       machine.ResistanceEcho,
		WeightKg:   12,
		Sets:       1,
		RepsPerSet: 0,
		EchoLevel:  2,
		StopAtTop:  true,
		WarmupReps: 3,
	}
	p := paramsForExercise(ex, 0, false)
	assert.True(t, p.IsAMRAP)
	assert.False(t, p.IsJustLift)
	assert.False(t, p.StallDetectionEnabled)
	assert.True(t, p.StopAtTop)
	assert.Equal(t, 2, p.EchoLevel)
	assert.Equal(t, 3, p.WarmupReps)
}

func TestJustLiftParams(t *testing.T) {
	p := justLiftParams(25, true)
	assert.True(t, p.IsJustLift)
	assert.True(t, p.IsAMRAP)
	assert.True(t, p.UseAutoStart)
	assert.Equal(t, machine.ResistanceFixed, p.Mode)
	assert.InDelta(t, 25.0, p.WeightKg, 1e-9)

	p = justLiftParams(0, true)
	assert.InDelta(t, DefaultWeightKg, p.WeightKg, 1e-9)
}

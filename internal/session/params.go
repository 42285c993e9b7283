package session

import (
	"github.com/openlift/cable-coach/internal/machine"
	"github.com/openlift/cable-coach/internal/routine"
)

// DefaultWeightKg is used when neither the routine nor history pins a weight.
const DefaultWeightKg = 10.0

// SetParameters is the full configuration of one set. TargetReps 0 means
// AMRAP. Always pass through Clamped before storing or sending; out-of-range
// values are pulled into the hardware envelope, never rejected.
type SetParameters struct {
	Mode          machine.ResistanceMode
	TargetReps    int
	WeightKg      float64
	WarmupReps    int
	ProgressionKg float64
	EccentricPct  int
	EchoLevel     int

	IsJustLift            bool
	IsAMRAP               bool
	UseAutoStart          bool
	StallDetectionEnabled bool
	StopAtTop             bool
}

// Clamped returns a copy with every field inside the hardware envelope.
func (p SetParameters) Clamped() SetParameters {
	if p.WeightKg < machine.MinWeightKg {
		p.WeightKg = machine.MinWeightKg
	}
	if p.WeightKg > machine.MaxWeightKg {
		p.WeightKg = machine.MaxWeightKg
	}
	if p.EccentricPct < machine.MinEccentricPct {
		p.EccentricPct = machine.MinEccentricPct
	}
	if p.EccentricPct > machine.MaxEccentricPct {
		p.EccentricPct = machine.MaxEccentricPct
	}
	if p.EchoLevel != 0 {
		if p.EchoLevel < machine.MinEchoLevel {
			p.EchoLevel = machine.MinEchoLevel
		}
		if p.EchoLevel > machine.MaxEchoLevel {
			p.EchoLevel = machine.MaxEchoLevel
		}
	}
	if p.TargetReps < 0 {
		p.TargetReps = 0
	}
	if p.WarmupReps < 0 {
		p.WarmupReps = 0
	}
	if p.TargetReps == 0 {
		p.IsAMRAP = true
	}
	return p
}

// command maps the logical parameters onto the wire command. The codec owns
// the byte layout.
func (p SetParameters) command() machine.ParameterCommand {
	return machine.ParameterCommand{
		Mode:          p.Mode,
		WeightKg:      p.WeightKg,
		TargetReps:    p.TargetReps,
		WarmupReps:    p.WarmupReps,
		ProgressionKg: p.ProgressionKg,
		EccentricPct:  p.EccentricPct,
		EchoLevel:     p.EchoLevel,
		StopAtTop:     p.StopAtTop,
	}
}

// paramsForExercise builds set parameters from a routine exercise.
// weightOverride > 0 replaces the exercise's weight (history pre-fill).
func paramsForExercise(ex *routine.Exercise, weightOverride float64, stallEnabled bool) SetParameters {
	weight := ex.WeightKg
	if weightOverride > 0 {
		weight = weightOverride
	}
	if weight <= 0 && !ex.IsBodyweight() {
		weight = DefaultWeightKg
	}
	return SetParameters{
		Mode:                  ex.Mode,
		TargetReps:            ex.RepsPerSet,
		WeightKg:              weight,
		WarmupReps:            ex.WarmupReps,
		ProgressionKg:         ex.ProgressionKg,
		EccentricPct:          ex.EccentricPct,
		EchoLevel:             ex.EchoLevel,
		IsAMRAP:               ex.IsAMRAP(),
		StallDetectionEnabled: stallEnabled,
		StopAtTop:             ex.StopAtTop,
	}.Clamped()
}

// justLiftParams builds the ad-hoc set used by grab-to-start.
func justLiftParams(weightKg float64, stallEnabled bool) SetParameters {
	if weightKg <= 0 {
		weightKg = DefaultWeightKg
	}
	return SetParameters{
		Mode:                  machine.ResistanceFixed,
		TargetReps:            0,
		WeightKg:              weightKg,
		IsJustLift:            true,
		IsAMRAP:               true,
		UseAutoStart:          true,
		StallDetectionEnabled: stallEnabled,
	}.Clamped()
}

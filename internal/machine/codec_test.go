package machine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodec_ConfigureRoundTrip(t *testing.T) {
	cmd := ParameterCommand{
		Mode:          ResistanceTUT,
		WeightKg:      42.5,
		TargetReps:    12,
		WarmupReps:    3,
		ProgressionKg: -0.5,
		EccentricPct:  120,
		EchoLevel:     0,
		StopAtTop:     true,
	}

	decoded, err := DecodeConfigure(EncodeConfigure(cmd))
	require.NoError(t, err)
	assert.Equal(t, cmd, decoded)
}

func TestCodec_ConfigureClampsHardwareLimits(t *testing.T) {
	cmd := ParameterCommand{
		Mode:         ResistanceFixed,
		WeightKg:     400,
		EccentricPct: 200,
	}

	decoded, err := DecodeConfigure(EncodeConfigure(cmd))
	require.NoError(t, err)
	assert.Equal(t, float64(MaxWeightKg), decoded.WeightKg)
	assert.Equal(t, MaxEccentricPct, decoded.EccentricPct)
}

func TestCodec_ConfigureOpenSetEncodesZeroTarget(t *testing.T) {
	cmd := ParameterCommand{Mode: ResistanceEcho, WeightKg: 10, EchoLevel: 2}

	frame := EncodeConfigure(cmd)
	decoded, err := DecodeConfigure(frame)
	require.NoError(t, err)
	assert.Equal(t, 0, decoded.TargetReps)
	assert.Contains(t, DescribeControl(frame), "(open)")
}

func TestCodec_ConfigureRejectsShortAndUnknownFrames(t *testing.T) {
	_, err := DecodeConfigure([]byte{OpConfigure, 0x00})
	assert.ErrorIs(t, err, ErrShortFrame)

	frame := EncodeConfigure(ParameterCommand{Mode: ResistanceFixed})
	frame[1] = 0x7F // no such mode code
	_, err = DecodeConfigure(frame)
	assert.ErrorIs(t, err, ErrUnknownFrame)
}

func TestCodec_TelemetryRoundTripKeepsSignsAndResolution(t *testing.T) {
	at := time.Now()
	sample := TelemetrySample{
		Left:  CableSample{Position: 123.4, Velocity: -250.3, Load: 35.0},
		Right: CableSample{Position: 119.9, Velocity: -242.7, Load: 34.5},
	}

	decoded, err := DecodeTelemetry(EncodeTelemetry(sample), at)
	require.NoError(t, err)
	assert.Equal(t, at, decoded.Timestamp)
	assert.InDelta(t, sample.Left.Position, decoded.Left.Position, 0.05)
	assert.InDelta(t, sample.Left.Velocity, decoded.Left.Velocity, 0.05)
	assert.InDelta(t, sample.Right.Load, decoded.Right.Load, 0.05)
	assert.Negative(t, decoded.Left.Velocity)
}

func TestCodec_RepEventV2RoundTrip(t *testing.T) {
	at := time.Now()
	ev := RepEvent{
		RomReps:         7,
		WorkingReps:     5,
		UpTransitions:   8,
		DownTransitions: 7,
		TargetReps:      10,
		TargetWarmup:    3,
	}

	decoded, err := DecodeRepEvent(EncodeRepEvent(ev), at)
	require.NoError(t, err)
	ev.Timestamp = at
	assert.Equal(t, ev, decoded)
	assert.False(t, decoded.Legacy)
}

func TestCodec_LegacyRepEventCarriesOnlyTransitions(t *testing.T) {
	at := time.Now()
	ev := RepEvent{
		RomReps:         9, // dropped on the legacy wire
		WorkingReps:     9,
		UpTransitions:   9,
		DownTransitions: 8,
		Legacy:          true,
	}

	frame := EncodeRepEvent(ev)
	assert.Len(t, frame, 5)

	decoded, err := DecodeRepEvent(frame, at)
	require.NoError(t, err)
	assert.True(t, decoded.Legacy)
	assert.Zero(t, decoded.RomReps)
	assert.Zero(t, decoded.WorkingReps)
	assert.Equal(t, 9, decoded.UpTransitions)
	assert.Equal(t, 8, decoded.DownTransitions)
}

func TestCodec_HandleStateRoundTrip(t *testing.T) {
	for _, h := range []HandleState{HandleReleased, HandleMoving, HandleGrabbed, HandleWaitingForRest} {
		decoded, err := DecodeHandleState(EncodeHandleState(h))
		require.NoError(t, err)
		assert.Equal(t, h, decoded)
	}

	_, err := DecodeHandleState([]byte{0x09})
	assert.ErrorIs(t, err, ErrUnknownFrame)
}

func TestCodec_MachineStateDeloadFlag(t *testing.T) {
	deload, err := DecodeMachineState(EncodeMachineState(true))
	require.NoError(t, err)
	assert.True(t, deload)

	deload, err = DecodeMachineState(EncodeMachineState(false))
	require.NoError(t, err)
	assert.False(t, deload)
}

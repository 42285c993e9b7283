package machine

import (
	"errors"
	"fmt"
	"time"
)

// Control point op codes (trainer control protocol rev B)
const (
	OpConfigure byte = 0x01
	OpStart     byte = 0x02
	OpStop      byte = 0x03
	OpSetColor  byte = 0x04
)

// Frame version bytes on the notify characteristics
const (
	telemetryFrameV1 byte = 0x01
	repFrameLegacy   byte = 0x01 // transitions only, pre-v2 firmware
	repFrameV2       byte = 0x02 // full counters
)

var (
	ErrShortFrame   = errors.New("frame too short")
	ErrUnknownFrame = errors.New("unknown frame version")
)

// Numeric fields travel as deci-units (value*10) to keep 0.1 resolution in
// fixed-width integers.
func toDeci(v float64) uint16 {
	if v < 0 {
		return 0
	}
	if v > 6553.5 {
		return 65535
	}
	return uint16(v*10 + 0.5)
}

func toDeciSigned(v float64) int16 {
	if v > 3276.7 {
		return 32767
	}
	if v < -3276.8 {
		return -32768
	}
	if v < 0 {
		return int16(v*10 - 0.5)
	}
	return int16(v*10 + 0.5)
}

func fromDeci(v uint16) float64       { return float64(v) / 10 }
func fromDeciSigned(v int16) float64  { return float64(v) / 10 }
func readU16(buf []byte) uint16       { return uint16(buf[0]) | uint16(buf[1])<<8 }
func readI16(buf []byte) int16        { return int16(readU16(buf)) }
func putU16(buf []byte, v uint16)     { buf[0] = byte(v & 0xFF); buf[1] = byte(v >> 8) }
func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampI(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// EncodeConfigure builds the configure frame for the control point. Fields
// are clamped to hardware limits so an out-of-range value can never leave
// the app as a wrapped integer.
func EncodeConfigure(cmd ParameterCommand) []byte {
	buf := make([]byte, 11)
	buf[0] = OpConfigure
	buf[1] = AllResistanceModes[cmd.Mode].Code
	putU16(buf[2:4], toDeci(clampF(cmd.WeightKg, MinWeightKg, MaxWeightKg)))
	buf[4] = byte(clampI(cmd.TargetReps, 0, 255))
	buf[5] = byte(clampI(cmd.WarmupReps, 0, 255))
	putU16(buf[6:8], uint16(toDeciSigned(cmd.ProgressionKg)))
	buf[8] = byte(clampI(cmd.EccentricPct, MinEccentricPct, MaxEccentricPct))
	buf[9] = byte(clampI(cmd.EchoLevel, 0, MaxEchoLevel))
	if cmd.StopAtTop {
		buf[10] |= 0x01
	}
	return buf
}

// DecodeConfigure parses a configure frame back into logical fields. The
// simulated machine uses it; a real trainer decodes the same layout in
// firmware.
func DecodeConfigure(buf []byte) (ParameterCommand, error) {
	if len(buf) < 11 {
		return ParameterCommand{}, fmt.Errorf("configure frame (%d bytes): %w", len(buf), ErrShortFrame)
	}
	if buf[0] != OpConfigure {
		return ParameterCommand{}, fmt.Errorf("configure frame op 0x%02x: %w", buf[0], ErrUnknownFrame)
	}
	mode, ok := resistanceModeByCode(buf[1])
	if !ok {
		return ParameterCommand{}, fmt.Errorf("configure frame mode 0x%02x: %w", buf[1], ErrUnknownFrame)
	}
	return ParameterCommand{
		Mode:          mode,
		WeightKg:      fromDeci(readU16(buf[2:4])),
		TargetReps:    int(buf[4]),
		WarmupReps:    int(buf[5]),
		ProgressionKg: fromDeciSigned(readI16(buf[6:8])),
		EccentricPct:  int(buf[8]),
		EchoLevel:     int(buf[9]),
		StopAtTop:     buf[10]&0x01 != 0,
	}, nil
}

func resistanceModeByCode(code byte) (ResistanceMode, bool) {
	for mode, info := range AllResistanceModes {
		if info.Code == code {
			return mode, true
		}
	}
	return 0, false
}

// EncodeStart builds the explicit start frame. The firmware will not begin
// rep detection on configure alone.
func EncodeStart() []byte { return []byte{OpStart} }

// EncodeStop builds the stop/reset frame.
func EncodeStop() []byte { return []byte{OpStop} }

// EncodeColor builds the LED color frame.
func EncodeColor(c Color) []byte {
	info := AllColors[c]
	return []byte{OpSetColor, info.R, info.G, info.B}
}

// EncodeTelemetry builds a telemetry frame from a sample (simulated machine
// side). The host receive time is not on the wire; DecodeTelemetry stamps it.
func EncodeTelemetry(s TelemetrySample) []byte {
	buf := make([]byte, 13)
	buf[0] = telemetryFrameV1
	encodeCable(buf[1:7], s.Left)
	encodeCable(buf[7:13], s.Right)
	return buf
}

func encodeCable(buf []byte, c CableSample) {
	putU16(buf[0:2], toDeci(c.Position))
	putU16(buf[2:4], uint16(toDeciSigned(c.Velocity)))
	putU16(buf[4:6], toDeci(c.Load))
}

// DecodeTelemetry parses a telemetry frame, stamping it with the given
// receive time.
func DecodeTelemetry(buf []byte, at time.Time) (TelemetrySample, error) {
	if len(buf) < 13 {
		return TelemetrySample{}, fmt.Errorf("telemetry frame (%d bytes): %w", len(buf), ErrShortFrame)
	}
	if buf[0] != telemetryFrameV1 {
		return TelemetrySample{}, fmt.Errorf("telemetry frame version 0x%02x: %w", buf[0], ErrUnknownFrame)
	}
	return TelemetrySample{
		Timestamp: at,
		Left:      decodeCable(buf[1:7]),
		Right:     decodeCable(buf[7:13]),
	}, nil
}

func decodeCable(buf []byte) CableSample {
	return CableSample{
		Position: fromDeci(readU16(buf[0:2])),
		Velocity: fromDeciSigned(readI16(buf[2:4])),
		Load:     fromDeci(readU16(buf[4:6])),
	}
}

// EncodeRepEvent builds a rep boundary frame. A Legacy event produces the
// pre-v2 layout that carries only the transition counters.
func EncodeRepEvent(ev RepEvent) []byte {
	if ev.Legacy {
		buf := make([]byte, 5)
		buf[0] = repFrameLegacy
		putU16(buf[1:3], uint16(clampI(ev.UpTransitions, 0, 65535)))
		putU16(buf[3:5], uint16(clampI(ev.DownTransitions, 0, 65535)))
		return buf
	}
	buf := make([]byte, 11)
	buf[0] = repFrameV2
	putU16(buf[1:3], uint16(clampI(ev.RomReps, 0, 65535)))
	putU16(buf[3:5], uint16(clampI(ev.WorkingReps, 0, 65535)))
	putU16(buf[5:7], uint16(clampI(ev.UpTransitions, 0, 65535)))
	putU16(buf[7:9], uint16(clampI(ev.DownTransitions, 0, 65535)))
	buf[9] = byte(clampI(ev.TargetReps, 0, 255))
	buf[10] = byte(clampI(ev.TargetWarmup, 0, 255))
	return buf
}

// DecodeRepEvent parses a rep boundary frame, stamping the receive time.
func DecodeRepEvent(buf []byte, at time.Time) (RepEvent, error) {
	if len(buf) < 1 {
		return RepEvent{}, fmt.Errorf("rep frame: %w", ErrShortFrame)
	}
	switch buf[0] {
	case repFrameLegacy:
		if len(buf) < 5 {
			return RepEvent{}, fmt.Errorf("legacy rep frame (%d bytes): %w", len(buf), ErrShortFrame)
		}
		return RepEvent{
			Timestamp:       at,
			UpTransitions:   int(readU16(buf[1:3])),
			DownTransitions: int(readU16(buf[3:5])),
			Legacy:          true,
		}, nil
	case repFrameV2:
		if len(buf) < 11 {
			return RepEvent{}, fmt.Errorf("rep frame (%d bytes): %w", len(buf), ErrShortFrame)
		}
		return RepEvent{
			Timestamp:       at,
			RomReps:         int(readU16(buf[1:3])),
			WorkingReps:     int(readU16(buf[3:5])),
			UpTransitions:   int(readU16(buf[5:7])),
			DownTransitions: int(readU16(buf[7:9])),
			TargetReps:      int(buf[9]),
			TargetWarmup:    int(buf[10]),
		}, nil
	default:
		return RepEvent{}, fmt.Errorf("rep frame version 0x%02x: %w", buf[0], ErrUnknownFrame)
	}
}

// EncodeHandleState builds a handle state frame.
func EncodeHandleState(h HandleState) []byte { return []byte{byte(h)} }

// DecodeHandleState parses a handle state frame.
func DecodeHandleState(buf []byte) (HandleState, error) {
	if len(buf) < 1 {
		return 0, fmt.Errorf("handle frame: %w", ErrShortFrame)
	}
	h := HandleState(buf[0])
	if _, ok := handleStateNames[h]; !ok {
		return 0, fmt.Errorf("handle frame state 0x%02x: %w", buf[0], ErrUnknownFrame)
	}
	return h, nil
}

// Machine state flag bits
const machineStateDeload byte = 0x01

// EncodeMachineState builds a machine state frame.
func EncodeMachineState(deload bool) []byte {
	var flags byte
	if deload {
		flags |= machineStateDeload
	}
	return []byte{flags}
}

// DecodeMachineState parses a machine state frame and reports whether the
// deload flag is set.
func DecodeMachineState(buf []byte) (bool, error) {
	if len(buf) < 1 {
		return false, fmt.Errorf("machine state frame: %w", ErrShortFrame)
	}
	return buf[0]&machineStateDeload != 0, nil
}

// DescribeControl renders a control point frame for logs and the simulator
// panel.
func DescribeControl(buf []byte) string {
	if len(buf) == 0 {
		return "empty frame"
	}
	switch buf[0] {
	case OpConfigure:
		cmd, err := DecodeConfigure(buf)
		if err != nil {
			return fmt.Sprintf("Configure (malformed: %v)", err)
		}
		open := ""
		if cmd.TargetReps == 0 {
			open = " (open)"
		}
		return fmt.Sprintf("Configure %s %.1fkg x%d%s warmup=%d prog=%.1f ecc=%d%% echo=%d stopAtTop=%t",
			cmd.Mode, cmd.WeightKg, cmd.TargetReps, open, cmd.WarmupReps,
			cmd.ProgressionKg, cmd.EccentricPct, cmd.EchoLevel, cmd.StopAtTop)
	case OpStart:
		return "Start"
	case OpStop:
		return "Stop/Reset"
	case OpSetColor:
		if len(buf) < 4 {
			return "Set LED Color (malformed)"
		}
		return fmt.Sprintf("Set LED Color #%02X%02X%02X", buf[1], buf[2], buf[3])
	default:
		return fmt.Sprintf("Unknown op 0x%02x", buf[0])
	}
}

package machine

import (
	"strings"
	"time"
)

// Bluetooth service and characteristic UUIDs for the Liftra cable trainer.
// The trainer exposes a single vendor service; everything rides on it.
const (
	ServiceUUIDTrainer = "8f1d0001-6e3b-4b8f-9d2a-c41f5de97a10"

	CharUUIDTelemetry    = "8f1d0002-6e3b-4b8f-9d2a-c41f5de97a10"
	CharUUIDRepEvents    = "8f1d0003-6e3b-4b8f-9d2a-c41f5de97a10"
	CharUUIDHandleState  = "8f1d0004-6e3b-4b8f-9d2a-c41f5de97a10"
	CharUUIDMachineState = "8f1d0005-6e3b-4b8f-9d2a-c41f5de97a10"
	CharUUIDControlPoint = "8f1d0006-6e3b-4b8f-9d2a-c41f5de97a10"
)

// CharacteristicMode defines how we interact with a characteristic
type CharacteristicMode int

const (
	ModeNotify CharacteristicMode = iota // Subscribe to notifications
	ModeWrite                            // Write commands
)

// StreamID uniquely identifies a data stream on the trainer
type StreamID string

const (
	StreamTelemetry    StreamID = "telemetry"
	StreamRepEvents    StreamID = "rep_events"
	StreamHandleState  StreamID = "handle_state"
	StreamMachineState StreamID = "machine_state"
	StreamControl      StreamID = "control"
)

// Stream defines a characteristic on the trainer service for a specific data need
type Stream struct {
	ID                 StreamID
	DisplayName        string
	Description        string
	CharacteristicUUID string
	Mode               CharacteristicMode
}

// Named Stream constants for each supported stream
var (
	StreamInfoTelemetry = Stream{
		ID:                 StreamTelemetry,
		DisplayName:        "Telemetry",
		Description:        "Per-cable position, velocity and load at ~10 Hz",
		CharacteristicUUID: CharUUIDTelemetry,
		Mode:               ModeNotify,
	}
	StreamInfoRepEvents = Stream{
		ID:                 StreamRepEvents,
		DisplayName:        "Rep Events",
		Description:        "Rep boundary counters from the motor controller",
		CharacteristicUUID: CharUUIDRepEvents,
		Mode:               ModeNotify,
	}
	StreamInfoHandleState = Stream{
		ID:                 StreamHandleState,
		DisplayName:        "Handle State",
		Description:        "Grabbed/moving/released classification per handle pair",
		CharacteristicUUID: CharUUIDHandleState,
		Mode:               ModeNotify,
	}
	StreamInfoMachineState = Stream{
		ID:                 StreamMachineState,
		DisplayName:        "Machine State",
		Description:        "Out-of-band machine flags such as deload",
		CharacteristicUUID: CharUUIDMachineState,
		Mode:               ModeNotify,
	}
	StreamInfoControl = Stream{
		ID:                 StreamControl,
		DisplayName:        "Control Point",
		Description:        "Configure resistance, start/stop, LED color",
		CharacteristicUUID: CharUUIDControlPoint,
		Mode:               ModeWrite,
	}
)

// AllStreams is the registry of all trainer streams
var AllStreams = []Stream{
	StreamInfoTelemetry,
	StreamInfoRepEvents,
	StreamInfoHandleState,
	StreamInfoMachineState,
	StreamInfoControl,
}

// NotifyStreams returns all streams that use notifications
func NotifyStreams() []Stream {
	var result []Stream
	for _, s := range AllStreams {
		if s.Mode == ModeNotify {
			result = append(result, s)
		}
	}
	return result
}

// StreamByCharacteristic returns the stream served by a characteristic UUID
func StreamByCharacteristic(charUUID string) (Stream, bool) {
	for _, s := range AllStreams {
		if s.CharacteristicUUID == charUUID {
			return s, true
		}
	}
	return Stream{}, false
}

// ResistanceMode selects how the motor shapes load through a rep
type ResistanceMode int

const (
	ResistanceFixed        ResistanceMode = iota // Constant load both phases
	ResistancePump                               // Lightened eccentric for high-rep sets
	ResistanceTUT                                // Tempo-governed time under tension
	ResistanceTUTSlow                            // TUT with a slower target tempo
	ResistanceEccentricOnly                      // Motor loads only the lowering phase
	ResistanceEcho                               // Adaptive load following the user's output
)

// ResistanceModeInfo carries display and control metadata for a mode
type ResistanceModeInfo struct {
	Mode        ResistanceMode
	DisplayName string
	Code        byte    // Wire code in the configure command
	TargetVel   float64 // Tempo target in units/s, 0 when the mode has no tempo band
}

// AllResistanceModes defines metadata for all supported modes
var AllResistanceModes = map[ResistanceMode]ResistanceModeInfo{
	ResistanceFixed:         {Mode: ResistanceFixed, DisplayName: "Old School", Code: 0x00},
	ResistancePump:          {Mode: ResistancePump, DisplayName: "Pump", Code: 0x01},
	ResistanceTUT:           {Mode: ResistanceTUT, DisplayName: "Time Under Tension", Code: 0x02, TargetVel: 200},
	ResistanceTUTSlow:       {Mode: ResistanceTUTSlow, DisplayName: "Slow TUT", Code: 0x03, TargetVel: 120},
	ResistanceEccentricOnly: {Mode: ResistanceEccentricOnly, DisplayName: "Eccentric Only", Code: 0x04, TargetVel: 150},
	ResistanceEcho:          {Mode: ResistanceEcho, DisplayName: "Echo", Code: 0x05},
}

// String returns the display name for the mode
func (m ResistanceMode) String() string {
	if info, ok := AllResistanceModes[m]; ok {
		return info.DisplayName
	}
	return "Unknown"
}

// HasTempoTarget reports whether the mode carries a tempo band for LED feedback
func (m ResistanceMode) HasTempoTarget() bool {
	info, ok := AllResistanceModes[m]
	return ok && info.TargetVel > 0
}

var resistanceModeNames = map[string]ResistanceMode{
	"old_school": ResistanceFixed,
	"fixed":      ResistanceFixed,
	"pump":       ResistancePump,
	"tut":        ResistanceTUT,
	"tut_slow":   ResistanceTUTSlow,
	"eccentric":  ResistanceEccentricOnly,
	"echo":       ResistanceEcho,
}

// ResistanceModeByName resolves the short names used in routine files and config
func ResistanceModeByName(name string) (ResistanceMode, bool) {
	mode, ok := resistanceModeNames[strings.ToLower(strings.TrimSpace(name))]
	return mode, ok
}

// Hardware limits enforced before any configure command leaves the app
const (
	MinWeightKg     = 0.0
	MaxWeightKg     = 110.0
	MinEccentricPct = 0
	MaxEccentricPct = 150
	MinEchoLevel    = 1
	MaxEchoLevel    = 3
)

// ParameterCommand carries the logical fields of a set configuration.
// Encoding to the wire frame happens in the codec, never in callers.
type ParameterCommand struct {
	Mode          ResistanceMode
	WeightKg      float64 // Per cable
	TargetReps    int     // 0 = open set (AMRAP / JustLift)
	WarmupReps    int
	ProgressionKg float64 // Added per completed rep, may be negative
	EccentricPct  int     // 100 = symmetric, up to 150
	EchoLevel     int     // 1..3, echo mode only
	StopAtTop     bool    // End the final rep at the top of the concentric
}

// Color is an LED feedback color from the trainer's fixed palette
type Color int

const (
	ColorOff Color = iota
	ColorGreen
	ColorYellow
	ColorRed
	ColorBlue
	ColorPurple
	ColorWhite
)

// ColorInfo maps a palette entry to its wire RGB value
type ColorInfo struct {
	Color       Color
	DisplayName string
	R, G, B     byte
}

// AllColors defines the trainer LED palette
var AllColors = map[Color]ColorInfo{
	ColorOff:    {Color: ColorOff, DisplayName: "Off", R: 0x00, G: 0x00, B: 0x00},
	ColorGreen:  {Color: ColorGreen, DisplayName: "Green", R: 0x00, G: 0xC8, B: 0x32},
	ColorYellow: {Color: ColorYellow, DisplayName: "Yellow", R: 0xE6, G: 0xB4, B: 0x00},
	ColorRed:    {Color: ColorRed, DisplayName: "Red", R: 0xDC, G: 0x28, B: 0x1E},
	ColorBlue:   {Color: ColorBlue, DisplayName: "Blue", R: 0x1E, G: 0x64, B: 0xDC},
	ColorPurple: {Color: ColorPurple, DisplayName: "Purple", R: 0x8C, G: 0x28, B: 0xC8},
	ColorWhite:  {Color: ColorWhite, DisplayName: "White", R: 0xDC, G: 0xDC, B: 0xDC},
}

// String returns the display name for the color
func (c Color) String() string {
	if info, ok := AllColors[c]; ok {
		return info.DisplayName
	}
	return "Unknown"
}

// CableSample is one cable's instantaneous reading
type CableSample struct {
	Position float64 // Units from fully retracted
	Velocity float64 // Units/s, negative on the lowering phase
	Load     float64 // kg currently applied
}

// TelemetrySample is one reading of both cables. Timestamp is the host
// receive time; detector timing derives from it, never from the wall clock.
type TelemetrySample struct {
	Timestamp time.Time
	Left      CableSample
	Right     CableSample
}

// RepEvent is a rep boundary notification. Firmware before v2 reports zero
// for RomReps/WorkingReps and only moves the transition counters; the codec
// marks those frames Legacy so the counter can fall back to edge counting.
type RepEvent struct {
	Timestamp       time.Time
	RomReps         int // Full range-of-motion reps since set start
	WorkingReps     int // Reps under working load since set start
	UpTransitions   int // Completed concentric phases (cable reached the top)
	DownTransitions int // Completed eccentric phases (cable back at the bottom)
	TargetReps      int // Echoed from the configure command
	TargetWarmup    int
	Legacy          bool
}

// HandleState classifies what the user is doing with the handle pair
type HandleState int

const (
	HandleReleased HandleState = iota
	HandleMoving
	HandleGrabbed
	HandleWaitingForRest
)

var handleStateNames = map[HandleState]string{
	HandleReleased:       "Released",
	HandleMoving:         "Moving",
	HandleGrabbed:        "Grabbed",
	HandleWaitingForRest: "WaitingForRest",
}

// String returns the display name for the handle state
func (h HandleState) String() string {
	if name, ok := handleStateNames[h]; ok {
		return name
	}
	return "Unknown"
}

// DeloadEvent signals that the machine dropped its load out-of-band, e.g.
// the safety bar was hit. Consumers should re-evaluate stop conditions
// immediately instead of waiting for the next telemetry sample.
type DeloadEvent struct {
	Timestamp time.Time
}

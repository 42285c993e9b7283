package machine

import (
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport records writes and lets the test push notification frames.
type fakeTransport struct {
	mu        sync.Mutex
	callbacks map[string]func([]byte)
	writes    [][]byte
	writeErr  error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{callbacks: make(map[string]func([]byte))}
}

func (f *fakeTransport) GetLocalName() string     { return "fake-trainer" }
func (f *fakeTransport) GetAddressString() string { return "00:11:22:33:44:55" }
func (f *fakeTransport) IsConnected() bool        { return true }
func (f *fakeTransport) Disconnect() error        { return nil }

func (f *fakeTransport) EnableNotifications(serviceUUID, charUUID string, cb func([]byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks[charUUID] = cb
	return nil
}

func (f *fakeTransport) WriteCharacteristic(serviceUUID, charUUID string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) notify(charUUID string, frame []byte) {
	f.mu.Lock()
	cb := f.callbacks[charUUID]
	f.mu.Unlock()
	if cb != nil {
		cb(frame)
	}
}

func (f *fakeTransport) lastWrite() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.writes) == 0 {
		return nil
	}
	return f.writes[len(f.writes)-1]
}

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestLink_AttachSubscribesAllNotifyStreams(t *testing.T) {
	transport := newFakeTransport()
	link := NewLink(transport, testLogger())

	require.NoError(t, link.Attach())

	transport.mu.Lock()
	defer transport.mu.Unlock()
	for _, stream := range NotifyStreams() {
		assert.Contains(t, transport.callbacks, stream.CharacteristicUUID, stream.ID)
	}
}

func TestLink_DecodesTelemetryToSubscribers(t *testing.T) {
	transport := newFakeTransport()
	link := NewLink(transport, testLogger())
	require.NoError(t, link.Attach())

	ch := make(chan TelemetrySample, 1)
	cancel := link.SubscribeTelemetry(ch)
	defer cancel()

	sample := TelemetrySample{Left: CableSample{Position: 200, Velocity: 150, Load: 20}}
	transport.notify(CharUUIDTelemetry, EncodeTelemetry(sample))

	require.Len(t, ch, 1)
	got := <-ch
	assert.InDelta(t, 200, got.Left.Position, 0.05)
	assert.False(t, got.Timestamp.IsZero())
}

func TestLink_DropsMalformedFramesWithoutKillingStream(t *testing.T) {
	transport := newFakeTransport()
	link := NewLink(transport, testLogger())
	require.NoError(t, link.Attach())

	ch := make(chan RepEvent, 2)
	cancel := link.SubscribeReps(ch)
	defer cancel()

	transport.notify(CharUUIDRepEvents, []byte{0x42}) // bogus version
	transport.notify(CharUUIDRepEvents, EncodeRepEvent(RepEvent{RomReps: 1, WorkingReps: 1}))

	require.Len(t, ch, 1)
	assert.Equal(t, 1, (<-ch).RomReps)
}

func TestLink_DeloadOnlyPublishedWhenFlagSet(t *testing.T) {
	transport := newFakeTransport()
	link := NewLink(transport, testLogger())
	require.NoError(t, link.Attach())

	ch := make(chan DeloadEvent, 2)
	cancel := link.SubscribeDeload(ch)
	defer cancel()

	transport.notify(CharUUIDMachineState, EncodeMachineState(false))
	transport.notify(CharUUIDMachineState, EncodeMachineState(true))

	assert.Len(t, ch, 1)
}

func TestLink_HandleStateReplayedToLateSubscriber(t *testing.T) {
	transport := newFakeTransport()
	link := NewLink(transport, testLogger())
	require.NoError(t, link.Attach())

	transport.notify(CharUUIDHandleState, EncodeHandleState(HandleGrabbed))

	ch := make(chan HandleState, 1)
	cancel := link.SubscribeHandles(ch)
	defer cancel()

	require.Len(t, ch, 1)
	assert.Equal(t, HandleGrabbed, <-ch)
}

func TestLink_CommandsReachControlPoint(t *testing.T) {
	transport := newFakeTransport()
	link := NewLink(transport, testLogger())

	require.NoError(t, link.Configure(ParameterCommand{Mode: ResistancePump, WeightKg: 25}))
	decoded, err := DecodeConfigure(transport.lastWrite())
	require.NoError(t, err)
	assert.Equal(t, ResistancePump, decoded.Mode)

	require.NoError(t, link.Start())
	assert.Equal(t, []byte{OpStart}, transport.lastWrite())

	require.NoError(t, link.Stop())
	assert.Equal(t, []byte{OpStop}, transport.lastWrite())

	require.NoError(t, link.SetColor(ColorGreen))
	assert.Equal(t, OpSetColor, transport.lastWrite()[0])
}

func TestLink_WriteErrorsAreWrappedNotRetried(t *testing.T) {
	transport := newFakeTransport()
	transport.writeErr = errors.New("gatt timeout")
	link := NewLink(transport, testLogger())

	err := link.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "writing start")

	transport.mu.Lock()
	defer transport.mu.Unlock()
	assert.Empty(t, transport.writes)
}

func TestLink_NilDependenciesPanic(t *testing.T) {
	assert.Panics(t, func() { NewLink(nil, testLogger()) })
	assert.Panics(t, func() { NewLink(newFakeTransport(), nil) })
}

func TestSim_EndToEndOverLink(t *testing.T) {
	sim := NewSim(testLogger(), SimConfig{Address: "AA:BB:CC:DD:EE:FF", LocalName: "Liftra Sim", PanelPort: 0})
	sim.SetConnected(true)

	link := NewLink(sim, testLogger())
	require.NoError(t, link.Attach())

	require.NoError(t, link.Configure(ParameterCommand{Mode: ResistanceFixed, WeightKg: 30, TargetReps: 5}))
	require.NoError(t, link.Start())

	reps := make(chan RepEvent, 16)
	cancel := link.SubscribeReps(reps)
	defer cancel()

	// Drive the lift physics directly rather than waiting on the real ticker.
	sim.mu.Lock()
	sim.lifting = true
	sim.mu.Unlock()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		sim.tick(0.1)
		select {
		case ev := <-reps:
			assert.Equal(t, 1, ev.RomReps)
			assert.Equal(t, 5, ev.TargetReps)
			return
		default:
		}
	}
	t.Fatal("no rep event produced by the simulated lift")
}

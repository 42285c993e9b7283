package machine

import (
	"fmt"
	"log"
	"time"

	"github.com/openlift/cable-coach/internal/events"
)

// Transport is the byte-level connection a Link rides on: the BLE peripheral
// in production, the simulated machine in development and tests.
type Transport interface {
	GetLocalName() string
	GetAddressString() string
	IsConnected() bool
	EnableNotifications(serviceUUID string, characteristicUUID string, callback func(buf []byte)) error
	WriteCharacteristic(serviceUUID string, characteristicUUID string, data []byte) error
	Disconnect() error
}

// Link turns a Transport into the logical trainer channel: typed event
// streams inbound, fire-and-forget commands outbound. It never retries a
// write; the caller owns reconnection policy.
type Link struct {
	transport Transport
	logger    *log.Logger

	telemetry *events.Stream[TelemetrySample]
	reps      *events.Stream[RepEvent]
	handles   *events.Stream[HandleState]
	deload    *events.Stream[DeloadEvent]
}

// NewLink creates a Link over the given transport.
func NewLink(transport Transport, logger *log.Logger) *Link {
	if transport == nil {
		panic("Link: transport cannot be nil")
	}
	if logger == nil {
		panic("Link: logger cannot be nil")
	}
	return &Link{
		transport: transport,
		logger:    logger,
		telemetry: events.NewStream[TelemetrySample](false),
		reps:      events.NewStream[RepEvent](false),
		handles:   events.NewStream[HandleState](true),
		deload:    events.NewStream[DeloadEvent](false),
	}
}

// Attach enables notifications on every notify stream of the trainer
// service and begins publishing decoded events.
func (l *Link) Attach() error {
	for _, stream := range NotifyStreams() {
		handler := l.notificationHandler(stream.ID)
		if err := l.transport.EnableNotifications(ServiceUUIDTrainer, stream.CharacteristicUUID, handler); err != nil {
			return fmt.Errorf("enabling %s notifications: %w", stream.ID, err)
		}
	}
	l.logger.Printf("Link: attached to %s (%s)", l.transport.GetLocalName(), l.transport.GetAddressString())
	return nil
}

// notificationHandler returns the decode callback for one stream. Malformed
// frames are logged and dropped; one bad frame must not kill the stream.
func (l *Link) notificationHandler(id StreamID) func(buf []byte) {
	return func(buf []byte) {
		now := time.Now()
		switch id {
		case StreamTelemetry:
			sample, err := DecodeTelemetry(buf, now)
			if err != nil {
				l.logger.Printf("Link: dropping telemetry frame: %v", err)
				return
			}
			l.telemetry.Publish(sample)
		case StreamRepEvents:
			ev, err := DecodeRepEvent(buf, now)
			if err != nil {
				l.logger.Printf("Link: dropping rep frame: %v", err)
				return
			}
			l.reps.Publish(ev)
		case StreamHandleState:
			h, err := DecodeHandleState(buf)
			if err != nil {
				l.logger.Printf("Link: dropping handle frame: %v", err)
				return
			}
			l.handles.Publish(h)
		case StreamMachineState:
			deload, err := DecodeMachineState(buf)
			if err != nil {
				l.logger.Printf("Link: dropping machine state frame: %v", err)
				return
			}
			if deload {
				l.deload.Publish(DeloadEvent{Timestamp: now})
			}
		default:
			l.logger.Printf("Link: notification for unhandled stream %s", id)
		}
	}
}

// Configure sends the set configuration to the control point.
func (l *Link) Configure(cmd ParameterCommand) error {
	frame := EncodeConfigure(cmd)
	l.logger.Printf("Link: write %s", DescribeControl(frame))
	if err := l.transport.WriteCharacteristic(ServiceUUIDTrainer, CharUUIDControlPoint, frame); err != nil {
		return fmt.Errorf("writing configure: %w", err)
	}
	return nil
}

// Start sends the explicit start command.
func (l *Link) Start() error {
	l.logger.Printf("Link: write Start")
	if err := l.transport.WriteCharacteristic(ServiceUUIDTrainer, CharUUIDControlPoint, EncodeStart()); err != nil {
		return fmt.Errorf("writing start: %w", err)
	}
	return nil
}

// Stop sends the stop/reset command.
func (l *Link) Stop() error {
	l.logger.Printf("Link: write Stop/Reset")
	if err := l.transport.WriteCharacteristic(ServiceUUIDTrainer, CharUUIDControlPoint, EncodeStop()); err != nil {
		return fmt.Errorf("writing stop: %w", err)
	}
	return nil
}

// SetColor sends an LED color command. Callers throttle; the link does not.
func (l *Link) SetColor(c Color) error {
	if err := l.transport.WriteCharacteristic(ServiceUUIDTrainer, CharUUIDControlPoint, EncodeColor(c)); err != nil {
		return fmt.Errorf("writing color: %w", err)
	}
	return nil
}

// SubscribeTelemetry registers ch for telemetry samples and returns the
// cancel function. Delivery is non-blocking; a slow consumer loses samples
// but never sees them reordered.
func (l *Link) SubscribeTelemetry(ch chan<- TelemetrySample) func() {
	return l.telemetry.Subscribe(ch)
}

// SubscribeReps registers ch for rep boundary events.
func (l *Link) SubscribeReps(ch chan<- RepEvent) func() {
	return l.reps.Subscribe(ch)
}

// SubscribeHandles registers ch for handle state changes. The latest state
// is replayed to new subscribers.
func (l *Link) SubscribeHandles(ch chan<- HandleState) func() {
	return l.handles.Subscribe(ch)
}

// SubscribeDeload registers ch for deload signals.
func (l *Link) SubscribeDeload(ch chan<- DeloadEvent) func() {
	return l.deload.Subscribe(ch)
}

// IsConnected reports whether the underlying transport is still up.
func (l *Link) IsConnected() bool {
	return l.transport.IsConnected()
}

// Shutdown disconnects the transport.
func (l *Link) Shutdown() {
	if err := l.transport.Disconnect(); err != nil {
		l.logger.Printf("Link: disconnect: %v", err)
	}
}

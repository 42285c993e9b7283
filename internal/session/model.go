package session

import (
	"context"
	"log"
	"sync"

	"github.com/openlift/cable-coach/internal/events"
	"github.com/openlift/cable-coach/internal/machine"
	"github.com/openlift/cable-coach/internal/syncutil"
)

// ConnectionState describes the device link for the dashboard header.
type ConnectionState struct {
	LinkName  string
	Address   string
	Connected bool
}

const maxLogLines = 1000

// Model is the observable snapshot of engine-owned state. The engine writes,
// the UI listens; nothing here is authoritative.
type Model struct {
	logger *log.Logger

	mu           sync.RWMutex
	sessionState SessionState
	repCount     RepCount
	telemetry    machine.TelemetrySample
	autoStop     AutoStopUiState
	zone         Zone
	status       string
	connection   ConnectionState

	stateStream      *events.Stream[SessionState]
	repStream        *events.Stream[RepCount]
	telemetryStream  *events.Stream[machine.TelemetrySample]
	autoStopStream   *events.Stream[AutoStopUiState]
	zoneStream       *events.Stream[Zone]
	statusStream     *events.Stream[string]
	connectionStream *events.Stream[ConnectionState]
	logStream        *events.Stream[string]
	closeStream      *events.Stream[struct{}]

	logMu    sync.RWMutex
	logLines []string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewModel builds the model and starts draining uiLogChan into the scrolling
// log buffer.
func NewModel(logger *log.Logger, uiLogChan <-chan string) *Model {
	if logger == nil {
		panic("Model: logger cannot be nil")
	}
	if uiLogChan == nil {
		panic("Model: uiLogChan cannot be nil")
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Model{
		logger:           logger,
		stateStream:      events.NewStream[SessionState](true),
		repStream:        events.NewStream[RepCount](true),
		telemetryStream:  events.NewStream[machine.TelemetrySample](false),
		autoStopStream:   events.NewStream[AutoStopUiState](true),
		zoneStream:       events.NewStream[Zone](true),
		statusStream:     events.NewStream[string](false),
		connectionStream: events.NewStream[ConnectionState](true),
		logStream:        events.NewStream[string](false),
		closeStream:      events.NewStream[struct{}](true),
		logLines:         make([]string, 0, maxLogLines),
		ctx:              ctx,
		cancel:           cancel,
	}

	m.wg.Add(1)
	syncutil.Go(logger, func() { m.readFromLogChannel(ctx, uiLogChan) })

	return m
}

// Shutdown stops the log drain goroutine and waits for it.
func (m *Model) Shutdown() {
	m.logger.Println("Model: Shutting down")
	m.cancel()
	m.wg.Wait()
	m.logger.Println("Model: Shutdown complete")
}

// ListenToSessionState registers a channel for state snapshots.
// Returns a deregistration function.
func (m *Model) ListenToSessionState(ch chan<- SessionState) func() {
	return m.stateStream.Subscribe(ch)
}

// GetSessionState returns the current state snapshot.
func (m *Model) GetSessionState() SessionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessionState
}

// SetSessionState stores and publishes a state snapshot.
func (m *Model) SetSessionState(state SessionState) {
	m.mu.Lock()
	m.sessionState = state
	m.mu.Unlock()

	m.stateStream.Publish(state)
}

// ListenToRepCount registers a channel for rep tally updates.
// Returns a deregistration function.
func (m *Model) ListenToRepCount(ch chan<- RepCount) func() {
	return m.repStream.Subscribe(ch)
}

// GetRepCount returns the current rep tally.
func (m *Model) GetRepCount() RepCount {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.repCount
}

// SetRepCount stores and publishes the rep tally when it changed.
func (m *Model) SetRepCount(counts RepCount) {
	m.mu.Lock()
	if m.repCount == counts {
		m.mu.Unlock()
		return
	}
	m.repCount = counts
	m.mu.Unlock()

	m.repStream.Publish(counts)
}

// ListenToTelemetry registers a channel for telemetry samples.
// Returns a deregistration function.
func (m *Model) ListenToTelemetry(ch chan<- machine.TelemetrySample) func() {
	return m.telemetryStream.Subscribe(ch)
}

// GetTelemetry returns the most recent sample.
func (m *Model) GetTelemetry() machine.TelemetrySample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.telemetry
}

// SetTelemetry stores and publishes a sample.
func (m *Model) SetTelemetry(sample machine.TelemetrySample) {
	m.mu.Lock()
	m.telemetry = sample
	m.mu.Unlock()

	m.telemetryStream.Publish(sample)
}

// ListenToAutoStop registers a channel for auto-stop countdown updates.
// Returns a deregistration function.
func (m *Model) ListenToAutoStop(ch chan<- AutoStopUiState) func() {
	return m.autoStopStream.Subscribe(ch)
}

// GetAutoStop returns the current auto-stop countdown state.
func (m *Model) GetAutoStop() AutoStopUiState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.autoStop
}

// SetAutoStop stores and publishes the countdown state when it changed.
func (m *Model) SetAutoStop(state AutoStopUiState) {
	m.mu.Lock()
	if m.autoStop == state {
		m.mu.Unlock()
		return
	}
	m.autoStop = state
	m.mu.Unlock()

	m.autoStopStream.Publish(state)
}

// ListenToZone registers a channel for LED zone changes.
// Returns a deregistration function.
func (m *Model) ListenToZone(ch chan<- Zone) func() {
	return m.zoneStream.Subscribe(ch)
}

// GetZone returns the zone currently shown.
func (m *Model) GetZone() Zone {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.zone
}

// SetZone stores and publishes the zone when it changed.
func (m *Model) SetZone(zone Zone) {
	m.mu.Lock()
	if m.zone == zone {
		m.mu.Unlock()
		return
	}
	m.zone = zone
	m.mu.Unlock()

	m.zoneStream.Publish(zone)
}

// ListenToStatus registers a channel for transient status messages.
// Returns a deregistration function.
func (m *Model) ListenToStatus(ch chan<- string) func() {
	return m.statusStream.Subscribe(ch)
}

// SetStatus publishes a transient user-visible message.
func (m *Model) SetStatus(message string) {
	m.mu.Lock()
	m.status = message
	m.mu.Unlock()

	m.statusStream.Publish(message)
}

// GetStatus returns the last status message.
func (m *Model) GetStatus() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// ListenToConnection registers a channel for link state changes.
// Returns a deregistration function.
func (m *Model) ListenToConnection(ch chan<- ConnectionState) func() {
	return m.connectionStream.Subscribe(ch)
}

// GetConnection returns the current link state.
func (m *Model) GetConnection() ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connection
}

// SetConnection stores and publishes the link state.
func (m *Model) SetConnection(state ConnectionState) {
	m.mu.Lock()
	m.connection = state
	m.mu.Unlock()

	m.connectionStream.Publish(state)
}

// ListenToLog registers a channel for log lines.
// Returns a deregistration function.
func (m *Model) ListenToLog(ch chan<- string) func() {
	return m.logStream.Subscribe(ch)
}

// GetLogLines returns a copy of the buffered log lines.
func (m *Model) GetLogLines() []string {
	m.logMu.RLock()
	defer m.logMu.RUnlock()
	lines := make([]string, len(m.logLines))
	copy(lines, m.logLines)
	return lines
}

// ListenToCloseApplication registers a channel for the app-close signal.
// Returns a deregistration function.
func (m *Model) ListenToCloseApplication(ch chan<- struct{}) func() {
	return m.closeStream.Subscribe(ch)
}

// RequestCloseApplication signals that the application should close.
func (m *Model) RequestCloseApplication() {
	m.closeStream.Publish(struct{}{})
}

func (m *Model) readFromLogChannel(ctx context.Context, uiLogChan <-chan string) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-uiLogChan:
			if !ok {
				return
			}
			m.logMu.Lock()
			if len(m.logLines) >= maxLogLines {
				m.logLines = m.logLines[1:]
			}
			m.logLines = append(m.logLines, line)
			m.logMu.Unlock()

			m.logStream.Publish(line)
		}
	}
}

package machine

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// Simulation loop cadence; one telemetry frame per tick.
const simTickInterval = 100 * time.Millisecond

// Sim implements Transport as a software cable trainer, so the whole app
// runs without hardware. A small web panel drives the simulated user:
// start/stop lifting, tempo, handle state, deload, legacy firmware framing.
type Sim struct {
	logger    *log.Logger
	address   string
	localName string
	panelPort int

	mu        sync.RWMutex
	connected bool
	callbacks map[string]func([]byte) // keyed by characteristic UUID

	// Simulated user knobs (web panel)
	lifting        bool
	tempo          float64 // concentric/eccentric speed, units/s
	romTop         float64 // turnaround position, units
	effortKg       float64 // user output for echo mode
	legacyFirmware bool
	handle         HandleState

	// Machine state driven by control point writes
	configured ParameterCommand
	started    bool

	// Lift physics
	pos             float64
	dir             float64 // +1 raising, -1 lowering
	romReps         int
	workingReps     int
	upTransitions   int
	downTransitions int
	phase           float64 // load wobble phase

	writesMu sync.RWMutex
	writes   []WrittenCommand

	server   *http.Server
	doneChan chan struct{}
	wg       sync.WaitGroup
}

// WrittenCommand records a control point write for inspection via the panel
type WrittenCommand struct {
	Timestamp          time.Time `json:"timestamp"`
	CharacteristicUUID string    `json:"characteristicUuid"`
	DataHex            string    `json:"dataHex"`
	Description        string    `json:"description"`
}

// SimState is the panel's view of the simulator
type SimState struct {
	Address         string  `json:"address"`
	LocalName       string  `json:"localName"`
	Connected       bool    `json:"connected"`
	Lifting         bool    `json:"lifting"`
	Tempo           float64 `json:"tempo"`
	RomTop          float64 `json:"romTop"`
	EffortKg        float64 `json:"effortKg"`
	LegacyFirmware  bool    `json:"legacyFirmware"`
	Handle          string  `json:"handle"`
	Started         bool    `json:"started"`
	Configured      string  `json:"configured"`
	Position        float64 `json:"position"`
	RomReps         int     `json:"romReps"`
	WorkingReps     int     `json:"workingReps"`
	UpTransitions   int     `json:"upTransitions"`
	DownTransitions int     `json:"downTransitions"`
}

// SimConfig holds configuration for creating a simulator
type SimConfig struct {
	Address   string
	LocalName string
	PanelPort int
}

// NewSim creates a simulated trainer.
func NewSim(logger *log.Logger, config SimConfig) *Sim {
	if logger == nil {
		panic("Sim: logger cannot be nil")
	}
	return &Sim{
		logger:    logger,
		address:   config.Address,
		localName: config.LocalName,
		panelPort: config.PanelPort,
		callbacks: make(map[string]func([]byte)),
		tempo:     220,
		romTop:    450,
		effortKg:  12,
		handle:    HandleReleased,
		pos:       2,
		dir:       1,
		doneChan:  make(chan struct{}),
	}
}

// Start launches the simulation loop and, when a panel port is set, the
// control panel web server.
func (s *Sim) Start() error {
	s.logger.Printf("Sim: starting %s (%s)", s.localName, s.address)

	if s.panelPort > 0 {
		r := chi.NewRouter()
		r.Get("/", s.handleIndex)
		r.Get("/api/state", s.handleGetState)
		r.Post("/api/set", s.handleSetKnobs)
		r.Get("/api/writes", s.handleGetWrites)
		r.Post("/api/handles", s.handleSetHandles)
		r.Post("/api/deload", s.handleDeload)

		s.server = &http.Server{
			Addr:    fmt.Sprintf(":%d", s.panelPort),
			Handler: r,
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.logger.Printf("Sim: control panel on http://localhost:%d", s.panelPort)
			if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
				s.logger.Printf("Sim: web server error: %v", err)
			}
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runLoop()
	}()

	return nil
}

// SetConnected flips the simulated connection state.
func (s *Sim) SetConnected(connected bool) {
	s.mu.Lock()
	s.connected = connected
	s.mu.Unlock()
	s.logger.Printf("Sim: connected=%t", connected)
}

// Shutdown stops the loop and the web server.
func (s *Sim) Shutdown() {
	s.logger.Printf("Sim: shutting down")
	close(s.doneChan)
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			s.logger.Printf("Sim: web server shutdown: %v", err)
		}
	}
	s.wg.Wait()
	s.logger.Printf("Sim: shutdown complete")
}

// --- Transport implementation ---

func (s *Sim) GetLocalName() string     { return s.localName }
func (s *Sim) GetAddressString() string { return s.address }

func (s *Sim) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *Sim) EnableNotifications(serviceUUID string, characteristicUUID string, callback func(buf []byte)) error {
	if serviceUUID != ServiceUUIDTrainer {
		return fmt.Errorf("service not supported by this device: %s", serviceUUID)
	}
	stream, ok := StreamByCharacteristic(characteristicUUID)
	if !ok || stream.Mode != ModeNotify {
		return fmt.Errorf("unknown notify characteristic: %s", characteristicUUID)
	}
	s.mu.Lock()
	s.callbacks[characteristicUUID] = callback
	s.mu.Unlock()
	s.logger.Printf("Sim: notifications enabled for %s", stream.ID)
	return nil
}

func (s *Sim) WriteCharacteristic(serviceUUID string, characteristicUUID string, data []byte) error {
	if serviceUUID != ServiceUUIDTrainer || characteristicUUID != CharUUIDControlPoint {
		return fmt.Errorf("unknown write characteristic: %s/%s", serviceUUID, characteristicUUID)
	}

	desc := DescribeControl(data)
	s.writesMu.Lock()
	s.writes = append(s.writes, WrittenCommand{
		Timestamp:          time.Now(),
		CharacteristicUUID: characteristicUUID,
		DataHex:            hex.EncodeToString(data),
		Description:        desc,
	})
	if len(s.writes) > 100 {
		s.writes = s.writes[len(s.writes)-100:]
	}
	s.writesMu.Unlock()

	s.handleControl(data)
	return nil
}

func (s *Sim) Disconnect() error {
	s.SetConnected(false)
	return nil
}

// handleControl applies a control point frame to the machine state.
func (s *Sim) handleControl(data []byte) {
	if len(data) == 0 {
		return
	}
	switch data[0] {
	case OpConfigure:
		cmd, err := DecodeConfigure(data)
		if err != nil {
			s.logger.Printf("Sim: rejecting configure: %v", err)
			return
		}
		s.mu.Lock()
		s.configured = cmd
		s.started = false
		s.resetCountersLocked()
		s.mu.Unlock()
		s.logger.Printf("Sim: configured %s", DescribeControl(data))
	case OpStart:
		s.mu.Lock()
		s.started = true
		s.mu.Unlock()
		s.logger.Printf("Sim: motor engaged")
	case OpStop:
		s.mu.Lock()
		s.started = false
		s.resetCountersLocked()
		s.mu.Unlock()
		s.logger.Printf("Sim: motor released")
	case OpSetColor:
		// LEDs have no simulated behavior; the write log is the evidence.
	default:
		s.logger.Printf("Sim: unknown control op 0x%02x", data[0])
	}
}

func (s *Sim) resetCountersLocked() {
	s.romReps = 0
	s.workingReps = 0
	s.upTransitions = 0
	s.downTransitions = 0
}

// --- Simulation loop ---

func (s *Sim) runLoop() {
	ticker := time.NewTicker(simTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.doneChan:
			return
		case <-ticker.C:
			s.tick(simTickInterval.Seconds())
		}
	}
}

// tick advances the lift physics one step and emits frames. State mutation
// happens under the lock; notification callbacks run outside it.
func (s *Sim) tick(dt float64) {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return
	}

	repCompleted := false
	velocity := 0.0
	if s.lifting {
		velocity = s.dir * s.tempo
		s.pos += velocity * dt
		if s.dir > 0 && s.pos >= s.romTop {
			s.pos = s.romTop
			s.dir = -1
			if s.started {
				s.upTransitions++
				if s.configured.StopAtTop {
					s.romReps++
					s.workingReps++
					repCompleted = true
				}
			}
		} else if s.dir < 0 && s.pos <= 2 {
			s.pos = 2
			s.dir = 1
			if s.started {
				s.downTransitions++
				if !s.configured.StopAtTop {
					s.romReps++
					s.workingReps++
					repCompleted = true
				}
			}
		}
	}

	load := 0.5
	if s.started {
		if s.configured.Mode == ResistanceEcho {
			load = s.effortKg
		} else {
			load = s.configured.WeightKg
		}
		s.phase += dt
		load *= 1 + 0.02*math.Sin(s.phase*2*math.Pi)
	}

	sample := TelemetrySample{
		Left:  CableSample{Position: s.pos, Velocity: velocity, Load: load},
		Right: CableSample{Position: s.pos * 0.97, Velocity: velocity * 0.97, Load: load},
	}
	repEvent := RepEvent{
		RomReps:         s.romReps,
		WorkingReps:     s.workingReps,
		UpTransitions:   s.upTransitions,
		DownTransitions: s.downTransitions,
		TargetReps:      s.configured.TargetReps,
		TargetWarmup:    s.configured.WarmupReps,
		Legacy:          s.legacyFirmware,
	}
	if s.legacyFirmware {
		repEvent.RomReps = 0
		repEvent.WorkingReps = 0
	}
	telemetryCb := s.callbacks[CharUUIDTelemetry]
	repCb := s.callbacks[CharUUIDRepEvents]
	s.mu.Unlock()

	if telemetryCb != nil {
		telemetryCb(EncodeTelemetry(sample))
	}
	if repCompleted && repCb != nil {
		repCb(EncodeRepEvent(repEvent))
	}
}

// setHandle updates the handle classification and emits its frame.
func (s *Sim) setHandle(h HandleState) {
	s.mu.Lock()
	s.handle = h
	cb := s.callbacks[CharUUIDHandleState]
	s.mu.Unlock()
	s.logger.Printf("Sim: handle state %s", h)
	if cb != nil {
		cb(EncodeHandleState(h))
	}
}

// TriggerDeload emits the out-of-band deload flag.
func (s *Sim) TriggerDeload() {
	s.mu.RLock()
	cb := s.callbacks[CharUUIDMachineState]
	s.mu.RUnlock()
	s.logger.Printf("Sim: deload triggered")
	if cb != nil {
		cb(EncodeMachineState(true))
	}
}

// --- Web panel ---

type simKnobs struct {
	Lifting        *bool    `json:"lifting"`
	Tempo          *float64 `json:"tempo"`
	RomTop         *float64 `json:"romTop"`
	EffortKg       *float64 `json:"effortKg"`
	LegacyFirmware *bool    `json:"legacyFirmware"`
}

func (s *Sim) handleGetState(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	state := SimState{
		Address:         s.address,
		LocalName:       s.localName,
		Connected:       s.connected,
		Lifting:         s.lifting,
		Tempo:           s.tempo,
		RomTop:          s.romTop,
		EffortKg:        s.effortKg,
		LegacyFirmware:  s.legacyFirmware,
		Handle:          s.handle.String(),
		Started:         s.started,
		Configured:      DescribeControl(EncodeConfigure(s.configured)),
		Position:        s.pos,
		RomReps:         s.romReps,
		WorkingReps:     s.workingReps,
		UpTransitions:   s.upTransitions,
		DownTransitions: s.downTransitions,
	}
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(state); err != nil {
		s.logger.Printf("Sim: encoding state: %v", err)
	}
}

func (s *Sim) handleSetKnobs(w http.ResponseWriter, r *http.Request) {
	var knobs simKnobs
	if err := json.NewDecoder(r.Body).Decode(&knobs); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var grabbed, released bool
	s.mu.Lock()
	if knobs.Lifting != nil && *knobs.Lifting != s.lifting {
		s.lifting = *knobs.Lifting
		grabbed = s.lifting
		released = !s.lifting
	}
	if knobs.Tempo != nil && *knobs.Tempo > 0 {
		s.tempo = *knobs.Tempo
	}
	if knobs.RomTop != nil && *knobs.RomTop > 0 {
		s.romTop = *knobs.RomTop
	}
	if knobs.EffortKg != nil && *knobs.EffortKg >= 0 {
		s.effortKg = *knobs.EffortKg
	}
	if knobs.LegacyFirmware != nil {
		s.legacyFirmware = *knobs.LegacyFirmware
	}
	s.mu.Unlock()

	// Toggling the user on/off implies the matching handle transition.
	if grabbed {
		s.setHandle(HandleGrabbed)
	} else if released {
		s.setHandle(HandleReleased)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Sim) handleSetHandles(w http.ResponseWriter, r *http.Request) {
	var body struct {
		State string `json:"state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	for state, name := range handleStateNames {
		if name == body.State {
			s.setHandle(state)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	http.Error(w, fmt.Sprintf("unknown handle state %q", body.State), http.StatusBadRequest)
}

func (s *Sim) handleDeload(w http.ResponseWriter, r *http.Request) {
	s.TriggerDeload()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Sim) handleGetWrites(w http.ResponseWriter, r *http.Request) {
	s.writesMu.RLock()
	writes := make([]WrittenCommand, len(s.writes))
	copy(writes, s.writes)
	s.writesMu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(writes); err != nil {
		s.logger.Printf("Sim: encoding writes: %v", err)
	}
}

func (s *Sim) handleIndex(w http.ResponseWriter, r *http.Request) {
	html := `<!DOCTYPE html>
<html>
<head>
    <title>Simulated Trainer</title>
    <style>
        body { font-family: Arial, sans-serif; max-width: 800px; margin: 0 auto; padding: 20px; }
        .section { margin: 20px 0; padding: 15px; border: 1px solid #ccc; border-radius: 5px; }
        h2 { margin-top: 0; }
        label { display: inline-block; width: 140px; }
        input[type="number"] { width: 100px; padding: 5px; }
        button { padding: 8px 16px; margin: 4px; cursor: pointer; }
        .status { padding: 10px; background: #e0e0e0; border-radius: 5px; margin: 10px 0; white-space: pre-line; }
        #writes { max-height: 300px; overflow-y: auto; font-family: monospace; font-size: 12px; }
        .write-entry { padding: 4px; border-bottom: 1px solid #eee; }
        .write-desc { color: #009; font-weight: bold; }
    </style>
</head>
<body>
    <h1>Simulated Trainer</h1>

    <div class="section">
        <h2>Machine State</h2>
        <div id="state" class="status">Loading...</div>
        <button onclick="refreshState()">Refresh</button>
    </div>

    <div class="section">
        <h2>Simulated User</h2>
        <div><label>Tempo (units/s):</label><input type="number" id="tempo" min="10" max="1000" value="220"></div>
        <div><label>ROM top (units):</label><input type="number" id="romTop" min="50" max="1200" value="450"></div>
        <div><label>Echo effort (kg):</label><input type="number" id="effortKg" min="0" max="110" step="0.5" value="12"></div>
        <div><label>Legacy firmware:</label><input type="checkbox" id="legacyFirmware"></div>
        <button onclick="setKnobs(true)">Start Lifting</button>
        <button onclick="setKnobs(false)">Stop Lifting</button>
        <button onclick="setKnobs(null)">Apply Knobs</button>
    </div>

    <div class="section">
        <h2>Handles &amp; Safety</h2>
        <button onclick="setHandles('Grabbed')">Grab</button>
        <button onclick="setHandles('Moving')">Move</button>
        <button onclick="setHandles('Released')">Release</button>
        <button onclick="setHandles('WaitingForRest')">Wait For Rest</button>
        <button onclick="deload()" style="color:#a00">Deload</button>
    </div>

    <div class="section">
        <h2>Control Writes (from app)</h2>
        <div id="writes">Loading...</div>
        <button onclick="refreshWrites()">Refresh</button>
    </div>

    <script>
        function refreshState() {
            fetch('/api/state').then(r => r.json()).then(d => {
                document.getElementById('state').textContent =
                    'Name: ' + d.localName + ' (' + d.address + ')\n' +
                    'Connected: ' + d.connected + '  Started: ' + d.started + '\n' +
                    'Configured: ' + d.configured + '\n' +
                    'Lifting: ' + d.lifting + '  Handle: ' + d.handle + '\n' +
                    'Position: ' + d.position.toFixed(1) + '  ROM reps: ' + d.romReps +
                    '  Working: ' + d.workingReps + '  Up/Down: ' + d.upTransitions + '/' + d.downTransitions;
                document.getElementById('legacyFirmware').checked = d.legacyFirmware;
            });
        }
        function setKnobs(lifting) {
            const body = {
                tempo: parseFloat(document.getElementById('tempo').value),
                romTop: parseFloat(document.getElementById('romTop').value),
                effortKg: parseFloat(document.getElementById('effortKg').value),
                legacyFirmware: document.getElementById('legacyFirmware').checked
            };
            if (lifting !== null) body.lifting = lifting;
            fetch('/api/set', {method: 'POST', body: JSON.stringify(body)}).then(refreshState);
        }
        function setHandles(state) {
            fetch('/api/handles', {method: 'POST', body: JSON.stringify({state: state})}).then(refreshState);
        }
        function deload() { fetch('/api/deload', {method: 'POST'}); }
        function refreshWrites() {
            fetch('/api/writes').then(r => r.json()).then(writes => {
                document.getElementById('writes').innerHTML = (writes || []).slice().reverse().map(w =>
                    '<div class="write-entry"><span>' + w.timestamp + '</span> ' +
                    '<span class="write-desc">' + w.description + '</span> ' + w.dataHex + '</div>'
                ).join('');
            });
        }
        refreshState();
        refreshWrites();
        setInterval(refreshState, 2000);
    </script>
</body>
</html>`
	w.Header().Set("Content-Type", "text/html")
	fmt.Fprint(w, html)
}

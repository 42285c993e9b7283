// Package prefs stores the user's training preferences on disk. The file
// is read once at startup and rewritten on every change; readers always
// get a consistent snapshot.
package prefs

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// WeightUnit selects how loads are displayed. Storage is always kg.
const (
	UnitKilograms = "kg"
	UnitPounds    = "lb"
)

// PoundsPerKilogram converts stored weights for display in UnitPounds.
const PoundsPerKilogram = 2.20462

// Prefs is the full set of persisted user preferences.
type Prefs struct {
	// StallDetectionEnabled arms the velocity stall detector for sets
	// where auto-stop applies.
	StallDetectionEnabled bool `json:"stall_detection_enabled"`
	// SummaryCountdownSeconds controls the set-summary screen: negative
	// skips it, zero holds until the user advances, positive advances
	// automatically after that many seconds.
	SummaryCountdownSeconds int `json:"summary_countdown_seconds"`
	// AutoplayEnabled advances to the next set when the rest timer
	// expires instead of waiting for the user.
	AutoplayEnabled bool `json:"autoplay_enabled"`
	// AutoStartSeconds is the grab-to-start countdown for free lifting.
	// Zero disables auto-start entirely.
	AutoStartSeconds int `json:"auto_start_seconds"`
	// WeightUnit is the display unit, UnitKilograms or UnitPounds.
	WeightUnit string `json:"weight_unit"`
}

// Default returns the preferences used when no file exists yet.
func Default() Prefs {
	return Prefs{
		StallDetectionEnabled:   true,
		SummaryCountdownSeconds: 5,
		AutoplayEnabled:         true,
		AutoStartSeconds:        3,
		WeightUnit:              UnitKilograms,
	}
}

// Manager owns the preference file. Current returns snapshots by value,
// so callers can never observe a half-applied update.
type Manager struct {
	filePath string
	logger   *log.Logger

	mu      sync.RWMutex
	current Prefs
}

// NewManager loads preferences from filePath, falling back to defaults
// when the file is missing or unreadable.
func NewManager(filePath string, logger *log.Logger) *Manager {
	if logger == nil {
		panic("prefs: logger cannot be nil")
	}
	if filePath == "" {
		panic("prefs: filePath cannot be empty")
	}
	m := &Manager{
		filePath: filePath,
		logger:   logger,
		current:  Default(),
	}
	m.load()
	return m
}

// Current returns a snapshot of the active preferences.
func (m *Manager) Current() Prefs {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Update applies mutate to a copy of the current preferences, makes the
// result active, and persists it. The mutated copy becomes active even
// when the disk write fails.
func (m *Manager) Update(mutate func(*Prefs)) error {
	m.mu.Lock()
	next := m.current
	mutate(&next)
	next = sanitize(next)
	m.current = next
	m.mu.Unlock()

	return m.save(next)
}

func sanitize(p Prefs) Prefs {
	if p.WeightUnit != UnitKilograms && p.WeightUnit != UnitPounds {
		p.WeightUnit = UnitKilograms
	}
	if p.AutoStartSeconds < 0 {
		p.AutoStartSeconds = 0
	}
	return p
}

func (m *Manager) load() {
	raw, err := os.ReadFile(m.filePath)
	if err != nil {
		m.logger.Printf("Prefs: load %s (no existing file, using defaults)", m.filePath)
		return
	}
	loaded := Default()
	if err := json.Unmarshal(raw, &loaded); err != nil {
		m.logger.Printf("Prefs: load %s failed to parse: %v", m.filePath, err)
		return
	}
	m.mu.Lock()
	m.current = sanitize(loaded)
	m.mu.Unlock()
	m.logger.Printf("Prefs: load %s -> %+v", m.filePath, loaded)
}

func (m *Manager) save(p Prefs) error {
	if err := os.MkdirAll(filepath.Dir(m.filePath), 0755); err != nil {
		m.logger.Printf("Prefs: save mkdir failed: %v", err)
		return err
	}
	raw, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		m.logger.Printf("Prefs: save marshal failed: %v", err)
		return err
	}
	if err := os.WriteFile(m.filePath, raw, 0644); err != nil {
		m.logger.Printf("Prefs: save %s failed: %v", m.filePath, err)
		return err
	}
	m.logger.Printf("Prefs: save %s -> %+v", m.filePath, p)
	return nil
}

package prefs

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prefs.json")
	return NewManager(path, log.New(io.Discard, "", 0)), path
}

func TestManagerStartsFromDefaults(t *testing.T) {
	m, _ := newTestManager(t)
	assert.Equal(t, Default(), m.Current())
}

func TestUpdatePersistsAcrossManagers(t *testing.T) {
	m, path := newTestManager(t)

	require.NoError(t, m.Update(func(p *Prefs) {
		p.WeightUnit = UnitPounds
		p.AutoplayEnabled = false
		p.SummaryCountdownSeconds = -1
	}))

	reloaded := NewManager(path, log.New(io.Discard, "", 0))
	got := reloaded.Current()
	assert.Equal(t, UnitPounds, got.WeightUnit)
	assert.False(t, got.AutoplayEnabled)
	assert.Equal(t, -1, got.SummaryCountdownSeconds)
	assert.True(t, got.StallDetectionEnabled, "untouched fields keep defaults")
}

func TestUpdateSanitizesBadValues(t *testing.T) {
	m, _ := newTestManager(t)

	require.NoError(t, m.Update(func(p *Prefs) {
		p.WeightUnit = "stones"
		p.AutoStartSeconds = -10
	}))

	got := m.Current()
	assert.Equal(t, UnitKilograms, got.WeightUnit)
	assert.Equal(t, 0, got.AutoStartSeconds)
}

func TestCorruptFileFallsBackToDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	m := NewManager(path, log.New(io.Discard, "", 0))
	assert.Equal(t, Default(), m.Current())
}

func TestPartialFileKeepsDefaultsForMissingFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"weight_unit":"lb"}`), 0o644))

	m := NewManager(path, log.New(io.Discard, "", 0))
	got := m.Current()
	assert.Equal(t, UnitPounds, got.WeightUnit)
	assert.Equal(t, Default().AutoStartSeconds, got.AutoStartSeconds)
	assert.True(t, got.AutoplayEnabled)
}

func TestUpdateCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deep", "prefs.json")
	m := NewManager(path, log.New(io.Discard, "", 0))

	require.NoError(t, m.Update(func(p *Prefs) { p.AutoStartSeconds = 7 }))

	_, err := os.Stat(path)
	require.NoError(t, err)
}

package routine

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/openlift/cable-coach/internal/machine"
)

type routineFile struct {
	ID        string         `yaml:"id"`
	Name      string         `yaml:"name"`
	Supersets []supersetYAML `yaml:"supersets"`
	Exercises []exerciseYAML `yaml:"exercises"`
}

type supersetYAML struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Color       string `yaml:"color"`
	RestSeconds int    `yaml:"rest_seconds"`
}

type exerciseYAML struct {
	ID              string  `yaml:"id"`
	Name            string  `yaml:"name"`
	Equipment       string  `yaml:"equipment"`
	Mode            string  `yaml:"mode"`
	WeightKg        float64 `yaml:"weight_kg"`
	Sets            int     `yaml:"sets"`
	Reps            int     `yaml:"reps"`
	WarmupReps      int     `yaml:"warmup_reps"`
	RestSeconds     int     `yaml:"rest_seconds"`
	EccentricPct    int     `yaml:"eccentric_pct"`
	ProgressionKg   float64 `yaml:"progression_kg"`
	EchoLevel       int     `yaml:"echo_level"`
	StopAtTop       bool    `yaml:"stop_at_top"`
	DurationSeconds int     `yaml:"duration_seconds"`
	Superset        string  `yaml:"superset"`
	Order           int     `yaml:"order"`
}

// LoadFile reads and validates a user routine from a YAML file.
func LoadFile(path string) (*Routine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading routine file: %w", err)
	}
	r, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("routine file %s: %w", path, err)
	}
	return r, nil
}

// Parse decodes YAML routine data and validates it.
func Parse(data []byte) (*Routine, error) {
	var file routineFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing yaml: %w", err)
	}

	r := &Routine{
		ID:   file.ID,
		Name: file.Name,
	}
	if r.ID == "" {
		r.ID = r.Name
	}

	for _, ss := range file.Supersets {
		r.Supersets = append(r.Supersets, Superset{
			ID:          ss.ID,
			Name:        ss.Name,
			ColorTag:    ss.Color,
			RestSeconds: ss.RestSeconds,
		})
	}

	for i, ex := range file.Exercises {
		equipment, err := parseEquipment(ex.Equipment)
		if err != nil {
			return nil, fmt.Errorf("exercise %d (%s): %w", i, ex.Name, err)
		}
		mode := machine.ResistanceFixed
		if ex.Mode != "" {
			var ok bool
			mode, ok = machine.ResistanceModeByName(ex.Mode)
			if !ok {
				return nil, fmt.Errorf("exercise %d (%s): unknown mode %q", i, ex.Name, ex.Mode)
			}
		}
		r.Exercises = append(r.Exercises, Exercise{
			ID:              ex.ID,
			Name:            ex.Name,
			Equipment:       equipment,
			Mode:            mode,
			WeightKg:        ex.WeightKg,
			Sets:            ex.Sets,
			RepsPerSet:      ex.Reps,
			WarmupReps:      ex.WarmupReps,
			RestSeconds:     ex.RestSeconds,
			EccentricPct:    ex.EccentricPct,
			ProgressionKg:   ex.ProgressionKg,
			EchoLevel:       ex.EchoLevel,
			StopAtTop:       ex.StopAtTop,
			DurationSeconds: ex.DurationSeconds,
			SupersetID:      ex.Superset,
			OrderInSuperset: ex.Order,
		})
	}

	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func parseEquipment(name string) (Equipment, error) {
	switch name {
	case "", "cable":
		return EquipmentCable, nil
	case "bodyweight":
		return EquipmentBodyweight, nil
	default:
		return EquipmentCable, fmt.Errorf("unknown equipment %q", name)
	}
}

package routine

import (
	"fmt"

	"github.com/openlift/cable-coach/internal/machine"
)

// builtinTable holds the routines shipped with the app. Kept as a function so
// every caller gets an independent copy; the engine mutates nothing, but the
// UI may re-order for display.
func builtinTable() []*Routine {
	return []*Routine{
		{
			ID:   "full-body",
			Name: "Full Body Strength",
			Supersets: []Superset{
				{ID: "push-pull", Name: "Push/Pull", ColorTag: "orange", RestSeconds: 30},
			},
			Exercises: []Exercise{
				{
					ID: "goblet-squat", Name: "Goblet Squat",
					Mode: machine.ResistanceFixed, WeightKg: 20,
					Sets: 3, RepsPerSet: 10, WarmupReps: 2, RestSeconds: 90,
				},
				{
					ID: "chest-press", Name: "Chest Press",
					Mode: machine.ResistanceFixed, WeightKg: 25,
					Sets: 3, RepsPerSet: 8, WarmupReps: 2, RestSeconds: 90,
					SupersetID: "push-pull", OrderInSuperset: 0,
				},
				{
					ID: "bent-row", Name: "Bent-Over Row",
					Mode: machine.ResistanceFixed, WeightKg: 25,
					Sets: 3, RepsPerSet: 8, WarmupReps: 2, RestSeconds: 90,
					SupersetID: "push-pull", OrderInSuperset: 1,
				},
				{
					ID: "plank", Name: "Plank",
					Equipment: EquipmentBodyweight,
					Sets:      3, DurationSeconds: 45, RestSeconds: 60,
				},
			},
		},
		{
			ID:   "pump-arms",
			Name: "Arm Pump",
			Supersets: []Superset{
				{ID: "arms", Name: "Arms", ColorTag: "purple", RestSeconds: 20},
			},
			Exercises: []Exercise{
				{
					ID: "curl", Name: "Biceps Curl",
					Mode: machine.ResistancePump, WeightKg: 10,
					Sets: 3, RepsPerSet: 12, RestSeconds: 60,
					SupersetID: "arms", OrderInSuperset: 0,
				},
				{
					ID: "pushdown", Name: "Triceps Pushdown",
					Mode: machine.ResistancePump, WeightKg: 12,
					Sets: 3, RepsPerSet: 12, RestSeconds: 60,
					SupersetID: "arms", OrderInSuperset: 1,
				},
				{
					ID: "burnout-curl", Name: "Burnout Curl",
					Mode: machine.ResistanceEcho, EchoLevel: 2,
					Sets: 1, RepsPerSet: 0, RestSeconds: 0, // AMRAP finisher
				},
			},
		},
		{
			ID:   "eccentric-strength",
			Name: "Eccentric Strength",
			Exercises: []Exercise{
				{
					ID: "ecc-pull", Name: "Eccentric Lat Pull",
					Mode: machine.ResistanceEccentricOnly, WeightKg: 30,
					Sets: 4, RepsPerSet: 6, WarmupReps: 1, RestSeconds: 120,
					EccentricPct: 120, StopAtTop: true,
				},
				{
					ID: "ecc-press", Name: "Slow Negative Press",
					Mode: machine.ResistanceTUTSlow, WeightKg: 22,
					Sets: 3, RepsPerSet: 8, WarmupReps: 2, RestSeconds: 90,
					ProgressionKg: 0.5,
				},
			},
		},
	}
}

// Builtins returns the shipped routines, validated.
func Builtins() []*Routine {
	routines := builtinTable()
	for _, r := range routines {
		if err := r.Validate(); err != nil {
			panic(fmt.Sprintf("builtin routine %q invalid: %v", r.ID, err))
		}
	}
	return routines
}

// BuiltinByID returns the shipped routine with the given ID.
func BuiltinByID(id string) (*Routine, bool) {
	for _, r := range Builtins() {
		if r.ID == id {
			return r, true
		}
	}
	return nil, false
}

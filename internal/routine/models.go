package routine

import (
	"fmt"

	"github.com/openlift/cable-coach/internal/machine"
)

// Equipment says what an exercise runs on. Bodyweight exercises never touch
// the machine; they run a pure duration timer.
type Equipment int

const (
	EquipmentCable Equipment = iota
	EquipmentBodyweight
)

var equipmentNames = map[Equipment]string{
	EquipmentCable:      "Cable",
	EquipmentBodyweight: "Bodyweight",
}

func (e Equipment) String() string {
	if name, ok := equipmentNames[e]; ok {
		return name
	}
	return "Unknown"
}

// Superset groups adjacent exercises performed in interleaved rotation.
type Superset struct {
	ID          string
	Name        string
	ColorTag    string
	RestSeconds int // rest between member sets, instead of the exercise's own
}

// Exercise is one slot in a routine. WeightKg 0 means "pre-fill from
// history"; RepsPerSet 0 means AMRAP.
type Exercise struct {
	ID              string
	Name            string
	Equipment       Equipment
	Mode            machine.ResistanceMode
	WeightKg        float64
	Sets            int
	RepsPerSet      int
	WarmupReps      int
	RestSeconds     int
	EccentricPct    int
	ProgressionKg   float64
	EchoLevel       int
	StopAtTop       bool
	DurationSeconds int // bodyweight only

	SupersetID      string // empty for standalone exercises
	OrderInSuperset int
}

// IsAMRAP reports whether the exercise has no fixed rep target.
func (e *Exercise) IsAMRAP() bool {
	return e.RepsPerSet == 0
}

// IsBodyweight reports whether the exercise bypasses the machine.
func (e *Exercise) IsBodyweight() bool {
	return e.Equipment == EquipmentBodyweight
}

// Routine is an ordered exercise list plus its superset definitions. Load it
// through Validate before use; the sequencer relies on the derived index.
type Routine struct {
	ID        string
	Name      string
	Exercises []Exercise
	Supersets []Superset

	// Derived on Validate: superset ID → member exercise indices, ordered by
	// OrderInSuperset.
	memberIndex map[string][]int
}

// Validate checks the routine's structural invariants and builds the superset
// member index. Must be called once after construction or loading.
func (r *Routine) Validate() error {
	if len(r.Exercises) == 0 {
		return fmt.Errorf("routine %q has no exercises", r.Name)
	}

	supersetByID := make(map[string]*Superset, len(r.Supersets))
	for i := range r.Supersets {
		ss := &r.Supersets[i]
		if ss.ID == "" {
			return fmt.Errorf("routine %q: superset %d has no id", r.Name, i)
		}
		if _, dup := supersetByID[ss.ID]; dup {
			return fmt.Errorf("routine %q: duplicate superset id %q", r.Name, ss.ID)
		}
		supersetByID[ss.ID] = ss
	}

	r.memberIndex = make(map[string][]int)
	for i := range r.Exercises {
		ex := &r.Exercises[i]
		if ex.Name == "" {
			return fmt.Errorf("routine %q: exercise %d has no name", r.Name, i)
		}
		if ex.Sets < 1 {
			return fmt.Errorf("routine %q: exercise %q needs at least one set", r.Name, ex.Name)
		}
		if ex.SupersetID == "" {
			continue
		}
		if _, ok := supersetByID[ex.SupersetID]; !ok {
			return fmt.Errorf("routine %q: exercise %q references unknown superset %q", r.Name, ex.Name, ex.SupersetID)
		}
		r.memberIndex[ex.SupersetID] = append(r.memberIndex[ex.SupersetID], i)
	}

	// Members must be contiguous in the exercise list and already ordered by
	// OrderInSuperset; the sequencer walks both orders interchangeably.
	for id, members := range r.memberIndex {
		for j := 1; j < len(members); j++ {
			if members[j] != members[j-1]+1 {
				return fmt.Errorf("routine %q: superset %q members are not contiguous", r.Name, id)
			}
			prev := r.Exercises[members[j-1]].OrderInSuperset
			cur := r.Exercises[members[j]].OrderInSuperset
			if cur <= prev {
				return fmt.Errorf("routine %q: superset %q order is not strictly increasing", r.Name, id)
			}
		}
	}
	return nil
}

// ExerciseAt returns the exercise at index i, or nil when out of range.
func (r *Routine) ExerciseAt(i int) *Exercise {
	if i < 0 || i >= len(r.Exercises) {
		return nil
	}
	return &r.Exercises[i]
}

// SupersetOf returns the superset the exercise at index i belongs to.
func (r *Routine) SupersetOf(i int) (*Superset, bool) {
	ex := r.ExerciseAt(i)
	if ex == nil || ex.SupersetID == "" {
		return nil, false
	}
	for j := range r.Supersets {
		if r.Supersets[j].ID == ex.SupersetID {
			return &r.Supersets[j], true
		}
	}
	return nil, false
}

// members returns the exercise indices of a superset in traversal order.
func (r *Routine) members(supersetID string) []int {
	return r.memberIndex[supersetID]
}

// TotalSets is the number of steps a full traversal visits.
func (r *Routine) TotalSets() int {
	total := 0
	for i := range r.Exercises {
		total += r.Exercises[i].Sets
	}
	return total
}

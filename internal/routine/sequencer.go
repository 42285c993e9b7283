package routine

import "fmt"

// Step addresses one set inside a routine.
type Step struct {
	ExerciseIndex int
	SetIndex      int
}

// Sequencer computes the neighbours of a step. Supersets traverse
// interleaved: members rotate at the same set index before the set index
// advances (A1,B1,C1,A2,B2,C2,...). This is the only place that order is
// defined; live navigation and the rest timer's "up next" display both ask
// here.
type Sequencer struct {
	routine *Routine
}

func NewSequencer(routine *Routine) *Sequencer {
	if routine == nil {
		panic("Sequencer: routine cannot be nil")
	}
	return &Sequencer{routine: routine}
}

// First returns the routine's opening step.
func (s *Sequencer) First() (Step, bool) {
	if len(s.routine.Exercises) == 0 {
		return Step{}, false
	}
	return s.firstStepOf(0), true
}

// Valid reports whether the step addresses an existing set.
func (s *Sequencer) Valid(step Step) bool {
	ex := s.routine.ExerciseAt(step.ExerciseIndex)
	return ex != nil && step.SetIndex >= 0 && step.SetIndex < ex.Sets
}

// NextStep returns the step after current, or false at the routine's end.
func (s *Sequencer) NextStep(current Step) (Step, bool) {
	if !s.Valid(current) {
		return Step{}, false
	}
	ex := s.routine.ExerciseAt(current.ExerciseIndex)

	if ex.SupersetID == "" {
		if current.SetIndex+1 < ex.Sets {
			return Step{ExerciseIndex: current.ExerciseIndex, SetIndex: current.SetIndex + 1}, true
		}
		return s.stepAfterExercise(current.ExerciseIndex)
	}

	members := s.routine.members(ex.SupersetID)
	position := memberPosition(members, current.ExerciseIndex)

	// Same cycle: the next member that still has this set (A1 -> B1).
	for _, idx := range members[position+1:] {
		if current.SetIndex < s.routine.Exercises[idx].Sets {
			return Step{ExerciseIndex: idx, SetIndex: current.SetIndex}, true
		}
	}
	// Cycle wrap: first member with another set to give (C1 -> A2).
	nextSet := current.SetIndex + 1
	for _, idx := range members {
		if nextSet < s.routine.Exercises[idx].Sets {
			return Step{ExerciseIndex: idx, SetIndex: nextSet}, true
		}
	}
	// Superset exhausted: first exercise past the block.
	return s.stepAfterExercise(members[len(members)-1])
}

// PreviousStep is the structural mirror of NextStep;
// NextStep(PreviousStep(x)) == x whenever both exist.
func (s *Sequencer) PreviousStep(current Step) (Step, bool) {
	if !s.Valid(current) {
		return Step{}, false
	}
	ex := s.routine.ExerciseAt(current.ExerciseIndex)

	if ex.SupersetID == "" {
		if current.SetIndex > 0 {
			return Step{ExerciseIndex: current.ExerciseIndex, SetIndex: current.SetIndex - 1}, true
		}
		return s.stepBeforeExercise(current.ExerciseIndex)
	}

	members := s.routine.members(ex.SupersetID)
	position := memberPosition(members, current.ExerciseIndex)

	for i := position - 1; i >= 0; i-- {
		idx := members[i]
		if current.SetIndex < s.routine.Exercises[idx].Sets {
			return Step{ExerciseIndex: idx, SetIndex: current.SetIndex}, true
		}
	}
	prevSet := current.SetIndex - 1
	if prevSet >= 0 {
		for i := len(members) - 1; i >= 0; i-- {
			idx := members[i]
			if prevSet < s.routine.Exercises[idx].Sets {
				return Step{ExerciseIndex: idx, SetIndex: prevSet}, true
			}
		}
	}
	return s.stepBeforeExercise(members[0])
}

// Label renders a step for display, e.g. `Goblet Squat (set 2 of 3)`.
func (s *Sequencer) Label(step Step) string {
	ex := s.routine.ExerciseAt(step.ExerciseIndex)
	if ex == nil {
		return ""
	}
	return fmt.Sprintf("%s (set %d of %d)", ex.Name, step.SetIndex+1, ex.Sets)
}

// RestAfter returns the rest to take between from and its successor to, and
// whether that rest is a within-superset transition (which uses the
// superset's shorter rest instead of the exercise's own).
func (s *Sequencer) RestAfter(from, to Step) (seconds int, supersetTransition bool) {
	fromEx := s.routine.ExerciseAt(from.ExerciseIndex)
	toEx := s.routine.ExerciseAt(to.ExerciseIndex)
	if fromEx == nil || toEx == nil {
		return 0, false
	}
	if fromEx.SupersetID != "" && fromEx.SupersetID == toEx.SupersetID && from.ExerciseIndex != to.ExerciseIndex {
		if ss, ok := s.routine.SupersetOf(from.ExerciseIndex); ok {
			return ss.RestSeconds, true
		}
	}
	return fromEx.RestSeconds, false
}

// firstStepOf resolves entry into the exercise at idx: standalone exercises
// open at their own set 0, superset members open at the block's first member.
func (s *Sequencer) firstStepOf(idx int) Step {
	ex := s.routine.ExerciseAt(idx)
	if ex.SupersetID == "" {
		return Step{ExerciseIndex: idx, SetIndex: 0}
	}
	members := s.routine.members(ex.SupersetID)
	return Step{ExerciseIndex: members[0], SetIndex: 0}
}

// lastStepOf resolves the final step of the exercise at idx, accounting for
// interleaving when it belongs to a superset.
func (s *Sequencer) lastStepOf(idx int) Step {
	ex := s.routine.ExerciseAt(idx)
	if ex.SupersetID == "" {
		return Step{ExerciseIndex: idx, SetIndex: ex.Sets - 1}
	}
	members := s.routine.members(ex.SupersetID)
	lastSet := 0
	for _, m := range members {
		if sets := s.routine.Exercises[m].Sets; sets > lastSet {
			lastSet = sets
		}
	}
	lastSet--
	for i := len(members) - 1; i >= 0; i-- {
		if lastSet < s.routine.Exercises[members[i]].Sets {
			return Step{ExerciseIndex: members[i], SetIndex: lastSet}
		}
	}
	return Step{ExerciseIndex: members[0], SetIndex: 0}
}

func (s *Sequencer) stepAfterExercise(idx int) (Step, bool) {
	next := idx + 1
	if next >= len(s.routine.Exercises) {
		return Step{}, false
	}
	return s.firstStepOf(next), true
}

func (s *Sequencer) stepBeforeExercise(idx int) (Step, bool) {
	prev := idx - 1
	if prev < 0 {
		return Step{}, false
	}
	return s.lastStepOf(prev), true
}

func memberPosition(members []int, exerciseIndex int) int {
	for i, idx := range members {
		if idx == exerciseIndex {
			return i
		}
	}
	return 0
}

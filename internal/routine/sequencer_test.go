package routine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlift/cable-coach/internal/machine"
)

// three-exercise superset, equal set counts
func supersetFixture(t *testing.T, setsA, setsB, setsC int) *Routine {
	t.Helper()
	r := &Routine{
		ID:   "fixture",
		Name: "Fixture",
		Supersets: []Superset{
			{ID: "ss", Name: "Block", RestSeconds: 30},
		},
		Exercises: []Exercise{
			{ID: "a", Name: "A", Mode: machine.ResistanceFixed, Sets: setsA, RepsPerSet: 5, RestSeconds: 90, SupersetID: "ss", OrderInSuperset: 0},
			{ID: "b", Name: "B", Mode: machine.ResistanceFixed, Sets: setsB, RepsPerSet: 5, RestSeconds: 90, SupersetID: "ss", OrderInSuperset: 1},
			{ID: "c", Name: "C", Mode: machine.ResistanceFixed, Sets: setsC, RepsPerSet: 5, RestSeconds: 90, SupersetID: "ss", OrderInSuperset: 2},
		},
	}
	require.NoError(t, r.Validate())
	return r
}

// standalone, superset with uneven sets, trailing standalone
func mixedFixture(t *testing.T) *Routine {
	t.Helper()
	r := &Routine{
		ID:   "mixed",
		Name: "Mixed",
		Supersets: []Superset{
			{ID: "ss", Name: "Block", RestSeconds: 20},
		},
		Exercises: []Exercise{
			{ID: "x", Name: "X", Mode: machine.ResistanceFixed, Sets: 2, RepsPerSet: 8, RestSeconds: 60},
			{ID: "a", Name: "A", Mode: machine.ResistanceFixed, Sets: 3, RepsPerSet: 8, RestSeconds: 90, SupersetID: "ss", OrderInSuperset: 0},
			{ID: "b", Name: "B", Mode: machine.ResistanceFixed, Sets: 2, RepsPerSet: 8, RestSeconds: 90, SupersetID: "ss", OrderInSuperset: 1},
			{ID: "y", Name: "Y", Equipment: EquipmentBodyweight, Sets: 1, DurationSeconds: 45, RestSeconds: 30},
		},
	}
	require.NoError(t, r.Validate())
	return r
}

func forwardTraversal(t *testing.T, s *Sequencer) []Step {
	t.Helper()
	step, ok := s.First()
	require.True(t, ok)
	order := []Step{step}
	for {
		next, ok := s.NextStep(step)
		if !ok {
			break
		}
		order = append(order, next)
		step = next
		require.Less(t, len(order), 100, "traversal did not terminate")
	}
	return order
}

func TestSequencer_SupersetInterleaving(t *testing.T) {
	s := NewSequencer(supersetFixture(t, 3, 3, 3))

	expected := []Step{
		{0, 0}, {1, 0}, {2, 0},
		{0, 1}, {1, 1}, {2, 1},
		{0, 2}, {1, 2}, {2, 2},
	}
	assert.Equal(t, expected, forwardTraversal(t, s))
}

func TestSequencer_UnevenSupersetDropsExhaustedMembers(t *testing.T) {
	s := NewSequencer(supersetFixture(t, 3, 2, 1))

	expected := []Step{
		{0, 0}, {1, 0}, {2, 0},
		{0, 1}, {1, 1},
		{0, 2},
	}
	assert.Equal(t, expected, forwardTraversal(t, s))
}

func TestSequencer_MixedRoutineTraversal(t *testing.T) {
	s := NewSequencer(mixedFixture(t))

	expected := []Step{
		{0, 0}, {0, 1}, // standalone X
		{1, 0}, {2, 0}, {1, 1}, {2, 1}, {1, 2}, // superset A/B
		{3, 0}, // trailing Y
	}
	assert.Equal(t, expected, forwardTraversal(t, s))
}

func TestSequencer_InverseProperty(t *testing.T) {
	routines := []*Routine{
		supersetFixture(t, 3, 3, 3),
		supersetFixture(t, 3, 2, 1),
		supersetFixture(t, 1, 4, 2),
		mixedFixture(t),
	}
	routines = append(routines, Builtins()...)

	for _, r := range routines {
		s := NewSequencer(r)
		for exIdx := range r.Exercises {
			for set := 0; set < r.Exercises[exIdx].Sets; set++ {
				step := Step{ExerciseIndex: exIdx, SetIndex: set}

				if next, ok := s.NextStep(step); ok {
					back, ok := s.PreviousStep(next)
					require.True(t, ok, "%s: PreviousStep undefined after NextStep(%v)", r.ID, step)
					assert.Equal(t, step, back, "%s: PreviousStep(NextStep(%v))", r.ID, step)
				}
				if prev, ok := s.PreviousStep(step); ok {
					fwd, ok := s.NextStep(prev)
					require.True(t, ok, "%s: NextStep undefined after PreviousStep(%v)", r.ID, step)
					assert.Equal(t, step, fwd, "%s: NextStep(PreviousStep(%v))", r.ID, step)
				}
			}
		}
	}
}

func TestSequencer_TraversalVisitsEverySetOnce(t *testing.T) {
	for _, r := range append([]*Routine{mixedFixture(t)}, Builtins()...) {
		s := NewSequencer(r)
		order := forwardTraversal(t, s)

		assert.Len(t, order, r.TotalSets(), r.ID)
		seen := make(map[Step]bool, len(order))
		for _, step := range order {
			assert.False(t, seen[step], "%s: step %v visited twice", r.ID, step)
			seen[step] = true
		}
	}
}

func TestSequencer_EndsAtRoutineBoundaries(t *testing.T) {
	s := NewSequencer(supersetFixture(t, 2, 2, 2))

	first, ok := s.First()
	require.True(t, ok)
	_, ok = s.PreviousStep(first)
	assert.False(t, ok)

	order := forwardTraversal(t, s)
	last := order[len(order)-1]
	_, ok = s.NextStep(last)
	assert.False(t, ok)

	_, ok = s.NextStep(Step{ExerciseIndex: 99, SetIndex: 0})
	assert.False(t, ok)
}

func TestSequencer_Label(t *testing.T) {
	s := NewSequencer(mixedFixture(t))

	assert.Equal(t, "X (set 2 of 2)", s.Label(Step{ExerciseIndex: 0, SetIndex: 1}))
	assert.Equal(t, "A (set 1 of 3)", s.Label(Step{ExerciseIndex: 1, SetIndex: 0}))
	assert.Equal(t, "", s.Label(Step{ExerciseIndex: 99, SetIndex: 0}))
}

// The rest display and live navigation must agree on what comes next: the
// label for the rest screen is derived from the same step NextStep returns.
func TestSequencer_UpNextLabelMatchesNextStep(t *testing.T) {
	s := NewSequencer(mixedFixture(t))

	for _, step := range forwardTraversal(t, s) {
		next, ok := s.NextStep(step)
		if !ok {
			continue
		}
		label := s.Label(next)
		assert.Contains(t, label, s.routine.ExerciseAt(next.ExerciseIndex).Name)
	}
}

func TestSequencer_RestAfter(t *testing.T) {
	s := NewSequencer(mixedFixture(t))

	// standalone set to next set of itself: exercise rest
	seconds, transition := s.RestAfter(Step{0, 0}, Step{0, 1})
	assert.Equal(t, 60, seconds)
	assert.False(t, transition)

	// within superset A -> B: superset rest
	seconds, transition = s.RestAfter(Step{1, 0}, Step{2, 0})
	assert.Equal(t, 20, seconds)
	assert.True(t, transition)

	// superset exit A -> Y: exercise rest
	seconds, transition = s.RestAfter(Step{1, 2}, Step{3, 0})
	assert.Equal(t, 90, seconds)
	assert.False(t, transition)
}

func TestSequencer_RestAfterSameExerciseInSupersetUsesOwnRest(t *testing.T) {
	// B exhausts after one set, so A follows itself inside the block.
	r := supersetFixture(t, 3, 1, 1)
	s := NewSequencer(r)

	next, ok := s.NextStep(Step{0, 1})
	require.True(t, ok)
	require.Equal(t, Step{0, 2}, next)

	seconds, transition := s.RestAfter(Step{0, 1}, next)
	assert.Equal(t, 90, seconds)
	assert.False(t, transition)
}

func TestNewSequencer_NilRoutinePanics(t *testing.T) {
	assert.Panics(t, func() { NewSequencer(nil) })
}

package store

import (
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlift/cable-coach/internal/machine"
	"github.com/openlift/cable-coach/internal/session"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"), log.New(io.Discard, "", 0))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// millis drops sub-millisecond precision so round-tripped times compare equal.
func millis(ts time.Time) time.Time {
	return ts.Truncate(time.Millisecond)
}

func TestStoreRoundTripsSessionRecord(t *testing.T) {
	s := openTestStore(t)

	start := millis(time.Now().Add(-30 * time.Minute))
	rec := session.SessionRecord{
		ID:          uuid.NewString(),
		RoutineName: "Push Day",
		StartedAt:   start,
		EndedAt:     start.Add(25 * time.Minute),
		SetsDone:    5,
		WorkingReps: 40,
		TotalVolume: 800,
	}
	require.NoError(t, s.SaveSession(rec))

	got, err := s.RecentSessions(10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, rec.ID, got[0].ID)
	assert.Equal(t, "Push Day", got[0].RoutineName)
	assert.False(t, got[0].JustLift)
	assert.True(t, got[0].StartedAt.Equal(rec.StartedAt))
	assert.True(t, got[0].EndedAt.Equal(rec.EndedAt))
	assert.Equal(t, 5, got[0].SetsDone)
	assert.Equal(t, 40, got[0].WorkingReps)
	assert.InDelta(t, 800.0, got[0].TotalVolume, 1e-9)

	// Saving the same id again replaces instead of duplicating.
	rec.SetsDone = 6
	require.NoError(t, s.SaveSession(rec))
	got, err = s.RecentSessions(10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 6, got[0].SetsDone)
}

func TestStoreRecentSessionsNewestFirst(t *testing.T) {
	s := openTestStore(t)

	base := millis(time.Now().Add(-3 * time.Hour))
	var ids []string
	for i := 0; i < 3; i++ {
		rec := session.SessionRecord{
			ID:        uuid.NewString(),
			JustLift:  true,
			StartedAt: base.Add(time.Duration(i) * time.Hour),
			EndedAt:   base.Add(time.Duration(i)*time.Hour + 20*time.Minute),
			SetsDone:  1,
		}
		ids = append(ids, rec.ID)
		require.NoError(t, s.SaveSession(rec))
	}

	got, err := s.RecentSessions(2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ids[2], got[0].ID)
	assert.Equal(t, ids[1], got[1].ID)
	assert.True(t, got[0].JustLift)

	all, err := s.RecentSessions(0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestStoreSetsRoundTripInPerformedOrder(t *testing.T) {
	s := openTestStore(t)

	sid := uuid.NewString()
	base := millis(time.Now().Add(-time.Hour))
	first := session.SetSummary{
		SessionID:    sid,
		ExerciseName: "Chest Press",
		Mode:         machine.ResistanceTUT,
		SetIndex:     0,
		TotalSets:    3,
		WarmupReps:   2,
		WorkingReps:  8,
		WeightKg:     35,
		StartedAt:    base,
		Duration:     45 * time.Second,
		Reason:       session.ReasonTarget,
	}
	second := first
	second.SetIndex = 1
	second.WorkingReps = 6
	second.StartedAt = base.Add(3 * time.Minute)
	second.Reason = session.ReasonAutoStop

	// Insert out of order; the query sorts by start time.
	require.NoError(t, s.SaveCompletedSet(second))
	require.NoError(t, s.SaveCompletedSet(first))

	got, err := s.SetsForSession(sid)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].SetIndex)
	assert.Equal(t, 1, got[1].SetIndex)
	assert.Equal(t, machine.ResistanceTUT, got[0].Mode)
	assert.Equal(t, session.ReasonTarget, got[0].Reason)
	assert.Equal(t, session.ReasonAutoStop, got[1].Reason)
	assert.Equal(t, 45*time.Second, got[0].Duration)
	assert.True(t, got[1].StartedAt.Equal(second.StartedAt))

	none, err := s.SetsForSession("no-such-session")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStoreLastWeightTracksLatestSet(t *testing.T) {
	s := openTestStore(t)

	base := millis(time.Now().Add(-time.Hour))
	older := session.SetSummary{
		SessionID:    uuid.NewString(),
		ExerciseName: "Bent Row",
		WeightKg:     40,
		StartedAt:    base,
		Reason:       session.ReasonTarget,
	}
	newer := older
	newer.WeightKg = 42.5
	newer.StartedAt = base.Add(10 * time.Minute)

	// Insert the newer row first to prove ordering is by start time, not
	// insertion order.
	require.NoError(t, s.SaveCompletedSet(newer))
	require.NoError(t, s.SaveCompletedSet(older))

	kg, err := s.LastWeight("Bent Row")
	require.NoError(t, err)
	assert.InDelta(t, 42.5, kg, 1e-9)

	_, err = s.LastWeight("Deadlift")
	assert.ErrorIs(t, err, session.ErrNoHistory)
}

func TestStoreBestWeightIsAllTimeMax(t *testing.T) {
	s := openTestStore(t)

	base := millis(time.Now().Add(-time.Hour))
	for i, kg := range []float64{40, 50, 45} {
		set := session.SetSummary{
			SessionID:    uuid.NewString(),
			ExerciseName: "Chest Press",
			WeightKg:     kg,
			StartedAt:    base.Add(time.Duration(i) * time.Minute),
			Reason:       session.ReasonTarget,
		}
		require.NoError(t, s.SaveCompletedSet(set))
	}

	kg, err := s.BestWeight("Chest Press")
	require.NoError(t, err)
	assert.InDelta(t, 50.0, kg, 1e-9)

	_, err = s.BestWeight("Deadlift")
	assert.ErrorIs(t, err, session.ErrNoHistory)
}

func TestStoreSaveMetricsBatches(t *testing.T) {
	s := openTestStore(t)

	sid := uuid.NewString()
	base := millis(time.Now())
	var samples []machine.TelemetrySample
	for i := 0; i < 3; i++ {
		samples = append(samples, machine.TelemetrySample{
			Timestamp: base.Add(time.Duration(i) * 100 * time.Millisecond),
			Left:      machine.CableSample{Position: float64(i) * 10, Velocity: 50, Load: 20},
			Right:     machine.CableSample{Position: float64(i) * 10, Velocity: 48, Load: 20},
		})
	}
	require.NoError(t, s.SaveMetrics(sid, samples))

	var n int
	require.NoError(t, s.db.QueryRow(
		`SELECT COUNT(*) FROM samples WHERE session_id = ?`, sid).Scan(&n))
	assert.Equal(t, 3, n)

	// An empty batch is a no-op, not an error.
	require.NoError(t, s.SaveMetrics(sid, nil))
}

func TestStoreOpenCreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "history.db")
	s, err := Open(path, log.New(io.Discard, "", 0))
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

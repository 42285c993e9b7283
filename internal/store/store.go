// Package store persists finished training work to a local sqlite database:
// one row per session, one per completed set, plus the raw telemetry samples
// captured during each session. The engine writes through session.History;
// the UI reads back through the query methods on Store.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/openlift/cable-coach/internal/machine"
	"github.com/openlift/cable-coach/internal/session"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id           TEXT PRIMARY KEY,
	routine_name TEXT NOT NULL,
	just_lift    INTEGER NOT NULL,
	started_at   INTEGER NOT NULL,
	ended_at     INTEGER NOT NULL,
	sets_done    INTEGER NOT NULL,
	working_reps INTEGER NOT NULL,
	total_volume REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS sets (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id    TEXT NOT NULL,
	exercise_name TEXT NOT NULL,
	mode          INTEGER NOT NULL,
	set_index     INTEGER NOT NULL,
	total_sets    INTEGER NOT NULL,
	warmup_reps   INTEGER NOT NULL,
	working_reps  INTEGER NOT NULL,
	weight_kg     REAL NOT NULL,
	started_at    INTEGER NOT NULL,
	duration_ms   INTEGER NOT NULL,
	reason        INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS sets_by_exercise ON sets (exercise_name, started_at);

CREATE TABLE IF NOT EXISTS samples (
	session_id TEXT NOT NULL,
	at         INTEGER NOT NULL,
	pos_a      REAL NOT NULL,
	vel_a      REAL NOT NULL,
	load_a     REAL NOT NULL,
	pos_b      REAL NOT NULL,
	vel_b      REAL NOT NULL,
	load_b     REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS samples_by_session ON samples (session_id, at);
`

// Store is the sqlite-backed workout history. All timestamps are stored as
// unix milliseconds.
type Store struct {
	db     *sql.DB
	logger *log.Logger
}

var _ session.History = (*Store)(nil)

// Open opens, or creates, the history database at path.
func Open(path string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		panic("Store: logger cannot be nil")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating history dir %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating history schema: %w", err)
	}

	logger.Printf("Store: history open at %s", path)
	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveSession writes the whole-session row. Replaces any previous row with
// the same id, so a crash between set saves and session save cannot
// duplicate.
func (s *Store) SaveSession(record session.SessionRecord) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO sessions
		 (id, routine_name, just_lift, started_at, ended_at, sets_done, working_reps, total_volume)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.RoutineName, record.JustLift,
		record.StartedAt.UnixMilli(), record.EndedAt.UnixMilli(),
		record.SetsDone, record.WorkingReps, record.TotalVolume,
	)
	if err != nil {
		return fmt.Errorf("saving session %s: %w", record.ID, err)
	}
	return nil
}

// SaveCompletedSet appends one finished set.
func (s *Store) SaveCompletedSet(set session.SetSummary) error {
	_, err := s.db.Exec(
		`INSERT INTO sets
		 (session_id, exercise_name, mode, set_index, total_sets, warmup_reps,
		  working_reps, weight_kg, started_at, duration_ms, reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		set.SessionID, set.ExerciseName, int(set.Mode), set.SetIndex, set.TotalSets,
		set.WarmupReps, set.WorkingReps, set.WeightKg,
		set.StartedAt.UnixMilli(), set.Duration.Milliseconds(), int(set.Reason),
	)
	if err != nil {
		return fmt.Errorf("saving set for %s: %w", set.ExerciseName, err)
	}
	return nil
}

// SaveMetrics appends the telemetry samples behind one session in a single
// transaction.
func (s *Store) SaveMetrics(sessionID string, samples []machine.TelemetrySample) error {
	if len(samples) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("saving metrics for %s: %w", sessionID, err)
	}
	stmt, err := tx.Prepare(
		`INSERT INTO samples (session_id, at, pos_a, vel_a, load_a, pos_b, vel_b, load_b)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("saving metrics for %s: %w", sessionID, err)
	}
	defer stmt.Close()

	for _, sm := range samples {
		_, err := stmt.Exec(sessionID, sm.Timestamp.UnixMilli(),
			sm.Left.Position, sm.Left.Velocity, sm.Left.Load,
			sm.Right.Position, sm.Right.Velocity, sm.Right.Load)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("saving metrics for %s: %w", sessionID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("saving metrics for %s: %w", sessionID, err)
	}
	s.logger.Printf("Store: %d samples saved for session %s", len(samples), sessionID)
	return nil
}

// LastWeight returns the weight of the most recent completed set of the
// exercise, or session.ErrNoHistory when it has never been done.
func (s *Store) LastWeight(exerciseName string) (float64, error) {
	var kg float64
	err := s.db.QueryRow(
		`SELECT weight_kg FROM sets WHERE exercise_name = ?
		 ORDER BY started_at DESC, id DESC LIMIT 1`,
		exerciseName,
	).Scan(&kg)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, session.ErrNoHistory
	}
	if err != nil {
		return 0, fmt.Errorf("looking up last weight for %s: %w", exerciseName, err)
	}
	return kg, nil
}

// BestWeight returns the heaviest weight ever completed for the exercise, or
// session.ErrNoHistory when it has never been done.
func (s *Store) BestWeight(exerciseName string) (float64, error) {
	var kg sql.NullFloat64
	err := s.db.QueryRow(
		`SELECT MAX(weight_kg) FROM sets WHERE exercise_name = ?`,
		exerciseName,
	).Scan(&kg)
	if err != nil {
		return 0, fmt.Errorf("looking up best weight for %s: %w", exerciseName, err)
	}
	if !kg.Valid {
		return 0, session.ErrNoHistory
	}
	return kg.Float64, nil
}

// RecentSessions lists finished sessions newest first. A non-positive limit
// defaults to 20.
func (s *Store) RecentSessions(limit int) ([]session.SessionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, routine_name, just_lift, started_at, ended_at, sets_done, working_reps, total_volume
		 FROM sessions ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var out []session.SessionRecord
	for rows.Next() {
		var rec session.SessionRecord
		var started, ended int64
		err := rows.Scan(&rec.ID, &rec.RoutineName, &rec.JustLift, &started, &ended,
			&rec.SetsDone, &rec.WorkingReps, &rec.TotalVolume)
		if err != nil {
			return nil, fmt.Errorf("listing sessions: %w", err)
		}
		rec.StartedAt = time.UnixMilli(started)
		rec.EndedAt = time.UnixMilli(ended)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SetsForSession lists the completed sets of one session in the order they
// were performed.
func (s *Store) SetsForSession(sessionID string) ([]session.SetSummary, error) {
	rows, err := s.db.Query(
		`SELECT session_id, exercise_name, mode, set_index, total_sets, warmup_reps,
		        working_reps, weight_kg, started_at, duration_ms, reason
		 FROM sets WHERE session_id = ? ORDER BY started_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing sets for %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []session.SetSummary
	for rows.Next() {
		var set session.SetSummary
		var mode, reason int
		var started, durMs int64
		err := rows.Scan(&set.SessionID, &set.ExerciseName, &mode, &set.SetIndex,
			&set.TotalSets, &set.WarmupReps, &set.WorkingReps, &set.WeightKg,
			&started, &durMs, &reason)
		if err != nil {
			return nil, fmt.Errorf("listing sets for %s: %w", sessionID, err)
		}
		set.Mode = machine.ResistanceMode(mode)
		set.Reason = session.CompletionReason(reason)
		set.StartedAt = time.UnixMilli(started)
		set.Duration = time.Duration(durMs) * time.Millisecond
		out = append(out, set)
	}
	return out, rows.Err()
}

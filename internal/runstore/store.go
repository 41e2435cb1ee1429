// Package runstore persists the run history and finished sessions in SQLite.
package runstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	_ "modernc.org/sqlite"

	"github.com/hochfrequenz/filter-runner/internal/domain"
)

// Store provides SQLite-backed history persistence
type Store struct {
	db *sql.DB
}

// New opens the database at dbPath and applies the schema
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// a single connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// AppendRecord adds a record to the end of the history
func (s *Store) AppendRecord(ctx context.Context, snap domain.Snapshot) error {
	argsJSON, err := json.Marshal(snap.Args)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO history (definition_dir, settings_file, module_type, module_path, main_class, module_mod_time,
			args, run_no, started_at, elapsed_ns, exit_code, user_canceled, completed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		snap.Definition.Dir,
		snap.Definition.SettingsFile,
		string(snap.Module.Type),
		snap.Module.Path,
		snap.Module.MainClass,
		unixNano(snap.ModuleModTime),
		string(argsJSON),
		snap.RunNo,
		unixNano(snap.StartedAt),
		int64(snap.Elapsed),
		snap.ExitCode,
		snap.UserCanceled,
		snap.Completed,
	)
	return err
}

// TrimTo deletes the oldest records so that at most limit remain
func (s *Store) TrimTo(ctx context.Context, limit int) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM history WHERE id NOT IN (
			SELECT id FROM history ORDER BY id DESC LIMIT ?
		)
	`, limit)
	return err
}

// ListRecords returns all records, oldest first
func (s *Store) ListRecords(ctx context.Context) ([]domain.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT definition_dir, settings_file, module_type, module_path, main_class, module_mod_time,
			args, run_no, started_at, elapsed_ns, exit_code, user_canceled, completed
		FROM history ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []domain.Snapshot
	for rows.Next() {
		snap, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// CountRecords returns the number of stored records
func (s *Store) CountRecords(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM history`).Scan(&n)
	return n, err
}

// Clear deletes all records
func (s *Store) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM history`)
	return err
}

// SessionRun is the persisted summary of a finished session
type SessionRun struct {
	ID           string
	State        string
	Outcome      string
	Records      int
	Executed     int
	ErrorMessage string
	StartedAt    time.Time
	FinishedAt   time.Time
}

// SaveSessionRun inserts or replaces a session summary
func (s *Store) SaveSessionRun(ctx context.Context, run SessionRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, state, outcome, records, executed, error_message, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			outcome = excluded.outcome,
			executed = excluded.executed,
			error_message = excluded.error_message,
			finished_at = excluded.finished_at
	`,
		run.ID,
		run.State,
		run.Outcome,
		run.Records,
		run.Executed,
		run.ErrorMessage,
		unixNano(run.StartedAt),
		unixNano(run.FinishedAt),
	)
	return err
}

// ListRecentSessionRuns returns the most recently finished sessions, newest first
func (s *Store) ListRecentSessionRuns(ctx context.Context, limit int) ([]SessionRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, state, outcome, records, executed, error_message, started_at, finished_at
		FROM sessions ORDER BY finished_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []SessionRun
	for rows.Next() {
		var run SessionRun
		var errMsg sql.NullString
		var started, finished int64
		if err := rows.Scan(&run.ID, &run.State, &run.Outcome, &run.Records, &run.Executed, &errMsg, &started, &finished); err != nil {
			return nil, err
		}
		run.ErrorMessage = errMsg.String
		run.StartedAt = fromUnixNano(started)
		run.FinishedAt = fromUnixNano(finished)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRecord(rows *sql.Rows) (domain.Snapshot, error) {
	var snap domain.Snapshot
	var moduleType, argsJSON string
	var mainClass sql.NullString
	var modTime, startedAt, elapsed int64

	err := rows.Scan(&snap.Definition.Dir, &snap.Definition.SettingsFile, &moduleType, &snap.Module.Path, &mainClass,
		&modTime, &argsJSON, &snap.RunNo, &startedAt, &elapsed, &snap.ExitCode, &snap.UserCanceled, &snap.Completed)
	if err != nil {
		return snap, err
	}
	snap.Module.Type = domain.ModuleType(moduleType)
	snap.Module.MainClass = mainClass.String
	snap.ModuleModTime = fromUnixNano(modTime)
	snap.StartedAt = fromUnixNano(startedAt)
	snap.Elapsed = time.Duration(elapsed)

	if argsJSON != "" && argsJSON != "null" {
		if err := json.Unmarshal([]byte(argsJSON), &snap.Args); err != nil {
			return snap, fmt.Errorf("decoding arguments: %w", err)
		}
	}
	return snap, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

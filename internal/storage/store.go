package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned when a referenced record does not exist
	ErrNotFound = errors.New("record not found")

	// ErrBusyTimeout is returned when the write lock could not be
	// acquired within the configured bound. Retryable.
	ErrBusyTimeout = errors.New("store busy: lock acquisition timed out")

	// ErrUnavailable is returned when the underlying database is
	// unusable. Fatal; the process should stop accepting writes.
	ErrUnavailable = errors.New("store unavailable")
)

// Options configures a Store
type Options struct {
	// BusyTimeout bounds how long a writer waits behind another writer
	// before failing with ErrBusyTimeout. Defaults to 5 seconds.
	BusyTimeout time.Duration
}

// Store is the durable SQLite-backed home of tasks, their ancestors,
// the dependency relation, and the activity log. All three share one
// database file so a logical operation can cover them in a single
// transaction.
type Store struct {
	logger *zap.Logger
	db     *sql.DB
}

// Open opens (creating if necessary) the database at path.
func Open(logger *zap.Logger, path string, opts Options) (*Store, error) {
	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}

	params := url.Values{}
	params.Set("_journal_mode", "WAL")
	params.Set("_busy_timeout", strconv.FormatInt(busy.Milliseconds(), 10))
	params.Set("_foreign_keys", "on")
	params.Set("_synchronous", "NORMAL")
	params.Set("_txlock", "immediate")

	db, err := sql.Open("sqlite3", path+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{
		logger: logger.Named("storage"),
		db:     db,
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initialize creates the schema if it doesn't exist
func (s *Store) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS projects (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			description TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);
		CREATE TABLE IF NOT EXISTS epics (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			project_id INTEGER NOT NULL REFERENCES projects(id),
			name TEXT NOT NULL,
			description TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);
		CREATE TABLE IF NOT EXISTS tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			epic_id INTEGER NOT NULL REFERENCES epics(id),
			title TEXT NOT NULL,
			description TEXT,
			status TEXT NOT NULL,
			priority TEXT NOT NULL,
			assignee TEXT,
			estimated_hours REAL,
			actual_hours REAL,
			due_date DATETIME,
			tags TEXT,
			metadata TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);
		CREATE TABLE IF NOT EXISTS subtasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id INTEGER NOT NULL REFERENCES tasks(id),
			title TEXT NOT NULL,
			done INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);
		CREATE TABLE IF NOT EXISTS task_dependencies (
			task_id INTEGER NOT NULL REFERENCES tasks(id),
			depends_on_id INTEGER NOT NULL REFERENCES tasks(id),
			PRIMARY KEY (task_id, depends_on_id)
		);
		CREATE TABLE IF NOT EXISTS activity_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			entity_type TEXT NOT NULL,
			entity_id INTEGER NOT NULL,
			action TEXT NOT NULL,
			field TEXT,
			old_value TEXT,
			new_value TEXT,
			summary TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_tasks_epic_id ON tasks(epic_id);
		CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
		CREATE INDEX IF NOT EXISTS idx_deps_depends_on ON task_dependencies(depends_on_id);
		CREATE INDEX IF NOT EXISTS idx_activity_entity ON activity_log(entity_type, entity_id);
		CREATE INDEX IF NOT EXISTS idx_activity_created_at ON activity_log(created_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", mapError(err))
	}
	return nil
}

// queryer abstracts *sql.DB and *sql.Tx so repositories work in and
// out of transactions.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Tasks returns the task repository bound to the store
func (s *Store) Tasks() *TaskRepo { return &TaskRepo{q: s.db} }

// Deps returns the dependency repository bound to the store
func (s *Store) Deps() *DepRepo { return &DepRepo{q: s.db} }

// Activity returns the activity log repository bound to the store
func (s *Store) Activity() *ActivityRepo { return &ActivityRepo{q: s.db} }

// Projects returns the project repository bound to the store
func (s *Store) Projects() *ProjectRepo { return &ProjectRepo{q: s.db} }

// Epics returns the epic repository bound to the store
func (s *Store) Epics() *EpicRepo { return &EpicRepo{q: s.db} }

// Subtasks returns the subtask repository bound to the store
func (s *Store) Subtasks() *SubtaskRepo { return &SubtaskRepo{q: s.db} }

// Tx exposes the repositories bound to one open transaction
type Tx struct {
	tx *sql.Tx
}

// Tasks returns the task repository bound to the transaction
func (t *Tx) Tasks() *TaskRepo { return &TaskRepo{q: t.tx} }

// Deps returns the dependency repository bound to the transaction
func (t *Tx) Deps() *DepRepo { return &DepRepo{q: t.tx} }

// Activity returns the activity log repository bound to the transaction
func (t *Tx) Activity() *ActivityRepo { return &ActivityRepo{q: t.tx} }

// Projects returns the project repository bound to the transaction
func (t *Tx) Projects() *ProjectRepo { return &ProjectRepo{q: t.tx} }

// Epics returns the epic repository bound to the transaction
func (t *Tx) Epics() *EpicRepo { return &EpicRepo{q: t.tx} }

// Subtasks returns the subtask repository bound to the transaction
func (t *Tx) Subtasks() *SubtaskRepo { return &SubtaskRepo{q: t.tx} }

// WithTx runs fn inside a single transaction. The transaction is
// committed when fn returns nil and rolled back otherwise, so a
// logical operation's entity writes and audit entries land together
// or not at all.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", mapError(err))
	}

	if err := fn(&Tx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("Rollback failed", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", mapError(err))
	}

	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// mapError folds driver-level failures into the store error taxonomy
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		switch serr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return fmt.Errorf("%w: %v", ErrBusyTimeout, err)
		case sqlite3.ErrCantOpen, sqlite3.ErrNotADB, sqlite3.ErrCorrupt:
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	if errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

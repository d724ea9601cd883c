package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/podforge/api/internal/apperr"
	"github.com/podforge/api/internal/model"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id               TEXT PRIMARY KEY,
	kind             TEXT NOT NULL,
	owner            TEXT NOT NULL,
	status           TEXT NOT NULL,
	progress_percent REAL NOT NULL DEFAULT 0,
	current_step     TEXT NOT NULL DEFAULT '',
	error_message    TEXT,
	cancelled        INTEGER NOT NULL DEFAULT 0,
	created_at       INTEGER NOT NULL,
	started_at       INTEGER,
	completed_at     INTEGER,
	version          INTEGER NOT NULL,
	payload          TEXT NOT NULL,
	data             TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_owner ON jobs(kind, owner, created_at);
`

// SQLiteDB is the shared database handle for all SQLite-backed stores.
type SQLiteDB struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates the job database at path.
func OpenSQLite(path string) (*SQLiteDB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &SQLiteDB{db: db, path: path}, nil
}

func (d *SQLiteDB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

// SQLiteStore persists one job kind as flat rows plus the full JSON document.
type SQLiteStore[T model.Record] struct {
	db   *SQLiteDB
	kind string
}

func NewSQLiteStore[T model.Record](db *SQLiteDB, kind string) *SQLiteStore[T] {
	return &SQLiteStore[T]{db: db, kind: kind}
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func (s *SQLiteStore[T]) Create(ctx context.Context, rec T) error {
	stamp(rec, 1)
	flat, err := rec.Flat()
	if err != nil {
		return err
	}
	data, err := encode(rec)
	if err != nil {
		return err
	}

	err = retryOnBusy(ctx, func() error {
		_, execErr := s.db.db.ExecContext(ctx, `
			INSERT INTO jobs (id, kind, owner, status, progress_percent, current_step, error_message,
				cancelled, created_at, started_at, completed_at, version, payload, data)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			flat.ID, s.kind, flat.Owner, flat.Status, flat.ProgressPercent, flat.CurrentStep, flat.ErrorMessage,
			flat.Cancelled, flat.CreatedAt.UnixNano(), nullableTime(flat.StartedAt), nullableTime(flat.CompletedAt),
			flat.Version, string(flat.Payload), string(data))
		return execErr
	})
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return apperr.Conflict(s.kind + " " + flat.ID + " already exists")
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *SQLiteStore[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	var data string
	err := retryOnBusy(ctx, func() error {
		return s.db.db.QueryRowContext(ctx,
			`SELECT data FROM jobs WHERE id = ? AND kind = ?`, id, s.kind).Scan(&data)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return zero, apperr.NotFound(s.kind, id)
		}
		return zero, fmt.Errorf("select job: %w", err)
	}
	return decode[T]([]byte(data))
}

// Update compares the stored version before writing and retries when another
// writer got there first.
func (s *SQLiteStore[T]) Update(ctx context.Context, id string, fn UpdateFunc[T]) (T, error) {
	var zero T
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		rec, err := s.Get(ctx, id)
		if err != nil {
			return zero, err
		}
		prev := rec.RecordVersion()
		if err := fn(rec); err != nil {
			return zero, err
		}
		stamp(rec, prev+1)

		flat, err := rec.Flat()
		if err != nil {
			return zero, err
		}
		data, err := encode(rec)
		if err != nil {
			return zero, err
		}

		var affected int64
		err = retryOnBusy(ctx, func() error {
			res, execErr := s.db.db.ExecContext(ctx, `
				UPDATE jobs SET status = ?, progress_percent = ?, current_step = ?, error_message = ?,
					cancelled = ?, started_at = ?, completed_at = ?, version = ?, payload = ?, data = ?
				WHERE id = ? AND kind = ? AND version = ?`,
				flat.Status, flat.ProgressPercent, flat.CurrentStep, flat.ErrorMessage,
				flat.Cancelled, nullableTime(flat.StartedAt), nullableTime(flat.CompletedAt),
				flat.Version, string(flat.Payload), string(data),
				id, s.kind, prev)
			if execErr != nil {
				return execErr
			}
			affected, execErr = res.RowsAffected()
			return execErr
		})
		if err != nil {
			return zero, fmt.Errorf("update job: %w", err)
		}
		if affected == 1 {
			return rec, nil
		}
	}
	return zero, conflictErr(s.kind, id)
}

func (s *SQLiteStore[T]) List(ctx context.Context, owner string) ([]T, error) {
	rows, err := s.db.db.QueryContext(ctx,
		`SELECT data FROM jobs WHERE kind = ? AND owner = ? ORDER BY created_at DESC`, s.kind, owner)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		rec, err := decode[T]([]byte(data))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

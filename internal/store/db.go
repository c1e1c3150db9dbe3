package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect names the SQL backend behind a DB.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// DB wraps sql.DB for Postgres (pgx) or SQLite.
type DB struct {
	Client  *sql.DB
	Dialect Dialect
}

// NewDB opens the database named by url. "postgres://" and "postgresql://"
// URLs go to pgx; "sqlite://path", "file:path" and ":memory:" go to SQLite.
// The schema is created if missing.
func NewDB(url string) (*DB, error) {
	dialect, driver, dsn := resolve(url)

	if dialect == SQLite {
		if dir := filepath.Dir(strings.TrimPrefix(dsn, "file:")); dir != "." && !strings.HasPrefix(dsn, ":memory:") {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if dialect == SQLite {
		// One connection keeps ":memory:" databases alive and serialises writers.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(time.Hour)
	}

	d := &DB{Client: db, Dialect: dialect}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return d, fmt.Errorf("ping db: %w", err)
	}
	if err := d.Migrate(ctx); err != nil {
		return d, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

func resolve(url string) (Dialect, string, string) {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return Postgres, "pgx", url
	case strings.HasPrefix(url, "sqlite://"):
		return SQLite, "sqlite3", sqliteDSN(strings.TrimPrefix(url, "sqlite://"))
	default:
		return SQLite, "sqlite3", sqliteDSN(url)
	}
}

func sqliteDSN(path string) string {
	if path == ":memory:" {
		return path
	}
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_journal_mode=WAL&_busy_timeout=5000"
}

// Migrate creates the tables if they do not exist.
func (d *DB) Migrate(ctx context.Context) error {
	schema := postgresSchema
	if d.Dialect == SQLite {
		schema = sqliteSchema
	}
	_, err := d.Client.ExecContext(ctx, schema)
	return err
}

// Healthy pings the database.
func (d *DB) Healthy(ctx context.Context) bool {
	if d == nil || d.Client == nil {
		return false
	}
	return d.Client.PingContext(ctx) == nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS students (
	id          BIGSERIAL PRIMARY KEY,
	batch       TEXT NOT NULL,
	student_id  TEXT NOT NULL,
	name        TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (batch, student_id)
);

CREATE TABLE IF NOT EXISTS timetable_entries (
	id            BIGSERIAL PRIMARY KEY,
	batch         TEXT NOT NULL,
	day           TEXT NOT NULL DEFAULT '',
	subject_code  TEXT NOT NULL,
	subject_name  TEXT NOT NULL,
	start_minute  INTEGER NOT NULL,
	end_minute    INTEGER NOT NULL,
	UNIQUE (batch, day, subject_code)
);

CREATE TABLE IF NOT EXISTS attendance_records (
	id          UUID PRIMARY KEY,
	batch       TEXT NOT NULL,
	student_id  TEXT NOT NULL,
	name        TEXT NOT NULL,
	subject     TEXT NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_attendance_batch_time ON attendance_records (batch, recorded_at);
`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS students (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	batch       TEXT NOT NULL,
	student_id  TEXT NOT NULL,
	name        TEXT NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (batch, student_id)
);

CREATE TABLE IF NOT EXISTS timetable_entries (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	batch         TEXT NOT NULL,
	day           TEXT NOT NULL DEFAULT '',
	subject_code  TEXT NOT NULL,
	subject_name  TEXT NOT NULL,
	start_minute  INTEGER NOT NULL,
	end_minute    INTEGER NOT NULL,
	UNIQUE (batch, day, subject_code)
);

CREATE TABLE IF NOT EXISTS attendance_records (
	id          TEXT PRIMARY KEY,
	batch       TEXT NOT NULL,
	student_id  TEXT NOT NULL,
	name        TEXT NOT NULL,
	subject     TEXT NOT NULL,
	recorded_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_attendance_batch_time ON attendance_records (batch, recorded_at);
`

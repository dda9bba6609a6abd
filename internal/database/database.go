package database

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	apperrors "leadwire/internal/errors"
	"leadwire/internal/migrations"
	"leadwire/internal/security"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

// ErrDuplicate is returned when an insert hits a uniqueness constraint.
var ErrDuplicate = stderrors.New("duplicate record")

type Database struct {
	db        *sql.DB
	encryptor *encryptor
	now       func() time.Time
}

func New(dbPath string) (*Database, error) {
	if len(dbPath) == 0 || dbPath[0] == '\x00' {
		return nil, fmt.Errorf("invalid database path")
	}
	if err := security.ValidateFilePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0o600) // #nosec G304 - validated above
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	closeWith := func(err error, msg string) (*Database, error) {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("%s: %w (close error: %v)", msg, err, closeErr)
		}
		return nil, fmt.Errorf("%s: %w", msg, err)
	}

	if err := db.Ping(); err != nil {
		return closeWith(err, "failed to ping database")
	}
	if _, err := migrations.Apply(context.Background(), db); err != nil {
		return closeWith(err, "failed to initialize schema")
	}

	enc, err := NewEncryptor()
	if err != nil {
		return closeWith(err, "failed to initialize encryptor")
	}

	return &Database{db: db, encryptor: enc, now: time.Now}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Ping checks the connection; used by the health endpoint.
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func newID() string {
	return uuid.NewString()
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if stderrors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// dbError wraps a driver error, mapping uniqueness violations onto ErrDuplicate.
func dbError(operation string, err error) error {
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("%s: %w", operation, ErrDuplicate)
	}
	return apperrors.NewDatabaseError(operation, err)
}

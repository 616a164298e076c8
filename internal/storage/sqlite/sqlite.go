package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/nebula-protocol/nebula/internal/fingerprint"
	"github.com/nebula-protocol/nebula/internal/storage/migrations"
	"github.com/nebula-protocol/nebula/internal/types"
)

// MemoryPath opens a private in-memory store
const MemoryPath = ":memory:"

// SQLiteStorage is the project store backed by a single SQLite file.
//
// Every mutating method takes writeMu and runs in one transaction, so the
// store has exactly one writer at a time. Reads go straight to the pool and
// see the last committed state through WAL.
type SQLiteStorage struct {
	db      *sql.DB
	path    string
	writeMu sync.Mutex
	matcher *fingerprint.Matcher
	now     func() time.Time
}

// Option configures a store at open time
type Option func(*SQLiteStorage)

// WithMatcherConfig sets the fuzzy matching configuration
func WithMatcherConfig(cfg fingerprint.Config) Option {
	return func(s *SQLiteStorage) {
		s.matcher = fingerprint.NewMatcher(cfg)
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStorage) {
		s.now = now
	}
}

// New opens (creating if needed) the store at path and applies pending migrations
func New(path string, opts ...Option) (*SQLiteStorage, error) {
	return NewContext(context.Background(), path, opts...)
}

// NewContext is New with a context for the open and migration steps
func NewContext(ctx context.Context, path string, opts ...Option) (*SQLiteStorage, error) {
	inMemory := path == MemoryPath
	if !inMemory {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	// _txlock=immediate takes the write lock at BEGIN, not at first write.
	dsn := path + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if inMemory {
		// Each connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, storageErr("ping database", err)
	}

	if err := migrations.NewManager(schemaMigrations...).Apply(ctx, db); err != nil {
		_ = db.Close()
		return nil, storageErr("initialize schema", err)
	}

	s := &SQLiteStorage{
		db:      db,
		path:    path,
		matcher: fingerprint.NewMatcher(fingerprint.DefaultConfig()),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Path returns the database file path
func (s *SQLiteStorage) Path() string {
	return s.path
}

// SchemaVersion returns the applied migration version
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	return migrations.Current(ctx, s.db)
}

func (s *SQLiteStorage) timestamp() time.Time {
	return s.now().UTC()
}

// withTx runs fn inside a write transaction while holding the write lock.
// fn's error aborts the transaction unchanged so typed errors reach callers.
func (s *SQLiteStorage) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storageErr("commit transaction", err)
	}
	return nil
}

// storageErr wraps a driver error. Lock, I/O and corruption failures are
// classified as ErrStorageUnavailable so callers know a retry may succeed.
func storageErr(op string, err error) error {
	if isUnavailable(err) {
		return fmt.Errorf("failed to %s: %w: %w", op, types.ErrStorageUnavailable, err)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func isUnavailable(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code {
	case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrIoErr, sqlite3.ErrCorrupt,
		sqlite3.ErrCantOpen, sqlite3.ErrFull, sqlite3.ErrReadonly, sqlite3.ErrNotADB,
		sqlite3.ErrProtocol:
		return true
	}
	return false
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

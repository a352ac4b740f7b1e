// Package sqlite is the transactional ledger store, backed by an embedded
// SQLite database. Every mutating operation runs inside one IMMEDIATE
// transaction, so writers of the same database file are serialized and a
// failure anywhere rolls the whole operation back.
package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"embed"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/boddenberg/pocket-ledger/internal/domain"
	"github.com/boddenberg/pocket-ledger/internal/port"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var tracer = otel.Tracer("sqlite")

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MemoryPath opens a private in-memory database, used by tests.
const MemoryPath = ":memory:"

// Options configures Open.
type Options struct {
	Path        string
	BusyTimeout time.Duration
	MaxConns    int
	Now         func() time.Time
}

// Store implements port.LedgerStore.
type Store struct {
	db     *sql.DB
	now    func() time.Time
	logger *zap.Logger
}

var _ port.LedgerStore = (*Store)(nil)

// Open opens (creating if needed) the database at opts.Path and applies
// pending migrations.
func Open(ctx context.Context, opts Options, logger *zap.Logger) (*Store, error) {
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	db, err := sql.Open("sqlite", dsn(opts.Path, opts.BusyTimeout))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// An in-memory database lives and dies with its connection.
	if opts.Path == MemoryPath || opts.MaxConns <= 0 {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(opts.MaxConns)
	}
	db.SetConnMaxIdleTime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, &domain.ErrTransient{Operation: "open", Err: err}
	}

	s := &Store{db: db, now: opts.Now, logger: logger}
	if err := s.Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("ledger store ready", zap.String("path", opts.Path))
	return s, nil
}

func dsn(path string, busy time.Duration) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Add("_pragma", "foreign_keys(1)")
	if path != MemoryPath {
		q.Add("_pragma", "journal_mode(WAL)")
	}
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	defer src.Close()

	drv, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	// m.Close would also close s.db, only the source is released.
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}

	version, dirty, _ := m.Version()
	s.logger.Debug("schema migrated", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return &domain.ErrTransient{Operation: "ping", Err: err}
	}
	return nil
}

// WithTx runs fn inside one IMMEDIATE transaction. The write lock is taken
// at BEGIN, so concurrent writers queue up to the busy timeout instead of
// failing halfway through.
func (s *Store) WithTx(ctx context.Context, op string, fn func(tx port.Tx) error) error {
	ctx, span := tracer.Start(ctx, "SQLite.WithTx")
	defer span.End()
	span.SetAttributes(attribute.String("ledger.op", op))

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return s.classify(op, err)
	}

	if err := fn(&txStore{q: sqlTx, now: s.now}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Warn("rollback failed", zap.String("op", op), zap.Error(rbErr))
		}
		span.SetStatus(codes.Error, err.Error())
		return s.classify(op, err)
	}

	if err := sqlTx.Commit(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return s.classify(op, err)
	}
	return nil
}

// View runs fn against the database outside any write transaction.
func (s *Store) View(ctx context.Context, fn func(tx port.Tx) error) error {
	ctx, span := tracer.Start(ctx, "SQLite.View")
	defer span.End()

	if err := fn(&txStore{q: s.db, now: s.now}); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return s.classify("view", err)
	}
	return nil
}

// classify keeps domain errors as they are and turns lock contention and
// connectivity failures into *domain.ErrTransient.
func (s *Store) classify(op string, err error) error {
	if isTransient(err) {
		s.logger.Warn("transient store failure", zap.String("op", op), zap.Error(err))
		return &domain.ErrTransient{Operation: op, Err: err}
	}
	return err
}

func isTransient(err error) bool {
	var tr *domain.ErrTransient
	if errors.As(err, &tr) {
		return false
	}
	var se *moderncsqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_IOERR, sqlite3.SQLITE_CANTOPEN:
			return true
		}
		return false
	}
	return errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded)
}

// isConstraint reports a UNIQUE or FOREIGN KEY violation.
func isConstraint(err error) bool {
	var se *moderncsqlite.Error
	return errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}

package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"

	"github.com/camden-git/rsvpbackend/errs"
)

// DefaultTimeout bounds a store call when the Store was built without one.
const DefaultTimeout = 5 * time.Second

// Store hands out repositories bound to a context-scoped connection or transaction.
// Every call runs under a bounded timeout and driver errors leave it classified as
// errs kinds.
type Store struct {
	db      *gorm.DB
	timeout time.Duration
}

func NewStore(db *gorm.DB, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Store{db: db, timeout: timeout}
}

// DB returns the root handle.
func (s *Store) DB() *gorm.DB {
	return s.db
}

func bind(db *gorm.DB) Repositories {
	return Repositories{
		People:    NewGormPersonRepository(db),
		Responses: NewGormResponseRepository(db),
	}
}

// Read runs fn outside a transaction. Use it for single-statement lookups; reads
// that must agree with each other belong in Snapshot.
func (s *Store) Read(ctx context.Context, op string, fn func(r Repositories) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	return Classify(ctx, op, fn(bind(s.db.WithContext(ctx))))
}

// Snapshot runs fn inside one read transaction, so every statement fn issues sees
// the same committed state. Unlike Transaction it starts DEFERRED and never takes
// the write lock; under WAL concurrent writers proceed and stay invisible to fn.
func (s *Store) Snapshot(ctx context.Context, op string, fn func(r Repositories) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	sqlDB, err := s.db.DB()
	if err != nil {
		return Classify(ctx, op, err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return Classify(ctx, op, err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN DEFERRED"); err != nil {
		return Classify(ctx, op, err)
	}
	defer func() {
		// The connection goes back to the pool; it must not carry an open transaction.
		if _, err := conn.ExecContext(context.Background(), "ROLLBACK"); err != nil {
			_ = conn.Raw(func(interface{}) error { return driver.ErrBadConn })
		}
	}()

	tx := s.db.Session(&gorm.Session{Context: ctx, NewDB: true})
	tx.Statement.ConnPool = conn
	return Classify(ctx, op, fn(bind(tx)))
}

// Transaction runs fn inside one database transaction. Any error rolls back every
// write fn made.
func (s *Store) Transaction(ctx context.Context, op string, fn func(r Repositories) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(bind(tx))
	})
	return Classify(ctx, op, err)
}

// Query runs fn against the raw connection pool, for hand-built SQL such as reports.
func (s *Store) Query(ctx context.Context, op string, fn func(ctx context.Context, db *sql.DB) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	sqlDB, err := s.db.DB()
	if err != nil {
		return Classify(ctx, op, err)
	}
	return Classify(ctx, op, fn(ctx, sqlDB))
}

// IsNotFound reports whether err is gorm's missing-row error.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// Classify maps driver and context errors onto errs kinds. Errors that already
// carry a kind pass through untouched.
func Classify(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	var typed *errs.Error
	if errors.As(err, &typed) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Unavailable(op, err)
	}
	if ctx != nil && ctx.Err() != nil {
		return errs.Unavailable(op, fmt.Errorf("%w: %w", ctx.Err(), err))
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &errs.Error{Op: op, Kind: errs.KindNotFound, Err: err}
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrInterrupt:
			return errs.Unavailable(op, err)
		case sqlite3.ErrConstraint:
			if sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
				sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
				field := uniqueField(sqliteErr.Error())
				return &errs.Error{Op: op, Kind: errs.KindConflict, Field: field, Msg: "already exists", Err: err}
			}
		}
	}

	return fmt.Errorf("%s: %w", op, err)
}

// uniqueField maps a "UNIQUE constraint failed: table.col" message to the logical
// field name callers see.
func uniqueField(msg string) string {
	switch {
	case strings.Contains(msg, "email_norm"):
		return "email"
	case strings.Contains(msg, "first_name_norm"), strings.Contains(msg, "last_name_norm"):
		return "name"
	case strings.Contains(msg, "owner_id"):
		return "owner_id"
	case strings.Contains(msg, ".id"):
		return "id"
	default:
		return ""
	}
}

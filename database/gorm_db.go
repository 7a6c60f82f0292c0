package database

import (
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Options tunes the SQLite connection opened by InitGormDB.
type Options struct {
	BusyTimeout time.Duration
	// MaxWait caps BusyTimeout. SQLite's busy handler does not observe context
	// cancellation, so callers pass their per-call store timeout here.
	MaxWait      time.Duration
	MaxOpenConns int
	Logger       logger.Interface
}

func (o Options) busyTimeout() time.Duration {
	busy := o.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	if o.MaxWait > 0 && busy > o.MaxWait {
		busy = o.MaxWait
	}
	return busy
}

// DSN builds the go-sqlite3 data source name for path.
// Transactions start with BEGIN IMMEDIATE so concurrent writers serialize on the
// write lock instead of failing on lock upgrade mid-transaction.
func DSN(path string, busyTimeout time.Duration) string {
	q := url.Values{}
	q.Set("_txlock", "immediate")
	q.Set("_busy_timeout", fmt.Sprint(busyTimeout.Milliseconds()))
	q.Set("_journal_mode", "WAL")
	q.Set("_foreign_keys", "on")
	return "file:" + path + "?" + q.Encode()
}

// InitGormDB initializes and returns a GORM database instance
func InitGormDB(path string, opts Options) (*gorm.DB, error) {
	opts.BusyTimeout = opts.busyTimeout()
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 16
	}
	if opts.Logger == nil {
		opts.Logger = logger.Default.LogMode(logger.Silent)
	}

	db, err := gorm.Open(sqlite.Open(DSN(path, opts.BusyTimeout)), &gorm.Config{
		Logger: opts.Logger,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database using GORM: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB from GORM: %w", err)
	}

	sqlDB.SetMaxIdleConns(opts.MaxOpenConns)
	sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

// NewGormLogger routes GORM's slow-query and error output through zerolog.
func NewGormLogger(log zerolog.Logger, level logger.LogLevel) logger.Interface {
	return logger.New(gormWriter{log: log}, logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

type gormWriter struct {
	log zerolog.Logger
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	w.log.Info().Msgf(format, args...)
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

package database

import (
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// SQLiteConfig configures the embedded store used for local runs and tests.
type SQLiteConfig struct {
	// Path is a file path or ":memory:". An in-memory database lives as long
	// as the single pooled connection does.
	Path          string
	SlowThreshold time.Duration
}

// DSN returns the go-sqlite3 connection string with foreign keys enforced.
func (c SQLiteConfig) DSN() string {
	if c.Path == ":memory:" || c.Path == "" {
		return "file::memory:?_foreign_keys=on&_busy_timeout=5000"
	}
	return fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL", c.Path)
}

// NewSQLite opens a gorm handle on SQLite. Writes are serialized through a
// single connection, which is what gives SQLite transactions their
// owner-level exclusivity.
func NewSQLite(cfg SQLiteConfig, logger *slog.Logger) (*gorm.DB, error) {
	gl := gormlogger.Discard
	if logger != nil {
		gl = gormlogger.New(
			slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
			gormlogger.Config{
				SlowThreshold:             cfg.SlowThreshold,
				LogLevel:                  gormlogger.Warn,
				IgnoreRecordNotFoundError: true,
			},
		)
	}

	db, err := gorm.Open(sqlite.Open(cfg.DSN()), &gorm.Config{
		Logger:                 gl,
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	return db, nil
}

package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aloauto/marketplace/pkg/database"
	"github.com/aloauto/marketplace/services/accounts/internal/config"
	"github.com/aloauto/marketplace/services/accounts/internal/repository"
	"github.com/aloauto/marketplace/services/accounts/internal/repository/postgres"
	"github.com/aloauto/marketplace/services/accounts/internal/repository/sqlite"
	"github.com/aloauto/marketplace/services/accounts/migrations"
)

// Storage bundles the repositories of the configured driver.
type Storage struct {
	Driver    string
	Users     repository.UserRepository
	Tokens    repository.RefreshTokenRepository
	Addresses repository.AddressStore

	ping  func(ctx context.Context) error
	close func()
}

// Ping reports whether the database is reachable.
func (s *Storage) Ping(ctx context.Context) error { return s.ping(ctx) }

// Close releases the underlying connections.
func (s *Storage) Close() { s.close() }

// OpenStorage connects to the configured database and brings its schema up
// to date.
func OpenStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Storage, error) {
	database.SetSlowQueryLogging(cfg.SlowQueryThreshold(), logger)

	switch cfg.StorageDriver {
	case config.DriverSQLite:
		return openSQLite(cfg, logger)
	default:
		return openPostgres(ctx, cfg, logger)
	}
}

func openPostgres(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Storage, error) {
	pgCfg := cfg.Postgres()
	pool, err := database.NewPostgresPool(ctx, &pgCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", pgCfg.Host),
		slog.Int("port", pgCfg.Port),
		slog.String("database", pgCfg.DBName),
	)

	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool, serviceName); err != nil {
		logger.Warn("pool metrics not registered", slog.String("error", err.Error()))
	}

	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	return &Storage{
		Driver:    config.DriverPostgres,
		Users:     postgres.NewUserRepository(pool),
		Tokens:    postgres.NewRefreshTokenRepository(pool),
		Addresses: postgres.NewAddressRepository(pool),
		ping:      pool.Ping,
		close:     pool.Close,
	}, nil
}

func openSQLite(cfg *config.Config, logger *slog.Logger) (*Storage, error) {
	db, err := sqlite.Open(cfg.SQLite(), logger)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	logger.Info("opened SQLite database", slog.String("path", cfg.SQLitePath))

	return &Storage{
		Driver:    config.DriverSQLite,
		Users:     sqlite.NewUserStore(db),
		Tokens:    sqlite.NewRefreshTokenStore(db),
		Addresses: sqlite.NewAddressStore(db),
		ping:      sqlDB.PingContext,
		close: func() {
			if err := sqlDB.Close(); err != nil {
				logger.Error("sqlite close error", slog.String("error", err.Error()))
			}
		},
	}, nil
}

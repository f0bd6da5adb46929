package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aloauto/marketplace/pkg/database"
	"github.com/aloauto/marketplace/pkg/health"
	pkgkafka "github.com/aloauto/marketplace/pkg/kafka"
	"github.com/aloauto/marketplace/pkg/tracing"
	"github.com/aloauto/marketplace/services/accounts/internal/auth"
	"github.com/aloauto/marketplace/services/accounts/internal/config"
	"github.com/aloauto/marketplace/services/accounts/internal/event"
	handler "github.com/aloauto/marketplace/services/accounts/internal/handler/http"
	"github.com/aloauto/marketplace/services/accounts/internal/idempotency"
	"github.com/aloauto/marketplace/services/accounts/internal/service"
)

const (
	serviceName    = "accounts"
	serviceVersion = "0.1.0"
)

// App wires together all dependencies and runs the accounts service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	storage        *Storage
	producer       *pkgkafka.Producer
	redis          *redis.Client
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// Services are the domain services shared by the HTTP server and the seed
// command.
type Services struct {
	Accounts  *service.AccountService
	Addresses *service.AddressService
	JWT       *auth.JWTManager
}

// NewServices builds the domain services on top of storage and publisher.
func NewServices(cfg *config.Config, storage *Storage, publisher pkgkafka.Publisher, logger *slog.Logger) *Services {
	jwtManager := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTAccessExpiry, cfg.JWTRefreshExpiry)
	events := event.NewProducer(publisher, logger)
	return &Services{
		Accounts:  service.NewAccountService(storage.Users, storage.Tokens, jwtManager, events, logger),
		Addresses: service.NewAddressService(storage.Addresses, events, logger),
		JWT:       jwtManager,
	}
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, cfg.Tracing(serviceName, serviceVersion))
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	storage, err := OpenStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical(storage.Driver, storage.Ping)

	// Kafka publishing runs behind a circuit breaker so a dead broker
	// fails fast instead of stalling every write.
	var (
		producer  *pkgkafka.Producer
		publisher pkgkafka.Publisher = pkgkafka.NopPublisher{}
	)
	if cfg.KafkaEnabled {
		producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		publisher = pkgkafka.NewBreakerPublisher(producer, pkgkafka.DefaultBreakerConfig("accounts-kafka"), logger)
		healthHandler.RegisterNonCritical("kafka", producer.Ping)
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	} else {
		logger.Warn("kafka disabled, domain events are dropped")
	}

	var (
		redisClient *redis.Client
		idemStore   idempotency.Store
	)
	if cfg.RedisEnabled {
		redisClient, err = database.NewRedisClient(ctx, cfg.Redis())
		if err != nil {
			logger.Warn("redis unavailable, Idempotency-Key headers will be ignored",
				slog.String("error", err.Error()),
			)
		} else {
			store := idempotency.NewRedisStore(redisClient, cfg.IdempotencyTTL)
			idemStore = store
			healthHandler.RegisterNonCritical("redis", store.Ping)
			logger.Info("connected to Redis", slog.String("addr", cfg.Redis().Addr()))
		}
	}

	services := NewServices(cfg, storage, publisher, logger)

	router := handler.NewRouter(handler.RouterConfig{
		ServiceName:   serviceName,
		Accounts:      services.Accounts,
		Addresses:     services.Addresses,
		Tokens:        services.JWT.Validator(),
		Health:        healthHandler,
		Idempotency:   idemStore,
		CORS:          cfg.CORS(),
		AuthRateLimit: cfg.AuthRateLimit(),
		Logger:        logger,
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		storage:        storage,
		producer:       producer,
		redis:          redisClient,
		httpServer:     httpServer,
		tracerShutdown: tracerShutdown,
	}, nil
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
			slog.String("storage", a.storage.Driver),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return errors.Join(err, a.Shutdown())
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in order: HTTP server first so
// in-flight requests drain, then the tracer, the event producer, Redis and
// finally the database.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	a.storage.Close()

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

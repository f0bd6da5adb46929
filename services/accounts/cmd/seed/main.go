// Command seed populates the accounts database with admins, vendors and
// buyers, each with a few addresses. It goes through the domain services,
// so passwords are hashed and default addresses stay unique per user.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	pkgkafka "github.com/aloauto/marketplace/pkg/kafka"
	"github.com/aloauto/marketplace/pkg/logger"
	"github.com/aloauto/marketplace/services/accounts/internal/app"
	"github.com/aloauto/marketplace/services/accounts/internal/config"
)

func main() {
	vendors := flag.Int("vendors", 5, "number of vendor accounts to create")
	buyers := flag.Int("buyers", 20, "number of buyer accounts to create")
	password := flag.String("password", "Passw0rd!", "password for every seeded account")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log := logger.New("accounts-seed", cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	storage, err := app.OpenStorage(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open storage", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer storage.Close()

	// Seeded accounts are not announced on the event bus.
	services := app.NewServices(cfg, storage, pkgkafka.NopPublisher{}, log)

	s := &seeder{
		accounts:  services.Accounts,
		addresses: services.Addresses,
		users:     storage.Users,
		password:  *password,
		faker:     gofakeit.New(0),
		logger:    log,
	}

	stats, err := s.run(ctx, *vendors, *buyers)
	if err != nil {
		log.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log.Info("seed complete",
		slog.Int("users_created", stats.users),
		slog.Int("users_skipped", stats.skipped),
		slog.Int("addresses_created", stats.addresses),
	)
}

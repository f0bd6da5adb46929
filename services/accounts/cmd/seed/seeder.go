package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/brianvoe/gofakeit/v7"

	apperrors "github.com/aloauto/marketplace/pkg/errors"
	"github.com/aloauto/marketplace/services/accounts/internal/domain"
	"github.com/aloauto/marketplace/services/accounts/internal/repository"
	"github.com/aloauto/marketplace/services/accounts/internal/service"
)

const adminCount = 3

type seedStats struct {
	users, skipped, addresses int
}

type seeder struct {
	accounts  *service.AccountService
	addresses *service.AddressService
	users     repository.UserRepository
	password  string
	faker     *gofakeit.Faker
	logger    *slog.Logger
}

func (s *seeder) run(ctx context.Context, vendors, buyers int) (seedStats, error) {
	var stats seedStats

	plan := []struct {
		role   string
		prefix string
		count  int
	}{
		{domain.RoleAdmin, "admin", adminCount},
		{domain.RoleVendor, "vendor", vendors},
		{domain.RoleBuyer, "buyer", buyers},
	}

	for _, p := range plan {
		for i := 1; i <= p.count; i++ {
			username := fmt.Sprintf("%s%d", p.prefix, i)
			created, err := s.seedUser(ctx, username, p.role)
			if err != nil {
				return stats, fmt.Errorf("seed %s: %w", username, err)
			}
			if created < 0 {
				stats.skipped++
				continue
			}
			stats.users++
			stats.addresses += created
		}
	}
	return stats, nil
}

// seedUser creates one account with 1-3 addresses and returns the number of
// addresses created, or -1 if the username already exists.
func (s *seeder) seedUser(ctx context.Context, username, role string) (int, error) {
	if _, err := s.users.GetByUsername(ctx, username); err == nil {
		s.logger.Info("user exists, skipping", slog.String("username", username))
		return -1, nil
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		return 0, err
	}

	user, err := s.accounts.Provision(ctx, service.RegisterInput{
		Username:  username,
		Email:     username + "@example.com",
		Password:  s.password,
		FirstName: s.faker.FirstName(),
		LastName:  s.faker.LastName(),
		Role:      role,
	})
	if err != nil {
		return 0, err
	}

	actor := domain.Actor{UserID: user.ID, Role: user.Role}
	n := s.faker.Number(1, 3)
	billing := s.faker.Number(0, n-1)

	for i := 0; i < n; i++ {
		addr := s.faker.Address()
		_, err := s.addresses.CreateAddress(ctx, actor, user.ID, service.AddressInput{
			Street:            addr.Street,
			City:              addr.City,
			State:             addr.State,
			PostalCode:        addr.Zip,
			Country:           s.faker.CountryAbr(),
			IsDefaultShipping: i == 0,
			IsDefaultBilling:  i == billing,
		})
		if err != nil {
			return 0, fmt.Errorf("create address: %w", err)
		}
	}
	return n, nil
}

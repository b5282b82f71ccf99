package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/nicedentist/auth-service/internal/core/domain"
	"github.com/nicedentist/auth-service/internal/core/ports"
)

// AdminSeed describes the bootstrap administrator account.
type AdminSeed struct {
	Username string
	Email    string
	Password string
}

// SeedAdmin makes sure the bootstrap administrator exists, is active and has
// the Admin role. An existing account keeps its password.
func SeedAdmin(ctx context.Context, repo ports.UserRepository, hasher ports.PasswordHasher, seed AdminSeed, log zerolog.Logger) error {
	existing, err := repo.GetByUsername(ctx, seed.Username)
	switch {
	case err == nil:
		if existing.IsActive && existing.Role == domain.RoleAdmin {
			log.Debug().Str("username", seed.Username).Msg("admin user already present")
			return nil
		}
		existing.IsActive = true
		existing.Role = domain.RoleAdmin
		if err := repo.Update(ctx, existing); err != nil {
			return fmt.Errorf("seed admin: update: %w", err)
		}
		log.Info().Str("username", seed.Username).Msg("admin user restored")
		return nil
	case !errors.Is(err, domain.ErrUserNotFound):
		return fmt.Errorf("seed admin: lookup: %w", err)
	}

	hash, err := hasher.Hash(seed.Password)
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	id, err := repo.Create(ctx, &domain.User{
		Username:     seed.Username,
		Email:        seed.Email,
		PasswordHash: hash,
		Role:         domain.RoleAdmin,
		CreatedAt:    time.Now().UTC(),
		IsActive:     true,
	})
	if errors.Is(err, domain.ErrDuplicateUser) {
		// Another replica seeded first.
		return nil
	}
	if err != nil {
		return fmt.Errorf("seed admin: create: %w", err)
	}

	log.Info().Int64("user_id", id).Str("username", seed.Username).Msg("admin user created")
	return nil
}

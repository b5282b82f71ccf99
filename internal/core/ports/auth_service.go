package ports

import (
	"context"

	"github.com/nicedentist/auth-service/internal/core/domain"
)

// AuthService owns the account lifecycle. Failures are *domain.Error values
// whose Message is safe to show to the caller.
type AuthService interface {
	Register(ctx context.Context, username, email, password, role string) (string, error)
	Login(ctx context.Context, username, password string) (string, error)
	IssueToken(user *domain.User) (string, error)
}

// PasswordHasher hashes and verifies account passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(hash, password string) bool
}

// TokenSigner mints bearer tokens for authenticated users.
type TokenSigner interface {
	Sign(user *domain.User) (string, error)
}

package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nicedentist/auth-service/internal/core/domain"
	"github.com/nicedentist/auth-service/internal/core/ports"
	"github.com/nicedentist/auth-service/internal/pkg/metrics"
)

// Caller-facing messages. Clients match on these strings.
const (
	MsgRegisterRequired   = "Username, email and password are required."
	MsgUsernameExists     = "Username already exists."
	MsgEmailExists        = "Email already exists."
	MsgCreateFailed       = "Failed to create user."
	MsgUserCreated        = "User created."
	MsgLoginRequired      = "Username and password are required."
	MsgInvalidCredentials = "Invalid credentials."
	msgLookupFailed       = "Failed to load user."
)

// AuthService implements registration, login and token issuance.
type AuthService struct {
	repo   ports.UserRepository
	hasher ports.PasswordHasher
	signer ports.TokenSigner
	now    func() time.Time
	log    zerolog.Logger
}

func NewAuthService(repo ports.UserRepository, hasher ports.PasswordHasher, signer ports.TokenSigner, log zerolog.Logger) *AuthService {
	return &AuthService{
		repo:   repo,
		hasher: hasher,
		signer: signer,
		now:    time.Now,
		log:    log.With().Str("component", "auth_service").Logger(),
	}
}

// Register creates an active account. An empty role defaults to Admin.
// On success the returned message is MsgUserCreated.
func (s *AuthService) Register(ctx context.Context, username, email, password, role string) (string, error) {
	if isBlank(username) || isBlank(email) || isBlank(password) {
		metrics.AuthAttemptsTotal.WithLabelValues("register", "invalid").Inc()
		return "", domain.ValidationError(MsgRegisterRequired)
	}
	if role == "" {
		role = domain.RoleAdmin
	}

	// Username is checked before email.
	if err := s.ensureAvailable(ctx, username, email); err != nil {
		metrics.AuthAttemptsTotal.WithLabelValues("register", string(domain.KindOf(err))).Inc()
		return "", err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return "", domain.PersistenceError(MsgCreateFailed, err)
	}

	user := &domain.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    s.now().UTC(),
		IsActive:     true,
	}

	id, err := s.repo.Create(ctx, user)
	switch {
	case errors.Is(err, domain.ErrDuplicateUser):
		// Lost a race with a concurrent registration; report which field collided.
		if conflict := s.ensureAvailable(ctx, username, email); conflict != nil {
			metrics.AuthAttemptsTotal.WithLabelValues("register", string(domain.KindConflict)).Inc()
			return "", conflict
		}
		return "", domain.PersistenceError(MsgCreateFailed, err)
	case err != nil:
		s.log.Error().Err(err).Str("username", username).Msg("create user failed")
		metrics.AuthAttemptsTotal.WithLabelValues("register", "error").Inc()
		return "", domain.PersistenceError(MsgCreateFailed, err)
	case id <= 0:
		metrics.AuthAttemptsTotal.WithLabelValues("register", "error").Inc()
		return "", domain.PersistenceError(MsgCreateFailed, nil)
	}

	s.log.Info().Int64("user_id", id).Str("username", username).Str("role", role).Msg("user registered")
	metrics.AuthAttemptsTotal.WithLabelValues("register", "ok").Inc()
	return MsgUserCreated, nil
}

// Login verifies credentials and returns a signed token. Unknown users,
// inactive users and wrong passwords all yield the same AuthError.
func (s *AuthService) Login(ctx context.Context, username, password string) (string, error) {
	if isBlank(username) || isBlank(password) {
		metrics.AuthAttemptsTotal.WithLabelValues("login", "invalid").Inc()
		return "", domain.ValidationError(MsgLoginRequired)
	}

	user, err := s.repo.GetByUsername(ctx, username)
	if err != nil && !errors.Is(err, domain.ErrUserNotFound) {
		metrics.AuthAttemptsTotal.WithLabelValues("login", "error").Inc()
		return "", domain.PersistenceError(msgLookupFailed, err)
	}

	if err != nil || !user.CanAuthenticate() || !s.hasher.Verify(user.PasswordHash, password) {
		metrics.AuthAttemptsTotal.WithLabelValues("login", "rejected").Inc()
		return "", domain.AuthError(MsgInvalidCredentials)
	}

	token, err := s.IssueToken(user)
	if err != nil {
		metrics.AuthAttemptsTotal.WithLabelValues("login", "error").Inc()
		return "", err
	}

	metrics.AuthAttemptsTotal.WithLabelValues("login", "ok").Inc()
	return token, nil
}

// IssueToken signs a token for user without touching the store.
func (s *AuthService) IssueToken(user *domain.User) (string, error) {
	return s.signer.Sign(user)
}

func (s *AuthService) ensureAvailable(ctx context.Context, username, email string) error {
	if _, err := s.repo.GetByUsername(ctx, username); err == nil {
		return domain.ConflictError(MsgUsernameExists)
	} else if !errors.Is(err, domain.ErrUserNotFound) {
		return domain.PersistenceError(msgLookupFailed, err)
	}

	if _, err := s.repo.GetByEmail(ctx, email); err == nil {
		return domain.ConflictError(MsgEmailExists)
	} else if !errors.Is(err, domain.ErrUserNotFound) {
		return domain.PersistenceError(msgLookupFailed, err)
	}

	return nil
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

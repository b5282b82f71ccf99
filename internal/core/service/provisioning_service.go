package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nicedentist/auth-service/internal/core/domain"
	"github.com/nicedentist/auth-service/internal/core/ports"
	"github.com/nicedentist/auth-service/internal/pkg/metrics"
)

const (
	DefaultCorrelationQueue = "manager.user.created"
	defaultNotifyTimeout    = 10 * time.Second
)

// PasswordGenerator produces temporary passwords for provisioned accounts.
type PasswordGenerator interface {
	Generate() (string, error)
}

// ProvisioningDeps groups the collaborators of ProvisioningService. Notifier
// and Audit are optional.
type ProvisioningDeps struct {
	Users     ports.UserRepository
	Hasher    ports.PasswordHasher
	Passwords PasswordGenerator
	Publisher ports.EventPublisher
	Notifier  ports.WelcomeNotifier
	Audit     ports.ProvisioningLog
}

// ProvisioningConfig holds the tunables of ProvisioningService.
type ProvisioningConfig struct {
	CorrelationQueue string
	Source           string
	NotifyTimeout    time.Duration
}

// ProvisioningService turns CustomerCreated and DentistCreated events into
// login accounts and answers each with a UserCreated correlation event.
// Handling the same event more than once never creates a second account.
type ProvisioningService struct {
	deps    ProvisioningDeps
	cfg     ProvisioningConfig
	now     func() time.Time
	log     zerolog.Logger
	pending sync.WaitGroup
}

func NewProvisioningService(deps ProvisioningDeps, cfg ProvisioningConfig, log zerolog.Logger) *ProvisioningService {
	if cfg.CorrelationQueue == "" {
		cfg.CorrelationQueue = DefaultCorrelationQueue
	}
	if cfg.Source == "" {
		cfg.Source = domain.DefaultEventSource
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = defaultNotifyTimeout
	}
	return &ProvisioningService{
		deps: deps,
		cfg:  cfg,
		now:  time.Now,
		log:  log.With().Str("component", "provisioning").Logger(),
	}
}

// provisionRequest is the part of an inbound event provisioning cares about.
type provisionRequest struct {
	meta      domain.Metadata
	eventType domain.EventType
	role      string
	entityID  int64
	name      string
	email     string
	welcome   bool
}

type provisionResult struct {
	userID       int64
	created      bool
	tempPassword string
}

func (s *ProvisioningService) HandleCustomerCreated(ctx context.Context, evt *domain.CustomerCreated) error {
	data := evt.Data()
	_, err := s.provision(ctx, provisionRequest{
		meta:      evt.Metadata(),
		eventType: evt.Type(),
		role:      domain.RoleCustomer,
		entityID:  data.CustomerID,
		name:      data.Name,
		email:     data.Email,
		welcome:   true,
	})
	return err
}

func (s *ProvisioningService) HandleDentistCreated(ctx context.Context, evt *domain.DentistCreated) error {
	data := evt.Data()
	_, err := s.provision(ctx, provisionRequest{
		meta:      evt.Metadata(),
		eventType: evt.Type(),
		role:      domain.RoleDentist,
		entityID:  data.DentistID,
		name:      data.Name,
		email:     data.Email,
	})
	return err
}

// Wait blocks until background welcome notifications have finished.
func (s *ProvisioningService) Wait() {
	s.pending.Wait()
}

func (s *ProvisioningService) provision(ctx context.Context, req provisionRequest) (provisionResult, error) {
	start := time.Now()
	log := s.log.With().
		Str("event_id", req.meta.ID.String()).
		Str("event_type", string(req.eventType)).
		Str("email", req.email).
		Logger()

	if strings.TrimSpace(req.email) == "" {
		return provisionResult{}, domain.ValidationError("event email is required")
	}

	// 1. Reuse an existing account for this email.
	res, outcome, err := s.resolveAccount(ctx, req)
	if err != nil {
		metrics.ProvisioningErrorsTotal.WithLabelValues(req.role, "store").Inc()
		return provisionResult{}, fmt.Errorf("provision %s: %w", req.eventType, err)
	}

	// The temporary password exists only now; a redelivery after a failed
	// publish finds the account and has nothing to send.
	if res.created && req.welcome {
		s.notifyAsync(ports.WelcomeMessage{
			Name:         req.name,
			Email:        req.email,
			TempPassword: res.tempPassword,
		})
	}

	// 2. Tell the origin service which account now belongs to its entity.
	correlation := domain.NewUserCreated(domain.UserCreatedData{
		UserID:     res.userID,
		Email:      req.email,
		Role:       req.role,
		EntityType: req.role,
		EntityID:   req.entityID,
	}, domain.WithSource(s.cfg.Source))

	if err := s.deps.Publisher.PublishToQueue(ctx, correlation, s.cfg.CorrelationQueue); err != nil {
		metrics.ProvisioningErrorsTotal.WithLabelValues(req.role, "publish").Inc()
		return provisionResult{}, fmt.Errorf("provision %s: %w", req.eventType, err)
	}

	// 3. Audit trail (non-fatal on failure).
	if s.deps.Audit != nil {
		rec := domain.ProvisioningRecord{
			EventID:     req.meta.ID.String(),
			EventType:   req.eventType,
			Email:       req.email,
			UserID:      res.userID,
			Created:     res.created,
			ProcessedAt: s.now().UTC(),
		}
		if err := s.deps.Audit.Record(ctx, rec); err != nil {
			log.Warn().Err(err).Msg("failed to record provisioning audit entry")
		}
	}

	metrics.UsersProvisionedTotal.WithLabelValues(req.role, outcome).Inc()
	metrics.ProvisioningDuration.WithLabelValues(req.role).Observe(time.Since(start).Seconds())

	log.Info().
		Int64("user_id", res.userID).
		Str("outcome", outcome).
		Str("correlation_id", correlation.Metadata().ID.String()).
		Msg("account provisioned")

	return res, nil
}

// resolveAccount finds or creates the account for req.email. The outcome is
// one of "existing", "created" or "reconciled"; the last means a concurrent
// handler created the account between our lookup and our insert.
func (s *ProvisioningService) resolveAccount(ctx context.Context, req provisionRequest) (provisionResult, string, error) {
	existing, err := s.deps.Users.GetByEmail(ctx, req.email)
	switch {
	case err == nil:
		return provisionResult{userID: existing.ID}, "existing", nil
	case !errors.Is(err, domain.ErrUserNotFound):
		return provisionResult{}, "", domain.PersistenceError("look up user by email", err)
	}

	password, err := s.deps.Passwords.Generate()
	if err != nil {
		return provisionResult{}, "", err
	}
	hash, err := s.deps.Hasher.Hash(password)
	if err != nil {
		return provisionResult{}, "", err
	}

	user := &domain.User{
		Username:     req.email,
		Email:        req.email,
		PasswordHash: hash,
		Role:         req.role,
		CreatedAt:    s.now().UTC(),
		IsActive:     true,
	}

	id, err := s.deps.Users.Create(ctx, user)
	switch {
	case errors.Is(err, domain.ErrDuplicateUser):
		winnerID, reconcileErr := s.reconcileDuplicate(ctx, req.email)
		if reconcileErr != nil {
			return provisionResult{}, "", reconcileErr
		}
		return provisionResult{userID: winnerID}, "reconciled", nil
	case err != nil:
		return provisionResult{}, "", domain.PersistenceError("create user", err)
	case id <= 0:
		return provisionResult{}, "", domain.PersistenceError("create user", errors.New("store assigned no id"))
	}

	return provisionResult{userID: id, created: true, tempPassword: password}, "created", nil
}

// reconcileDuplicate resolves a rejected insert. The account that holds email
// wins. When only the username matches, it belongs to someone else and no
// retry can succeed, so a conflict is returned.
func (s *ProvisioningService) reconcileDuplicate(ctx context.Context, email string) (int64, error) {
	winner, err := s.deps.Users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		return winner.ID, nil
	case !errors.Is(err, domain.ErrUserNotFound):
		return 0, domain.PersistenceError("reconcile duplicate user", err)
	}

	holder, err := s.deps.Users.GetByUsername(ctx, email)
	switch {
	case err == nil && strings.EqualFold(holder.Email, email):
		return holder.ID, nil
	case err == nil:
		return 0, domain.ConflictError(fmt.Sprintf("username %s is held by an account with another email", email))
	case errors.Is(err, domain.ErrUserNotFound):
		// The conflicting account vanished; the next delivery can insert.
		return 0, domain.PersistenceError("reconcile duplicate user", domain.ErrDuplicateUser)
	default:
		return 0, domain.PersistenceError("reconcile duplicate user", err)
	}
}

// notifyAsync sends the welcome message on its own goroutine and context.
// Failures are logged and dropped.
func (s *ProvisioningService) notifyAsync(msg ports.WelcomeMessage) {
	if s.deps.Notifier == nil {
		return
	}

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.NotifyTimeout)
		defer cancel()

		if err := s.deps.Notifier.SendWelcome(ctx, msg); err != nil {
			metrics.WelcomeNotificationsTotal.WithLabelValues("failed").Inc()
			s.log.Warn().Err(err).Str("email", msg.Email).Msg("welcome notification failed")
			return
		}
		metrics.WelcomeNotificationsTotal.WithLabelValues("sent").Inc()
	}()
}

package ports

import (
	"context"

	"github.com/nicedentist/auth-service/internal/core/domain"
)

// UserRepository is the account store. Lookups return domain.ErrUserNotFound
// when nothing matches; Create returns domain.ErrDuplicateUser when a username
// or email is already taken.
type UserRepository interface {
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	Create(ctx context.Context, user *domain.User) (int64, error)
	Update(ctx context.Context, user *domain.User) error
}

// ProvisioningLog keeps an audit trail of processed provisioning events.
type ProvisioningLog interface {
	Record(ctx context.Context, rec domain.ProvisioningRecord) error
}

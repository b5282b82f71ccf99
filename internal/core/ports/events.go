package ports

import (
	"context"

	"github.com/nicedentist/auth-service/internal/core/domain"
)

// EventPublisher delivers envelopes to the broker. Failures are reported as
// domain delivery errors.
type EventPublisher interface {
	Publish(ctx context.Context, evt domain.Event) error
	PublishToQueue(ctx context.Context, evt domain.Event, queue string) error
}

// CustomerCreatedHandler provisions accounts for newly created customers.
type CustomerCreatedHandler interface {
	HandleCustomerCreated(ctx context.Context, evt *domain.CustomerCreated) error
}

// DentistCreatedHandler provisions accounts for newly created dentists.
type DentistCreatedHandler interface {
	HandleDentistCreated(ctx context.Context, evt *domain.DentistCreated) error
}

// WelcomeMessage is what a new customer needs to log in for the first time.
type WelcomeMessage struct {
	Name         string
	Email        string
	TempPassword string
}

// WelcomeNotifier tells a newly provisioned user about their account.
type WelcomeNotifier interface {
	SendWelcome(ctx context.Context, msg WelcomeMessage) error
}

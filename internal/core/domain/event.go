package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType is the discriminator carried by every envelope. The constants hold
// the canonical wire spelling; ParseEventType accepts any casing.
type EventType string

const (
	EventCustomerCreated EventType = "CustomerCreated"
	EventDentistCreated  EventType = "DentistCreated"
	EventUserCreated     EventType = "UserCreated"
)

const (
	DefaultEventSource = "NiceDentist.Auth.Api"
	EventSchemaVersion = "1.0"
)

var knownEventTypes = map[string]EventType{
	"customercreated": EventCustomerCreated,
	"dentistcreated":  EventDentistCreated,
	"usercreated":     EventUserCreated,
}

// ParseEventType maps a type tag to its canonical EventType, ignoring case and
// surrounding whitespace. ok is false for tags outside the known set.
func ParseEventType(tag string) (EventType, bool) {
	t, ok := knownEventTypes[strings.ToLower(strings.TrimSpace(tag))]
	return t, ok
}

// Metadata is the part of the envelope shared by every event. It is fixed at
// construction.
type Metadata struct {
	ID         uuid.UUID
	OccurredAt time.Time
	Source     string
	Version    string
}

// EventOption overrides a metadata field at construction time. Decoders use it
// to rebuild an envelope exactly as it was produced.
type EventOption func(*Metadata)

func WithEventID(id uuid.UUID) EventOption {
	return func(m *Metadata) { m.ID = id }
}

func WithOccurredAt(t time.Time) EventOption {
	return func(m *Metadata) { m.OccurredAt = t }
}

func WithSource(source string) EventOption {
	return func(m *Metadata) {
		if source != "" {
			m.Source = source
		}
	}
}

func WithVersion(version string) EventOption {
	return func(m *Metadata) {
		if version != "" {
			m.Version = version
		}
	}
}

func newMetadata(opts []EventOption) Metadata {
	m := Metadata{
		ID:         uuid.New(),
		OccurredAt: time.Now(),
		Source:     DefaultEventSource,
		Version:    EventSchemaVersion,
	}
	for _, opt := range opts {
		opt(&m)
	}
	m.OccurredAt = m.OccurredAt.UTC()
	return m
}

// Event is the closed set of envelopes exchanged with other services:
// *CustomerCreated, *DentistCreated and *UserCreated.
type Event interface {
	Type() EventType
	Metadata() Metadata
	sealed()
}

// CustomerCreatedData is published by the manager service when a customer is
// registered there.
type CustomerCreatedData struct {
	CustomerID int64  `json:"customerId" validate:"gt=0"`
	Name       string `json:"name"`
	Email      string `json:"email" validate:"required"`
	Phone      string `json:"phone"`
}

// DentistCreatedData is published by the manager service when a dentist is
// registered there. Specialization may be empty.
type DentistCreatedData struct {
	DentistID      int64  `json:"dentistId" validate:"gt=0"`
	Name           string `json:"name"`
	Email          string `json:"email" validate:"required"`
	Phone          string `json:"phone"`
	LicenseNumber  string `json:"licenseNumber"`
	Specialization string `json:"specialization,omitempty"`
}

// UserCreatedData links an account back to the entity that caused it.
type UserCreatedData struct {
	UserID     int64  `json:"userId" validate:"gt=0"`
	Email      string `json:"email" validate:"required"`
	Role       string `json:"role"`
	EntityType string `json:"entityType"`
	EntityID   int64  `json:"entityId"`
}

type CustomerCreated struct {
	meta Metadata
	data CustomerCreatedData
}

func NewCustomerCreated(data CustomerCreatedData, opts ...EventOption) *CustomerCreated {
	return &CustomerCreated{meta: newMetadata(opts), data: data}
}

func (e *CustomerCreated) Type() EventType           { return EventCustomerCreated }
func (e *CustomerCreated) Metadata() Metadata        { return e.meta }
func (e *CustomerCreated) Data() CustomerCreatedData { return e.data }
func (e *CustomerCreated) sealed()                   {}

type DentistCreated struct {
	meta Metadata
	data DentistCreatedData
}

func NewDentistCreated(data DentistCreatedData, opts ...EventOption) *DentistCreated {
	return &DentistCreated{meta: newMetadata(opts), data: data}
}

func (e *DentistCreated) Type() EventType          { return EventDentistCreated }
func (e *DentistCreated) Metadata() Metadata       { return e.meta }
func (e *DentistCreated) Data() DentistCreatedData { return e.data }
func (e *DentistCreated) sealed()                  {}

type UserCreated struct {
	meta Metadata
	data UserCreatedData
}

func NewUserCreated(data UserCreatedData, opts ...EventOption) *UserCreated {
	return &UserCreated{meta: newMetadata(opts), data: data}
}

func (e *UserCreated) Type() EventType       { return EventUserCreated }
func (e *UserCreated) Metadata() Metadata    { return e.meta }
func (e *UserCreated) Data() UserCreatedData { return e.data }
func (e *UserCreated) sealed()               {}

// PartitionKey returns the key that groups events touching the same account.
// Events without an account email map to their own id.
func PartitionKey(e Event) string {
	switch evt := e.(type) {
	case *CustomerCreated:
		return strings.ToLower(strings.TrimSpace(evt.data.Email))
	case *DentistCreated:
		return strings.ToLower(strings.TrimSpace(evt.data.Email))
	case *UserCreated:
		return strings.ToLower(strings.TrimSpace(evt.data.Email))
	default:
		return e.Metadata().ID.String()
	}
}

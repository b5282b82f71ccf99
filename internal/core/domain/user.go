package domain

import "time"

const (
	RoleAdmin    = "Admin"
	RoleCustomer = "Customer"
	RoleDentist  = "Dentist"
)

// User models an account that can authenticate against the service.
// Username and Email are each unique across the store.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	IsActive     bool      `json:"isActive"`
}

// CanAuthenticate reports whether the account may log in.
func (u *User) CanAuthenticate() bool {
	return u != nil && u.IsActive
}

// ProvisioningRecord is the audit entry written after an inbound event has
// been turned into an account.
type ProvisioningRecord struct {
	EventID     string
	EventType   EventType
	Email       string
	UserID      int64
	Created     bool
	ProcessedAt time.Time
}

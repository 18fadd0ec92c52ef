package account

import (
	"time"

	"github.com/google/uuid"
)

// Identity is an authenticatable principal. Either PasswordHash or
// FederationSubject is set; federation-only identities carry no hash.
type Identity struct {
	ID                uuid.UUID
	Email             string
	PasswordHash      string
	FederationSubject string
	IsActive          bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Tenant is the isolation boundary for secrets and resource access.
// Exactly one identity owns exactly one tenant.
type Tenant struct {
	ID          uuid.UUID
	IdentityID  uuid.UUID
	DisplayName string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

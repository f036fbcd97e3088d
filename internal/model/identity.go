package model

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// IdentityStore defines persistence operations for identities.
type IdentityStore interface {
	GetByEmail(ctx context.Context, email string) (Identity, error)
	GetBySession(ctx context.Context, sessionID string) (Identity, error)
	Create(ctx context.Context, identity Identity) (Identity, error)
	RebindSession(ctx context.Context, aliasID uuid.UUID, sessionID string) (Identity, error)
	BindEmail(ctx context.Context, aliasID uuid.UUID, email, name string) (Identity, error)
	InTx(ctx context.Context, fn func(IdentityStore) error) error
}

// Identity represents a stored identity row. AliasID is assigned once at
// creation and never changes; SessionID is reassigned whenever a session
// migrates onto an existing identity.
type Identity struct {
	AliasID   uuid.UUID
	Email     string
	Name      string
	SessionID string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Record returns the caller-facing projection of the identity.
func (i Identity) Record() UserRecord {
	return UserRecord{
		SessionID: i.SessionID,
		Email:     i.Email,
		Name:      i.Name,
		AliasID:   i.AliasID,
	}
}

// UserRecord is the denormalized snapshot of an identity returned to
// callers and stored in the cache under the session key.
type UserRecord struct {
	SessionID string    `json:"session_id"`
	Email     string    `json:"email,omitempty"`
	Name      string    `json:"name,omitempty"`
	AliasID   uuid.UUID `json:"alias_id"`
}

// NormalizeEmail lower-cases and trims an email address. Applied before
// every comparison and store round-trip.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

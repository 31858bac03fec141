package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrMissingToken     = errors.New("access token required")
	ErrTokenExpired     = errors.New("token expired")
	ErrTokenMalformed   = errors.New("invalid token format")
	ErrTokenRevoked     = errors.New("token revoked")
	ErrInvalidToken     = errors.New("invalid token")
	ErrKeysUnavailable  = errors.New("signing keys unavailable")
	ErrUserNotFound     = errors.New("user not found")
	ErrUserExists       = errors.New("user already exists")
	ErrInvalidInput     = errors.New("invalid input")
	ErrVerifierDisabled = errors.New("authentication service unavailable")
)

// Identity is what a verified ID token says about the caller.
type Identity struct {
	UID     string
	Email   string
	Name    string
	Picture string
}

// Verifier turns a bearer token into an Identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

type User struct {
	ID           uuid.UUID  `json:"id"`
	FirebaseUID  string     `json:"firebaseUid"`
	Email        string     `json:"email"`
	FirstName    string     `json:"firstName"`
	LastName     string     `json:"lastName"`
	AvatarURL    *string    `json:"avatarUrl,omitempty"`
	IsActive     bool       `json:"isActive"`
	Municipality *int       `json:"municipality,omitempty"`
	School       *int       `json:"school,omitempty"`
	SectorID     *uuid.UUID `json:"sectorId,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

type contextKey string

const (
	identityContextKey contextKey = "auth_identity"
	userContextKey     contextKey = "auth_user"
)

func CurrentIdentity(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityContextKey).(*Identity)
	return id, ok && id != nil
}

// ContextWithIdentity injects a verified identity into context.
// Useful for tests and internal handlers.
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

func CurrentUser(ctx context.Context) (*User, bool) {
	u, ok := ctx.Value(userContextKey).(*User)
	return u, ok && u != nil
}

// ContextWithUser injects the resolved local user into context.
func ContextWithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

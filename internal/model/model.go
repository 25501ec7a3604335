// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// User represents an account stored on the server. PwdHash is the Argon2id
// encoding of the password and never leaves the service layer.
type User struct {
	ID          uuid.UUID // PK
	Email       string    // unique
	PwdHash     []byte    // salted Argon2id encoding
	Roles       []string  // defaults to {"user"} on registration
	CreatedAt   time.Time
	LastLoginAt time.Time // zero until first login
}

// Public returns the externally visible projection of the user.
func (u *User) Public() PublicUser {
	return PublicUser{ID: u.ID, Email: u.Email, Roles: u.Roles}
}

// PublicUser is the subset of User safe to return to clients.
type PublicUser struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
	Roles []string  `json:"roles"`
}

// ClientMeta is optional audit metadata captured at login.
type ClientMeta struct {
	IP        string
	UserAgent string
}

// RefreshToken is one persisted refresh credential. Rows are only ever
// mutated to set RevokedAt; cleanup of dead rows is a housekeeping job.
type RefreshToken struct {
	ID        uuid.UUID  // PK, also the jti claim inside Token
	Token     string     // unique signed token string
	UserID    uuid.UUID  // FK -> users.id
	IssuedAt  time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time // nil = active
	IP        string
	UserAgent string
}

// Active reports whether the token is usable at the given instant.
func (t *RefreshToken) Active(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}

// Tokens collects an issued access/refresh token pair.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time // access token expiry (for diagnostics)
}

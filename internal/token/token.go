// Package token signs and verifies the access and refresh JWTs.
//
// Access and refresh tokens are signed with two distinct HS256 keys so that
// compromise of one key does not compromise the other token class. Access
// tokens are stateless and verified without any store lookup; refresh tokens
// additionally carry a jti matching their persisted row.
package token

import (
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/ident/internal/errs"
	"github.com/and161185/ident/internal/model"
)

const issuer = "ident"

// Claims is the payload embedded in both token classes. Roles are copied at
// issuance and not re-fetched on verification.
type Claims struct {
	Email string   `json:"email"`
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Codec issues and verifies signed tokens.
type Codec struct {
	accessKey  []byte
	refreshKey []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewCodec constructs a codec. Key strength is enforced by config at startup.
func NewCodec(accessKey, refreshKey []byte, accessTTL, refreshTTL time.Duration) *Codec {
	return &Codec{
		accessKey:  accessKey,
		refreshKey: refreshKey,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// IssueAccess returns a signed access token for the user with the short TTL.
func (c *Codec) IssueAccess(u *model.User) (string, time.Time, error) {
	now := c.now()
	exp := now.Add(c.accessTTL)
	claims := &Claims{
		Email: u.Email,
		Roles: u.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID.String(),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.accessKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, exp, nil
}

// IssueRefresh returns a signed refresh token for the user together with its
// absolute expiry, so the caller can persist the expiry without re-deriving
// it. The jti claim is set to the persisted row ID, which also makes every
// issued token string unique.
func (c *Codec) IssueRefresh(u *model.User, jti uuid.UUID) (string, time.Time, error) {
	now := c.now()
	exp := now.Add(c.refreshTTL)
	claims := &Claims{
		Email: u.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID.String(),
			Issuer:    issuer,
			ID:        jti.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.refreshKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return signed, exp, nil
}

// VerifyAccess checks signature and expiry of an access token. Any failure
// collapses to errs.ErrInvalidToken.
func (c *Codec) VerifyAccess(tokenString string) (*Claims, error) {
	return c.verify(tokenString, c.accessKey)
}

// VerifyRefresh checks signature and expiry of a refresh token. The store
// record is validated separately by the caller.
func (c *Codec) VerifyRefresh(tokenString string) (*Claims, error) {
	return c.verify(tokenString, c.refreshKey)
}

func (c *Codec) verify(tokenString string, key []byte) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return key, nil
		},
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil || !tok.Valid {
		return nil, errs.ErrInvalidToken
	}
	return claims, nil
}

// SubjectID parses the subject claim as a user ID.
func (cl *Claims) SubjectID() (uuid.UUID, error) {
	id, err := uuid.FromString(cl.Subject)
	if err != nil {
		return uuid.Nil, errs.ErrInvalidToken
	}
	return id, nil
}

// HasAnyRole reports whether the claim's role set intersects required.
func (cl *Claims) HasAnyRole(required ...string) bool {
	for _, want := range required {
		for _, have := range cl.Roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

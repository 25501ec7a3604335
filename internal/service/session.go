// Package service contains the session lifecycle and its orchestration rules.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"

	pkgcrypto "github.com/and161185/ident/internal/crypto"
	"github.com/and161185/ident/internal/errs"
	"github.com/and161185/ident/internal/model"
	"github.com/and161185/ident/internal/repository"
	"github.com/and161185/ident/internal/token"
)

// SessionService drives login, refresh and logout against the token codec
// and the refresh token store.
type SessionService interface {
	// Register creates a new user with secure password hashing and the
	// default role set.
	Register(ctx context.Context, email, password string) (model.PublicUser, error)
	// Login verifies credentials and issues a fresh token pair. Unknown email
	// and wrong password are indistinguishable to the caller.
	Login(ctx context.Context, email, password string, meta model.ClientMeta) (model.Tokens, model.PublicUser, error)
	// Refresh exchanges an active refresh token for a new access token,
	// rotating the refresh token when rotation is enabled.
	Refresh(ctx context.Context, refreshToken string) (model.Tokens, error)
	// Logout revokes the presented refresh token. The store is the authority;
	// no signature check is performed.
	Logout(ctx context.Context, refreshToken string) error
	// LogoutAll revokes every active session of the user.
	LogoutAll(ctx context.Context, userID uuid.UUID) (int64, error)
	// ActiveSessions lists the user's active sessions with audit metadata.
	ActiveSessions(ctx context.Context, userID uuid.UUID) ([]model.RefreshToken, error)
}

// SessionServiceImpl is the store-backed SessionService.
type SessionServiceImpl struct {
	users     repository.UserRepository
	tokens    repository.RefreshTokenRepository
	codec     *token.Codec
	rotate    bool
	opTimeout time.Duration
	now       func() time.Time
}

// NewSessionService constructs a SessionService.
func NewSessionService(
	users repository.UserRepository,
	tokens repository.RefreshTokenRepository,
	codec *token.Codec,
	rotate bool,
	opTimeout time.Duration,
) *SessionServiceImpl {
	return &SessionServiceImpl{
		users:     users,
		tokens:    tokens,
		codec:     codec,
		rotate:    rotate,
		opTimeout: opTimeout,
		now:       time.Now,
	}
}

// defaultRoles is assigned to every new registration.
var defaultRoles = []string{"user"}

// Register creates a new user record.
func (s *SessionServiceImpl) Register(ctx context.Context, email, password string) (model.PublicUser, error) {
	if email == "" || password == "" {
		return model.PublicUser{}, errors.New("empty email/password")
	}
	id, err := uuid.NewV4()
	if err != nil {
		return model.PublicUser{}, err
	}
	hash, err := pkgcrypto.HashPassword([]byte(password))
	if err != nil {
		return model.PublicUser{}, fmt.Errorf("hash password: %w", err)
	}

	u := &model.User{
		ID:      id,
		Email:   email,
		PwdHash: hash,
		Roles:   append([]string(nil), defaultRoles...),
	}
	if err := s.callStore(ctx, func(ctx context.Context) error {
		return s.users.Create(ctx, u)
	}); err != nil {
		return model.PublicUser{}, err
	}
	return u.Public(), nil
}

// Login authenticates by email and password and opens a new session.
func (s *SessionServiceImpl) Login(ctx context.Context, email, password string, meta model.ClientMeta) (model.Tokens, model.PublicUser, error) {
	var u *model.User
	err := s.callStore(ctx, func(ctx context.Context) error {
		var err error
		u, err = s.users.GetByEmail(ctx, email)
		return err
	})
	if errors.Is(err, errs.ErrNotFound) {
		// Same failure as a wrong password: caller must not learn whether the
		// email exists.
		return model.Tokens{}, model.PublicUser{}, errs.ErrInvalidCredentials
	}
	if err != nil {
		return model.Tokens{}, model.PublicUser{}, err
	}

	ok, err := pkgcrypto.VerifyPassword([]byte(password), u.PwdHash)
	if err != nil {
		return model.Tokens{}, model.PublicUser{}, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return model.Tokens{}, model.PublicUser{}, errs.ErrInvalidCredentials
	}

	if err := s.callStore(ctx, func(ctx context.Context) error {
		return s.users.TouchLastLogin(ctx, u.ID)
	}); err != nil {
		return model.Tokens{}, model.PublicUser{}, fmt.Errorf("touch last login: %w", err)
	}

	tokens, err := s.issuePair(ctx, u, meta)
	if err != nil {
		return model.Tokens{}, model.PublicUser{}, err
	}
	return tokens, u.Public(), nil
}

// Refresh exchanges a refresh token for a new access token.
//
// Order matters: signature and expiry are checked first so forged strings
// never reach the store; the store lookup then revokes and returns the row
// in one conditional update, so concurrent calls with the same token cannot
// both rotate. Every failure collapses to ErrInvalidToken except backend
// timeouts, which are ErrUnavailable and retryable.
func (s *SessionServiceImpl) Refresh(ctx context.Context, refreshToken string) (model.Tokens, error) {
	claims, err := s.codec.VerifyRefresh(refreshToken)
	if err != nil {
		return model.Tokens{}, errs.ErrInvalidToken
	}
	subject, err := claims.SubjectID()
	if err != nil {
		return model.Tokens{}, errs.ErrInvalidToken
	}

	var rec *model.RefreshToken
	err = s.callStore(ctx, func(ctx context.Context) error {
		var err error
		if s.rotate {
			rec, err = s.tokens.Consume(ctx, refreshToken)
		} else {
			rec, err = s.tokens.FindActive(ctx, refreshToken)
		}
		return err
	})
	if errors.Is(err, errs.ErrNotFound) {
		return model.Tokens{}, errs.ErrInvalidToken
	}
	if err != nil {
		return model.Tokens{}, err
	}
	if rec.UserID != subject {
		return model.Tokens{}, errs.ErrInvalidToken
	}

	// Re-fetch the owner so the new access token carries current roles.
	var u *model.User
	err = s.callStore(ctx, func(ctx context.Context) error {
		var err error
		u, err = s.users.GetByID(ctx, rec.UserID)
		return err
	})
	if errors.Is(err, errs.ErrNotFound) {
		// A stored active token without an owner is corrupted state, not a
		// client mistake.
		return model.Tokens{}, fmt.Errorf("refresh record %s has no owner: %w", rec.ID, errs.ErrNotFound)
	}
	if err != nil {
		return model.Tokens{}, err
	}

	if !s.rotate {
		access, exp, err := s.codec.IssueAccess(u)
		if err != nil {
			return model.Tokens{}, err
		}
		return model.Tokens{AccessToken: access, RefreshToken: refreshToken, ExpiresAt: exp}, nil
	}

	// The parent is already consumed at this point. If persisting the child
	// fails, the session is lost and the client must log in again; a failed
	// rotation can never leave two live refresh tokens.
	//
	// Client metadata is carried onto the rotated record so the session keeps
	// one audit trail.
	return s.issuePair(ctx, u, model.ClientMeta{IP: rec.IP, UserAgent: rec.UserAgent})
}

// Logout revokes the presented refresh token, idempotently.
func (s *SessionServiceImpl) Logout(ctx context.Context, refreshToken string) error {
	err := s.callStore(ctx, func(ctx context.Context) error {
		_, err := s.tokens.Find(ctx, refreshToken)
		return err
	})
	if err != nil {
		return err
	}
	return s.callStore(ctx, func(ctx context.Context) error {
		return s.tokens.Revoke(ctx, refreshToken)
	})
}

// LogoutAll revokes every active session of the user.
func (s *SessionServiceImpl) LogoutAll(ctx context.Context, userID uuid.UUID) (int64, error) {
	var n int64
	err := s.callStore(ctx, func(ctx context.Context) error {
		var err error
		n, err = s.tokens.RevokeAllByUser(ctx, userID)
		return err
	})
	return n, err
}

// ActiveSessions lists the user's active sessions. Token strings are blanked:
// they are credentials, not audit data.
func (s *SessionServiceImpl) ActiveSessions(ctx context.Context, userID uuid.UUID) ([]model.RefreshToken, error) {
	var list []model.RefreshToken
	err := s.callStore(ctx, func(ctx context.Context) error {
		var err error
		list, err = s.tokens.ListActiveByUser(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	for i := range list {
		list[i].Token = ""
	}
	return list, nil
}

// issuePair mints an access/refresh pair and persists the refresh record.
func (s *SessionServiceImpl) issuePair(ctx context.Context, u *model.User, meta model.ClientMeta) (model.Tokens, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return model.Tokens{}, err
	}
	refresh, refreshExp, err := s.codec.IssueRefresh(u, id)
	if err != nil {
		return model.Tokens{}, err
	}
	access, accessExp, err := s.codec.IssueAccess(u)
	if err != nil {
		return model.Tokens{}, err
	}

	rec := &model.RefreshToken{
		ID:        id,
		Token:     refresh,
		UserID:    u.ID,
		IssuedAt:  s.now(),
		ExpiresAt: refreshExp,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	}
	if err := s.callStore(ctx, func(ctx context.Context) error {
		return s.tokens.Create(ctx, rec)
	}); err != nil {
		if errors.Is(err, errs.ErrConflict) {
			// Token strings embed a fresh uuid; a collision means the codec or
			// the store is broken. Never overwrite the existing row.
			return model.Tokens{}, fmt.Errorf("refresh token string collision for record %s: %w", id, err)
		}
		return model.Tokens{}, err
	}

	return model.Tokens{AccessToken: access, RefreshToken: refresh, ExpiresAt: accessExp}, nil
}

// callStore runs one store operation under the configured timeout and maps
// deadline expiry to ErrUnavailable so it is never mistaken for a bad token.
func (s *SessionServiceImpl) callStore(ctx context.Context, fn func(context.Context) error) error {
	if s.opTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opTimeout)
		defer cancel()
	}
	err := fn(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.ErrUnavailable
	}
	return err
}

package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/and161185/ident/internal/errs"
	"github.com/and161185/ident/internal/model"
	"github.com/and161185/ident/internal/service"
	"github.com/and161185/ident/internal/token"
)

// In-memory repositories backing the full handler stack under test.

type memUsers struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*model.User
}

func (m *memUsers) Create(_ context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ex := range m.byID {
		if ex.Email == u.Email {
			return errs.ErrConflict
		}
	}
	cpy := *u
	m.byID[u.ID] = &cpy
	return nil
}

func (m *memUsers) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Email == email {
			c := *u
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (m *memUsers) TouchLastLogin(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.byID[id]; ok {
		u.LastLoginAt = time.Now()
		return nil
	}
	return errs.ErrNotFound
}

type memTokens struct {
	mu      sync.Mutex
	byToken map[string]*model.RefreshToken
}

func (m *memTokens) Create(_ context.Context, t *model.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byToken[t.Token]; exists {
		return errs.ErrConflict
	}
	cpy := *t
	m.byToken[t.Token] = &cpy
	return nil
}

func (m *memTokens) Find(_ context.Context, tok string) (*model.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byToken[tok]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *t
	return &c, nil
}

func (m *memTokens) FindActive(_ context.Context, tok string) (*model.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byToken[tok]
	if !ok || !t.Active(time.Now()) {
		return nil, errs.ErrNotFound
	}
	c := *t
	return &c, nil
}

func (m *memTokens) Consume(_ context.Context, tok string) (*model.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byToken[tok]
	if !ok || !t.Active(time.Now()) {
		return nil, errs.ErrNotFound
	}
	now := time.Now()
	t.RevokedAt = &now
	c := *t
	return &c, nil
}

func (m *memTokens) Revoke(_ context.Context, tok string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.byToken[tok]; ok && t.RevokedAt == nil {
		now := time.Now()
		t.RevokedAt = &now
	}
	return nil
}

func (m *memTokens) RevokeAllByUser(_ context.Context, userID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, t := range m.byToken {
		if t.UserID == userID && t.RevokedAt == nil {
			now := time.Now()
			t.RevokedAt = &now
			n++
		}
	}
	return n, nil
}

func (m *memTokens) ListActiveByUser(_ context.Context, userID uuid.UUID) ([]model.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.RefreshToken
	for _, t := range m.byToken {
		if t.UserID == userID && t.Active(time.Now()) {
			out = append(out, *t)
		}
	}
	return out, nil
}

func newTestStack(t *testing.T) (*httptest.Server, *memUsers) {
	t.Helper()
	users := &memUsers{byID: map[uuid.UUID]*model.User{}}
	tokens := &memTokens{byToken: map[string]*model.RefreshToken{}}
	codec := token.NewCodec(
		[]byte("test-access-key-0123456789abcdef"),
		[]byte("test-refresh-key-0123456789abcde"),
		15*time.Minute, 7*24*time.Hour,
	)
	svc := service.NewSessionService(users, tokens, codec, true, 0)
	srv := New(svc, codec, zap.NewNop())
	ts := httptest.NewServer(srv.Handler(nil))
	t.Cleanup(ts.Close)
	return ts, users
}

func postJSON(t *testing.T, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	return resp, data
}

func getJSON(t *testing.T, url, bearer string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	return resp, data
}

func TestScenario_RegisterLoginRefreshLogout(t *testing.T) {
	ts, _ := newTestStack(t)
	creds := map[string]string{"email": "a@x.com", "password": "longenough1"}

	// Register: 201, no password or hash in the body.
	resp, body := postJSON(t, ts.URL+"/api/auth/register", creds, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotContains(t, string(body), "password")
	require.NotContains(t, string(body), "hash")

	var pub model.PublicUser
	require.NoError(t, json.Unmarshal(body, &pub))
	require.Equal(t, []string{"user"}, pub.Roles)

	// Login: access + refresh pair.
	resp, body = postJSON(t, ts.URL+"/api/auth/login", creds, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var pair tokenResponse
	require.NoError(t, json.Unmarshal(body, &pair))
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)

	// The access token authenticates /api/me with the registered subject.
	resp, body = getJSON(t, ts.URL+"/api/me", pair.AccessToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var me model.PublicUser
	require.NoError(t, json.Unmarshal(body, &me))
	require.Equal(t, pub.ID, me.ID)

	// Refresh rotates: new pair, old refresh token rejected on reuse.
	resp, body = postJSON(t, ts.URL+"/api/auth/refresh", map[string]string{"refresh_token": pair.RefreshToken}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var next tokenResponse
	require.NoError(t, json.Unmarshal(body, &next))
	require.NotEqual(t, pair.RefreshToken, next.RefreshToken)

	resp, _ = getJSON(t, ts.URL+"/api/me", next.AccessToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = postJSON(t, ts.URL+"/api/auth/refresh", map[string]string{"refresh_token": pair.RefreshToken}, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Logout the rotated token, then refreshing with it fails.
	resp, _ = postJSON(t, ts.URL+"/api/auth/logout", map[string]string{"refresh_token": next.RefreshToken}, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = postJSON(t, ts.URL+"/api/auth/refresh", map[string]string{"refresh_token": next.RefreshToken}, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLogin_FailureBodiesAreIdentical(t *testing.T) {
	ts, _ := newTestStack(t)
	_, _ = postJSON(t, ts.URL+"/api/auth/register", map[string]string{"email": "a@x.com", "password": "longenough1"}, nil)

	respUnknown, bodyUnknown := postJSON(t, ts.URL+"/api/auth/login",
		map[string]string{"email": "nobody@x.com", "password": "longenough1"}, nil)
	respWrong, bodyWrong := postJSON(t, ts.URL+"/api/auth/login",
		map[string]string{"email": "a@x.com", "password": "wrong-password"}, nil)

	require.Equal(t, http.StatusUnauthorized, respUnknown.StatusCode)
	require.Equal(t, respUnknown.StatusCode, respWrong.StatusCode)
	require.Equal(t, bodyUnknown, bodyWrong, "unknown email and wrong password must be indistinguishable")
}

func TestLogin_RejectsMalformedPayload(t *testing.T) {
	ts, _ := newTestStack(t)

	resp, _ := postJSON(t, ts.URL+"/api/auth/login", map[string]string{"email": "not-an-email", "password": "longenough1"}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = postJSON(t, ts.URL+"/api/auth/login", map[string]string{"email": "a@x.com", "password": ""}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRegister_Validation(t *testing.T) {
	ts, _ := newTestStack(t)

	resp, _ := postJSON(t, ts.URL+"/api/auth/register", map[string]string{"email": "not-an-email", "password": "longenough1"}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = postJSON(t, ts.URL+"/api/auth/register", map[string]string{"email": "a@x.com", "password": "short"}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = postJSON(t, ts.URL+"/api/auth/register", map[string]string{"email": "a@x.com", "password": "longenough1", "extra": "field"}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Duplicate email conflicts.
	resp, _ = postJSON(t, ts.URL+"/api/auth/register", map[string]string{"email": "a@x.com", "password": "longenough1"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, _ = postJSON(t, ts.URL+"/api/auth/register", map[string]string{"email": "a@x.com", "password": "longenough1"}, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAuthenticate_MissingAndInvalid(t *testing.T) {
	ts, _ := newTestStack(t)

	resp, body := getJSON(t, ts.URL+"/api/me", "")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Contains(t, string(body), "missing token")

	resp, _ = getJSON(t, ts.URL+"/api/me", "garbage.token.value")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdminRoute_RequiresRole(t *testing.T) {
	ts, users := newTestStack(t)
	creds := map[string]string{"email": "a@x.com", "password": "longenough1"}
	_, _ = postJSON(t, ts.URL+"/api/auth/register", creds, nil)

	resp, body := postJSON(t, ts.URL+"/api/auth/login", creds, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var pair tokenResponse
	require.NoError(t, json.Unmarshal(body, &pair))

	target := fmt.Sprintf("%s/api/admin/users/%s/revoke", ts.URL, pair.User.ID)

	// Plain user: forbidden.
	resp, _ = postJSON(t, target, struct{}{}, map[string]string{"Authorization": "Bearer " + pair.AccessToken})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Promote and log in again: the new access token carries the role.
	users.mu.Lock()
	users.byID[pair.User.ID].Roles = []string{"user", "admin"}
	users.mu.Unlock()

	resp, body = postJSON(t, ts.URL+"/api/auth/login", creds, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &pair))

	resp, body = postJSON(t, target, struct{}{}, map[string]string{"Authorization": "Bearer " + pair.AccessToken})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "revoked")
}

func TestSessions_ListAndLogoutAll(t *testing.T) {
	ts, _ := newTestStack(t)
	creds := map[string]string{"email": "a@x.com", "password": "longenough1"}
	_, _ = postJSON(t, ts.URL+"/api/auth/register", creds, nil)

	_, body := postJSON(t, ts.URL+"/api/auth/login", creds, nil)
	var first tokenResponse
	require.NoError(t, json.Unmarshal(body, &first))
	_, _ = postJSON(t, ts.URL+"/api/auth/login", creds, nil)

	resp, body := getJSON(t, ts.URL+"/api/auth/sessions", first.AccessToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sessions []sessionInfo
	require.NoError(t, json.Unmarshal(body, &sessions))
	require.Len(t, sessions, 2)

	resp, body = postJSON(t, ts.URL+"/api/auth/logout_all", struct{}{}, map[string]string{"Authorization": "Bearer " + first.AccessToken})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `"revoked":2`)

	// Both refresh tokens are now dead; the stateless access token still works.
	resp, _ = postJSON(t, ts.URL+"/api/auth/refresh", map[string]string{"refresh_token": first.RefreshToken}, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLogout_UnknownTokenIs404(t *testing.T) {
	ts, _ := newTestStack(t)
	resp, _ := postJSON(t, ts.URL+"/api/auth/logout", map[string]string{"refresh_token": "never-issued"}, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

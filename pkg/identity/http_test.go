package identity

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type httpFixture struct {
	*serviceFixture
	router http.Handler
}

func newHTTPFixture(t *testing.T) *httpFixture {
	t.Helper()
	f := newServiceFixture(t)
	return &httpFixture{
		serviceFixture: f,
		router:         NewHandler(f.svc, nil).Routes(),
	}
}

func (f *httpFixture) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestHandler_RegisterVerifyLoginFlow(t *testing.T) {
	f := newHTTPFixture(t)
	*f.require = true

	rec, body := f.do(t, http.MethodPost, "/register", "", map[string]string{
		"email":    "dana@example.com",
		"password": "secret123",
		"name":     "Dr Dana",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["token"])
	user := body["user"].(map[string]any)
	assert.Equal(t, "dana@example.com", user["email"])
	assert.Equal(t, false, user["emailVerified"])
	assert.NotContains(t, user, "passwordHash")
	assert.NotContains(t, user, "verificationToken")

	// Login is gated until the mailed link is followed.
	rec, body = f.do(t, http.MethodPost, "/login", "", map[string]string{
		"email": "dana@example.com", "password": "secret123",
	})
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Email verification required", body["error"])
	assert.Equal(t, true, body["requireEmailVerify"])
	assert.Equal(t, false, body["emailVerified"])

	rec, body = f.do(t, http.MethodGet, "/verify-email/"+f.mailer.last(t).token, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Email verified successfully", body["message"])

	rec, body = f.do(t, http.MethodPost, "/login", "", map[string]string{
		"email": "dana@example.com", "password": "secret123",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["requireEmailVerify"])
	assert.Equal(t, true, body["user"].(map[string]any)["emailVerified"])
}

func TestHandler_LoginErrorShape(t *testing.T) {
	f := newHTTPFixture(t)

	rec, body := f.do(t, http.MethodPost, "/login", "", map[string]string{
		"email": "nobody@example.com", "password": "whatever",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, map[string]any{"error": "Invalid credentials"}, body)
}

func TestHandler_Me(t *testing.T) {
	f := newHTTPFixture(t)
	res := f.register(t, "dana@example.com")

	rec, body := f.do(t, http.MethodGet, "/me", res.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, res.User.ID, body["user"].(map[string]any)["id"])

	rec, body = f.do(t, http.MethodGet, "/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Not authorized, no token provided", body["error"])

	rec, body = f.do(t, http.MethodGet, "/me", "bogus-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Not authorized, invalid token", body["error"])
}

func TestHandler_LegacyTokenHeader(t *testing.T) {
	f := newHTTPFixture(t)
	res := f.register(t, "dana@example.com")

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Token", res.Token)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_UpdateProfile(t *testing.T) {
	f := newHTTPFixture(t)
	res := f.register(t, "dana@example.com")

	rec, body := f.do(t, http.MethodPut, "/profile", res.Token, map[string]string{
		"name": "Renamed", "email": "renamed@example.com",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Profile updated. New email requires verification.", body["message"])
	user := body["user"].(map[string]any)
	assert.Equal(t, "renamed@example.com", user["email"])
	assert.Equal(t, false, user["emailVerified"])
}

func TestHandler_ChangePassword(t *testing.T) {
	f := newHTTPFixture(t)
	res := f.register(t, "dana@example.com")

	rec, body := f.do(t, http.MethodPut, "/change-password", res.Token, map[string]string{
		"currentPassword": "wrong", "newPassword": "nextsecret",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Current password is incorrect", body["error"])

	rec, body = f.do(t, http.MethodPut, "/change-password", res.Token, map[string]string{
		"currentPassword": "secret123", "newPassword": "nextsecret",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Password changed successfully", body["message"])
}

func TestHandler_ResendVerificationPublic(t *testing.T) {
	f := newHTTPFixture(t)
	f.register(t, "dana@example.com")

	rec, body := f.do(t, http.MethodPost, "/resend-verification-public", "", map[string]string{
		"email": "dana@example.com", "password": "secret123",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Verification email sent. Please check your email.", body["message"])

	rec, body = f.do(t, http.MethodPost, "/resend-verification-public", "", map[string]string{
		"email": "dana@example.com", "password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid credentials", body["error"])
}

func TestHandler_MalformedBody(t *testing.T) {
	f := newHTTPFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/register", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid request body")
}

func TestHandler_RegisterDuplicateStays400(t *testing.T) {
	f := newHTTPFixture(t)
	f.register(t, "dana@example.com")

	rec, body := f.do(t, http.MethodPost, "/register", "", map[string]string{
		"email": "dana@example.com", "password": "secret123", "name": "Dana",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "User already exists", body["error"])
}

func TestHandler_ExpiredSessionToken(t *testing.T) {
	f := newHTTPFixture(t)
	res := f.register(t, "dana@example.com")

	// Issue with a different clock so the token is already expired.
	issuer := NewTokenIssuer("test-secret", time.Hour)
	issuer.now = func() time.Time { return time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC) }
	expired, err := issuer.Issue(res.User.ID)
	require.NoError(t, err)

	rec, body := f.do(t, http.MethodGet, "/me", expired, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Not authorized, invalid token", body["error"])
}

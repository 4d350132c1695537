package identity

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emedx/imaging-gateway/pkg/domain"
)

// recordingMailer captures sends instead of delivering.
type recordingMailer struct {
	mu    sync.Mutex
	sends []sentMail
	fail  error
}

type sentMail struct {
	email, name, token string
}

func (m *recordingMailer) SendVerificationEmail(_ context.Context, email, name, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.sends = append(m.sends, sentMail{email: email, name: name, token: token})
	return nil
}

func (m *recordingMailer) last(t *testing.T) sentMail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sends)
	return m.sends[len(m.sends)-1]
}

type serviceFixture struct {
	svc     *Service
	store   *MemoryStore
	mailer  *recordingMailer
	clock   *time.Time
	require *bool
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	requireVerify := false
	f := &serviceFixture{
		store:   NewMemoryStore(),
		mailer:  &recordingMailer{},
		clock:   &now,
		require: &requireVerify,
	}
	f.svc = NewService(ServiceConfig{
		Store:                f.store,
		Tokens:               NewTokenIssuer("test-secret", time.Hour),
		Mailer:               f.mailer,
		RequireVerifiedEmail: func() bool { return *f.require },
		Now:                  func() time.Time { return *f.clock },
	})
	return f
}

func (f *serviceFixture) register(t *testing.T, email string) *AuthResult {
	t.Helper()
	res, err := f.svc.Register(context.Background(), email, "secret123", "Dr Dana")
	require.NoError(t, err)
	return res
}

func apiStatus(t *testing.T, err error) *domain.APIError {
	t.Helper()
	require.Error(t, err)
	return domain.AsAPIError(err)
}

func TestService_RegisterVerifyLogin(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	res := f.register(t, "dana@example.com")
	assert.NotEmpty(t, res.Token)
	assert.False(t, res.User.EmailVerified)

	// The session token from registration already authenticates.
	principal, err := f.svc.Authenticate(ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, principal.ID)

	// The mailed token verifies the account.
	mail := f.mailer.last(t)
	assert.Equal(t, "dana@example.com", mail.email)
	require.NoError(t, f.svc.VerifyEmail(ctx, mail.token))

	login, err := f.svc.Login(ctx, "dana@example.com", "secret123")
	require.NoError(t, err)
	assert.True(t, login.User.EmailVerified)
	assert.NotEmpty(t, login.Token)
}

func TestService_RegisterValidation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	tests := []struct {
		name, email, password, userName, wantMsg string
	}{
		{"missing fields", "", "secret123", "Dana", "Please provide email, password, and name"},
		{"bad email", "not-an-email", "secret123", "Dana", "Please provide a valid email address"},
		{"short password", "dana@example.com", "12345", "Dana", "Password must be at least 6 characters long"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Register(ctx, tt.email, tt.password, tt.userName)
			apiErr := apiStatus(t, err)
			assert.Equal(t, http.StatusBadRequest, apiErr.Status)
			assert.Equal(t, tt.wantMsg, apiErr.Message)
		})
	}
}

func TestService_RegisterDuplicateEmail(t *testing.T) {
	f := newServiceFixture(t)
	f.register(t, "dana@example.com")

	_, err := f.svc.Register(context.Background(), "Dana@Example.com", "secret123", "Other Dana")
	apiErr := apiStatus(t, err)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "User already exists", apiErr.Message)
}

func TestService_RegisterSurvivesMailFailure(t *testing.T) {
	f := newServiceFixture(t)
	f.mailer.fail = errors.New("smtp down")

	res, err := f.svc.Register(context.Background(), "dana@example.com", "secret123", "Dana")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
}

func TestService_LoginIndistinguishableFailures(t *testing.T) {
	f := newServiceFixture(t)
	f.register(t, "dana@example.com")
	ctx := context.Background()

	_, unknownErr := f.svc.Login(ctx, "nobody@example.com", "secret123")
	_, wrongPwErr := f.svc.Login(ctx, "dana@example.com", "wrong-password")

	unknown := apiStatus(t, unknownErr)
	wrongPw := apiStatus(t, wrongPwErr)
	assert.Equal(t, http.StatusUnauthorized, unknown.Status)
	assert.Equal(t, unknown.Status, wrongPw.Status)
	assert.Equal(t, unknown.Message, wrongPw.Message)
	assert.Equal(t, "Invalid credentials", unknown.Message)
}

func TestService_LoginVerificationGate(t *testing.T) {
	f := newServiceFixture(t)
	f.register(t, "dana@example.com")
	ctx := context.Background()

	// Flag off: unverified login succeeds.
	res, err := f.svc.Login(ctx, "dana@example.com", "secret123")
	require.NoError(t, err)
	assert.False(t, res.RequireEmailVerify)

	// Flag on: unverified login is refused with the structured detail body.
	*f.require = true
	_, err = f.svc.Login(ctx, "dana@example.com", "secret123")
	apiErr := apiStatus(t, err)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Equal(t, false, apiErr.Details["emailVerified"])
	assert.Equal(t, true, apiErr.Details["requireEmailVerify"])

	// Verified account passes the gate.
	require.NoError(t, f.svc.VerifyEmail(ctx, f.mailer.last(t).token))
	res, err = f.svc.Login(ctx, "dana@example.com", "secret123")
	require.NoError(t, err)
	assert.True(t, res.RequireEmailVerify)
	assert.True(t, res.User.EmailVerified)
}

func TestService_VerificationTokenSingleUse(t *testing.T) {
	f := newServiceFixture(t)
	f.register(t, "dana@example.com")
	ctx := context.Background()
	token := f.mailer.last(t).token

	require.NoError(t, f.svc.VerifyEmail(ctx, token))

	err := f.svc.VerifyEmail(ctx, token)
	apiErr := apiStatus(t, err)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "Invalid or expired verification token", apiErr.Message)
}

func TestService_VerificationTokenExpiry(t *testing.T) {
	f := newServiceFixture(t)
	f.register(t, "dana@example.com")
	token := f.mailer.last(t).token

	*f.clock = f.clock.Add(VerificationTokenTTL + time.Minute)

	err := f.svc.VerifyEmail(context.Background(), token)
	apiErr := apiStatus(t, err)
	assert.Equal(t, "Invalid or expired verification token", apiErr.Message)
}

func TestService_ResendRotatesToken(t *testing.T) {
	f := newServiceFixture(t)
	res := f.register(t, "dana@example.com")
	ctx := context.Background()
	first := f.mailer.last(t).token

	require.NoError(t, f.svc.ResendVerification(ctx, res.User.ID))
	second := f.mailer.last(t).token
	require.NotEqual(t, first, second)

	// The superseded token is dead, the fresh one works.
	err := f.svc.VerifyEmail(ctx, first)
	assert.Error(t, err)
	require.NoError(t, f.svc.VerifyEmail(ctx, second))
}

func TestService_ResendAlreadyVerified(t *testing.T) {
	f := newServiceFixture(t)
	res := f.register(t, "dana@example.com")
	ctx := context.Background()
	require.NoError(t, f.svc.VerifyEmail(ctx, f.mailer.last(t).token))

	err := f.svc.ResendVerification(ctx, res.User.ID)
	apiErr := apiStatus(t, err)
	assert.Equal(t, "Email already verified", apiErr.Message)
	assert.ErrorIs(t, err, domain.ErrAlreadyVerified)
}

func TestService_ResendByCredentials(t *testing.T) {
	f := newServiceFixture(t)
	f.register(t, "dana@example.com")
	ctx := context.Background()

	err := f.svc.ResendVerificationByCredentials(ctx, "dana@example.com", "wrong")
	assert.Equal(t, "Invalid credentials", apiStatus(t, err).Message)

	require.NoError(t, f.svc.ResendVerificationByCredentials(ctx, "dana@example.com", "secret123"))
}

func TestService_AuthenticateFailures(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.Authenticate(ctx, "")
	assert.Equal(t, "Not authorized, no token provided", apiStatus(t, err).Message)

	_, err = f.svc.Authenticate(ctx, "garbage.token.value")
	assert.Equal(t, "Not authorized, invalid token", apiStatus(t, err).Message)

	// A valid token for a deleted subject fails closed.
	orphanToken, issueErr := NewTokenIssuer("test-secret", time.Hour).Issue("gone-user-id")
	require.NoError(t, issueErr)
	_, err = f.svc.Authenticate(ctx, orphanToken)
	assert.Equal(t, http.StatusUnauthorized, apiStatus(t, err).Status)
}

func TestService_UpdateProfileEmailChangeResetsVerification(t *testing.T) {
	f := newServiceFixture(t)
	res := f.register(t, "dana@example.com")
	ctx := context.Background()
	require.NoError(t, f.svc.VerifyEmail(ctx, f.mailer.last(t).token))

	updated, emailChanged, err := f.svc.UpdateProfile(ctx, res.User.ID, "Dr Dana Updated", "new@example.com")
	require.NoError(t, err)
	assert.True(t, emailChanged)
	assert.Equal(t, "new@example.com", updated.Email)
	assert.Equal(t, "Dr Dana Updated", updated.Name)
	assert.False(t, updated.EmailVerified)

	// A fresh verification mail went to the new address.
	assert.Equal(t, "new@example.com", f.mailer.last(t).email)

	// The old address is free again, the new one is taken.
	other := f.register(t, "dana@example.com")
	_, _, err = f.svc.UpdateProfile(ctx, other.User.ID, "", "new@example.com")
	assert.Equal(t, "Email already in use", apiStatus(t, err).Message)
}

func TestService_UpdateProfileNameOnly(t *testing.T) {
	f := newServiceFixture(t)
	res := f.register(t, "dana@example.com")

	updated, emailChanged, err := f.svc.UpdateProfile(context.Background(), res.User.ID, "New Name", "dana@example.com")
	require.NoError(t, err)
	assert.False(t, emailChanged)
	assert.Equal(t, "New Name", updated.Name)
	assert.Equal(t, "dana@example.com", updated.Email)
}

func TestService_ChangePassword(t *testing.T) {
	f := newServiceFixture(t)
	res := f.register(t, "dana@example.com")
	ctx := context.Background()

	err := f.svc.ChangePassword(ctx, res.User.ID, "wrong-current", "nextsecret")
	apiErr := apiStatus(t, err)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "Current password is incorrect", apiErr.Message)

	err = f.svc.ChangePassword(ctx, res.User.ID, "secret123", "short")
	assert.Equal(t, "New password must be at least 6 characters long", apiStatus(t, err).Message)

	require.NoError(t, f.svc.ChangePassword(ctx, res.User.ID, "secret123", "nextsecret"))

	_, err = f.svc.Login(ctx, "dana@example.com", "secret123")
	assert.Error(t, err)
	_, err = f.svc.Login(ctx, "dana@example.com", "nextsecret")
	assert.NoError(t, err)
}

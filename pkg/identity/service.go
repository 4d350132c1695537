// Package identity implements the gateway's locally-owned identity subsystem:
// registration, login, email verification, profile management, and stateless
// session token issuance and verification.
package identity

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/emedx/imaging-gateway/pkg/domain"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

const minPasswordLength = 6

// Mailer delivers verification emails. Implementations must treat an
// unconfigured transport as a skip, not a failure.
type Mailer interface {
	SendVerificationEmail(ctx context.Context, email, name, token string) error
}

// ServiceConfig holds the dependencies for a Service.
type ServiceConfig struct {
	Store  Store
	Tokens *TokenIssuer
	Mailer Mailer
	// RequireVerifiedEmail is consulted on every login so the deployment
	// flag can change without a restart.
	RequireVerifiedEmail func() bool
	Logger               *slog.Logger
	Now                  func() time.Time
}

// Service implements the identity gateway operations.
type Service struct {
	store           Store
	tokens          *TokenIssuer
	mailer          Mailer
	requireVerified func() bool
	logger          *slog.Logger
	now             func() time.Time
}

// NewService constructs a Service.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	requireVerified := cfg.RequireVerifiedEmail
	if requireVerified == nil {
		requireVerified = func() bool { return false }
	}
	return &Service{
		store:           cfg.Store,
		tokens:          cfg.Tokens,
		mailer:          cfg.Mailer,
		requireVerified: requireVerified,
		logger:          logger,
		now:             now,
	}
}

// AuthResult carries a freshly issued session token and its principal.
type AuthResult struct {
	Token              string
	User               *domain.User
	RequireEmailVerify bool
}

// Register creates an identity record, issues a session token, and sends a
// verification email. The mail send is best effort: a delivery failure is
// logged and does not fail registration.
func (s *Service) Register(ctx context.Context, email, password, name string) (*AuthResult, error) {
	email = strings.TrimSpace(email)
	name = strings.TrimSpace(name)

	if email == "" || password == "" || name == "" {
		return nil, domain.Validation("Please provide email, password, and name")
	}
	if !emailPattern.MatchString(email) {
		return nil, domain.Validation("Please provide a valid email address")
	}
	if len(password) < minPasswordLength {
		return nil, domain.Validation("Password must be at least 6 characters long")
	}

	hash, err := HashPassword(password, DefaultArgon2idParams())
	if err != nil {
		return nil, domain.Internal(err)
	}

	verifyToken, err := NewVerificationToken()
	if err != nil {
		return nil, domain.Internal(err)
	}

	now := s.now()
	user := &domain.User{
		ID:                 uuid.NewString(),
		Email:              strings.ToLower(email),
		Name:               name,
		PasswordHash:       hash,
		EmailVerified:      false,
		VerificationToken:  verifyToken,
		VerificationExpiry: now.Add(VerificationTokenTTL),
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, domain.ErrEmailTaken) {
			return nil, domain.Conflict("User already exists")
		}
		return nil, domain.Internal(err)
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, domain.Internal(err)
	}

	s.sendVerificationMail(ctx, user)

	return &AuthResult{Token: token, User: user}, nil
}

// Login verifies credentials and issues a fresh session token. Unknown email
// and wrong password produce the same error so accounts cannot be enumerated.
// Previously issued tokens remain valid until their own expiry.
func (s *Service) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return nil, domain.Validation("Please provide email and password")
	}

	user, err := s.store.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.Unauthorized("Invalid credentials")
		}
		return nil, domain.Internal(err)
	}

	ok, err := VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return nil, domain.Internal(err)
	}
	if !ok {
		return nil, domain.Unauthorized("Invalid credentials")
	}

	requireVerify := s.requireVerified()
	if requireVerify && !user.EmailVerified {
		apiErr := domain.Forbidden("Email verification required")
		apiErr.Details = map[string]any{
			"emailVerified":      false,
			"requireEmailVerify": true,
		}
		return nil, apiErr
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, domain.Internal(err)
	}

	return &AuthResult{Token: token, User: user, RequireEmailVerify: requireVerify}, nil
}

// Authenticate resolves a session token to its principal. It fails with an
// Unauthorized error when the token is absent, fails signature or expiry
// checks, or the bound subject no longer exists. No sliding expiry.
func (s *Service) Authenticate(ctx context.Context, tokenStr string) (*domain.User, error) {
	if tokenStr == "" {
		return nil, domain.Unauthorized("Not authorized, no token provided")
	}

	subject, err := s.tokens.Verify(tokenStr)
	if err != nil {
		return nil, domain.Unauthorized("Not authorized, invalid token")
	}

	user, err := s.store.UserByID(ctx, subject)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.Unauthorized("User not found")
		}
		return nil, domain.Internal(err)
	}
	return user, nil
}

// VerifyEmail consumes a verification token: it marks the account verified
// and clears the token so a second use fails.
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	user, err := s.store.UserByVerificationToken(ctx, token)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return domain.Validation("Invalid or expired verification token")
		}
		return domain.Internal(err)
	}
	if s.now().After(user.VerificationExpiry) {
		return domain.Validation("Invalid or expired verification token")
	}

	user.EmailVerified = true
	user.VerificationToken = ""
	user.VerificationExpiry = time.Time{}
	user.UpdatedAt = s.now()

	if err := s.store.UpdateUser(ctx, user); err != nil {
		return domain.Internal(err)
	}
	return nil
}

// ResendVerification rotates the verification token for an authenticated
// user, invalidating the previous one, and resends the mail.
func (s *Service) ResendVerification(ctx context.Context, userID string) error {
	user, err := s.store.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return domain.NotFound("User not found")
		}
		return domain.Internal(err)
	}
	return s.rotateVerification(ctx, user)
}

// ResendVerificationByCredentials is the unauthenticated variant: it demands
// valid credentials before reissuing, with the same indistinguishable
// Unauthorized as Login.
func (s *Service) ResendVerificationByCredentials(ctx context.Context, email, password string) error {
	if strings.TrimSpace(email) == "" || password == "" {
		return domain.Validation("Please provide email and password")
	}

	user, err := s.store.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return domain.Unauthorized("Invalid credentials")
		}
		return domain.Internal(err)
	}

	ok, err := VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return domain.Internal(err)
	}
	if !ok {
		return domain.Unauthorized("Invalid credentials")
	}

	return s.rotateVerification(ctx, user)
}

func (s *Service) rotateVerification(ctx context.Context, user *domain.User) error {
	if user.EmailVerified {
		apiErr := domain.Validation("Email already verified")
		apiErr.Err = domain.ErrAlreadyVerified
		return apiErr
	}

	token, err := NewVerificationToken()
	if err != nil {
		return domain.Internal(err)
	}
	user.VerificationToken = token
	user.VerificationExpiry = s.now().Add(VerificationTokenTTL)
	user.UpdatedAt = s.now()

	if err := s.store.UpdateUser(ctx, user); err != nil {
		return domain.Internal(err)
	}

	s.sendVerificationMail(ctx, user)
	return nil
}

// UpdateProfile updates name and optionally email. An email change resets the
// verification flag and issues a new verification token, mirroring Register's
// email flow. The second return value reports whether the email changed.
func (s *Service) UpdateProfile(ctx context.Context, userID, name, email string) (*domain.User, bool, error) {
	user, err := s.store.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, false, domain.NotFound("User not found")
		}
		return nil, false, domain.Internal(err)
	}

	if name = strings.TrimSpace(name); name != "" {
		user.Name = name
	}

	email = strings.ToLower(strings.TrimSpace(email))
	emailChanged := email != "" && email != user.Email
	if emailChanged {
		if !emailPattern.MatchString(email) {
			return nil, false, domain.Validation("Please provide a valid email address")
		}

		token, err := NewVerificationToken()
		if err != nil {
			return nil, false, domain.Internal(err)
		}
		user.Email = email
		user.EmailVerified = false
		user.VerificationToken = token
		user.VerificationExpiry = s.now().Add(VerificationTokenTTL)
	}
	user.UpdatedAt = s.now()

	if err := s.store.UpdateUser(ctx, user); err != nil {
		if errors.Is(err, domain.ErrEmailTaken) {
			return nil, false, domain.Conflict("Email already in use")
		}
		return nil, false, domain.Internal(err)
	}

	if emailChanged {
		s.sendVerificationMail(ctx, user)
	}
	return user, emailChanged, nil
}

// ChangePassword re-verifies the current password before storing a new hash.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	if current == "" || next == "" {
		return domain.Validation("Please provide current password and new password")
	}
	if len(next) < minPasswordLength {
		return domain.Validation("New password must be at least 6 characters long")
	}

	user, err := s.store.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return domain.NotFound("User not found")
		}
		return domain.Internal(err)
	}

	ok, err := VerifyPassword(current, user.PasswordHash)
	if err != nil {
		return domain.Internal(err)
	}
	if !ok {
		return domain.Unauthorized("Current password is incorrect")
	}

	hash, err := HashPassword(next, DefaultArgon2idParams())
	if err != nil {
		return domain.Internal(err)
	}
	user.PasswordHash = hash
	user.UpdatedAt = s.now()

	if err := s.store.UpdateUser(ctx, user); err != nil {
		return domain.Internal(err)
	}
	return nil
}

func (s *Service) sendVerificationMail(ctx context.Context, user *domain.User) {
	if s.mailer == nil {
		return
	}
	if err := s.mailer.SendVerificationEmail(ctx, user.Email, user.Name, user.VerificationToken); err != nil {
		s.logger.Warn("verification email delivery failed",
			"user_id", user.ID,
			"error", err,
		)
	}
}

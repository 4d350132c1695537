package identity

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/emedx/imaging-gateway/pkg/domain"
)

// Token lifetimes. Session tokens are stateless and expiry-bounded: there is
// no server-side revocation list, so exposure after credential change is
// bounded by the session TTL.
const (
	SessionTokenTTL      = 30 * 24 * time.Hour
	VerificationTokenTTL = 24 * time.Hour
)

// TokenIssuer issues and verifies signed session tokens. Verification is
// stateless: the token binds the subject id and expiry under an HMAC-SHA256
// signature with the shared secret.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates a TokenIssuer with the given shared secret.
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = SessionTokenTTL
	}
	return &TokenIssuer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue returns a signed session token bound to the subject id.
func (i *TokenIssuer) Issue(subject string) (string, error) {
	now := i.now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Verify checks signature and expiry and returns the bound subject id.
// Every failure mode collapses to domain.ErrInvalidToken so callers cannot
// distinguish a forged token from an expired one.
func (i *TokenIssuer) Verify(tokenStr string) (string, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)

	var claims jwt.RegisteredClaims
	_, err := parser.ParseWithClaims(tokenStr, &claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	})
	if err != nil {
		return "", domain.ErrInvalidToken
	}
	if claims.Subject == "" {
		return "", domain.ErrInvalidToken
	}
	return claims.Subject, nil
}

// NewVerificationToken returns an opaque random token for email verification
// links. It is stored server-side on the account record and is single use.
func NewVerificationToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

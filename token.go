package keepsake

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the verified payload carried by an issued token. There is no
// user identity beyond "logged in": the login exchange is a single shared
// secret, so the claims only tag the session as authenticated.
type Claims struct {
	Authenticated bool      `json:"authenticated"`
	LoginTime     time.Time `json:"loginTime"`
	jwt.RegisteredClaims
}

// TokenService exchanges the shared secret for a signed, time-bounded token
// and verifies tokens statelessly. The raw secret is never stored in a
// token or returned to a caller.
type TokenService struct {
	secret   []byte
	password string
	ttl      time.Duration
}

// NewTokenService builds a TokenService from the configured login password,
// signing key and validity window.
func NewTokenService(password, signingKey string, ttl time.Duration) *TokenService {
	return &TokenService{
		secret:   []byte(signingKey),
		password: password,
		ttl:      ttl,
	}
}

// Issue compares submitted against the configured secret, ignoring letter
// case, and returns a signed HS256 token valid for the configured window.
// Any mismatch fails with ErrInvalidCredentials; wrong and malformed input
// are deliberately indistinguishable to the caller.
func (s *TokenService) Issue(submitted string) (string, error) {
	if !strings.EqualFold(submitted, s.password) {
		return "", ErrInvalidCredentials
	}
	now := time.Now()
	claims := &Claims{
		Authenticated: true,
		LoginTime:     now.UTC(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify validates signature and expiry and returns the embedded claims.
// Past-expiry tokens fail with ErrTokenExpired; every other failure (bad
// signature, malformed structure, unexpected algorithm) is ErrTokenInvalid.
// Unknown extra claims are tolerated.
func (s *TokenService) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if !token.Valid || !claims.Authenticated {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// ExpiresAtTime returns the expiry of verified claims, or the zero time
// when the claim is missing.
func (c *Claims) ExpiresAtTime() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

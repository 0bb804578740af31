package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// Issuer is stamped into every token and required when parsing.
	Issuer = "graymon"

	// DefaultAccessTokenTTL applies when a non-positive TTL is requested.
	DefaultAccessTokenTTL = 15 * time.Minute

	// clockSkew tolerates drift between the issuing host and the monitor.
	clockSkew = 30 * time.Second
)

// Claims are the JWT claims of a monitor access token.
type Claims struct {
	jwt.RegisteredClaims
	Role      Role   `json:"role"`
	SessionID string `json:"sid"`
}

// Identity returns the caller the claims describe.
func (c *Claims) Identity() *Identity {
	return &Identity{Subject: c.Subject, Role: c.Role, SessionID: c.SessionID}
}

func (c *Claims) check() error {
	switch {
	case c.Subject == "":
		return fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	case !IsValidRole(c.Role):
		return fmt.Errorf("%w: unknown role %q", ErrTokenInvalid, c.Role)
	}
	return nil
}

// GenerateAccessToken signs an HS256 token for subject with role.
// Tokens are never revoked, so keep ttl short.
func GenerateAccessToken(subject string, role Role, secret string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultAccessTokenTTL
	}
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Role:      role,
		SessionID: uuid.NewString(),
	}
	if err := claims.check(); err != nil {
		return "", err
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}
	return signed, nil
}

// ParseToken verifies signature, issuer and expiry of raw and returns its
// claims. Every failure wraps ErrTokenInvalid.
func ParseToken(raw, secret string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return []byte(secret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	if err := claims.check(); err != nil {
		return nil, err
	}
	return claims, nil
}

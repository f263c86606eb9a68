package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTTL applies when a token is issued with a non-positive lifetime.
const DefaultTTL = 24 * time.Hour

// Issuer is written into every token and checked on parse.
const Issuer = "terrarium"

var (
	ErrSecretMissing = errors.New("auth: signing secret is empty")
	ErrSubjectEmpty  = errors.New("auth: subject is empty")
	ErrTokenInvalid  = errors.New("auth: invalid token")
)

// Claims are the JWT claims carried by an API token.
type Claims struct {
	jwt.RegisteredClaims
}

// IssueToken creates a signed HS256 token for subject.
//
// Parameters:
//   - secret: security.jwt.secret
//   - subject: Who the token is for; shows up in request logs
//   - ttl: Token lifetime; DefaultTTL when zero or negative
//
// Returns:
//   - string: The compact signed token
//   - error: ErrSecretMissing, ErrSubjectEmpty or a signing failure
func IssueToken(secret, subject string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", ErrSecretMissing
	}
	if subject == "" {
		return "", ErrSubjectEmpty
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// ParseToken validates a token's signature, expiry and issuer and returns
// its claims. Every failure wraps ErrTokenInvalid.
func ParseToken(tokenString, secret string) (*Claims, error) {
	if secret == "" {
		return nil, ErrSecretMissing
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	return claims, nil
}

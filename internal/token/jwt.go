// Package token is the single token-verification routine for the whole
// service. Every entry point validates identity tokens through Verifier;
// no second parsing path may exist.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	dErrors "membergate/pkg/domain-errors"
)

// Claims represents the claims we expect from the identity provider.
type Claims struct {
	Email string   `json:"email"`
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// Identity is a validated caller identity: a stable subject plus the identity
// claim used to resolve a Party.
type Identity struct {
	Subject uuid.UUID
	Email   string
	Roles   []string
}

// Verifier validates identity tokens against the configured trust anchor.
type Verifier struct {
	signingKey []byte
	issuer     string
	audience   string
}

// NewVerifier constructs a Verifier for the given trust anchor.
func NewVerifier(signingKey, issuer, audience string) *Verifier {
	return &Verifier{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
	}
}

// Verify validates signature, expiry, issuer, and audience and returns the
// caller identity. All failures map to CodeUnauthenticated; callers never see
// parser detail.
func (v *Verifier) Verify(tokenString string) (Identity, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return v.signingKey, nil
	}, jwt.WithIssuer(v.issuer), jwt.WithAudience(v.audience), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, dErrors.New(dErrors.CodeUnauthenticated, "token has expired")
		}
		return Identity{}, dErrors.New(dErrors.CodeUnauthenticated, "invalid token")
	}
	if !parsed.Valid {
		return Identity{}, dErrors.New(dErrors.CodeUnauthenticated, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return Identity{}, dErrors.New(dErrors.CodeUnauthenticated, "invalid token claims")
	}
	subject, err := uuid.Parse(claims.Subject)
	if err != nil || subject == uuid.Nil {
		return Identity{}, dErrors.New(dErrors.CodeUnauthenticated, "invalid token subject")
	}

	return Identity{Subject: subject, Email: claims.Email, Roles: claims.Roles}, nil
}

// Sign mints a token for the given identity. Used by tests and local
// development; production tokens come from the external identity provider
// sharing the trust anchor.
func (v *Verifier) Sign(identity Identity, expiresIn time.Duration) (string, error) {
	now := time.Now()
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Email: identity.Email,
		Roles: identity.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.Subject.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    v.issuer,
			Audience:  []string{v.audience},
			ID:        uuid.NewString(),
		},
	})
	return t.SignedString(v.signingKey)
}

// Package auth issues and verifies the service's own JWTs and holds
// callers' Azure access tokens in an encrypted in-memory vault.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	issuer   = "aztriage"
	audience = "aztriage-api"
)

// minSecretLen rejects secrets too short to resist brute force.
const minSecretLen = 32

// Claims are the session claims carried in an aztriage JWT.
type Claims struct {
	UPN      string `json:"upn"`
	TenantID string `json:"tid,omitempty"`
	jwt.RegisteredClaims
}

// JWTService signs and verifies session tokens with HS256.
type JWTService struct {
	secret []byte
	expiry time.Duration
	now    func() time.Time
}

// NewJWTService creates the service. The now function is its clock;
// pass nil for wall-clock time.
func NewJWTService(secret string, expiry time.Duration, now func() time.Time) (*JWTService, error) {
	if len(secret) < minSecretLen {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes", minSecretLen)
	}
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	if now == nil {
		now = time.Now
	}
	return &JWTService{secret: []byte(secret), expiry: expiry, now: now}, nil
}

// Issue signs a token for the principal.
func (s *JWTService) Issue(upn, tenantID string) (string, error) {
	if upn == "" {
		return "", errors.New("upn is required")
	}
	issued := s.now()
	claims := Claims{
		UPN:      upn,
		TenantID: tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{audience},
			Subject:   upn,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(s.expiry)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token, returning its claims.
func (s *JWTService) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithIssuer(issuer),
		jwt.WithAudience(audience),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}
	if claims.UPN == "" {
		return nil, errors.New("token missing upn claim")
	}
	return claims, nil
}

// Package auth issues and verifies the HS256 tokens used by the org-scoped
// API and the OAuth connect flow.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	apiAudience   = "salon-payments"
	stateAudience = "mp-oauth-state"
)

var (
	// ErrInvalidToken is returned for any token that fails verification.
	ErrInvalidToken = errors.New("invalid token")

	// ErrMissingOrg is returned for a valid token without an org_id claim.
	ErrMissingOrg = errors.New("token has no org_id claim")
)

// Claims carries the organization the caller acts for.
type Claims struct {
	jwt.RegisteredClaims
	OrgID string `json:"org_id"`
}

// Authenticator signs and verifies tokens with a shared secret.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator returns an Authenticator for secret.
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// GenerateToken issues an API token for subject acting for orgID.
func (a *Authenticator) GenerateToken(subject, orgID string, validity time.Duration) (string, error) {
	return a.sign(Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Audience:  jwt.ClaimStrings{apiAudience},
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validity)),
		},
		OrgID: orgID,
	})
}

// ParseToken verifies an API token and returns its claims.
func (a *Authenticator) ParseToken(tokenString string) (*Claims, error) {
	claims, err := a.parse(tokenString, apiAudience)
	if err != nil {
		return nil, err
	}
	if claims.OrgID == "" {
		return nil, ErrMissingOrg
	}
	return claims, nil
}

// SignState issues the opaque state parameter of the OAuth connect flow.
func (a *Authenticator) SignState(orgID string, validity time.Duration) (string, error) {
	return a.sign(Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Audience:  jwt.ClaimStrings{stateAudience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validity)),
		},
		OrgID: orgID,
	})
}

// VerifyState returns the organization a state parameter was issued for.
func (a *Authenticator) VerifyState(state string) (string, error) {
	claims, err := a.parse(state, stateAudience)
	if err != nil {
		return "", err
	}
	if claims.OrgID == "" {
		return "", ErrMissingOrg
	}
	return claims.OrgID, nil
}

func (a *Authenticator) sign(claims Claims) (string, error) {
	if len(a.secret) == 0 {
		return "", errors.New("auth secret is not configured")
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (a *Authenticator) parse(tokenString, audience string) (*Claims, error) {
	if len(a.secret) == 0 {
		return nil, ErrInvalidToken
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

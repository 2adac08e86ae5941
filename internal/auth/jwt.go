// Tandem - Realtime Optimistic Sync for Two-Party Relationships
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tandem

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tomtom215/tandem/internal/config"
	"github.com/tomtom215/tandem/internal/models"
)

// Claims represents JWT claims. The subject is the user id.
type Claims struct {
	DisplayName string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the subject claim.
func (c *Claims) UserID() string { return c.Subject }

// TokenVerifier is the trust anchor used by the gateway and the API.
type TokenVerifier interface {
	// Verify returns the user id carried by token. Failures wrap
	// models.ErrAuthentication.
	Verify(token string) (string, error)
}

// JWTManager issues and validates HS256 tokens with a shared secret.
type JWTManager struct {
	secret  []byte
	timeout time.Duration
	issuer  string
}

// NewJWTManager creates a JWT manager from the security configuration.
//
// The secret must be at least 32 characters; Validate enforces this before
// the manager is built.
func NewJWTManager(cfg *config.SecurityConfig) (*JWTManager, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT secret is required but was empty")
	}
	return &JWTManager{
		secret:  []byte(cfg.JWTSecret),
		timeout: cfg.TokenTTL,
		issuer:  cfg.Issuer,
	}, nil
}

// GenerateToken signs a token for userID. Used by tandemctl and tests; in
// production tokens come from the external auth provider sharing the secret.
func (m *JWTManager) GenerateToken(userID, displayName string) (string, error) {
	now := time.Now()
	claims := &Claims{
		DisplayName: displayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    m.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.timeout)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and verifies a token.
//
// Rejects tokens signed with anything other than HMAC, expired or not yet
// valid tokens, tokens from another issuer (when one is configured) and
// tokens without a subject.
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: empty token", models.ErrAuthentication)
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: token expired", models.ErrAuthentication)
		}
		return nil, fmt.Errorf("%w: %v", models.ErrAuthentication, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: invalid token claims", models.ErrAuthentication)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", models.ErrAuthentication)
	}
	return claims, nil
}

// Verify implements TokenVerifier.
func (m *JWTManager) Verify(token string) (string, error) {
	claims, err := m.ValidateToken(token)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

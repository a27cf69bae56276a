// Package auth provides operator JWT issuance/validation, password hashing
// and agent credential generation.
package auth

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/autopatch-dev/autopatch/internal/models"
)

type sessionKey struct{}

// Session is the authenticated principal attached to a request context.
type Session struct {
	UserID int64
	Email  string
	Role   models.Role
}

// IsAdmin reports whether the session belongs to an admin.
func (s *Session) IsAdmin() bool {
	return s != nil && s.Role == models.RoleAdmin
}

// WithSession attaches a session to the context.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFrom extracts the session from the context, if any.
func SessionFrom(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionKey{}).(*Session)
	return s
}

// Claims are the operator token claims.
type Claims struct {
	jwt.RegisteredClaims
	UserID int64       `json:"uid"`
	Email  string      `json:"email"`
	Role   models.Role `json:"role"`
}

// JWTManager signs and validates operator tokens with an Ed25519 key pair
// derived from a hex-encoded seed.
type JWTManager struct {
	privateKey    ed25519.PrivateKey
	publicKey     ed25519.PublicKey
	tokenDuration time.Duration
}

// NewJWTManager derives the key pair from a hex-encoded Ed25519 seed.
func NewJWTManager(seedHex string, tokenDuration time.Duration) (*JWTManager, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("JWT private key must be a hex-encoded string: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("JWT private key seed must be exactly %d bytes, got %d", ed25519.SeedSize, len(seed))
	}

	privateKey := ed25519.NewKeyFromSeed(seed)
	return &JWTManager{
		privateKey:    privateKey,
		publicKey:     privateKey.Public().(ed25519.PublicKey),
		tokenDuration: tokenDuration,
	}, nil
}

// GenerateToken issues a signed token for the user.
func (j *JWTManager) GenerateToken(user *models.User) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "autopatch",
			Subject:   user.Email,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.tokenDuration)),
		},
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
	}

	token := jwt.NewWithClaims(&jwt.SigningMethodEd25519{}, claims)
	signed, err := token.SignedString(j.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and validates a token, returning its claims.
func (j *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(_ *jwt.Token) (any, error) { return j.publicKey, nil },
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// Authenticate resolves a bearer Authorization header into a session.
// A missing header yields a nil session without error; invalid tokens fail.
func (j *JWTManager) Authenticate(authHeader string) (*Session, error) {
	const bearerPrefix = "Bearer "
	if len(authHeader) < len(bearerPrefix) || !strings.EqualFold(authHeader[:len(bearerPrefix)], bearerPrefix) {
		return nil, nil
	}
	claims, err := j.ValidateToken(authHeader[len(bearerPrefix):])
	if err != nil {
		return nil, err
	}
	return &Session{UserID: claims.UserID, Email: claims.Email, Role: claims.Role}, nil
}

package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token errors.
var (
	ErrInvalidToken        = errors.New("invalid token")
	ErrExpiredToken        = errors.New("token has expired")
	ErrTokenSigningFailed  = errors.New("failed to sign token")
	ErrInvalidSecretLength = errors.New("token secret must be at least 32 characters")
)

// TokenConfig holds configuration for session token generation.
type TokenConfig struct {
	// Secret is the HMAC signing key. Must be at least 32 characters.
	// Empty means a random per-process secret: tokens then survive only as
	// long as the process, which matches the in-memory session registry.
	Secret string

	// Issuer is the token issuer claim.
	Issuer string

	// TTL is the token lifetime. Tokens are also revoked early on leave
	// and on session expiration via the registry's token-ID check.
	TTL time.Duration
}

// TokenClaims are the JWT claims of a session token. The token is a bearer
// credential bound to one (sessionID, clientID) membership.
type TokenClaims struct {
	jwt.RegisteredClaims

	SessionID string `json:"sid"`
	ClientID  string `json:"cid"`
}

// TokenService issues and validates session tokens.
type TokenService struct {
	config TokenConfig
	secret []byte
}

// NewTokenService creates a token service with the given configuration.
func NewTokenService(config TokenConfig) (*TokenService, error) {
	if config.Secret != "" && len(config.Secret) < 32 {
		return nil, ErrInvalidSecretLength
	}
	if config.Issuer == "" {
		config.Issuer = "sharethings"
	}
	if config.TTL == 0 {
		config.TTL = 24 * time.Hour
	}

	secret := []byte(config.Secret)
	if len(secret) == 0 {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("failed to generate token secret: %w", err)
		}
		secret = []byte(hex.EncodeToString(buf))
	}

	return &TokenService{config: config, secret: secret}, nil
}

// Issue creates a token bound to (sessionID, clientID). The returned tokenID
// (the jti claim) is stored on the member record; a token whose ID no longer
// matches the member's current one is revoked.
func (s *TokenService) Issue(sessionID, clientID string) (token, tokenID string, err error) {
	now := time.Now()
	tokenID = uuid.NewString()

	claims := &TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID,
			Issuer:    s.config.Issuer,
			Subject:   clientID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.TTL)),
		},
		SessionID: sessionID,
		ClientID:  clientID,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", "", ErrTokenSigningFailed
	}
	return signed, tokenID, nil
}

// Validate parses and verifies a token string and returns its claims.
func (s *TokenService) Validate(tokenString string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.SessionID == "" || claims.ClientID == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

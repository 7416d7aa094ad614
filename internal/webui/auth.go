// Package webui holds the auth contract a future operator-facing web
// surface would sit behind. No HTTP server lives here: session
// issuance and validation is all this package backs, so that routes
// like GET /sessions, GET /logs, and the mode toggle can be bolted on
// later without inventing a new token format. The routes themselves
// (and their HTML) are out of core scope.
package webui

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nexhearth/mimirgo/internal/models"
)

var (
	ErrAuthDisabled = errors.New("webui: auth disabled")
	ErrInvalidToken = errors.New("webui: invalid token")
)

// Claims embeds the user identity this module actually has: there's no
// separate web account system, just whichever UserContext the channel
// adapter that authenticated the operator already produced.
type Claims struct {
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Source      string `json:"source,omitempty"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies session tokens for the web surface.
// A zero-value TokenService (empty secret) reports auth as disabled,
// so a deployment that never configures a web UI secret doesn't need
// to special-case the absence of one.
type TokenService struct {
	secret []byte
	expiry time.Duration
}

// NewTokenService builds a TokenService. An empty secret yields a
// disabled service: Generate and Validate both return ErrAuthDisabled.
func NewTokenService(secret string, expiry time.Duration) *TokenService {
	return &TokenService{secret: []byte(secret), expiry: expiry}
}

// Enabled reports whether a secret was configured.
func (s *TokenService) Enabled() bool {
	return s != nil && len(s.secret) > 0
}

// Generate issues a signed session token for user.
func (s *TokenService) Generate(user models.UserContext) (string, error) {
	if !s.Enabled() {
		return "", ErrAuthDisabled
	}
	if strings.TrimSpace(user.UserID) == "" {
		return "", errors.New("webui: user id required")
	}

	expiry := s.expiry
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}

	claims := Claims{
		Username:    user.Username,
		DisplayName: user.DisplayName,
		Source:      user.Source,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.UserID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiry)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Validate parses token and returns the UserContext it was issued for.
func (s *TokenService) Validate(token string) (models.UserContext, error) {
	if !s.Enabled() {
		return models.UserContext{}, ErrAuthDisabled
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})
	if err != nil {
		return models.UserContext{}, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return models.UserContext{}, ErrInvalidToken
	}

	return models.UserContext{
		UserID:      claims.Subject,
		Username:    claims.Username,
		DisplayName: claims.DisplayName,
		Source:      claims.Source,
	}, nil
}

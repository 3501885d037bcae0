package backend

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/gmsas95/carewatch/internal/errors"
)

// TokenKey is the key the UI stores its bearer token under
const TokenKey = "jwtToken"

// TokenSource supplies the bearer token for outgoing requests
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed token from configuration
type StaticToken string

func (t StaticToken) Token(ctx context.Context) (string, error) {
	if t == "" {
		return "", apperrors.New(apperrors.ErrUnauthorized.Code, "no backend token configured")
	}
	return string(t), nil
}

// KVReader reads a value from a key-value store
type KVReader interface {
	GetKV(key string) (string, error)
}

// KVToken reads the token from a key-value store on every request, so a
// token refreshed by another process is picked up without a restart.
type KVToken struct {
	Store KVReader
	Key   string
	// Fallback is used when the store has no token
	Fallback string
}

func (t KVToken) Token(ctx context.Context) (string, error) {
	key := t.Key
	if key == "" {
		key = TokenKey
	}
	if t.Store != nil {
		if v, err := t.Store.GetKV(key); err == nil && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), nil
		}
	}
	return StaticToken(t.Fallback).Token(ctx)
}

// checkExpiry refuses JWTs whose exp claim has passed. The signature is not
// verified here; the backend does that. Opaque tokens pass through.
func checkExpiry(token string, now time.Time) error {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if !now.Before(exp.Time) {
		return apperrors.New(apperrors.ErrUnauthorized.Code, "backend token expired at "+exp.Time.Format(time.RFC3339))
	}
	return nil
}

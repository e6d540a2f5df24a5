package auth

import (
	"errors"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoToken indicates no access token is available to the provider.
var ErrNoToken = errors.New("no access token available")

// TokenProvider supplies the bearer credential for authenticated calls.
// Where the token lives (cookie jar, env, keychain) is the caller's concern.
type TokenProvider func() (string, error)

// Static returns a provider that always yields the given token.
func Static(token string) TokenProvider {
	return func() (string, error) {
		if token == "" {
			return "", ErrNoToken
		}
		return token, nil
	}
}

// FromEnv returns a provider that reads the token from an environment variable.
func FromEnv(key string) TokenProvider {
	return func() (string, error) {
		token := os.Getenv(key)
		if token == "" {
			return "", ErrNoToken
		}
		return token, nil
	}
}

// Expired reports whether the token carries an exp claim in the past. The
// signature is not verified; the server stays authoritative and this exists
// only to fail fast before sending a doomed request. Tokens that are not
// JWTs or carry no exp claim are left for the server to judge.
func Expired(token string, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Before(now)
}

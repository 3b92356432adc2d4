package api

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Authenticator checks the bearer key on control requests. A bcrypt hash
// takes precedence over a plain key.
type Authenticator struct {
	key  string
	hash []byte
}

// NewAuthenticator returns nil when neither key nor hash is set.
func NewAuthenticator(key, hash string) *Authenticator {
	if key == "" && hash == "" {
		return nil
	}
	return &Authenticator{key: key, hash: []byte(hash)}
}

// Enabled is false for a nil Authenticator.
func (a *Authenticator) Enabled() bool { return a != nil }

// Check validates an Authorization header value.
func (a *Authenticator) Check(header string) bool {
	if !a.Enabled() {
		return true
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return false
	}
	if len(a.hash) > 0 {
		return bcrypt.CompareHashAndPassword(a.hash, []byte(token)) == nil
	}
	return SecureCompare(token, a.key)
}

// Middleware rejects requests without a valid key. /health stays open.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "missing Authorization header")
			return
		}
		if !a.Check(authHeader) {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SecureCompare performs constant-time string comparison
func SecureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// GenerateKey returns a random URL-safe API key.
func GenerateKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate API key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashKey returns the bcrypt hash to put in control.api_key_hash.
func HashKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash key: %w", err)
	}
	return string(hash), nil
}

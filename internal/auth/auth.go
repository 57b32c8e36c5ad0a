// Package auth verifies bearer tokens presented at WebSocket connect time
// (spec §4.8): signature and expiry against a pre-shared secret, with a
// short-lived cache so a reconnect storm doesn't re-verify the same token
// repeatedly.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthenticated is returned for any invalid, expired, or malformed
// token (spec §4.8: "raise unauthenticated").
var ErrUnauthenticated = errors.New("auth: unauthenticated")

// Identity is the decoded principal behind a verified token.
type Identity struct {
	UserID string
	Email  string
}

// claims is the expected shape of the pre-shared-secret JWT payload.
type claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

type cacheEntry struct {
	identity Identity
	expires  time.Time
}

// Verifier authenticates bearer tokens against a pre-shared HMAC secret,
// caching the decoded identity for up to cacheTTL per token hash (spec
// §4.8: "may cache the decoded identity for up to 15 minutes keyed by
// token hash").
type Verifier struct {
	secret   []byte
	cacheTTL time.Duration
	now      func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithCacheTTL overrides the default 15-minute decoded-identity cache
// lifetime.
func WithCacheTTL(d time.Duration) Option {
	return func(v *Verifier) { v.cacheTTL = d }
}

// WithClock overrides the verifier's time source; tests use this to
// control cache expiry deterministically.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// NewVerifier builds a Verifier from a pre-shared HMAC secret.
func NewVerifier(secret []byte, opts ...Option) *Verifier {
	v := &Verifier{
		secret:   secret,
		cacheTTL: 15 * time.Minute,
		now:      time.Now,
		cache:    make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Authenticate verifies token and returns the decoded identity, consulting
// and refreshing the cache as needed. Tokens are supplied only at connect
// time; rotation mid-connection is not supported (spec §4.8).
func (v *Verifier) Authenticate(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrUnauthenticated
	}
	key := tokenKey(token)

	v.mu.Lock()
	entry, ok := v.cache[key]
	v.mu.Unlock()
	if ok && v.now().Before(entry.expires) {
		return entry.identity, nil
	}

	identity, err := v.verify(token)
	if err != nil {
		return Identity{}, err
	}

	v.mu.Lock()
	v.cache[key] = cacheEntry{identity: identity, expires: v.now().Add(v.cacheTTL)}
	v.mu.Unlock()
	return identity, nil
}

func (v *Verifier) verify(token string) (Identity, error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrUnauthenticated
		}
		return v.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return Identity{}, ErrUnauthenticated
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || c.UserID == "" {
		return Identity{}, ErrUnauthenticated
	}
	return Identity{UserID: c.UserID, Email: c.Email}, nil
}

// tokenKey hashes token rather than caching the raw bearer value, so a
// cache dump never leaks live credentials.
func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Package credential locates and validates the auth token used for both the
// realtime channel and the REST API.
//
// Tokens have historically been written under several names by older client
// versions, so resolution scans an explicit, ordered list of (store, key)
// pairs and returns the first hit. Validation is local-only: it decodes the
// claims segment without verifying the signature (server-side verification
// remains the source of truth) and is used purely for client control flow.
package credential

import (
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Key names tried during resolution, newest first. Legacy names must keep
// being checked so sessions created by older clients survive upgrades.
const (
	KeyAccessToken = "access_token"
	KeyAuthToken   = "auth_token"
	KeyToken       = "token"
	KeyJWT         = "jwt"

	// EnvToken overrides any stored token when set.
	EnvToken = "BEACON_TOKEN"
)

// Store abstracts a credential storage location.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Delete(key string) error
}

// envStore reads and clears tokens held in the process environment.
type envStore struct{}

func (envStore) Get(key string) (string, bool) {
	value := strings.TrimSpace(os.Getenv(key))
	return value, value != ""
}

func (envStore) Set(key, value string) error { return os.Setenv(key, value) }

func (envStore) Delete(key string) error { return os.Unsetenv(key) }

// Location is one (store, key) pair scanned during resolution.
type Location struct {
	Store Store
	Key   string
}

// Resolver scans a fixed list of locations for a token.
type Resolver struct {
	locations []Location
}

// NewResolver builds the default resolution order: the environment override
// first, then the file store under its current and legacy key names.
func NewResolver(files Store) *Resolver {
	return &Resolver{locations: []Location{
		{Store: envStore{}, Key: EnvToken},
		{Store: files, Key: KeyAccessToken},
		{Store: files, Key: KeyAuthToken},
		{Store: files, Key: KeyToken},
		{Store: files, Key: KeyJWT},
	}}
}

// NewResolverWithLocations builds a resolver over an explicit location list.
func NewResolverWithLocations(locations []Location) *Resolver {
	return &Resolver{locations: locations}
}

// Resolve returns the first non-empty token found, in resolution order.
func (r *Resolver) Resolve() (string, bool) {
	for _, loc := range r.locations {
		if value, ok := loc.Store.Get(loc.Key); ok {
			return value, true
		}
	}
	return "", false
}

// Save writes the token under the current key name.
func (r *Resolver) Save(token string) error {
	for _, loc := range r.locations {
		if loc.Key == KeyAccessToken {
			return loc.Store.Set(loc.Key, token)
		}
	}
	return nil
}

// ClearAll removes the credential from every known location. Used after the
// server signals an auth rejection so a stale token cannot be picked up again.
func (r *Resolver) ClearAll() {
	for _, loc := range r.locations {
		_ = loc.Store.Delete(loc.Key)
	}
}

// Validate reports whether token is structurally a JWT with an unexpired exp
// claim. It never returns an error: any malformed input is simply invalid.
// Tokens without an exp claim are accepted; the server will 401 if needed.
func Validate(token string) bool {
	token = strings.TrimSpace(token)
	if token == "" {
		return false
	}
	if len(strings.Split(token, ".")) != 3 {
		return false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return false
	}
	if exp == nil {
		return true
	}
	return exp.After(time.Now())
}

// ExpiresAt returns the expiry timestamp encoded in token, if present.
func ExpiresAt(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(token), claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// ExpiringSoon reports whether token is already expired or will expire within
// window. Tokens without a parsable exp are treated as non-expiring.
func ExpiringSoon(token string, window time.Duration) bool {
	exp, ok := ExpiresAt(token)
	if !ok {
		return false
	}
	return time.Until(exp) <= window
}

// Subject returns the subject (user id) claim, if present.
func Subject(token string) (string, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(token), claims); err != nil {
		return "", false
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", false
	}
	return sub, true
}

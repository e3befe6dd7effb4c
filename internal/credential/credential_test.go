package credential

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/beaconhq/beacon/internal/storage"
)

func makeToken(t *testing.T, claims map[string]interface{}) string {
	t.Helper()

	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	body, err := json.Marshal(claims)
	require.NoError(t, err)
	payload := base64.RawURLEncoding.EncodeToString(body)
	return fmt.Sprintf("%s.%s.%s", header, payload, base64.RawURLEncoding.EncodeToString([]byte("sig")))
}

func newFileStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.New(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestResolve_LegacyKeyName(t *testing.T) {
	files := newFileStore(t)
	token := makeToken(t, map[string]interface{}{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	// Only a legacy key name is populated, as left behind by an old client.
	require.NoError(t, files.Set(KeyToken, token))

	r := NewResolver(files)
	got, ok := r.Resolve()
	require.True(t, ok)
	require.Equal(t, token, got)
	require.True(t, Validate(got))
}

func TestResolve_OrderPrefersCurrentKey(t *testing.T) {
	files := newFileStore(t)
	require.NoError(t, files.Set(KeyJWT, "legacy-token"))
	require.NoError(t, files.Set(KeyAccessToken, "current-token"))

	r := NewResolver(files)
	got, ok := r.Resolve()
	require.True(t, ok)
	require.Equal(t, "current-token", got)
}

func TestResolve_Empty(t *testing.T) {
	r := NewResolver(newFileStore(t))
	_, ok := r.Resolve()
	require.False(t, ok)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		token string
		want  bool
	}{
		{"empty", "", false},
		{"not a jwt", "nope", false},
		{"two segments", "a.b", false},
		{"four segments", "a.b.c.d", false},
		{"garbage claims", "aGVhZGVy.bm90LWpzb24.c2ln", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Validate(tt.token))
		})
	}
}

func TestValidate_Expiry(t *testing.T) {
	expired := makeToken(t, map[string]interface{}{
		"sub": "user-1",
		"exp": time.Now().Add(-time.Minute).Unix(),
	})
	require.False(t, Validate(expired))

	live := makeToken(t, map[string]interface{}{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	require.True(t, Validate(live))

	// No exp claim: accepted, the server is authoritative.
	noExp := makeToken(t, map[string]interface{}{"sub": "user-1"})
	require.True(t, Validate(noExp))
}

func TestClearAll(t *testing.T) {
	files := newFileStore(t)
	for _, key := range []string{KeyAccessToken, KeyAuthToken, KeyToken, KeyJWT} {
		require.NoError(t, files.Set(key, "tok-"+key))
	}

	r := NewResolver(files)
	r.ClearAll()

	_, ok := r.Resolve()
	require.False(t, ok)
	for _, key := range []string{KeyAccessToken, KeyAuthToken, KeyToken, KeyJWT} {
		_, present := files.Get(key)
		require.False(t, present, "key %s should be cleared", key)
	}
}

func TestExpiresAtAndExpiringSoon(t *testing.T) {
	exp := time.Now().Add(30 * time.Minute).Truncate(time.Second)
	token := makeToken(t, map[string]interface{}{"exp": exp.Unix()})

	got, ok := ExpiresAt(token)
	require.True(t, ok)
	require.WithinDuration(t, exp, got, time.Second)

	require.True(t, ExpiringSoon(token, time.Hour))
	require.False(t, ExpiringSoon(token, time.Minute))
	require.False(t, ExpiringSoon("not-a-token", time.Hour))
}

func TestSubject(t *testing.T) {
	token := makeToken(t, map[string]interface{}{"sub": "user-42"})
	sub, ok := Subject(token)
	require.True(t, ok)
	require.Equal(t, "user-42", sub)
}

package auth

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFileTokenStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "creds")
	store, err := NewFileTokenStore(dir)
	require.NoError(t, err)

	_, err = store.Load()
	require.ErrorIs(t, err, ErrTokenNotFound)

	require.NoError(t, store.Save("abc"))

	info, err := os.Stat(filepath.Join(dir, "token.json"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())

	token, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, "abc", token)

	require.NoError(t, store.Clear())
	require.NoError(t, store.Clear())

	_, err = store.Load()
	require.ErrorIs(t, err, ErrTokenNotFound)
}

func TestExpired(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name  string
		token string
		want  bool
	}{
		{name: "opaque", token: "not-a-jwt", want: false},
		{name: "future exp", token: signedToken(t, now.Add(time.Hour)), want: false},
		{name: "past exp", token: signedToken(t, now.Add(-time.Hour)), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, expired(tt.token, now))
		})
	}
}

func TestFingerprint(t *testing.T) {
	fp := Fingerprint("secret-token")
	require.NotEmpty(t, fp)
	require.NotContains(t, fp, "secret")
	require.Equal(t, fp, Fingerprint("secret-token"))
}

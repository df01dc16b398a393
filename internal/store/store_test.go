package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.json")

	fs, err := NewFileStore(path)
	require.NoError(t, err)

	_, err = fs.Get(ctx, KeyAccessToken)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, fs.Set(ctx, KeyAccessToken, "tok-1"))
	v, err := fs.Get(ctx, KeyAccessToken)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", v)

	// A fresh instance must see the persisted value.
	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	v, err = reopened.Get(ctx, KeyAccessToken)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", v)

	require.NoError(t, reopened.Delete(ctx, KeyAccessToken))
	_, err = reopened.Get(ctx, KeyAccessToken)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetCredentials(t *testing.T) {
	ctx := context.Background()

	t.Run("complete", func(t *testing.T) {
		s := NewMemoryStore()
		require.NoError(t, s.Set(ctx, KeyClientID, "id"))
		require.NoError(t, s.Set(ctx, KeyClientSecret, "secret"))
		require.NoError(t, s.Set(ctx, KeyRefreshToken, "refresh"))

		creds, err := GetCredentials(ctx, s)
		require.NoError(t, err)
		assert.Equal(t, Credentials{ClientID: "id", ClientSecret: "secret", RefreshToken: "refresh"}, creds)
	})

	t.Run("missing refresh token", func(t *testing.T) {
		s := NewMemoryStore()
		require.NoError(t, s.Set(ctx, KeyClientID, "id"))
		require.NoError(t, s.Set(ctx, KeyClientSecret, "secret"))

		_, err := GetCredentials(ctx, s)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing credentials")
	})

	t.Run("empty value treated as missing", func(t *testing.T) {
		s := NewMemoryStore()
		require.NoError(t, s.Set(ctx, KeyClientID, ""))
		require.NoError(t, s.Set(ctx, KeyClientSecret, "secret"))
		require.NoError(t, s.Set(ctx, KeyRefreshToken, "refresh"))

		_, err := GetCredentials(ctx, s)
		require.Error(t, err)
	})
}

func TestTargetVolume(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		stored    string
		hasStored bool
		want      int
		corrected bool
	}{
		{name: "absent falls back", want: DefaultVolume},
		{name: "valid", stored: "65", hasStored: true, want: 65},
		{name: "valid with whitespace", stored: " 20 ", hasStored: true, want: 20},
		{name: "zero is valid", stored: "0", hasStored: true, want: 0},
		{name: "unparseable", stored: "loud", hasStored: true, want: DefaultVolume, corrected: true},
		{name: "below range", stored: "-5", hasStored: true, want: DefaultVolume, corrected: true},
		{name: "above range", stored: "150", hasStored: true, want: DefaultVolume, corrected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewMemoryStore()
			if tt.hasStored {
				require.NoError(t, s.Set(ctx, KeyTargetVolume, tt.stored))
			}

			assert.Equal(t, tt.want, TargetVolume(ctx, s))

			if tt.corrected {
				// The corrected value must have been written back.
				v, err := s.Get(ctx, KeyTargetVolume)
				require.NoError(t, err)
				assert.Equal(t, "40", v)
			}
		})
	}
}

func TestSaveTargetVolume_Bounds(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	assert.Error(t, SaveTargetVolume(ctx, s, -1))
	assert.Error(t, SaveTargetVolume(ctx, s, 101))
	require.NoError(t, SaveTargetVolume(ctx, s, 100))

	v, err := s.Get(ctx, KeyTargetVolume)
	require.NoError(t, err)
	assert.Equal(t, "100", v)
}

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spotiduck/spotiduck/internal/store"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_FromFile(t *testing.T) {
	path := writeConfig(t, `{
		"SPOTIFY_CLIENT_ID": "id-1",
		"SPOTIFY_CLIENT_SECRET": "secret-1",
		"SPOTIFY_REFRESH_TOKEN": "refresh-1"
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "id-1", cfg.ClientID)
	assert.Equal(t, "secret-1", cfg.ClientSecret)
	assert.Equal(t, "refresh-1", cfg.RefreshToken)
	assert.Equal(t, DefaultRedirectURI, cfg.RedirectURI)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `{"SPOTIFY_CLIENT_ID": "file-id"}`)
	t.Setenv("SPOTIFY_CLIENT_ID", "env-id")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-id", cfg.ClientID)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestSeed(t *testing.T) {
	ctx := context.Background()

	t.Run("complete set", func(t *testing.T) {
		s := store.NewMemoryStore()
		cfg := &Config{ClientID: "id", ClientSecret: "secret", RefreshToken: "refresh"}
		require.NoError(t, cfg.Seed(ctx, s))

		creds, err := store.GetCredentials(ctx, s)
		require.NoError(t, err)
		assert.Equal(t, "refresh", creds.RefreshToken)
	})

	t.Run("partial set refused", func(t *testing.T) {
		s := store.NewMemoryStore()
		cfg := &Config{ClientID: "id"}
		assert.Error(t, cfg.Seed(ctx, s))
	})
}

// Package config loads the bundled credential configuration and seeds
// it into the store at startup.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spotiduck/spotiduck/internal/store"
)

const DefaultRedirectURI = "http://localhost:5000/callback"

// Config mirrors config.json. Environment variables with the same names
// override file values.
type Config struct {
	ClientID     string `json:"SPOTIFY_CLIENT_ID"`
	ClientSecret string `json:"SPOTIFY_CLIENT_SECRET"`
	RefreshToken string `json:"SPOTIFY_REFRESH_TOKEN"`
	RedirectURI  string `json:"REDIRECT_URI"`
}

// Load reads config.json from path (optional; pass "" to rely on the
// environment alone) and applies environment overrides. A .env file in
// the working directory is honored if present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		cfg.ClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		cfg.ClientSecret = v
	}
	if v := os.Getenv("SPOTIFY_REFRESH_TOKEN"); v != "" {
		cfg.RefreshToken = v
	}
	if v := os.Getenv("REDIRECT_URI"); v != "" {
		cfg.RedirectURI = v
	}
	if cfg.RedirectURI == "" {
		cfg.RedirectURI = DefaultRedirectURI
	}

	return cfg, nil
}

// Seed copies the credential set verbatim into the store. It refuses to
// seed a partial credential set; seeding with all three present
// overwrites whatever the store held.
func (c *Config) Seed(ctx context.Context, s store.Store) error {
	if c.ClientID == "" || c.ClientSecret == "" || c.RefreshToken == "" {
		return fmt.Errorf("incomplete credentials in config")
	}
	for key, value := range map[string]string{
		store.KeyClientID:     c.ClientID,
		store.KeyClientSecret: c.ClientSecret,
		store.KeyRefreshToken: c.RefreshToken,
	} {
		if err := s.Set(ctx, key, value); err != nil {
			return fmt.Errorf("seed %s: %w", key, err)
		}
	}
	return nil
}

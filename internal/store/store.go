// Package store provides the persistent key-value storage shared by all
// components: client credentials, the mirrored access token, and the
// user's target volume.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Storage keys. The names match the original storage schema so an
// existing store file stays readable across versions.
const (
	KeyClientID     = "spotify_client_id"
	KeyClientSecret = "spotify_client_secret"
	KeyRefreshToken = "spotify_refresh_token"
	KeyAccessToken  = "spotify_token"
	KeyTargetVolume = "spotify_volume"
	KeyTokenExpiry  = "token_expiry"
)

const (
	VolumeMin = 0
	VolumeMax = 100

	// DefaultVolume is applied whenever the persisted target volume is
	// absent, unparseable, or out of range.
	DefaultVolume = 40
)

// ErrNotFound is returned when a key doesn't exist.
var ErrNotFound = errors.New("store: key not found")

// Store is a flat string-to-string key-value store. Writes from one
// process are not guaranteed to be visible to another without an
// explicit read; last write wins.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Credentials is the immutable client credential set provisioned at
// install time.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
}

// GetCredentials loads the credential set. It fails if any of the three
// values is missing or empty.
func GetCredentials(ctx context.Context, s Store) (Credentials, error) {
	var creds Credentials
	for _, f := range []struct {
		key string
		dst *string
	}{
		{KeyClientID, &creds.ClientID},
		{KeyClientSecret, &creds.ClientSecret},
		{KeyRefreshToken, &creds.RefreshToken},
	} {
		v, err := s.Get(ctx, f.key)
		if err != nil || v == "" {
			return Credentials{}, fmt.Errorf("missing credentials: %s", f.key)
		}
		*f.dst = v
	}
	return creds, nil
}

// TargetVolume returns the persisted target volume. An absent value
// falls back to DefaultVolume; an unparseable or out-of-range value is
// replaced by DefaultVolume and the corrected value is written back.
func TargetVolume(ctx context.Context, s Store) int {
	raw, err := s.Get(ctx, KeyTargetVolume)
	if err != nil {
		return DefaultVolume
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || v < VolumeMin || v > VolumeMax {
		_ = SaveTargetVolume(ctx, s, DefaultVolume)
		return DefaultVolume
	}
	return v
}

// SaveTargetVolume persists the target volume as a string-encoded
// integer.
func SaveTargetVolume(ctx context.Context, s Store, volume int) error {
	if volume < VolumeMin || volume > VolumeMax {
		return fmt.Errorf("volume must be between %d and %d", VolumeMin, VolumeMax)
	}
	return s.Set(ctx, KeyTargetVolume, strconv.Itoa(volume))
}

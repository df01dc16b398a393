// Package trigger turns audio-activity transitions into Spotify volume
// changes: duck to the user's target level when something starts
// playing locally, restore to full volume when it stops.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/spotiduck/spotiduck/internal/spotify"
	"github.com/spotiduck/spotiduck/pkg/model"
)

const (
	// DefaultLevel substitutes a target volume that was never loaded or
	// failed to parse.
	DefaultLevel = 40
	// RestoreLevel is applied when local audio stops.
	RestoreLevel = 100

	// maxAttempts bounds the 401 recovery path: the original attempt
	// plus exactly one refresh-and-retry. Never more.
	maxAttempts = 2
)

// PlayerAPI is the slice of the Spotify client the trigger needs.
type PlayerAPI interface {
	Player(ctx context.Context, token string) (*model.PlayerState, error)
	SetVolume(ctx context.Context, token string, percent int) error
}

// TokenSource obtains and refreshes tokens from the token authority
// over the bus.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) error
}

type Trigger struct {
	logger *zap.Logger
	api    PlayerAPI
	tokens TokenSource

	mu      sync.Mutex
	token   string
	playing bool
	target  int // -1 until a value arrives
}

func New(logger *zap.Logger, api PlayerAPI, tokens TokenSource) *Trigger {
	return &Trigger{
		logger: logger,
		api:    api,
		tokens: tokens,
		target: -1,
	}
}

// UpdateToken replaces the cached token, regardless of in-flight work.
func (t *Trigger) UpdateToken(token string) {
	t.mu.Lock()
	t.token = token
	t.mu.Unlock()
}

// UpdateTarget replaces the target volume. If audio is currently
// playing the new level takes effect immediately instead of waiting for
// the next transition.
func (t *Trigger) UpdateTarget(ctx context.Context, volume int) {
	t.mu.Lock()
	t.target = volume
	playing := t.playing
	t.mu.Unlock()

	t.logger.Info("target volume updated", zap.Int("volume", volume))
	if playing {
		if err := t.Apply(ctx, volume); err != nil {
			t.logger.Warn("re-apply volume failed", zap.Error(err))
		}
	}
}

// Run consumes activity transitions until ctx is canceled or the
// channel closes. Failures are logged and dropped; the next transition
// is a fresh start.
func (t *Trigger) Run(ctx context.Context, transitions <-chan bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case playing, ok := <-transitions:
			if !ok {
				return
			}

			t.mu.Lock()
			t.playing = playing
			target := t.target
			t.mu.Unlock()

			level := RestoreLevel
			if playing {
				level = target
				t.logger.Info("local audio started, ducking spotify")
			} else {
				t.logger.Info("local audio stopped, restoring spotify volume")
			}

			if err := t.Apply(ctx, level); err != nil {
				t.logger.Warn("volume adjustment failed", zap.Error(err))
			}
		}
	}
}

// Apply sets the Spotify volume to level. An invalid level falls back
// to DefaultLevel. A 401 from the API triggers one token refresh and
// one retry of the whole operation; a second 401 gives up. A 204
// player-status response (no active device) is a silent no-op.
func (t *Trigger) Apply(ctx context.Context, level int) error {
	if level < 0 || level > 100 {
		level = DefaultLevel
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		token, err := t.ensureToken(ctx)
		if err != nil {
			return err
		}

		err = t.apply(ctx, token, level)
		if err == nil {
			t.logger.Info("spotify volume set", zap.Int("volume", level))
			return nil
		}
		if errors.Is(err, spotify.ErrNoActiveDevice) {
			return nil
		}
		if !errors.Is(err, spotify.ErrTokenExpired) {
			return err
		}

		lastErr = err
		t.UpdateToken("")
		if attempt+1 == maxAttempts {
			break
		}
		if err := t.tokens.Refresh(ctx); err != nil {
			return fmt.Errorf("token refresh: %w", err)
		}
	}
	return lastErr
}

// ensureToken returns the cached token, requesting one from the
// authority when the cache is empty.
func (t *Trigger) ensureToken(ctx context.Context) (string, error) {
	t.mu.Lock()
	token := t.token
	t.mu.Unlock()
	if token != "" {
		return token, nil
	}

	token, err := t.tokens.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("request token: %w", err)
	}
	if token == "" {
		return "", errors.New("token not found")
	}
	t.UpdateToken(token)
	return token, nil
}

func (t *Trigger) apply(ctx context.Context, token string, level int) error {
	if _, err := t.api.Player(ctx, token); err != nil {
		return err
	}
	return t.api.SetVolume(ctx, token, level)
}

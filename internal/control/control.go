// Package control implements the user-facing control surface: account
// status, login kick-off, target volume, and transport commands. It
// talks to the daemon over the bus and validates tokens directly
// against the Spotify profile endpoint.
package control

import (
	"context"
	"fmt"

	"github.com/spotiduck/spotiduck/internal/store"
)

// Status of the linked account as shown to the user.
const (
	StatusConnected  = "connected"
	StatusNeedsLogin = "needs login"
)

// Bus is the slice of the bus client the surface needs.
type Bus interface {
	RequestToken(ctx context.Context) (string, error)
	NotifyRefresh() error
	SendVolume(volume int) error
	SendCommand(command string, params map[string]string) error
}

// Validator checks whether a token is still accepted by the API.
type Validator interface {
	Me(ctx context.Context, token string) error
}

type Surface struct {
	bus       Bus
	validator Validator
}

func New(bus Bus, validator Validator) *Surface {
	return &Surface{bus: bus, validator: validator}
}

// Status reports whether the linked account is usable. A missing or
// rejected token additionally kicks off a refresh so that the account
// may already be usable by the next check.
func (s *Surface) Status(ctx context.Context) (string, error) {
	token, err := s.bus.RequestToken(ctx)
	if err != nil {
		return "", fmt.Errorf("request token: %w", err)
	}

	if token == "" {
		_ = s.bus.NotifyRefresh()
		return StatusNeedsLogin, nil
	}
	if err := s.validator.Me(ctx, token); err != nil {
		_ = s.bus.NotifyRefresh()
		return StatusNeedsLogin, nil
	}
	return StatusConnected, nil
}

// Login asks the authority to mint a fresh token, fire-and-forget. The
// outcome arrives as a broadcast, not a reply.
func (s *Surface) Login() error {
	return s.bus.NotifyRefresh()
}

// SetVolume publishes a new target volume after validating the range.
func (s *Surface) SetVolume(volume int) error {
	if volume < store.VolumeMin || volume > store.VolumeMax {
		return fmt.Errorf("volume %d out of range %d-%d", volume, store.VolumeMin, store.VolumeMax)
	}
	return s.bus.SendVolume(volume)
}

// Command forwards a transport command (play, pause, next, previous)
// to the daemon.
func (s *Surface) Command(command string) error {
	switch command {
	case "play", "pause", "next", "previous":
	default:
		return fmt.Errorf("unknown command %q", command)
	}
	return s.bus.SendCommand(command, nil)
}

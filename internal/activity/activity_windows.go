//go:build windows
// +build windows

package activity

import (
	"context"
	"errors"
)

// TODO: implement via IAudioMeterInformation through go-ole; there is
// no built-in command that exposes per-session peak levels.
func isAudioPlaying(ctx context.Context) (bool, error) {
	return false, errors.New("audio activity detection is not supported on windows")
}

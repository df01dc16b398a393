//go:build linux
// +build linux

package activity

import (
	"context"
	"os/exec"
	"strings"
)

// isAudioPlaying checks PulseAudio sink inputs. A stream that exists
// but is corked (paused) doesn't count as playing.
func isAudioPlaying(ctx context.Context) (bool, error) {
	out, err := exec.CommandContext(ctx, "pactl", "list", "sink-inputs").Output()
	if err != nil {
		return false, err
	}
	return strings.Contains(string(out), "Corked: no"), nil
}

//go:build darwin
// +build darwin

package activity

import (
	"context"
	"os/exec"
	"strings"
)

// isAudioPlaying inspects power-management assertions. coreaudiod holds
// an assertion whenever any process is actively producing sound.
func isAudioPlaying(ctx context.Context) (bool, error) {
	out, err := exec.CommandContext(ctx, "pmset", "-g", "assertions").Output()
	if err != nil {
		return false, err
	}
	return strings.Contains(string(out), "coreaudiod"), nil
}

// Package activity watches for local audio playback. It polls a probe
// on a fixed interval and emits only the transitions, so a consumer
// sees "started playing" and "stopped playing" rather than one sample
// per tick.
package activity

import (
	"context"
	"time"
)

// DefaultInterval is the poll cadence.
const DefaultInterval = time.Second

// Probe reports whether any audio is currently audible.
type Probe func(ctx context.Context) (bool, error)

// Listener polls a probe and emits edge transitions.
type Listener struct {
	probe    Probe
	interval time.Duration
	last     bool
}

// NewListener creates a listener around probe. interval <= 0 falls back
// to DefaultInterval.
func NewListener(probe Probe, interval time.Duration) *Listener {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Listener{
		probe:    probe,
		interval: interval,
	}
}

// Listen returns a channel that emits the new playing state whenever it
// changes. Probe errors are skipped; the previous state stands until a
// successful sample disagrees with it. The channel is closed when ctx
// is canceled.
func (l *Listener) Listen(ctx context.Context) <-chan bool {
	ch := make(chan bool)

	go func() {
		defer close(ch)
		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				playing, err := l.probe(ctx)
				if err != nil {
					continue
				}
				if playing == l.last {
					continue
				}
				l.last = playing
				select {
				case ch <- playing:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return ch
}

// SystemProbe returns the platform probe for local audio playback.
func SystemProbe() Probe {
	return isAudioPlaying
}

// Package ratelimit implements a per-key sliding-window limiter used to
// keep a misbehaving client from hammering the token endpoint.
package ratelimit

import (
	"sync"
	"time"
)

const (
	DefaultRefreshLimit = 2
	DefaultWindow       = time.Second

	cleanupInterval = 5 * time.Minute
)

type Limiter struct {
	mu        sync.Mutex
	seen      map[string][]time.Time
	limit     int
	window    time.Duration
	nextSweep time.Time
}

func New(limit int, window time.Duration) *Limiter {
	return &Limiter{
		seen:   make(map[string][]time.Time),
		limit:  limit,
		window: window,
	}
}

// Allow reports whether another event for key fits within the window,
// recording it if so.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.After(l.nextSweep) {
		l.sweep(now)
		l.nextSweep = now.Add(cleanupInterval)
	}

	recent := l.prune(l.seen[key], now)
	if len(recent) >= l.limit {
		l.seen[key] = recent
		return false
	}
	l.seen[key] = append(recent, now)
	return true
}

// Forget drops all state for key, typically on client disconnect.
func (l *Limiter) Forget(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.seen, key)
}

// prune keeps only events still inside the window.
func (l *Limiter) prune(events []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-l.window)
	kept := events[:0]
	for _, ts := range events {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}

// sweep evicts keys that have gone quiet so the map doesn't grow with
// every client that ever connected. Callers must hold l.mu.
func (l *Limiter) sweep(now time.Time) {
	cutoff := now.Add(-10 * l.window)
	for key, events := range l.seen {
		active := false
		for _, ts := range events {
			if ts.After(cutoff) {
				active = true
				break
			}
		}
		if !active {
			delete(l.seen, key)
		}
	}
}

// Nutward - UPS Service Supervision and Connection Health for Network UPS Tools
// Copyright 2026 Nutward Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nutward/nutward

// Package monitor runs the two background loops: the connection health
// monitor that tracks whether the UPS answers, and the snapshot poller
// that persists device state while it does. Both are suture services.
package monitor

import (
	"context"
	"time"
)

// Backoff returns base doubled attempts times, capped at max. attempts
// counts prior consecutive failures: zero waits base, one waits 2*base,
// and so on up to max.
func Backoff(base, max time.Duration, attempts int) time.Duration {
	if attempts <= 0 || base <= 0 {
		return min(base, max)
	}
	// Shifting past 62 bits would wrap; anything that large is past any
	// sane cap already.
	if attempts > 32 {
		return max
	}
	d := base << uint(attempts)
	if d <= 0 || d > max {
		return max
	}
	return d
}

// pause sleeps for d or until the context is done.
func pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

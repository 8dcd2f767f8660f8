package ipa

import (
	"context"
	"time"
)

// MaxBackoffGrowth is the backoff value at which doubling stops.
const MaxBackoffGrowth = 1024

// NextBackoff returns the backoff that follows b seconds. Zero stays zero,
// values below 1024 double, values at or above 1024 are kept.
func NextBackoff(b int) int {
	if b > 0 && b < MaxBackoffGrowth {
		return b * 2
	}
	return b
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Backoff tracks the current delay in whole seconds.
// Not safe for concurrent use.
type Backoff struct {
	base    int
	current int
	sleep   SleepFunc
}

// NewBackoff returns a Backoff starting at base seconds. A nil sleep uses Sleep.
func NewBackoff(base int, sleep SleepFunc) *Backoff {
	if base < 0 {
		base = 0
	}
	if sleep == nil {
		sleep = Sleep
	}
	return &Backoff{base: base, current: base, sleep: sleep}
}

// Enabled reports whether the current delay is nonzero.
func (b *Backoff) Enabled() bool {
	return b.current > 0
}

// Current returns the delay the next Wait sleeps for.
func (b *Backoff) Current() int {
	return b.current
}

// Reset restores the configured base.
func (b *Backoff) Reset() {
	b.current = b.base
}

// Wait sleeps for the current delay, then advances it. The delay advances
// only when the sleep completes.
func (b *Backoff) Wait(ctx context.Context) error {
	if err := b.sleep(ctx, time.Duration(b.current)*time.Second); err != nil {
		return err
	}
	b.current = NextBackoff(b.current)
	return nil
}

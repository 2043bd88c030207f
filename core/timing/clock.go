// Package timing provides the clock every device-facing wait goes through.
// Waits are bounded and cancellable; a manual clock lets simulations and
// tests run a whole set without real sleeps.
package timing

import (
	"context"
	"sync"
	"time"
)

// Clock tells time and waits.
type Clock interface {
	Now() time.Time
	// Sleep waits for d or until ctx is done, whichever comes first.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

// Real returns the wall clock.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ManualClock advances only when Sleep is called. Sleep returns immediately
// after moving time forward, so a simulated session runs as fast as the CPU
// allows while every timing contract is still accounted for.
type ManualClock struct {
	mu    sync.Mutex
	now   time.Time
	slept time.Duration
	hook  func(now time.Time)
}

// NewManualClock starts a manual clock at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// OnSleep registers a callback run after every Sleep, with the new time.
func (c *ManualClock) OnSleep(fn func(now time.Time)) {
	c.mu.Lock()
	c.hook = fn
	c.mu.Unlock()
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	if d > 0 {
		c.now = c.now.Add(d)
		c.slept += d
	}
	now, hook := c.now, c.hook
	c.mu.Unlock()
	if hook != nil {
		hook(now)
	}
	return ctx.Err()
}

// Advance moves time forward without counting it as slept.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Slept returns the total duration passed to Sleep.
func (c *ManualClock) Slept() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slept
}

// Package playback advances the playhead at wall-clock rate.
package playback

import (
	"context"
	"sync"
	"time"
)

// DefaultInterval is one tick per 60 Hz display refresh.
const DefaultInterval = time.Second / 60

// Timeline is what the clock moves. Advance must read and move the playhead as one
// step so a concurrent Seek is never overwritten.
type Timeline interface {
	Advance(dt float64) (t float64, atEnd bool)
}

// Clock drives a Timeline's playhead while playing and stops at the end.
type Clock struct {
	timeline Timeline
	now      func() time.Time

	mu       sync.Mutex
	playing  bool
	lastTick time.Time
	onStop   func()
}

// Option configures a Clock.
type Option func(*Clock)

// WithNow replaces the time source.
func WithNow(now func() time.Time) Option {
	return func(c *Clock) { c.now = now }
}

// WithOnStop registers a callback run when playback reaches the end of the timeline.
func WithOnStop(fn func()) Option {
	return func(c *Clock) { c.onStop = fn }
}

// New returns a paused clock.
func New(tl Timeline, opts ...Option) *Clock {
	c := &Clock{timeline: tl, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Playing reports whether the clock is running.
func (c *Clock) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

// Play starts playback from the current playhead. The tick reference is reset so time
// spent paused is not counted.
func (c *Clock) Play() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.playing {
		return
	}
	c.playing = true
	c.lastTick = c.now()
}

// Pause stops playback, keeping the playhead where it is.
func (c *Clock) Pause() {
	c.mu.Lock()
	c.playing = false
	c.mu.Unlock()
}

// Toggle flips between playing and paused.
func (c *Clock) Toggle() {
	if c.Playing() {
		c.Pause()
		return
	}
	c.Play()
}

// Tick advances the playhead by the wall time elapsed since the previous tick. It
// returns false once the clock is not playing.
func (c *Clock) Tick() bool {
	c.mu.Lock()
	if !c.playing {
		c.mu.Unlock()
		return false
	}
	now := c.now()
	dt := now.Sub(c.lastTick).Seconds()
	c.lastTick = now

	_, stopped := c.timeline.Advance(dt)
	if stopped {
		c.playing = false
	}
	onStop := c.onStop
	c.mu.Unlock()

	if stopped && onStop != nil {
		onStop()
	}
	return !stopped
}

// Run ticks every interval until ctx is done. Ticks while paused are no-ops, so Run
// can stay alive for the whole editing session.
func (c *Clock) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.Tick()
		}
	}
}

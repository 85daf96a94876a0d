// Package countdown provides cancellable one-second tick timers used to drive phase timeouts.
package countdown

import (
	"sync"
	"time"

	"github.com/jason-s-yu/drawguess/internal/clock"
)

// Countdown decrements once per second until it reaches zero, then runs the
// expiry callback. Every Start bumps a generation token so ticks scheduled by an
// earlier run are ignored after Stop or restart.
type Countdown struct {
	clk clock.Clock

	mu        sync.Mutex
	gen       uint64
	remaining int
	running   bool
	timer     clock.Timer

	// OnTick, if set, is called with the remaining seconds after every tick. It
	// runs without the lock held.
	OnTick func(remaining int)
}

// New returns a stopped countdown driven by clk.
func New(clk clock.Clock) *Countdown {
	return &Countdown{clk: clk}
}

// Start (re)starts the countdown at seconds. onExpire runs once when it reaches
// zero, unless the countdown is stopped or restarted first.
func (c *Countdown) Start(seconds int, onExpire func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked()
	c.gen++
	c.remaining = seconds
	c.running = true

	delay := time.Second
	if seconds <= 0 {
		c.remaining = 0
		delay = 0
	}
	c.schedule(c.gen, delay, onExpire)
}

// schedule arms the next tick for generation gen. Assumes lock is held.
func (c *Countdown) schedule(gen uint64, delay time.Duration, onExpire func()) {
	c.timer = c.clk.AfterFunc(delay, func() {
		c.tick(gen, onExpire)
	})
}

func (c *Countdown) tick(gen uint64, onExpire func()) {
	c.mu.Lock()
	if gen != c.gen || !c.running {
		c.mu.Unlock()
		return
	}
	if c.remaining > 0 {
		c.remaining--
	}
	remaining := c.remaining
	if remaining == 0 {
		c.running = false
		c.timer = nil
	} else {
		c.schedule(gen, time.Second, onExpire)
	}
	onTick := c.OnTick
	c.mu.Unlock()

	if onTick != nil {
		onTick(remaining)
	}
	if remaining == 0 && onExpire != nil {
		onExpire()
	}
}

// Stop cancels the countdown. The expiry callback will not run for the current generation.
func (c *Countdown) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
	c.gen++
}

func (c *Countdown) stopLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.running = false
	c.remaining = 0
}

// Remaining returns the seconds left, or 0 when stopped.
func (c *Countdown) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// Running reports whether the countdown is active.
func (c *Countdown) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

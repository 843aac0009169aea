// Package clock derives an attempt's elapsed and remaining time from its
// fixed start timestamp.
//
// Every tick recomputes from now - startedAt, so a suspended process or a
// late tick never lets drift accumulate.
package clock

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultInterval is the tick cadence while an attempt is active.
const DefaultInterval = time.Second

// Snapshot is the time view of an attempt at one instant.
type Snapshot struct {
	StartedAt time.Time
	Limit     time.Duration
	Elapsed   time.Duration
	Remaining time.Duration
	Timed     bool
	Expired   bool
}

// Compute derives a Snapshot. Elapsed is clamped to [0, limit] when a limit
// exists and Remaining never goes negative. A zero limit means untimed.
func Compute(startedAt, now time.Time, limit time.Duration) Snapshot {
	elapsed := now.Sub(startedAt)
	if elapsed < 0 {
		elapsed = 0
	}

	s := Snapshot{StartedAt: startedAt, Limit: limit, Timed: limit > 0}
	if s.Timed {
		if elapsed > limit {
			elapsed = limit
		}
		s.Remaining = limit - elapsed
		s.Expired = s.Remaining == 0
	}
	s.Elapsed = elapsed
	return s
}

// Limit converts a time limit in minutes to a duration; 0 or less is untimed.
func Limit(minutes int) time.Duration {
	if minutes <= 0 {
		return 0
	}
	return time.Duration(minutes) * time.Minute
}

// Ticker is the subset of *time.Ticker the clock depends on.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFunc creates a Ticker firing every d.
type TickerFunc func(d time.Duration) Ticker

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// NewTicker wraps time.NewTicker.
func NewTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

// Options configures a Clock. Zero values select real time at 1 Hz.
type Options struct {
	Interval  time.Duration
	Now       func() time.Time
	NewTicker TickerFunc
	// OnTick runs on the clock goroutine after every recomputation.
	OnTick func(Snapshot)
	// OnExpire runs once, on the clock goroutine, when Remaining reaches zero.
	OnExpire func(Snapshot)
}

// Clock is a 1 Hz countdown bound to a start timestamp and optional limit.
type Clock struct {
	startedAt time.Time
	limit     time.Duration
	opts      Options

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}

	expired atomic.Bool
}

// New creates a stopped Clock.
func New(startedAt time.Time, limit time.Duration, opts Options) *Clock {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewTicker == nil {
		opts.NewTicker = NewTicker
	}
	return &Clock{startedAt: startedAt, limit: limit, opts: opts}
}

// Snapshot computes the current view without waiting for a tick.
func (c *Clock) Snapshot() Snapshot {
	return Compute(c.startedAt, c.opts.Now(), c.limit)
}

// Timed reports whether the clock counts down to a limit.
func (c *Clock) Timed() bool { return c.limit > 0 }

// Expired reports whether the expiry callback has fired.
func (c *Clock) Expired() bool { return c.expired.Load() }

// Running reports whether the tick loop is active.
func (c *Clock) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Start launches the tick loop. The first recomputation happens immediately,
// so a clock started after its deadline expires right away. Start returns
// false for untimed clocks, when already running, or once expired.
func (c *Clock) Start() bool {
	if !c.Timed() || c.expired.Load() {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return false
	}
	c.running = true
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.run(c.stop, c.done)
	return true
}

// Stop cancels the tick loop. It is idempotent, does not block, and may be
// called from OnTick or OnExpire.
func (c *Clock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

// Wait blocks until the current tick loop, if any, has exited.
func (c *Clock) Wait() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (c *Clock) stopLocked() {
	if !c.running {
		return
	}
	c.running = false
	close(c.stop)
}

func (c *Clock) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	t := c.opts.NewTicker(c.opts.Interval)
	defer t.Stop()

	if c.tick() {
		return
	}

	for {
		select {
		case <-stop:
			return
		case <-t.C():
			select {
			case <-stop:
				return
			default:
			}
			if c.tick() {
				return
			}
		}
	}
}

// tick recomputes the snapshot and reports whether the loop should exit.
func (c *Clock) tick() bool {
	s := c.Snapshot()
	if c.opts.OnTick != nil {
		c.opts.OnTick(s)
	}
	if !s.Expired {
		return false
	}

	if c.expired.CompareAndSwap(false, true) {
		c.Stop()
		if c.opts.OnExpire != nil {
			c.opts.OnExpire(s)
		}
	}
	return true
}

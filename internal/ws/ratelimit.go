package ws

import (
	"fmt"
	"sync"
	"time"

	"github.com/minicodemonkey/frotzchat/internal/engine"
)

// Limits sizes a connection's RateLimiter.
type Limits struct {
	// Burst and PerSecond size the token bucket every non-free request
	// draws from.
	Burst     int
	PerSecond float64
	// Boots interpreter starts are allowed per BootWindow.
	Boots      int
	BootWindow time.Duration
}

// DefaultLimits returns the limits for an engine mode. An on-demand engine
// boots and replays an interpreter for every command, so its boot window is
// sized for play instead of for starting games.
func DefaultLimits(mode engine.Mode) Limits {
	l := Limits{Burst: 20, PerSecond: 2, Boots: 3, BootWindow: time.Minute}
	if mode == engine.ModeOnDemand {
		l.Boots = 30
	}
	return l
}

func (l Limits) orDefaults() Limits {
	d := DefaultLimits(engine.ModeResident)
	if l.Burst <= 0 {
		l.Burst = d.Burst
	}
	if l.PerSecond <= 0 {
		l.PerSecond = d.PerSecond
	}
	if l.Boots <= 0 {
		l.Boots = d.Boots
	}
	if l.BootWindow <= 0 {
		l.BootWindow = d.BootWindow
	}
	return l
}

// bucket refills continuously up to its size.
type bucket struct {
	size   float64
	rate   float64
	tokens float64
	last   time.Time
}

func (b *bucket) refill(now time.Time) {
	b.tokens += now.Sub(b.last).Seconds() * b.rate
	if b.tokens > b.size {
		b.tokens = b.size
	}
	b.last = now
}

// wait is how long until a token is available.
func (b *bucket) wait() time.Duration {
	if b.tokens >= 1 {
		return 0
	}
	return time.Duration((1 - b.tokens) / b.rate * float64(time.Second))
}

// window remembers recent boots.
type window struct {
	max    int
	span   time.Duration
	starts []time.Time
}

func (w *window) expire(now time.Time) {
	i := 0
	for i < len(w.starts) && !w.starts[i].After(now.Add(-w.span)) {
		i++
	}
	w.starts = w.starts[i:]
}

// wait is how long until the oldest boot leaves the window.
func (w *window) wait(now time.Time) time.Duration {
	if len(w.starts) < w.max {
		return 0
	}
	return w.starts[0].Add(w.span).Sub(now)
}

// Verdict is the outcome of RateLimiter.Allow.
type Verdict struct {
	Allowed    bool
	RetryAfter time.Duration
	// Boot is set when the boot window refused the request.
	Boot bool
}

// Text is the message shown to a refused player.
func (v Verdict) Text() string {
	secs := int(v.RetryAfter.Seconds()) + 1
	if v.Boot {
		return fmt.Sprintf("⏳ The interpreter is busy, retry in %ds.", secs)
	}
	return fmt.Sprintf("⏳ Too many messages, retry in %ds.", secs)
}

// RateLimiter limits one connection.
type RateLimiter struct {
	mu    sync.Mutex
	flood bucket
	boots window
}

// NewRateLimiter returns a limiter with full allowances. Zero fields of l
// take the resident defaults.
func NewRateLimiter(l Limits) *RateLimiter {
	l = l.orDefaults()
	return &RateLimiter{
		flood: bucket{size: float64(l.Burst), rate: l.PerSecond, tokens: float64(l.Burst), last: time.Now()},
		boots: window{max: l.Boots, span: l.BootWindow},
	}
}

// Allow charges a request of the given cost.
func (rl *RateLimiter) Allow(cost Cost) Verdict {
	return rl.allowAt(cost, time.Now())
}

func (rl *RateLimiter) allowAt(cost Cost, now time.Time) Verdict {
	if cost == CostFree {
		return Verdict{Allowed: true}
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// A refused request consumes nothing.
	if cost == CostBoot {
		rl.boots.expire(now)
		if d := rl.boots.wait(now); d > 0 {
			return Verdict{RetryAfter: d, Boot: true}
		}
	}
	rl.flood.refill(now)
	if d := rl.flood.wait(); d > 0 {
		return Verdict{RetryAfter: d}
	}

	rl.flood.tokens--
	if cost == CostBoot {
		rl.boots.starts = append(rl.boots.starts, now)
	}
	return Verdict{Allowed: true}
}

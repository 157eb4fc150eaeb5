// Package barrier implements the start gate: a poll that re-evaluates a
// readiness predicate at a fixed interval and releases exactly once.
package barrier

import (
	"slices"
	"sync"
	"time"

	"github.com/rudransh-shrivastava/peer-mesh/internal/clock"
)

const DefaultInterval = 50 * time.Millisecond

type Config struct {
	// Interval between two failed checks. Fixed, never backed off.
	Interval time.Duration
	// MaxAttempts gives up after that many failed checks. Zero polls
	// forever.
	MaxAttempts int
	Clock       clock.Clock
	// Schedule runs f on the owner's event loop. Nil runs f directly.
	Schedule func(f func())
}

// Ready reports whether the local state matches the wanted fingerprint and
// nothing else blocks the start.
type Ready func(fingerprint string) bool

type Barrier struct {
	cfg     Config
	ready   Ready
	release func()
	timeout func(attempts int)

	mu       sync.Mutex
	wants    []string
	armed    bool
	released bool
	stopped  bool
	attempts int
	timer    *clock.Timer
}

// New returns a barrier calling release once ready holds and timeout when
// MaxAttempts is exhausted. timeout may be nil.
func New(cfg Config, ready Ready, release func(), timeout func(attempts int)) *Barrier {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Schedule == nil {
		cfg.Schedule = func(f func()) { f() }
	}
	return &Barrier{
		cfg:     cfg,
		ready:   ready,
		release: release,
		timeout: timeout,
	}
}

// Arm requests a release once the local fingerprint equals fingerprint. A
// request while armed joins the running poll; the barrier releases when any
// pending fingerprint matches. It returns false when the barrier already
// released or was stopped.
func (b *Barrier) Arm(fingerprint string) bool {
	b.mu.Lock()
	if b.released || b.stopped {
		b.mu.Unlock()
		return false
	}
	if !slices.Contains(b.wants, fingerprint) {
		b.wants = append(b.wants, fingerprint)
	}
	if b.armed {
		b.mu.Unlock()
		return true
	}
	b.armed = true
	b.attempts = 0
	b.mu.Unlock()

	b.cfg.Schedule(b.check)
	return true
}

func (b *Barrier) check() {
	b.mu.Lock()
	if !b.armed || b.released || b.stopped {
		b.mu.Unlock()
		return
	}
	wants := slices.Clone(b.wants)
	b.mu.Unlock()

	ok := slices.ContainsFunc(wants, b.ready)

	b.mu.Lock()
	if !b.armed || b.released || b.stopped {
		b.mu.Unlock()
		return
	}
	b.attempts++
	if ok {
		b.armed = false
		b.released = true
		b.wants = nil
		b.mu.Unlock()
		b.release()
		return
	}
	if b.cfg.MaxAttempts > 0 && b.attempts >= b.cfg.MaxAttempts {
		attempts := b.attempts
		b.armed = false
		b.wants = nil
		b.mu.Unlock()
		if b.timeout != nil {
			b.timeout(attempts)
		}
		return
	}
	b.timer = b.cfg.Clock.AfterFunc(b.cfg.Interval, func() {
		b.cfg.Schedule(b.check)
	})
	b.mu.Unlock()
}

// Stop cancels a pending poll. The barrier never releases afterwards.
func (b *Barrier) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
	b.armed = false
	b.wants = nil
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

func (b *Barrier) Armed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.armed
}

func (b *Barrier) Released() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.released
}

// Pending returns the fingerprints the running poll is waiting on.
func (b *Barrier) Pending() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.wants)
}

// Attempts is the number of checks run by the current or last poll.
func (b *Barrier) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

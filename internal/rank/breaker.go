package rank

import (
	"sync"
	"time"
)

// State is the circuit breaker's current position.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// rollingWindow is how long closed-state failure samples stay relevant.
const rollingWindow = 30 * time.Second

// BreakerConfig tunes the open/close transitions.
type BreakerConfig struct {
	FailureThreshold float64       // failure rate in [0,1] that opens the circuit
	MinSamples       int           // samples required before the rate is trusted
	Cooldown         time.Duration // open -> half-open delay
}

// Breaker is a closed/open/half-open state machine over remote store
// health. While open, callers short-circuit to the fallback store; a single
// probe call is let through once the cooldown elapses.
type Breaker struct {
	mu          sync.Mutex
	cfg         BreakerConfig
	state       State
	failures    int
	successes   int
	windowStart time.Time
	openedAt    time.Time
	probing     bool
	now         func() time.Time
}

func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 0.5
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 10
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// Allow reports whether a remote call may proceed. In the open state it
// returns false until the cooldown elapses, then admits exactly one probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return false
		}
		b.state = StateHalfOpen
		b.probing = true
		return true
	default: // StateHalfOpen
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
}

// Success records a successful remote call. It returns true only on the
// half-open to closed transition, which is the caller's signal to run the
// one-time fallback replay.
func (b *Breaker) Success() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateHalfOpen:
		b.state = StateClosed
		b.probing = false
		b.resetWindow()
		return true
	case StateClosed:
		b.roll()
		b.successes++
	}
	return false
}

// Failure records a failed remote call, opening the circuit when the
// rolling failure rate crosses the threshold or a half-open probe fails.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateHalfOpen:
		b.trip()
	case StateClosed:
		b.roll()
		b.failures++
		total := b.failures + b.successes
		if total >= b.cfg.MinSamples &&
			float64(b.failures)/float64(total) >= b.cfg.FailureThreshold {
			b.trip()
		}
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.probing = false
	b.resetWindow()
}

func (b *Breaker) roll() {
	if b.now().Sub(b.windowStart) > rollingWindow {
		b.resetWindow()
	}
}

func (b *Breaker) resetWindow() {
	b.failures = 0
	b.successes = 0
	b.windowStart = b.now()
}

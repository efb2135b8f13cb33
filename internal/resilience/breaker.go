// Package resilience sheds calls against a peer that keeps failing.
//
// The mouth loop sends sixty parameter frames a second. When the host stalls,
// each send waits out its request timeout and the loop falls further and
// further behind the audio. A [Breaker] counts consecutive failures and, once
// tripped, rejects calls with [ErrCircuitOpen] without touching the network
// until a probe is allowed through again.
//
// Breaker is safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Execute] while the breaker is open.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls until ResetTimeout has passed since the last
	// failure.
	StateOpen

	// StateHalfOpen lets up to HalfOpenMax probe calls through. One failure
	// re-opens the breaker; HalfOpenMax successes close it.
	StateHalfOpen
)

// String returns the human-readable name of the state.
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

// BreakerConfig holds the tuning knobs for a [Breaker].
type BreakerConfig struct {
	// Name labels log lines, e.g. "mouth".
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 10 (about a sixth of a second of frames).
	MaxFailures int

	// ResetTimeout is how long the breaker stays open. Default: 1s.
	ResetTimeout time.Duration

	// HalfOpenMax is the probe budget in the half-open state. Default: 1.
	HalfOpenMax int

	// OnStateChange, if set, is called after every transition with the
	// breaker's lock released.
	OnStateChange func(name string, from, to State)
}

// Breaker implements the three-state circuit breaker pattern.
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu              sync.Mutex
	state           State
	consecutiveFail int
	lastFailure     time.Time
	probes          int
	probeSuccesses  int
}

// NewBreaker creates a Breaker. Zero config fields take their defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 10
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// Execute runs fn if the breaker allows it and records the outcome. A
// rejected call returns [ErrCircuitOpen] and fn is not invoked.
func (b *Breaker) Execute(fn func() error) error {
	b.mu.Lock()
	from := b.state
	if b.state == StateOpen {
		if b.now().Sub(b.lastFailure) < b.cfg.ResetTimeout {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.probes = 0
		b.probeSuccesses = 0
	}
	if b.state == StateHalfOpen {
		if b.probes >= b.cfg.HalfOpenMax {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.probes++
	}
	probing := b.state == StateHalfOpen
	mid := b.state
	b.mu.Unlock()
	b.notify(from, mid)

	err := fn()

	b.mu.Lock()
	before := b.state
	if err != nil {
		b.recordFailure(probing)
	} else {
		b.recordSuccess(probing)
	}
	after := b.state
	b.mu.Unlock()
	b.notify(before, after)
	return err
}

// recordFailure must be called with b.mu held.
func (b *Breaker) recordFailure(probing bool) {
	b.lastFailure = b.now()
	if probing {
		b.state = StateOpen
		slog.Debug("breaker re-opened", "name", b.cfg.Name)
		return
	}
	b.consecutiveFail++
	if b.state == StateClosed && b.consecutiveFail >= b.cfg.MaxFailures {
		b.state = StateOpen
		slog.Warn("breaker opened", "name", b.cfg.Name, "consecutive_failures", b.consecutiveFail)
	}
}

// recordSuccess must be called with b.mu held.
func (b *Breaker) recordSuccess(probing bool) {
	if probing {
		b.probeSuccesses++
		if b.probeSuccesses >= b.cfg.HalfOpenMax {
			b.state = StateClosed
			b.consecutiveFail = 0
			slog.Info("breaker closed", "name", b.cfg.Name)
		}
		return
	}
	b.consecutiveFail = 0
}

func (b *Breaker) notify(from, to State) {
	if from != to && b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.cfg.Name, from, to)
	}
}

// State returns the current state. An open breaker whose timeout has passed
// reports [StateHalfOpen]; the transition itself happens on the next Execute.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.lastFailure) >= b.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.consecutiveFail = 0
	b.probes = 0
	b.probeSuccesses = 0
	b.mu.Unlock()
	b.notify(from, StateClosed)
}

package governance

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker is in the open state.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the state of a circuit breaker.
type State string

const (
	// StateClosed allows calls.
	StateClosed State = "closed"
	// StateOpen rejects calls until the cooldown elapses.
	StateOpen State = "open"
	// StateHalfOpen admits a limited number of probe calls.
	StateHalfOpen State = "half-open"
)

// BreakerConfig defines thresholds for circuit breaking.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before probing.
	Cooldown time.Duration
	// HalfOpenProbes is the number of successful probes needed to close again.
	HalfOpenProbes int
}

// DefaultBreakerConfig returns sensible defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenProbes:   1,
	}
}

// Breaker implements the circuit breaker pattern for one dependency.
type Breaker struct {
	mu     sync.Mutex
	config BreakerConfig
	now    func() time.Time

	state               State
	consecutiveFailures int
	probesInFlight      int
	probeSuccesses      int
	openUntil           time.Time
	lastStateChange     time.Time
	totalFailures       int
	totalSuccesses      int
	rejected            int
}

// NewBreaker creates a breaker, filling zero fields from DefaultBreakerConfig.
func NewBreaker(config BreakerConfig) *Breaker {
	defaults := DefaultBreakerConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = defaults.FailureThreshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = defaults.Cooldown
	}
	if config.HalfOpenProbes <= 0 {
		config.HalfOpenProbes = defaults.HalfOpenProbes
	}
	return &Breaker{
		config:          config,
		now:             time.Now,
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// Execute runs fn under breaker protection. It returns ErrCircuitOpen without
// calling fn while the circuit is open. Context cancellation by the caller
// is not counted against the dependency.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.allow(); err != nil {
		return err
	}

	err := fn(ctx)
	if err != nil && errors.Is(err, context.Canceled) && ctx.Err() != nil {
		b.release()
		return err
	}
	b.record(err)
	return err
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Before(b.openUntil) {
			b.rejected++
			return ErrCircuitOpen
		}
		b.transitionLocked(StateHalfOpen)
		b.probesInFlight++
		return nil
	case StateHalfOpen:
		if b.probesInFlight >= b.config.HalfOpenProbes {
			b.rejected++
			return ErrCircuitOpen
		}
		b.probesInFlight++
		return nil
	default:
		return nil
	}
}

// release returns a half-open probe slot without recording an outcome.
func (b *Breaker) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen && b.probesInFlight > 0 {
		b.probesInFlight--
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.totalSuccesses++
		b.consecutiveFailures = 0
		if b.state == StateHalfOpen {
			b.probeSuccesses++
			if b.probeSuccesses >= b.config.HalfOpenProbes {
				b.transitionLocked(StateClosed)
			}
		}
		return
	}

	b.totalFailures++
	b.consecutiveFailures++
	switch b.state {
	case StateHalfOpen:
		b.transitionLocked(StateOpen)
	case StateClosed:
		if b.consecutiveFailures >= b.config.FailureThreshold {
			b.transitionLocked(StateOpen)
		}
	}
}

func (b *Breaker) transitionLocked(next State) {
	if b.state == next {
		return
	}
	now := b.now()
	b.state = next
	b.lastStateChange = now
	b.consecutiveFailures = 0
	b.probesInFlight = 0
	b.probeSuccesses = 0

	if next == StateOpen {
		b.openUntil = now.Add(b.config.Cooldown)
	} else {
		b.openUntil = time.Time{}
	}
}

// State returns the current state. An open circuit whose cooldown has elapsed
// still reports open until the next call probes it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// BreakerStats exposes breaker status information.
type BreakerStats struct {
	State           string `json:"state"`
	Failures        int    `json:"failures"`
	Successes       int    `json:"successes"`
	Rejected        int    `json:"rejected"`
	LastStateChange string `json:"last_state_change"`
	Cooldown        string `json:"cooldown"`
}

// Stats returns current statistics.
func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStats{
		State:           string(b.state),
		Failures:        b.totalFailures,
		Successes:       b.totalSuccesses,
		Rejected:        b.rejected,
		LastStateChange: b.lastStateChange.Format(time.RFC3339),
		Cooldown:        b.config.Cooldown.String(),
	}
}

// Reset closes the circuit and clears counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionLocked(StateClosed)
	b.consecutiveFailures = 0
	b.totalFailures = 0
	b.totalSuccesses = 0
	b.rejected = 0
}

// BreakerSet holds one breaker per named dependency.
type BreakerSet struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	fallback BreakerConfig
}

// NewBreakerSet creates a set whose lazily created breakers use fallback.
func NewBreakerSet(fallback BreakerConfig) *BreakerSet {
	return &BreakerSet{
		breakers: make(map[string]*Breaker),
		fallback: fallback,
	}
}

// Configure installs a breaker for name, replacing any existing one.
func (s *BreakerSet) Configure(name string, config BreakerConfig) *Breaker {
	b := NewBreaker(config)
	s.mu.Lock()
	s.breakers[name] = b
	s.mu.Unlock()
	return b
}

// Get returns the breaker for name, creating one if needed.
func (s *BreakerSet) Get(name string) *Breaker {
	s.mu.RLock()
	b, ok := s.breakers[name]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.breakers[name]; ok {
		return b
	}
	b = NewBreaker(s.fallback)
	s.breakers[name] = b
	return b
}

// Stats returns statistics for every breaker.
func (s *BreakerSet) Stats() map[string]BreakerStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := make(map[string]BreakerStats, len(s.breakers))
	for name, b := range s.breakers {
		stats[name] = b.Stats()
	}
	return stats
}

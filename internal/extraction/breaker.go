package extraction

import (
	"sort"
	"sync"
	"time"
)

// BreakerState is the state of a circuit breaker.
type BreakerState int

// Breaker states.
const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
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

// BreakerConfig tunes when a breaker opens and for how long.
type BreakerConfig struct {
	Window           time.Duration
	Cooldown         time.Duration
	FailureThreshold int
}

// DefaultBreakerConfig opens after 5 failures within a minute, for 5 minutes.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Window:           time.Minute,
		Cooldown:         5 * time.Minute,
	}
}

// CircuitBreaker tracks failures for a single provider. A breaker opens when
// FailureThreshold failures land inside the rolling Window, stays open for
// Cooldown, then admits a single trial call.
type CircuitBreaker struct {
	openedAt time.Time
	now      func() time.Time
	failures []time.Time
	cfg      BreakerConfig
	state    BreakerState
	trial    bool
	mu       sync.Mutex
}

// NewCircuitBreaker creates a closed breaker. now may be nil.
func NewCircuitBreaker(cfg BreakerConfig, now func() time.Time) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultBreakerConfig().Window
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultBreakerConfig().Cooldown
	}
	if now == nil {
		now = time.Now
	}
	return &CircuitBreaker{cfg: cfg, now: now}
}

// Allow reports whether a call may proceed. Callers that get true must report
// the outcome with RecordSuccess or RecordFailure.
func (b *CircuitBreaker) Allow() bool {
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
		b.trial = true
		return true
	default:
		if b.trial {
			return false
		}
		b.trial = true
		return true
	}
}

// RecordSuccess closes the breaker and clears the failure history.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.failures = b.failures[:0]
	b.trial = false
}

// RecordFailure counts a failure and opens the breaker when the threshold is
// reached. A failed half-open trial reopens it immediately.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if b.state == StateHalfOpen {
		b.open(now)
		return
	}

	cutoff := now.Add(-b.cfg.Window)
	kept := b.failures[:0]
	for _, at := range b.failures {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	b.failures = append(kept, now)

	if len(b.failures) >= b.cfg.FailureThreshold {
		b.open(now)
	}
}

func (b *CircuitBreaker) open(now time.Time) {
	b.state = StateOpen
	b.openedAt = now
	b.failures = b.failures[:0]
	b.trial = false
}

// State returns the current state. An open breaker whose cooldown has elapsed
// reports half-open.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Failures returns the failures counted in the current window.
func (b *CircuitBreaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := b.now().Add(-b.cfg.Window)
	n := 0
	for _, at := range b.failures {
		if at.After(cutoff) {
			n++
		}
	}
	return n
}

// BreakerStatus is a point-in-time view of one breaker.
type BreakerStatus struct {
	OpenedAt time.Time
	Provider string
	State    BreakerState
	Failures int
}

// BreakerSet holds one breaker per provider name.
type BreakerSet struct {
	breakers map[string]*CircuitBreaker
	now      func() time.Time
	cfg      BreakerConfig
	mu       sync.Mutex
}

// NewBreakerSet creates an empty set. now may be nil.
func NewBreakerSet(cfg BreakerConfig, now func() time.Time) *BreakerSet {
	return &BreakerSet{
		breakers: make(map[string]*CircuitBreaker),
		cfg:      cfg,
		now:      now,
	}
}

// Get returns the breaker for provider, creating it on first use.
func (s *BreakerSet) Get(provider string) *CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.breakers[provider]
	if !ok {
		b = NewCircuitBreaker(s.cfg, s.now)
		s.breakers[provider] = b
	}
	return b
}

// Snapshot returns the status of every known breaker ordered by provider name.
func (s *BreakerSet) Snapshot() []BreakerStatus {
	s.mu.Lock()
	names := make([]string, 0, len(s.breakers))
	for name := range s.breakers {
		names = append(names, name)
	}
	s.mu.Unlock()
	sort.Strings(names)

	out := make([]BreakerStatus, 0, len(names))
	for _, name := range names {
		b := s.Get(name)
		b.mu.Lock()
		openedAt := b.openedAt
		b.mu.Unlock()
		out = append(out, BreakerStatus{
			Provider: name,
			State:    b.State(),
			Failures: b.Failures(),
			OpenedAt: openedAt,
		})
	}
	return out
}

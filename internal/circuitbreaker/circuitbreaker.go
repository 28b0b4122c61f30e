// Package circuitbreaker implements the per-provider/per-endpoint circuit
// breaker described in §5: closed/open/half_open states, a failure
// threshold that trips the breaker, a recovery timeout before probing
// resumes, and a doubling reopen timeout bounded by a max. Grounded on the
// pool's per-key single-writer locking style (internal/pool): one mutex
// guarding the whole state machine, since breaker decisions must not tear
// under concurrent access.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/modelgate/modelgate/internal/domain"
)

// State is one of the three circuit-breaker states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Clock is overridable in tests; production uses time.Now.
type Clock func() time.Time

// Breaker is one provider's (or upstream endpoint's) circuit breaker.
type Breaker struct {
	mu sync.Mutex
	now Clock

	failureThreshold int
	successThreshold int
	baseTimeout      time.Duration
	maxTimeout       time.Duration

	state              State
	consecutiveFailures int
	halfOpenProbes     int
	halfOpenSuccesses  int
	openedAt           time.Time
	currentTimeout     time.Duration
}

// New constructs a closed Breaker. failureThreshold consecutive failures
// trip it to open for recoveryTimeout; in half_open it allows up to
// successThreshold probes, and any failure there reopens it with the
// timeout doubled, bounded by maxTimeout.
func New(failureThreshold, successThreshold int, recoveryTimeout, maxTimeout time.Duration) *Breaker {
	return &Breaker{
		now:              time.Now,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		baseTimeout:       recoveryTimeout,
		maxTimeout:        maxTimeout,
		state:             Closed,
		currentTimeout:    recoveryTimeout,
	}
}

// State returns the breaker's current state, advancing open->half_open if
// the recovery timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeTransitionToHalfOpen()
	return b.state
}

// Allow reports whether a request may proceed. In half_open it admits at
// most successThreshold probes in total until the breaker changes state; a
// finished probe does not free its slot.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeTransitionToHalfOpen()

	switch b.state {
	case Closed:
		return true
	case HalfOpen:
		if b.halfOpenProbes >= b.successThreshold {
			return false
		}
		b.halfOpenProbes++
		return true
	default: // Open
		return false
	}
}

func (b *Breaker) maybeTransitionToHalfOpen() {
	if b.state != Open {
		return
	}
	if !b.now().Before(b.openedAt.Add(b.currentTimeout)) {
		b.state = HalfOpen
		b.halfOpenProbes = 0
		b.halfOpenSuccesses = 0
	}
}

// RecordSuccess reports a successful call. In half_open, enough successes
// close the breaker and reset the backoff.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeTransitionToHalfOpen()

	switch b.state {
	case Closed:
		b.consecutiveFailures = 0
	case HalfOpen:
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.successThreshold {
			b.state = Closed
			b.consecutiveFailures = 0
			b.currentTimeout = b.baseTimeout
		}
	}
}

// RecordFailure reports a failed call. In closed, enough consecutive
// failures trip the breaker open. In half_open, any failure reopens it and
// doubles the recovery timeout, bounded by maxTimeout.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeTransitionToHalfOpen()

	switch b.state {
	case Closed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.failureThreshold {
			b.trip()
		}
	case HalfOpen:
		b.currentTimeout *= 2
		if b.currentTimeout > b.maxTimeout {
			b.currentTimeout = b.maxTimeout
		}
		b.trip()
	}
}

func (b *Breaker) trip() {
	b.state = Open
	b.openedAt = b.now()
}

// Registry lazily creates and hands out one Breaker per provider, all built
// with the same configured thresholds (§5: "per provider or per upstream
// endpoint, configurable" — this proxy scopes breakers per provider).
type Registry struct {
	mu               sync.Mutex
	breakers         map[domain.Provider]*Breaker
	failureThreshold int
	successThreshold int
	recoveryTimeout  time.Duration
	maxTimeout       time.Duration
}

// NewRegistry builds an empty Registry; breakers are created on first use.
func NewRegistry(failureThreshold, successThreshold int, recoveryTimeout, maxTimeout time.Duration) *Registry {
	return &Registry{
		breakers:         make(map[domain.Provider]*Breaker),
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		recoveryTimeout:  recoveryTimeout,
		maxTimeout:       maxTimeout,
	}
}

// For returns provider's Breaker, creating one (closed) on first reference.
func (r *Registry) For(provider domain.Provider) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[provider]
	if !ok {
		b = New(r.failureThreshold, r.successThreshold, r.recoveryTimeout, r.maxTimeout)
		r.breakers[provider] = b
	}
	return b
}

// Package breaker tracks per-destination handler health so the gateway can
// fast-fail dispatches to destinations that are known to be down.
package breaker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/omniport-systems/omniport/internal/metrics"
	"github.com/omniport-systems/omniport/internal/models"
)

// State is a circuit breaker state.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// maxTransitionLog bounds the in-memory transition history.
const maxTransitionLog = 256

// Config tunes the per-destination state machine.
type Config struct {
	// FailureThreshold is the number of failures within Window that trips
	// the circuit.
	FailureThreshold int

	// Window is the rolling window failures are counted in.
	Window time.Duration

	// Cooldown is how long an open circuit refuses traffic before allowing
	// a half-open trial.
	Cooldown time.Duration
}

// DefaultConfig returns the production defaults: 5 failures in 60s opens
// the circuit for 30s.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Window:           60 * time.Second,
		Cooldown:         30 * time.Second,
	}
}

// Transition records one state change for observability.
type Transition struct {
	Destination models.Destination
	From        State
	To          State
	Reason      string
	At          time.Time
}

// circuit is the per-destination state. Never deleted once created; it
// tracks handler health for the process lifetime.
type circuit struct {
	mu               sync.Mutex
	state            State
	previousState    State
	failureCount     int
	successCount     int
	windowStart      time.Time
	lastTransitionAt time.Time
	trialInFlight    bool
}

// Registry holds one circuit per destination, created lazily on first use.
// All transition logic runs under the destination's lock so two concurrent
// dispatches can never both claim a HALF_OPEN trial.
type Registry struct {
	mu       sync.RWMutex
	circuits map[models.Destination]*circuit
	cfg      Config
	now      func() time.Time

	logMu       sync.Mutex
	transitions []Transition
}

func NewRegistry(cfg Config) *Registry {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultConfig().Cooldown
	}

	return &Registry{
		circuits: make(map[models.Destination]*circuit),
		cfg:      cfg,
		now:      time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (r *Registry) SetClock(now func() time.Time) { r.now = now }

// Allow reports whether a dispatch to destination may proceed. An OPEN
// circuit past its cooldown moves to HALF_OPEN and grants exactly one
// caller the trial; everyone else is refused until the trial resolves.
func (r *Registry) Allow(destination models.Destination) bool {
	c := r.circuitFor(destination)
	now := r.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateClosed:
		return true

	case StateOpen:
		if now.Sub(c.lastTransitionAt) < r.cfg.Cooldown {
			metrics.CircuitRejections.WithLabelValues(string(destination)).Inc()
			return false
		}
		r.transitionLocked(c, destination, StateHalfOpen, "cooldown elapsed", now)
		c.trialInFlight = true
		return true

	case StateHalfOpen:
		if c.trialInFlight {
			metrics.CircuitRejections.WithLabelValues(string(destination)).Inc()
			return false
		}
		c.trialInFlight = true
		return true
	}

	return false
}

// RecordSuccess reports a successful dispatch outcome.
func (r *Registry) RecordSuccess(destination models.Destination) {
	c := r.circuitFor(destination)
	now := r.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.successCount++

	if c.state == StateHalfOpen {
		c.trialInFlight = false
		c.failureCount = 0
		r.transitionLocked(c, destination, StateClosed, "trial succeeded", now)
	}
}

// RecordFailure reports a failed dispatch outcome.
func (r *Registry) RecordFailure(destination models.Destination) {
	c := r.circuitFor(destination)
	now := r.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateHalfOpen:
		c.trialInFlight = false
		r.transitionLocked(c, destination, StateOpen, "trial failed", now)

	case StateClosed:
		if now.Sub(c.windowStart) > r.cfg.Window {
			c.failureCount = 0
			c.windowStart = now
		}
		c.failureCount++
		if c.failureCount >= r.cfg.FailureThreshold {
			r.transitionLocked(c, destination, StateOpen, "failure threshold reached", now)
		}
	}
}

// GetState returns the current state for a destination, CLOSED when the
// destination has never been dispatched to.
func (r *Registry) GetState(destination models.Destination) State {
	r.mu.RLock()
	c, exists := r.circuits[destination]
	r.mu.RUnlock()

	if !exists {
		return StateClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns the state of every known circuit.
func (r *Registry) Snapshot() map[models.Destination]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make(map[models.Destination]string, len(r.circuits))
	for dest, c := range r.circuits {
		c.mu.Lock()
		snapshot[dest] = string(c.state)
		c.mu.Unlock()
	}
	return snapshot
}

// Transitions returns the recorded state changes, oldest first.
func (r *Registry) Transitions() []Transition {
	r.logMu.Lock()
	defer r.logMu.Unlock()

	out := make([]Transition, len(r.transitions))
	copy(out, r.transitions)
	return out
}

// Reset forces a destination's circuit back to CLOSED with cleared
// counters. Administrative action only.
func (r *Registry) Reset(destination models.Destination) {
	c := r.circuitFor(destination)
	now := r.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.failureCount = 0
	c.successCount = 0
	c.trialInFlight = false
	c.windowStart = now
	if c.state != StateClosed {
		r.transitionLocked(c, destination, StateClosed, "administrative reset", now)
	}
}

func (r *Registry) circuitFor(destination models.Destination) *circuit {
	r.mu.RLock()
	c, exists := r.circuits[destination]
	r.mu.RUnlock()
	if exists {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, exists = r.circuits[destination]; exists {
		return c
	}

	c = &circuit{
		state:       StateClosed,
		windowStart: r.now(),
	}
	r.circuits[destination] = c
	return c
}

// transitionLocked records a state change. Caller holds c.mu.
func (r *Registry) transitionLocked(c *circuit, destination models.Destination, to State, reason string, now time.Time) {
	from := c.state
	c.previousState = from
	c.state = to
	c.lastTransitionAt = now

	r.logMu.Lock()
	r.transitions = append(r.transitions, Transition{
		Destination: destination,
		From:        from,
		To:          to,
		Reason:      reason,
		At:          now,
	})
	if len(r.transitions) > maxTransitionLog {
		r.transitions = r.transitions[len(r.transitions)-maxTransitionLog:]
	}
	r.logMu.Unlock()

	metrics.CircuitTransitions.WithLabelValues(string(destination), string(to)).Inc()
	slog.Info("circuit state transition",
		slog.String("destination", string(destination)),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.String("reason", reason),
	)
}

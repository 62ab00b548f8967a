// Package circuitbreaker guards outbound dependencies with a per-key
// closed/open/half-open circuit.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// State is the circuit position for one key.
type State int

const (
	StateClosed   State = iota // requests flow
	StateOpen                  // requests rejected until the cool-off passes
	StateHalfOpen              // one probe in flight
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	}
	return "unknown"
}

var stateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "helanet",
	Subsystem: "circuitbreaker",
	Name:      "state_transitions_total",
	Help:      "Circuit state transitions by key, from-state, and to-state.",
}, []string{"key", "from_state", "to_state"})

func init() {
	prometheus.MustRegister(stateTransitions)
}

type circuit struct {
	state       State
	failures    int
	lastFailure time.Time
}

// Breaker tracks consecutive failures per key. A key trips open at the
// failure threshold, rejects requests for openDuration, then lets a single
// probe through; the probe's outcome decides whether the circuit closes or
// reopens.
type Breaker struct {
	mu           sync.Mutex
	circuits     map[string]*circuit
	threshold    int
	openDuration time.Duration
}

// New returns a Breaker that opens a key after threshold consecutive
// failures and cools off for openDuration before probing. Non-positive
// arguments fall back to 5 failures and 30 seconds.
func New(threshold int, openDuration time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if openDuration <= 0 {
		openDuration = 30 * time.Second
	}
	return &Breaker{
		circuits:     make(map[string]*circuit),
		threshold:    threshold,
		openDuration: openDuration,
	}
}

// Allow reports whether a request for key may proceed. An open circuit
// whose cool-off has elapsed moves to half-open and admits one probe.
func (b *Breaker) Allow(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		return true
	}
	switch c.state {
	case StateOpen:
		if time.Since(c.lastFailure) < b.openDuration {
			return false
		}
		b.moveTo(c, key, StateHalfOpen)
		return true
	case StateHalfOpen:
		// A probe is already out; hold further traffic until it resolves.
		return false
	}
	return true
}

// RecordSuccess clears the failure count for key and closes a half-open
// circuit.
func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		return
	}
	c.failures = 0
	if c.state == StateHalfOpen {
		b.moveTo(c, key, StateClosed)
	}
}

// RecordFailure counts a failure for key. A failed probe reopens the
// circuit; reaching the threshold while closed trips it.
func (b *Breaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		c = &circuit{}
		b.circuits[key] = c
	}
	c.failures++
	c.lastFailure = time.Now()

	switch {
	case c.state == StateHalfOpen:
		b.moveTo(c, key, StateOpen)
	case c.state == StateClosed && c.failures >= b.threshold:
		b.moveTo(c, key, StateOpen)
	}
}

// State returns the circuit position for key; unknown keys are closed.
func (b *Breaker) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.circuits[key]; ok {
		return c.state
	}
	return StateClosed
}

// moveTo is called with b.mu held.
func (b *Breaker) moveTo(c *circuit, key string, to State) {
	if c.state == to {
		return
	}
	stateTransitions.WithLabelValues(key, c.state.String(), to.String()).Inc()
	c.state = to
}

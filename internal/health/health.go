// Package health aggregates per-subsystem health checks for the readiness
// endpoint.
package health

import (
	"context"
	"sort"
	"sync"
)

// Status is the result of one subsystem's check.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Checker reports the current health of a subsystem. It should honor ctx
// deadlines; a slow dependency must not hang the readiness probe.
type Checker func(ctx context.Context) Status

// Registry holds named checkers and runs them on demand.
type Registry struct {
	mu       sync.RWMutex
	checkers map[string]Checker
}

func NewRegistry() *Registry {
	return &Registry{checkers: make(map[string]Checker)}
}

// Register adds a checker under name, replacing any previous one.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	r.checkers[name] = check
	r.mu.Unlock()
}

// CheckAll runs every registered checker and reports whether all passed.
// Results are ordered by name so probe output is stable.
func (r *Registry) CheckAll(ctx context.Context) (bool, []Status) {
	r.mu.RLock()
	names := make([]string, 0, len(r.checkers))
	checks := make(map[string]Checker, len(r.checkers))
	for name, c := range r.checkers {
		names = append(names, name)
		checks[name] = c
	}
	r.mu.RUnlock()
	sort.Strings(names)

	healthy := true
	statuses := make([]Status, 0, len(names))
	for _, name := range names {
		st := checks[name](ctx)
		st.Name = name
		if !st.Healthy {
			healthy = false
		}
		statuses = append(statuses, st)
	}
	return healthy, statuses
}

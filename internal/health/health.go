// Package health aggregates component checks for the ops endpoints. Checks
// run concurrently with a shared deadline; one degraded component degrades
// the whole report, one failing component fails it.
package health

import (
	"context"
	"sync"
	"time"
)

// Status is a component or aggregate health grade.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// Check is one component's result.
type Check struct {
	Component string        `json:"component"`
	Status    Status        `json:"status"`
	Detail    string        `json:"detail,omitempty"`
	Latency   time.Duration `json:"latencyMs"`
}

// Checker probes one component.
type Checker interface {
	Name() string
	Check(ctx context.Context) Check
}

// Report is the aggregate of one evaluation pass.
type Report struct {
	Status Status  `json:"status"`
	Checks []Check `json:"checks"`
}

// Manager fans checks out and folds the results.
type Manager struct {
	mu       sync.RWMutex
	checkers []Checker
	timeout  time.Duration
}

// NewManager builds a Manager with a per-pass deadline.
func NewManager(timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Manager{timeout: timeout}
}

// Register adds a checker.
func (m *Manager) Register(c Checker) {
	m.mu.Lock()
	m.checkers = append(m.checkers, c)
	m.mu.Unlock()
}

// Evaluate runs every registered check.
func (m *Manager) Evaluate(ctx context.Context) Report {
	m.mu.RLock()
	checkers := make([]Checker, len(m.checkers))
	copy(checkers, m.checkers)
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	checks := make([]Check, len(checkers))
	var wg sync.WaitGroup
	for i, c := range checkers {
		wg.Add(1)
		go func(i int, c Checker) {
			defer wg.Done()
			start := time.Now()
			res := c.Check(ctx)
			res.Component = c.Name()
			res.Latency = time.Since(start)
			checks[i] = res
		}(i, c)
	}
	wg.Wait()

	status := StatusHealthy
	for _, c := range checks {
		switch c.Status {
		case StatusDown:
			status = StatusDown
		case StatusDegraded:
			if status == StatusHealthy {
				status = StatusDegraded
			}
		}
	}
	return Report{Status: status, Checks: checks}
}

// Package health runs dependency checks for liveness and readiness probes.
// A failing critical check makes the service unready; a failing optional
// check only degrades it.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

// Check probes one dependency. A nil error means healthy.
type Check func(ctx context.Context) error

type ComponentHealth struct {
	Status   Status `json:"status"`
	Critical bool   `json:"critical"`
	Message  string `json:"message,omitempty"`
	Latency  string `json:"latency"`
}

type Report struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  time.Time                  `json:"timestamp"`
}

type registered struct {
	check    Check
	critical bool
}

type Checker struct {
	mu     sync.RWMutex
	checks map[string]registered
}

func NewChecker() *Checker {
	return &Checker{checks: make(map[string]registered)}
}

// Register adds a named check. Critical checks gate readiness.
func (c *Checker) Register(name string, critical bool, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = registered{check: check, critical: critical}
}

// Run executes every check concurrently.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	checks := make(map[string]registered, len(c.checks))
	for name, r := range c.checks {
		checks[name] = r
	}
	c.mu.RUnlock()

	report := Report{
		Status:     StatusUp,
		Components: make(map[string]ComponentHealth, len(checks)),
		Timestamp:  time.Now().UTC(),
	}
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for name, r := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			err := r.check(ctx)
			result := ComponentHealth{
				Status:   StatusUp,
				Critical: r.critical,
				Latency:  time.Since(start).Round(time.Microsecond).String(),
			}
			if err != nil {
				result.Status = StatusDegraded
				if r.critical {
					result.Status = StatusDown
				}
				result.Message = err.Error()
			}
			mu.Lock()
			report.Components[name] = result
			mu.Unlock()
		}()
	}
	wg.Wait()

	for _, comp := range report.Components {
		switch comp.Status {
		case StatusDown:
			report.Status = StatusDown
		case StatusDegraded:
			if report.Status == StatusUp {
				report.Status = StatusDegraded
			}
		}
	}
	return report
}

// LiveHandler answers liveness probes; it never runs checks.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	}
}

// ReadyHandler answers readiness probes: 200 unless a critical check fails.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		report := c.Run(ctx)
		status := http.StatusOK
		if report.Status == StatusDown {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, report)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

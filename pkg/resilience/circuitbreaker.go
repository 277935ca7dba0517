package resilience

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without calling the guarded function while the
// breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig controls when a breaker trips. IsFailure decides which errors
// count against the remote host; nil counts every error. Errors it rejects
// neither count nor reset the failure streak.
type BreakerConfig struct {
	FailureThreshold int
	ResetTimeout     time.Duration
	IsFailure        func(error) bool
}

// CircuitBreaker stops calling a remote host after FailureThreshold
// consecutive failures. After ResetTimeout one probe call is let through; its
// outcome closes or re-opens the breaker.
type CircuitBreaker struct {
	name   string
	cfg    BreakerConfig
	now    func() time.Time
	logger *slog.Logger

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool
}

func NewCircuitBreaker(name string, cfg BreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(error) bool { return true }
	}
	return &CircuitBreaker{
		name:   name,
		cfg:    cfg,
		now:    time.Now,
		logger: slog.Default().With("component", "circuit-breaker", "name", name),
	}
}

// Execute calls fn unless the breaker is open.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn()
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case BreakerOpen:
		wait := cb.cfg.ResetTimeout - cb.now().Sub(cb.openedAt)
		if wait > 0 {
			return fmt.Errorf("%s: %w (retry in %v)", cb.name, ErrCircuitOpen, wait.Round(time.Millisecond))
		}
		cb.state = BreakerHalfOpen
		cb.probing = true
		cb.logger.Info("circuit half-open, probing")
	case BreakerHalfOpen:
		if cb.probing {
			return fmt.Errorf("%s: %w (probe in flight)", cb.name, ErrCircuitOpen)
		}
		cb.probing = true
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	failed := err != nil && cb.cfg.IsFailure(err)
	if cb.state == BreakerHalfOpen {
		cb.probing = false
		if failed {
			cb.trip()
			return
		}
		cb.logger.Info("circuit closed")
		cb.state = BreakerClosed
		cb.failures = 0
		return
	}
	switch {
	case err == nil:
		cb.failures = 0
		return
	case !failed:
		return
	}
	cb.failures++
	if cb.failures >= cb.cfg.FailureThreshold {
		cb.trip()
	}
}

func (cb *CircuitBreaker) trip() {
	cb.state = BreakerOpen
	cb.openedAt = cb.now()
	cb.logger.Warn("circuit opened", "consecutive_failures", cb.failures)
}

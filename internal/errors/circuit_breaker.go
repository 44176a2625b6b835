package errors

import (
	"context"
	"fmt"
	"sync"
	"time"

	"membria/internal/logging"
)

// CircuitState is the breaker position: closed passes traffic, open rejects
// it, half-open lets probes through.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// CircuitBreakerConfig tunes when a breaker trips and recovers.
type CircuitBreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening
	SuccessThreshold int           // half-open successes before closing again
	Timeout          time.Duration // open duration before the first probe
}

// DefaultCircuitBreakerConfig matches the graph engine's recovery profile:
// a restart takes well under 30s, so probe on that cadence.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{FailureThreshold: 5, SuccessThreshold: 2, Timeout: 30 * time.Second}
}

// CircuitBreaker guards a single backend (the graph engine, or an outbound
// webhook/docs target) so a dead upstream fails fast instead of stalling the
// dispatch loop on every call.
type CircuitBreaker struct {
	name   string
	cfg    CircuitBreakerConfig
	logger logging.Logger

	mu        sync.Mutex
	state     CircuitState
	failures  int // consecutive, closed state only
	probeWins int // consecutive, half-open state only
	openedAt  time.Time
}

// NewCircuitBreaker returns a closed breaker for the named backend.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		name:   name,
		cfg:    cfg,
		logger: logging.NewComponentLogger("circuit-breaker"),
	}
}

// Execute runs fn if the breaker admits the call, recording the result.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.Allow(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.Mark(err)
	return err
}

// Allow admits or rejects a call. Rejection carries a Degraded error so the
// caller can tell "backend down" from the backend's own failures. Callers
// that need to inspect responses pair Allow with Mark instead of Execute.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		wait := cb.cfg.Timeout - time.Since(cb.openedAt)
		if wait > 0 {
			return NewDegradedError(
				fmt.Errorf("circuit breaker open for %s", cb.name),
				fmt.Sprintf("Backend '%s' is unavailable after repeated failures. Next probe in %v.", cb.name, wait),
				"",
			)
		}
		cb.transition(StateHalfOpen)
	}
	return nil
}

// Mark records the outcome of an admitted call: nil closes toward recovery,
// non-nil counts toward (re)opening.
func (cb *CircuitBreaker) Mark(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		switch cb.state {
		case StateClosed:
			cb.failures = 0
		case StateHalfOpen:
			cb.probeWins++
			if cb.probeWins >= cb.cfg.SuccessThreshold {
				cb.transition(StateClosed)
			}
		}
		return
	}

	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		cb.transition(StateOpen)
	}
}

// transition moves the breaker and resets the counters that belong to the
// new state. Caller holds mu.
func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	cb.failures = 0
	cb.probeWins = 0
	if to == StateOpen {
		cb.openedAt = time.Now()
	}
	switch {
	case to == StateOpen && from == StateHalfOpen:
		cb.logger.Warn("[%s] circuit reopened, probe failed", cb.name)
	case to == StateOpen:
		cb.logger.Warn("[%s] circuit opened after %d failures", cb.name, cb.cfg.FailureThreshold)
	case to == StateClosed:
		cb.logger.Info("[%s] circuit closed, backend recovered", cb.name)
	case to == StateHalfOpen:
		cb.logger.Info("[%s] circuit half-open, probing recovery", cb.name)
	}
}

// State reports the current breaker position for the health surface.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// CircuitBreakerMetrics is a point-in-time snapshot of one breaker.
type CircuitBreakerMetrics struct {
	Name     string
	State    CircuitState
	Failures int
	OpenedAt time.Time
}

func (cb *CircuitBreaker) snapshot() CircuitBreakerMetrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return CircuitBreakerMetrics{Name: cb.name, State: cb.state, Failures: cb.failures, OpenedAt: cb.openedAt}
}

// CircuitBreakerManager keeps one breaker per backend name so the health
// tool can report them all in one pass.
type CircuitBreakerManager struct {
	mu       sync.Mutex
	cfg      CircuitBreakerConfig
	breakers map[string]*CircuitBreaker
}

func NewCircuitBreakerManager(cfg CircuitBreakerConfig) *CircuitBreakerManager {
	return &CircuitBreakerManager{cfg: cfg, breakers: make(map[string]*CircuitBreaker)}
}

// Get returns the breaker for name, creating it on first use.
func (m *CircuitBreakerManager) Get(name string) *CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	cb, ok := m.breakers[name]
	if !ok {
		cb = NewCircuitBreaker(name, m.cfg)
		m.breakers[name] = cb
	}
	return cb
}

// GetMetrics snapshots every registered breaker.
func (m *CircuitBreakerManager) GetMetrics() []CircuitBreakerMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CircuitBreakerMetrics, 0, len(m.breakers))
	for _, cb := range m.breakers {
		out = append(out, cb.snapshot())
	}
	return out
}

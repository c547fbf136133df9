package httpclient

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"guardian/internal/logging"
)

// ErrCircuitOpen matches *CircuitOpenError.
var ErrCircuitOpen = errors.New("circuit breaker open")

// CircuitState is the state of a CircuitBreaker.
type CircuitState int

const (
	// StateClosed lets every request through.
	StateClosed CircuitState = iota
	// StateOpen rejects requests until the cooldown elapses.
	StateOpen
	// StateHalfOpen lets trial requests through to see whether the endpoint recovered.
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
	default:
		return "unknown"
	}
}

// CircuitOpenError is returned while the breaker rejects requests.
type CircuitOpenError struct {
	Name    string
	RetryIn time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for %s, retry in %s", e.Name, e.RetryIn.Round(time.Millisecond))
}

// Is reports whether target is ErrCircuitOpen.
func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures that open the circuit (default: 5)
	SuccessThreshold int           // half-open successes that close it again (default: 2)
	Cooldown         time.Duration // time open before probing (default: 30s)
	Clock            clockwork.Clock
}

// DefaultBreakerConfig returns the default breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Cooldown:         30 * time.Second,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	def := DefaultBreakerConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = def.SuccessThreshold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = def.Cooldown
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return c
}

// CircuitBreaker stops calling an endpoint after repeated failures and tries
// it again once the cooldown has passed.
type CircuitBreaker struct {
	name   string
	config BreakerConfig
	logger logging.Logger

	mu          sync.Mutex
	state       CircuitState
	failures    int
	successes   int
	lastFailure time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(name string, config BreakerConfig, logger logging.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		name:   name,
		config: config.withDefaults(),
		logger: logging.OrNop(logger),
		state:  StateClosed,
	}
}

// Allow returns a *CircuitOpenError while the circuit is open.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateOpen {
		return nil
	}
	elapsed := cb.config.Clock.Since(cb.lastFailure)
	if elapsed >= cb.config.Cooldown {
		cb.state = StateHalfOpen
		cb.successes = 0
		cb.logger.Info("CircuitBreaker: %s half-open, allowing trial requests", cb.name)
		return nil
	}
	return &CircuitOpenError{Name: cb.name, RetryIn: cb.config.Cooldown - elapsed}
}

// Mark records the outcome of a request. A nil err is a success.
func (cb *CircuitBreaker) Mark(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		switch cb.state {
		case StateClosed:
			cb.failures = 0
		case StateHalfOpen:
			cb.successes++
			if cb.successes >= cb.config.SuccessThreshold {
				cb.state = StateClosed
				cb.failures = 0
				cb.successes = 0
				cb.logger.Info("CircuitBreaker: %s closed, endpoint recovered", cb.name)
			}
		}
		return
	}

	cb.lastFailure = cb.config.Clock.Now()
	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.state = StateOpen
			cb.logger.Warn("CircuitBreaker: %s opened after %d failures: %v", cb.name, cb.failures, err)
		}
	case StateHalfOpen:
		cb.state = StateOpen
		cb.successes = 0
		cb.logger.Warn("CircuitBreaker: %s reopened, trial request failed: %v", cb.name, err)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/itsneelabh/betpilot/core"
)

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	// StateClosed allows all requests through
	StateClosed CircuitState = iota
	// StateOpen blocks all requests
	StateOpen
	// StateHalfOpen allows limited requests for testing
	StateHalfOpen
)

// String returns the string representation of the state
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

// ErrorClassifier determines which errors should count toward circuit breaker thresholds
type ErrorClassifier func(error) bool

// DefaultErrorClassifier only counts infrastructure errors. Bad input,
// missing local files and caller cancellation leave the circuit alone.
func DefaultErrorClassifier(err error) bool {
	if err == nil {
		return false
	}
	if core.IsConfigurationError(err) || core.IsNotFound(err) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, core.ErrContextCanceled) {
		return false
	}
	return true
}

// CircuitBreakerConfig holds configuration for the circuit breaker
type CircuitBreakerConfig struct {
	// Name identifies the circuit breaker in logs and metrics
	Name string

	// FailureThreshold is the number of consecutive counted failures that opens the circuit
	FailureThreshold int

	// SleepWindow is how long the circuit stays open before probing
	SleepWindow time.Duration

	// HalfOpenRequests is the number of probes allowed while half-open;
	// all of them must succeed to close the circuit
	HalfOpenRequests int

	ErrorClassifier ErrorClassifier
	Logger          core.Logger
	Telemetry       core.Telemetry

	// now is overridable in tests
	now func() time.Time
}

// DefaultConfig returns a production-ready default configuration
func DefaultConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Name:             "default",
		FailureThreshold: 5,
		SleepWindow:      30 * time.Second,
		HalfOpenRequests: 1,
		ErrorClassifier:  DefaultErrorClassifier,
		Logger:           &core.NoOpLogger{},
		Telemetry:        &core.NoOpTelemetry{},
	}
}

// ConfigFrom builds a breaker configuration from the config section.
func ConfigFrom(name string, cfg core.CircuitBreakerConfig, logger core.Logger, tel core.Telemetry) *CircuitBreakerConfig {
	c := DefaultConfig()
	c.Name = name
	if cfg.Threshold > 0 {
		c.FailureThreshold = cfg.Threshold
	}
	if cfg.Timeout > 0 {
		c.SleepWindow = cfg.Timeout
	}
	if cfg.HalfOpenRequests > 0 {
		c.HalfOpenRequests = cfg.HalfOpenRequests
	}
	if logger != nil {
		c.Logger = core.ComponentLogger(logger, "resilience/circuit_breaker")
	}
	if tel != nil {
		c.Telemetry = tel
	}
	return c
}

// Validate checks the configuration
func (c *CircuitBreakerConfig) Validate() error {
	if c.FailureThreshold < 1 {
		return fmt.Errorf("failure threshold must be at least 1, got %d: %w", c.FailureThreshold, core.ErrInvalidConfiguration)
	}
	if c.SleepWindow <= 0 {
		return fmt.Errorf("sleep window must be positive, got %v: %w", c.SleepWindow, core.ErrInvalidConfiguration)
	}
	if c.HalfOpenRequests < 0 {
		return fmt.Errorf("half-open requests must not be negative: %w", core.ErrInvalidConfiguration)
	}
	return nil
}

// CircuitBreaker protects a remote dependency. It opens after
// FailureThreshold consecutive counted failures, rejects calls for
// SleepWindow, then lets HalfOpenRequests probes through.
type CircuitBreaker struct {
	config *CircuitBreakerConfig

	mu               sync.Mutex
	state            CircuitState
	stateChangedAt   time.Time
	consecutiveFails int
	halfOpenInFlight int
	halfOpenPassed   int
	rejected         uint64

	listeners []func(name string, from, to CircuitState)
}

// NewCircuitBreaker creates a circuit breaker
func NewCircuitBreaker(config *CircuitBreakerConfig) (*CircuitBreaker, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid circuit breaker config: %w", err)
	}
	if config.ErrorClassifier == nil {
		config.ErrorClassifier = DefaultErrorClassifier
	}
	if config.Logger == nil {
		config.Logger = &core.NoOpLogger{}
	}
	if config.Telemetry == nil {
		config.Telemetry = &core.NoOpTelemetry{}
	}
	if config.HalfOpenRequests == 0 {
		config.HalfOpenRequests = 1
	}
	if config.now == nil {
		config.now = time.Now
	}

	cb := &CircuitBreaker{
		config:         config,
		state:          StateClosed,
		stateChangedAt: config.now(),
	}

	config.Logger.Debug("Circuit breaker created", map[string]interface{}{
		"name":               config.Name,
		"failure_threshold":  config.FailureThreshold,
		"sleep_window_ms":    config.SleepWindow.Milliseconds(),
		"half_open_requests": config.HalfOpenRequests,
	})
	return cb, nil
}

// Execute runs fn if the circuit allows it and records the outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	halfOpen, ok := cb.acquire()
	if !ok {
		cb.config.Telemetry.RecordMetric("circuit_breaker.rejected", 1, map[string]string{"name": cb.config.Name})
		return &core.FrameworkError{
			Op:  "CircuitBreaker.Execute",
			ID:  cb.config.Name,
			Err: core.ErrCircuitBreakerOpen,
		}
	}

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic in circuit breaker %s: %v", cb.config.Name, r)
				cb.complete(halfOpen, err)
				panic(r)
			}
		}()
		err = fn()
	}()

	cb.complete(halfOpen, err)
	return err
}

// CanExecute reports whether a call would currently be admitted.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refreshLocked()
	switch cb.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		return cb.halfOpenInFlight+cb.halfOpenPassed < cb.config.HalfOpenRequests
	default:
		return false
	}
}

// acquire admits a call. halfOpen reports whether it is a probe.
func (cb *CircuitBreaker) acquire() (halfOpen bool, ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refreshLocked()

	switch cb.state {
	case StateClosed:
		return false, true
	case StateHalfOpen:
		if cb.halfOpenInFlight+cb.halfOpenPassed >= cb.config.HalfOpenRequests {
			cb.rejected++
			return true, false
		}
		cb.halfOpenInFlight++
		return true, true
	default:
		cb.rejected++
		return false, false
	}
}

func (cb *CircuitBreaker) complete(halfOpen bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	counted := err != nil && cb.config.ErrorClassifier(err)

	if halfOpen {
		cb.halfOpenInFlight--
		if cb.state != StateHalfOpen {
			return
		}
		if counted {
			cb.transitionLocked(StateOpen)
			return
		}
		cb.halfOpenPassed++
		if cb.halfOpenPassed >= cb.config.HalfOpenRequests {
			cb.transitionLocked(StateClosed)
		}
		return
	}

	if !counted {
		if err == nil {
			cb.consecutiveFails = 0
		}
		return
	}
	cb.consecutiveFails++
	if cb.state == StateClosed && cb.consecutiveFails >= cb.config.FailureThreshold {
		cb.config.Logger.Warn("Circuit breaker opening", map[string]interface{}{
			"name":                 cb.config.Name,
			"consecutive_failures": cb.consecutiveFails,
			"error":                err,
		})
		cb.transitionLocked(StateOpen)
	}
}

// refreshLocked moves an open circuit to half-open once the sleep window elapsed.
func (cb *CircuitBreaker) refreshLocked() {
	if cb.state == StateOpen && cb.config.now().Sub(cb.stateChangedAt) >= cb.config.SleepWindow {
		cb.transitionLocked(StateHalfOpen)
	}
}

func (cb *CircuitBreaker) transitionLocked(to CircuitState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.stateChangedAt = cb.config.now()
	cb.consecutiveFails = 0
	cb.halfOpenPassed = 0

	cb.config.Logger.Info("Circuit breaker state changed", map[string]interface{}{
		"name": cb.config.Name,
		"from": from.String(),
		"to":   to.String(),
	})
	cb.config.Telemetry.RecordMetric("circuit_breaker.state_changes", 1, map[string]string{
		"name": cb.config.Name,
		"to":   to.String(),
	})

	for _, l := range cb.listeners {
		go l(cb.config.Name, from, to)
	}
}

// AddStateChangeListener registers a callback run asynchronously on every transition.
func (cb *CircuitBreaker) AddStateChangeListener(listener func(name string, from, to CircuitState)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.listeners = append(cb.listeners, listener)
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.refreshLocked()
	return cb.state
}

// GetState returns the current state as a string.
func (cb *CircuitBreaker) GetState() string {
	return cb.State().String()
}

// GetMetrics returns a snapshot for diagnostics.
func (cb *CircuitBreaker) GetMetrics() map[string]interface{} {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return map[string]interface{}{
		"name":                 cb.config.Name,
		"state":                cb.state.String(),
		"consecutive_failures": cb.consecutiveFails,
		"rejected":             cb.rejected,
		"state_changed_at":     cb.stateChangedAt,
	}
}

// Reset closes the circuit and clears counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionLocked(StateClosed)
	cb.consecutiveFails = 0
	cb.halfOpenInFlight = 0
	cb.rejected = 0
}

package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
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

var (
	ErrOpen        = errors.New("circuit breaker is open")
	ErrCallTimeout = errors.New("circuit breaker call timed out")
)

type Config struct {
	Name string
	// MaxFailures consecutive failures open the breaker.
	MaxFailures int
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
	// CallTimeout bounds a single call so a hung dependency cannot wedge callers.
	CallTimeout time.Duration
	// HalfOpenRequests is the number of probe calls allowed while half-open.
	HalfOpenRequests int
	OnStateChange    func(name string, from, to State)
}

func (c Config) withDefaults(logger *logrus.Logger) Config {
	if c.Name == "" {
		c.Name = "unnamed"
	}
	fix := func(field string, bad bool, apply func(), def interface{}) {
		if !bad {
			return
		}
		logger.WithFields(logrus.Fields{
			"circuit_breaker": c.Name,
			"field":           field,
			"default_value":   def,
		}).Warn("Invalid circuit breaker setting, using default")
		apply()
	}
	fix("max_failures", c.MaxFailures <= 0, func() { c.MaxFailures = 5 }, 5)
	fix("open_timeout", c.OpenTimeout <= 0, func() { c.OpenTimeout = 30 * time.Second }, "30s")
	fix("call_timeout", c.CallTimeout <= 0, func() { c.CallTimeout = 5 * time.Second }, "5s")
	fix("half_open_requests", c.HalfOpenRequests <= 0, func() { c.HalfOpenRequests = 1 }, 1)
	return c
}

type CircuitBreaker struct {
	config Config

	mutex        sync.Mutex
	state        State
	failures     int
	probes       int
	lastFailTime time.Time

	totalRequests  int64
	totalFailures  int64
	totalRejected  int64
	stateChanges   int64
	lastTransition time.Time

	logger *logrus.Logger
}

func New(config Config, logger *logrus.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		config: config.withDefaults(logger),
		state:  StateClosed,
		logger: logger,
	}
}

// Execute runs fn unless the breaker is open. fn receives a context bounded
// by CallTimeout; if fn does not return in time Execute reports ErrCallTimeout
// and counts a failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.before(); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, cb.config.CallTimeout)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		result <- fn(callCtx)
	}()

	var err error
	select {
	case err = <-result:
	case <-callCtx.Done():
		if ctx.Err() != nil {
			err = ctx.Err()
		} else {
			err = fmt.Errorf("%w after %s", ErrCallTimeout, cb.config.CallTimeout)
		}
	}

	cb.after(err)
	return err
}

func (cb *CircuitBreaker) before() error {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if cb.state == StateOpen {
		if time.Since(cb.lastFailTime) <= cb.config.OpenTimeout {
			cb.totalRejected++
			return ErrOpen
		}
		cb.setState(StateHalfOpen)
		cb.probes = 0
	}

	if cb.state == StateHalfOpen {
		if cb.probes >= cb.config.HalfOpenRequests {
			cb.totalRejected++
			return ErrOpen
		}
		cb.probes++
	}

	cb.totalRequests++
	return nil
}

func (cb *CircuitBreaker) after(err error) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if err == nil {
		cb.failures = 0
		if cb.state == StateHalfOpen {
			cb.setState(StateClosed)
		}
		return
	}

	cb.totalFailures++
	cb.failures++
	cb.lastFailTime = time.Now()

	switch {
	case cb.state == StateHalfOpen:
		cb.setState(StateOpen)
	case cb.state == StateClosed && cb.failures >= cb.config.MaxFailures:
		cb.setState(StateOpen)
	}
}

func (cb *CircuitBreaker) setState(to State) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	cb.stateChanges++
	cb.lastTransition = time.Now()
	if to != StateHalfOpen {
		cb.probes = 0
	}

	cb.logger.WithFields(logrus.Fields{
		"circuit_breaker": cb.config.Name,
		"from_state":      from.String(),
		"to_state":        to.String(),
	}).Info("Circuit breaker state changed")

	if cb.config.OnStateChange != nil {
		go cb.notify(from, to)
	}
}

func (cb *CircuitBreaker) notify(from, to State) {
	defer func() {
		if r := recover(); r != nil {
			cb.logger.WithFields(logrus.Fields{
				"circuit_breaker": cb.config.Name,
				"panic":           r,
			}).Error("Circuit breaker state change callback panicked")
		}
	}()
	cb.config.OnStateChange(cb.config.Name, from, to)
}

func (cb *CircuitBreaker) State() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Name() string {
	return cb.config.Name
}

func (cb *CircuitBreaker) Metrics() map[string]interface{} {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	return map[string]interface{}{
		"name":            cb.config.Name,
		"state":           cb.state.String(),
		"failures":        cb.failures,
		"total_requests":  cb.totalRequests,
		"total_failures":  cb.totalFailures,
		"total_rejected":  cb.totalRejected,
		"state_changes":   cb.stateChanges,
		"max_failures":    cb.config.MaxFailures,
		"open_timeout_ms": cb.config.OpenTimeout.Milliseconds(),
		"call_timeout_ms": cb.config.CallTimeout.Milliseconds(),
	}
}

func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.setState(StateClosed)
	cb.failures = 0
	cb.probes = 0
	cb.lastFailTime = time.Time{}
}

func (cb *CircuitBreaker) String() string {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return fmt.Sprintf("CircuitBreaker(name=%s, state=%s, failures=%d/%d)",
		cb.config.Name, cb.state, cb.failures, cb.config.MaxFailures)
}

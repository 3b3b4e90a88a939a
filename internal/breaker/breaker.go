// internal/breaker/breaker.go

// Package breaker provides per-dependency circuit breakers that isolate the
// engine from collaborators that repeatedly fail or hang.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is the breaker position: CLOSED passes calls through, OPEN rejects
// them outright, HALF_OPEN lets a bounded number of trial calls probe the
// dependency after the recovery timeout.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Operation is a unit of work guarded by a breaker.
type Operation func(ctx context.Context) (map[string]interface{}, error)

// Config holds the thresholds and timeouts for one breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures that trips a
	// closed breaker open.
	FailureThreshold int
	// SuccessThreshold is the number of trial successes that closes a
	// half-open breaker. It also bounds concurrent half-open trial calls.
	SuccessThreshold int
	// RecoveryTimeout is how long an open breaker rejects calls before the
	// next call is allowed through as a trial.
	RecoveryTimeout time.Duration
	// CallTimeout bounds a single guarded call; a call that exceeds it is
	// treated as a failure even if it might eventually have succeeded.
	// Zero disables the per-call timeout.
	CallTimeout time.Duration
}

const (
	DefaultFailureThreshold = 5
	DefaultSuccessThreshold = 2
	DefaultRecoveryTimeout  = 30 * time.Second
)

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = DefaultSuccessThreshold
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = DefaultRecoveryTimeout
	}
	return c
}

// OpenError is returned when a breaker rejects a call without attempting the
// wrapped operation.
type OpenError struct {
	Name    string
	RetryAt time.Time
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %s is open, retry eligible at %s", e.Name, e.RetryAt.Format(time.RFC3339))
}

// CircuitBreaker guards calls to one named dependency. All state is
// mutex-serialized so concurrent subtasks cannot lose counter updates.
type CircuitBreaker struct {
	name   string
	config Config

	mu               sync.Mutex
	state            State
	failureCount     int
	successCount     int
	halfOpenInFlight int
	lastFailure      time.Time
	retryEligibleAt  time.Time
}

// New creates a closed breaker for the named dependency.
func New(name string, cfg Config) *CircuitBreaker {
	return &CircuitBreaker{
		name:   name,
		config: cfg.withDefaults(),
		state:  StateClosed,
	}
}

// Name returns the dependency name this breaker guards.
func (b *CircuitBreaker) Name() string {
	return b.name
}

// Do executes op under the breaker. It returns op's result on success,
// an *OpenError without invoking op when rejecting, and op's own error
// (after failure accounting) otherwise. A call exceeding the configured
// CallTimeout fails with context.DeadlineExceeded.
func (b *CircuitBreaker) Do(ctx context.Context, op Operation) (map[string]interface{}, error) {
	trial, err := b.beforeCall()
	if err != nil {
		return nil, err
	}

	out, err := b.invoke(ctx, op)
	b.afterCall(trial, err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// beforeCall applies the admission decision and reports whether the call is
// a half-open trial.
func (b *CircuitBreaker) beforeCall() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if time.Now().Before(b.retryEligibleAt) {
			return false, &OpenError{Name: b.name, RetryAt: b.retryEligibleAt}
		}
		// Recovery timeout elapsed: this call becomes the first trial.
		b.state = StateHalfOpen
		b.successCount = 0
		b.halfOpenInFlight = 1
		return true, nil
	case StateHalfOpen:
		if b.halfOpenInFlight >= b.config.SuccessThreshold {
			return false, &OpenError{Name: b.name, RetryAt: b.retryEligibleAt}
		}
		b.halfOpenInFlight++
		return true, nil
	default:
		return false, nil
	}
}

func (b *CircuitBreaker) invoke(ctx context.Context, op Operation) (map[string]interface{}, error) {
	if b.config.CallTimeout <= 0 {
		return op(ctx)
	}

	callCtx, cancel := context.WithTimeout(ctx, b.config.CallTimeout)
	defer cancel()

	type callResult struct {
		out map[string]interface{}
		err error
	}
	done := make(chan callResult, 1)
	go func() {
		out, err := op(callCtx)
		done <- callResult{out: out, err: err}
	}()

	select {
	case res := <-done:
		return res.out, res.err
	case <-callCtx.Done():
		return nil, callCtx.Err()
	}
}

// afterCall records the outcome. Context cancellation is neither a success
// nor a failure: the dependency was never given a fair chance to answer.
func (b *CircuitBreaker) afterCall(trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if trial && b.halfOpenInFlight > 0 {
		b.halfOpenInFlight--
	}
	if errors.Is(err, context.Canceled) {
		return
	}

	if err == nil {
		b.onSuccess()
		return
	}
	b.onFailure()
}

func (b *CircuitBreaker) onSuccess() {
	switch b.state {
	case StateClosed:
		b.failureCount = 0
	case StateHalfOpen:
		b.successCount++
		if b.successCount >= b.config.SuccessThreshold {
			b.state = StateClosed
			b.failureCount = 0
			b.successCount = 0
		}
	}
	// A stale success arriving while OPEN changes nothing.
}

func (b *CircuitBreaker) onFailure() {
	b.lastFailure = time.Now()

	switch b.state {
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.config.FailureThreshold {
			b.trip()
		}
	case StateHalfOpen:
		// A single trial failure re-opens and re-arms the timer.
		b.trip()
	}
}

// trip moves the breaker to OPEN and records when the next attempt is
// eligible. Callers must hold the mutex.
func (b *CircuitBreaker) trip() {
	b.state = StateOpen
	b.successCount = 0
	b.retryEligibleAt = time.Now().Add(b.config.RecoveryTimeout)
}

// Reset is the administrative reset back to a fresh closed breaker.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.failureCount = 0
	b.successCount = 0
	b.halfOpenInFlight = 0
	b.lastFailure = time.Time{}
	b.retryEligibleAt = time.Time{}
}

// Status is a read-only snapshot of a breaker for observability.
type Status struct {
	Name            string     `json:"name"`
	State           State      `json:"state"`
	FailureCount    int        `json:"failureCount"`
	SuccessCount    int        `json:"successCount"`
	LastFailure     *time.Time `json:"lastFailure,omitempty"`
	RetryEligibleAt *time.Time `json:"retryEligibleAt,omitempty"`
}

// Status returns the current snapshot of the breaker.
func (b *CircuitBreaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	status := Status{
		Name:         b.name,
		State:        b.state,
		FailureCount: b.failureCount,
		SuccessCount: b.successCount,
	}
	if !b.lastFailure.IsZero() {
		t := b.lastFailure
		status.LastFailure = &t
	}
	if b.state == StateOpen {
		t := b.retryEligibleAt
		status.RetryEligibleAt = &t
	}
	return status
}

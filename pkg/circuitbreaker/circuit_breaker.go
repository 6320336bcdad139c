package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State represents the state of a circuit breaker
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Options configures a breaker
type Options struct {
	MaxFailures uint32
	Cooldown    time.Duration
	// HalfOpenTrials is the number of consecutive successes needed to close again.
	HalfOpenTrials uint32
	// IsFailure decides which errors count against the breaker. Nil counts every error.
	IsFailure func(error) bool
	// OnStateChange is called with the breaker lock released.
	OnStateChange func(name string, from, to State)
}

// CircuitBreaker guards calls to one upstream
type CircuitBreaker struct {
	name string
	opts Options

	mu             sync.Mutex
	state          State
	failures       uint32
	openedAt       time.Time
	trialsInFlight uint32
	trialSuccesses uint32
	requests       uint64

	now    func() time.Time
	logger logrus.FieldLogger
}

// New creates a new circuit breaker
func New(name string, opts Options, logger logrus.FieldLogger) *CircuitBreaker {
	if opts.MaxFailures == 0 {
		opts.MaxFailures = 5
	}
	if opts.HalfOpenTrials == 0 {
		opts.HalfOpenTrials = 1
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &CircuitBreaker{
		name:   name,
		opts:   opts,
		state:  StateClosed,
		now:    time.Now,
		logger: logger,
	}
}

// Execute runs fn unless the breaker is open
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.acquire(); err != nil {
		return err
	}

	err := fn(ctx)
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) acquire() error {
	cb.mu.Lock()
	var from State
	changed := false

	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.opts.Cooldown {
		from, changed = cb.state, true
		cb.state = StateHalfOpen
		cb.trialsInFlight = 0
		cb.trialSuccesses = 0
	}

	var err error
	switch cb.state {
	case StateOpen:
		err = &CircuitBreakerError{Name: cb.name, State: StateOpen}
	case StateHalfOpen:
		if cb.trialsInFlight >= cb.opts.HalfOpenTrials {
			err = &CircuitBreakerError{Name: cb.name, State: StateHalfOpen}
		} else {
			cb.trialsInFlight++
		}
	}
	if err == nil {
		cb.requests++
	}
	cb.mu.Unlock()

	if changed {
		cb.notify(from, StateHalfOpen)
	}
	return err
}

func (cb *CircuitBreaker) record(err error) {
	failed := err != nil && (cb.opts.IsFailure == nil || cb.opts.IsFailure(err))

	cb.mu.Lock()
	from := cb.state
	switch cb.state {
	case StateClosed:
		if failed {
			cb.failures++
			if cb.failures >= cb.opts.MaxFailures {
				cb.trip()
			}
		} else if err == nil {
			cb.failures = 0
		}
	case StateHalfOpen:
		if cb.trialsInFlight > 0 {
			cb.trialsInFlight--
		}
		if failed {
			cb.trip()
		} else if err == nil {
			cb.trialSuccesses++
			if cb.trialSuccesses >= cb.opts.HalfOpenTrials {
				cb.state = StateClosed
				cb.failures = 0
			}
		}
	}
	to := cb.state
	failures := cb.failures
	cb.mu.Unlock()

	if from == to {
		return
	}
	entry := cb.logger.WithFields(logrus.Fields{
		"circuit_breaker": cb.name,
		"state":           to.String(),
	})
	if to == StateOpen {
		entry.WithField("failures", failures).Warn("Circuit breaker opened")
	} else {
		entry.Info("Circuit breaker closed after successful trial")
	}
	cb.notify(from, to)
}

// trip must be called with the lock held
func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.openedAt = cb.now()
	cb.trialsInFlight = 0
	cb.trialSuccesses = 0
}

func (cb *CircuitBreaker) notify(from, to State) {
	if cb.opts.OnStateChange != nil {
		cb.opts.OnStateChange(cb.name, from, to)
	}
}

// State returns the current state without side effects
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns statistics about the circuit breaker
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Stats{
		Name:     cb.name,
		State:    cb.state,
		Failures: cb.failures,
		Requests: cb.requests,
		OpenedAt: cb.openedAt,
	}
}

// Stats represents circuit breaker statistics
type Stats struct {
	Name     string
	State    State
	Failures uint32
	Requests uint64
	OpenedAt time.Time
}

// Group lazily creates one breaker per key, for example per tenant.
type Group struct {
	prefix string
	opts   Options
	logger logrus.FieldLogger

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewGroup creates a keyed set of breakers sharing opts
func NewGroup(prefix string, opts Options, logger logrus.FieldLogger) *Group {
	return &Group{
		prefix:   prefix,
		opts:     opts,
		logger:   logger,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for key, creating it on first use
func (g *Group) Get(key string) *CircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	cb, ok := g.breakers[key]
	if !ok {
		cb = New(g.prefix+":"+key, g.opts, g.logger)
		g.breakers[key] = cb
	}
	return cb
}

// Stats returns stats for every breaker created so far
func (g *Group) Stats() []Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]Stats, 0, len(g.breakers))
	for _, cb := range g.breakers {
		out = append(out, cb.Stats())
	}
	return out
}

// CircuitBreakerError is returned when a call is rejected without being attempted
type CircuitBreakerError struct {
	Name  string
	State State
}

func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is %s", e.Name, e.State)
}

// IsCircuitBreakerError checks if an error is a circuit breaker error
func IsCircuitBreakerError(err error) bool {
	var cbErr *CircuitBreakerError
	return errors.As(err, &cbErr)
}

package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream unavailable")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(opts Options) (*CircuitBreaker, *fakeClock) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	cb := New("graph:P1", opts, logger)
	cb.now = clock.Now
	return cb, clock
}

func fail(context.Context) error    { return errUpstream }
func succeed(context.Context) error { return nil }

func TestStateString(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateClosed, "CLOSED"},
		{StateOpen, "OPEN"},
		{StateHalfOpen, "HALF_OPEN"},
		{State(999), "UNKNOWN"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.state.String())
	}
}

func TestNew_Defaults(t *testing.T) {
	cb := New("x", Options{}, nil)

	assert.Equal(t, uint32(5), cb.opts.MaxFailures)
	assert.Equal(t, uint32(1), cb.opts.HalfOpenTrials)
	assert.Equal(t, StateClosed, cb.State())
}

func TestExecute_TripsAfterMaxFailures(t *testing.T) {
	cb, _ := newTestBreaker(Options{MaxFailures: 3, Cooldown: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), errUpstream)
	}
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	assert.True(t, IsCircuitBreakerError(err))
	assert.False(t, called, "open breaker must not call through")
}

func TestExecute_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(Options{MaxFailures: 2, Cooldown: time.Minute})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	require.NoError(t, cb.Execute(ctx, succeed))
	_ = cb.Execute(ctx, fail)

	assert.Equal(t, StateClosed, cb.State())
}

func TestExecute_RecoversThroughHalfOpen(t *testing.T) {
	cb, clock := newTestBreaker(Options{MaxFailures: 1, Cooldown: 30 * time.Second, HalfOpenTrials: 2})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	require.Equal(t, StateOpen, cb.State())

	clock.Advance(29 * time.Second)
	assert.True(t, IsCircuitBreakerError(cb.Execute(ctx, succeed)))

	clock.Advance(time.Second)
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.State())
}

func TestExecute_HalfOpenFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(Options{MaxFailures: 1, Cooldown: time.Second})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clock.Advance(time.Second)

	assert.ErrorIs(t, cb.Execute(ctx, fail), errUpstream)
	assert.Equal(t, StateOpen, cb.State())
}

func TestExecute_HalfOpenLimitsConcurrentTrials(t *testing.T) {
	cb, clock := newTestBreaker(Options{MaxFailures: 1, Cooldown: time.Second, HalfOpenTrials: 1})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clock.Advance(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	err := cb.Execute(ctx, succeed)
	assert.True(t, IsCircuitBreakerError(err))

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, cb.State())
}

func TestExecute_IsFailureFilter(t *testing.T) {
	clientErr := errors.New("400 bad request")
	cb, _ := newTestBreaker(Options{
		MaxFailures: 1,
		Cooldown:    time.Minute,
		IsFailure:   func(err error) bool { return !errors.Is(err, clientErr) },
	})

	err := cb.Execute(context.Background(), func(context.Context) error { return clientErr })
	assert.ErrorIs(t, err, clientErr)
	assert.Equal(t, StateClosed, cb.State())
}

func TestExecute_OnStateChange(t *testing.T) {
	var transitions []string
	cb, clock := newTestBreaker(Options{
		MaxFailures: 1,
		Cooldown:    time.Second,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, fmt.Sprintf("%s:%s->%s", name, from, to))
		},
	})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clock.Advance(time.Second)
	_ = cb.Execute(ctx, succeed)

	assert.Equal(t, []string{
		"graph:P1:CLOSED->OPEN",
		"graph:P1:OPEN->HALF_OPEN",
		"graph:P1:HALF_OPEN->CLOSED",
	}, transitions)
}

func TestStats(t *testing.T) {
	cb, _ := newTestBreaker(Options{MaxFailures: 3, Cooldown: time.Minute})
	ctx := context.Background()

	_ = cb.Execute(ctx, succeed)
	_ = cb.Execute(ctx, fail)

	stats := cb.Stats()
	assert.Equal(t, "graph:P1", stats.Name)
	assert.Equal(t, uint64(2), stats.Requests)
	assert.Equal(t, uint32(1), stats.Failures)
	assert.Equal(t, StateClosed, stats.State)
}

func TestGroup_IsolatesKeys(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	group := NewGroup("graph", Options{MaxFailures: 1, Cooldown: time.Minute}, logger)
	ctx := context.Background()

	_ = group.Get("P1").Execute(ctx, fail)

	assert.Equal(t, StateOpen, group.Get("P1").State())
	assert.Equal(t, StateClosed, group.Get("P2").State())
	assert.Same(t, group.Get("P1"), group.Get("P1"))
	assert.Len(t, group.Stats(), 2)
}

func TestConcurrentAccess(t *testing.T) {
	cb, _ := newTestBreaker(Options{MaxFailures: 1000, Cooldown: time.Minute})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_ = cb.Execute(ctx, succeed)
			} else {
				_ = cb.Execute(ctx, fail)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, uint64(50), cb.Stats().Requests)
}

func TestCircuitBreakerError(t *testing.T) {
	err := fmt.Errorf("send: %w", &CircuitBreakerError{Name: "graph:P1", State: StateOpen})

	assert.True(t, IsCircuitBreakerError(err))
	assert.False(t, IsCircuitBreakerError(errUpstream))
	assert.Contains(t, err.Error(), "circuit breaker 'graph:P1' is OPEN")
}

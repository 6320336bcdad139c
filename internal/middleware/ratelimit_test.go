package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"whatsrelay/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_Burst(t *testing.T) {
	rl := NewRateLimiter(1, 10, time.Minute)
	frozen := time.Now()
	rl.now = func() time.Time { return frozen }

	allowed := 0
	for i := 0; i < 20; i++ {
		if rl.Allow("127.0.0.1") {
			allowed++
		}
	}
	assert.Equal(t, 10, allowed)
}

func TestRateLimiter_Refill(t *testing.T) {
	rl := NewRateLimiter(10, 1, time.Minute)
	now := time.Now()
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))

	now = now.Add(100 * time.Millisecond)
	assert.True(t, rl.Allow("a"))
}

func TestRateLimiter_SetLimits(t *testing.T) {
	rl := NewRateLimiter(1, 1, time.Minute)
	frozen := time.Now()
	rl.now = func() time.Time { return frozen }

	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))

	rl.SetLimits(1, 3)
	assert.True(t, rl.Allow("b"))
	assert.True(t, rl.Allow("b"))
	assert.True(t, rl.Allow("b"))
	assert.False(t, rl.Allow("b"))

	frozen = frozen.Add(2 * time.Second)
	assert.True(t, rl.Allow("a"), "existing client picks up the new limit")
	assert.True(t, rl.Allow("a"))
}

func TestRateLimiter_PerClient(t *testing.T) {
	rl := NewRateLimiter(1, 2, time.Minute)
	frozen := time.Now()
	rl.now = func() time.Time { return frozen }

	for _, ip := range []string{"192.168.1.1", "192.168.1.2", "192.168.1.3"} {
		assert.True(t, rl.Allow(ip), ip)
		assert.True(t, rl.Allow(ip), ip)
		assert.False(t, rl.Allow(ip), ip)
	}
	assert.Equal(t, 3, rl.Len())
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(1, 1, time.Minute)
	now := time.Now()
	rl.now = func() time.Time { return now }

	rl.Allow("old")
	now = now.Add(2 * time.Minute)
	rl.Allow("fresh")

	assert.Equal(t, 1, rl.Cleanup())
	assert.Equal(t, 1, rl.Len())
}

func TestRateLimiter_Concurrent(t *testing.T) {
	rl := NewRateLimiter(1, 10, time.Minute)
	frozen := time.Now()
	rl.now = func() time.Time { return frozen }

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for g := 0; g < 20; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				if rl.Allow("shared") {
					allowed.Add(1)
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(10), allowed.Load())
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl := NewRateLimiter(1, 1, time.Minute)
	frozen := time.Now()
	rl.now = func() time.Time { return frozen }

	handler := rl.Middleware(false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhook", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1:1000").Code)
	limited := send("10.0.0.1:1001")
	require.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "1", limited.Header().Get("Retry-After"))

	var body errors.HTTPErrorResponse
	require.NoError(t, json.Unmarshal(limited.Body.Bytes(), &body))
	assert.Equal(t, "error", body.Status)
	assert.Equal(t, errors.ErrCodeRateLimit, body.Error.Code)

	assert.Equal(t, http.StatusOK, send("10.0.0.2:1000").Code, "other clients keep their own bucket")
}

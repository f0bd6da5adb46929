package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

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

func loginAttempt(h http.Handler, remoteAddr string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
	req.RemoteAddr = remoteAddr
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimit_BurstThenRejects(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	var logs bytes.Buffer
	h := rateLimit(RateLimitConfig{RPS: 0.5, Burst: 3}, newTestLogger(&logs), clock.Now)(okHandler())

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, loginAttempt(h, "10.0.0.1:5000").Code, "attempt %d", i+1)
	}

	rr := loginAttempt(h, "10.0.0.1:5001")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "2", rr.Header().Get("Retry-After"))
	assert.Contains(t, rr.Body.String(), `"code":"RATE_LIMITED"`)
	assert.Contains(t, rr.Body.String(), `"retryable":true`)
	assert.Contains(t, logs.String(), "rate limit exceeded")

	// One token refills every two seconds.
	clock.Advance(2 * time.Second)
	assert.Equal(t, http.StatusOK, loginAttempt(h, "10.0.0.1:5002").Code)
	assert.Equal(t, http.StatusTooManyRequests, loginAttempt(h, "10.0.0.1:5003").Code)
}

func TestRateLimit_ClientsAreIndependent(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	h := rateLimit(RateLimitConfig{RPS: 1, Burst: 1}, newTestLogger(&bytes.Buffer{}), clock.Now)(okHandler())

	assert.Equal(t, http.StatusOK, loginAttempt(h, "10.0.0.1:1").Code)
	assert.Equal(t, http.StatusTooManyRequests, loginAttempt(h, "10.0.0.1:2").Code)
	assert.Equal(t, http.StatusOK, loginAttempt(h, "10.0.0.2:1").Code)

	// Forwarded clients get their own bucket even behind one proxy address.
	assert.Equal(t, http.StatusOK, loginAttempt(h, "10.0.0.1:3", "X-Forwarded-For", "203.0.113.7, 10.0.0.1").Code)
	assert.Equal(t, http.StatusTooManyRequests, loginAttempt(h, "10.0.0.9:3", "X-Forwarded-For", "203.0.113.7").Code)
}

func TestRateLimit_DisabledPassesThrough(t *testing.T) {
	h := RateLimit(RateLimitConfig{}, newTestLogger(&bytes.Buffer{}))(okHandler())
	for i := 0; i < 50; i++ {
		assert.Equal(t, http.StatusOK, loginAttempt(h, "10.0.0.1:1").Code)
	}
}

func TestVisitorStore_SweepsIdleClients(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	store := newVisitorStore(RateLimitConfig{RPS: 1, Burst: 1, IdleTTL: time.Minute}, clock.Now)

	store.limiter("10.0.0.1")
	store.limiter("10.0.0.2")
	assert.Equal(t, 2, store.len())

	clock.Advance(30 * time.Second)
	store.limiter("10.0.0.2")

	clock.Advance(45 * time.Second)
	store.limiter("10.0.0.3")
	assert.Equal(t, 2, store.len(), "10.0.0.1 idle past the TTL is evicted")
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xri        string
		want       string
	}{
		{"remote addr", "192.0.2.1:443", "", "", "192.0.2.1"},
		{"forwarded chain", "10.0.0.1:1", "198.51.100.4, 10.0.0.1", "", "198.51.100.4"},
		{"garbage forwarded falls back to real ip", "10.0.0.1:1", "nope", "198.51.100.9", "198.51.100.9"},
		{"no port", "192.0.2.5", "", "", "192.0.2.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				req.Header.Set("X-Real-IP", tt.xri)
			}
			assert.Equal(t, tt.want, clientIP(req))
		})
	}
}

package worker

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	tests := []struct {
		header   string
		expected string
	}{
		{"X-Frame-Options", "DENY"},
		{"X-Content-Type-Options", "nosniff"},
		{"Referrer-Policy", "strict-origin-when-cross-origin"},
		{"Content-Security-Policy", "default-src 'none'"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, rr.Header().Get(tt.header), tt.header)
	}
}

func TestMaxBodySize(t *testing.T) {
	handler := MaxBodySize(8)(okHandler())

	req := httptest.NewRequest("POST", "/test", strings.NewReader("0123456789"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)

	req = httptest.NewRequest("POST", "/test", strings.NewReader("small"))
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestTokenAuth_Disabled(t *testing.T) {
	ta := NewTokenAuth("")
	assert.False(t, ta.IsEnabled())

	rr := httptest.NewRecorder()
	ta.Middleware(okHandler()).ServeHTTP(rr, httptest.NewRequest("GET", "/api/clusters", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
	assert.Len(t, seen, 36)
	assert.Equal(t, seen, rr.Header().Get("X-Request-ID"))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", "client-id")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, "client-id", seen)
}

func TestRequireJSONContentType(t *testing.T) {
	handler := RequireJSONContentType(okHandler())

	tests := []struct {
		method, contentType string
		want                int
	}{
		{"POST", "application/json; charset=utf-8", http.StatusOK},
		{"POST", "", http.StatusOK},
		{"POST", "text/xml", http.StatusUnsupportedMediaType},
		{"GET", "text/xml", http.StatusOK},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, "/", nil)
		if tt.contentType != "" {
			req.Header.Set("Content-Type", tt.contentType)
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, tt.want, rr.Code, "%s %q", tt.method, tt.contentType)
	}
}

func TestPerClientRateLimiter(t *testing.T) {
	limiter := NewPerClientRateLimiter(0.001, 2)

	assert.True(t, limiter.Allow("a"))
	assert.True(t, limiter.Allow("a"))
	assert.False(t, limiter.Allow("a"))
	// Clients have independent buckets.
	assert.True(t, limiter.Allow("b"))

	stats := limiter.Stats()
	assert.Equal(t, 2, stats["active_clients"])
	assert.EqualValues(t, 4, stats["total_requests"])
	assert.EqualValues(t, 1, stats["total_rejected"])
}

func TestPerClientRateLimitMiddleware_KeysByHost(t *testing.T) {
	handler := PerClientRateLimitMiddleware(NewPerClientRateLimiter(0.001, 1))(okHandler())

	send := func(remote string) int {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = remote
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1:1000"))
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.1:2000"))
	assert.Equal(t, http.StatusOK, send("10.0.0.2:1000"))
}

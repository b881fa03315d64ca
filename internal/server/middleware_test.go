package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded chain", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, "10.0.0.1:1234", "203.0.113.7"},
		{"forwarded single", map[string]string{"X-Forwarded-For": " 203.0.113.8 "}, "10.0.0.1:1234", "203.0.113.8"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.2"}, "10.0.0.1:1234", "198.51.100.2"},
		{"remote addr", nil, "192.0.2.1:5678", "192.0.2.1"},
		{"remote addr without port", nil, "192.0.2.9", "192.0.2.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, getClientIP(req))
		})
	}
}

func TestCORSMiddleware_CustomOrigin(t *testing.T) {
	f := newFixture(t, func(c *Config, _ *Deps) { c.CORSOrigin = "https://docs.example.com" })

	rec := f.do(t, http.MethodGet, "/pipeline", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://docs.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "86400", rec.Header().Get("Access-Control-Max-Age"))
}

func TestResponseWriter_CapturesStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}
	rw.WriteHeader(http.StatusTeapot)
	assert.Equal(t, http.StatusTeapot, rw.statusCode)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	f := newFixture(t, withRateLimit(1))

	rec := f.do(t, http.MethodPost, "/ocr/process", itemsRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "first request reaches the handler")

	rec = f.do(t, http.MethodPost, "/ocr/process", itemsRequest{})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, decode[ErrorResponse](t, rec).Error, "rate limit exceeded")

	rec = f.do(t, http.MethodGet, "/ocr/jobs", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "reads are not limited")
}

func TestRateLimitMiddleware_Disabled(t *testing.T) {
	f := newFixture(t)
	assert.Nil(t, f.server.limiter)
	for range 5 {
		assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/ocr/process", itemsRequest{}).Code)
	}
}

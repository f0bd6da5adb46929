package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func corsServe(cfg CORSConfig, method, origin string) *httptest.ResponseRecorder {
	handler := CORS(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(method, "/api/v1/addresses", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestCORS_AllowOrigin(t *testing.T) {
	prod := CORSConfig{
		AllowedOrigins: []string{"https://shop.example.com", "https://admin.example.com"},
		Environment:    "production",
	}
	tests := []struct {
		name      string
		cfg       CORSConfig
		origin    string
		wantAllow string
		wantVary  string
	}{
		{"dev wildcard", CORSConfig{AllowedOrigins: []string{"*"}, Environment: "development"}, "https://any.io", "*", ""},
		{"dev wildcard without origin", CORSConfig{Environment: "development"}, "", "*", ""},
		{"prod allowed", prod, "https://shop.example.com", "https://shop.example.com", "Origin"},
		{"prod second allowed", prod, "https://admin.example.com", "https://admin.example.com", "Origin"},
		{"prod rejected", prod, "https://evil.com", "", ""},
		{"prod no origin", prod, "", "", ""},
		{"explicit star in prod", CORSConfig{AllowedOrigins: []string{"*"}, Environment: "production"}, "https://x.io", "*", ""},
		{"credentials echo origin", CORSConfig{AllowedOrigins: []string{"*"}, AllowCredentials: true}, "https://x.io", "https://x.io", "Origin"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := corsServe(tt.cfg, http.MethodGet, tt.origin)
			assert.Equal(t, http.StatusOK, rr.Code)
			assert.Equal(t, tt.wantAllow, rr.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tt.wantVary, rr.Header().Get("Vary"))
		})
	}
}

func TestCORS_PreflightOptions_Returns204(t *testing.T) {
	called := false
	handler := CORS(DefaultCORSConfig())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodOptions, "/api/v1/addresses", nil))

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.False(t, called, "preflight must not reach the handler")
}

func TestCORS_Defaults(t *testing.T) {
	rr := corsServe(CORSConfig{Environment: "development"}, http.MethodGet, "")

	assert.Equal(t, "GET, POST, PUT, PATCH, DELETE, OPTIONS", rr.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Accept, Authorization, Content-Type, Idempotency-Key, X-Correlation-ID", rr.Header().Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "3600", rr.Header().Get("Access-Control-Max-Age"))
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORS_CustomHeadersAndMaxAge(t *testing.T) {
	rr := corsServe(CORSConfig{
		AllowedOrigins:   []string{"https://shop.example.com"},
		AllowedHeaders:   []string{"Accept", "Authorization"},
		ExposedHeaders:   []string{"X-Correlation-ID", "Retry-After"},
		MaxAge:           7200,
		AllowCredentials: true,
		Environment:      "production",
	}, http.MethodGet, "https://shop.example.com")

	assert.Equal(t, "Accept, Authorization", rr.Header().Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "X-Correlation-ID, Retry-After", rr.Header().Get("Access-Control-Expose-Headers"))
	assert.Equal(t, "7200", rr.Header().Get("Access-Control-Max-Age"))
	assert.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))
}

func TestDefaultCORSConfig(t *testing.T) {
	cfg := DefaultCORSConfig()
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Contains(t, cfg.AllowedHeaders, "Idempotency-Key")
	assert.Contains(t, cfg.ExposedHeaders, "Idempotency-Replayed")
	assert.Equal(t, "development", cfg.Environment)
}

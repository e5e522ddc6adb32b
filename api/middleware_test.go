package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"tablevault/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// TestRequestID tests that request ids are echoed, sanitized or generated
func TestRequestID(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "abc-123<script>")
	rec := httptest.NewRecorder()
	s.api.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "abc-123script", rec.Header().Get(requestIDHeader))

	rec = s.do(t, http.MethodGet, "/health", "", nil)
	assert.Len(t, rec.Header().Get(requestIDHeader), 36)
}

// TestSanitizeRequestID tests the character filter and length cap
func TestSanitizeRequestID(t *testing.T) {
	assert.Equal(t, "ok_id-1", sanitizeRequestID("ok_id-1"))
	assert.Equal(t, "", sanitizeRequestID("\n\r"))
	long := make([]byte, 100)
	for i := range long {
		long[i] = 'a'
	}
	assert.Len(t, sanitizeRequestID(string(long)), 64)
}

// TestRequireAdmin tests that non-admin callers get the uniform forbidden message
func TestRequireAdmin(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/admin/logs", s.token(t, ownerEmail), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, msgForbidden, decode(t, rec).Message)

	rec = s.do(t, http.MethodGet, "/api/v1/admin/logs?limit=5", s.token(t, adminEmail), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// TestCORS tests allowed origins and preflight handling
func TestCORS(t *testing.T) {
	cfg := testConfig()
	cfg.API.AllowedOrigins = []string{"https://app.example.com"}
	s := newTestServerWith(t, cfg, zap.NewNop().Sugar())

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/auth/login", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	s.api.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	s.api.Handler().ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

// TestRecoverMiddleware tests that handler panics become 500 responses
func TestRecoverMiddleware(t *testing.T) {
	s := newTestServer(t)
	h := s.api.recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal server error", decode(t, rec).Message)
}

type downStore struct{}

func (downStore) HealthCheck(context.Context) error { return errors.New("no reachable servers") }

// TestHealthCheck tests both health states
func TestHealthCheck(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	s.api.health = downStore{}
	rec = s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// TestWriteServiceError tests the mapping of the error taxonomy to statuses
func TestWriteServiceError(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &core.ValidationError{Field: "title", Code: core.CodeMissingRequired}, http.StatusBadRequest},
		{"duplicate", &core.DuplicateValueError{Field: "code"}, http.StatusConflict},
		{"mixed field errors", core.FieldErrors{
			&core.DuplicateValueError{Field: "code"},
			&core.ValidationError{Field: "title", Code: core.CodeMissingRequired},
		}, http.StatusBadRequest},
		{"permission", &core.PermissionError{Kind: core.PermissionBlocked}, http.StatusForbidden},
		{"invalid table", core.ErrInvalidTable, http.StatusBadRequest},
		{"table missing", core.ErrTableNotFound, http.StatusNotFound},
		{"row missing", core.ErrRowNotFound, http.StatusNotFound},
		{"share missing", core.ErrShareNotFound, http.StatusNotFound},
		{"unexpected", errors.New("socket closed"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.api.writeServiceError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

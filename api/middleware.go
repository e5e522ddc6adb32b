package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"tablevault/core"
	"tablevault/metrics"
	"tablevault/storage"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

const requestIDHeader = "X-Request-ID"

// identityCacheTTL bounds how long a wiped or changed account keeps
// resolving from the cache.
const identityCacheTTL = 30 * time.Second

// requestIDMiddleware adds request ID tracking and timing to all requests.
// A client-supplied X-Request-ID is kept after sanitizing, otherwise a UUID
// is generated. The id is echoed in the response.
func (a *API) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := sanitizeRequestID(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set(requestIDHeader, requestID)

		wrapped := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r.WithContext(WithRequestID(r.Context(), requestID)))

		route := "unmatched"
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		duration := time.Since(start)
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route, fmt.Sprint(wrapped.statusCode)).Observe(duration.Seconds())

		a.logger.Debugw("request_completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration_ms", duration.Milliseconds())
	})
}

// recoverMiddleware turns a handler panic into a 500 response.
func (a *API) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				a.logger.Errorw("Recovered from panic in HTTP handler",
					"panic", rec,
					"request_id", GetRequestIDOrDefault(r.Context()),
					"path", r.URL.Path,
					"stack", string(debug.Stack()))
				a.respondJSON(w, errorResponse{Message: "Internal server error"}, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware adds CORS headers
func (a *API) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		for _, allowed := range a.config.API.AllowedOrigins {
			if origin != "" && origin == allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				break
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")

		if a.config.API.TLS {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// jwtAuthMiddleware authenticates bearer tokens and confirms the account
// still exists, so tokens of accounts removed by a wipe stop working.
func (a *API) jwtAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			a.writeError(w, r, http.StatusUnauthorized, errorResponse{Message: "Authorization required"}, nil)
			return
		}

		claims, err := validateJWT(strings.TrimPrefix(authHeader, "Bearer "), a.config.Auth.JWTSecret)
		if err != nil {
			a.writeError(w, r, http.StatusUnauthorized, errorResponse{Message: "Invalid token"}, err)
			return
		}

		id, err := a.currentIdentity(r.Context(), claims)
		if err != nil {
			if errors.Is(err, core.ErrUserNotFound) {
				a.writeError(w, r, http.StatusUnauthorized, errorResponse{Message: "Invalid token"}, err)
				return
			}
			a.writeServiceError(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// currentIdentity loads the account behind a token, through the identity
// cache when one is configured.
func (a *API) currentIdentity(ctx context.Context, claims *Claims) (core.Identity, error) {
	key := storage.UserCacheKey(claims.Subject)
	if a.cache != nil {
		var cached core.Identity
		found, err := a.cache.Get(ctx, key, &cached)
		if err != nil {
			a.logger.Warnw("Identity cache lookup failed", "error", err)
		} else if found {
			return cached, nil
		}
	}

	user, err := a.users.GetUserByID(ctx, claims.Subject)
	if err != nil {
		return core.Identity{}, err
	}
	id := core.Identity{UserID: user.ID, Email: user.Email, IsAdmin: user.IsAdmin}

	if a.cache != nil {
		if err := a.cache.Set(ctx, key, id, identityCacheTTL); err != nil {
			a.logger.Warnw("Identity cache store failed", "error", err)
		}
	}
	return id, nil
}

// requireAdmin rejects callers without the admin flag.
func (a *API) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := GetIdentity(r.Context())
		if !ok || !id.IsAdmin {
			a.writeError(w, r, http.StatusForbidden, errorResponse{Message: msgForbidden}, nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture the status code.
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

// WriteHeader captures the status code before writing it.
func (w *responseWriterWrapper) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

// Write implements http.ResponseWriter.Write and ensures status code is captured.
func (w *responseWriterWrapper) Write(b []byte) (int, error) {
	if !w.written {
		w.statusCode = http.StatusOK
		w.written = true
	}
	return w.ResponseWriter.Write(b)
}

// sanitizeRequestID keeps alphanumerics, dashes and underscores and
// truncates to 64 characters.
func sanitizeRequestID(id string) string {
	const maxLen = 64
	if len(id) > maxLen {
		id = id[:maxLen]
	}

	result := make([]byte, 0, len(id))
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c >= 'a' && c <= 'z') ||
			(c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') ||
			c == '-' || c == '_' {
			result = append(result, c)
		}
	}
	return string(result)
}

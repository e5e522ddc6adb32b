// Package api is the HTTP boundary of tablevault: authentication, request
// plumbing and the JSON envelope around the table and row services.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"tablevault/config"
	"tablevault/core"
	"tablevault/intrusion"
	"tablevault/service"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// UserStore looks up accounts for login and token checks.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (*core.User, error)
	GetUserByID(ctx context.Context, id string) (*core.User, error)
}

// LoginGuard records failed logins.
type LoginGuard interface {
	RecordFailedLogin(ctx context.Context, email, ip, userAgent string) (*intrusion.Result, error)
}

// IdentityCache caches resolved identities between requests.
type IdentityCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
}

// HealthChecker reports whether the primary store is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps are the collaborators of the API. Cache may be nil.
type Deps struct {
	Tables  *service.TableService
	Rows    *service.RowService
	Audit   *service.AuditLog
	Users   UserStore
	Guard   LoginGuard
	Limiter LoginLimiter
	Cache   IdentityCache
	Health  HealthChecker
}

// API holds the API server
type API struct {
	router   *mux.Router
	server   *http.Server
	tables   *service.TableService
	rows     *service.RowService
	audit    *service.AuditLog
	users    UserStore
	guard    LoginGuard
	limiter  LoginLimiter
	cache    IdentityCache
	health   HealthChecker
	config   *config.Config
	logger   *zap.SugaredLogger
	validate *validator.Validate
	now      func() time.Time
}

// NewAPI creates a new API server
func NewAPI(deps Deps, cfg *config.Config, logger *zap.SugaredLogger) *API {
	if deps.Tables == nil || deps.Rows == nil || deps.Audit == nil {
		panic("table, row and audit services are required")
	}
	if deps.Users == nil || deps.Guard == nil || deps.Limiter == nil || deps.Health == nil {
		panic("users, guard, limiter and health are required")
	}
	if cfg == nil || logger == nil {
		panic("config and logger are required")
	}

	a := &API{
		router:   mux.NewRouter(),
		tables:   deps.Tables,
		rows:     deps.Rows,
		audit:    deps.Audit,
		users:    deps.Users,
		guard:    deps.Guard,
		limiter:  deps.Limiter,
		cache:    deps.Cache,
		health:   deps.Health,
		config:   cfg,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
	}
	a.setupRoutes()
	return a
}

// setupRoutes sets up the API routes
func (a *API) setupRoutes() {
	a.router.Use(a.requestIDMiddleware)
	a.router.Use(a.recoverMiddleware)
	a.router.Use(a.corsMiddleware)

	a.router.HandleFunc("/health", a.healthCheck).Methods(http.MethodGet)
	a.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := a.router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/auth/login", a.login).Methods(http.MethodPost, http.MethodOptions)

	authed := v1.NewRoute().Subrouter()
	authed.Use(a.jwtAuthMiddleware)
	authed.HandleFunc("/auth/me", a.me).Methods(http.MethodGet)

	authed.HandleFunc("/tables", a.listTables).Methods(http.MethodGet)
	authed.HandleFunc("/tables", a.createTable).Methods(http.MethodPost)
	authed.HandleFunc("/tables/{id}", a.getTable).Methods(http.MethodGet)
	authed.HandleFunc("/tables/{id}", a.updateTable).Methods(http.MethodPut)
	authed.HandleFunc("/tables/{id}", a.deleteTable).Methods(http.MethodDelete)
	authed.HandleFunc("/tables/{id}/share", a.shareTable).Methods(http.MethodPatch)
	authed.HandleFunc("/tables/{id}/share", a.revokeShare).Methods(http.MethodDelete)

	authed.HandleFunc("/tables/{id}/rows", a.listRows).Methods(http.MethodGet)
	authed.HandleFunc("/tables/{id}/rows", a.insertRow).Methods(http.MethodPost)
	authed.HandleFunc("/tables/{id}/rows/{rowId}", a.updateRow).Methods(http.MethodPut)
	authed.HandleFunc("/tables/{id}/rows/{rowId}", a.deleteRow).Methods(http.MethodDelete)

	admin := authed.PathPrefix("/admin").Subrouter()
	admin.Use(a.requireAdmin)
	admin.HandleFunc("/logs", a.listLogs).Methods(http.MethodGet)
}

// Handler returns the routed handler.
func (a *API) Handler() http.Handler {
	return a.router
}

// Start starts the API server and blocks until it stops.
func (a *API) Start() error {
	a.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", a.config.API.Port),
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if a.config.API.TLS {
		return a.server.ListenAndServeTLS(a.config.API.CertFile, a.config.API.KeyFile)
	}
	return a.server.ListenAndServe()
}

// Stop stops the API server
func (a *API) Stop(ctx context.Context) error {
	if a.server != nil {
		return a.server.Shutdown(ctx)
	}
	return nil
}

// request returns the caller and the per-request facts used by access checks.
func (a *API) request(r *http.Request) (core.Identity, core.RequestContext) {
	id, _ := GetIdentity(r.Context())
	return id, core.RequestContext{IP: a.clientIP(r)}
}

func (a *API) clientIP(r *http.Request) string {
	return getRealIP(r, a.config.API.TrustProxy, a.config.API.TrustedProxyNetworks)
}

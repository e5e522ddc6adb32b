package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"tablevault/api"
	"tablevault/codec"
	"tablevault/config"
	"tablevault/core"
	"tablevault/intrusion"
	"tablevault/service"
	"tablevault/util/goroutine"

	"go.uber.org/zap"
)

// App holds all application components and manages their lifecycle.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	Storage *StorageComponents
	Crypter *core.Crypter
	Tables  *service.TableService
	Rows    *service.RowService
	Audit   *service.AuditLog
	Guard   *intrusion.Guard

	APIServer *api.API
	limiter   api.LoginLimiter

	// Lifecycle
	serviceWg *sync.WaitGroup
	cancel    context.CancelFunc
}

// NewApp creates a new application instance and initializes all components.
// configFile may be empty to use the default search path.
func NewApp(ctx context.Context, configFile string) (*App, error) {
	app := &App{serviceWg: &sync.WaitGroup{}}

	// Bootstrap logger until the configured level is known
	logger, sugar, err := InitLogger("")
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg, err := InitConfig(configFile, sugar)
	if err != nil {
		return nil, err
	}
	if cfg.Logging.Level != "" && cfg.Logging.Level != "info" {
		_ = logger.Sync()
		logger, sugar, err = InitLogger(cfg.Logging.Level)
		if err != nil {
			return nil, err
		}
	}
	app.Config = cfg
	app.Logger = logger
	app.Sugar = sugar

	sugar.Info("tablevault starting...")

	if err := app.init(ctx); err != nil {
		if app.Storage != nil {
			_ = app.Storage.Close(context.Background(), sugar)
		}
		return nil, err
	}
	return app, nil
}

// init wires stores, the field codec, the services and the API.
func (a *App) init(ctx context.Context) error {
	cfg, sugar := a.Config, a.Sugar

	components, err := InitStorage(ctx, cfg, sugar)
	if err != nil {
		return err
	}
	a.Storage = components

	key, err := codec.ParseKey(cfg.Encryption.Key)
	if err != nil {
		return fmt.Errorf("invalid encryption key: %w", err)
	}
	c, err := codec.New(key, cfg.Encryption.CacheSize)
	if err != nil {
		return fmt.Errorf("failed to initialize field codec: %w", err)
	}
	a.Crypter = core.NewCrypter(c)

	loc, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("invalid access timezone: %w", err)
	}

	primary := components.Primary
	dispatcher := components.Dispatcher

	resolver := core.NewAccessResolver(primary, a.Crypter, loc, nil)
	a.Audit = service.NewAuditLog(primary, dispatcher, sugar)
	a.Tables = service.NewTableService(primary, primary, a.Crypter, resolver, a.Audit, dispatcher, sugar)
	a.Rows = service.NewRowService(primary, a.Crypter, resolver, a.Audit, dispatcher,
		cfg.API.UploadBaseURL, cfg.API.DefaultPageSize, sugar)
	a.Guard = intrusion.NewGuard(primary, primary, primary, primary, dispatcher, cfg.Intrusion.Threshold, sugar)

	if cfg.Seed.File != "" {
		seeds, err := LoadSeedFile(cfg.Seed.File)
		if err != nil {
			return err
		}
		n, err := SeedAdmins(ctx, primary, dispatcher, seeds, cfg.Auth.BcryptCost, sugar)
		if err != nil {
			return fmt.Errorf("failed to seed admins: %w", err)
		}
		sugar.Infow("Admin seed applied", "file", cfg.Seed.File, "created", n)
	}

	deps := api.Deps{
		Tables: a.Tables,
		Rows:   a.Rows,
		Audit:  a.Audit,
		Users:  primary,
		Guard:  a.Guard,
		Health: primary,
	}
	if components.Redis != nil {
		deps.Limiter = api.NewRedisLoginLimiter(components.Redis, cfg.API.RateLimit.Login, sugar)
		deps.Cache = components.Redis
	} else {
		deps.Limiter = api.NewMemoryLoginLimiter(cfg.API.RateLimit.Login)
	}
	a.limiter = deps.Limiter
	a.APIServer = api.NewAPI(deps, cfg, sugar)

	sugar.Infow("Components initialized",
		"primary", cfg.Primary.Driver,
		"backup", cfg.Backup.Driver,
		"intrusion_threshold", cfg.Intrusion.Threshold)
	return nil
}

// Start starts the background services and the API server.
func (a *App) Start(ctx context.Context) error {
	if a.APIServer == nil {
		return errors.New("app is not initialized")
	}
	ctx, a.cancel = context.WithCancel(ctx)

	if mem, ok := a.limiter.(*api.MemoryLoginLimiter); ok {
		goroutine.Go(a.serviceWg, "login-limiter-cleanup", a.Sugar, func() {
			mem.Run(ctx)
		})
	}

	goroutine.Go(a.serviceWg, "api-server", a.Sugar, func() {
		a.Sugar.Infow("API server listening", "port", a.Config.API.Port, "tls", a.Config.API.TLS)
		if err := a.APIServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Sugar.Errorw("API server failed", "error", err)
		}
	})
	return nil
}

// WaitForShutdown blocks until a shutdown signal is received.
func (a *App) WaitForShutdown() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}

// Shutdown gracefully shuts down all components.
func (a *App) Shutdown() {
	a.Sugar.Info("Shutting down...")

	a.Sugar.Info("Phase 1: Stopping API server...")
	if a.APIServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.APIServer.Stop(ctx); err != nil {
			a.Sugar.Errorw("API server shutdown failed", "error", err)
		}
		cancel()
	}

	a.Sugar.Info("Phase 2: Stopping background services...")
	if a.cancel != nil {
		a.cancel()
	}
	done := make(chan struct{})
	go func() {
		a.serviceWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		a.Sugar.Warn("Service goroutine shutdown timed out")
	}

	a.Sugar.Info("Phase 3: Draining backups and closing stores...")
	if a.Storage != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := a.Storage.Close(ctx, a.Sugar); err != nil {
			a.Sugar.Errorw("Storage shutdown finished with errors", "error", err)
		}
		cancel()
	}

	a.Sugar.Info("Shutdown complete")
	_ = a.Logger.Sync()
}

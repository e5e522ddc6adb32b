package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"tablevault/config"
	"tablevault/core"
	"tablevault/intrusion"
	"tablevault/service"
	"tablevault/storage"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// PrimaryStore is everything the services, the guard and the API need from
// the primary store. MongoStore and MemoryStore both satisfy it.
type PrimaryStore interface {
	service.TableStore
	service.RowStore
	service.LogStore
	intrusion.AttemptStore
	intrusion.Wiper
	GetUserByEmail(ctx context.Context, email string) (*core.User, error)
	GetUserByID(ctx context.Context, id string) (*core.User, error)
	CreateUser(ctx context.Context, u *core.User) error
	HealthCheck(ctx context.Context) error
}

// StorageComponents holds all storage-related components.
type StorageComponents struct {
	Primary     PrimaryStore
	Mongo       *storage.MongoDB
	BackupMongo *storage.MongoDB
	Backup      storage.BackupStore
	Dispatcher  *storage.BackupDispatcher
	Redis       *storage.RedisCache
}

// Close drains the backup dispatcher and closes every connection. It
// returns the first error seen after attempting all of them.
func (s *StorageComponents) Close(ctx context.Context, sugar *zap.SugaredLogger) error {
	var errs []error
	if s.Dispatcher != nil {
		s.Dispatcher.Close()
	}
	if s.Backup != nil {
		if err := s.Backup.Close(ctx); err != nil {
			sugar.Errorw("Failed to close backup store", "error", err)
			errs = append(errs, err)
		}
	}
	if s.BackupMongo != nil {
		if err := s.BackupMongo.Close(ctx); err != nil {
			sugar.Errorw("Failed to close backup MongoDB connection", "error", err)
			errs = append(errs, err)
		}
	}
	if s.Mongo != nil {
		if err := s.Mongo.Close(ctx); err != nil {
			sugar.Errorw("Failed to close MongoDB connection", "error", err)
			errs = append(errs, err)
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			sugar.Errorw("Failed to close Redis connection", "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ConnectMongoDB connects to MongoDB with exponential backoff. Each failure
// is classified so the operator sees an actionable message.
func ConnectMongoDB(ctx context.Context, uri, database string, poolSize uint64, maxElapsed time.Duration, sugar *zap.SugaredLogger) (*storage.MongoDB, error) {
	var db *storage.MongoDB

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 2 * time.Second
	policy.MaxElapsedTime = maxElapsed

	attempt := 0
	operation := func() error {
		attempt++
		var err error
		db, err = storage.NewMongoDB(uri, database, poolSize, sugar)
		if err != nil {
			sugar.Warnw("MongoDB connection attempt failed",
				"attempt", attempt,
				"database", database,
				"error", err)
			return err
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		fmt.Fprintf(os.Stderr, "\nFATAL: %s\n\n", ClassifyConnectionError(err, uri))
		return nil, fmt.Errorf("failed to connect to MongoDB after %d attempts: %w", attempt, err)
	}
	return db, nil
}

// InitPrimary opens the primary store selected by primary.driver.
func InitPrimary(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (*StorageComponents, error) {
	components := &StorageComponents{}

	switch cfg.Primary.Driver {
	case config.DriverMongo:
		db, err := ConnectMongoDB(ctx, cfg.MongoDB.URI, cfg.MongoDB.Database, cfg.MongoDB.MaxPoolSize, cfg.MongoDB.Timeout*3, sugar)
		if err != nil {
			return nil, err
		}
		components.Mongo = db

		store, err := storage.NewMongoStore(ctx, db, sugar)
		if err != nil {
			_ = db.Close(ctx)
			return nil, fmt.Errorf("failed to prepare primary store: %w", err)
		}
		components.Primary = store
		sugar.Infow("Primary store ready", "driver", config.DriverMongo, "database", cfg.MongoDB.Database)
	case config.DriverMemory:
		components.Primary = storage.NewMemoryStore()
		sugar.Warnw("Primary store is in memory; data is lost on restart", "driver", config.DriverMemory)
	default:
		return nil, fmt.Errorf("unsupported primary driver: %q", cfg.Primary.Driver)
	}

	return components, nil
}

// InitBackup opens the backup store selected by backup.driver and starts the
// dispatcher that feeds it.
func InitBackup(ctx context.Context, cfg *config.Config, components *StorageComponents, sugar *zap.SugaredLogger) error {
	switch cfg.Backup.Driver {
	case config.DriverSQLite:
		if err := EnsureDataDirectory(cfg.Backup.SQLitePath, sugar); err != nil {
			return err
		}
		backup, err := storage.NewSQLiteBackup(cfg.Backup.SQLitePath, sugar)
		if err != nil {
			fmt.Fprintf(os.Stderr, "\nFATAL: %s\n\n", ClassifySQLiteError(err, cfg.Backup.SQLitePath))
			return fmt.Errorf("failed to open SQLite backup: %w", err)
		}
		components.Backup = backup
	case config.DriverMongo:
		if cfg.Backup.URI != "" {
			db, err := ConnectMongoDB(ctx, cfg.Backup.URI, cfg.Backup.Database, cfg.MongoDB.MaxPoolSize, cfg.MongoDB.Timeout*3, sugar)
			if err != nil {
				return fmt.Errorf("backup: %w", err)
			}
			components.BackupMongo = db
			components.Backup = storage.NewMongoBackup(db.Database)
		} else {
			if components.Mongo == nil {
				return fmt.Errorf("mongo backup requires backup.uri when the primary store is not mongo")
			}
			components.Backup = storage.NewMongoBackup(components.Mongo.Client.Database(cfg.Backup.Database))
		}
	case config.DriverMemory:
		components.Backup = storage.NewMemoryBackup()
		sugar.Warnw("Backup store is in memory", "driver", config.DriverMemory)
	default:
		return fmt.Errorf("unsupported backup driver: %q", cfg.Backup.Driver)
	}

	components.Dispatcher = storage.NewBackupDispatcher(components.Backup, storage.BackupDispatcherConfig{
		Workers:         cfg.Backup.Workers,
		QueueSize:       cfg.Backup.QueueSize,
		MaxRetries:      cfg.Backup.MaxRetries,
		InitialInterval: cfg.Backup.InitialInterval,
		WriteTimeout:    cfg.Backup.WriteTimeout,
	}, sugar)

	sugar.Infow("Backup store ready",
		"driver", cfg.Backup.Driver,
		"workers", cfg.Backup.Workers,
		"queue_size", cfg.Backup.QueueSize)
	return nil
}

// InitRedis connects the shared Redis cache when enabled. A failed ping is
// fatal: an operator who enabled Redis expects limits to be shared.
func InitRedis(ctx context.Context, cfg *config.Config, components *StorageComponents, sugar *zap.SugaredLogger) error {
	rc := cfg.API.RateLimit.Redis
	if !rc.Enabled {
		sugar.Info("Redis disabled, using in-process login limiter")
		return nil
	}

	cache := storage.NewRedisCache(rc.Addr, rc.Password, rc.DB, rc.PoolSize, sugar)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cache.Ping(pingCtx); err != nil {
		_ = cache.Close()
		return fmt.Errorf("failed to connect to Redis at %s: %w", rc.Addr, err)
	}

	components.Redis = cache
	sugar.Infow("Redis connected", "addr", rc.Addr, "db", rc.DB)
	return nil
}

// InitStorage opens the primary store, the backup store and Redis. Anything
// opened before a failure is closed again.
func InitStorage(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (*StorageComponents, error) {
	components, err := InitPrimary(ctx, cfg, sugar)
	if err != nil {
		return nil, err
	}
	if err := InitBackup(ctx, cfg, components, sugar); err != nil {
		_ = components.Close(ctx, sugar)
		return nil, err
	}
	if err := InitRedis(ctx, cfg, components, sugar); err != nil {
		_ = components.Close(ctx, sugar)
		return nil, err
	}
	return components, nil
}

package storage

import (
	"context"
	"sync"
	"time"

	"tablevault/metrics"
	"tablevault/util/goroutine"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// BackupJob is one document copy waiting to be written to the backup store.
type BackupJob struct {
	Collection string
	ID         string
	Doc        interface{}
}

// BackupDispatcherConfig tunes the background backup writer.
type BackupDispatcherConfig struct {
	Workers         int
	QueueSize       int
	MaxRetries      uint64
	InitialInterval time.Duration
	WriteTimeout    time.Duration
}

// DefaultBackupDispatcherConfig returns the defaults used when config leaves them unset.
func DefaultBackupDispatcherConfig() BackupDispatcherConfig {
	return BackupDispatcherConfig{
		Workers:         2,
		QueueSize:       1024,
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
		WriteTimeout:    5 * time.Second,
	}
}

// BackupDispatcher writes backup copies in the background. Dispatch never
// blocks the caller: a full queue drops the job, and a job whose retries
// run out is dropped too. Both cases are logged and counted.
type BackupDispatcher struct {
	store  BackupStore
	cfg    BackupDispatcherConfig
	logger *zap.SugaredLogger

	queue  chan BackupJob
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewBackupDispatcher starts the workers.
func NewBackupDispatcher(store BackupStore, cfg BackupDispatcherConfig, logger *zap.SugaredLogger) *BackupDispatcher {
	def := DefaultBackupDispatcherConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = def.InitialInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}

	d := &BackupDispatcher{
		store:  store,
		cfg:    cfg,
		logger: logger,
		queue:  make(chan BackupJob, cfg.QueueSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		goroutine.Go(&d.wg, "backup-dispatcher", logger, d.worker)
	}
	return d
}

// Dispatch queues a copy of doc. It reports whether the job was accepted.
func (d *BackupDispatcher) Dispatch(collection, id string, doc interface{}) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(BackupJob{Collection: collection, ID: id}, "closed", ErrDispatcherClosed)
		return false
	}

	select {
	case d.queue <- BackupJob{Collection: collection, ID: id, Doc: doc}:
		metrics.BackupQueueDepth.Inc()
		return true
	default:
		d.drop(BackupJob{Collection: collection, ID: id}, "queue_full", nil)
		return false
	}
}

// Save writes a copy synchronously with the same retry policy as the workers.
func (d *BackupDispatcher) Save(ctx context.Context, collection, id string, doc interface{}) error {
	return d.write(ctx, BackupJob{Collection: collection, ID: id, Doc: doc})
}

// Close stops accepting jobs and waits for the queue to drain.
func (d *BackupDispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *BackupDispatcher) worker() {
	for job := range d.queue {
		metrics.BackupQueueDepth.Dec()
		if err := d.write(context.Background(), job); err != nil {
			d.drop(job, "retries_exhausted", err)
		}
	}
}

func (d *BackupDispatcher) write(ctx context.Context, job BackupJob) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.cfg.InitialInterval
	policy.MaxElapsedTime = 0

	attempt := 0
	op := func() error {
		if attempt > 0 {
			metrics.BackupRetries.Inc()
		}
		attempt++

		writeCtx, cancel := context.WithTimeout(ctx, d.cfg.WriteTimeout)
		defer cancel()
		return d.store.Save(writeCtx, job.Collection, job.ID, job.Doc)
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, d.cfg.MaxRetries), ctx))
	if err != nil {
		return err
	}
	metrics.BackupsWritten.WithLabelValues(job.Collection).Inc()
	return nil
}

func (d *BackupDispatcher) drop(job BackupJob, reason string, err error) {
	metrics.BackupsDropped.WithLabelValues(job.Collection, reason).Inc()
	d.logger.Warnw("Backup copy dropped",
		"collection", job.Collection,
		"id", job.ID,
		"reason", reason,
		"error", err)
}

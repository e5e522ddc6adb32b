package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tablevault/util/goroutine"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// flakyBackup fails the first failures saves, then delegates.
type flakyBackup struct {
	*MemoryBackup
	mu       sync.Mutex
	failures int
	calls    int
	block    chan struct{}
}

func (f *flakyBackup) Save(ctx context.Context, collection, id string, doc interface{}) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failures
	f.mu.Unlock()
	if fail {
		return errors.New("backup unavailable")
	}
	return f.MemoryBackup.Save(ctx, collection, id, doc)
}

func testDispatcherConfig() BackupDispatcherConfig {
	return BackupDispatcherConfig{
		Workers:         1,
		QueueSize:       4,
		MaxRetries:      2,
		InitialInterval: time.Millisecond,
		WriteTimeout:    time.Second,
	}
}

// TestBackupDispatcher_DeliversJobs tests that queued copies reach the store
func TestBackupDispatcher_DeliversJobs(t *testing.T) {
	goroutine.AssertNoLeaks(t)
	store := NewMemoryBackup()
	d := NewBackupDispatcher(store, testDispatcherConfig(), zap.NewNop().Sugar())

	assert.True(t, d.Dispatch(CollectionRows, "r1", map[string]string{"v": "1"}))
	assert.True(t, d.Dispatch(CollectionRows, "r2", map[string]string{"v": "2"}))
	d.Close()

	n, err := store.Count(context.Background(), CollectionRows)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

// TestBackupDispatcher_RetriesTransientFailures tests bounded retry with backoff
func TestBackupDispatcher_RetriesTransientFailures(t *testing.T) {
	store := &flakyBackup{MemoryBackup: NewMemoryBackup(), failures: 2}
	d := NewBackupDispatcher(store, testDispatcherConfig(), zap.NewNop().Sugar())

	d.Dispatch(CollectionTables, "t1", map[string]string{"name": "x"})
	d.Close()

	n, err := store.Count(context.Background(), CollectionTables)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 3, store.calls)
}

// TestBackupDispatcher_DropsAfterRetries tests that exhausted jobs are logged, not propagated
func TestBackupDispatcher_DropsAfterRetries(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	store := &flakyBackup{MemoryBackup: NewMemoryBackup(), failures: 100}
	d := NewBackupDispatcher(store, testDispatcherConfig(), zap.New(core).Sugar())

	d.Dispatch(CollectionLoginAttempts, "a1", map[string]string{"ip": "10.0.0.1"})
	d.Close()

	assert.Equal(t, 3, store.calls, "one attempt plus two retries")
	dropped := logs.FilterMessage("Backup copy dropped").All()
	require.Len(t, dropped, 1)
	fields := dropped[0].ContextMap()
	assert.Equal(t, "retries_exhausted", fields["reason"])
	assert.Equal(t, CollectionLoginAttempts, fields["collection"])
}

// TestBackupDispatcher_DropsWhenFull tests that Dispatch never blocks the caller
func TestBackupDispatcher_DropsWhenFull(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	block := make(chan struct{})
	store := &flakyBackup{MemoryBackup: NewMemoryBackup(), block: block}
	cfg := testDispatcherConfig()
	cfg.QueueSize = 1
	d := NewBackupDispatcher(store, cfg, zap.New(core).Sugar())

	accepted := 0
	for i := 0; i < 10; i++ {
		if d.Dispatch(CollectionRows, "r", map[string]int{"i": i}) {
			accepted++
		}
	}
	close(block)
	d.Close()

	assert.LessOrEqual(t, accepted, 2, "one job in flight plus one queued")
	assert.NotZero(t, logs.FilterField(zap.String("reason", "queue_full")).Len())
}

// TestBackupDispatcher_ClosedRejects tests dispatching after Close
func TestBackupDispatcher_ClosedRejects(t *testing.T) {
	d := NewBackupDispatcher(NewMemoryBackup(), testDispatcherConfig(), zap.NewNop().Sugar())
	d.Close()
	d.Close()
	assert.False(t, d.Dispatch(CollectionRows, "r1", nil))
}

// TestBackupDispatcher_Save tests the synchronous path
func TestBackupDispatcher_Save(t *testing.T) {
	store := &flakyBackup{MemoryBackup: NewMemoryBackup(), failures: 100}
	d := NewBackupDispatcher(store, testDispatcherConfig(), zap.NewNop().Sugar())
	defer d.Close()

	assert.Error(t, d.Save(context.Background(), CollectionLogs, "l1", map[string]string{}))
}

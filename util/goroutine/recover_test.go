package goroutine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

// TestRecover_NoPanic tests that Recover doesn't interfere when there's no panic
func TestRecover_NoPanic(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)

	func() {
		defer Recover("quiet", zap.New(core).Sugar())
	}()

	assert.Zero(t, logs.Len())
}

// TestRecover_LogsPanic tests that a recovered panic is logged with its name and stack
func TestRecover_LogsPanic(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		want  interface{}
	}{
		{name: "string", value: "boom", want: "boom"},
		{name: "int", value: 42, want: int64(42)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zap.ErrorLevel)

			func() {
				defer Recover("backup-writer", zap.New(core).Sugar())
				panic(tt.value)
			}()

			entries := logs.All()
			require.Len(t, entries, 1)
			assert.Equal(t, "Goroutine panic recovered", entries[0].Message)

			fields := entries[0].ContextMap()
			assert.Equal(t, "backup-writer", fields["goroutine"])
			assert.Equal(t, tt.want, fields["panic"])
			assert.Contains(t, fields["stack"], "goroutine")
		})
	}
}

// TestRecover_NilLogger tests the stderr fallback
func TestRecover_NilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		defer Recover("no-logger", nil)
		panic("unlogged")
	})
}

// TestGo_ReleasesWaitGroupOnPanic tests that Go always calls Done
func TestGo_ReleasesWaitGroupOnPanic(t *testing.T) {
	AssertNoLeaks(t)
	core, logs := observer.New(zap.ErrorLevel)
	logger := zap.New(core).Sugar()

	var wg sync.WaitGroup
	ran := make(chan struct{}, 1)
	Go(&wg, "ok", logger, func() { ran <- struct{}{} })
	Go(&wg, "panics", logger, func() { panic("worker failed") })
	wg.Wait()

	assert.Len(t, ran, 1)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "panics", logs.All()[0].ContextMap()["goroutine"])
}

// TestGo_WithTestLogger tests Go with a zaptest logger
func TestGo_WithTestLogger(t *testing.T) {
	var wg sync.WaitGroup
	n := 0
	var mu sync.Mutex
	for i := 0; i < 5; i++ {
		Go(&wg, "counter", zaptest.NewLogger(t).Sugar(), func() {
			mu.Lock()
			n++
			mu.Unlock()
		})
	}
	wg.Wait()
	assert.Equal(t, 5, n)
}

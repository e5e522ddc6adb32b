package goroutine

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	"go.uber.org/zap"
)

// StackTraceBufferSize is the buffer size for stack trace collection
const StackTraceBufferSize = 4096

// Recover logs a panic of the calling goroutine instead of crashing the
// process. It must be deferred directly. A nil logger writes to stderr.
func Recover(name string, logger *zap.SugaredLogger) {
	if r := recover(); r != nil {
		buf := make([]byte, StackTraceBufferSize)
		n := runtime.Stack(buf, false)

		if logger != nil {
			logger.Errorw("Goroutine panic recovered",
				"goroutine", name,
				"panic", r,
				"stack", string(buf[:n]))
			return
		}
		fmt.Fprintf(os.Stderr, "PANIC in goroutine %s (no logger): %v\n%s\n",
			name, r, string(buf[:n]))
	}
}

// Go runs fn on a new goroutine tracked by wg. A panic in fn is recovered
// and logged; wg is released either way.
func Go(wg *sync.WaitGroup, name string, logger *zap.SugaredLogger, fn func()) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer Recover(name, logger)
		fn()
	}()
}

package health

import (
	"context"
	"fmt"
	"runtime"
)

// RuntimeConfig configures RuntimeCheck.
type RuntimeConfig struct {
	// MaxGoroutines marks the process degraded above this count.
	// Default: 10000
	MaxGoroutines int

	// MaxHeapBytes marks the process degraded above this heap size. Zero disables it.
	MaxHeapBytes uint64
}

// RuntimeCheck reports goroutine and heap pressure of the current process.
func RuntimeCheck(config RuntimeConfig) CheckFunc {
	if config.MaxGoroutines <= 0 {
		config.MaxGoroutines = 10000
	}

	return func(ctx context.Context) (Result, error) {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		var stats runtime.MemStats
		runtime.ReadMemStats(&stats)
		goroutines := runtime.NumGoroutine()

		details := map[string]any{
			"goroutines":   goroutines,
			"heap_alloc":   stats.HeapAlloc,
			"heap_objects": stats.HeapObjects,
			"num_gc":       stats.NumGC,
		}

		switch {
		case goroutines > config.MaxGoroutines:
			return Degraded(fmt.Sprintf("%d goroutines exceeds %d", goroutines, config.MaxGoroutines)).WithDetails(details), nil
		case config.MaxHeapBytes > 0 && stats.HeapAlloc > config.MaxHeapBytes:
			return Degraded(fmt.Sprintf("heap %d bytes exceeds %d", stats.HeapAlloc, config.MaxHeapBytes)).WithDetails(details), nil
		}
		return Healthy("runtime ok").WithDetails(details), nil
	}
}

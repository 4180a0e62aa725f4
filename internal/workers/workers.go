package workers

import (
	"os"
	"runtime"
	"strconv"
)

// OverrideEnv names the environment variable that pins the worker count.
const OverrideEnv = "INSTALL_WORKERS"

// Count returns the number of workers for a task, scaled from GOMAXPROCS
// (which follows container CPU limits) by multiplier and capped at limit.
// Use 0 for no limit. INSTALL_WORKERS overrides the computed value but is
// still capped.
func Count(multiplier float64, limit int) int {
	if override := os.Getenv(OverrideEnv); override != "" {
		if count, err := strconv.Atoi(override); err == nil && count > 0 {
			if limit > 0 && count > limit {
				return limit
			}
			return count
		}
	}

	workers := int(float64(runtime.GOMAXPROCS(0)) * multiplier)

	if workers < 1 {
		workers = 1
	}
	if limit > 0 && workers > limit {
		workers = limit
	}

	return workers
}

// ForIO returns worker count for I/O-bound tasks such as fetching assets
// from upstream (2 per CPU).
func ForIO(limit int) int {
	return Count(2.0, limit)
}

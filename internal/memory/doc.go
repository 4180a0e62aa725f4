// Package memory configures the Go soft memory limit from the container
// limit and watches heap usage so chunk intake can pause under pressure.
//
// Configure is called once at startup with MEMORY_LIMIT and MEMORY_RATIO.
// A Monitor then samples heap allocation every CheckInterval. Once usage
// crosses CriticalWaterMark it pauses; WaitIfPaused blocks callers until
// usage drops back under HighWaterMark. The gap between the two marks keeps
// the monitor from flapping.
//
// The pause is signalled by closing a channel and replacing it, so every
// waiter wakes at once when intake resumes.
package memory

/*
Package workers sizes worker pools from the CPUs actually available to the
process.

runtime.NumCPU reports host CPUs even inside a CPU-limited container, while
GOMAXPROCS follows the cgroup limit. Count scales GOMAXPROCS by a per-task
multiplier; ForIO is the variant used to bound concurrent asset fetches
during cache install:

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers.ForIO(16))

Set INSTALL_WORKERS to pin the count. The override is still capped by the
limit passed by the caller.
*/
package workers

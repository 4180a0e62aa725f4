package metrics

import (
	"time"

	"convert-web/internal/logging"
)

// Stats holds the point-in-time values the collector publishes.
type Stats struct {
	TransfersByState map[string]int
	BufferedBytes    int64
	CachedAssets     int
	CachedBytes      int64
}

// StatsProvider interface for collecting stats
type StatsProvider interface {
	GetStats() Stats
}

// Collector periodically collects and updates metrics
type Collector struct {
	statsProvider StatsProvider
	interval      time.Duration
	stopChan      chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(provider StatsProvider, interval time.Duration) *Collector {
	return &Collector{
		statsProvider: provider,
		interval:      interval,
		stopChan:      make(chan struct{}),
	}
}

// Start begins the metrics collection loop
func (c *Collector) Start() {
	go c.collectLoop()
}

// Stop stops the metrics collection
func (c *Collector) Stop() {
	close(c.stopChan)
}

func (c *Collector) collectLoop() {
	c.collect()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.collect()
		case <-c.stopChan:
			return
		}
	}
}

func (c *Collector) collect() {
	if c.statsProvider == nil {
		return
	}

	stats := c.statsProvider.GetStats()

	for _, state := range transferStates {
		TransfersActive.WithLabelValues(state).Set(float64(stats.TransfersByState[state]))
	}
	TransferBufferedBytes.Set(float64(stats.BufferedBytes))
	AssetCacheEntries.Set(float64(stats.CachedAssets))
	AssetCacheBytes.Set(float64(stats.CachedBytes))

	logging.Debug("Metrics collected: transfers=%v buffered=%d cached=%d",
		stats.TransfersByState, stats.BufferedBytes, stats.CachedAssets)
}

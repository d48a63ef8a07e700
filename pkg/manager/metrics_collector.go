package manager

import (
	"time"

	"github.com/cuemby/bellhop/pkg/metrics"
)

// MetricsCollector samples board sizes from the manager
type MetricsCollector struct {
	manager  *Manager
	interval time.Duration
	stopCh   chan struct{}
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(mgr *Manager) *MetricsCollector {
	return &MetricsCollector{
		manager:  mgr,
		interval: 15 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *MetricsCollector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *MetricsCollector) Stop() {
	close(c.stopCh)
}

func (c *MetricsCollector) collect() {
	sessions := c.manager.sessionList()
	metrics.BoardsOpen.Set(float64(len(sessions)))

	for _, s := range sessions {
		board := s.Board()
		rec := s.Reconciler()
		metrics.SnapshotRecords.WithLabelValues(board.TenantID, string(board.Kind)).Set(float64(rec.Snapshot().Len()))
		metrics.KnownEntities.WithLabelValues(board.TenantID, string(board.Kind)).Set(float64(rec.Tracker().Len()))
	}
}

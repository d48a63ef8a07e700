package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/bellhop/pkg/log"
	"github.com/cuemby/bellhop/pkg/metrics"
	"github.com/rs/zerolog"
)

type probe struct {
	name    string
	checker Checker
	status  *Status
}

// Monitor probes backends on an interval and reports them as components of
// the node's health registry, so /ready follows the real backends.
type Monitor struct {
	config Config
	logger zerolog.Logger

	mu     sync.RWMutex
	probes []*probe

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewMonitor creates a monitor with the given probe settings
func NewMonitor(config Config) *Monitor {
	return &Monitor{
		config: config,
		logger: log.WithComponent("health"),
		stopCh: make(chan struct{}),
	}
}

// Add registers a backend. Adding after Start is not supported.
func (m *Monitor) Add(name string, checker Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes = append(m.probes, &probe{name: name, checker: checker, status: NewStatus()})
}

// Start probes every backend immediately, then on each interval
func (m *Monitor) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.config.Interval)
		defer ticker.Stop()

		m.CheckAll(context.Background())
		for {
			select {
			case <-ticker.C:
				m.CheckAll(context.Background())
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop stops probing
func (m *Monitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

// CheckAll runs one probe of every backend
func (m *Monitor) CheckAll(ctx context.Context) {
	m.mu.RLock()
	probes := append([]*probe(nil), m.probes...)
	m.mu.RUnlock()

	for _, p := range probes {
		m.check(ctx, p)
	}
}

func (m *Monitor) check(ctx context.Context, p *probe) {
	ctx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	result := p.checker.Check(ctx)
	metrics.BackendProbeDuration.WithLabelValues(p.name).Observe(result.Duration.Seconds())

	m.mu.Lock()
	wasHealthy := p.status.Healthy
	p.status.Update(result, m.config)
	healthy := p.status.Healthy
	m.mu.Unlock()

	up := 0.0
	if healthy {
		up = 1
	}
	metrics.BackendUp.WithLabelValues(p.name).Set(up)
	metrics.RegisterComponent(p.name, healthy, result.Message)

	switch {
	case wasHealthy && !healthy:
		m.logger.Warn().Str("backend", p.name).Str("type", string(p.checker.Type())).
			Msg("Backend unhealthy: " + result.Message)
	case !wasHealthy && healthy:
		m.logger.Info().Str("backend", p.name).Msg("Backend recovered")
	}
}

// Statuses returns a copy of every backend's status keyed by name
func (m *Monitor) Statuses() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Status, len(m.probes))
	for _, p := range m.probes {
		out[p.name] = *p.status
	}
	return out
}

// Names lists the monitored backends
func (m *Monitor) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.probes))
	for _, p := range m.probes {
		names = append(names, p.name)
	}
	sort.Strings(names)
	return names
}

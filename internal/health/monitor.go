package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/angeloszaimis/llm-starter/internal/metrics"
)

// Monitor periodically runs every check, logs component status changes
// and reports them to the metrics collector.
type Monitor struct {
	checker   *Checker
	interval  time.Duration
	collector *metrics.Collector
	logger    *slog.Logger

	mutex  sync.RWMutex
	last   map[string]Status
	latest SystemHealthStatus
	ran    bool
}

func NewMonitor(checker *Checker, interval time.Duration, collector *metrics.Collector, logger *slog.Logger) *Monitor {
	return &Monitor{
		checker:   checker,
		interval:  interval,
		collector: collector,
		logger:    logger,
		last:      make(map[string]Status),
	}
}

// Run checks once immediately and then on every tick until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.checkOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Health monitor stopped")
			return

		case <-ticker.C:
			m.checkOnce(ctx)
		}
	}
}

// Latest returns the most recent result and whether a run has completed.
func (m *Monitor) Latest() (SystemHealthStatus, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.latest, m.ran
}

func (m *Monitor) checkOnce(ctx context.Context) {
	status := m.checker.CheckAll(ctx)
	if ctx.Err() != nil {
		return
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	for name, component := range status.Components {
		previous, seen := m.last[name]
		if seen && previous == component.Status {
			continue
		}
		m.last[name] = component.Status

		m.collector.Emit(metrics.MetricEvent{
			Type:      metrics.EventHealthChanged,
			Component: name,
			Status:    string(component.Status),
		})

		switch {
		case component.Status == StatusHealthy && seen:
			m.logger.Info("Component is back up", slog.String("component", name))
		case component.Status != StatusHealthy:
			m.logger.Warn("Component health changed",
				slog.String("component", name),
				slog.String("status", string(component.Status)),
				slog.String("message", component.Message))
		}
	}

	m.latest = status
	m.ran = true
}

package api

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/tunehub/tunefree-bridge/bridge"
)

// Monitor polls the aggregator health endpoint and keeps the latest verdict.
// Transitions are logged once, not on every tick.
type Monitor struct {
	client   *Client
	interval time.Duration
	healthy  atomic.Bool
	checked  atomic.Bool
	logger   bridge.Logger
}

// NewMonitor creates a health monitor polling at the given interval.
func NewMonitor(client *Client, interval time.Duration, logger bridge.Logger) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Monitor{
		client:   client,
		interval: interval,
		logger:   logger,
	}
}

// Healthy reports the latest poll result. Before the first poll completes
// the aggregator is assumed reachable.
func (m *Monitor) Healthy() bool {
	if !m.checked.Load() {
		return true
	}
	return m.healthy.Load()
}

// Run polls until the context is cancelled. The first check happens
// immediately so status is known shortly after startup.
func (m *Monitor) Run(ctx context.Context) error {
	m.poll(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

func (m *Monitor) poll(ctx context.Context) {
	pollCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	healthy := m.client.Health(pollCtx)
	first := !m.checked.Swap(true)
	prev := m.healthy.Swap(healthy)
	if first || prev != healthy {
		if healthy {
			m.logger.Info("aggregator api healthy")
		} else {
			m.logger.Warn("aggregator api unreachable")
		}
	}
}

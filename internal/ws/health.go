package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/yungbote/codernetes/internal/logger"
	"github.com/yungbote/codernetes/internal/types"
)

var errProbeTimeout = errors.New("probe timed out")

// HealthMonitor pings every live connection on a fixed interval and keeps
// the registry's liveness view honest. A failed probe marks the node
// UNRESPONSIVE but does not evict it; the read loop notices a truly dead
// socket and flips it OFFLINE.
type HealthMonitor struct {
	log      *logger.Logger
	hub      *Hub
	interval func() time.Duration
	timeout  func() time.Duration
}

func NewHealthMonitor(hub *Hub, interval, timeout func() time.Duration, baseLog *logger.Logger) *HealthMonitor {
	return &HealthMonitor{
		log:      baseLog.With("component", "HealthMonitor"),
		hub:      hub,
		interval: interval,
		timeout:  timeout,
	}
}

func (m *HealthMonitor) Run(ctx context.Context) {
	interval := m.interval()
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.log.Debug("Health monitor stopped")
			return
		case <-ticker.C:
			m.CheckOnce(ctx)
		}
	}
}

// CheckOnce probes all live clients concurrently and waits for the round to
// finish.
func (m *HealthMonitor) CheckOnce(ctx context.Context) {
	clients := m.hub.Clients()
	if len(clients) == 0 {
		return
	}

	timeout := m.timeout()
	if timeout < time.Second {
		timeout = time.Second
	}

	var wg sync.WaitGroup
	for _, client := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			m.checkClient(ctx, c, timeout)
		}(client)
	}
	wg.Wait()
}

func (m *HealthMonitor) checkClient(ctx context.Context, client *Client, timeout time.Duration) {
	if client.IsClosed() {
		m.hub.UpdateNodeRecord(ctx, client, NodeUpdate{Status: types.NodeStatusOffline})
		return
	}

	if err := client.Ping(timeout); err != nil {
		m.log.Warn("Health check failed", "node_id", client.ID, "error", err)
		m.hub.UpdateNodeRecord(ctx, client, NodeUpdate{Status: types.NodeStatusUnresponsive})
		return
	}

	client.Touch()
	if client.Status() != types.NodeStatusOnline {
		m.hub.UpdateNodeRecord(ctx, client, NodeUpdate{Status: types.NodeStatusOnline})
	} else {
		m.hub.UpdateNodeRecord(ctx, client, NodeUpdate{})
	}
}

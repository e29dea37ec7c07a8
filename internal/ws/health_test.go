package ws

import (
	"context"
	"testing"
	"time"

	"github.com/yungbote/codernetes/internal/repos/testutil"
	"github.com/yungbote/codernetes/internal/types"
)

func newTestMonitor(tb testing.TB, hub *Hub) *HealthMonitor {
	tb.Helper()
	return NewHealthMonitor(hub,
		func() time.Duration { return time.Second },
		func() time.Duration { return time.Second },
		testutil.Logger(tb))
}

func TestHealthCheckResponsiveNodeStaysOnline(t *testing.T) {
	hub, _ := newTestHub(t)
	ctx := context.Background()

	conn := &fakeConn{}
	client, err := hub.Register(ctx, conn)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	conn.pingHook = client.NotifyPong

	before := client.LastSeen()
	time.Sleep(5 * time.Millisecond)

	newTestMonitor(t, hub).CheckOnce(ctx)

	if client.Status() != types.NodeStatusOnline {
		t.Fatalf("status after probe: want online, got %s", client.Status())
	}
	if !client.LastSeen().After(before) {
		t.Fatalf("last seen should advance on a successful probe")
	}
}

func TestHealthCheckUnansweredPingMarksUnresponsive(t *testing.T) {
	hub, nodeRepo := newTestHub(t)
	ctx := context.Background()

	conn := &fakeConn{}
	client, err := hub.Register(ctx, conn)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	// No pingHook: the probe times out.

	newTestMonitor(t, hub).CheckOnce(ctx)

	if client.Status() != types.NodeStatusUnresponsive {
		t.Fatalf("status after failed probe: want unresponsive, got %s", client.Status())
	}
	row, err := nodeRepo.GetByID(ctx, nil, client.ID)
	if err != nil {
		t.Fatalf("node row: %v", err)
	}
	if row.Status != types.NodeStatusUnresponsive {
		t.Fatalf("persisted status: want unresponsive, got %s", row.Status)
	}
	// The node is flagged, not evicted.
	if hub.Find(client.ID) == nil {
		t.Fatalf("unresponsive node must stay registered")
	}
}

func TestHealthCheckClosedClientGoesOffline(t *testing.T) {
	hub, _ := newTestHub(t)
	ctx := context.Background()

	conn := &fakeConn{}
	client, err := hub.Register(ctx, conn)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	client.markClosed()

	newTestMonitor(t, hub).CheckOnce(ctx)

	if client.Status() != types.NodeStatusOffline {
		t.Fatalf("status for closed client: want offline, got %s", client.Status())
	}
}

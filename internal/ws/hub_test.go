package ws

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yungbote/codernetes/internal/events"
	"github.com/yungbote/codernetes/internal/repos"
	"github.com/yungbote/codernetes/internal/repos/testutil"
	"github.com/yungbote/codernetes/internal/types"
)

// fakeConn records frames instead of writing to a socket. pingHook, when
// set, simulates the peer answering a ping control frame.
type fakeConn struct {
	mu       sync.Mutex
	frames   [][]byte
	closed   bool
	pingHook func()
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	f.frames = append(f.frames, buf)
	return nil
}

func (f *fakeConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	f.mu.Lock()
	hook := f.pingHook
	f.mu.Unlock()
	if messageType == websocket.PingMessage && hook != nil {
		go hook()
	}
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func (f *fakeConn) lastFrame(tb testing.TB) map[string]interface{} {
	tb.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.frames) == 0 {
		tb.Fatalf("no frames recorded")
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(f.frames[len(f.frames)-1], &decoded); err != nil {
		tb.Fatalf("decode frame: %v", err)
	}
	return decoded
}

func waitForFrames(tb testing.TB, conn *fakeConn, want int) {
	tb.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if conn.frameCount() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	tb.Fatalf("timed out waiting for %d frames, have %d", want, conn.frameCount())
}

func newTestHub(tb testing.TB) (*Hub, repos.NodeRepo) {
	tb.Helper()
	nodeRepo := repos.NewNodeRepo(testutil.DB(tb), testutil.Logger(tb))
	return NewHub(nodeRepo, events.NewNoopBus(), testutil.Logger(tb)), nodeRepo
}

func TestHubRegisterSendsWelcome(t *testing.T) {
	hub, nodeRepo := newTestHub(t)
	ctx := context.Background()

	conn := &fakeConn{}
	client, err := hub.Register(ctx, conn)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if client.ID == "" {
		t.Fatalf("Register: client id must be minted")
	}
	if hub.Count() != 1 {
		t.Fatalf("Count: want 1, got %d", hub.Count())
	}

	welcome := conn.lastFrame(t)
	if welcome["type"] != TypeWelcome {
		t.Fatalf("welcome type: want %q, got %v", TypeWelcome, welcome["type"])
	}
	if welcome["client_id"] != client.ID {
		t.Fatalf("welcome client_id: want %s, got %v", client.ID, welcome["client_id"])
	}

	row, err := nodeRepo.GetByID(ctx, nil, client.ID)
	if err != nil {
		t.Fatalf("node row after register: %v", err)
	}
	if row.Status != types.NodeStatusOnline {
		t.Fatalf("node row: want online, got %s", row.Status)
	}
}

func TestHubUnregisterMarksOffline(t *testing.T) {
	hub, nodeRepo := newTestHub(t)
	ctx := context.Background()

	conn := &fakeConn{}
	client, err := hub.Register(ctx, conn)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	hub.Unregister(ctx, conn)
	if hub.Count() != 0 {
		t.Fatalf("Count after unregister: want 0, got %d", hub.Count())
	}
	if hub.Find(client.ID) != nil {
		t.Fatalf("Find after unregister: want nil")
	}

	row, err := nodeRepo.GetByID(ctx, nil, client.ID)
	if err != nil {
		t.Fatalf("node row after unregister: %v", err)
	}
	if row.Status != types.NodeStatusOffline {
		t.Fatalf("node row: want offline, got %s", row.Status)
	}
}

func TestHubBroadcastSkipsSender(t *testing.T) {
	hub, _ := newTestHub(t)
	ctx := context.Background()

	connA := &fakeConn{}
	connB := &fakeConn{}
	clientA, err := hub.Register(ctx, connA)
	if err != nil {
		t.Fatalf("Register A: %v", err)
	}
	if _, err := hub.Register(ctx, connB); err != nil {
		t.Fatalf("Register B: %v", err)
	}

	hub.Broadcast(ctx, "hello from A", clientA)

	// Welcome plus the relayed chat for B; A keeps only its welcome.
	waitForFrames(t, connB, 2)
	msg := connB.lastFrame(t)
	if msg["type"] != TypeMessage {
		t.Fatalf("broadcast type: want %q, got %v", TypeMessage, msg["type"])
	}
	if msg["from"] != clientA.ID {
		t.Fatalf("broadcast from: want %s, got %v", clientA.ID, msg["from"])
	}
	if msg["payload"] != "hello from A" {
		t.Fatalf("broadcast payload: got %v", msg["payload"])
	}

	time.Sleep(20 * time.Millisecond)
	if connA.frameCount() != 1 {
		t.Fatalf("sender must not receive its own broadcast, has %d frames", connA.frameCount())
	}
}

func TestHubBroadcastFromMaster(t *testing.T) {
	hub, _ := newTestHub(t)
	ctx := context.Background()

	connA := &fakeConn{}
	connB := &fakeConn{}
	if _, err := hub.Register(ctx, connA); err != nil {
		t.Fatalf("Register A: %v", err)
	}
	if _, err := hub.Register(ctx, connB); err != nil {
		t.Fatalf("Register B: %v", err)
	}

	hub.Broadcast(ctx, "maintenance at noon", nil)

	waitForFrames(t, connA, 2)
	waitForFrames(t, connB, 2)
	msg := connA.lastFrame(t)
	if msg["from"] != "master" {
		t.Fatalf("master broadcast from: got %v", msg["from"])
	}
}

func TestHubSendToNode(t *testing.T) {
	hub, _ := newTestHub(t)
	ctx := context.Background()

	conn := &fakeConn{}
	client, err := hub.Register(ctx, conn)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if !hub.SendToNode(ctx, client.ID, "direct hello") {
		t.Fatalf("SendToNode: want true for connected node")
	}
	msg := conn.lastFrame(t)
	if msg["payload"] != "direct hello" {
		t.Fatalf("direct payload: got %v", msg["payload"])
	}

	if hub.SendToNode(ctx, "not-a-node", "hello") {
		t.Fatalf("SendToNode: want false for unknown node")
	}
}

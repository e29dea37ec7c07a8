package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yungbote/codernetes/internal/types"
)

// Conn is the slice of *websocket.Conn the hub needs; tests substitute a
// recording fake.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Client is the live-connection record: the server-minted node id, the
// connection handle and the runtime view of the node. The hub owns the map
// of these; all sends go through Send so writes to one socket are never
// interleaved.
type Client struct {
	ID string

	conn    Conn
	writeMu sync.Mutex

	mu       sync.Mutex
	lastSeen time.Time
	status   types.NodeStatus
	meta     *types.NodeMetadata
	closed   bool

	pong chan struct{}
}

func newClient(id string, conn Conn) *Client {
	return &Client{
		ID:       id,
		conn:     conn,
		lastSeen: time.Now(),
		status:   types.NodeStatusOnline,
		pong:     make(chan struct{}, 1),
	}
}

func (c *Client) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) SendJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Send(data)
}

// Ping issues the transport-level liveness probe and waits for the matching
// pong up to the timeout.
func (c *Client) Ping(timeout time.Duration) error {
	// Drain a stale pong so we only accept one that answers this ping.
	select {
	case <-c.pong:
	default:
	}
	if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(timeout)); err != nil {
		return err
	}
	select {
	case <-c.pong:
		return nil
	case <-time.After(timeout):
		return errProbeTimeout
	}
}

// NotifyPong is called from the read loop's pong handler.
func (c *Client) NotifyPong() {
	c.Touch()
	select {
	case c.pong <- struct{}{}:
	default:
	}
}

func (c *Client) Touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

func (c *Client) LastSeen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

func (c *Client) Status() types.NodeStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Client) setStatus(status types.NodeStatus) {
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()
}

// Meta returns a copy of the cached node metadata, or nil before the first
// hello.
func (c *Client) Meta() *types.NodeMetadata {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.meta == nil {
		return nil
	}
	copied := *c.meta
	return &copied
}

func (c *Client) setMeta(meta *types.NodeMetadata) {
	c.mu.Lock()
	c.meta = meta
	c.mu.Unlock()
}

func (c *Client) markClosed() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

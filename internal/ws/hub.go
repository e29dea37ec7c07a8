package ws

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"gorm.io/datatypes"

	"github.com/yungbote/codernetes/internal/events"
	"github.com/yungbote/codernetes/internal/logger"
	"github.com/yungbote/codernetes/internal/repos"
	"github.com/yungbote/codernetes/internal/types"
)

// Hub is the connection registry: the single owner of live connection
// handles. Components never hold a socket themselves — they address nodes by
// id and the hub routes the send.
type Hub struct {
	log   *logger.Logger
	nodes repos.NodeRepo
	bus   events.Bus

	mu      sync.RWMutex
	clients map[Conn]*Client
}

// NodeUpdate is a sparse mutation of a client's node record. Nil/empty
// fields keep their current value.
type NodeUpdate struct {
	Status       types.NodeStatus
	DisplayName  *string
	Tags         []string
	Capabilities map[string]string
}

func NewHub(nodes repos.NodeRepo, bus events.Bus, baseLog *logger.Logger) *Hub {
	return &Hub{
		log:     baseLog.With("component", "Hub"),
		nodes:   nodes,
		bus:     bus,
		clients: make(map[Conn]*Client),
	}
}

// Register mints a node id for the connection, persists the ONLINE roster
// row and greets the node with the welcome envelope carrying its id.
func (h *Hub) Register(ctx context.Context, conn Conn) (*Client, error) {
	client := newClient(uuid.New().String(), conn)

	meta := &types.NodeMetadata{
		ID:           client.ID,
		Tags:         datatypes.NewJSONSlice([]string{}),
		Capabilities: datatypes.NewJSONType(map[string]string{}),
		Status:       types.NodeStatusOnline,
		LastSeen:     time.Now().UTC(),
	}
	client.setMeta(meta)

	h.mu.Lock()
	h.clients[conn] = client
	h.mu.Unlock()

	if err := h.nodes.Upsert(ctx, nil, meta); err != nil {
		h.log.Error("Failed to persist node row on connect", "node_id", client.ID, "error", err)
	}
	_ = h.bus.Publish(ctx, events.Event{Type: events.EventNodeConnected, NodeID: client.ID, Timestamp: time.Now().UTC()})

	h.log.Info("Client connected", "node_id", client.ID)
	err := client.SendJSON(WelcomeEnvelope{
		Type:     TypeWelcome,
		ClientID: client.ID,
		Message:  "Connected to Codernetes master",
	})
	return client, err
}

// Unregister flips the node OFFLINE and drops it from the live map. The row
// stays in the store so the roster keeps history.
func (h *Hub) Unregister(ctx context.Context, conn Conn) {
	h.mu.Lock()
	client, ok := h.clients[conn]
	delete(h.clients, conn)
	h.mu.Unlock()
	if !ok {
		return
	}

	client.markClosed()
	h.UpdateNodeRecord(ctx, client, NodeUpdate{Status: types.NodeStatusOffline})
	_ = h.bus.Publish(ctx, events.Event{Type: events.EventNodeDisconnected, NodeID: client.ID, Timestamp: time.Now().UTC()})
	h.log.Info("Client disconnected", "node_id", client.ID)
}

func (h *Hub) Clients() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	return out
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Find(nodeID string) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.ID == nodeID {
			return c
		}
	}
	return nil
}

// Broadcast wraps text in a message envelope and fans it out to every client
// except the sender. Sends run per-client so one stalled socket cannot hold
// up the rest.
func (h *Hub) Broadcast(ctx context.Context, text string, sender *Client) {
	from := "master"
	if sender != nil {
		from = sender.ID
	}
	envelope := MessageEnvelope{Type: TypeMessage, From: from, Payload: text}

	for _, client := range h.Clients() {
		if sender != nil && client == sender {
			continue
		}
		if sender == nil {
			// A master-originated broadcast doubles as a liveness touch.
			client.Touch()
			client.setStatus(types.NodeStatusOnline)
		}
		go func(c *Client) {
			if err := c.SendJSON(envelope); err != nil {
				h.log.Warn("Broadcast send failed", "node_id", c.ID, "error", err)
			}
		}(client)
	}
}

// SendToNode delivers a master message to one node. False when the node is
// not connected.
func (h *Hub) SendToNode(ctx context.Context, nodeID, text string) bool {
	client := h.Find(nodeID)
	if client == nil {
		return false
	}
	if err := client.SendJSON(MessageEnvelope{Type: TypeMessage, From: "master", Payload: text}); err != nil {
		h.log.Warn("Direct send failed", "node_id", nodeID, "error", err)
		return false
	}
	client.Touch()
	if client.Status() != types.NodeStatusOnline {
		h.UpdateNodeRecord(ctx, client, NodeUpdate{Status: types.NodeStatusOnline})
	}
	return true
}

// SendAssignment transmits the job.assign envelope and marks the node BUSY.
func (h *Hub) SendAssignment(ctx context.Context, client *Client, envelope AssignEnvelope) error {
	envelope.Type = TypeAssign
	if err := client.SendJSON(envelope); err != nil {
		return err
	}
	h.UpdateNodeRecord(ctx, client, NodeUpdate{Status: types.NodeStatusBusy})
	return nil
}

// UpdateNodeRecord merges the update into the client's cached metadata,
// refreshes last-seen, and persists the row. A status update also applies to
// the in-memory runtime status so registry and store agree.
func (h *Hub) UpdateNodeRecord(ctx context.Context, client *Client, update NodeUpdate) {
	meta := client.Meta()
	if meta == nil {
		meta = &types.NodeMetadata{
			ID:           client.ID,
			Tags:         datatypes.NewJSONSlice([]string{}),
			Capabilities: datatypes.NewJSONType(map[string]string{}),
			Status:       types.NodeStatusOnline,
		}
	}

	meta.LastSeen = time.Now().UTC()
	if update.Status != "" {
		meta.Status = update.Status
		client.setStatus(update.Status)
	}
	if update.DisplayName != nil {
		meta.DisplayName = *update.DisplayName
	}
	if update.Tags != nil {
		meta.Tags = datatypes.NewJSONSlice(update.Tags)
	}
	if update.Capabilities != nil {
		meta.Capabilities = datatypes.NewJSONType(update.Capabilities)
	}

	client.setMeta(meta)
	client.Touch()
	if err := h.nodes.Upsert(ctx, nil, meta); err != nil {
		h.log.Error("Failed to persist node row", "node_id", client.ID, "error", err)
	}
}

// CloseAll sends a normal-closure frame to every live connection. Used on
// shutdown.
func (h *Hub) CloseAll(ctx context.Context) {
	clients := h.Clients()
	if len(clients) == 0 {
		return
	}
	h.log.Info("Closing client connections", "count", len(clients))
	closeFrame := websocket.FormatCloseMessage(websocket.CloseGoingAway, "Server shutdown")
	for _, client := range clients {
		_ = client.conn.WriteControl(websocket.CloseMessage, closeFrame, time.Now().Add(time.Second))
		_ = client.conn.Close()
	}
}

package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/codernetes/internal/ws"
)

// MessagesHandler exposes the text channel to the chat-relay collaborators:
// fan-out to every node, directed send to one, and the live roster snapshot.
type MessagesHandler struct {
	hub *ws.Hub
}

func NewMessagesHandler(hub *ws.Hub) *MessagesHandler {
	return &MessagesHandler{hub: hub}
}

type broadcastRequest struct {
	Message string `json:"message"`
}

type sendRequest struct {
	ClientID string `json:"client_id"`
	Message  string `json:"message"`
}

// GET /api/status
func (h *MessagesHandler) Status(c *gin.Context) {
	clients := h.hub.Clients()
	payload := make([]gin.H, 0, len(clients))
	for _, client := range clients {
		payload = append(payload, gin.H{
			"id":        client.ID,
			"status":    client.Status(),
			"last_seen": client.LastSeen().UTC().Format(time.RFC3339),
		})
	}
	RespondOK(c, gin.H{
		"status":            "ok",
		"connected_clients": len(clients),
		"clients":           payload,
	})
}

// POST /api/broadcast
func (h *MessagesHandler) Broadcast(c *gin.Context) {
	var req broadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_json", err)
		return
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		RespondError(c, http.StatusBadRequest, "message_required", errors.New("message is required"))
		return
	}

	h.hub.Broadcast(c.Request.Context(), message, nil)
	RespondOK(c, gin.H{
		"status":            "ok",
		"broadcasted":       message,
		"connected_clients": h.hub.Count(),
	})
}

// POST /api/send
func (h *MessagesHandler) Send(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_json", err)
		return
	}
	clientID := strings.TrimSpace(req.ClientID)
	message := strings.TrimSpace(req.Message)
	if clientID == "" {
		RespondError(c, http.StatusBadRequest, "client_id_required", errors.New("client_id is required"))
		return
	}
	if message == "" {
		RespondError(c, http.StatusBadRequest, "message_required", errors.New("message is required"))
		return
	}

	if !h.hub.SendToNode(c.Request.Context(), clientID, message) {
		RespondError(c, http.StatusNotFound, "client_not_found", errors.New("client is not connected"))
		return
	}
	RespondOK(c, gin.H{
		"status":    "ok",
		"client_id": clientID,
		"message":   message,
	})
}

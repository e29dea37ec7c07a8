package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/codernetes/internal/services"
)

type NodesHandler struct {
	nodes services.NodeService
}

func NewNodesHandler(nodes services.NodeService) *NodesHandler {
	return &NodesHandler{nodes: nodes}
}

// GET /api/nodes
func (h *NodesHandler) ListNodes(c *gin.Context) {
	nodes, err := h.nodes.List(c.Request.Context(), nil)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "list_nodes_failed", err)
		return
	}
	RespondOK(c, gin.H{"nodes": nodes})
}

package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/codernetes/internal/config"
)

type ConfigHandler struct {
	cfg *config.Config
}

func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{cfg: cfg}
}

// GET /api/config
func (h *ConfigHandler) GetConfig(c *gin.Context) {
	RespondOK(c, gin.H{"config": h.cfg.Payload()})
}

// POST /api/config
func (h *ConfigHandler) UpdateConfig(c *gin.Context) {
	var data map[string]interface{}
	if err := c.ShouldBindJSON(&data); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_json", err)
		return
	}
	if data == nil {
		RespondError(c, http.StatusBadRequest, "invalid_json", errors.New("JSON object expected"))
		return
	}

	h.cfg.ApplyUpdate(data)
	RespondOK(c, gin.H{"config": h.cfg.Payload(), "status": "ok"})
}

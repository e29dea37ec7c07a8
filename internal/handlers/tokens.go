package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"

	"github.com/yungbote/codernetes/internal/repos"
	"github.com/yungbote/codernetes/internal/types"
)

// TokensHandler stores provider credentials used by the submission
// collaborators (GitHub repo pickers in the UI). The scheduler never reads
// them.
type TokensHandler struct {
	tokens repos.UserTokenRepo
}

func NewTokensHandler(tokens repos.UserTokenRepo) *TokensHandler {
	return &TokensHandler{tokens: tokens}
}

type setTokenRequest struct {
	UserID       string  `json:"user_id"`
	AccessToken  string  `json:"access_token"`
	RefreshToken *string `json:"refresh_token"`
	ExpiresAt    *string `json:"expires_at"`
	Scope        string  `json:"scope"`
	TokenType    string  `json:"token_type"`
}

// POST /api/github/token
func (h *TokensHandler) SetGitHubToken(c *gin.Context) {
	var req setTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_json", err)
		return
	}
	userID := strings.TrimSpace(req.UserID)
	accessToken := strings.TrimSpace(req.AccessToken)
	if userID == "" || accessToken == "" {
		RespondError(c, http.StatusBadRequest, "missing_fields", errors.New("user_id and access_token are required"))
		return
	}

	var expiresAt *time.Time
	if req.ExpiresAt != nil {
		if parsed, err := time.Parse(time.RFC3339, *req.ExpiresAt); err == nil {
			expiresAt = &parsed
		}
	}

	token := &types.UserToken{
		UserID:       userID,
		Provider:     "github",
		AccessToken:  accessToken,
		RefreshToken: req.RefreshToken,
		ExpiresAt:    expiresAt,
		Metadata: datatypes.NewJSONType(map[string]string{
			"scope":      req.Scope,
			"token_type": req.TokenType,
		}),
	}
	if err := h.tokens.Set(c.Request.Context(), nil, token); err != nil {
		RespondError(c, http.StatusInternalServerError, "set_token_failed", err)
		return
	}
	RespondOK(c, gin.H{"status": "ok"})
}

// GET /api/github/repos
func (h *TokensHandler) ListGitHubRepos(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("user_id"))
	if userID == "" {
		RespondError(c, http.StatusBadRequest, "user_id_required", errors.New("user_id query parameter required"))
		return
	}

	if _, err := h.tokens.Get(c.Request.Context(), nil, userID, "github"); err != nil {
		if errors.Is(err, repos.ErrTokenNotFound) {
			RespondError(c, http.StatusUnauthorized, "token_not_found", errors.New("GitHub token not found for user"))
			return
		}
		RespondError(c, http.StatusInternalServerError, "get_token_failed", err)
		return
	}

	// TODO: call the GitHub API with the stored token instead of returning
	// the placeholder list.
	RespondOK(c, gin.H{"repos": []gin.H{
		{
			"name":           "example-repo",
			"full_name":      userID + "/example-repo",
			"url":            "https://github.com/example/example-repo",
			"default_branch": "main",
		},
	}})
}

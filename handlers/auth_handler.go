package handlers

import (
	"net/http"
	"strings"
	"time"

	"geoquiz/middleware"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const guestTokenTTL = 24 * time.Hour

type GuestRequest struct {
	Name string `json:"name" binding:"required,max=32"`
}

// AuthHandler issues guest identities. Registered accounts come from the
// identity provider with tokens signed by the same secret.
type AuthHandler struct {
	secret string
}

func NewAuthHandler(secret string) *AuthHandler {
	return &AuthHandler{secret: secret}
}

func (h *AuthHandler) Guest(c *gin.Context) {
	var req GuestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Name required"})
		return
	}

	accountID := "guest-" + uuid.NewString()
	token, err := middleware.GenerateToken(h.secret, accountID, name, true, guestTokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue token"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"token":        token,
		"account_id":   accountID,
		"display_name": name,
	})
}

func (h *AuthHandler) Profile(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"account_id":   id,
		"display_name": c.GetString(middleware.ContextDisplayName),
	})
}

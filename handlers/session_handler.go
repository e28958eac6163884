package handlers

import (
	"net/http"
	"strings"

	"geoquiz/game"
	"geoquiz/middleware"
	"geoquiz/services"

	"github.com/gin-gonic/gin"
)

type SessionHandler struct {
	manager *services.SessionManager
}

func NewSessionHandler(manager *services.SessionManager) *SessionHandler {
	return &SessionHandler{manager: manager}
}

func accountID(c *gin.Context) (string, bool) {
	id := c.GetString(middleware.ContextAccountID)
	if id == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return "", false
	}
	return id, true
}

// sessionCode reads the code path parameter in canonical upper case.
func sessionCode(c *gin.Context) (string, bool) {
	code := game.NormalizeCode(c.Param("code"))
	if !game.ValidCode(code) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid session code"})
		return "", false
	}
	return code, true
}

// target reads both the caller and the session code.
func target(c *gin.Context) (string, string, bool) {
	id, ok := accountID(c)
	if !ok {
		return "", "", false
	}
	code, ok := sessionCode(c)
	if !ok {
		return "", "", false
	}
	return id, code, true
}

func (h *SessionHandler) CreateSession(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}

	var req services.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.manager.Create(c.Request.Context(), id, c.GetString(middleware.ContextDisplayName), game.Settings{
		MaxPlayers:      req.MaxPlayers,
		DurationMinutes: req.DurationMinutes,
		Solo:            req.Solo,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"code": session.Code, "session": session})
}

func (h *SessionHandler) JoinSession(c *gin.Context) {
	id, code, ok := target(c)
	if !ok {
		return
	}

	var req services.JoinSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	name := c.GetString(middleware.ContextDisplayName)
	if guest := strings.TrimSpace(req.GuestName); guest != "" {
		name = guest
	}

	session, err := h.manager.Join(c.Request.Context(), code, id, name)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

func (h *SessionHandler) LeaveSession(c *gin.Context) {
	id, code, ok := target(c)
	if !ok {
		return
	}
	if err := h.manager.Leave(c.Request.Context(), code, id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Left session"})
}

func (h *SessionHandler) SetReady(c *gin.Context) {
	id, code, ok := target(c)
	if !ok {
		return
	}

	var req services.ReadyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.manager.SetReady(c.Request.Context(), code, id, req.Ready); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": req.Ready})
}

func (h *SessionHandler) StartCountdown(c *gin.Context) {
	id, code, ok := target(c)
	if !ok {
		return
	}
	if err := h.manager.StartCountdown(c.Request.Context(), code, id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Countdown started"})
}

func (h *SessionHandler) StartGame(c *gin.Context) {
	id, code, ok := target(c)
	if !ok {
		return
	}
	if err := h.manager.StartGame(c.Request.Context(), code, id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Game started"})
}

func (h *SessionHandler) RollDice(c *gin.Context) {
	id, code, ok := target(c)
	if !ok {
		return
	}
	country, err := h.manager.RollDice(c.Request.Context(), code, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"country": country})
}

func (h *SessionHandler) SubmitGuess(c *gin.Context) {
	id, code, ok := target(c)
	if !ok {
		return
	}

	var req services.GuessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.manager.SubmitGuess(c.Request.Context(), code, id, req.Guess)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *SessionHandler) SkipTurn(c *gin.Context) {
	id, code, ok := target(c)
	if !ok {
		return
	}
	if err := h.manager.SkipTurn(c.Request.Context(), code, id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Turn skipped"})
}

func (h *SessionHandler) UseHint(c *gin.Context) {
	id, code, ok := target(c)
	if !ok {
		return
	}

	var req services.HintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	value, err := h.manager.UseHint(c.Request.Context(), code, id, req.Kind)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"kind": req.Kind, "value": value})
}

func (h *SessionHandler) EndGame(c *gin.Context) {
	id, code, ok := target(c)
	if !ok {
		return
	}
	if err := h.manager.EndGame(c.Request.Context(), code, id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Game ended"})
}

func (h *SessionHandler) GetSession(c *gin.Context) {
	code, ok := sessionCode(c)
	if !ok {
		return
	}
	session, err := h.manager.Snapshot(c.Request.Context(), code)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// ActiveSession answers the reload check: the unfinished session the caller
// still sits in, or 404.
func (h *SessionHandler) ActiveSession(c *gin.Context) {
	id, ok := accountID(c)
	if !ok {
		return
	}
	session, err := h.manager.ActiveSession(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

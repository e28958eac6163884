package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"geoquiz/services"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"
	"gorm.io/gorm"
)

const qrSize = 256

type ResultsHandler struct {
	results   *services.ResultsService
	publicURL string
}

func NewResultsHandler(results *services.ResultsService, publicURL string) *ResultsHandler {
	return &ResultsHandler{results: results, publicURL: publicURL}
}

func (h *ResultsHandler) GetResults(c *gin.Context) {
	code, ok := sessionCode(c)
	if !ok {
		return
	}

	result, err := h.results.GetResultsByCode(c.Request.Context(), code)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Results not found"})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *ResultsHandler) Leaderboard(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
		return
	}

	entries, err := h.results.Leaderboard(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, entries)
}

// JoinQR renders the join link of a session as a PNG.
func (h *ResultsHandler) JoinQR(c *gin.Context) {
	code, ok := sessionCode(c)
	if !ok {
		return
	}

	png, err := qrcode.Encode(h.JoinURL(code), qrcode.Medium, qrSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to render QR code"})
		return
	}

	c.Header("Cache-Control", "public, max-age=3600")
	c.Data(http.StatusOK, "image/png", png)
}

func (h *ResultsHandler) JoinURL(code string) string {
	return h.publicURL + "/join/" + code
}

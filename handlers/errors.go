package handlers

import (
	"errors"
	"net/http"

	"geoquiz/game"
	"geoquiz/services"
	"geoquiz/store"

	"github.com/gin-gonic/gin"
)

// statusFor maps session errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, game.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, game.ErrConflict), errors.Is(err, game.ErrCapacity),
		errors.Is(err, game.ErrStaleState), errors.Is(err, game.ErrAlreadyJoined):
		return http.StatusConflict
	case errors.Is(err, game.ErrNotHost), errors.Is(err, game.ErrNotYourTurn),
		errors.Is(err, game.ErrNotInSession):
		return http.StatusForbidden
	case errors.Is(err, services.ErrForcedLogout):
		return http.StatusUnauthorized
	case errors.Is(err, store.ErrUnavailable), errors.Is(err, services.ErrArchiveDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

func respondError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

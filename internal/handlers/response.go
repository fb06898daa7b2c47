package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/Cyvadra/tv-bridge/internal/services"
	"github.com/gin-gonic/gin"
)

func errorBody(message, code string) gin.H {
	return gin.H{
		"status":  "error",
		"message": message,
		"code":    code,
	}
}

// statusFor maps a pipeline error to its HTTP status
func statusFor(err error) int {
	if errors.Is(err, services.ErrAuthentication) {
		return http.StatusUnauthorized
	}
	return http.StatusBadRequest
}

// messageOf returns the caller-facing reason of an error
func messageOf(err error) string {
	var tradeErr *services.TradeError
	if errors.As(err, &tradeErr) {
		return tradeErr.Message
	}
	return err.Error()
}

// respondAdminError answers a failed admin call
func respondAdminError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, errorBody("Not found", "NOT_FOUND"))
	case isValidation(err):
		c.JSON(http.StatusBadRequest, errorBody(err.Error(), "VALIDATION_ERROR"))
	case errors.Is(err, services.ErrConnection):
		c.JSON(http.StatusBadRequest, errorBody(messageOf(err), "CONNECTION_ERROR"))
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, errorBody(fallback, "INTERNAL_ERROR"))
	}
}

func isValidation(err error) bool {
	var v *services.ValidationError
	return errors.As(err, &v) || errors.Is(err, services.ErrValidation)
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, errorBody("Invalid ID", "VALIDATION_ERROR"))
		return 0, false
	}
	return uint(id), true
}

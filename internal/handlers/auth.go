package handlers

import (
	"errors"
	"net/http"

	"github.com/Cyvadra/tv-bridge/internal/services"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AuthHandler issues admin tokens
type AuthHandler struct {
	auth   *services.AuthService
	logger *zap.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(auth *services.AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		auth:   auth,
		logger: logger.Named("auth"),
	}
}

// Login exchanges admin credentials for a JWT
// POST /api/v1/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req services.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("Username and password are required", "VALIDATION_ERROR"))
		return
	}

	resp, err := h.auth.Login(c.Request.Context(), req, c.ClientIP())
	if err != nil {
		if errors.Is(err, services.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, errorBody("Invalid username or password", "UNAUTHORIZED"))
			return
		}
		h.logger.Error("login failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorBody("Login failed", "INTERNAL_ERROR"))
		return
	}

	c.JSON(http.StatusOK, resp)
}

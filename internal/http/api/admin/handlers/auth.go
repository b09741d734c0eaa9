package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/QuotaLedger/internal/config"
	"github.com/router-for-me/QuotaLedger/internal/security"
	log "github.com/sirupsen/logrus"
)

// AuthHandler issues admin tokens.
type AuthHandler struct {
	tokens *security.TokenService
	admin  config.AdminConfig
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(tokens *security.TokenService, admin config.AdminConfig) *AuthHandler {
	return &AuthHandler{tokens: tokens, admin: admin}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login checks the configured admin credentials and returns a bearer token.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	token, expiresAt, errLogin := h.tokens.Login(req.Username, req.Password, h.admin.Username, h.admin.PasswordHash)
	if errLogin != nil {
		switch {
		case errors.Is(errLogin, security.ErrBadCredentials):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid username or password"})
		case errors.Is(errLogin, security.ErrAdminNotEnabled), errors.Is(errLogin, security.ErrMissingSecret):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "admin login disabled"})
		default:
			log.WithError(errLogin).Error("admin login failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expires_at": expiresAt})
}

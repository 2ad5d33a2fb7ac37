package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/physquest/server/api/usererr"
	"github.com/physquest/server/game/account"
	mw "github.com/physquest/server/middleware"
	"go.uber.org/zap"
)

// AuthHandler handles signup, login and session REST endpoints.
type AuthHandler struct {
	accounts *account.Service
	sessions *mw.Sessions
	logger   *zap.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(accounts *account.Service, sessions *mw.Sessions, logger *zap.Logger) *AuthHandler {
	RegisterValidators()
	return &AuthHandler{accounts: accounts, sessions: sessions, logger: logger}
}

type signupRequest struct {
	Username        string `json:"username" binding:"required,username"`
	Password        string `json:"password" binding:"required,max=64"`
	ConfirmPassword string `json:"confirm_password" binding:"required,max=64"`
}

type loginRequest struct {
	Username string `json:"username" binding:"required,max=32"`
	Password string `json:"password" binding:"required,max=64"`
}

// Signup handles POST /api/auth/signup.
func (h *AuthHandler) Signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindMessage(err)})
		return
	}
	u, err := h.accounts.Signup(c.Request.Context(), req.Username, req.Password, req.ConfirmPassword)
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, gin.H{"user": u})
	case errors.Is(err, account.ErrUsernameTaken):
		c.JSON(http.StatusConflict, gin.H{"error": usererr.Message(err)})
	case errors.Is(err, account.ErrSignupRejected):
		c.JSON(http.StatusForbidden, gin.H{"error": usererr.Message(err)})
	case errors.Is(err, account.ErrPasswordMismatch),
		errors.Is(err, account.ErrInvalidUsername),
		errors.Is(err, account.ErrInvalidPassword):
		c.JSON(http.StatusBadRequest, gin.H{"error": usererr.Message(err)})
	default:
		h.logger.Error("signup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
	}
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindMessage(err)})
		return
	}
	u, err := h.accounts.Authenticate(c.Request.Context(), req.Username, req.Password, c.ClientIP())
	switch {
	case errors.Is(err, account.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": usererr.Message(err)})
		return
	case errors.Is(err, account.ErrBanned):
		c.JSON(http.StatusForbidden, gin.H{"error": usererr.Message(err)})
		return
	case err != nil:
		h.logger.Error("login failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	token, err := h.sessions.Issue(c.Request.Context(), u.ID)
	if err != nil {
		h.logger.Error("issue session", zap.Int64("user_id", u.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "user": u})
}

// Logout handles POST /api/auth/logout.
func (h *AuthHandler) Logout(c *gin.Context) {
	_ = h.sessions.Revoke(c.Request.Context(), mw.GetToken(c))
	h.accounts.Logout(c.Request.Context(), mw.GetUserID(c))
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Refresh handles POST /api/auth/refresh. The old token stops working.
func (h *AuthHandler) Refresh(c *gin.Context) {
	userID := mw.GetUserID(c)
	token, err := h.sessions.Issue(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}
	_ = h.sessions.Revoke(c.Request.Context(), mw.GetToken(c))
	c.JSON(http.StatusOK, gin.H{"token": token})
}

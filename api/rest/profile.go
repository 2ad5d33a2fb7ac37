package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/physquest/server/api/usererr"
	"github.com/physquest/server/game/account"
	"github.com/physquest/server/game/progress"
	"github.com/physquest/server/game/social"
	mw "github.com/physquest/server/middleware"
	"go.uber.org/zap"
)

// ProfileHandler serves the caller's profile and public user pages.
type ProfileHandler struct {
	accounts *account.Service
	progress *progress.Service
	social   *social.Service
	logger   *zap.Logger
}

func NewProfileHandler(accounts *account.Service, prog *progress.Service, soc *social.Service, logger *zap.Logger) *ProfileHandler {
	RegisterValidators()
	return &ProfileHandler{accounts: accounts, progress: prog, social: soc, logger: logger}
}

// Get handles GET /api/profile.
func (h *ProfileHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()
	u, err := h.accounts.Get(ctx, mw.GetUserID(c))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	sum, err := h.progress.Summary(ctx, u.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u, "summary": sum})
}

// Icons handles GET /api/profile/icons.
func (h *ProfileHandler) Icons(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"icons": h.accounts.Icons()})
}

type iconRequest struct {
	Icon string `json:"icon" binding:"required,profile_icon"`
}

// SetIcon handles PUT /api/profile/icon.
func (h *ProfileHandler) SetIcon(c *gin.Context) {
	var req iconRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindMessage(err)})
		return
	}
	err := h.accounts.SetIcon(c.Request.Context(), mw.GetUserID(c), req.Icon)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"profile_icon": req.Icon})
	case errors.Is(err, account.ErrUnknownIcon):
		c.JSON(http.StatusBadRequest, gin.H{"error": usererr.Message(err)})
	case errors.Is(err, account.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": usererr.Message(err)})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
	}
}

type passwordRequest struct {
	OldPassword     string `json:"old_password" binding:"required,max=64"`
	NewPassword     string `json:"new_password" binding:"required,max=64"`
	ConfirmPassword string `json:"confirm_password" binding:"required,max=64"`
}

// ChangePassword handles PUT /api/profile/password.
func (h *ProfileHandler) ChangePassword(c *gin.Context) {
	var req passwordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindMessage(err)})
		return
	}
	err := h.accounts.ChangePassword(c.Request.Context(), mw.GetUserID(c), req.OldPassword, req.NewPassword, req.ConfirmPassword)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"message": "password changed"})
	case errors.Is(err, account.ErrInvalidCredentials):
		c.JSON(http.StatusForbidden, gin.H{"error": "current password is wrong"})
	case errors.Is(err, account.ErrPasswordMismatch), errors.Is(err, account.ErrInvalidPassword):
		c.JSON(http.StatusBadRequest, gin.H{"error": usererr.Message(err)})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
	}
}

// PublicProfile handles GET /api/users/:username. When the caller is logged
// in the response says whether they have added this user.
func (h *ProfileHandler) PublicProfile(c *gin.Context) {
	ctx := c.Request.Context()
	u, err := h.accounts.GetByUsername(ctx, c.Param("username"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	sum, err := h.progress.Summary(ctx, u.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	resp := gin.H{"user": u.Public(), "summary": sum}
	if me := mw.GetUserID(c); me != 0 && me != u.ID {
		friend, _ := h.social.IsFriend(ctx, me, u.ID)
		resp["is_friend"] = friend
	}
	c.JSON(http.StatusOK, resp)
}

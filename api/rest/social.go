package rest

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/physquest/server/api/usererr"
	"github.com/physquest/server/game/social"
	mw "github.com/physquest/server/middleware"
	"go.uber.org/zap"
)

// SocialHandler handles the friends list REST endpoints.
type SocialHandler struct {
	social *social.Service
	logger *zap.Logger
}

// NewSocialHandler creates a new SocialHandler.
func NewSocialHandler(soc *social.Service, logger *zap.Logger) *SocialHandler {
	RegisterValidators()
	return &SocialHandler{social: soc, logger: logger}
}

// ListFriends handles GET /api/friends.
func (h *SocialHandler) ListFriends(c *gin.Context) {
	friends, err := h.social.List(c.Request.Context(), mw.GetUserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"friends": friends})
}

// ListFollowers handles GET /api/friends/followers.
func (h *SocialHandler) ListFollowers(c *gin.Context) {
	followers, err := h.social.Followers(c.Request.Context(), mw.GetUserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"followers": followers})
}

// Search handles GET /api/friends/search?q=&limit=.
func (h *SocialHandler) Search(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	users, err := h.social.Search(c.Request.Context(), mw.GetUserID(c), c.Query("q"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

type addFriendRequest struct {
	Username string `json:"username" binding:"required,max=32"`
}

// AddFriend handles POST /api/friends.
func (h *SocialHandler) AddFriend(c *gin.Context) {
	var req addFriendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindMessage(err)})
		return
	}
	f, err := h.social.Add(c.Request.Context(), mw.GetUserID(c), req.Username)
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, gin.H{"friend": f})
	case errors.Is(err, social.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": usererr.Message(err)})
	case errors.Is(err, social.ErrSelf):
		c.JSON(http.StatusBadRequest, gin.H{"error": usererr.Message(err)})
	case errors.Is(err, social.ErrAlreadyFriends):
		c.JSON(http.StatusConflict, gin.H{"error": usererr.Message(err)})
	default:
		h.logger.Error("add friend", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// DeleteFriend handles DELETE /api/friends/:id.
func (h *SocialHandler) DeleteFriend(c *gin.Context) {
	friendID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	err = h.social.Remove(c.Request.Context(), mw.GetUserID(c), friendID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"ok": true})
	case errors.Is(err, social.ErrNotFriends):
		c.JSON(http.StatusNotFound, gin.H{"error": usererr.Message(err)})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

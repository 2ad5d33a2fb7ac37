package rest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/physquest/server/game/progress"
	"github.com/physquest/server/game/social"
	mw "github.com/physquest/server/middleware"
	"go.uber.org/zap"
)

// RankingHandler handles leaderboard REST endpoints.
type RankingHandler struct {
	progress *progress.Service
	social   *social.Service
	top      int
	logger   *zap.Logger
}

// NewRankingHandler creates a RankingHandler. top caps the limit parameter.
func NewRankingHandler(prog *progress.Service, soc *social.Service, top int, logger *zap.Logger) *RankingHandler {
	if top <= 0 {
		top = 100
	}
	return &RankingHandler{progress: prog, social: soc, top: top, logger: logger}
}

// Top returns the global leaderboard.
// GET /api/ranking?limit=20
func (h *RankingHandler) Top(c *gin.Context) {
	limit := 20
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 && l <= h.top {
		limit = l
	}
	entries, err := h.progress.Top(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("ranking top", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ranking": entries})
}

// Friends ranks the caller among the users they added.
// GET /api/ranking/friends
func (h *RankingHandler) Friends(c *gin.Context) {
	ctx := c.Request.Context()
	userID := mw.GetUserID(c)
	ids, err := h.social.FriendIDs(ctx, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	entries, err := h.progress.Among(ctx, append(ids, userID))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ranking": entries})
}

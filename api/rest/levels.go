package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/physquest/server/api/usererr"
	"github.com/physquest/server/game/grading"
	"github.com/physquest/server/game/level"
	"github.com/physquest/server/game/progress"
	mw "github.com/physquest/server/middleware"
	"go.uber.org/zap"
)

// LevelHandler serves the level catalog and records play.
type LevelHandler struct {
	catalog  *level.Catalog
	progress *progress.Service
	logger   *zap.Logger
}

func NewLevelHandler(cat *level.Catalog, prog *progress.Service, logger *zap.Logger) *LevelHandler {
	return &LevelHandler{catalog: cat, progress: prog, logger: logger}
}

// List handles GET /api/levels?tier=&kind=.
func (h *LevelHandler) List(c *gin.Context) {
	tier := level.Tier(c.Query("tier"))
	kind := level.Kind(c.Query("kind"))
	switch tier {
	case "", level.TierGCSE, level.TierALevel:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown tier"})
		return
	}
	switch kind {
	case "", level.KindLevel, level.KindMinigame, level.KindCutscene:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown kind"})
		return
	}
	levels := h.catalog.List(tier, kind)
	c.JSON(http.StatusOK, gin.H{"levels": levels, "count": len(levels)})
}

// Get handles GET /api/levels/:key.
func (h *LevelHandler) Get(c *gin.Context) {
	lvl, err := h.catalog.Get(c.Param("key"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "level not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"level": lvl})
}

// Submit handles POST /api/levels/:key/stages/:stage/submit.
func (h *LevelHandler) Submit(c *gin.Context) {
	var sub grading.Submission
	if err := c.ShouldBindJSON(&sub); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	out, err := h.progress.Submit(c.Request.Context(), mw.GetUserID(c), c.Param("key"), c.Param("stage"), sub)
	if err != nil {
		h.playError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

type completeRequest struct {
	Event     string `json:"event" binding:"required,max=64"`
	ElapsedMs int64  `json:"elapsed_ms" binding:"min=0"`
}

// Complete handles POST /api/levels/:key/complete.
func (h *LevelHandler) Complete(c *gin.Context) {
	var req completeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindMessage(err)})
		return
	}
	out, err := h.progress.Complete(c.Request.Context(), mw.GetUserID(c), c.Param("key"), req.Event, req.ElapsedMs)
	if err != nil {
		h.playError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// CompleteEvent handles POST /api/progress/events, where the game bundle
// reports only its completion event ("level_complete_gcse3").
func (h *LevelHandler) CompleteEvent(c *gin.Context) {
	var req completeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindMessage(err)})
		return
	}
	out, err := h.progress.CompleteByEvent(c.Request.Context(), mw.GetUserID(c), req.Event, req.ElapsedMs)
	if err != nil {
		h.playError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// Progress handles GET /api/progress.
func (h *LevelHandler) Progress(c *gin.Context) {
	ctx := c.Request.Context()
	userID := mw.GetUserID(c)
	rows, err := h.progress.ForUser(ctx, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	sum, err := h.progress.Summary(ctx, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"progress": rows, "summary": sum})
}

func (h *LevelHandler) playError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, progress.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "level not found"})
	case errors.Is(err, progress.ErrStageNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "stage not found"})
	case errors.Is(err, progress.ErrWrongEvent):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case grading.IsBadSubmission(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": usererr.Message(err)})
	default:
		h.logger.Error("play request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

package rest

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/physquest/server/game/account"
	"github.com/physquest/server/game/activity"
	"github.com/physquest/server/game/level"
	"github.com/physquest/server/game/presence"
	"github.com/physquest/server/game/progress"
	mw "github.com/physquest/server/middleware"
	"github.com/physquest/server/model"
	"github.com/physquest/server/scheduler"
	"go.uber.org/zap"
)

// AdminHandler handles admin-only REST endpoints.
// Routes should be protected by AdminAuth middleware.
type AdminHandler struct {
	accounts  *account.Service
	sessions  *mw.Sessions
	presence  *presence.Manager
	progress  *progress.Service
	publisher *activity.Publisher
	catalog   *level.Catalog
	sched     *scheduler.Scheduler
	logger    *zap.Logger
}

// AdminDeps groups the services the admin endpoints operate on.
type AdminDeps struct {
	Accounts  *account.Service
	Sessions  *mw.Sessions
	Presence  *presence.Manager
	Progress  *progress.Service
	Publisher *activity.Publisher
	Catalog   *level.Catalog
	Scheduler *scheduler.Scheduler
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(d AdminDeps, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		accounts:  d.Accounts,
		sessions:  d.Sessions,
		presence:  d.Presence,
		progress:  d.Progress,
		publisher: d.Publisher,
		catalog:   d.Catalog,
		sched:     d.Scheduler,
		logger:    logger,
	}
}

// Metrics returns server health metrics.
// GET /api/admin/metrics
func (h *AdminHandler) Metrics(c *gin.Context) {
	users, err := h.accounts.Count(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"users":           users,
		"online_users":    h.presence.Count(),
		"levels":          h.catalog.Len(),
		"scheduler_tasks": h.sched.ListTickers(),
	})
}

// BanUser bans or unbans an account. A ban ends every session of the user
// and closes their live connection.
// POST /api/admin/users/:id/ban
func (h *AdminHandler) BanUser(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req struct {
		Ban bool `json:"ban"`
	}
	_ = c.ShouldBindJSON(&req)

	status := model.UserStatusActive
	if req.Ban {
		status = model.UserStatusBanned
	}
	ctx := c.Request.Context()
	if _, err := h.accounts.SetStatus(ctx, userID, status); err != nil {
		if errors.Is(err, account.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}

	if req.Ban {
		if err := h.sessions.RevokeAll(ctx, userID); err != nil {
			h.logger.Warn("revoke sessions", zap.Int64("user_id", userID), zap.Error(err))
		}
		if s := h.presence.Get(userID); s != nil {
			s.Close()
		}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "status": status})
}

// Announce broadcasts a message to every SSE and WebSocket client.
// POST /api/admin/announce
func (h *AdminHandler) Announce(c *gin.Context) {
	var req struct {
		Message string `json:"message" binding:"required,max=500"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindMessage(err)})
		return
	}
	if err := h.publisher.Announce(c.Request.Context(), req.Message); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "publish failed"})
		return
	}
	h.logger.Info("admin announcement", zap.String("message", req.Message))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// RefreshRanking rebuilds the leaderboard from the progress table.
// POST /api/admin/ranking/refresh
func (h *AdminHandler) RefreshRanking(c *gin.Context) {
	n, err := h.progress.RefreshRanking(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"refreshed": n})
}

// ListSchedulerTasks returns every ticker task with its run statistics.
// GET /api/admin/scheduler
func (h *AdminHandler) ListSchedulerTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": h.sched.Tasks()})
}

// ReloadLevels re-reads the level catalog. On error the old catalog stays.
// POST /api/admin/levels/reload
func (h *AdminHandler) ReloadLevels(c *gin.Context) {
	if err := h.catalog.Reload(); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	h.logger.Info("level catalog reloaded", zap.Int("levels", h.catalog.Len()))
	c.JSON(http.StatusOK, gin.H{"levels": h.catalog.Len()})
}

// AdminAuth returns a middleware that checks the X-Admin-Key header.
// If adminKey is empty all admin endpoints are disabled (503) so the server
// cannot be deployed without protection.
func AdminAuth(adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminKey == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				gin.H{"error": "admin endpoints disabled: set server.admin_key in config"})
			return
		}
		key := c.GetHeader("X-Admin-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(adminKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

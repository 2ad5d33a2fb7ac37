package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/physquest/server/cache"
	"gorm.io/gorm"
)

// Health reports whether the database and cache answer.
// GET /health
func Health(db *gorm.DB, c cache.Cache) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		rctx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
		defer cancel()
		status := gin.H{"status": "ok", "db": "ok", "cache": "ok"}
		code := http.StatusOK
		if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(rctx) != nil {
			status["db"] = "down"
			status["status"] = "degraded"
			code = http.StatusServiceUnavailable
		}
		if _, err := c.Exists(rctx, "health:ping"); err != nil {
			status["cache"] = "down"
			status["status"] = "degraded"
			code = http.StatusServiceUnavailable
		}
		ctx.JSON(code, status)
	}
}

package web

import (
	"embed"
	"io/fs"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/physquest/server/config"
)

//go:embed templates/*.html static
var assets embed.FS

// StaticFS returns the embedded site assets (style.css, icons/).
func StaticFS() fs.FS {
	sub, err := fs.Sub(assets, "static")
	if err != nil {
		panic(err)
	}
	return sub
}

// MountStatic serves /static from cfg.StaticDir (or the embedded copy) and the
// compiled game bundle from cfg.GameDir.
func MountStatic(r *gin.Engine, cfg config.WebConfig) {
	if cfg.StaticDir != "" {
		r.Static("/static", cfg.StaticDir)
	} else {
		r.StaticFS("/static", http.FS(StaticFS()))
	}

	index := filepath.Join(cfg.GameDir, "index.html")
	r.GET("/game_file", func(c *gin.Context) {
		c.File(index)
	})
	r.Static(gameBundlePrefix, cfg.GameDir)
}

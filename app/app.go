// Package app wires every PhysQuest subsystem into one gin engine. main.go
// and the integration tests build the server through New.
package app

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	apirest "github.com/physquest/server/api/rest"
	"github.com/physquest/server/api/sse"
	"github.com/physquest/server/api/web"
	apows "github.com/physquest/server/api/ws"
	"github.com/physquest/server/audit"
	"github.com/physquest/server/cache"
	"github.com/physquest/server/config"
	"github.com/physquest/server/game/account"
	"github.com/physquest/server/game/activity"
	"github.com/physquest/server/game/grading"
	"github.com/physquest/server/game/level"
	"github.com/physquest/server/game/presence"
	"github.com/physquest/server/game/progress"
	"github.com/physquest/server/game/script"
	"github.com/physquest/server/game/social"
	mw "github.com/physquest/server/middleware"
	"github.com/physquest/server/plugin/hook"
	"github.com/physquest/server/scheduler"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

const (
	presenceSweepInterval = 30 * time.Second
	limiterSweepInterval  = 5 * time.Minute
	sessionCloseTimeout   = 5 * time.Second
)

// App is a fully wired server.
type App struct {
	Engine    *gin.Engine
	DB        *gorm.DB
	Cache     cache.Cache
	PubSub    cache.PubSub
	Hooks     *hook.HookCenter
	Catalog   *level.Catalog
	Accounts  *account.Service
	Sessions  *mw.Sessions
	Social    *social.Service
	Progress  *progress.Service
	Presence  *presence.Manager
	Publisher *activity.Publisher
	Audit     *audit.Service
	Scheduler *scheduler.Scheduler

	logger *zap.Logger
}

// New builds every service on top of db, c and ps and registers all routes.
// The scheduler tickers start immediately; call Close to stop them.
func New(cfg *config.Config, db *gorm.DB, c cache.Cache, ps cache.PubSub, logger *zap.Logger) (*App, error) {
	grader := grading.NewGrader(script.NewEvaluator(cfg.Script, logger))
	cat, err := level.Load(cfg.Levels.Dir, grader.CheckFormulas)
	if err != nil {
		return nil, err
	}
	logger.Info("level catalog loaded", zap.Int("levels", cat.Len()), zap.String("dir", cfg.Levels.Dir))

	a := &App{DB: db, Cache: c, PubSub: ps, Catalog: cat, logger: logger}
	a.Hooks = hook.NewHookCenter()
	a.Audit = audit.New(db, logger)
	a.Audit.RegisterHooks(a.Hooks)

	a.Accounts = account.NewService(db, a.Hooks, cfg, logger)
	a.Sessions = mw.NewSessions(c, cfg.Security)
	a.Social = social.NewService(db, a.Hooks, logger)
	a.Presence = presence.NewManager(c, logger)
	a.Social.SetPresence(a.Presence)

	a.Progress = progress.NewService(db, c, cat, grader, a.Hooks, logger)
	a.Publisher = activity.NewPublisher(ps, a.Social, logger)
	a.Publisher.RegisterHooks(a.Hooks)

	global := mw.NewIPLimiters(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst)
	authLimit := mw.NewIPLimiters(rate.Limit(cfg.Security.AuthRateRPS), cfg.Security.AuthRateBurst)
	a.schedule(cfg, global, authLimit)

	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))
	r.Use(mw.RateLimit(global))
	r.Use(mw.RateLimitPOST(authLimit, "/login", "/signup", "/api/auth/"))

	r.GET("/health", apirest.Health(db, c))

	// ---- REST API ----
	handlers := apirest.Handlers{
		Auth:    apirest.NewAuthHandler(a.Accounts, a.Sessions, logger),
		Levels:  apirest.NewLevelHandler(cat, a.Progress, logger),
		Profile: apirest.NewProfileHandler(a.Accounts, a.Progress, a.Social, logger),
		Social:  apirest.NewSocialHandler(a.Social, logger),
		Ranking: apirest.NewRankingHandler(a.Progress, a.Social, cfg.Ranking.Top, logger),
		Admin: apirest.NewAdminHandler(apirest.AdminDeps{
			Accounts:  a.Accounts,
			Sessions:  a.Sessions,
			Presence:  a.Presence,
			Progress:  a.Progress,
			Publisher: a.Publisher,
			Catalog:   cat,
			Scheduler: a.Scheduler,
		}, logger),
	}
	apirest.Mount(r.Group("/api"), handlers,
		mw.Auth(a.Sessions), mw.OptionalAuth(a.Sessions),
		mw.IPWhitelist(cfg.Server.AdminIPs), apirest.AdminAuth(cfg.Server.AdminKey))

	// ---- WebSocket ----
	wsRouter := apows.NewRouter(logger)
	apows.NewPresenceHandlers(a.Presence, a.Social, logger).RegisterHandlers(wsRouter)
	wsH := apows.NewHandler(apows.Deps{
		Sessions:  a.Sessions,
		Accounts:  a.Accounts,
		Presence:  a.Presence,
		PubSub:    ps,
		Publisher: a.Publisher,
	}, cfg.Security, wsRouter, logger)
	r.GET("/ws", wsH.ServeWS)

	// ---- SSE ----
	r.GET("/sse", sse.NewHandler(ps, a.Sessions, logger).ServeSSE)

	// ---- Pages and static files ----
	web.MountStatic(r, cfg.Web)
	pages := web.NewPages(web.Deps{
		Accounts: a.Accounts,
		Social:   a.Social,
		Progress: a.Progress,
		Catalog:  cat,
		Sessions: a.Sessions,
		Flash:    web.NewFlashStore(c, cfg.Security.CookieSecure, logger),
	}, cfg.Security, logger)
	if err := pages.Register(r, mw.OptionalAuth(a.Sessions)); err != nil {
		a.Close()
		return nil, err
	}

	a.Engine = r
	return a, nil
}

func (a *App) schedule(cfg *config.Config, limiters ...*mw.IPLimiters) {
	a.Scheduler = scheduler.New(a.logger)
	a.Scheduler.AddTicker("ranking_refresh", cfg.Ranking.RefreshInterval, func(ctx context.Context) error {
		n, err := a.Progress.RefreshRanking(ctx)
		if err == nil {
			a.logger.Debug("ranking refreshed", zap.Int("users", n))
		}
		return err
	})
	a.Scheduler.AddTicker("audit_purge", time.Hour, func(ctx context.Context) error {
		n, err := a.Audit.PurgeOlderThan(ctx, cfg.Audit.Retention)
		if err == nil && n > 0 {
			a.logger.Info("audit entries purged", zap.Int64("count", n))
		}
		return err
	})
	a.Scheduler.AddTicker("presence_sweep", presenceSweepInterval, func(ctx context.Context) error {
		n, err := a.Presence.Sweep(ctx)
		if err == nil && n > 0 {
			a.logger.Info("stale presence dropped", zap.Int("count", n))
		}
		return err
	})
	a.Scheduler.AddTicker("rate_limiter_sweep", limiterSweepInterval, func(context.Context) error {
		for _, l := range limiters {
			l.Sweep()
		}
		return nil
	})
}

// Close stops the scheduler, disconnects WebSocket clients and drains the
// audit writer, in that order.
func (a *App) Close() {
	a.Scheduler.Stop()
	a.Presence.CloseAll(sessionCloseTimeout)
	a.Audit.Stop(context.Background())
}

package rest

import "github.com/gin-gonic/gin"

// Handlers bundles every REST handler mounted under /api.
type Handlers struct {
	Auth    *AuthHandler
	Levels  *LevelHandler
	Profile *ProfileHandler
	Social  *SocialHandler
	Ranking *RankingHandler
	Admin   *AdminHandler
}

// Mount registers the REST routes on api. auth rejects anonymous callers,
// optional only attaches the user, admin guards /api/admin.
func Mount(api *gin.RouterGroup, h Handlers, auth, optional gin.HandlerFunc, admin ...gin.HandlerFunc) {
	authG := api.Group("/auth")
	authG.POST("/signup", h.Auth.Signup)
	authG.POST("/login", h.Auth.Login)
	authG.POST("/logout", auth, h.Auth.Logout)
	authG.POST("/refresh", auth, h.Auth.Refresh)

	levelsG := api.Group("/levels")
	levelsG.GET("", h.Levels.List)
	levelsG.GET("/:key", h.Levels.Get)
	levelsG.POST("/:key/stages/:stage/submit", auth, h.Levels.Submit)
	levelsG.POST("/:key/complete", auth, h.Levels.Complete)
	api.GET("/progress", auth, h.Levels.Progress)
	api.POST("/progress/events", auth, h.Levels.CompleteEvent)

	profileG := api.Group("/profile")
	profileG.Use(auth)
	profileG.GET("", h.Profile.Get)
	profileG.GET("/icons", h.Profile.Icons)
	profileG.PUT("/icon", h.Profile.SetIcon)
	profileG.PUT("/password", h.Profile.ChangePassword)
	api.GET("/users/:username", optional, h.Profile.PublicProfile)

	friendsG := api.Group("/friends")
	friendsG.Use(auth)
	friendsG.GET("", h.Social.ListFriends)
	friendsG.GET("/followers", h.Social.ListFollowers)
	friendsG.GET("/search", h.Social.Search)
	friendsG.POST("", h.Social.AddFriend)
	friendsG.DELETE("/:id", h.Social.DeleteFriend)

	rankG := api.Group("/ranking")
	rankG.GET("", h.Ranking.Top)
	rankG.GET("/friends", auth, h.Ranking.Friends)

	adminG := api.Group("/admin")
	adminG.Use(admin...)
	adminG.GET("/metrics", h.Admin.Metrics)
	adminG.POST("/users/:id/ban", h.Admin.BanUser)
	adminG.POST("/announce", h.Admin.Announce)
	adminG.POST("/ranking/refresh", h.Admin.RefreshRanking)
	adminG.GET("/scheduler", h.Admin.ListSchedulerTasks)
	adminG.POST("/levels/reload", h.Admin.ReloadLevels)
}

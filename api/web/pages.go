// Package web serves the server-rendered HTML pages: levels, login, signup,
// profile and friends, with flash feedback after every form POST.
package web

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/physquest/server/api/usererr"
	"github.com/physquest/server/config"
	"github.com/physquest/server/game/account"
	"github.com/physquest/server/game/level"
	"github.com/physquest/server/game/progress"
	"github.com/physquest/server/game/social"
	mw "github.com/physquest/server/middleware"
	"github.com/physquest/server/model"
	"go.uber.org/zap"
)

const (
	gameBundlePrefix = "/pygame/build/web"
	pageOpTime       = 5 * time.Second
)

// Deps are the services the pages read and write.
type Deps struct {
	Accounts *account.Service
	Social   *social.Service
	Progress *progress.Service
	Catalog  *level.Catalog
	Sessions *mw.Sessions
	Flash    *FlashStore
}

// Pages holds the HTML handlers.
type Pages struct {
	accounts *account.Service
	social   *social.Service
	progress *progress.Service
	catalog  *level.Catalog
	sessions *mw.Sessions
	flash    *FlashStore
	secure   bool
	logger   *zap.Logger
}

func NewPages(d Deps, sec config.SecurityConfig, logger *zap.Logger) *Pages {
	return &Pages{
		accounts: d.Accounts,
		social:   d.Social,
		progress: d.Progress,
		catalog:  d.Catalog,
		sessions: d.Sessions,
		flash:    d.Flash,
		secure:   sec.CookieSecure,
		logger:   logger,
	}
}

// Templates parses the embedded page templates.
func Templates() (*template.Template, error) {
	return template.New("").ParseFS(assets, "templates/*.html")
}

// Register installs the templates and page routes on r. optional attaches
// the logged-in user; NoRoute is routed to NotFound.
func (p *Pages) Register(r *gin.Engine, optional gin.HandlerFunc) error {
	tmpl, err := Templates()
	if err != nil {
		return err
	}
	r.SetHTMLTemplate(tmpl)

	g := r.Group("/", optional)
	g.GET("", p.Home)
	g.GET("/levels", p.Levels)
	g.GET("/levels/:key", p.LevelOrTier)
	g.GET("/login", p.LoginForm)
	g.POST("/login", p.Login)
	g.GET("/signup", p.SignupForm)
	g.POST("/signup", p.Signup)
	g.POST("/logout", p.Logout)
	g.GET("/users/:username", p.UserPage)

	private := g.Group("", p.RequireLogin)
	private.GET("/profile", p.Profile)
	private.POST("/profile/icon", p.SetIcon)
	private.GET("/friends", p.Friends)
	private.POST("/friends/add", p.AddFriend)
	private.POST("/friends/remove", p.RemoveFriend)

	r.NoRoute(optional, p.NotFound)
	return nil
}

// RequireLogin sends anonymous visitors to the login page and back afterwards.
func (p *Pages) RequireLogin(c *gin.Context) {
	if mw.GetUserID(c) != 0 {
		c.Next()
		return
	}
	p.flash.Add(c, FlashInfo, "Please log in first.")
	c.Redirect(http.StatusFound, "/login?next="+url.QueryEscape(c.Request.URL.RequestURI()))
	c.Abort()
}

// NotFound renders the 404 page, or a JSON error under /api.
func (p *Pages) NotFound(c *gin.Context) {
	if strings.HasPrefix(c.Request.URL.Path, "/api/") {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	p.render(c, http.StatusNotFound, "404.html", "Not found", gin.H{})
}

func (p *Pages) Home(c *gin.Context) {
	data := gin.H{}
	if id := mw.GetUserID(c); id != 0 {
		if sum, err := p.progress.Summary(c.Request.Context(), id); err == nil {
			data["Summary"] = sum
		}
	}
	p.render(c, http.StatusOK, "home.html", "Home", data)
}

func (p *Pages) Levels(c *gin.Context) {
	extras := append(p.catalog.List("", level.KindMinigame), p.catalog.List("", level.KindCutscene)...)
	p.render(c, http.StatusOK, "levels.html", "Levels", gin.H{
		"GCSECount":   len(p.catalog.List(level.TierGCSE, level.KindLevel)),
		"ALevelCount": len(p.catalog.List(level.TierALevel, level.KindLevel)),
		"Extras":      extras,
		"Done":        p.done(c),
	})
}

// LevelOrTier serves /levels/gcse and /levels/alevel as tier lists and any
// other key as a level page.
func (p *Pages) LevelOrTier(c *gin.Context) {
	key := c.Param("key")
	switch level.Tier(key) {
	case level.TierGCSE:
		p.tier(c, level.TierGCSE, "GCSE levels")
		return
	case level.TierALevel:
		p.tier(c, level.TierALevel, "A-level levels")
		return
	}

	lvl, err := p.catalog.Get(key)
	if err != nil {
		p.render(c, http.StatusNotFound, "404.html", "Not found", gin.H{"Missing": key})
		return
	}
	p.render(c, http.StatusOK, "level.html", lvl.Title, gin.H{
		"Level":     lvl,
		"Completed": p.done(c)[lvl.Key],
		"GameURL":   GameURL(lvl),
	})
}

func (p *Pages) tier(c *gin.Context, tier level.Tier, heading string) {
	p.render(c, http.StatusOK, "tier.html", heading, gin.H{
		"Heading": heading,
		"Levels":  p.catalog.List(tier, level.KindLevel),
		"Done":    p.done(c),
	})
}

// GameURL is the address of the browser build that plays lvl.
func GameURL(lvl *level.Level) string {
	if lvl.Bundle == "" {
		return "/game_file"
	}
	return gameBundlePrefix + "/" + strings.Trim(lvl.Bundle, "/") + "/index.html"
}

// ---- Login / signup ----

type loginForm struct {
	Username string `form:"username" binding:"required"`
	Password string `form:"password" binding:"required"`
}

type signupForm struct {
	Username        string `form:"username" binding:"required"`
	Password        string `form:"password" binding:"required"`
	ConfirmPassword string `form:"confirm_password" binding:"required"`
}

func (p *Pages) LoginForm(c *gin.Context) {
	if mw.GetUserID(c) != 0 {
		c.Redirect(http.StatusFound, "/")
		return
	}
	p.render(c, http.StatusOK, "login.html", "Log in", gin.H{"Next": safeNext(c.Query("next"))})
}

func (p *Pages) Login(c *gin.Context) {
	next := safeNext(c.Query("next"))
	back := "/login"
	if next != "" {
		back += "?next=" + url.QueryEscape(next)
	}

	var form loginForm
	if err := c.ShouldBind(&form); err != nil {
		p.flash.Add(c, FlashError, usererr.Message(account.ErrInvalidCredentials))
		c.Redirect(http.StatusFound, back)
		return
	}
	ctx := mw.WithClientIP(c.Request.Context(), c.ClientIP())
	u, err := p.accounts.Authenticate(ctx, form.Username, form.Password, c.ClientIP())
	if err != nil {
		switch {
		case errors.Is(err, account.ErrInvalidCredentials), errors.Is(err, account.ErrBanned):
			p.flash.Add(c, FlashError, usererr.Message(err))
		default:
			p.logger.Error("login failed", zap.String("trace_id", mw.GetTraceID(c)), zap.Error(err))
			p.flash.Add(c, FlashError, usererr.Generic)
		}
		c.Redirect(http.StatusFound, back)
		return
	}

	token, err := p.sessions.Issue(ctx, u.ID)
	if err != nil {
		p.logger.Error("issue session", zap.Int64("user_id", u.ID), zap.Error(err))
		p.flash.Add(c, FlashError, usererr.Generic)
		c.Redirect(http.StatusFound, back)
		return
	}
	mw.SetSessionCookie(c, token, p.sessions.TTL(), p.secure)
	p.flash.Add(c, FlashSuccess, "Login successful!")
	if next == "" {
		next = "/"
	}
	c.Redirect(http.StatusFound, next)
}

func (p *Pages) SignupForm(c *gin.Context) {
	p.render(c, http.StatusOK, "signup.html", "Sign up", gin.H{})
}

func (p *Pages) Signup(c *gin.Context) {
	var form signupForm
	if err := c.ShouldBind(&form); err != nil {
		p.flash.Add(c, FlashError, "Please fill in every field.")
		c.Redirect(http.StatusFound, "/signup")
		return
	}
	_, err := p.accounts.Signup(c.Request.Context(), form.Username, form.Password, form.ConfirmPassword)
	if err != nil {
		switch {
		case errors.Is(err, account.ErrPasswordMismatch),
			errors.Is(err, account.ErrUsernameTaken),
			errors.Is(err, account.ErrInvalidUsername),
			errors.Is(err, account.ErrInvalidPassword),
			errors.Is(err, account.ErrSignupRejected):
			p.flash.Add(c, FlashError, usererr.Message(err))
		default:
			p.logger.Error("signup failed", zap.String("trace_id", mw.GetTraceID(c)), zap.Error(err))
			p.flash.Add(c, FlashError, usererr.Generic)
		}
		c.Redirect(http.StatusFound, "/signup")
		return
	}
	p.flash.Add(c, FlashSuccess, "Account created successfully! You can now log in.")
	c.Redirect(http.StatusFound, "/login")
}

func (p *Pages) Logout(c *gin.Context) {
	if token := mw.GetToken(c); token != "" {
		ctx, cancel := context.WithTimeout(c.Request.Context(), pageOpTime)
		defer cancel()
		if err := p.sessions.Revoke(ctx, token); err != nil {
			p.logger.Warn("revoke session", zap.Error(err))
		}
		p.accounts.Logout(ctx, mw.GetUserID(c))
	}
	mw.ClearSessionCookie(c, p.secure)
	p.flash.Add(c, FlashInfo, "You have been logged out.")
	c.Redirect(http.StatusFound, "/")
}

// safeNext keeps only same-site absolute paths.
func safeNext(next string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return ""
	}
	u, err := url.Parse(next)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return ""
	}
	return next
}

// ---- Profile ----

func (p *Pages) Profile(c *gin.Context) {
	ctx := c.Request.Context()
	id := mw.GetUserID(c)
	sum, err := p.progress.Summary(ctx, id)
	if err != nil {
		p.logger.Error("profile summary", zap.Int64("user_id", id), zap.Error(err))
		sum = &progress.Summary{}
	}
	p.render(c, http.StatusOK, "profile.html", "Profile", gin.H{
		"Summary": sum,
		"Icons":   p.accounts.Icons(),
	})
}

func (p *Pages) SetIcon(c *gin.Context) {
	err := p.accounts.SetIcon(c.Request.Context(), mw.GetUserID(c), c.PostForm("icon"))
	switch {
	case err == nil:
		p.flash.Add(c, FlashSuccess, "Profile icon updated.")
	case errors.Is(err, account.ErrUnknownIcon):
		p.flash.Add(c, FlashError, usererr.Message(err))
	default:
		p.logger.Error("set icon", zap.Int64("user_id", mw.GetUserID(c)), zap.Error(err))
		p.flash.Add(c, FlashError, usererr.Generic)
	}
	c.Redirect(http.StatusFound, "/profile")
}

// UserPage shows another player's public profile.
func (p *Pages) UserPage(c *gin.Context) {
	ctx := c.Request.Context()
	u, err := p.accounts.GetByUsername(ctx, c.Param("username"))
	if err != nil {
		p.render(c, http.StatusNotFound, "404.html", "Not found", gin.H{})
		return
	}
	sum, err := p.progress.Summary(ctx, u.ID)
	if err != nil {
		sum = &progress.Summary{}
	}
	data := gin.H{"Profile": u.Public(), "Summary": sum}
	if me := mw.GetUserID(c); me != 0 && me != u.ID {
		data["IsFriend"], _ = p.social.IsFriend(ctx, me, u.ID)
	}
	p.render(c, http.StatusOK, "user.html", u.Username, data)
}

// ---- Friends ----

func (p *Pages) Friends(c *gin.Context) {
	ctx := c.Request.Context()
	id := mw.GetUserID(c)
	friends, err := p.social.List(ctx, id)
	if err != nil {
		p.logger.Error("list friends", zap.Int64("user_id", id), zap.Error(err))
	}
	followers, err := p.social.Followers(ctx, id)
	if err != nil {
		p.logger.Error("list followers", zap.Int64("user_id", id), zap.Error(err))
	}

	data := gin.H{"Friends": friends, "Followers": followers}
	if q := strings.TrimSpace(c.Query("q")); q != "" {
		results, err := p.social.Search(ctx, id, q, 0)
		if err != nil {
			p.logger.Error("search users", zap.Int64("user_id", id), zap.Error(err))
		}
		data["Query"], data["Results"] = q, results
	}
	p.render(c, http.StatusOK, "friends.html", "Friends", data)
}

func (p *Pages) AddFriend(c *gin.Context) {
	_, err := p.social.Add(c.Request.Context(), mw.GetUserID(c), c.PostForm("username"))
	switch {
	case err == nil:
		p.flash.Add(c, FlashSuccess, "Friend added.")
	case errors.Is(err, social.ErrAlreadyFriends):
		p.flash.Add(c, FlashInfo, usererr.Message(err))
	case errors.Is(err, social.ErrUserNotFound), errors.Is(err, social.ErrSelf):
		p.flash.Add(c, FlashError, usererr.Message(err))
	default:
		p.logger.Error("add friend", zap.Int64("user_id", mw.GetUserID(c)), zap.Error(err))
		p.flash.Add(c, FlashError, usererr.Generic)
	}
	c.Redirect(http.StatusFound, "/friends")
}

func (p *Pages) RemoveFriend(c *gin.Context) {
	friendID, err := strconv.ParseInt(c.PostForm("friend_id"), 10, 64)
	if err != nil {
		p.flash.Add(c, FlashError, usererr.Message(account.ErrUserNotFound))
		c.Redirect(http.StatusFound, "/friends")
		return
	}
	err = p.social.Remove(c.Request.Context(), mw.GetUserID(c), friendID)
	switch {
	case err == nil:
		p.flash.Add(c, FlashSuccess, "Friend removed.")
	case errors.Is(err, social.ErrNotFriends):
		p.flash.Add(c, FlashInfo, usererr.Message(err))
	default:
		p.logger.Error("remove friend", zap.Int64("user_id", mw.GetUserID(c)), zap.Error(err))
		p.flash.Add(c, FlashError, usererr.Generic)
	}
	c.Redirect(http.StatusFound, "/friends")
}

// ---- Rendering ----

// render fills the fields every page's header uses and writes the template.
func (p *Pages) render(c *gin.Context, status int, name, title string, data gin.H) {
	data["Title"] = title
	data["User"] = p.currentUser(c)
	data["Flashes"] = p.flash.Pop(c)
	c.HTML(status, name, data)
}

func (p *Pages) currentUser(c *gin.Context) *model.User {
	id := mw.GetUserID(c)
	if id == 0 {
		return nil
	}
	u, err := p.accounts.Get(c.Request.Context(), id)
	if err != nil {
		return nil
	}
	return u
}

// done is the set of level keys the visitor has completed.
func (p *Pages) done(c *gin.Context) map[string]bool {
	id := mw.GetUserID(c)
	if id == 0 {
		return map[string]bool{}
	}
	keys, err := p.progress.CompletedKeys(c.Request.Context(), id)
	if err != nil {
		p.logger.Warn("completed keys", zap.Int64("user_id", id), zap.Error(err))
		return map[string]bool{}
	}
	return keys
}

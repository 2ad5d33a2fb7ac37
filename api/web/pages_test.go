package web_test

import (
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/physquest/server/api/web"
	"github.com/physquest/server/game/account"
	"github.com/physquest/server/game/grading"
	"github.com/physquest/server/game/level"
	"github.com/physquest/server/game/progress"
	"github.com/physquest/server/game/script"
	"github.com/physquest/server/game/social"
	mw "github.com/physquest/server/middleware"
	"github.com/physquest/server/model"
	"github.com/physquest/server/plugin/hook"
	"github.com/physquest/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type webEnv struct {
	srv      *httptest.Server
	accounts *account.Service
	social   *social.Service
}

func newWebEnv(t *testing.T) *webEnv {
	t.Helper()
	cfg := testutil.TestConfig()
	gameDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(gameDir, "index.html"), []byte("<canvas id=game></canvas>"), 0o644))
	cfg.Web.GameDir = gameDir

	db := testutil.SetupTestDB(t)
	c, _ := testutil.SetupTestCache(t)
	logger := testutil.Nop()
	hc := hook.NewHookCenter()
	cat := testutil.SetupCatalog(t)

	accounts := account.NewService(db, hc, cfg, logger)
	soc := social.NewService(db, hc, logger)
	grader := grading.NewGrader(script.NewEvaluator(cfg.Script, logger))
	sessions := mw.NewSessions(c, cfg.Security)
	pages := web.NewPages(web.Deps{
		Accounts: accounts,
		Social:   soc,
		Progress: progress.NewService(db, c, cat, grader, hc, logger),
		Catalog:  cat,
		Sessions: sessions,
		Flash:    web.NewFlashStore(c, false, logger),
	}, cfg.Security, logger)

	r := gin.New()
	web.MountStatic(r, cfg.Web)
	require.NoError(t, pages.Register(r, mw.OptionalAuth(sessions)))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &webEnv{srv: srv, accounts: accounts, social: soc}
}

// browser is an HTTP client with its own cookie jar that follows redirects.
type browser struct {
	t      *testing.T
	base   string
	client *http.Client
}

func (e *webEnv) browser(t *testing.T) *browser {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &browser{t: t, base: e.srv.URL, client: &http.Client{Jar: jar}}
}

func (b *browser) get(path string) (int, string) {
	b.t.Helper()
	resp, err := b.client.Get(b.base + path)
	require.NoError(b.t, err)
	return read(b.t, resp)
}

func (b *browser) post(path string, form url.Values) (int, string) {
	b.t.Helper()
	resp, err := b.client.PostForm(b.base+path, form)
	require.NoError(b.t, err)
	return read(b.t, resp)
}

// postNoFollow returns the redirect target of a form POST.
func (b *browser) postNoFollow(path string, form url.Values) string {
	b.t.Helper()
	c := *b.client
	c.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	resp, err := c.PostForm(b.base+path, form)
	require.NoError(b.t, err)
	defer resp.Body.Close()
	require.Equal(b.t, http.StatusFound, resp.StatusCode)
	return resp.Header.Get("Location")
}

func read(t *testing.T, resp *http.Response) (int, string) {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func signupForm(name, pw, confirm string) url.Values {
	return url.Values{"username": {name}, "password": {pw}, "confirm_password": {confirm}}
}

func loginForm(name, pw string) url.Values {
	return url.Values{"username": {name}, "password": {pw}}
}

func (b *browser) login(name string) {
	b.t.Helper()
	b.post("/signup", signupForm(name, "pass1234", "pass1234"))
	_, body := b.post("/login", loginForm(name, "pass1234"))
	require.Contains(b.t, body, "Login successful!")
}

func TestSignupThenLogin(t *testing.T) {
	e := newWebEnv(t)
	b := e.browser(t)

	code, body := b.post("/signup", signupForm("alice", "pass1234", "pass1234"))
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "Account created successfully! You can now log in.")
	assert.Contains(t, body, `action="/login"`)

	_, body = b.post("/login", loginForm("alice", "pass1234"))
	assert.Contains(t, body, "Login successful!")
	assert.Contains(t, body, "alice")
	assert.Contains(t, body, `action="/logout"`)
}

func TestSignup_Errors(t *testing.T) {
	e := newWebEnv(t)
	b := e.browser(t)

	_, body := b.post("/signup", signupForm("alice", "pass1234", "pass9999"))
	assert.Contains(t, body, "Passwords do not match.")

	b.post("/signup", signupForm("alice", "pass1234", "pass1234"))
	_, body = b.post("/signup", signupForm("alice", "other123", "other123"))
	assert.Contains(t, body, "Username already taken. Please choose another.")
	assert.Contains(t, body, `action="/signup"`)
}

func TestLogin_Errors(t *testing.T) {
	e := newWebEnv(t)
	b := e.browser(t)
	b.post("/signup", signupForm("alice", "pass1234", "pass1234"))

	_, body := b.post("/login", loginForm("alice", "wrong"))
	assert.Contains(t, body, "Invalid username or password.")
	_, body = b.post("/login", loginForm("nobody", "pass1234"))
	assert.Contains(t, body, "Invalid username or password.")

	u, err := e.accounts.GetByUsername(context.Background(), "alice")
	require.NoError(t, err)
	_, err = e.accounts.SetStatus(context.Background(), u.ID, model.UserStatusBanned)
	require.NoError(t, err)
	_, body = b.post("/login", loginForm("alice", "pass1234"))
	assert.Contains(t, body, "This account has been disabled.")
}

func TestFlash_ShownOnce(t *testing.T) {
	e := newWebEnv(t)
	b := e.browser(t)

	_, body := b.post("/signup", signupForm("alice", "pass1234", "pass9999"))
	assert.Contains(t, body, "Passwords do not match.")
	_, body = b.get("/signup")
	assert.NotContains(t, body, "Passwords do not match.")
}

func TestLogout(t *testing.T) {
	e := newWebEnv(t)
	b := e.browser(t)
	b.login("alice")

	_, body := b.post("/logout", nil)
	assert.Contains(t, body, "You have been logged out.")
	assert.Contains(t, body, `href="/login"`)

	_, body = b.get("/profile")
	assert.Contains(t, body, "Please log in first.")
}

func TestRequireLogin_RedirectsWithNext(t *testing.T) {
	e := newWebEnv(t)
	b := e.browser(t)

	code, body := b.get("/friends")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "Please log in first.")
	assert.Contains(t, body, "next=")

	b.post("/signup", signupForm("alice", "pass1234", "pass1234"))
	loc := b.postNoFollow("/login?next=%2Ffriends", loginForm("alice", "pass1234"))
	assert.Equal(t, "/friends", loc)
}

func TestLogin_RejectsForeignNext(t *testing.T) {
	e := newWebEnv(t)
	b := e.browser(t)
	b.post("/signup", signupForm("alice", "pass1234", "pass1234"))

	loc := b.postNoFollow("/login?next="+url.QueryEscape("//evil.example/x"), loginForm("alice", "pass1234"))
	assert.Equal(t, "/", loc)
}

func TestLevelPages(t *testing.T) {
	e := newWebEnv(t)
	b := e.browser(t)

	code, body := b.get("/levels")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `href="/levels/gcse"`)

	_, body = b.get("/levels/gcse")
	assert.Contains(t, body, "Circuit Reassembly")
	assert.Contains(t, body, `href="/levels/gcse12"`)
	assert.NotContains(t, body, "alevel1")

	code, body = b.get("/levels/gcse1")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "/pygame/build/web/gcse/gcse1/index.html")
	assert.Contains(t, body, "next=/levels/gcse1")
}

func TestNotFound(t *testing.T) {
	e := newWebEnv(t)
	b := e.browser(t)

	code, body := b.get("/levels/gcse99")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Contains(t, body, "gcse99")

	code, body = b.get("/no/such/page")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Contains(t, body, "404")

	code, body = b.get("/api/nope")
	assert.Equal(t, http.StatusNotFound, code)
	assert.JSONEq(t, `{"error":"not found"}`, body)
}

func TestProfileIcon(t *testing.T) {
	e := newWebEnv(t)
	b := e.browser(t)
	b.login("alice")

	_, body := b.get("/profile")
	assert.Contains(t, body, `value="rocket.png"`)

	_, body = b.post("/profile/icon", url.Values{"icon": {"rocket.png"}})
	assert.Contains(t, body, "Profile icon updated.")
	assert.Contains(t, body, "/static/icons/rocket.png")

	_, body = b.post("/profile/icon", url.Values{"icon": {"../../etc/passwd"}})
	assert.Contains(t, body, "Unknown profile icon.")
}

func TestFriendsFlow(t *testing.T) {
	e := newWebEnv(t)
	bob := e.browser(t)
	bob.login("bob")
	b := e.browser(t)
	b.login("alice")

	_, before := b.get("/friends")
	assert.Contains(t, before, "You have not added anyone yet.")

	_, body := b.post("/friends/add", url.Values{"username": {"bob"}})
	assert.Contains(t, body, "Friend added.")
	assert.Contains(t, body, `href="/users/bob"`)

	_, body = b.post("/friends/add", url.Values{"username": {"bob"}})
	assert.Contains(t, body, "Already in your friends list.")

	_, body = b.post("/friends/add", url.Values{"username": {"ghost"}})
	assert.Contains(t, body, "User not found.")

	_, body = b.post("/friends/add", url.Values{"username": {"alice"}})
	assert.Contains(t, body, "You cannot add yourself.")

	// bob sees alice as someone to add back
	_, body = bob.get("/friends")
	assert.Contains(t, body, "Added you")
	assert.Contains(t, body, `value="alice"`)

	bobUser, err := e.accounts.GetByUsername(context.Background(), "bob")
	require.NoError(t, err)
	_, body = b.post("/friends/remove", url.Values{"friend_id": {strconv.FormatInt(bobUser.ID, 10)}})
	assert.Contains(t, body, "Friend removed.")
	assert.Contains(t, body, "You have not added anyone yet.")
}

func TestFriendsSearch(t *testing.T) {
	e := newWebEnv(t)
	e.browser(t).login("bobby")
	b := e.browser(t)
	b.login("alice")

	_, body := b.get("/friends?q=bob")
	assert.Contains(t, body, `href="/users/bobby"`)

	_, body = b.get("/friends?q=zzz")
	assert.Contains(t, body, "No players found.")
}

func TestUserPage(t *testing.T) {
	e := newWebEnv(t)
	e.browser(t).login("bob")
	b := e.browser(t)
	b.login("alice")

	_, body := b.get("/users/bob")
	assert.Contains(t, body, "Add friend")
	b.post("/friends/add", url.Values{"username": {"bob"}})
	_, body = b.get("/users/bob")
	assert.Contains(t, body, "Remove friend")

	code, _ := b.get("/users/ghost")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestStaticAndGameFile(t *testing.T) {
	e := newWebEnv(t)
	b := e.browser(t)

	code, body := b.get("/static/style.css")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, ".flash")

	code, _ = b.get("/static/icons/default.png")
	assert.Equal(t, http.StatusOK, code)

	code, body = b.get("/game_file")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "canvas")
}

func TestGameURL(t *testing.T) {
	assert.Equal(t, "/game_file", web.GameURL(&level.Level{}))
	assert.Equal(t, "/pygame/build/web/alevel/alevel2/index.html", web.GameURL(&level.Level{Bundle: "alevel/alevel2/"}))
}

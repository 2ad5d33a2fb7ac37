package rest_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/physquest/server/api/rest"
	"github.com/physquest/server/cache"
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
	"github.com/physquest/server/testutil"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testAdminKey = "admin-secret"

type testEnv struct {
	r        *gin.Engine
	db       *gorm.DB
	cache    cache.Cache
	pubsub   cache.PubSub
	accounts *account.Service
	sessions *mw.Sessions
	social   *social.Service
	progress *progress.Service
	presence *presence.Manager
	catalog  *level.Catalog
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := testutil.TestConfig()
	db := testutil.SetupTestDB(t)
	c, ps := testutil.SetupTestCache(t)
	logger := testutil.Nop()
	hc := hook.NewHookCenter()
	cat := testutil.SetupCatalog(t)

	e := &testEnv{db: db, cache: c, pubsub: ps, catalog: cat}
	e.accounts = account.NewService(db, hc, cfg, logger)
	e.sessions = mw.NewSessions(c, cfg.Security)
	e.social = social.NewService(db, hc, logger)
	e.presence = presence.NewManager(c, logger)
	e.social.SetPresence(e.presence)
	grader := grading.NewGrader(script.NewEvaluator(cfg.Script, logger))
	e.progress = progress.NewService(db, c, cat, grader, hc, logger)
	pub := activity.NewPublisher(ps, e.social, logger)
	pub.RegisterHooks(hc)
	sched := scheduler.New(logger)
	t.Cleanup(sched.Stop)

	h := rest.Handlers{
		Auth:    rest.NewAuthHandler(e.accounts, e.sessions, logger),
		Levels:  rest.NewLevelHandler(cat, e.progress, logger),
		Profile: rest.NewProfileHandler(e.accounts, e.progress, e.social, logger),
		Social:  rest.NewSocialHandler(e.social, logger),
		Ranking: rest.NewRankingHandler(e.progress, e.social, cfg.Ranking.Top, logger),
		Admin: rest.NewAdminHandler(rest.AdminDeps{
			Accounts:  e.accounts,
			Sessions:  e.sessions,
			Presence:  e.presence,
			Progress:  e.progress,
			Publisher: pub,
			Catalog:   cat,
			Scheduler: sched,
		}, logger),
	}
	e.r = gin.New()
	rest.Mount(e.r.Group("/api"), h, mw.Auth(e.sessions), mw.OptionalAuth(e.sessions), rest.AdminAuth(testAdminKey))
	e.r.GET("/health", rest.Health(db, c))
	return e
}

func (e *testEnv) do(method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	var rd *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	return w
}

func (e *testEnv) postJSON(path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	return e.do(http.MethodPost, path, body, headers...)
}

func (e *testEnv) get(path string, headers ...string) *httptest.ResponseRecorder {
	return e.do(http.MethodGet, path, nil, headers...)
}

// signup registers username with password "pass1234" and returns a bearer
// header pair for it.
func (e *testEnv) signup(t *testing.T, username string) (int64, []string) {
	t.Helper()
	w := e.postJSON("/api/auth/signup", map[string]string{
		"username": username, "password": "pass1234", "confirm_password": "pass1234",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = e.postJSON("/api/auth/login", map[string]string{"username": username, "password": "pass1234"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Token string `json:"token"`
		User  struct {
			ID int64 `json:"id"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.User.ID, []string{"Authorization", "Bearer " + resp.Token}
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m), w.Body.String())
	return m
}

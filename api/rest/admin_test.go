package rest_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/physquest/server/api/rest"
	"github.com/physquest/server/game/activity"
	"github.com/physquest/server/game/progress"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var admin = []string{"X-Admin-Key", testAdminKey}

func TestAdminAuth_NoKey_Disabled(t *testing.T) {
	r := gin.New()
	r.Use(rest.AdminAuth(""))
	r.GET("/api/admin/metrics", func(c *gin.Context) { c.Status(http.StatusOK) })
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/admin/metrics", nil)
	req.Header.Set("X-Admin-Key", "")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAdminAuth_WrongKey(t *testing.T) {
	e := newEnv(t)
	assert.Equal(t, http.StatusUnauthorized, e.get("/api/admin/metrics").Code)
	assert.Equal(t, http.StatusUnauthorized, e.get("/api/admin/metrics", "X-Admin-Key", "wrong").Code)
}

func TestAdmin_Metrics(t *testing.T) {
	e := newEnv(t)
	e.signup(t, "alice")
	w := e.get("/api/admin/metrics", admin...)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.EqualValues(t, 1, resp["users"])
	assert.EqualValues(t, 0, resp["online_users"])
	assert.EqualValues(t, e.catalog.Len(), resp["levels"])
}

func TestAdmin_BanRevokesSessions(t *testing.T) {
	e := newEnv(t)
	id, auth := e.signup(t, "mallory")
	path := "/api/admin/users/" + strconv.FormatInt(id, 10) + "/ban"

	w := e.postJSON(path, map[string]bool{"ban": true}, admin...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusUnauthorized, e.get("/api/profile", auth...).Code)

	w = e.postJSON("/api/auth/login", map[string]string{"username": "mallory", "password": "pass1234"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	require.Equal(t, http.StatusOK, e.postJSON(path, map[string]bool{"ban": false}, admin...).Code)
	w = e.postJSON("/api/auth/login", map[string]string{"username": "mallory", "password": "pass1234"})
	assert.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, http.StatusNotFound, e.postJSON("/api/admin/users/9999/ban", map[string]bool{"ban": true}, admin...).Code)
	assert.Equal(t, http.StatusBadRequest, e.postJSON("/api/admin/users/x/ban", nil, admin...).Code)
}

func TestAdmin_Announce(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ch, unsub, err := e.pubsub.Subscribe(ctx, activity.AnnounceChannel)
	require.NoError(t, err)
	defer unsub()

	w := e.postJSON("/api/admin/announce", map[string]string{"message": "Maintenance at noon"}, admin...)
	require.Equal(t, http.StatusOK, w.Code)

	select {
	case msg := <-ch:
		var ev activity.Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
		assert.Equal(t, activity.TypeAnnounce, ev.Type)
		assert.Equal(t, "Maintenance at noon", ev.Message)
	case <-ctx.Done():
		t.Fatal("announcement not published")
	}

	assert.Equal(t, http.StatusBadRequest, e.postJSON("/api/admin/announce", map[string]string{}, admin...).Code)
}

func TestAdmin_RefreshRankingAndScheduler(t *testing.T) {
	e := newEnv(t)
	_, alice := e.signup(t, "alice")
	completeLevel(t, e, "gcse1", alice)
	require.NoError(t, e.cache.Del(context.Background(), progress.RankingKey))

	w := e.postJSON("/api/admin/ranking/refresh", nil, admin...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["refreshed"])

	w = e.get("/api/admin/scheduler", admin...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotNil(t, decode(t, w)["tasks"])
}

func TestAdmin_ReloadLevels(t *testing.T) {
	e := newEnv(t)
	w := e.postJSON("/api/admin/levels/reload", nil, admin...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, e.catalog.Len(), decode(t, w)["levels"])
}

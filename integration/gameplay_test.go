package integration

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/physquest/server/app"
	"github.com/physquest/server/config"
	"github.com/physquest/server/game/level"
	"github.com/physquest/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type rankingBody struct {
	Ranking []struct {
		Rank     int    `json:"rank"`
		Username string `json:"username"`
		Score    int    `json:"score"`
	} `json:"ranking"`
}

func TestLevelListMatchesCatalog(t *testing.T) {
	ts := NewTestServer(t)
	for _, tier := range []level.Tier{level.TierGCSE, level.TierALevel} {
		var body struct {
			Levels []struct {
				Key string `json:"key"`
			} `json:"levels"`
			Count int `json:"count"`
		}
		ReadJSON(t, ts.Get(t, "/api/levels?tier="+string(tier)+"&kind=level", ""), &body)
		want := ts.App.Catalog.List(tier, level.KindLevel)
		require.Equal(t, len(want), body.Count)
		for i, l := range want {
			assert.Equal(t, l.Key, body.Levels[i].Key)
		}
	}
}

func TestPlayLevelUpdatesRanking(t *testing.T) {
	ts := NewTestServer(t)
	player, token, _ := ts.NewUser(t, "player")
	follower, followerToken, _ := ts.NewUser(t, "fan")
	require.Equal(t, http.StatusCreated, Drain(ts.PostJSON(t, "/api/friends", map[string]string{"username": player}, followerToken)))
	fanWS := ts.ConnectWS(t, followerToken)
	fanWS.Ping()

	// A wrong circuit first, then 270 Ω + 330 Ω.
	var out map[string]interface{}
	ReadJSON(t, ts.PostJSON(t, "/api/levels/gcse1/stages/resistors/submit", map[string]interface{}{"picks": []int{2, 4}}, token), &out)
	assert.Equal(t, false, out["correct"])
	ReadJSON(t, ts.PostJSON(t, "/api/levels/gcse1/stages/resistors/submit", map[string]interface{}{"picks": []int{0, 1}}, token), &out)
	assert.Equal(t, true, out["correct"])

	lvl, err := ts.App.Catalog.Get("gcse1")
	require.NoError(t, err)
	ReadJSON(t, ts.PostJSON(t, "/api/levels/gcse1/complete", map[string]interface{}{"event": lvl.CompletionEvent}, token), &out)
	assert.Equal(t, true, out["completed"])
	score := out["score"].(float64)
	assert.Greater(t, score, 0.0)

	pkt := fanWS.RecvType("activity", 5*time.Second)
	p := PayloadMap(t, pkt)
	assert.Equal(t, "level_complete", p["type"])
	assert.Equal(t, "gcse1", p["level"])

	var rb rankingBody
	ReadJSON(t, ts.Get(t, "/api/ranking?limit=10", ""), &rb)
	require.Len(t, rb.Ranking, 1)
	assert.Equal(t, player, rb.Ranking[0].Username)
	assert.EqualValues(t, score, rb.Ranking[0].Score)

	// Completing again does not count twice, before or after a rebuild.
	ReadJSON(t, ts.PostJSON(t, "/api/levels/gcse1/complete", map[string]interface{}{"event": lvl.CompletionEvent}, token), &out)
	assert.Equal(t, false, out["just_completed"])
	require.Equal(t, http.StatusOK, Drain(ts.Admin(t, http.MethodPost, "/api/admin/ranking/refresh", nil)))
	ReadJSON(t, ts.Get(t, "/api/ranking?limit=10", ""), &rb)
	require.Len(t, rb.Ranking, 1)
	assert.EqualValues(t, score, rb.Ranking[0].Score)

	// Friends ranking includes the caller and whoever they added.
	ReadJSON(t, ts.Get(t, "/api/ranking/friends", followerToken), &rb)
	var names []string
	for _, r := range rb.Ranking {
		names = append(names, r.Username)
	}
	assert.ElementsMatch(t, []string{player, follower}, names)

	var progress struct {
		Summary struct {
			GCSE       int `json:"gcse"`
			TotalScore int `json:"total_score"`
		} `json:"summary"`
	}
	ReadJSON(t, ts.Get(t, "/api/progress", token), &progress)
	assert.Equal(t, 1, progress.Summary.GCSE)
	assert.EqualValues(t, score, progress.Summary.TotalScore)
}

func TestAnnouncementReachesSSEAndWS(t *testing.T) {
	ts := NewTestServer(t)
	_, token, _ := ts.NewUser(t, "listener")
	stream := ts.ConnectSSE(t, token)
	ws := ts.ConnectWS(t, token)
	ws.Ping()

	resp := ts.Admin(t, http.MethodPost, "/api/admin/announce", map[string]string{"message": "Maintenance at noon."})
	require.Equal(t, http.StatusOK, Drain(resp))

	ev := stream.Next(t, 5*time.Second)
	assert.Equal(t, "announce", ev.Name)
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(ev.Data), &payload))
	assert.Equal(t, "Maintenance at noon.", payload["message"])

	pkt := ws.RecvType("announce", 5*time.Second)
	assert.Equal(t, "Maintenance at noon.", PayloadMap(t, pkt)["message"])
}

func TestAdminRequiresKey(t *testing.T) {
	ts := NewTestServer(t)
	assert.Equal(t, http.StatusUnauthorized, Drain(ts.Get(t, "/api/admin/metrics", "")))

	var metrics map[string]interface{}
	ReadJSON(t, ts.Admin(t, http.MethodGet, "/api/admin/metrics", nil), &metrics)
	assert.EqualValues(t, ts.App.Catalog.Len(), metrics["levels"])
	assert.Contains(t, metrics["scheduler_tasks"], "presence_sweep")
}

func TestLevelPagesAndNotFound(t *testing.T) {
	ts := NewTestServer(t)
	b := ts.Browser(t)

	code, body := b.Get("/levels/alevel")
	assert.Equal(t, http.StatusOK, code)
	for _, l := range ts.App.Catalog.List(level.TierALevel, level.KindLevel) {
		assert.Contains(t, body, `href="/levels/`+l.Key+`"`)
	}

	code, _ = b.Get("/levels/gcse1")
	assert.Equal(t, http.StatusOK, code)

	code, body = b.Get("/levels/does_not_exist")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Contains(t, body, "404")

	code, _ = b.Get("/game_file")
	assert.Equal(t, http.StatusOK, code)

	assert.Equal(t, http.StatusOK, Drain(ts.Get(t, "/health", "")))
}

const formulaLevel = `
levels:
  - key: torque1
    tier: alevel
    kind: level
    number: 1
    title: Torque
    completion_event: level_complete_torque1
    points: 10
    stages:
      - {id: spin, kind: numeric, answer_expr: "N * 3", vars: {N: 2}, unit: Nm}
`

func TestBrokenFormulaRejectedOnLoadAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "levels.yaml")
	broken := strings.Replace(formulaLevel, "N * 3", "N *", 1)

	// A broken catalog stops the app from starting.
	require.NoError(t, os.WriteFile(path, []byte(broken), 0o644))
	cfg := testutil.TestConfig()
	cfg.Levels.Dir = dir
	c, ps := testutil.SetupTestCache(t)
	_, err := app.New(cfg, testutil.SetupTestDB(t), c, ps, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "answer_expr")

	// A broken edit is refused by reload and the running catalog keeps working.
	require.NoError(t, os.WriteFile(path, []byte(formulaLevel), 0o644))
	ts := NewTestServer(t, func(cfg *config.Config) { cfg.Levels.Dir = dir })
	_, token, _ := ts.NewUser(t, "torque")

	require.NoError(t, os.WriteFile(path, []byte(broken), 0o644))
	resp := ts.Admin(t, http.MethodPost, "/api/admin/levels/reload", nil)
	var body map[string]interface{}
	ReadJSON(t, resp, &body)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, body["error"], "answer_expr")

	var out map[string]interface{}
	resp = ts.PostJSON(t, "/api/levels/torque1/stages/spin/submit", map[string]string{"answer": "6 nm"}, token)
	ReadJSON(t, resp, &out)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, out["correct"])
}

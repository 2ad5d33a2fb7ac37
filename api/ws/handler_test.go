package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/physquest/server/api/ws"
	"github.com/physquest/server/game/account"
	"github.com/physquest/server/game/activity"
	"github.com/physquest/server/game/presence"
	"github.com/physquest/server/game/social"
	mw "github.com/physquest/server/middleware"
	"github.com/physquest/server/plugin/hook"
	"github.com/physquest/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type wsEnv struct {
	srv      *httptest.Server
	sessions *mw.Sessions
	accounts *account.Service
	social   *social.Service
	pm       *presence.Manager
	pub      *activity.Publisher
}

func newWSEnv(t *testing.T) *wsEnv {
	t.Helper()
	cfg := testutil.TestConfig()
	db := testutil.SetupTestDB(t)
	c, ps := testutil.SetupTestCache(t)
	logger := testutil.Nop()
	hc := hook.NewHookCenter()

	e := &wsEnv{
		sessions: mw.NewSessions(c, cfg.Security),
		accounts: account.NewService(db, hc, cfg, logger),
		social:   social.NewService(db, hc, logger),
		pm:       presence.NewManager(c, logger),
	}
	e.social.SetPresence(e.pm)
	e.pub = activity.NewPublisher(ps, e.social, logger)

	router := ws.NewRouter(logger)
	ws.NewPresenceHandlers(e.pm, e.social, logger).RegisterHandlers(router)
	h := ws.NewHandler(ws.Deps{
		Sessions:  e.sessions,
		Accounts:  e.accounts,
		Presence:  e.pm,
		PubSub:    ps,
		Publisher: e.pub,
	}, cfg.Security, router, logger)

	r := gin.New()
	r.GET("/ws", h.ServeWS)
	e.srv = httptest.NewServer(r)
	t.Cleanup(e.srv.Close)
	return e
}

func (e *wsEnv) user(t *testing.T, name string) (int64, string) {
	t.Helper()
	ctx := context.Background()
	u, err := e.accounts.Signup(ctx, name, "pass1234", "pass1234")
	require.NoError(t, err)
	token, err := e.sessions.Issue(ctx, u.ID)
	require.NoError(t, err)
	return u.ID, token
}

type client struct {
	t    *testing.T
	conn *websocket.Conn
	seq  uint64
}

func (e *wsEnv) dial(t *testing.T, token string) *client {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	c := &client{t: t, conn: conn}
	// A ping round trip means the server finished setting up the session.
	c.send("ping", map[string]int64{"ts": 1})
	c.waitFor("pong")
	return c
}

func (c *client) send(typ string, payload interface{}) {
	c.t.Helper()
	c.seq++
	raw, _ := json.Marshal(payload)
	data, _ := json.Marshal(presence.Packet{Seq: c.seq, Type: typ, Payload: raw})
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, data))
}

// waitFor reads packets until one of type typ arrives.
func (c *client) waitFor(typ string) json.RawMessage {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := c.conn.ReadMessage()
		require.NoError(c.t, err, "waiting for %s", typ)
		var pkt presence.Packet
		require.NoError(c.t, json.Unmarshal(data, &pkt))
		if pkt.Type == typ {
			return pkt.Payload
		}
	}
}

func TestServeWS_Unauthorized(t *testing.T) {
	e := newWSEnv(t)
	for _, q := range []string{"", "?token=bogus"} {
		resp, err := http.Get(e.srv.URL + "/ws" + q)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
}

func TestServeWS_PresenceFlow(t *testing.T) {
	e := newWSEnv(t)
	aliceID, aliceToken := e.user(t, "alice")
	_, bobToken := e.user(t, "bob")
	_, err := e.social.Add(context.Background(), mustID(t, e, "bob"), "alice")
	require.NoError(t, err)

	bob := e.dial(t, bobToken)
	alice := e.dial(t, aliceToken)

	var ev activity.Event
	require.NoError(t, json.Unmarshal(bob.waitFor(activity.TypeFriendOnline), &ev))
	assert.Equal(t, aliceID, ev.UserID)
	assert.Equal(t, "alice is online.", ev.Message)

	bob.send("presence_query", map[string][]int64{"user_ids": {aliceID, 9999}})
	var online struct {
		Online []int64 `json:"online"`
	}
	require.NoError(t, json.Unmarshal(bob.waitFor("presence"), &online))
	assert.Equal(t, []int64{aliceID}, online.Online)

	bob.send("friends_online", nil)
	var friends struct {
		Friends []social.Friend `json:"friends"`
	}
	require.NoError(t, json.Unmarshal(bob.waitFor("friends_online"), &friends))
	require.Len(t, friends.Friends, 1)
	assert.Equal(t, "alice", friends.Friends[0].Username)

	require.NoError(t, alice.conn.Close())
	require.NoError(t, json.Unmarshal(bob.waitFor(activity.TypeFriendOffline), &ev))
	assert.Equal(t, "alice went offline.", ev.Message)
	assert.False(t, e.pm.IsOnline(aliceID))
}

func TestServeWS_ForwardsActivityAndAnnounce(t *testing.T) {
	e := newWSEnv(t)
	aliceID, aliceToken := e.user(t, "alice")
	alice := e.dial(t, aliceToken)

	e.pub.FriendAdded(context.Background(), &hook.FriendEvent{UserID: 99, Username: "zed", FriendID: aliceID})
	var ev activity.Event
	require.NoError(t, json.Unmarshal(alice.waitFor("activity"), &ev))
	assert.Equal(t, "zed added you as a friend.", ev.Message)

	require.NoError(t, e.pub.Announce(context.Background(), "Welcome"))
	require.NoError(t, json.Unmarshal(alice.waitFor("announce"), &ev))
	assert.Equal(t, "Welcome", ev.Message)
}

func mustID(t *testing.T, e *wsEnv, name string) int64 {
	t.Helper()
	u, err := e.accounts.GetByUsername(context.Background(), name)
	require.NoError(t, err)
	return u.ID
}

package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/physquest/server/cache"
	"github.com/physquest/server/config"
	"github.com/physquest/server/game/account"
	"github.com/physquest/server/game/activity"
	"github.com/physquest/server/game/presence"
	mw "github.com/physquest/server/middleware"
	"go.uber.org/zap"
)

const maxMessageSize = 8 << 10

// Handler is the Gin handler for GET /ws.
type Handler struct {
	sessions  *mw.Sessions
	accounts  *account.Service
	pm        *presence.Manager
	pubsub    cache.PubSub
	publisher *activity.Publisher
	router    *Router
	logger    *zap.Logger
	upgrader  websocket.Upgrader
}

// Deps groups the services a WebSocket connection uses.
type Deps struct {
	Sessions  *mw.Sessions
	Accounts  *account.Service
	Presence  *presence.Manager
	PubSub    cache.PubSub
	Publisher *activity.Publisher
}

// NewHandler creates a new WebSocket Handler.
// sec.AllowedOrigins controls which WebSocket origins are accepted.
// An empty slice permits all origins (development only).
func NewHandler(d Deps, sec config.SecurityConfig, router *Router, logger *zap.Logger) *Handler {
	h := &Handler{
		sessions:  d.Sessions,
		accounts:  d.Accounts,
		pm:        d.Presence,
		pubsub:    d.PubSub,
		publisher: d.Publisher,
		router:    router,
		logger:    logger,
	}
	allowed := sec.AllowedOrigins
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true // dev mode: allow all
			}
			origin := r.Header.Get("Origin")
			for _, o := range allowed {
				if o == origin {
					return true
				}
			}
			return false
		},
	}
	return h
}

// ServeWS handles GET /ws?token=<jwt>. The session cookie works too.
func (h *Handler) ServeWS(c *gin.Context) {
	tokenStr := c.Query("token")
	if tokenStr == "" {
		tokenStr = mw.TokenFromRequest(c)
	}
	if tokenStr == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	userID, err := h.sessions.Resolve(c.Request.Context(), tokenStr)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
		return
	}
	user, err := h.accounts.Get(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(maxMessageSize)

	sess := presence.NewSession(user.ID, user.Username, conn, h.logger)
	subCtx, cancel := context.WithCancel(context.Background())
	msgs, unsub, err := h.pubsub.Subscribe(subCtx, activity.Channel(user.ID), activity.AnnounceChannel)
	if err != nil {
		cancel()
		h.logger.Error("ws subscribe failed", zap.Int64("user_id", user.ID), zap.Error(err))
		sess.Close()
		return
	}
	go func() {
		<-sess.Done()
		unsub()
		cancel()
	}()
	go h.forward(sess, msgs)

	if h.pm.Register(sess) {
		h.publisher.PresenceChanged(c.Request.Context(), user.ID, user.Username, true)
	}

	// Blocks until the connection closes.
	h.readPump(sess, conn)
}

// readPump reads messages from the WebSocket connection and dispatches them.
func (h *Handler) readPump(s *presence.Session, conn *websocket.Conn) {
	defer h.handleDisconnect(s)

	s.ExtendReadDeadline()
	conn.SetPongHandler(func(string) error {
		s.ExtendReadDeadline()
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived) {
				h.logger.Warn("ws unexpected close",
					zap.Int64("user_id", s.UserID),
					zap.Error(err))
			}
			return
		}
		// Reset read deadline on any message (heartbeat or otherwise).
		s.ExtendReadDeadline()
		h.router.Dispatch(s, raw)
	}
}

// forward relays the user's activity feed and global announcements to the
// socket until the subscription ends.
func (h *Handler) forward(s *presence.Session, msgs <-chan *cache.Message) {
	for msg := range msgs {
		var ev activity.Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			continue
		}
		typ := "activity"
		switch ev.Type {
		case activity.TypeAnnounce, activity.TypeFriendOnline, activity.TypeFriendOffline:
			typ = ev.Type
		}
		s.Send(&presence.Packet{Type: typ, Payload: json.RawMessage(msg.Payload)})
	}
}

// handleDisconnect cleans up the session after the connection closes.
func (h *Handler) handleDisconnect(s *presence.Session) {
	s.Close()
	if h.pm.Unregister(s) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		h.publisher.PresenceChanged(ctx, s.UserID, s.Username, false)
	}
	h.logger.Info("user disconnected", zap.Int64("user_id", s.UserID))
}

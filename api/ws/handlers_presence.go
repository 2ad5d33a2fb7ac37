package ws

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/physquest/server/game/presence"
	"github.com/physquest/server/game/social"
	"go.uber.org/zap"
)

const maxPresenceQuery = 200

// PresenceHandlers answers heartbeat and who-is-online queries.
type PresenceHandlers struct {
	pm     *presence.Manager
	social *social.Service
	logger *zap.Logger
}

// NewPresenceHandlers creates a new PresenceHandlers.
func NewPresenceHandlers(pm *presence.Manager, soc *social.Service, logger *zap.Logger) *PresenceHandlers {
	return &PresenceHandlers{pm: pm, social: soc, logger: logger}
}

// RegisterHandlers registers the presence handlers on the given Router.
func (ph *PresenceHandlers) RegisterHandlers(r *Router) {
	r.On("ping", ph.HandlePing)
	r.On("presence_query", ph.HandlePresenceQuery)
	r.On("friends_online", ph.HandleFriendsOnline)
}

type pingPayload struct {
	TS int64 `json:"ts"`
}

// HandlePing responds to client heartbeat pings.
func (ph *PresenceHandlers) HandlePing(_ context.Context, s *presence.Session, raw json.RawMessage) error {
	var p pingPayload
	_ = json.Unmarshal(raw, &p)
	s.Send(presence.NewPacket("pong", map[string]int64{
		"ts":        p.TS,
		"server_ts": time.Now().UnixMilli(),
	}))
	return nil
}

type presenceQuery struct {
	UserIDs []int64 `json:"user_ids"`
}

// HandlePresenceQuery reports which of the given users are online.
func (ph *PresenceHandlers) HandlePresenceQuery(_ context.Context, s *presence.Session, raw json.RawMessage) error {
	var q presenceQuery
	if err := json.Unmarshal(raw, &q); err != nil {
		return errors.New("invalid presence_query payload")
	}
	if len(q.UserIDs) > maxPresenceQuery {
		q.UserIDs = q.UserIDs[:maxPresenceQuery]
	}
	s.Send(presence.NewPacket("presence", map[string][]int64{"online": ph.pm.Online(q.UserIDs)}))
	return nil
}

// HandleFriendsOnline lists the caller's friends that are connected.
func (ph *PresenceHandlers) HandleFriendsOnline(ctx context.Context, s *presence.Session, _ json.RawMessage) error {
	friends, err := ph.social.List(ctx, s.UserID)
	if err != nil {
		return errors.New("friend list unavailable")
	}
	online := make([]social.Friend, 0, len(friends))
	for _, f := range friends {
		if f.Online {
			online = append(online, f)
		}
	}
	s.Send(presence.NewPacket("friends_online", map[string]interface{}{"friends": online}))
	return nil
}

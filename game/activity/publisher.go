// Package activity fans social and progress events out to interested users
// over pub/sub. The SSE stream and WebSocket sessions subscribe to them.
package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/physquest/server/cache"
	"github.com/physquest/server/plugin/hook"
	"go.uber.org/zap"
)

// AnnounceChannel carries global announcements.
const AnnounceChannel = "announce"

// Event types.
const (
	TypeFriendAdded   = "friend_added"
	TypeLevelComplete = "level_complete"
	TypeAnnounce      = "announce"
	TypeFriendOnline  = "friend_online"
	TypeFriendOffline = "friend_offline"
)

// Channel is the per-user activity channel.
func Channel(userID int64) string { return "activity:" + strconv.FormatInt(userID, 10) }

// Event is one activity item.
type Event struct {
	Type     string    `json:"type"`
	Message  string    `json:"message"`
	UserID   int64     `json:"user_id,omitempty"`
	Username string    `json:"username,omitempty"`
	Level    string    `json:"level,omitempty"`
	At       time.Time `json:"at"`
}

// Followers returns the users who added userID as a friend.
type Followers interface {
	FollowerIDs(ctx context.Context, userID int64) ([]int64, error)
}

// Publisher publishes activity events.
type Publisher struct {
	ps        cache.PubSub
	followers Followers
	logger    *zap.Logger
}

func NewPublisher(ps cache.PubSub, followers Followers, logger *zap.Logger) *Publisher {
	return &Publisher{ps: ps, followers: followers, logger: logger}
}

// RegisterHooks subscribes the publisher to friend and level events.
func (p *Publisher) RegisterHooks(hc *hook.HookCenter) {
	hc.Register(hook.OnFriendAdded, 500, "activity", func(ctx context.Context, _ string, data interface{}) (interface{}, error) {
		if ev, ok := data.(*hook.FriendEvent); ok {
			p.FriendAdded(ctx, ev)
		}
		return data, nil
	})
	hc.Register(hook.OnLevelComplete, 500, "activity", func(ctx context.Context, _ string, data interface{}) (interface{}, error) {
		if ev, ok := data.(*hook.LevelEvent); ok {
			p.LevelComplete(ctx, ev)
		}
		return data, nil
	})
}

// FriendAdded tells the added user who added them.
func (p *Publisher) FriendAdded(ctx context.Context, ev *hook.FriendEvent) {
	msg := fmt.Sprintf("%s added you as a friend.", ev.Username)
	if ev.Mutual {
		msg = fmt.Sprintf("%s added you back. You are now mutual friends.", ev.Username)
	}
	p.publish(ctx, Channel(ev.FriendID), &Event{
		Type:     TypeFriendAdded,
		Message:  msg,
		UserID:   ev.UserID,
		Username: ev.Username,
	})
}

// LevelComplete tells everyone who follows the player.
func (p *Publisher) LevelComplete(ctx context.Context, ev *hook.LevelEvent) {
	ids, err := p.followers.FollowerIDs(ctx, ev.UserID)
	if err != nil {
		p.logger.Warn("activity: follower lookup failed", zap.Int64("user_id", ev.UserID), zap.Error(err))
		return
	}
	item := &Event{
		Type:     TypeLevelComplete,
		Message:  fmt.Sprintf("%s completed %s with %d points.", ev.Username, ev.Title, ev.Score),
		UserID:   ev.UserID,
		Username: ev.Username,
		Level:    ev.LevelKey,
	}
	for _, id := range ids {
		p.publish(ctx, Channel(id), item)
	}
}

// PresenceChanged tells the user's followers that they came online or left.
func (p *Publisher) PresenceChanged(ctx context.Context, userID int64, username string, online bool) {
	ids, err := p.followers.FollowerIDs(ctx, userID)
	if err != nil {
		p.logger.Warn("activity: follower lookup failed", zap.Int64("user_id", userID), zap.Error(err))
		return
	}
	item := &Event{Type: TypeFriendOffline, Message: username + " went offline.", UserID: userID, Username: username}
	if online {
		item.Type, item.Message = TypeFriendOnline, username+" is online."
	}
	for _, id := range ids {
		p.publish(ctx, Channel(id), item)
	}
}

// Announce publishes a global announcement.
func (p *Publisher) Announce(ctx context.Context, message string) error {
	return p.send(ctx, AnnounceChannel, &Event{Type: TypeAnnounce, Message: message})
}

func (p *Publisher) publish(ctx context.Context, channel string, ev *Event) {
	if err := p.send(ctx, channel, ev); err != nil {
		p.logger.Warn("activity publish failed", zap.String("channel", channel), zap.Error(err))
	}
}

func (p *Publisher) send(ctx context.Context, channel string, ev *Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.ps.Publish(ctx, channel, string(data))
}

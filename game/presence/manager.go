package presence

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/physquest/server/cache"
	"go.uber.org/zap"
)

const (
	// OnlineKey is the cache set of online user ids, shared by all processes.
	OnlineKey = "presence:online"
	seenTTL   = 2 * time.Minute
	opTimeout = 2 * time.Second
)

func seenKey(userID int64) string { return "presence:seen:" + strconv.FormatInt(userID, 10) }

// Manager is the registry of live sessions, one per user.
type Manager struct {
	mu       sync.RWMutex
	sessions map[int64]*Session
	cache    cache.Cache
	logger   *zap.Logger
}

// NewManager creates a Manager. c may be nil for a single process without
// a shared presence set.
func NewManager(c cache.Cache, logger *zap.Logger) *Manager {
	return &Manager{
		sessions: make(map[int64]*Session),
		cache:    c,
		logger:   logger,
	}
}

// Register adds s. An older session of the same user is closed first
// (reconnect or a second tab). It reports whether the user was offline.
func (m *Manager) Register(s *Session) bool {
	m.mu.Lock()
	old, existed := m.sessions[s.UserID]
	m.sessions[s.UserID] = s
	m.mu.Unlock()

	if existed {
		old.Close()
		m.logger.Info("duplicate session displaced", zap.Int64("user_id", s.UserID))
	}
	m.mirror(s.UserID, true)
	m.logger.Info("session registered", zap.Int64("user_id", s.UserID), zap.String("username", s.Username))
	return !existed
}

// Unregister removes s if it is still the user's current session. It
// reports whether the user went offline.
func (m *Manager) Unregister(s *Session) bool {
	m.mu.Lock()
	cur, ok := m.sessions[s.UserID]
	if !ok || cur != s {
		m.mu.Unlock()
		return false
	}
	delete(m.sessions, s.UserID)
	m.mu.Unlock()

	m.mirror(s.UserID, false)
	m.logger.Info("session unregistered", zap.Int64("user_id", s.UserID))
	return true
}

func (m *Manager) mirror(userID int64, online bool) {
	if m.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	member := strconv.FormatInt(userID, 10)
	var err error
	if online {
		if err = m.cache.SAdd(ctx, OnlineKey, member); err == nil {
			err = m.cache.Set(ctx, seenKey(userID), "1", seenTTL)
		}
	} else {
		if err = m.cache.SRem(ctx, OnlineKey, member); err == nil {
			err = m.cache.Del(ctx, seenKey(userID))
		}
	}
	if err != nil {
		m.logger.Warn("presence mirror failed", zap.Int64("user_id", userID), zap.Error(err))
	}
}

// Get returns the session of a user, or nil.
func (m *Manager) Get(userID int64) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[userID]
}

// IsOnline reports whether the user is connected to this or, through the
// shared set, any other process.
func (m *Manager) IsOnline(userID int64) bool {
	m.mu.RLock()
	_, ok := m.sessions[userID]
	m.mu.RUnlock()
	if ok || m.cache == nil {
		return ok
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	on, err := m.cache.SIsMember(ctx, OnlineKey, strconv.FormatInt(userID, 10))
	return err == nil && on
}

// Online filters ids down to the users that are online.
func (m *Manager) Online(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if m.IsOnline(id) {
			out = append(out, id)
		}
	}
	return out
}

// Count returns the number of sessions held by this process.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// All returns a snapshot of the sessions held by this process.
func (m *Manager) All() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// SendTo delivers pkt to one user and reports whether they were connected here.
func (m *Manager) SendTo(userID int64, pkt *Packet) bool {
	s := m.Get(userID)
	if s == nil {
		return false
	}
	s.Send(pkt)
	return true
}

// Broadcast sends pkt to every local session. Slow clients drop the packet.
func (m *Manager) Broadcast(pkt *Packet) {
	data, err := json.Marshal(pkt)
	if err != nil {
		m.logger.Error("failed to marshal broadcast packet", zap.Error(err))
		return
	}
	for _, s := range m.All() {
		s.SendRaw(data)
	}
}

// Sweep refreshes the liveness marks of local sessions and drops ids from
// the shared set whose owner stopped refreshing them (a crashed process).
// It returns the number of ids dropped.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	if m.cache == nil {
		return 0, nil
	}
	for _, s := range m.All() {
		_ = m.cache.Set(ctx, seenKey(s.UserID), "1", seenTTL)
	}
	members, err := m.cache.SMembers(ctx, OnlineKey)
	if err != nil {
		return 0, err
	}
	dropped := 0
	for _, member := range members {
		id, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			_ = m.cache.SRem(ctx, OnlineKey, member)
			dropped++
			continue
		}
		alive, err := m.cache.Exists(ctx, seenKey(id))
		if err != nil {
			return dropped, err
		}
		if !alive {
			_ = m.cache.SRem(ctx, OnlineKey, member)
			dropped++
		}
	}
	return dropped, nil
}

// CloseAll closes every session and waits up to timeout for the handlers
// to unregister them.
func (m *Manager) CloseAll(timeout time.Duration) {
	sessions := m.All()
	m.logger.Info("closing all sessions", zap.Int("count", len(sessions)))
	for _, s := range sessions {
		s.Close()
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if m.Count() == 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}

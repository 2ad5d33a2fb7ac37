// Package social manages directed friend rows. A row (user, friend) means the
// user has added the friend; the reverse direction is an independent row.
package social

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/physquest/server/model"
	"github.com/physquest/server/plugin/hook"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrSelf           = errors.New("cannot add self")
	ErrAlreadyFriends = errors.New("already friends")
	ErrNotFriends     = errors.New("not friends")
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 50
)

// Presence reports whether a user has a live connection.
type Presence interface {
	IsOnline(userID int64) bool
}

// Friend is one entry of a friend or follower list.
type Friend struct {
	ID          int64     `json:"id"`
	Username    string    `json:"username"`
	ProfileIcon string    `json:"profile_icon"`
	Since       time.Time `json:"since"`
	Mutual      bool      `json:"mutual"`
	Online      bool      `json:"online"`
}

// Service implements friend list operations on top of the friends table.
type Service struct {
	db       *gorm.DB
	hooks    *hook.HookCenter
	presence Presence
	logger   *zap.Logger
}

func NewService(db *gorm.DB, hooks *hook.HookCenter, logger *zap.Logger) *Service {
	return &Service{db: db, hooks: hooks, logger: logger}
}

// SetPresence attaches the online lookup used by List and Followers.
func (s *Service) SetPresence(p Presence) { s.presence = p }

// Add creates the caller's row for the user named username.
func (s *Service) Add(ctx context.Context, userID int64, username string) (*Friend, error) {
	var target model.User
	err := s.db.WithContext(ctx).Where("username = ?", strings.TrimSpace(username)).First(&target).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	if target.ID == userID {
		return nil, ErrSelf
	}
	if ok, err := s.hasRow(ctx, userID, target.ID); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrAlreadyFriends
	}

	row := &model.Friendship{UserID: userID, FriendID: target.ID}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAlreadyFriends
		}
		return nil, err
	}
	mutual, _ := s.hasRow(ctx, target.ID, userID)

	var me model.User
	_ = s.db.WithContext(ctx).Select("id", "username").First(&me, userID).Error
	s.fire(ctx, hook.OnFriendAdded, &hook.FriendEvent{
		UserID: userID, Username: me.Username,
		FriendID: target.ID, FriendName: target.Username,
		Mutual: mutual,
	})
	return &Friend{
		ID:          target.ID,
		Username:    target.Username,
		ProfileIcon: target.ProfileIcon,
		Since:       row.CreatedAt,
		Mutual:      mutual,
		Online:      s.online(target.ID),
	}, nil
}

// Remove deletes the caller's row only; the other user's row, if any, stays.
func (s *Service) Remove(ctx context.Context, userID, friendID int64) error {
	res := s.db.WithContext(ctx).
		Where("user_id = ? AND friend_id = ?", userID, friendID).
		Delete(&model.Friendship{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFriends
	}
	names := s.usernames(ctx, userID, friendID)
	s.fire(ctx, hook.OnFriendRemoved, &hook.FriendEvent{
		UserID: userID, Username: names[userID],
		FriendID: friendID, FriendName: names[friendID],
	})
	return nil
}

// List returns the users the caller has added, ordered by username.
func (s *Service) List(ctx context.Context, userID int64) ([]Friend, error) {
	var rows []model.Friendship
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&rows).Error; err != nil {
		return nil, err
	}
	incoming, err := s.FollowerIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	back := toSet(incoming)
	return s.build(ctx, rows, func(r model.Friendship) int64 { return r.FriendID }, back)
}

// Followers returns users who added the caller but whom the caller has not
// added back.
func (s *Service) Followers(ctx context.Context, userID int64) ([]Friend, error) {
	mine, err := s.FriendIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	q := s.db.WithContext(ctx).Where("friend_id = ?", userID)
	if len(mine) > 0 {
		q = q.Where("user_id NOT IN ?", mine)
	}
	var rows []model.Friendship
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return s.build(ctx, rows, func(r model.Friendship) int64 { return r.UserID }, nil)
}

func (s *Service) build(ctx context.Context, rows []model.Friendship, other func(model.Friendship) int64, mutual map[int64]bool) ([]Friend, error) {
	out := make([]Friend, 0, len(rows))
	if len(rows) == 0 {
		return out, nil
	}
	ids := make([]int64, len(rows))
	for i, r := range rows {
		ids[i] = other(r)
	}
	var users []model.User
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	byID := make(map[int64]*model.User, len(users))
	for i := range users {
		byID[users[i].ID] = &users[i]
	}
	for _, r := range rows {
		u, ok := byID[other(r)]
		if !ok {
			continue
		}
		out = append(out, Friend{
			ID:          u.ID,
			Username:    u.Username,
			ProfileIcon: u.ProfileIcon,
			Since:       r.CreatedAt,
			Mutual:      mutual[u.ID],
			Online:      s.online(u.ID),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Username) < strings.ToLower(out[j].Username)
	})
	return out, nil
}

// Search finds users whose name contains query, case-insensitively. The
// caller and users the caller already added are excluded. Prefix matches
// come first.
func (s *Service) Search(ctx context.Context, userID int64, query string, limit int) ([]model.PublicUser, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return []model.PublicUser{}, nil
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	esc := escapeLike(query)
	var users []model.User
	err := s.db.WithContext(ctx).
		Where("LOWER(username) LIKE ? ESCAPE '!'", "%"+esc+"%").
		Where("id <> ?", userID).
		Where("id NOT IN (?)", s.db.Model(&model.Friendship{}).Select("friend_id").Where("user_id = ?", userID)).
		Clauses(clause.OrderBy{Expression: clause.Expr{
			SQL:                "CASE WHEN LOWER(username) LIKE ? ESCAPE '!' THEN 0 ELSE 1 END, username",
			Vars:               []interface{}{esc + "%"},
			WithoutParentheses: true,
		}}).
		Limit(limit).
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	out := make([]model.PublicUser, len(users))
	for i := range users {
		out[i] = users[i].Public()
	}
	return out, nil
}

// FriendIDs returns the ids the user has added.
func (s *Service) FriendIDs(ctx context.Context, userID int64) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).Model(&model.Friendship{}).
		Where("user_id = ?", userID).Pluck("friend_id", &ids).Error
	return ids, err
}

// FollowerIDs returns the ids of users who added userID.
func (s *Service) FollowerIDs(ctx context.Context, userID int64) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).Model(&model.Friendship{}).
		Where("friend_id = ?", userID).Pluck("user_id", &ids).Error
	return ids, err
}

// IsFriend reports whether userID has added friendID.
func (s *Service) IsFriend(ctx context.Context, userID, friendID int64) (bool, error) {
	return s.hasRow(ctx, userID, friendID)
}

func (s *Service) hasRow(ctx context.Context, userID, friendID int64) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.Friendship{}).
		Where("user_id = ? AND friend_id = ?", userID, friendID).Count(&n).Error
	return n > 0, err
}

func (s *Service) usernames(ctx context.Context, ids ...int64) map[int64]string {
	var users []model.User
	_ = s.db.WithContext(ctx).Select("id", "username").Where("id IN ?", ids).Find(&users).Error
	out := make(map[int64]string, len(users))
	for _, u := range users {
		out[u.ID] = u.Username
	}
	return out
}

func (s *Service) online(id int64) bool {
	return s.presence != nil && s.presence.IsOnline(id)
}

func (s *Service) fire(ctx context.Context, event string, data interface{}) {
	if _, err := s.hooks.Trigger(ctx, event, data); err != nil {
		s.logger.Debug("hook returned error", zap.String("event", event), zap.Error(err))
	}
}

func toSet(ids []int64) map[int64]bool {
	m := make(map[int64]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

func escapeLike(s string) string { return likeEscaper.Replace(s) }

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}

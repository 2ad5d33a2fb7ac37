// Package account manages player accounts: signup, login, profile icon and
// password changes.
package account

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/physquest/server/config"
	"github.com/physquest/server/model"
	"github.com/physquest/server/plugin/hook"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	ErrPasswordMismatch   = errors.New("passwords do not match")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrInvalidUsername    = errors.New("invalid username")
	ErrInvalidPassword    = errors.New("invalid password length")
	ErrSignupRejected     = errors.New("signup rejected")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrBanned             = errors.New("account banned")
	ErrUnknownIcon        = errors.New("unknown profile icon")
	ErrUserNotFound       = errors.New("user not found")
)

const (
	minPassword = 4
	maxPassword = 64
)

var usernameRe = regexp.MustCompile(`^[A-Za-z0-9_]{3,32}$`)

// ValidUsername reports whether name is an acceptable username.
func ValidUsername(name string) bool { return usernameRe.MatchString(name) }

// ValidPassword reports whether pw satisfies the length rules. bcrypt only
// reads the first 72 bytes, so longer passwords are refused.
func ValidPassword(pw string) bool { return len(pw) >= minPassword && len(pw) <= maxPassword }

// Service owns the users table.
type Service struct {
	db      *gorm.DB
	hooks   *hook.HookCenter
	sec     config.SecurityConfig
	profile config.ProfileConfig
	logger  *zap.Logger
}

func NewService(db *gorm.DB, hooks *hook.HookCenter, cfg *config.Config, logger *zap.Logger) *Service {
	return &Service{db: db, hooks: hooks, sec: cfg.Security, profile: cfg.Profile, logger: logger}
}

// Icons returns the selectable profile icons.
func (s *Service) Icons() []string { return s.profile.Icons }

// Signup creates a new active account with the default icon.
func (s *Service) Signup(ctx context.Context, username, password, confirm string) (*model.User, error) {
	if password != confirm {
		return nil, ErrPasswordMismatch
	}
	username = strings.TrimSpace(username)
	if !ValidUsername(username) {
		return nil, ErrInvalidUsername
	}
	if !ValidPassword(password) {
		return nil, ErrInvalidPassword
	}
	if _, err := s.hooks.Trigger(ctx, hook.BeforeSignup, &hook.UserEvent{Username: username}); err != nil {
		if errors.Is(err, hook.ErrInterrupt) {
			return nil, ErrSignupRejected
		}
		return nil, err
	}

	var n int64
	if err := s.db.WithContext(ctx).Model(&model.User{}).Where("username = ?", username).Count(&n).Error; err != nil {
		return nil, err
	}
	if n > 0 {
		return nil, ErrUsernameTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost())
	if err != nil {
		return nil, err
	}
	u := &model.User{
		Username:     username,
		PasswordHash: string(hash),
		ProfileIcon:  s.profile.DefaultIcon,
		Status:       model.UserStatusActive,
	}
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		// Lost a race with a concurrent signup for the same name.
		if isUniqueViolation(err) {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}
	s.logger.Info("user signed up", zap.Int64("user_id", u.ID), zap.String("username", u.Username))
	s.fire(ctx, hook.OnUserSignup, &hook.UserEvent{UserID: u.ID, Username: u.Username, Icon: u.ProfileIcon})
	return u, nil
}

// Authenticate checks credentials and records the login. Unknown users and
// wrong passwords get the same error.
func (s *Service) Authenticate(ctx context.Context, username, password, ip string) (*model.User, error) {
	var u model.User
	err := s.db.WithContext(ctx).Where("username = ?", strings.TrimSpace(username)).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.fire(ctx, hook.OnLoginFailed, &hook.UserEvent{Username: username, IP: ip})
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		s.fire(ctx, hook.OnLoginFailed, &hook.UserEvent{UserID: u.ID, Username: u.Username, IP: ip})
		return nil, ErrInvalidCredentials
	}
	if u.Status == model.UserStatusBanned {
		return nil, ErrBanned
	}

	now := time.Now()
	if err := s.db.WithContext(ctx).Model(&u).Updates(map[string]interface{}{
		"last_login_at": now,
		"last_login_ip": ip,
	}).Error; err != nil {
		s.logger.Warn("update last login", zap.Int64("user_id", u.ID), zap.Error(err))
	}
	u.LastLoginAt, u.LastLoginIP = &now, ip
	s.fire(ctx, hook.OnLogin, &hook.UserEvent{UserID: u.ID, Username: u.Username, IP: ip})
	return &u, nil
}

// Logout fires the logout hook; session removal is the caller's job.
func (s *Service) Logout(ctx context.Context, userID int64) {
	ev := &hook.UserEvent{UserID: userID}
	if u, err := s.Get(ctx, userID); err == nil {
		ev.Username = u.Username
	}
	s.fire(ctx, hook.OnLogout, ev)
}

func (s *Service) Get(ctx context.Context, id int64) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).First(&u, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *Service) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).Where("username = ?", strings.TrimSpace(username)).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

// GetMany returns the users with the given ids keyed by id.
func (s *Service) GetMany(ctx context.Context, ids []int64) (map[int64]*model.User, error) {
	out := make(map[int64]*model.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var users []model.User
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	for i := range users {
		out[users[i].ID] = &users[i]
	}
	return out, nil
}

// SetIcon changes the profile icon. The icon must be in the configured list.
func (s *Service) SetIcon(ctx context.Context, id int64, icon string) error {
	if !s.profile.HasIcon(icon) {
		return ErrUnknownIcon
	}
	res := s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Update("profile_icon", icon)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	s.fire(ctx, hook.OnIconChange, &hook.UserEvent{UserID: id, Icon: icon})
	return nil
}

// ChangePassword replaces the password after checking the current one.
func (s *Service) ChangePassword(ctx context.Context, id int64, oldPassword, newPassword, confirm string) error {
	if newPassword != confirm {
		return ErrPasswordMismatch
	}
	if !ValidPassword(newPassword) {
		return ErrInvalidPassword
	}
	u, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(oldPassword)) != nil {
		return ErrInvalidCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.bcryptCost())
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Model(u).Update("password_hash", string(hash)).Error; err != nil {
		return err
	}
	s.fire(ctx, hook.OnPasswordChange, &hook.UserEvent{UserID: id, Username: u.Username})
	return nil
}

// SetStatus bans (UserStatusBanned) or reinstates (UserStatusActive) a user.
func (s *Service) SetStatus(ctx context.Context, id int64, status int) (*model.User, error) {
	if status != model.UserStatusActive && status != model.UserStatusBanned {
		return nil, errors.New("account: unknown status")
	}
	u, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(u).Update("status", status).Error; err != nil {
		return nil, err
	}
	u.Status = status
	s.logger.Info("user status changed", zap.Int64("user_id", id), zap.Int("status", status))
	s.fire(ctx, hook.OnUserBan, &hook.UserEvent{UserID: id, Username: u.Username, Banned: status == model.UserStatusBanned})
	return u, nil
}

// Count returns the number of registered users.
func (s *Service) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.User{}).Count(&n).Error
	return n, err
}

func (s *Service) bcryptCost() int {
	if s.sec.BcryptCost < bcrypt.MinCost {
		return bcrypt.DefaultCost
	}
	return s.sec.BcryptCost
}

// fire runs hooks for an event that has already happened. Interrupts and
// handler errors cannot undo it, so they are only logged.
func (s *Service) fire(ctx context.Context, event string, data interface{}) {
	if _, err := s.hooks.Trigger(ctx, event, data); err != nil {
		s.logger.Debug("hook returned error", zap.String("event", event), zap.Error(err))
	}
}

// isUniqueViolation detects duplicate-key errors from common database drivers.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") ||
		strings.Contains(msg, "duplicate") ||
		strings.Contains(msg, "already exists")
}

package model

import "time"

const (
	UserStatusBanned = 0
	UserStatusActive = 1
)

// User is a registered player account.
type User struct {
	ID           int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string     `gorm:"uniqueIndex;size:32;not null" json:"username"`
	PasswordHash string     `gorm:"size:72;not null" json:"-"`
	ProfileIcon  string     `gorm:"size:64" json:"profile_icon"`
	Status       int        `gorm:"default:1" json:"status"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	LastLoginIP  string     `gorm:"size:45" json:"-"`
}

func (User) TableName() string { return "users" }

// PublicUser is the subset of User shown to other players.
type PublicUser struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	ProfileIcon string `json:"profile_icon"`
}

func (u *User) Public() PublicUser {
	return PublicUser{ID: u.ID, Username: u.Username, ProfileIcon: u.ProfileIcon}
}

package model

import "time"

// Friendship is one directed friend row: UserID has added FriendID.
// The reverse direction, if any, is a separate row.
type Friendship struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64     `gorm:"uniqueIndex:idx_friend_pair;not null" json:"user_id"`
	FriendID  int64     `gorm:"uniqueIndex:idx_friend_pair;index:idx_friend_target;not null" json:"friend_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Friendship) TableName() string { return "friends" }

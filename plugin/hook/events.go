package hook

// Event names fired by the services.
const (
	BeforeSignup     = "before_signup" // may interrupt to reject a username
	OnUserSignup     = "on_user_signup"
	OnLogin          = "on_login"
	OnLoginFailed    = "on_login_failed"
	OnLogout         = "on_logout"
	OnIconChange     = "on_icon_change"
	OnPasswordChange = "on_password_change"
	OnUserBan        = "on_user_ban"
	OnFriendAdded    = "on_friend_added"
	OnFriendRemoved  = "on_friend_removed"
	OnLevelComplete  = "on_level_complete"
)

// UserEvent is the payload of account events.
type UserEvent struct {
	UserID   int64
	Username string
	IP       string
	Icon     string // OnIconChange
	Banned   bool   // OnUserBan
}

// FriendEvent is the payload of OnFriendAdded / OnFriendRemoved.
type FriendEvent struct {
	UserID     int64
	Username   string
	FriendID   int64
	FriendName string
	Mutual     bool
}

// LevelEvent is the payload of OnLevelComplete.
type LevelEvent struct {
	UserID   int64
	Username string
	LevelKey string
	Title    string
	Score    int
	Delta    int // score gained over the previous best
}

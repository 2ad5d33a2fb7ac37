package audit

import (
	"context"

	"github.com/physquest/server/middleware"
	"github.com/physquest/server/plugin/hook"
)

// hookPriority runs the audit writer after other handlers have had a chance
// to modify the payload.
const hookPriority = 1000

const hookName = "audit"

// RegisterHooks records account, friend and level events as audit entries.
func (svc *Service) RegisterHooks(hc *hook.HookCenter) {
	user := func(action string) hook.HookFn {
		return func(ctx context.Context, _ string, data interface{}) (interface{}, error) {
			ev, ok := data.(*hook.UserEvent)
			if !ok {
				return data, nil
			}
			detail := map[string]interface{}{"username": ev.Username}
			if ev.Icon != "" {
				detail["icon"] = ev.Icon
			}
			a := action
			if action == ActionBan && !ev.Banned {
				a = ActionUnban
			}
			svc.Log(svc.entry(ctx, ev.UserID, a, detail, ev.IP))
			return data, nil
		}
	}
	friend := func(action string) hook.HookFn {
		return func(ctx context.Context, _ string, data interface{}) (interface{}, error) {
			ev, ok := data.(*hook.FriendEvent)
			if !ok {
				return data, nil
			}
			svc.Log(svc.entry(ctx, ev.UserID, action, map[string]interface{}{
				"friend_id":   ev.FriendID,
				"friend_name": ev.FriendName,
				"mutual":      ev.Mutual,
			}, ""))
			return data, nil
		}
	}

	hc.Register(hook.OnUserSignup, hookPriority, hookName, user(ActionSignup))
	hc.Register(hook.OnLogin, hookPriority, hookName, user(ActionLogin))
	hc.Register(hook.OnLoginFailed, hookPriority, hookName, user(ActionLoginFailed))
	hc.Register(hook.OnLogout, hookPriority, hookName, user(ActionLogout))
	hc.Register(hook.OnIconChange, hookPriority, hookName, user(ActionIconChange))
	hc.Register(hook.OnPasswordChange, hookPriority, hookName, user(ActionPasswordChange))
	hc.Register(hook.OnUserBan, hookPriority, hookName, user(ActionBan))
	hc.Register(hook.OnFriendAdded, hookPriority, hookName, friend(ActionFriendAdd))
	hc.Register(hook.OnFriendRemoved, hookPriority, hookName, friend(ActionFriendRemove))
	hc.Register(hook.OnLevelComplete, hookPriority, hookName,
		func(ctx context.Context, _ string, data interface{}) (interface{}, error) {
			ev, ok := data.(*hook.LevelEvent)
			if !ok {
				return data, nil
			}
			svc.Log(svc.entry(ctx, ev.UserID, ActionLevelComplete, map[string]interface{}{
				"level": ev.LevelKey,
				"score": ev.Score,
				"delta": ev.Delta,
			}, ""))
			return data, nil
		})
}

// entry fills trace id and IP from the request context. A zero userID is
// logged as NULL (failed login for an unknown name).
func (svc *Service) entry(ctx context.Context, userID int64, action string, detail interface{}, ip string) Entry {
	if ip == "" {
		ip = middleware.ClientIPFrom(ctx)
	}
	e := Entry{
		TraceID: middleware.TraceIDFrom(ctx),
		Action:  action,
		Detail:  detail,
		IP:      ip,
	}
	if userID != 0 {
		id := userID
		e.UserID = &id
	}
	return e
}

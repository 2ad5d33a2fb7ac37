package rest

import (
	"regexp"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/physquest/server/api/usererr"
	"github.com/physquest/server/game/account"
)

var (
	iconRe       = regexp.MustCompile(`^[a-z0-9_-]{1,56}\.png$`)
	validateOnce sync.Once
)

// RegisterValidators adds the "username" and "profile_icon" binding tags to
// gin's validator. It is safe to call more than once.
func RegisterValidators() {
	validateOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
			return account.ValidUsername(fl.Field().String())
		})
		_ = v.RegisterValidation("profile_icon", func(fl validator.FieldLevel) bool {
			return iconRe.MatchString(fl.Field().String())
		})
	})
}

// bindMessage turns a binding error into a short client message.
func bindMessage(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return "invalid request body"
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "username":
		return usererr.Message(account.ErrInvalidUsername)
	case "profile_icon":
		return usererr.Message(account.ErrUnknownIcon)
	default:
		return fe.Field() + " is invalid"
	}
}

// Package usererr turns service errors into the sentences players see in
// flash messages and REST error bodies.
package usererr

import (
	"errors"

	"github.com/physquest/server/game/account"
	"github.com/physquest/server/game/grading"
	"github.com/physquest/server/game/social"
)

// Generic is shown for failures with no player-facing wording.
const Generic = "Something went wrong. Please try again."

var messages = []struct {
	err error
	msg string
}{
	{account.ErrPasswordMismatch, "Passwords do not match."},
	{account.ErrUsernameTaken, "Username already taken. Please choose another."},
	{account.ErrInvalidUsername, "Username must be 3-32 letters, digits or underscores."},
	{account.ErrInvalidPassword, "Password must be 4-64 characters."},
	{account.ErrSignupRejected, "Signup is not allowed for this username."},
	{account.ErrInvalidCredentials, "Invalid username or password."},
	{account.ErrBanned, "This account has been disabled."},
	{account.ErrUnknownIcon, "Unknown profile icon."},
	{account.ErrUserNotFound, "User not found."},
	{social.ErrUserNotFound, "User not found."},
	{social.ErrSelf, "You cannot add yourself."},
	{social.ErrAlreadyFriends, "Already in your friends list."},
	{social.ErrNotFriends, "Not in your friends list."},
	// ErrNotANumber wraps ErrBadSubmission, so it is matched first.
	{grading.ErrNotANumber, "Enter a valid number."},
	{grading.ErrMissingAngle, "Choose a launch angle."},
	{grading.ErrBadSubmission, "That answer is not in the expected format."},
}

// Lookup returns the player-facing text for err and whether one is known.
func Lookup(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	for _, m := range messages {
		if errors.Is(err, m.err) {
			return m.msg, true
		}
	}
	return "", false
}

// Message is Lookup with Generic as the fallback.
func Message(err error) string {
	if msg, ok := Lookup(err); ok {
		return msg
	}
	return Generic
}

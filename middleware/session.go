package middleware

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/physquest/server/cache"
	"github.com/physquest/server/config"
)

// ErrSessionInvalid is returned for a token that fails JWT validation or
// whose server-side session has expired or been revoked.
var ErrSessionInvalid = errors.New("session invalid")

const cacheOpTimeout = 2 * time.Second

func sessionKey(token string) string { return "session:" + token }

func userSessionsKey(userID int64) string {
	return "user_sessions:" + strconv.FormatInt(userID, 10)
}

// Sessions issues and validates login sessions. A session is a signed JWT
// plus a cache entry; deleting the entry revokes the token before it expires.
type Sessions struct {
	cache cache.Cache
	sec   config.SecurityConfig
}

func NewSessions(c cache.Cache, sec config.SecurityConfig) *Sessions {
	return &Sessions{cache: c, sec: sec}
}

// TTL is the lifetime of issued sessions.
func (s *Sessions) TTL() time.Duration { return s.sec.JWTTTLH }

// Issue creates a session for userID and returns its token.
func (s *Sessions) Issue(ctx context.Context, userID int64) (string, error) {
	token, err := GenerateToken(userID, s.sec.JWTSecret, s.sec.JWTTTLH)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()
	if err := s.cache.Set(ctx, sessionKey(token), strconv.FormatInt(userID, 10), s.sec.JWTTTLH); err != nil {
		return "", err
	}
	// Index by user so a ban can revoke every live session.
	_ = s.cache.SAdd(ctx, userSessionsKey(userID), token)
	_ = s.cache.Expire(ctx, userSessionsKey(userID), s.sec.JWTTTLH)
	return token, nil
}

// Resolve validates token and returns the user it belongs to.
func (s *Sessions) Resolve(ctx context.Context, token string) (int64, error) {
	if token == "" {
		return 0, ErrSessionInvalid
	}
	claims, err := ParseToken(token, s.sec.JWTSecret)
	if err != nil {
		return 0, ErrSessionInvalid
	}
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()
	exists, err := s.cache.Exists(ctx, sessionKey(token))
	if err != nil || !exists {
		return 0, ErrSessionInvalid
	}
	return claims.UserID, nil
}

// Revoke ends a single session. Unknown tokens are ignored.
func (s *Sessions) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()
	if claims, err := ParseToken(token, s.sec.JWTSecret); err == nil {
		_ = s.cache.SRem(ctx, userSessionsKey(claims.UserID), token)
	}
	return s.cache.Del(ctx, sessionKey(token))
}

// RevokeAll ends every session of userID.
func (s *Sessions) RevokeAll(ctx context.Context, userID int64) error {
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()
	tokens, err := s.cache.SMembers(ctx, userSessionsKey(userID))
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(tokens)+1)
	for _, t := range tokens {
		keys = append(keys, sessionKey(t))
	}
	keys = append(keys, userSessionsKey(userID))
	return s.cache.Del(ctx, keys...)
}

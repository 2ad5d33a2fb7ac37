package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	UserIDKey = "user_id"
	tokenKey  = "session_token"

	// SessionCookie carries the session token for browser pages.
	SessionCookie = "pq_session"
)

// TokenFromRequest returns the bearer token, falling back to the session cookie.
func TokenFromRequest(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	if cookie, err := c.Cookie(SessionCookie); err == nil {
		return cookie
	}
	return ""
}

// Auth rejects requests without a valid session with 401 JSON.
func Auth(s *Sessions) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := TokenFromRequest(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		userID, err := s.Resolve(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
			return
		}
		c.Set(UserIDKey, userID)
		c.Set(tokenKey, token)
		c.Next()
	}
}

// OptionalAuth attaches the user when a valid session is present and never
// rejects the request. Pages use it to render login state.
func OptionalAuth(s *Sessions) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := TokenFromRequest(c); token != "" {
			if userID, err := s.Resolve(c.Request.Context(), token); err == nil {
				c.Set(UserIDKey, userID)
				c.Set(tokenKey, token)
			}
		}
		c.Next()
	}
}

// GetUserID retrieves the authenticated user ID from the Gin context, or 0.
func GetUserID(c *gin.Context) int64 {
	if v, exists := c.Get(UserIDKey); exists {
		return v.(int64)
	}
	return 0
}

// GetToken returns the session token accepted by Auth / OptionalAuth.
func GetToken(c *gin.Context) string {
	return c.GetString(tokenKey)
}

// SetSessionCookie stores token in the HttpOnly session cookie.
func SetSessionCookie(c *gin.Context, token string, ttl time.Duration, secure bool) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, token, int(ttl.Seconds()), "/", "", secure, true)
}

// ClearSessionCookie expires the session cookie.
func ClearSessionCookie(c *gin.Context, secure bool) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, "", -1, "/", "", secure, true)
}

package integration

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFullAuthLifecycle(t *testing.T) {
	ts := NewTestServer(t)
	username := UniqueID("auth")

	// 1. Signup, then login with the same credentials.
	id := ts.Signup(t, username)
	require.Greater(t, id, int64(0))
	token1, id1 := ts.Login(t, username, TestPassword)
	require.NotEmpty(t, token1)
	assert.Equal(t, id, id1)

	// 2. Profile is reachable with the token.
	resp := ts.Get(t, "/api/profile", token1)
	var profile struct {
		User struct {
			Username    string `json:"username"`
			ProfileIcon string `json:"profile_icon"`
		} `json:"user"`
	}
	ReadJSON(t, resp, &profile)
	assert.Equal(t, username, profile.User.Username)
	assert.Equal(t, "default.png", profile.User.ProfileIcon)

	// 3. A second login is an independent session.
	token2, _ := ts.Login(t, username, TestPassword)
	assert.NotEqual(t, token1, token2)

	// 4. Logout revokes only token2.
	assert.Equal(t, http.StatusOK, Drain(ts.PostJSON(t, "/api/auth/logout", nil, token2)))
	assert.Equal(t, http.StatusUnauthorized, Drain(ts.Get(t, "/api/profile", token2)))
	assert.Equal(t, http.StatusOK, Drain(ts.Get(t, "/api/profile", token1)))
}

func TestSignupErrors(t *testing.T) {
	ts := NewTestServer(t)
	username := UniqueID("dup")
	ts.Signup(t, username)

	resp := ts.PostJSON(t, "/api/auth/signup", map[string]string{
		"username": username, "password": TestPassword, "confirm_password": TestPassword,
	}, "")
	var body map[string]string
	ReadJSON(t, resp, &body)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "Username already taken. Please choose another.", body["error"])

	resp = ts.PostJSON(t, "/api/auth/signup", map[string]string{
		"username": UniqueID("mm"), "password": TestPassword, "confirm_password": "different",
	}, "")
	ReadJSON(t, resp, &body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Passwords do not match.", body["error"])
}

func TestLoginWrongPassword(t *testing.T) {
	ts := NewTestServer(t)
	username := UniqueID("wrongpw")
	ts.Signup(t, username)

	resp := ts.PostJSON(t, "/api/auth/login", map[string]string{
		"username": username,
		"password": "wrongpassword",
	}, "")
	assert.Equal(t, http.StatusUnauthorized, Drain(resp))
}

func TestTokenRefresh(t *testing.T) {
	ts := NewTestServer(t)
	_, token, _ := ts.NewUser(t, "refresh")

	resp := ts.PostJSON(t, "/api/auth/refresh", nil, token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result map[string]interface{}
	ReadJSON(t, resp, &result)
	newToken := result["token"].(string)
	require.NotEmpty(t, newToken)
	assert.NotEqual(t, token, newToken)

	assert.Equal(t, http.StatusUnauthorized, Drain(ts.Get(t, "/api/profile", token)))
	assert.Equal(t, http.StatusOK, Drain(ts.Get(t, "/api/profile", newToken)))
}

func TestWSConnectionAuth(t *testing.T) {
	ts := NewTestServer(t)
	_, token, _ := ts.NewUser(t, "wsauth")

	ws := ts.ConnectWS(t, token)
	ws.Ping()
	ws.Close()

	_, resp, err := websocket.DefaultDialer.Dial(ts.WSURL+"?token=invalid-token-xxx", nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	assert.Error(t, err, "expected WS dial to fail with invalid token")

	_, resp, err = websocket.DefaultDialer.Dial(ts.WSURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	assert.Error(t, err, "expected WS dial to fail with no token")
}

func TestBanDisconnectsAndBlocksLogin(t *testing.T) {
	ts := NewTestServer(t)
	username, token, id := ts.NewUser(t, "banned")
	ws := ts.ConnectWS(t, token)
	ws.Ping()

	resp := ts.Admin(t, http.MethodPost, "/api/admin/users/"+itoa(id)+"/ban", map[string]bool{"ban": true})
	require.Equal(t, http.StatusOK, Drain(resp))

	_, err := ws.RecvAny(5 * time.Second)
	assert.Error(t, err, "banned user's socket should be closed")
	assert.Equal(t, http.StatusUnauthorized, Drain(ts.Get(t, "/api/profile", token)))

	resp = ts.PostJSON(t, "/api/auth/login", map[string]string{"username": username, "password": TestPassword}, "")
	assert.Equal(t, http.StatusForbidden, Drain(resp))
}

func TestWebFormSignupAndLogin(t *testing.T) {
	ts := NewTestServer(t)
	b := ts.Browser(t)
	username := UniqueID("web")

	_, body := b.Post("/signup", url.Values{
		"username": {username}, "password": {TestPassword}, "confirm_password": {"nope"},
	})
	assert.Contains(t, body, "Passwords do not match.")

	_, body = b.Post("/signup", url.Values{
		"username": {username}, "password": {TestPassword}, "confirm_password": {TestPassword},
	})
	assert.Contains(t, body, "Account created successfully! You can now log in.")

	_, body = b.Post("/signup", url.Values{
		"username": {username}, "password": {TestPassword}, "confirm_password": {TestPassword},
	})
	assert.Contains(t, body, "Username already taken. Please choose another.")

	_, body = b.Post("/login", url.Values{"username": {username}, "password": {"bad"}})
	assert.Contains(t, body, "Invalid username or password.")

	_, body = b.Post("/login", url.Values{"username": {username}, "password": {TestPassword}})
	assert.Contains(t, body, "Login successful!")
	assert.Contains(t, body, username)

	// The browser session is the same session the REST API accepts.
	code, body := b.Get("/api/profile")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, username)

	_, body = b.Post("/logout", nil)
	assert.Contains(t, body, "You have been logged out.")
	code, _ = b.Get("/api/profile")
	assert.Equal(t, http.StatusUnauthorized, code)
}

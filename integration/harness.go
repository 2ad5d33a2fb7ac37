// Package integration runs the fully wired server over real HTTP, WebSocket
// and SSE connections.
package integration

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/physquest/server/app"
	"github.com/physquest/server/config"
	"github.com/physquest/server/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	AdminKey     = "integration-admin-key"
	TestPassword = "pass1234"
)

// TestServer wraps a real HTTP server built by app.New.
type TestServer struct {
	App    *app.App
	Config *config.Config
	Server *httptest.Server
	URL    string // http://127.0.0.1:<port>
	WSURL  string // ws://127.0.0.1:<port>/ws
}

// NewTestServer creates a fully wired server for integration testing. Each
// tweak may adjust the config before the app is built.
func NewTestServer(t *testing.T, tweaks ...func(*config.Config)) *TestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := testutil.TestConfig()
	cfg.Server.AdminKey = AdminKey
	cfg.Security.RateLimitRPS = 1000
	cfg.Security.RateLimitBurst = 2000
	cfg.Security.AuthRateRPS = 1000
	cfg.Security.AuthRateBurst = 2000
	gameDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(gameDir, "index.html"), []byte("<canvas></canvas>"), 0o644))
	cfg.Web.GameDir = gameDir
	for _, tweak := range tweaks {
		tweak(cfg)
	}

	db := testutil.SetupTestDB(t)
	c, pubsub := testutil.SetupTestCache(t)

	a, err := app.New(cfg, db, c, pubsub, zap.NewNop())
	require.NoError(t, err)

	server := httptest.NewServer(a.Engine)
	ts := &TestServer{
		App:    a,
		Config: cfg,
		Server: server,
		URL:    server.URL,
		WSURL:  "ws" + strings.TrimPrefix(server.URL, "http") + "/ws",
	}
	t.Cleanup(ts.Close)
	return ts
}

// Close shuts down the HTTP server and the background services. Safe to
// call more than once.
func (ts *TestServer) Close() {
	ts.Server.Close()
	ts.App.Close()
}

// --- HTTP helpers ---

func (ts *TestServer) do(t *testing.T, method, path string, body interface{}, token string, headers ...string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// PostJSON sends a POST request with JSON body and optional Bearer token.
func (ts *TestServer) PostJSON(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodPost, path, body, token)
}

// Get sends a GET request with optional Bearer token.
func (ts *TestServer) Get(t *testing.T, path string, token string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodGet, path, nil, token)
}

// Delete sends a DELETE request with optional Bearer token.
func (ts *TestServer) Delete(t *testing.T, path string, token string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodDelete, path, nil, token)
}

// Put sends a PUT request with JSON body and optional Bearer token.
func (ts *TestServer) Put(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodPut, path, body, token)
}

// Admin sends a request carrying the admin key.
func (ts *TestServer) Admin(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()
	return ts.do(t, method, path, body, "", "X-Admin-Key", AdminKey)
}

// ReadJSON reads and decodes a JSON response body into the given target.
func ReadJSON(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, target), "body: %s", string(data))
}

// Drain closes resp and returns its status code.
func Drain(resp *http.Response) int {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return resp.StatusCode
}

// --- Auth helpers ---

// Signup registers username with TestPassword and returns the user id.
func (ts *TestServer) Signup(t *testing.T, username string) int64 {
	t.Helper()
	resp := ts.PostJSON(t, "/api/auth/signup", map[string]string{
		"username":         username,
		"password":         TestPassword,
		"confirm_password": TestPassword,
	}, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var result struct {
		User struct {
			ID int64 `json:"id"`
		} `json:"user"`
	}
	ReadJSON(t, resp, &result)
	return result.User.ID
}

// Login logs in and returns the token and user id.
func (ts *TestServer) Login(t *testing.T, username, password string) (token string, userID int64) {
	t.Helper()
	resp := ts.PostJSON(t, "/api/auth/login", map[string]string{
		"username": username,
		"password": password,
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result struct {
		Token string `json:"token"`
		User  struct {
			ID int64 `json:"id"`
		} `json:"user"`
	}
	ReadJSON(t, resp, &result)
	return result.Token, result.User.ID
}

// NewUser signs up and logs in a fresh user.
func (ts *TestServer) NewUser(t *testing.T, prefix string) (username, token string, id int64) {
	t.Helper()
	username = UniqueID(prefix)
	ts.Signup(t, username)
	token, id = ts.Login(t, username, TestPassword)
	return username, token, id
}

// --- Browser ---

// Browser is a cookie-carrying client that follows redirects, like a user
// filling in the HTML forms.
type Browser struct {
	t      *testing.T
	base   string
	client *http.Client
}

func (ts *TestServer) Browser(t *testing.T) *Browser {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &Browser{t: t, base: ts.URL, client: &http.Client{Jar: jar}}
}

// Get fetches a page and returns its status and body.
func (b *Browser) Get(path string) (int, string) {
	b.t.Helper()
	resp, err := b.client.Get(b.base + path)
	require.NoError(b.t, err)
	return readBody(b.t, resp)
}

// Post submits a form and returns the status and body of the final page.
func (b *Browser) Post(path string, form url.Values) (int, string) {
	b.t.Helper()
	resp, err := b.client.PostForm(b.base+path, form)
	require.NoError(b.t, err)
	return readBody(b.t, resp)
}

func readBody(t *testing.T, resp *http.Response) (int, string) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data)
}

// --- WebSocket client ---

// WSClient wraps a gorilla/websocket connection for integration testing.
// A background readLoop feeds readCh so receive timeouts never touch the
// connection's read deadline.
type WSClient struct {
	Conn   *websocket.Conn
	t      *testing.T
	seq    uint64
	readCh chan readResult
}

type readResult struct {
	data []byte
	err  error
}

// ConnectWS dials the WS endpoint with the given token.
func (ts *TestServer) ConnectWS(t *testing.T, token string) *WSClient {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(ts.WSURL+"?token="+url.QueryEscape(token), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	require.NoError(t, err, "WS dial failed")
	wc := &WSClient{Conn: conn, t: t, readCh: make(chan readResult, 256)}
	go wc.readLoop()
	t.Cleanup(wc.Close)
	return wc
}

func (wc *WSClient) readLoop() {
	for {
		_, data, err := wc.Conn.ReadMessage()
		wc.readCh <- readResult{data, err}
		if err != nil {
			return
		}
	}
}

// Send writes a packet with the next sequence number.
func (wc *WSClient) Send(msgType string, payload interface{}) {
	wc.t.Helper()
	seq := atomic.AddUint64(&wc.seq, 1)
	data, err := json.Marshal(map[string]interface{}{
		"seq":     seq,
		"type":    msgType,
		"payload": payload,
	})
	require.NoError(wc.t, err)
	require.NoError(wc.t, wc.Conn.WriteMessage(websocket.TextMessage, data))
}

// RecvAny reads one packet, or returns an error on timeout or read failure.
func (wc *WSClient) RecvAny(timeout time.Duration) (map[string]interface{}, error) {
	select {
	case res := <-wc.readCh:
		if res.err != nil {
			return nil, res.err
		}
		var pkt map[string]interface{}
		if err := json.Unmarshal(res.data, &pkt); err != nil {
			return nil, err
		}
		return pkt, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("read timeout after %s", timeout)
	}
}

// RecvType reads packets until one with the given type arrives.
func (wc *WSClient) RecvType(msgType string, timeout time.Duration) map[string]interface{} {
	wc.t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			wc.t.Fatalf("timed out waiting for message type %q", msgType)
		}
		pkt, err := wc.RecvAny(remaining)
		if err != nil {
			wc.t.Fatalf("WS recv failed while waiting for %q: %v", msgType, err)
		}
		if pkt["type"] == msgType {
			return pkt
		}
	}
}

// Ping round-trips a ping, which proves the session is registered.
func (wc *WSClient) Ping() {
	wc.t.Helper()
	wc.Send("ping", map[string]interface{}{"ts": time.Now().UnixMilli()})
	wc.RecvType("pong", 5*time.Second)
}

// Close closes the WebSocket connection.
func (wc *WSClient) Close() {
	_ = wc.Conn.Close()
}

// PayloadMap extracts the payload of a received packet as a map.
func PayloadMap(t *testing.T, pkt map[string]interface{}) map[string]interface{} {
	t.Helper()
	m, ok := pkt["payload"].(map[string]interface{})
	require.True(t, ok, "payload is not an object: %v", pkt["payload"])
	return m
}

// --- SSE client ---

// SSEEvent is one parsed server-sent event.
type SSEEvent struct {
	Name string
	Data string
}

// SSEClient reads events from an open /sse stream.
type SSEClient struct {
	resp   *http.Response
	events chan SSEEvent
}

// ConnectSSE opens the event stream for token and waits for "connected".
func (ts *TestServer) ConnectSSE(t *testing.T, token string) *SSEClient {
	t.Helper()
	resp, err := http.Get(ts.URL + "/sse?token=" + url.QueryEscape(token))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sc := &SSEClient{resp: resp, events: make(chan SSEEvent, 64)}
	go sc.readLoop()
	t.Cleanup(func() { _ = resp.Body.Close() })
	ev := sc.Next(t, 5*time.Second)
	require.Equal(t, "connected", ev.Name)
	return sc
}

func (sc *SSEClient) readLoop() {
	defer close(sc.events)
	sc2 := bufio.NewScanner(sc.resp.Body)
	var ev SSEEvent
	for sc2.Scan() {
		line := sc2.Text()
		switch {
		case line == "":
			if ev.Name != "" || ev.Data != "" {
				sc.events <- ev
			}
			ev = SSEEvent{}
		case strings.HasPrefix(line, "event:"):
			ev.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			ev.Data += strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
}

// Next returns the next event, skipping keepalive comments.
func (sc *SSEClient) Next(t *testing.T, timeout time.Duration) SSEEvent {
	t.Helper()
	select {
	case ev, ok := <-sc.events:
		require.True(t, ok, "SSE stream closed")
		return ev
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for SSE event")
		return SSEEvent{}
	}
}

// UniqueID returns a short unique string that is a valid username.
var testCounter uint64

func UniqueID(prefix string) string {
	n := atomic.AddUint64(&testCounter, 1)
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano()%100000, n)
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }

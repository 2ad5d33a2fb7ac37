package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/physquest/server/game/presence"
	mw "github.com/physquest/server/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func nop() *zap.Logger { l, _ := zap.NewDevelopment(); return l }

// fakeConn records text frames written by a session.
type fakeConn struct {
	out chan []byte
}

func (f *fakeConn) WriteMessage(mt int, data []byte) error {
	if mt == websocket.TextMessage {
		f.out <- data
	}
	return nil
}
func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }
func (f *fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (f *fakeConn) Close() error                     { return nil }

// newSession creates a Session backed by a fakeConn.
func newSession(t *testing.T, userID int64) (*presence.Session, *fakeConn) {
	t.Helper()
	fc := &fakeConn{out: make(chan []byte, 16)}
	s := presence.NewSession(userID, "user", fc, nop())
	t.Cleanup(s.Close)
	return s, fc
}

func (f *fakeConn) next(t *testing.T) presence.Packet {
	t.Helper()
	select {
	case data := <-f.out:
		var pkt presence.Packet
		require.NoError(t, json.Unmarshal(data, &pkt))
		return pkt
	case <-time.After(2 * time.Second):
		t.Fatal("no packet written")
	}
	return presence.Packet{}
}

func makePacket(t *testing.T, seq uint64, msgType string, payload interface{}) []byte {
	t.Helper()
	p, _ := json.Marshal(payload)
	pkt := presence.Packet{Seq: seq, Type: msgType, Payload: p}
	b, err := json.Marshal(pkt)
	require.NoError(t, err)
	return b
}

func TestRouter_On_Dispatch_Basic(t *testing.T) {
	r := NewRouter(nop())
	called := false
	r.On("ping", func(ctx context.Context, s *presence.Session, payload json.RawMessage) error {
		called = true
		return nil
	})

	s, _ := newSession(t, 1)
	r.Dispatch(s, makePacket(t, 1, "ping", nil))
	assert.True(t, called)
}

func TestRouter_Dispatch_MalformedJSON(t *testing.T) {
	r := NewRouter(nop())
	s, _ := newSession(t, 1)
	// Should not panic
	r.Dispatch(s, []byte("not json"))
}

func TestRouter_Dispatch_UnknownType(t *testing.T) {
	r := NewRouter(nop())
	called := false
	r.On("known", func(_ context.Context, _ *presence.Session, _ json.RawMessage) error {
		called = true
		return nil
	})
	s, _ := newSession(t, 1)
	r.Dispatch(s, makePacket(t, 1, "unknown", nil))
	assert.False(t, called)
}

func TestRouter_Dispatch_AntiReplay(t *testing.T) {
	r := NewRouter(nop())
	var callCount int
	r.On("msg", func(_ context.Context, _ *presence.Session, _ json.RawMessage) error {
		callCount++
		return nil
	})
	s, _ := newSession(t, 1)

	r.Dispatch(s, makePacket(t, 5, "msg", nil))
	assert.Equal(t, 1, callCount)

	// Same seq → rejected (replay)
	r.Dispatch(s, makePacket(t, 5, "msg", nil))
	// Lower seq → rejected
	r.Dispatch(s, makePacket(t, 3, "msg", nil))
	assert.Equal(t, 1, callCount)

	r.Dispatch(s, makePacket(t, 6, "msg", nil))
	r.Dispatch(s, makePacket(t, 100, "msg", nil))
	assert.Equal(t, 3, callCount)
}

func TestRouter_Dispatch_SeqZero_SkipsAntiReplay(t *testing.T) {
	r := NewRouter(nop())
	var callCount int
	r.On("msg", func(_ context.Context, _ *presence.Session, _ json.RawMessage) error {
		callCount++
		return nil
	})
	s, _ := newSession(t, 1)
	r.Dispatch(s, makePacket(t, 100, "msg", nil))

	r.Dispatch(s, makePacket(t, 0, "msg", nil))
	r.Dispatch(s, makePacket(t, 0, "msg", nil))
	assert.Equal(t, 3, callCount)
}

func TestRouter_Dispatch_PayloadPassed(t *testing.T) {
	r := NewRouter(nop())
	var got map[string]interface{}
	r.On("data", func(_ context.Context, _ *presence.Session, raw json.RawMessage) error {
		return json.Unmarshal(raw, &got)
	})
	s, _ := newSession(t, 1)
	r.Dispatch(s, makePacket(t, 1, "data", map[string]interface{}{"key": "value"}))
	assert.Equal(t, "value", got["key"])
}

func TestRouter_Dispatch_HandlerErrorReplies(t *testing.T) {
	r := NewRouter(nop())
	r.On("err", func(_ context.Context, _ *presence.Session, _ json.RawMessage) error {
		return assert.AnError
	})
	s, fc := newSession(t, 1)
	r.Dispatch(s, makePacket(t, 7, "err", nil))

	pkt := fc.next(t)
	assert.Equal(t, "error", pkt.Type)
	assert.EqualValues(t, 7, pkt.Seq)
	var body map[string]string
	require.NoError(t, json.Unmarshal(pkt.Payload, &body))
	assert.Equal(t, "err", body["type"])
}

func TestRouter_TraceIDInContext(t *testing.T) {
	r := NewRouter(nop())
	var traceID string
	r.On("trace", func(ctx context.Context, _ *presence.Session, _ json.RawMessage) error {
		traceID = mw.TraceIDFrom(ctx)
		return nil
	})
	s, _ := newSession(t, 1)
	r.Dispatch(s, makePacket(t, 1, "trace", nil))
	assert.NotEmpty(t, traceID)
	assert.Equal(t, s.TraceID, traceID)
}

func TestRouter_ReplaceHandler(t *testing.T) {
	r := NewRouter(nop())
	var calls []string
	r.On("msg", func(_ context.Context, _ *presence.Session, _ json.RawMessage) error {
		calls = append(calls, "first")
		return nil
	})
	r.On("msg", func(_ context.Context, _ *presence.Session, _ json.RawMessage) error {
		calls = append(calls, "second")
		return nil
	})
	s, _ := newSession(t, 1)
	r.Dispatch(s, makePacket(t, 1, "msg", nil))
	assert.Equal(t, []string{"second"}, calls)
}

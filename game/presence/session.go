// Package presence tracks which users hold a live WebSocket connection.
package presence

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	sendChanBuf   = 64
	writeDeadline = 10 * time.Second
	readDeadline  = 60 * time.Second
	pingInterval  = 30 * time.Second
)

// Packet is the WS message envelope.
type Packet struct {
	Seq     uint64          `json:"seq"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewPacket encodes payload into a server packet of the given type.
func NewPacket(typ string, payload interface{}) *Packet {
	p := &Packet{Type: typ}
	if payload != nil {
		p.Payload, _ = json.Marshal(payload)
	}
	return p
}

// Conn is the part of *websocket.Conn a Session writes to.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// Session is one connected user.
type Session struct {
	UserID   int64
	Username string
	TraceID  string

	conn      Conn
	sendChan  chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	lastSeq uint64
	logger  *zap.Logger
}

// NewSession wraps conn and starts its write pump.
func NewSession(userID int64, username string, conn Conn, logger *zap.Logger) *Session {
	s := &Session{
		UserID:   userID,
		Username: username,
		conn:     conn,
		sendChan: make(chan []byte, sendChanBuf),
		done:     make(chan struct{}),
		logger:   logger,
	}
	go s.writePump()
	return s
}

// writePump drains sendChan and pings the client so dead connections are
// noticed within a read deadline.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer s.conn.Close()
	for {
		select {
		case data := <-s.sendChan:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Warn("ws write error", zap.Int64("user_id", s.UserID), zap.Error(err))
				s.Close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close()
				return
			}
		case <-s.done:
			_ = s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Send encodes pkt and queues it. Packets are dropped when the session is
// closed or its queue is full.
func (s *Session) Send(pkt *Packet) {
	data, err := json.Marshal(pkt)
	if err != nil {
		return
	}
	s.SendRaw(data)
}

// SendRaw queues pre-encoded bytes.
func (s *Session) SendRaw(data []byte) {
	if s.IsClosed() {
		return
	}
	select {
	case s.sendChan <- data:
	case <-s.done:
	default:
		s.logger.Warn("send channel full, dropping packet", zap.Int64("user_id", s.UserID))
	}
}

// Close stops the write pump, which closes the connection.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) IsClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// AcceptSeq enforces strictly increasing client sequence numbers. Replayed
// or reordered packets are rejected.
func (s *Session) AcceptSeq(seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq <= s.lastSeq {
		return false
	}
	s.lastSeq = seq
	return true
}

// ExtendReadDeadline resets the read deadline after client activity.
func (s *Session) ExtendReadDeadline() {
	_ = s.conn.SetReadDeadline(time.Now().Add(readDeadline))
}

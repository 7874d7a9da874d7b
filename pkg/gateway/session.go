package gateway

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/yuthstyle88/api-108jobs-sub001/pkg/broker"
	"github.com/yuthstyle88/api-108jobs-sub001/pkg/crypto"
	"github.com/yuthstyle88/api-108jobs-sub001/pkg/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
)

// Router is the broker surface a session needs.
type Router interface {
	Register(s broker.Session)
	Unregister(s broker.Session)
	Subscribe(s broker.Session, topic string)
	Unsubscribe(s broker.Session, topic string)
	Dispatch(s broker.Session, f *protocol.Frame)
}

// Presence is the liveness surface a session needs.
type Presence interface {
	Connect(connID, userID string)
	Heartbeat(connID string)
	Disconnect(connID string)
}

// Session is one WebSocket connection. The read pump parses and routes
// inbound frames; the write pump serializes everything going out.
type Session struct {
	id     string
	userID string
	key    []byte // per-session payload key, nil when encryption is off

	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	router Router
	pres   Presence
	log    *zap.Logger
}

func newSession(id, userID string, key []byte, conn *websocket.Conn, router Router, pres Presence, log *zap.Logger) *Session {
	return &Session{
		id:     id,
		userID: userID,
		key:    key,
		conn:   conn,
		send:   make(chan []byte, 256),
		done:   make(chan struct{}),
		router: router,
		pres:   pres,
		log:    log,
	}
}

func (s *Session) ID() string     { return s.id }
func (s *Session) UserID() string { return s.userID }

// Send queues a frame for the write pump. It never blocks; a full buffer
// means the client is too slow and the frame is dropped. The broker may
// race a disconnect, so the channel is never closed, the done signal ends
// the write pump instead.
func (s *Session) Send(frame []byte) bool {
	select {
	case <-s.done:
		return false
	case s.send <- frame:
		return true
	default:
		return false
	}
}

func (s *Session) readPump() {
	defer func() {
		s.router.Unregister(s)
		s.pres.Disconnect(s.id)
		close(s.done)
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("read error", zap.String("conn", s.id), zap.Error(err))
			}
			return
		}

		frame, err := protocol.Parse(raw)
		if err != nil {
			// Malformed frames are dropped without a reply.
			s.log.Debug("dropping malformed frame", zap.String("conn", s.id), zap.Error(err))
			continue
		}
		s.handleFrame(frame)
	}
}

func (s *Session) handleFrame(f *protocol.Frame) {
	switch f.Event {
	case protocol.EventHeartbeat:
		s.pres.Heartbeat(s.id)
	case protocol.EventJoin:
		if !s.canJoin(f.Topic) {
			s.log.Warn("join rejected", zap.String("conn", s.id),
				zap.String("user", s.userID), zap.String("topic", f.Topic))
			s.reply(f, "error", map[string]any{"reason": "unauthorized"})
			return
		}
		s.router.Subscribe(s, f.Topic)
	case protocol.EventLeave:
		s.router.Unsubscribe(s, f.Topic)
	case protocol.EventMessage:
		s.decryptInbound(f)
		s.router.Dispatch(s, f)
	default:
		s.router.Dispatch(s, f)
	}
	// Every accepted frame gets a transport-level reply echoing the
	// (decrypted) payload. This is separate from the pending-ack protocol.
	s.reply(f, "ok", f.Payload)
}

// canJoin authorizes a topic before the broker ever sees the subscription.
// Direct-message rooms admit only their two named members, a user event
// stream admits only its owner; other rooms are open channels.
func (s *Session) canJoin(topic string) bool {
	if topic == protocol.UserTopic(s.userID) || topic == protocol.TopicGlobal {
		return true
	}
	if strings.HasPrefix(topic, "user:") {
		return false
	}
	roomID := protocol.RoomFromTopic(topic)
	if roomID != topic && strings.HasPrefix(roomID, "dm:") {
		parts := strings.SplitN(roomID, ":", 3)
		return len(parts) == 3 && (parts[1] == s.userID || parts[2] == s.userID)
	}
	return true
}

// decryptInbound unwraps an encrypted content field in place. Content that
// fails to decrypt passes through untouched; the client sees its own bytes
// echoed back and can tell the key did not match.
func (s *Session) decryptInbound(f *protocol.Frame) {
	if s.key == nil || f.Payload == nil || !protocol.Secure(f.Payload) {
		return
	}
	content, ok := f.Payload["content"].(string)
	if !ok || !protocol.LooksEncrypted(content) {
		return
	}
	plain, err := crypto.Decrypt(s.key, content)
	if err != nil {
		s.log.Debug("inbound decrypt failed, passing through", zap.String("conn", s.id), zap.Error(err))
		return
	}
	f.Payload["content"] = plain
}

// encryptOutbound seals the content of secure message frames with this
// session's key. Frames that are not secure messages go out as-is.
func (s *Session) encryptOutbound(frame []byte) []byte {
	if s.key == nil {
		return frame
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(frame, &parts); err != nil || len(parts) != 5 {
		return frame
	}
	var event string
	if json.Unmarshal(parts[3], &event) != nil || event != protocol.EventMessage {
		return frame
	}
	var payload map[string]any
	if json.Unmarshal(parts[4], &payload) != nil || !protocol.Secure(payload) {
		return frame
	}
	content, ok := payload["content"].(string)
	if !ok {
		return frame
	}
	sealed, err := crypto.Encrypt(s.key, content)
	if err != nil {
		s.log.Warn("outbound encrypt failed", zap.String("conn", s.id), zap.Error(err))
		return frame
	}
	payload["content"] = sealed
	rawPayload, err := json.Marshal(payload)
	if err != nil {
		return frame
	}
	parts[4] = rawPayload
	out, err := json.Marshal(parts)
	if err != nil {
		return frame
	}
	return out
}

func (s *Session) reply(f *protocol.Frame, status string, response any) {
	if f.MsgRef == "" {
		return
	}
	if out := protocol.Reply(f.JoinRef, f.MsgRef, f.Topic, status, response); out != nil {
		s.Send(out)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case frame := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, s.encryptOutbound(frame)); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Package protocol implements the multiplexed wire envelope
// [joinRef, msgRef, topic, event, payload] used by chat clients.
package protocol

import (
	"encoding/json"
	"strings"

	"github.com/yuthstyle88/api-108jobs-sub001/pkg/errs"
)

// Wire events. Unrecognized events are passed through untouched.
const (
	EventJoin        = "phxJoin"
	EventLeave       = "phxLeave"
	EventHeartbeat   = "heartbeat"
	EventMessage     = "chat:message"
	EventMessageAck  = "chat:messageAck"
	EventRead        = "chat:read"
	EventAckConfirm  = "chat:ack"
	EventSyncPending = "chat:sync"
	EventTypingStart = "typing:start"
	EventTypingStop  = "typing:stop"
	EventUpdate      = "chat:update"
	EventChatsSignal = "chats:signal"
	EventReply       = "phx_reply"
)

// Frame is one parsed envelope. Payload is non-nil only when the wire
// payload was a JSON object; Raw always holds the original payload bytes so
// replies can echo exactly what arrived.
type Frame struct {
	JoinRef string
	MsgRef  string
	Topic   string
	Event   string
	Payload map[string]any
	Raw     json.RawMessage
}

// RoomID derives the room identifier from the frame topic. Room channels are
// named "room:<id>"; any other topic (user feeds, global) maps to itself.
func (f *Frame) RoomID() string {
	return RoomFromTopic(f.Topic)
}

func RoomFromTopic(topic string) string {
	if id, ok := strings.CutPrefix(topic, "room:"); ok {
		return id
	}
	return topic
}

// TopicGlobal carries presence broadcasts; every session listens to it.
const TopicGlobal = "global"

func RoomTopic(roomID string) string {
	return "room:" + roomID
}

func UserTopic(userID string) string {
	return "user:" + userID + ":events"
}

// Parse decodes a wire envelope. Any shape violation yields ErrProtocol; the
// session drops such frames without replying.
func Parse(raw []byte) (*Frame, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil, errs.Protocol("envelope is not a JSON array")
	}
	if len(parts) < 5 {
		return nil, errs.Protocol("envelope has %d elements, want 5", len(parts))
	}

	f := &Frame{Raw: parts[4]}
	f.JoinRef = refString(parts[0])
	f.MsgRef = refString(parts[1])
	if err := json.Unmarshal(parts[2], &f.Topic); err != nil {
		return nil, errs.Protocol("topic is not a string")
	}
	if err := json.Unmarshal(parts[3], &f.Event); err != nil {
		return nil, errs.Protocol("event is not a string")
	}

	// Object payloads are decoded for inspection; anything else rides along
	// in Raw only.
	var obj map[string]any
	if err := json.Unmarshal(parts[4], &obj); err == nil {
		f.Payload = obj
	}
	return f, nil
}

// refString reads a join/msg ref that may be a string or null.
func refString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

// Reply builds the synchronous transport-level acknowledgment for an inbound
// frame, echoing the (decrypted) payload back to the sender.
func Reply(joinRef, msgRef, topic, status string, response any) []byte {
	out, err := json.Marshal([]any{
		joinRef,
		msgRef,
		topic,
		EventReply,
		map[string]any{"status": status, "response": response},
	})
	if err != nil {
		return nil
	}
	return out
}

// Push builds a server-initiated frame: [null, null, topic, event, payload].
func Push(topic, event string, payload any) []byte {
	out, err := json.Marshal([]any{nil, nil, topic, event, payload})
	if err != nil {
		return nil
	}
	return out
}

// Secure reports whether an object payload is flagged for payload-level
// encryption.
func Secure(payload map[string]any) bool {
	v, ok := payload["secure"].(bool)
	return ok && v
}

// LooksEncrypted is a conservative heuristic for base64 ciphertext: long
// enough to hold an IV and made only of base64 characters.
func LooksEncrypted(s string) bool {
	trimmed := strings.TrimSpace(s)
	if len(trimmed) < 16 {
		return false
	}
	for _, c := range trimmed {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '+' || c == '/' || c == '=':
		default:
			return false
		}
	}
	return true
}

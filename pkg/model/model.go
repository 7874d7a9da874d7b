package model

import "time"

// Delivery status carried on the wire. Messages enter the broker as
// "sending" and are fanned out as "delivered"; "read" and "failed" are
// client-side states echoed back through chat:update events.
const (
	StatusSending   = "sending"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
)

// Message is a durable chat message. ClientRef is the client-chosen
// idempotency key, unique per room; ID is the server-assigned snowflake id
// used for history ordering and cursors. Messages are immutable once flushed.
type Message struct {
	ID        int64     `json:"id"`
	ClientRef string    `json:"clientRef"`
	RoomID    string    `json:"roomId"`
	SenderID  string    `json:"senderId"`
	Content   string    `json:"content"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// Room is a logical conversation channel. Direct-message rooms use the
// derived id "dm:<user>:<user>"; explicit rooms carry their own id and an
// optional linked post.
type Room struct {
	RoomID    string    `json:"room_id"`
	Name      string    `json:"name"`
	PostID    int64     `json:"post_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Participant authorizes history access and is the fan-out target set for
// unread increments.
type Participant struct {
	RoomID   string    `json:"room_id"`
	MemberID string    `json:"member_id"`
	JoinedAt time.Time `json:"joined_at"`
}

// PendingAck is an application-level delivery receipt awaiting confirmation
// from the sender's client. ClientID is the opaque client ref token.
type PendingAck struct {
	RoomID    string    `json:"room_id"`
	SenderID  string    `json:"sender_id"`
	ClientID  string    `json:"client_id"`
	CreatedAt time.Time `json:"created_at"`
}

// UnreadEntry is one row of a user's unread snapshot. The counter and the
// last-message metadata live in separate tables so that resetting the count
// never disturbs LastMessageRef/LastMessageAt.
type UnreadEntry struct {
	RoomID         string    `json:"room_id"`
	UnreadCount    int64     `json:"unread_count"`
	LastMessageRef string    `json:"last_message_ref,omitempty"`
	LastMessageAt  time.Time `json:"last_message_at,omitempty"`
}

// LastRead is a user's read pointer within a room, upserted on every read
// event.
type LastRead struct {
	RoomID      string    `json:"room_id"`
	UserID      string    `json:"user_id"`
	LastReadRef string    `json:"last_read_ref"`
	UpdatedAt   time.Time `json:"updated_at"`
}

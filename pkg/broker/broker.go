// Package broker is the delivery core of the chat subsystem. A single
// goroutine owns every routing table; sessions, the presence manager, the
// bridge and the flusher all feed it through one mailbox.
package broker

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/yuthstyle88/api-108jobs-sub001/pkg/ack"
	"github.com/yuthstyle88/api-108jobs-sub001/pkg/model"
	"github.com/yuthstyle88/api-108jobs-sub001/pkg/presence"
	"github.com/yuthstyle88/api-108jobs-sub001/pkg/protocol"
	"github.com/yuthstyle88/api-108jobs-sub001/pkg/snowflake"
)

// Session is a live client connection from the broker's point of view. Send
// must not block; it reports false when the connection's buffer is full.
type Session interface {
	ID() string
	UserID() string
	Send(frame []byte) bool
}

// Persistence is the durable write/read path. *store.Store satisfies it.
type Persistence interface {
	SaveMessage(ctx context.Context, m model.Message) (int64, bool, error)
	IncrementUnread(ctx context.Context, userID, roomID string, n int64) error
	ResetUnread(ctx context.Context, userID, roomID string) error
	UpsertLastRead(ctx context.Context, roomID, userID, lastReadRef string, updatedAt time.Time) error
	Participants(ctx context.Context, roomID string) ([]string, error)
}

// Transport relays frames between nodes. *bridge.Bridge satisfies it.
type Transport interface {
	Join(topic string) error
	Leave(topic string)
	Publish(topic, event string, payload []byte) error
}

// Feed receives every durable message for downstream consumers.
type Feed interface {
	Emit(ctx context.Context, m model.Message) error
}

// Roster mirrors room membership to shared storage for other processes.
type Roster interface {
	Add(ctx context.Context, roomID, userID string) error
	Remove(ctx context.Context, roomID, userID string) error
}

type evKind int

const (
	evRegister evKind = iota
	evUnregister
	evSubscribe
	evUnsubscribe
	evInbound
	evRemote
	evDeliver
	evRequeue
	evFlush
)

// event is one mailbox entry. Everything rides through a single channel so
// operations keep their producer order: a subscribe enqueued before a
// dispatch is always applied before it.
type event struct {
	kind    evKind
	sess    Session
	topic   string
	name    string
	frame   *protocol.Frame
	payload any
	raw     json.RawMessage
	batch   flushBatch
	reply   chan flushBatch
}

type refKey struct {
	roomID    string
	clientRef string
}

// flushBatch is what the flusher takes ownership of on each tick.
type flushBatch struct {
	messages []model.Message
}

type signalPayload struct {
	RoomID         string    `json:"roomId"`
	UnreadCount    *int64    `json:"unreadCount,omitempty"`
	LastMessageRef string    `json:"lastMessageRef,omitempty"`
	LastMessageAt  time.Time `json:"lastMessageAt,omitzero"`
}

type Broker struct {
	node *snowflake.Node
	log  *zap.Logger

	persist   Persistence
	transport Transport
	feed      Feed
	roster    Roster
	acks      ack.Store

	mailbox    chan event
	presenceCh <-chan presence.Event

	sessions map[string]Session            // conn id -> session
	topics   map[string]map[string]Session // topic -> conn id -> session
	subs     map[string]map[string]bool    // conn id -> topics
	lastRead map[string]map[string]string  // room id -> user id -> ref

	buffer []model.Message
	refIDs map[refKey]int64
}

func New(
	node *snowflake.Node,
	persist Persistence,
	transport Transport,
	feed Feed,
	roster Roster,
	acks ack.Store,
	presenceEvents <-chan presence.Event,
	log *zap.Logger,
) *Broker {
	return &Broker{
		node:       node,
		log:        log,
		persist:    persist,
		transport:  transport,
		feed:       feed,
		roster:     roster,
		acks:       acks,
		mailbox:    make(chan event, 512),
		presenceCh: presenceEvents,
		sessions:   make(map[string]Session),
		topics:     make(map[string]map[string]Session),
		subs:       make(map[string]map[string]bool),
		lastRead:   make(map[string]map[string]string),
		refIDs:     make(map[refKey]int64),
	}
}

// Register attaches a session to the broker.
func (b *Broker) Register(s Session) { b.mailbox <- event{kind: evRegister, sess: s} }

// Unregister detaches a session and drops all its subscriptions.
func (b *Broker) Unregister(s Session) { b.mailbox <- event{kind: evUnregister, sess: s} }

// Subscribe joins a session to a topic.
func (b *Broker) Subscribe(s Session, topic string) {
	b.mailbox <- event{kind: evSubscribe, sess: s, topic: topic}
}

// Unsubscribe removes a session from a topic.
func (b *Broker) Unsubscribe(s Session, topic string) {
	b.mailbox <- event{kind: evUnsubscribe, sess: s, topic: topic}
}

// Dispatch hands an inbound client frame to the broker.
func (b *Broker) Dispatch(s Session, f *protocol.Frame) {
	b.mailbox <- event{kind: evInbound, sess: s, frame: f}
}

// Remote injects a frame published by another node.
func (b *Broker) Remote(topic, name string, payload json.RawMessage) {
	b.mailbox <- event{kind: evRemote, topic: topic, name: name, raw: payload}
}

// SwapBuffer hands the current write-behind buffer to the caller and resets
// it. Used by the flusher. The swap rides the mailbox so a requeue enqueued
// before it is back in the buffer when the swap runs.
func (b *Broker) SwapBuffer() flushBatch {
	reply := make(chan flushBatch, 1)
	b.mailbox <- event{kind: evFlush, reply: reply}
	return <-reply
}

// Requeue puts a failed batch back in front of the buffer so the next tick
// retries it.
func (b *Broker) Requeue(batch flushBatch) {
	b.mailbox <- event{kind: evRequeue, batch: batch}
}

// Run owns all broker state until ctx is done.
func (b *Broker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.mailbox:
			b.handle(ev)
		case e := <-b.presenceCh:
			b.handlePresence(e)
		}
	}
}

func (b *Broker) handle(ev event) {
	switch ev.kind {
	case evRegister:
		b.sessions[ev.sess.ID()] = ev.sess
		b.subs[ev.sess.ID()] = make(map[string]bool)
	case evUnregister:
		b.dropSession(ev.sess)
	case evSubscribe:
		b.addSubscription(ev.sess, ev.topic)
	case evUnsubscribe:
		b.dropSubscription(ev.sess, ev.topic)
	case evInbound:
		b.handleInbound(ev.sess, ev.frame)
	case evRemote:
		b.fanOut(ev.topic, ev.name, ev.raw)
	case evDeliver:
		b.fanOut(ev.topic, ev.name, ev.payload)
	case evRequeue:
		b.buffer = append(ev.batch.messages, b.buffer...)
		for _, m := range ev.batch.messages {
			b.refIDs[refKey{m.RoomID, m.ClientRef}] = m.ID
		}
	case evFlush:
		batch := flushBatch{messages: b.buffer}
		b.buffer = nil
		b.refIDs = make(map[refKey]int64)
		ev.reply <- batch
	}
}

func (b *Broker) dropSession(s Session) {
	if _, ok := b.sessions[s.ID()]; !ok {
		return
	}
	for topic := range b.subs[s.ID()] {
		b.dropSubscription(s, topic)
	}
	delete(b.subs, s.ID())
	delete(b.sessions, s.ID())
}

func (b *Broker) addSubscription(s Session, topic string) {
	set, ok := b.topics[topic]
	if !ok {
		set = make(map[string]Session)
		b.topics[topic] = set
		go func() {
			if err := b.transport.Join(topic); err != nil {
				b.log.Warn("bridge join failed", zap.String("topic", topic), zap.Error(err))
			}
		}()
	}
	set[s.ID()] = s
	if subs, ok := b.subs[s.ID()]; ok {
		subs[topic] = true
	}

	if roomID, isRoom := cutRoom(topic); isRoom && b.roster != nil {
		go func() {
			ctx, cancel := opCtx()
			defer cancel()
			if err := b.roster.Add(ctx, roomID, s.UserID()); err != nil {
				b.log.Warn("roster add failed", zap.String("room", roomID), zap.Error(err))
			}
		}()
	}
}

func (b *Broker) dropSubscription(s Session, topic string) {
	set, ok := b.topics[topic]
	if !ok {
		return
	}
	delete(set, s.ID())
	if subs, ok := b.subs[s.ID()]; ok {
		delete(subs, topic)
	}
	if len(set) == 0 {
		delete(b.topics, topic)
		go b.transport.Leave(topic)
	}

	if roomID, isRoom := cutRoom(topic); isRoom && b.roster != nil {
		go func() {
			ctx, cancel := opCtx()
			defer cancel()
			if err := b.roster.Remove(ctx, roomID, s.UserID()); err != nil {
				b.log.Warn("roster remove failed", zap.String("room", roomID), zap.Error(err))
			}
		}()
	}
}

func (b *Broker) handleInbound(s Session, f *protocol.Frame) {
	switch f.Event {
	case protocol.EventMessage:
		b.handleMessage(s, f)
	case protocol.EventRead:
		b.handleRead(s, f)
	case protocol.EventAckConfirm:
		b.handleAckConfirm(s, f)
	case protocol.EventSyncPending:
		b.handleSyncPending(s, f)
	case protocol.EventTypingStart, protocol.EventTypingStop:
		b.fanOutExcept(f.Topic, f.Event, f.Payload, s.ID())
		b.publishRemoteJSON(f.Topic, f.Event, f.Payload)
	default:
		// Unknown events pass through to the topic untouched.
		b.fanOutExcept(f.Topic, f.Event, f.Payload, s.ID())
		b.publishRemoteJSON(f.Topic, f.Event, f.Payload)
	}
}

func (b *Broker) handleMessage(s Session, f *protocol.Frame) {
	clientRef, _ := f.Payload["clientId"].(string)
	content, _ := f.Payload["content"].(string)
	if clientRef == "" {
		b.log.Warn("message without clientId dropped", zap.String("user", s.UserID()))
		return
	}
	roomID := f.RoomID()

	// A replay inside the flush window reuses the id it was first assigned,
	// and the buffered copy is replaced rather than duplicated.
	key := refKey{roomID, clientRef}
	id, replay := b.refIDs[key]
	if !replay {
		id = b.node.Generate()
		b.refIDs[key] = id
	}

	msg := model.Message{
		ID:        id,
		ClientRef: clientRef,
		RoomID:    roomID,
		SenderID:  s.UserID(),
		Content:   content,
		Status:    model.StatusDelivered,
		CreatedAt: time.Now(),
	}
	if replay {
		for i := range b.buffer {
			if b.buffer[i].ID == id {
				b.buffer[i] = msg
				break
			}
		}
	} else {
		b.buffer = append(b.buffer, msg)
	}

	b.fanOut(f.Topic, protocol.EventMessage, msg)
	s.Send(protocol.Push(f.Topic, protocol.EventMessageAck, map[string]any{"clientId": clientRef}))
	b.publishRemoteJSON(f.Topic, protocol.EventMessage, msg)

	go b.afterMessage(msg)
}

// afterMessage runs the slow half of delivery off the broker goroutine:
// pending-ack bookkeeping, unread counters, per-user signals and the
// durable feed.
func (b *Broker) afterMessage(msg model.Message) {
	ctx, cancel := opCtx()
	defer cancel()

	if err := b.acks.Enqueue(ctx, msg.RoomID, msg.SenderID, msg.ClientRef); err != nil {
		b.log.Error("enqueue pending ack", zap.String("clientRef", msg.ClientRef), zap.Error(err))
	}

	if b.feed != nil {
		if err := b.feed.Emit(ctx, msg); err != nil {
			b.log.Error("emit to feed", zap.String("clientRef", msg.ClientRef), zap.Error(err))
		}
	}

	participants, err := b.persist.Participants(ctx, msg.RoomID)
	if err != nil {
		b.log.Error("load participants", zap.String("room", msg.RoomID), zap.Error(err))
		return
	}
	for _, userID := range participants {
		if userID == msg.SenderID {
			continue
		}
		if err := b.persist.IncrementUnread(ctx, userID, msg.RoomID, 1); err != nil {
			b.log.Error("increment unread", zap.String("user", userID), zap.Error(err))
		}
		b.signalUser(userID, signalPayload{
			RoomID:         msg.RoomID,
			LastMessageRef: msg.ClientRef,
			LastMessageAt:  msg.CreatedAt,
		})
	}
}

func (b *Broker) handleRead(s Session, f *protocol.Frame) {
	lastReadRef, _ := f.Payload["clientId"].(string)
	if lastReadRef == "" {
		return
	}
	roomID := f.RoomID()
	userID := s.UserID()
	now := time.Now()

	room, ok := b.lastRead[roomID]
	if !ok {
		room = make(map[string]string)
		b.lastRead[roomID] = room
	}
	room[userID] = lastReadRef

	receipt := map[string]any{
		"userId":    userID,
		"clientId":  lastReadRef,
		"status":    model.StatusRead,
		"updatedAt": now,
	}
	b.fanOut(f.Topic, protocol.EventRead, receipt)
	b.publishRemoteJSON(f.Topic, protocol.EventRead, receipt)

	zero := int64(0)
	b.signalUser(userID, signalPayload{RoomID: roomID, UnreadCount: &zero})

	// The durable marker is written off the hot path; a failure only costs
	// the marker, the in-memory state already moved.
	go func() {
		ctx, cancel := opCtx()
		defer cancel()
		if err := b.persist.UpsertLastRead(ctx, roomID, userID, lastReadRef, now); err != nil {
			b.log.Error("upsert last read", zap.String("room", roomID), zap.String("user", userID), zap.Error(err))
		}
		if err := b.persist.ResetUnread(ctx, userID, roomID); err != nil {
			b.log.Error("reset unread", zap.String("room", roomID), zap.String("user", userID), zap.Error(err))
		}
	}()
}

func (b *Broker) handleAckConfirm(s Session, f *protocol.Frame) {
	ids := stringSlice(f.Payload["clientIds"])
	roomID := f.RoomID()
	userID := s.UserID()
	go func() {
		ctx, cancel := opCtx()
		defer cancel()
		res, err := b.acks.Confirm(ctx, roomID, userID, ids)
		if err != nil {
			b.log.Error("confirm pending acks", zap.String("room", roomID), zap.Error(err))
			return
		}
		s.Send(protocol.Push(f.Topic, protocol.EventAckConfirm, res))
	}()
}

func (b *Broker) handleSyncPending(s Session, f *protocol.Frame) {
	roomID := f.RoomID()
	userID := s.UserID()
	limit := 0
	if n, ok := f.Payload["limit"].(float64); ok {
		limit = int(n)
	}
	go func() {
		ctx, cancel := opCtx()
		defer cancel()
		entries, err := b.acks.List(ctx, roomID, userID, limit)
		if err != nil {
			b.log.Error("list pending acks", zap.String("room", roomID), zap.Error(err))
			return
		}
		s.Send(protocol.Push(f.Topic, protocol.EventSyncPending, map[string]any{"pending": entries}))
	}()
}

func (b *Broker) handlePresence(e presence.Event) {
	online := e.Kind == presence.Online
	payload := map[string]any{"userId": e.UserID, "online": online}
	b.fanOut(protocol.TopicGlobal, "presence:update", payload)
	b.publishRemoteJSON(protocol.TopicGlobal, "presence:update", payload)
}

// LastRead returns the in-memory read marker for a user in a room.
func (b *Broker) LastRead(roomID, userID string) (string, bool) {
	// Only safe from the broker goroutine or tests; external readers use
	// the durable table.
	room, ok := b.lastRead[roomID]
	if !ok {
		return "", false
	}
	ref, ok := room[userID]
	return ref, ok
}

func (b *Broker) signalUser(userID string, p signalPayload) {
	topic := protocol.UserTopic(userID)
	// Deliveries loop back through the mailbox so this is safe from any
	// goroutine, including the broker's own. A full mailbox drops the signal
	// rather than deadlock.
	select {
	case b.mailbox <- event{kind: evDeliver, topic: topic, name: protocol.EventChatsSignal, payload: p}:
	default:
		b.log.Warn("mailbox full, dropping signal", zap.String("user", userID))
	}
	b.publishRemoteJSON(topic, protocol.EventChatsSignal, p)
}

func (b *Broker) fanOut(topic, event string, payload any) {
	b.fanOutExcept(topic, event, payload, "")
}

func (b *Broker) fanOutExcept(topic, event string, payload any, skipConn string) {
	set := b.topics[topic]
	if len(set) == 0 {
		return
	}
	frame := protocol.Push(topic, event, payload)
	for id, sess := range set {
		if id == skipConn {
			continue
		}
		if !sess.Send(frame) {
			b.log.Warn("session buffer full, dropping frame",
				zap.String("conn", id), zap.String("topic", topic))
		}
	}
}

func (b *Broker) publishRemoteJSON(topic, event string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		b.log.Error("encode bridge payload", zap.String("topic", topic), zap.Error(err))
		return
	}
	go func() {
		if err := b.transport.Publish(topic, event, raw); err != nil {
			b.log.Warn("bridge publish failed", zap.String("topic", topic), zap.Error(err))
		}
	}()
}

func cutRoom(topic string) (string, bool) {
	roomID := protocol.RoomFromTopic(topic)
	return roomID, roomID != topic
}

func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}

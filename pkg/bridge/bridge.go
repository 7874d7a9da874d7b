// Package bridge relays broadcast frames between gateway nodes over Redis
// Pub/Sub. Each topic maps to one Redis channel; delivery is best effort and
// at most once, local fan-out never waits on it.
package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/yuthstyle88/api-108jobs-sub001/pkg/errs"
)

const (
	channelPrefix = "chat."

	joinTimeout    = 5 * time.Second
	publishTimeout = 5 * time.Second
)

// Envelope is the frame exchanged between nodes. Origin carries the sending
// node's id so nodes can ignore their own publications.
type Envelope struct {
	Origin  string          `json:"origin"`
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Handler receives frames published by other nodes.
type Handler func(topic, event string, payload json.RawMessage)

type handle struct {
	pubsub *redis.PubSub
	refs   int
}

type Bridge struct {
	client  *redis.Client
	origin  string
	handler Handler
	log     *zap.Logger

	mu      sync.RWMutex
	handles map[string]*handle
}

func New(client *redis.Client, origin string, handler Handler, log *zap.Logger) *Bridge {
	return &Bridge{
		client:  client,
		origin:  origin,
		handler: handler,
		log:     log,
		handles: make(map[string]*handle),
	}
}

// Join subscribes this node to a topic's channel. Calls are reference
// counted; the subscription is created once and shared.
func (b *Bridge) Join(topic string) error {
	b.mu.Lock()
	if h, ok := b.handles[topic]; ok {
		h.refs++
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	// Subscribe outside the lock, then re-check: another goroutine may have
	// created the handle while we were connecting.
	ctx, cancel := context.WithTimeout(context.Background(), joinTimeout)
	defer cancel()
	pubsub := b.client.Subscribe(ctx, channelPrefix+topic)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return errs.Transport(err, "join %s", topic)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if h, ok := b.handles[topic]; ok {
		h.refs++
		_ = pubsub.Close()
		return nil
	}
	b.handles[topic] = &handle{pubsub: pubsub, refs: 1}
	go b.consume(topic, pubsub)
	return nil
}

// Leave drops one reference to a topic; the channel is unsubscribed when the
// last local member is gone.
func (b *Bridge) Leave(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.handles[topic]
	if !ok {
		return
	}
	h.refs--
	if h.refs > 0 {
		return
	}
	delete(b.handles, topic)
	if err := h.pubsub.Close(); err != nil {
		b.log.Warn("closing bridge channel", zap.String("topic", topic), zap.Error(err))
	}
}

// Publish sends a frame to the other nodes subscribed to topic.
func (b *Bridge) Publish(topic, event string, payload []byte) error {
	raw, err := json.Marshal(Envelope{
		Origin:  b.origin,
		Topic:   topic,
		Event:   event,
		Payload: payload,
	})
	if err != nil {
		return errs.Transport(err, "encode bridge frame")
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := b.client.Publish(ctx, channelPrefix+topic, raw).Err(); err != nil {
		return errs.Transport(err, "publish to %s", topic)
	}
	return nil
}

// Close tears down every subscription.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, h := range b.handles {
		_ = h.pubsub.Close()
		delete(b.handles, topic)
	}
}

func (b *Bridge) consume(topic string, pubsub *redis.PubSub) {
	for msg := range pubsub.Channel() {
		b.dispatch(msg.Payload)
	}
	b.log.Debug("bridge channel closed", zap.String("topic", topic))
}

// dispatch decodes one wire frame and hands it to the handler unless this
// node published it.
func (b *Bridge) dispatch(raw string) {
	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		b.log.Warn("dropping malformed bridge frame", zap.Error(err))
		return
	}
	if env.Origin == b.origin {
		return
	}
	b.handler(env.Topic, env.Event, env.Payload)
}

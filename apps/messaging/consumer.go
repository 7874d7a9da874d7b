package main

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/yuthstyle88/api-108jobs-sub001/pkg/model"
	"github.com/yuthstyle88/api-108jobs-sub001/pkg/store"
)

// Consumer drains the durable message feed and maintains the per-user
// conversation projection. Every write is an idempotent upsert, so the
// at-least-once delivery from Kafka is safe to replay.
type Consumer struct {
	reader *kafka.Reader
	store  *store.Store
	log    *zap.Logger
}

func NewConsumer(brokers []string, topic, groupID string, st *store.Store, log *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: r, store: st, log: log}
}

func (c *Consumer) Consume(ctx context.Context) {
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Error("read feed message, retrying", zap.Error(err))
			time.Sleep(1 * time.Second)
			continue
		}

		var msg model.Message
		if err := json.Unmarshal(m.Value, &msg); err != nil {
			c.log.Warn("skipping malformed feed record", zap.Error(err))
			continue
		}
		c.project(ctx, msg)
	}
}

// project updates each participant's conversation list with the newest
// message of the room.
func (c *Consumer) project(ctx context.Context, msg model.Message) {
	participants, err := c.store.Participants(ctx, msg.RoomID)
	if err != nil {
		c.log.Error("load participants", zap.String("room", msg.RoomID), zap.Error(err))
		return
	}
	if len(participants) == 0 {
		// Direct-message rooms carry their member pair in the id; register
		// them on first sight.
		participants = dmMembers(msg.RoomID)
		for _, userID := range participants {
			if err := c.store.AddParticipant(ctx, msg.RoomID, userID); err != nil {
				c.log.Error("register dm participant",
					zap.String("room", msg.RoomID), zap.String("user", userID), zap.Error(err))
			}
		}
	}

	for _, userID := range participants {
		if err := c.store.UpsertConversationMeta(ctx, userID, msg.RoomID, msg.ClientRef, msg.CreatedAt); err != nil {
			c.log.Error("upsert conversation",
				zap.String("room", msg.RoomID), zap.String("user", userID), zap.Error(err))
		}
	}
	c.log.Debug("projected message",
		zap.String("room", msg.RoomID), zap.Int64("id", msg.ID), zap.Int("participants", len(participants)))
}

func dmMembers(roomID string) []string {
	parts := strings.Split(roomID, ":")
	if len(parts) != 3 || parts[0] != "dm" {
		return nil
	}
	return []string{parts[1], parts[2]}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

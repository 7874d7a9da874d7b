package broker

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"github.com/yuthstyle88/api-108jobs-sub001/pkg/errs"
	"github.com/yuthstyle88/api-108jobs-sub001/pkg/model"
)

// KafkaFeed publishes every durable message to the feed topic consumed by
// the messaging service. Keys are room ids so one room's messages stay in
// order on a single partition.
type KafkaFeed struct {
	writer *kafka.Writer
}

func NewKafkaFeed(brokers []string, topic string) *KafkaFeed {
	return &KafkaFeed{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.Hash{},
		},
	}
}

func (f *KafkaFeed) Emit(ctx context.Context, m model.Message) error {
	value, err := json.Marshal(m)
	if err != nil {
		return errs.Transport(err, "encode feed record")
	}
	err = f.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(m.RoomID),
		Value: value,
	})
	return errs.Transport(err, "write feed record")
}

func (f *KafkaFeed) Close() error {
	return f.writer.Close()
}

package main

import (
	"context"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/yuthstyle88/api-108jobs-sub001/pkg/config"
	"github.com/yuthstyle88/api-108jobs-sub001/pkg/logger"
	"github.com/yuthstyle88/api-108jobs-sub001/pkg/store"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.Debug)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := store.EnsureKeyspace(cfg.ScyllaHosts, cfg.Keyspace); err != nil {
		log.Fatal("ensure keyspace", zap.Error(err))
	}
	session, err := store.NewSession(cfg.ScyllaHosts, cfg.Keyspace)
	if err != nil {
		log.Fatal("connect to scylla", zap.Error(err))
	}
	defer session.Close()

	st := store.New(session, log)
	if err := st.EnsureSchema(); err != nil {
		log.Fatal("ensure schema", zap.Error(err))
	}

	consumer := NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, st, log)
	defer consumer.Close()

	log.Info("messaging consumer starting",
		zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	consumer.Consume(ctx)
}

package main

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/yuthstyle88/api-108jobs-sub001/pkg/ack"
	"github.com/yuthstyle88/api-108jobs-sub001/pkg/auth"
	"github.com/yuthstyle88/api-108jobs-sub001/pkg/bridge"
	"github.com/yuthstyle88/api-108jobs-sub001/pkg/broker"
	"github.com/yuthstyle88/api-108jobs-sub001/pkg/config"
	"github.com/yuthstyle88/api-108jobs-sub001/pkg/gateway"
	"github.com/yuthstyle88/api-108jobs-sub001/pkg/logger"
	"github.com/yuthstyle88/api-108jobs-sub001/pkg/presence"
	"github.com/yuthstyle88/api-108jobs-sub001/pkg/snowflake"
	"github.com/yuthstyle88/api-108jobs-sub001/pkg/store"
)

const redisConnectTimeout = 10 * time.Second

func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.Debug)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	node, err := snowflake.NewNode(nodeID(cfg.GatewayID))
	if err != nil {
		log.Fatal("snowflake node", zap.Error(err))
	}

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

	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.RedisAddr,
		DialTimeout: redisConnectTimeout,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	pres := presence.NewManager(cfg.PresenceTTL, cfg.SweepInterval, presence.NewRedisMirror(rdb), log)
	go pres.Run(ctx)

	// The bridge handler feeds remote frames into the broker; the broker is
	// created right after, before any session can subscribe.
	var brk *broker.Broker
	br := bridge.New(rdb, cfg.GatewayID, func(topic, event string, payload json.RawMessage) {
		brk.Remote(topic, event, payload)
	}, log)
	defer br.Close()

	feed := broker.NewKafkaFeed(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer feed.Close()

	brk = broker.New(
		node,
		st,
		br,
		feed,
		broker.NewRedisRoster(rdb),
		ack.NewScylla(session),
		pres.Events(),
		log,
	)
	go brk.Run(ctx)

	flusher := broker.NewFlusher(brk, st, cfg.FlushInterval, log)
	go flusher.Run(ctx)

	gw := gateway.New(brk, pres, auth.NewManager(cfg.JWTSecret), log)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gw.HandleWS)
	srv := &http.Server{Addr: cfg.GatewayAddr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info("gateway listening",
		zap.String("addr", cfg.GatewayAddr), zap.String("node", cfg.GatewayID))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("serve", zap.Error(err))
	}
}

// nodeID maps the gateway's string id onto the snowflake node space.
func nodeID(gatewayID string) int64 {
	h := fnv.New32a()
	h.Write([]byte(gatewayID))
	return int64(h.Sum32() % 1024)
}

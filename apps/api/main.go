package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/yuthstyle88/api-108jobs-sub001/pkg/ack"
	"github.com/yuthstyle88/api-108jobs-sub001/pkg/auth"
	"github.com/yuthstyle88/api-108jobs-sub001/pkg/config"
	"github.com/yuthstyle88/api-108jobs-sub001/pkg/history"
	"github.com/yuthstyle88/api-108jobs-sub001/pkg/logger"
	"github.com/yuthstyle88/api-108jobs-sub001/pkg/presence"
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

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	srv := &Server{
		store:   st,
		acks:    ack.NewScylla(session),
		history: history.NewService(st),
		mirror:  presence.NewRedisMirror(rdb),
		rdb:     rdb,
		auth:    auth.NewManager(cfg.JWTSecret),
		log:     log,
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), corsMiddleware())

	r.POST("/login", srv.login)

	api := r.Group("/api", srv.authMiddleware())
	{
		api.GET("/chat/unread", srv.unread)
		api.GET("/chat/:roomID/history", srv.roomHistory)
		api.GET("/chat/:roomID/last-read", srv.lastRead)
		api.GET("/chat/:roomID/pending-ack", srv.pendingAcks)
		api.GET("/chat/:roomID/pending-ack/reminder", srv.pendingAckReminder)
		api.POST("/chat/:roomID/pending-ack/confirm", srv.confirmAcks)
		api.POST("/chat/rooms", srv.createRoom)
		api.GET("/chat/rooms/:roomID", srv.getRoom)
		api.GET("/channels/:roomID/users", srv.channelUsers)
		api.GET("/users/:userID/status", srv.peerStatus)
	}

	httpSrv := &http.Server{Addr: cfg.APIAddr, Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	}()

	log.Info("api listening", zap.String("addr", cfg.APIAddr))
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("serve", zap.Error(err))
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		c.Header("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// Package config collects the environment settings shared by the gateway,
// api and messaging processes.
package config

import (
	"os"
	"strings"
	"time"
)

type Config struct {
	// GatewayID identifies this node on the bridge; remote events tagged
	// with our own id are ignored.
	GatewayID string

	GatewayAddr string
	APIAddr     string

	ScyllaHosts []string
	Keyspace    string

	RedisAddr string

	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	JWTSecret string

	PresenceTTL   time.Duration
	SweepInterval time.Duration
	FlushInterval time.Duration

	Debug bool
}

func FromEnv() Config {
	return Config{
		GatewayID:     getenv("GATEWAY_ID", "chat-gw-1"),
		GatewayAddr:   getenv("GATEWAY_ADDR", ":8080"),
		APIAddr:       getenv("API_ADDR", ":8081"),
		ScyllaHosts:   getlist("SCYLLA_HOSTS", "localhost:9042"),
		Keyspace:      getenv("SCYLLA_KEYSPACE", "chat"),
		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		KafkaBrokers:  getlist("KAFKA_BROKERS", "localhost:19092"),
		KafkaTopic:    getenv("KAFKA_TOPIC", "chat-messages"),
		KafkaGroupID:  getenv("KAFKA_GROUP_ID", "messaging-service-group"),
		JWTSecret:     getenv("JWT_SECRET", "my_secret_key"),
		PresenceTTL:   getdur("PRESENCE_TTL", 30*time.Second),
		SweepInterval: getdur("PRESENCE_SWEEP_INTERVAL", 5*time.Second),
		FlushInterval: getdur("FLUSH_INTERVAL", 10*time.Second),
		Debug:         os.Getenv("DEBUG") != "",
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getlist(key, def string) []string {
	return strings.Split(getenv(key, def), ",")
}

func getdur(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

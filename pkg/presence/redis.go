package presence

import (
	"context"

	"github.com/redis/go-redis/v9"
)

const onlineSetKey = "chat:online:users"

// RedisMirror keeps the shared online-user set in Redis so the api process
// can answer presence queries without talking to a gateway.
type RedisMirror struct {
	client *redis.Client
}

func NewRedisMirror(client *redis.Client) *RedisMirror {
	return &RedisMirror{client: client}
}

func (r *RedisMirror) SetOnline(ctx context.Context, userID string) error {
	return r.client.SAdd(ctx, onlineSetKey, userID).Err()
}

func (r *RedisMirror) SetOffline(ctx context.Context, userID string) error {
	return r.client.SRem(ctx, onlineSetKey, userID).Err()
}

// IsOnline is the read side used by the api process.
func (r *RedisMirror) IsOnline(ctx context.Context, userID string) (bool, error) {
	return r.client.SIsMember(ctx, onlineSetKey, userID).Result()
}

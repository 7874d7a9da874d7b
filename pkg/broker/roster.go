package broker

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/yuthstyle88/api-108jobs-sub001/pkg/errs"
)

// RedisRoster mirrors each room's joined users to a Redis set so the api
// process can list channel membership.
type RedisRoster struct {
	client *redis.Client
}

func NewRedisRoster(client *redis.Client) *RedisRoster {
	return &RedisRoster{client: client}
}

func rosterKey(roomID string) string {
	return "channel:" + roomID + ":users"
}

func (r *RedisRoster) Add(ctx context.Context, roomID, userID string) error {
	return errs.Transport(r.client.SAdd(ctx, rosterKey(roomID), userID).Err(), "roster add")
}

func (r *RedisRoster) Remove(ctx context.Context, roomID, userID string) error {
	return errs.Transport(r.client.SRem(ctx, rosterKey(roomID), userID).Err(), "roster remove")
}

// Members is the read side used by the api process.
func Members(ctx context.Context, client *redis.Client, roomID string) ([]string, error) {
	users, err := client.SMembers(ctx, rosterKey(roomID)).Result()
	if err != nil {
		return nil, errs.Transport(err, "roster members")
	}
	return users, nil
}

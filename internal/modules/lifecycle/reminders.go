package lifecycle

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/diegopirazabal/docproy/internal/types"
)

const reminderKeyPrefix = "docproy:lifecycle:reminder:"

// RedisReminders stores one marker per trip so restarts and extra replicas
// never re-send departure reminders. Markers expire on their own well after
// the trip is gone.
type RedisReminders struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisReminders(client *redis.Client) *RedisReminders {
	return &RedisReminders{client: client, ttl: 48 * time.Hour}
}

func (r *RedisReminders) MarkSent(ctx context.Context, tripID types.ID) (bool, error) {
	return r.client.SetNX(ctx, reminderKeyPrefix+string(tripID), 1, r.ttl).Result()
}

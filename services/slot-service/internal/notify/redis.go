package notify

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

// Redis publishes events on a per-resource channel so live availability views
// can refresh.
type Redis struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedis(rdb redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = "slots:"
	}
	return &Redis{rdb: rdb, prefix: prefix}
}

func (r *Redis) Channel(resourceID string) string { return r.prefix + resourceID }

func (r *Redis) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, r.Channel(e.ResourceID), payload).Err()
}

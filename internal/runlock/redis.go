package runlock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/menu-catalog-sync/internal/catalog"
)

// releaseScript deletes the key only if it still holds our token.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

type redisClient interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// Redis is a lock shared by every process using the same Redis.
type Redis struct {
	client redisClient
	prefix string
}

// NewRedis wraps a go-redis client; prefix namespaces the lock keys.
func NewRedis(client redisClient, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

// TryLock sets key with NX and a TTL. The returned unlock only releases our own hold.
func (r *Redis) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	token := uuid.NewString()
	fullKey := r.prefix + key
	ok, err := r.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, catalog.ErrRunInProgress
	}
	return func(ctx context.Context) error {
		if err := r.client.Eval(ctx, releaseScript, []string{fullKey}, token).Err(); err != nil {
			return fmt.Errorf("release lock %s: %w", key, err)
		}
		return nil
	}, nil
}

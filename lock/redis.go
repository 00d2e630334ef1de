package lock

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if it still holds our token, so an
// expired lock taken over by another holder is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker shared by every instance using the same Redis.
//
// Each lock expires after ttl so a crashed holder cannot wedge a key.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	wait   time.Duration
}

// NewRedis stores lock keys as prefix:key. A trailing colon on prefix is
// dropped.
func NewRedis(client *redis.Client, prefix string, ttl, wait time.Duration) *Redis {
	return &Redis{client: client, prefix: strings.TrimSuffix(prefix, ":"), ttl: ttl, wait: wait}
}

func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := r.prefix + ":" + key
	token := uuid.NewString()
	deadline := time.Now().Add(r.wait)
	backoff := 10 * time.Millisecond

	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				// Release must run even when the request context is gone.
				if err := releaseScript.Run(context.Background(), r.client, []string{redisKey}, token).Err(); err != nil {
					log.Printf("Error releasing lock %s: %v", redisKey, err)
				}
			}, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrNotAcquired
		}
		sleep := min(backoff, remaining)
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff = min(backoff*2, 100*time.Millisecond)
	}
}

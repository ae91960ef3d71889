package httpmiddleware

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisWindow is a fixed one-minute window counter shared by every API instance.
type RedisWindow struct {
	client    *redis.Client
	perMinute int
	prefix    string
	now       func() time.Time
}

// NewRedisWindow allows perMinute requests per key per minute.
func NewRedisWindow(client *redis.Client, perMinute int) *RedisWindow {
	return &RedisWindow{client: client, perMinute: perMinute, prefix: "liveclass:ratelimit:", now: time.Now}
}

func (w *RedisWindow) key(k string) string {
	return w.prefix + k + ":" + strconv.FormatInt(w.now().Unix()/60, 10)
}

// Allow increments the key's counter for the current minute.
func (w *RedisWindow) Allow(ctx context.Context, key string) (bool, error) {
	k := w.key(key)
	pipe := w.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, 2*time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return incr.Val() <= int64(w.perMinute), nil
}

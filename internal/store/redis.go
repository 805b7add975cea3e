package store

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the only production implementation of Store. It wraps
// github.com/redis/go-redis/v9 and is the sole package in the module that
// imports it.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore parses redisURL (a standard redis:// or rediss:// DSN) and
// opens a connection pool against it.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, &StoreError{Op: "parse_url", Err: err}
	}
	return &RedisStore{client: redis.NewClient(opts)}, nil
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

func (s *RedisStore) Incr(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.IncrBy(ctx, key, delta)
	if ttl > 0 {
		pipe.ExpireNX(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, wrap("incr", err)
	}
	return incr.Val(), nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", wrap("get", err)
	}
	return v, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return wrap("set", s.client.Set(ctx, key, value, ttl).Err())
}

func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, wrap("setnx", err)
	}
	return ok, nil
}

func (s *RedisStore) Del(ctx context.Context, key string) error {
	return wrap("del", s.client.Del(ctx, key).Err())
}

func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, wrap("ttl", err)
	}
	return d, nil
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, wrap("exists", err)
	}
	return n > 0, nil
}

func (s *RedisStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return wrap("zadd", s.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err())
}

func (s *RedisStore) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	members, err := s.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: floatStr(min),
		Max: floatStr(max),
	}).Result()
	if err != nil {
		return nil, wrap("zrangebyscore", err)
	}
	return members, nil
}

func (s *RedisStore) ZRemRangeByScore(ctx context.Context, key string, min, max float64) error {
	return wrap("zremrangebyscore", s.client.ZRemRangeByScore(ctx, key, floatStr(min), floatStr(max)).Err())
}

func (s *RedisStore) ZCard(ctx context.Context, key string) (int64, error) {
	n, err := s.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, wrap("zcard", err)
	}
	return n, nil
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return wrap("expire", s.client.Expire(ctx, key, ttl).Err())
}

// SlidingWindowCount implements the §4.3 algorithm as one pipeline: prune
// entries older than the window, insert "member" scored at "now", then
// read back the cardinality. Running these as a single pipeline is what
// spec §5 means by "executed as a pipelined unit" — two concurrent callers
// each still get their own post-commit zcard, and the handler (not this
// method) is responsible for treating a post-commit count over capacity as
// the authoritative rejection.
func (s *RedisStore) SlidingWindowCount(ctx context.Context, key string, now time.Time, window time.Duration, member string) (int64, error) {
	floor := now.Add(-window)
	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", floatStr(float64(floor.UnixMilli())))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: member})
	card := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, wrap("sliding_window_count", err)
	}
	return card.Val(), nil
}

func (s *RedisStore) SlidingWindowOldest(ctx context.Context, key string, now time.Time, window time.Duration) (time.Time, bool, error) {
	floor := now.Add(-window)
	results, err := s.client.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min:   floatStr(float64(floor.UnixMilli())),
		Max:   "+inf",
		Count: 1,
	}).Result()
	if err != nil {
		return time.Time{}, false, wrap("sliding_window_oldest", err)
	}
	if len(results) == 0 {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(int64(results[0].Score)), true, nil
}

func (s *RedisStore) SAdd(ctx context.Context, key, member string, ttl time.Duration) (bool, error) {
	pipe := s.client.TxPipeline()
	added := pipe.SAdd(ctx, key, member)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return false, wrap("sadd", err)
	}
	return added.Val() > 0, nil
}

func (s *RedisStore) SCard(ctx context.Context, key string) (int64, error) {
	n, err := s.client.SCard(ctx, key).Result()
	if err != nil {
		return 0, wrap("scard", err)
	}
	return n, nil
}

func (s *RedisStore) SIsMember(ctx context.Context, key, member string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, key, member).Result()
	if err != nil {
		return false, wrap("sismember", err)
	}
	return ok, nil
}

func (s *RedisStore) Publish(ctx context.Context, channel string, payload []byte) error {
	return wrap("publish", s.client.Publish(ctx, channel, payload).Err())
}

func (s *RedisStore) Subscribe(ctx context.Context, channel string) (<-chan Message, func() error) {
	sub := s.client.Subscribe(ctx, channel)
	out := make(chan Message, 64)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			select {
			case out <- Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, sub.Close
}

func (s *RedisStore) LPushCapped(ctx context.Context, key, member string, capN int64) error {
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, member)
	pipe.LTrim(ctx, key, 0, capN-1)
	_, err := pipe.Exec(ctx)
	return wrap("lpush_capped", err)
}

func (s *RedisStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	vals, err := s.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, wrap("lrange", err)
	}
	return vals, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return wrap("ping", s.client.Ping(ctx).Err())
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func floatStr(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

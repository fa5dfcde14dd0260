package ratelimit

import (
	"context"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"tokoledger/backend/internal/xid"
)

const keyPrefix = "tokoledger:ratelimit:"

// RedisStore keeps one sorted set per key, scored by attempt time in
// milliseconds, so every API instance sees the same window.
type RedisStore struct {
	client redis.Cmdable
}

func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Hit(ctx context.Context, key string, now time.Time, window time.Duration) (int, error) {
	k := keyPrefix + key
	cutoff := now.Add(-window).UnixMilli()

	var card *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, k, "-inf", strconv.FormatInt(cutoff, 10))
		pipe.ZAdd(ctx, k, redis.Z{Score: float64(now.UnixMilli()), Member: xid.New()})
		card = pipe.ZCard(ctx, k)
		pipe.PExpire(ctx, k, window)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(card.Val()), nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, keyPrefix+key).Err()
}

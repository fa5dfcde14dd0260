package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"tokoledger/backend/internal/domain"
)

const saleKeyPrefix = "tokoledger:sale:"

type RedisSaleCache struct {
	client redis.Cmdable
}

func NewRedisSaleCache(client redis.Cmdable) *RedisSaleCache {
	return &RedisSaleCache{client: client}
}

func (c *RedisSaleCache) Get(ctx context.Context, key string) (*domain.Sale, bool, error) {
	val, err := c.client.Get(ctx, saleKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var sale domain.Sale
	if err := json.Unmarshal(val, &sale); err != nil {
		return nil, false, err
	}
	return &sale, true, nil
}

func (c *RedisSaleCache) Set(ctx context.Context, key string, value *domain.Sale, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, saleKeyPrefix+key, payload, ttl).Err()
}

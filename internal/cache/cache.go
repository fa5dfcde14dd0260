package cache

import (
	"context"
	"time"

	"tokoledger/backend/internal/domain"
)

// SaleCache holds completed sales by key. Sales are immutable once committed,
// so entries never need invalidation.
type SaleCache interface {
	Get(ctx context.Context, key string) (*domain.Sale, bool, error)
	Set(ctx context.Context, key string, value *domain.Sale, ttl time.Duration) error
}

type NoopSaleCache struct{}

func (NoopSaleCache) Get(_ context.Context, _ string) (*domain.Sale, bool, error) {
	return nil, false, nil
}

func (NoopSaleCache) Set(_ context.Context, _ string, _ *domain.Sale, _ time.Duration) error {
	return nil
}

func SaleKey(businessID string, saleID string) string {
	return businessID + ":" + saleID
}

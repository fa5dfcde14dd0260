package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tokoledger/backend/internal/cache"
	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// StockPolicy decides whether a sale may drive a stock level below zero.
type StockPolicy string

const (
	// StockPolicyAllow records the sale regardless of on-hand quantity and
	// logs a warning when a level goes negative.
	StockPolicyAllow StockPolicy = "allow"
	// StockPolicyStrict rejects a sale with InsufficientStock, like transfers.
	StockPolicyStrict StockPolicy = "strict"
)

func ParseStockPolicy(raw string) (StockPolicy, error) {
	switch StockPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", StockPolicyAllow:
		return StockPolicyAllow, nil
	case StockPolicyStrict:
		return StockPolicyStrict, nil
	default:
		return "", fmt.Errorf("unknown stock policy %q", raw)
	}
}

type Service struct {
	repo      store.Repository
	log       zerolog.Logger
	saleCache cache.SaleCache
	cacheTTL  time.Duration
	policy    StockPolicy
	now       func() time.Time
}

type Option func(*Service)

func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) { s.log = log.With().Str("component", "service").Logger() }
}

func WithSaleCache(c cache.SaleCache, ttl time.Duration) Option {
	return func(s *Service) {
		if c != nil {
			s.saleCache = c
		}
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

func WithStockPolicy(policy StockPolicy) Option {
	return func(s *Service) { s.policy = policy }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(repo store.Repository, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		log:       zerolog.Nop(),
		saleCache: cache.NoopSaleCache{},
		cacheTTL:  5 * time.Minute,
		policy:    StockPolicyAllow,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Policy() StockPolicy {
	return s.policy
}

// logAudit writes one structured line per committed ledger operation.
func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string) *zerolog.Event {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{UserID: "system", Role: "system"}
	}
	return s.log.Info().
		Str("action", action).
		Str("entity_type", entityType).
		Str("entity_id", entityID).
		Str("actor", actor.UserID).
		Str("actor_role", actor.Role)
}

func requireBusiness(businessID string) error {
	if strings.TrimSpace(businessID) == "" {
		return domain.InvalidArgument("business_id is required")
	}
	return nil
}

// stockKey scopes a product at a branch of the given business.
func stockKey(businessID, branchID, productID string) domain.StockKey {
	return domain.StockKey{BusinessID: businessID, BranchID: branchID, ProductID: productID}
}

// requireProducts fails with InvalidArgument when any id is not a product of
// the business.
func requireProducts(ctx context.Context, tx store.Tx, businessID string, productIDs []string) (map[string]domain.Product, error) {
	products, err := tx.GetProducts(ctx, businessID, productIDs)
	if err != nil {
		return nil, err
	}
	for _, id := range productIDs {
		if _, ok := products[id]; !ok {
			return nil, domain.InvalidArgument("product %s does not belong to business %s", id, businessID)
		}
	}
	return products, nil
}

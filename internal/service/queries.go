package service

import (
	"context"
	"strings"

	"tokoledger/backend/internal/cache"
	"tokoledger/backend/internal/domain"
)

func (s *Service) ListSales(ctx context.Context, filter domain.ListFilter) ([]domain.Sale, error) {
	if err := validateFilter(filter); err != nil {
		return nil, err
	}
	sales, err := s.repo.ListSales(ctx, filter.Normalize())
	if err != nil {
		return nil, domain.Internal("list sales", err)
	}
	return sales, nil
}

// GetSale reads through the sale cache. A cache failure falls back to the
// store and is only logged.
func (s *Service) GetSale(ctx context.Context, businessID string, saleID string) (*domain.Sale, error) {
	if err := requireBusiness(businessID); err != nil {
		return nil, err
	}
	saleID = strings.TrimSpace(saleID)
	key := cache.SaleKey(businessID, saleID)

	cached, ok, err := s.saleCache.Get(ctx, key)
	if err != nil {
		s.log.Warn().Err(err).Str("sale_id", saleID).Msg("sale cache read failed")
	} else if ok && cached.BusinessID == businessID {
		return cached, nil
	}

	sale, err := s.repo.GetSale(ctx, businessID, saleID)
	if err != nil {
		return nil, domain.Internal("get sale", err)
	}
	if err := s.saleCache.Set(ctx, key, sale, s.cacheTTL); err != nil {
		s.log.Warn().Err(err).Str("sale_id", saleID).Msg("sale cache write failed")
	}
	return sale, nil
}

func (s *Service) ListReturns(ctx context.Context, filter domain.ListFilter) ([]domain.Return, error) {
	if err := validateFilter(filter); err != nil {
		return nil, err
	}
	returns, err := s.repo.ListReturns(ctx, filter.Normalize())
	if err != nil {
		return nil, domain.Internal("list returns", err)
	}
	return returns, nil
}

func (s *Service) GetReturn(ctx context.Context, businessID string, returnID string) (*domain.Return, error) {
	if err := requireBusiness(businessID); err != nil {
		return nil, err
	}
	ret, err := s.repo.GetReturn(ctx, businessID, strings.TrimSpace(returnID))
	if err != nil {
		return nil, domain.Internal("get return", err)
	}
	return ret, nil
}

func (s *Service) ListStockTransfers(ctx context.Context, filter domain.ListFilter) ([]domain.StockTransfer, error) {
	if err := validateFilter(filter); err != nil {
		return nil, err
	}
	if filter.Status != "" {
		status, ok := domain.ParseTransferStatus(string(filter.Status))
		if !ok {
			return nil, domain.InvalidArgument("unknown transfer status %q", filter.Status)
		}
		filter.Status = status
	}
	transfers, err := s.repo.ListTransfers(ctx, filter.Normalize())
	if err != nil {
		return nil, domain.Internal("list stock transfers", err)
	}
	return transfers, nil
}

func (s *Service) GetStockTransfer(ctx context.Context, businessID string, transferID string) (*domain.StockTransfer, error) {
	if err := requireBusiness(businessID); err != nil {
		return nil, err
	}
	transfer, err := s.repo.GetTransfer(ctx, businessID, strings.TrimSpace(transferID))
	if err != nil {
		return nil, domain.Internal("get stock transfer", err)
	}
	return transfer, nil
}

func (s *Service) ListStockLevels(ctx context.Context, filter domain.ListFilter) ([]domain.StockLevel, error) {
	if err := validateFilter(filter); err != nil {
		return nil, err
	}
	levels, err := s.repo.ListStockLevels(ctx, filter.Normalize())
	if err != nil {
		return nil, domain.Internal("list stock levels", err)
	}
	return levels, nil
}

func (s *Service) ListMovements(ctx context.Context, filter domain.ListFilter) ([]domain.StockMovement, error) {
	if err := validateFilter(filter); err != nil {
		return nil, err
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, domain.InvalidArgument("unknown movement type %q", filter.Type)
	}
	movements, err := s.repo.ListMovements(ctx, filter.Normalize())
	if err != nil {
		return nil, domain.Internal("list movements", err)
	}
	return movements, nil
}

func validateFilter(filter domain.ListFilter) error {
	if err := requireBusiness(filter.BusinessID); err != nil {
		return err
	}
	if filter.From != nil && filter.To != nil && !filter.From.Before(*filter.To) {
		return domain.InvalidArgument("from must be before to")
	}
	return nil
}

package memory

import (
	"context"
	"slices"
	"strings"
	"time"

	"tokoledger/backend/internal/domain"
)

func (s *Store) FindSaleByOfflineID(_ context.Context, businessID string, offlineID string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.saleByOffline[offlineKey(businessID, offlineID)]
	if !ok {
		return nil, domain.NotFound("sale with offline id %q not found", offlineID)
	}
	sale := cloneSale(s.sales[id])
	return &sale, nil
}

func (s *Store) GetSale(_ context.Context, businessID string, saleID string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.sales[saleID]
	if !ok || sale.BusinessID != businessID {
		return nil, domain.NotFound("sale %s not found", saleID)
	}
	dup := cloneSale(sale)
	return &dup, nil
}

func (s *Store) ListSales(_ context.Context, filter domain.ListFilter) ([]domain.Sale, error) {
	filter = filter.Normalize()
	s.mu.RLock()
	matched := make([]domain.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		if sale.BusinessID != filter.BusinessID {
			continue
		}
		if filter.BranchID != "" && sale.BranchID != filter.BranchID {
			continue
		}
		if !filter.MatchesTime(sale.SoldAt) {
			continue
		}
		matched = append(matched, cloneSale(sale))
	}
	s.mu.RUnlock()

	slices.SortFunc(matched, func(a, b domain.Sale) int { return newestFirst(a.SoldAt, a.ID, b.SoldAt, b.ID) })
	return page(matched, filter), nil
}

func (s *Store) GetReturn(_ context.Context, businessID string, returnID string) (*domain.Return, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ret, ok := s.returns[returnID]
	if !ok || ret.BusinessID != businessID {
		return nil, domain.NotFound("return %s not found", returnID)
	}
	dup := cloneReturn(ret)
	return &dup, nil
}

func (s *Store) ListReturns(_ context.Context, filter domain.ListFilter) ([]domain.Return, error) {
	filter = filter.Normalize()
	s.mu.RLock()
	matched := make([]domain.Return, 0, len(s.returns))
	for _, ret := range s.returns {
		if ret.BusinessID != filter.BusinessID {
			continue
		}
		if filter.BranchID != "" && ret.BranchID != filter.BranchID {
			continue
		}
		if filter.SaleID != "" && ret.SaleID != filter.SaleID {
			continue
		}
		if !filter.MatchesTime(ret.CreatedAt) {
			continue
		}
		matched = append(matched, cloneReturn(ret))
	}
	s.mu.RUnlock()

	slices.SortFunc(matched, func(a, b domain.Return) int { return newestFirst(a.CreatedAt, a.ID, b.CreatedAt, b.ID) })
	return page(matched, filter), nil
}

func (s *Store) GetTransfer(_ context.Context, businessID string, transferID string) (*domain.StockTransfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	transfer, ok := s.transfers[transferID]
	if !ok || transfer.BusinessID != businessID {
		return nil, domain.NotFound("stock transfer %s not found", transferID)
	}
	dup := cloneTransfer(transfer)
	return &dup, nil
}

func (s *Store) ListTransfers(_ context.Context, filter domain.ListFilter) ([]domain.StockTransfer, error) {
	filter = filter.Normalize()
	s.mu.RLock()
	matched := make([]domain.StockTransfer, 0, len(s.transfers))
	for _, transfer := range s.transfers {
		if transfer.BusinessID != filter.BusinessID {
			continue
		}
		if filter.BranchID != "" && transfer.FromBranchID != filter.BranchID && transfer.ToBranchID != filter.BranchID {
			continue
		}
		if filter.Status != "" && transfer.Status != filter.Status {
			continue
		}
		if !filter.MatchesTime(transfer.CreatedAt) {
			continue
		}
		matched = append(matched, cloneTransfer(transfer))
	}
	s.mu.RUnlock()

	slices.SortFunc(matched, func(a, b domain.StockTransfer) int {
		return newestFirst(a.CreatedAt, a.ID, b.CreatedAt, b.ID)
	})
	return page(matched, filter), nil
}

func (s *Store) ListStockLevels(_ context.Context, filter domain.ListFilter) ([]domain.StockLevel, error) {
	filter = filter.Normalize()
	s.mu.RLock()
	levels := make([]domain.StockLevel, 0, len(s.stock))
	for key, row := range s.stock {
		if key.BusinessID != filter.BusinessID {
			continue
		}
		if filter.BranchID != "" && key.BranchID != filter.BranchID {
			continue
		}
		if filter.ProductID != "" && key.ProductID != filter.ProductID {
			continue
		}
		levels = append(levels, domain.StockLevel{
			BusinessID: key.BusinessID,
			BranchID:   key.BranchID,
			ProductID:  key.ProductID,
			Quantity:   row.qty,
			UpdatedAt:  row.updatedAt,
		})
	}
	s.mu.RUnlock()

	slices.SortFunc(levels, func(a, b domain.StockLevel) int {
		if a.Key().Less(b.Key()) {
			return -1
		}
		if b.Key().Less(a.Key()) {
			return 1
		}
		return 0
	})
	return page(levels, filter), nil
}

func (s *Store) ListMovements(_ context.Context, filter domain.ListFilter) ([]domain.StockMovement, error) {
	filter = filter.Normalize()
	s.mu.RLock()
	matched := make([]domain.StockMovement, 0, 64)
	for i := len(s.movements) - 1; i >= 0; i-- {
		m := s.movements[i]
		if m.BusinessID != filter.BusinessID {
			continue
		}
		if filter.BranchID != "" && m.BranchID != filter.BranchID {
			continue
		}
		if filter.ProductID != "" && m.ProductID != filter.ProductID {
			continue
		}
		if filter.Type != "" && m.Type != filter.Type {
			continue
		}
		if !filter.MatchesTime(m.CreatedAt) {
			continue
		}
		matched = append(matched, m)
	}
	s.mu.RUnlock()

	slices.SortStableFunc(matched, func(a, b domain.StockMovement) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return page(matched, filter), nil
}

func newestFirst(at time.Time, id string, otherAt time.Time, otherID string) int {
	if c := otherAt.Compare(at); c != 0 {
		return c
	}
	return strings.Compare(otherID, id)
}

func page[T any](items []T, filter domain.ListFilter) []T {
	if filter.Offset >= len(items) {
		return []T{}
	}
	end := filter.Offset + filter.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[filter.Offset:end]
}

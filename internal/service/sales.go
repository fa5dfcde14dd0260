package service

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/ledger"
	"tokoledger/backend/internal/store"
	"tokoledger/backend/internal/xid"
)

// CreateSale records a completed sale, its line items, one register entry
// and a sale movement per line in a single unit of work.
func (s *Service) CreateSale(ctx context.Context, cmd domain.CreateSaleCommand) (*domain.Sale, error) {
	cmd.BranchID = strings.TrimSpace(cmd.BranchID)
	cmd.PaymentMethod = strings.ToLower(strings.TrimSpace(cmd.PaymentMethod))
	cmd.ReferenceCode = strings.TrimSpace(cmd.ReferenceCode)
	cmd.OfflineID = strings.TrimSpace(cmd.OfflineID)

	if err := requireBusiness(cmd.BusinessID); err != nil {
		return nil, err
	}
	if cmd.BranchID == "" {
		return nil, domain.InvalidArgument("branch_id is required")
	}
	if len(cmd.Items) == 0 {
		return nil, domain.InvalidArgument("sale needs at least one item")
	}
	if cmd.PaymentMethod == "" {
		return nil, domain.InvalidArgument("payment_method is required")
	}
	if cmd.TotalAmount != nil && cmd.TotalAmount.IsNegative() {
		return nil, domain.InvalidArgument("total_amount must not be negative")
	}

	now := s.now()
	soldAt := now
	if cmd.SoldAt != nil && !cmd.SoldAt.IsZero() {
		soldAt = cmd.SoldAt.UTC()
	}

	sale := domain.Sale{
		ID:         xid.New(),
		BusinessID: cmd.BusinessID,
		BranchID:   cmd.BranchID,
		UserID:     cmd.UserID,
		Status:     domain.SaleStatusCompleted,
		OfflineID:  cmd.OfflineID,
		SoldAt:     soldAt,
		Items:      make([]domain.SaleItem, 0, len(cmd.Items)),
	}
	total := decimal.Zero
	productIDs := make([]string, 0, len(cmd.Items))
	seen := make(map[string]struct{}, len(cmd.Items))
	for i, in := range cmd.Items {
		productID := strings.TrimSpace(in.ProductID)
		if productID == "" {
			return nil, domain.InvalidArgument("item %d: product_id is required", i+1)
		}
		if in.Quantity < 1 {
			return nil, domain.InvalidArgument("item %d: quantity must be positive", i+1)
		}
		if in.Quantity > domain.MaxQuantity {
			return nil, domain.InvalidArgument("item %d: quantity must not exceed %d", i+1, domain.MaxQuantity)
		}
		if in.UnitPrice.IsNegative() {
			return nil, domain.InvalidArgument("item %d: unit_price must not be negative", i+1)
		}
		if !domain.FitsPriceScale(in.UnitPrice) {
			return nil, domain.InvalidArgument("item %d: unit_price allows at most 4 decimal places", i+1)
		}
		item := domain.SaleItem{
			ProductID: productID,
			Quantity:  in.Quantity,
			UnitPrice: in.UnitPrice,
			LineTotal: domain.LineTotal(in.Quantity, in.UnitPrice),
		}
		sale.Items = append(sale.Items, item)
		total = total.Add(item.LineTotal)
		if _, ok := seen[productID]; !ok {
			seen[productID] = struct{}{}
			productIDs = append(productIDs, productID)
		}
	}
	sale.TotalAmount = total
	if cmd.TotalAmount != nil {
		sale.TotalAmount = domain.RoundMoney(*cmd.TotalAmount)
	}
	sale.RegisterEntry = domain.CashRegisterEntry{
		ID:            xid.New(),
		PaymentMethod: cmd.PaymentMethod,
		ReferenceCode: cmd.ReferenceCode,
		Amount:        sale.TotalAmount,
		CreatedAt:     now,
	}

	if cmd.OfflineID != "" {
		if existing, err := s.findOfflineSale(ctx, cmd.BusinessID, cmd.OfflineID); err != nil {
			return nil, err
		} else if existing != nil {
			return nil, domain.Conflict(existing.ID, "offline id %q already recorded as sale %s", cmd.OfflineID, existing.ID)
		}
	}

	var negative []domain.StockLevel
	err := s.repo.RunInTx(ctx, func(tx store.Tx) error {
		negative = negative[:0]
		if _, err := tx.GetBranch(ctx, sale.BusinessID, sale.BranchID); err != nil {
			return err
		}
		if _, err := requireProducts(ctx, tx, sale.BusinessID, productIDs); err != nil {
			return err
		}
		if err := tx.InsertSale(ctx, sale); err != nil {
			return err
		}

		keys := make([]domain.StockKey, 0, len(productIDs))
		required := make(map[domain.StockKey]int, len(productIDs))
		for _, item := range sale.Items {
			key := stockKey(sale.BusinessID, sale.BranchID, item.ProductID)
			keys = append(keys, key)
			required[key] += item.Quantity
		}
		levels, err := tx.LockStock(ctx, keys)
		if err != nil {
			return err
		}
		if s.policy == StockPolicyStrict {
			for _, key := range domain.SortStockKeys(keys) {
				if levels[key] < required[key] {
					return domain.InsufficientStock("branch %s has %d of product %s, sale needs %d", key.BranchID, levels[key], key.ProductID, required[key])
				}
			}
		}

		for i, item := range sale.Items {
			if err := tx.InsertSaleItem(ctx, sale.ID, i+1, item); err != nil {
				return err
			}
			key := stockKey(sale.BusinessID, sale.BranchID, item.ProductID)
			qty, err := ledger.Adjust(ctx, tx, ledger.Entry{
				Key:         key,
				Delta:       -item.Quantity,
				Type:        domain.MovementSale,
				UserID:      sale.UserID,
				ReferenceID: sale.ID,
				At:          now,
			})
			if err != nil {
				return err
			}
			if qty < 0 {
				negative = append(negative, domain.StockLevel{BusinessID: key.BusinessID, BranchID: key.BranchID, ProductID: key.ProductID, Quantity: qty})
			}
		}
		return tx.InsertRegisterEntry(ctx, sale.ID, sale.RegisterEntry)
	})
	if err != nil {
		if cmd.OfflineID != "" && errors.Is(err, domain.ErrConflict) && domain.ConflictID(err) == "" {
			if existing, findErr := s.findOfflineSale(ctx, cmd.BusinessID, cmd.OfflineID); findErr == nil && existing != nil {
				return nil, domain.Conflict(existing.ID, "offline id %q already recorded as sale %s", cmd.OfflineID, existing.ID)
			}
		}
		return nil, domain.Internal("create sale", err)
	}

	for _, level := range negative {
		s.log.Warn().
			Str("sale_id", sale.ID).
			Str("branch_id", level.BranchID).
			Str("product_id", level.ProductID).
			Int("quantity", level.Quantity).
			Msg("sale drove stock below zero")
	}
	s.logAudit(ctx, "sale_create", "sale", sale.ID).
		Str("branch_id", sale.BranchID).
		Str("total", sale.TotalAmount.StringFixed(2)).
		Int("lines", len(sale.Items)).
		Msg("sale recorded")
	return &sale, nil
}

func (s *Service) findOfflineSale(ctx context.Context, businessID, offlineID string) (*domain.Sale, error) {
	existing, err := s.repo.FindSaleByOfflineID(ctx, businessID, offlineID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.Internal("find offline sale", err)
	}
	return existing, nil
}

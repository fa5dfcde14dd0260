package service

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/ledger"
	"tokoledger/backend/internal/store"
	"tokoledger/backend/internal/xid"
)

type soldLine struct {
	quantity  int
	unitPrice decimal.Decimal
}

// CreateReturn puts sold units back into the sale's branch. Per product the
// quantity returned across all returns of a sale never exceeds what was sold.
func (s *Service) CreateReturn(ctx context.Context, cmd domain.CreateReturnCommand) (*domain.Return, error) {
	cmd.SaleID = strings.TrimSpace(cmd.SaleID)
	cmd.BranchID = strings.TrimSpace(cmd.BranchID)
	if err := requireBusiness(cmd.BusinessID); err != nil {
		return nil, err
	}
	if cmd.SaleID == "" {
		return nil, domain.InvalidArgument("sale_id is required")
	}
	if len(cmd.Items) == 0 {
		return nil, domain.InvalidArgument("return needs at least one item")
	}

	requested := make(map[string]int, len(cmd.Items))
	order := make([]string, 0, len(cmd.Items))
	for i, in := range cmd.Items {
		productID := strings.TrimSpace(in.ProductID)
		if productID == "" {
			return nil, domain.InvalidArgument("item %d: product_id is required", i+1)
		}
		if in.Quantity < 1 {
			return nil, domain.InvalidArgument("item %d: quantity must be positive", i+1)
		}
		if _, ok := requested[productID]; !ok {
			order = append(order, productID)
		}
		requested[productID] += in.Quantity
		if requested[productID] > domain.MaxQuantity {
			return nil, domain.InvalidArgument("item %d: quantity must not exceed %d", i+1, domain.MaxQuantity)
		}
	}

	now := s.now()
	var ret domain.Return
	err := s.repo.RunInTx(ctx, func(tx store.Tx) error {
		sale, err := tx.LockSale(ctx, cmd.BusinessID, cmd.SaleID)
		if err != nil {
			return err
		}
		if cmd.BranchID != "" && cmd.BranchID != sale.BranchID {
			return domain.InvalidArgument("return branch %s does not match sale branch %s", cmd.BranchID, sale.BranchID)
		}

		sold := make(map[string]soldLine, len(sale.Items))
		for _, item := range sale.Items {
			line, ok := sold[item.ProductID]
			if !ok {
				line.unitPrice = item.UnitPrice
			}
			line.quantity += item.Quantity
			sold[item.ProductID] = line
		}
		if len(sold) == 0 {
			return domain.InvalidArgument("sale %s has no items", sale.ID)
		}

		returned, err := tx.ReturnedQuantities(ctx, sale.ID)
		if err != nil {
			return err
		}

		ret = domain.Return{
			ID:            xid.New(),
			SaleID:        sale.ID,
			BusinessID:    sale.BusinessID,
			BranchID:      sale.BranchID,
			UserID:        cmd.UserID,
			Reason:        strings.TrimSpace(cmd.Reason),
			RefundMethod:  strings.ToLower(strings.TrimSpace(cmd.RefundMethod)),
			ReferenceCode: strings.TrimSpace(cmd.ReferenceCode),
			CreatedAt:     now,
			Items:         make([]domain.ReturnItem, 0, len(order)),
		}
		total := decimal.Zero
		keys := make([]domain.StockKey, 0, len(order))
		for _, productID := range order {
			line, ok := sold[productID]
			if !ok {
				return domain.InvalidArgument("product %s is not part of sale %s", productID, sale.ID)
			}
			available := line.quantity - returned[productID]
			if available <= 0 {
				return domain.InvalidArgument("product %s of sale %s is already fully returned", productID, sale.ID)
			}
			if requested[productID] > available {
				return domain.InvalidArgument("cannot return %d of product %s, only %d remain returnable", requested[productID], productID, available)
			}
			item := domain.ReturnItem{
				ProductID: productID,
				Quantity:  requested[productID],
				UnitPrice: line.unitPrice,
				LineTotal: domain.LineTotal(requested[productID], line.unitPrice),
			}
			ret.Items = append(ret.Items, item)
			total = total.Add(item.LineTotal)
			keys = append(keys, stockKey(ret.BusinessID, ret.BranchID, productID))
		}
		ret.TotalAmount = total

		if err := tx.InsertReturn(ctx, ret); err != nil {
			return err
		}
		if _, err := tx.LockStock(ctx, keys); err != nil {
			return err
		}
		for i, item := range ret.Items {
			if err := tx.InsertReturnItem(ctx, ret.ID, i+1, item); err != nil {
				return err
			}
			_, err := ledger.Adjust(ctx, tx, ledger.Entry{
				Key:         stockKey(ret.BusinessID, ret.BranchID, item.ProductID),
				Delta:       item.Quantity,
				Type:        domain.MovementReturn,
				UserID:      ret.UserID,
				Note:        "return for sale " + sale.ID,
				ReferenceID: ret.ID,
				At:          now,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, domain.Internal("create return", err)
	}

	s.logAudit(ctx, "return_create", "return", ret.ID).
		Str("sale_id", ret.SaleID).
		Str("total", ret.TotalAmount.StringFixed(2)).
		Msg("return recorded")
	return &ret, nil
}

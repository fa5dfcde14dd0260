package service

import (
	"context"
	"strings"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/ledger"
	"tokoledger/backend/internal/store"
)

// AdjustStock applies a manual movement. Sale and return movements are only
// written by their engines.
func (s *Service) AdjustStock(ctx context.Context, cmd domain.AdjustStockCommand) (*domain.StockLevel, error) {
	cmd.BranchID = strings.TrimSpace(cmd.BranchID)
	cmd.ProductID = strings.TrimSpace(cmd.ProductID)
	if err := requireBusiness(cmd.BusinessID); err != nil {
		return nil, err
	}
	if cmd.BranchID == "" || cmd.ProductID == "" {
		return nil, domain.InvalidArgument("branch_id and product_id are required")
	}
	if cmd.Type == "" {
		cmd.Type = domain.MovementAdjustment
	}
	switch cmd.Type {
	case domain.MovementPurchase, domain.MovementOpeningBalance:
		if cmd.Delta < 1 {
			return nil, domain.InvalidArgument("%s quantity must be positive", cmd.Type)
		}
	case domain.MovementAdjustment:
		if cmd.Delta == 0 {
			return nil, domain.InvalidArgument("adjustment delta must not be zero")
		}
	default:
		return nil, domain.InvalidArgument("movement type %q cannot be adjusted manually", cmd.Type)
	}
	if cmd.Delta > domain.MaxQuantity || cmd.Delta < -domain.MaxQuantity {
		return nil, domain.InvalidArgument("delta must be within %d units", domain.MaxQuantity)
	}

	key := stockKey(cmd.BusinessID, cmd.BranchID, cmd.ProductID)
	now := s.now()
	var level domain.StockLevel
	err := s.repo.RunInTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetBranch(ctx, cmd.BusinessID, cmd.BranchID); err != nil {
			return err
		}
		if _, err := requireProducts(ctx, tx, cmd.BusinessID, []string{cmd.ProductID}); err != nil {
			return err
		}
		levels, err := tx.LockStock(ctx, []domain.StockKey{key})
		if err != nil {
			return err
		}
		if cmd.Delta < 0 && levels[key]+cmd.Delta < 0 {
			return domain.InsufficientStock("branch %s has %d of product %s, adjustment removes %d", cmd.BranchID, levels[key], cmd.ProductID, -cmd.Delta)
		}
		qty, err := ledger.Adjust(ctx, tx, ledger.Entry{
			Key:    key,
			Delta:  cmd.Delta,
			Type:   cmd.Type,
			UserID: cmd.UserID,
			Note:   strings.TrimSpace(cmd.Note),
			At:     now,
		})
		if err != nil {
			return err
		}
		level = domain.StockLevel{
			BusinessID: key.BusinessID,
			BranchID:   key.BranchID,
			ProductID:  key.ProductID,
			Quantity:   qty,
			UpdatedAt:  now,
		}
		return nil
	})
	if err != nil {
		return nil, domain.Internal("adjust stock", err)
	}

	s.logAudit(ctx, "stock_adjust", "stock_level", cmd.ProductID).
		Str("branch_id", cmd.BranchID).
		Str("type", string(cmd.Type)).
		Int("delta", cmd.Delta).
		Int("quantity", level.Quantity).
		Msg("stock adjusted")
	return &level, nil
}

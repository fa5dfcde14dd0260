package service

import (
	"context"
	"fmt"
	"strings"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/ledger"
	"tokoledger/backend/internal/store"
	"tokoledger/backend/internal/xid"
)

// CreateStockTransfer moves stock between two branches of one business. Each
// item yields a negative adjustment at the source and a positive one at the
// destination; the business-wide total per product is unchanged.
func (s *Service) CreateStockTransfer(ctx context.Context, cmd domain.CreateTransferCommand) (*domain.StockTransfer, error) {
	cmd.FromBranchID = strings.TrimSpace(cmd.FromBranchID)
	cmd.ToBranchID = strings.TrimSpace(cmd.ToBranchID)
	if err := requireBusiness(cmd.BusinessID); err != nil {
		return nil, err
	}
	if cmd.FromBranchID == "" || cmd.ToBranchID == "" {
		return nil, domain.InvalidArgument("from_branch_id and to_branch_id are required")
	}
	if cmd.FromBranchID == cmd.ToBranchID {
		return nil, domain.InvalidArgument("cannot transfer stock to the same branch")
	}
	if len(cmd.Items) == 0 {
		return nil, domain.InvalidArgument("transfer needs at least one item")
	}

	merged := make([]domain.StockTransferItem, 0, len(cmd.Items))
	position := make(map[string]int, len(cmd.Items))
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
		if idx, ok := position[productID]; ok {
			merged[idx].Quantity += in.Quantity
			if merged[idx].Quantity > domain.MaxQuantity {
				return nil, domain.InvalidArgument("item %d: quantity must not exceed %d", i+1, domain.MaxQuantity)
			}
			continue
		}
		position[productID] = len(merged)
		merged = append(merged, domain.StockTransferItem{ProductID: productID, Quantity: in.Quantity})
	}

	now := s.now()
	transfer := domain.StockTransfer{
		ID:              xid.New(),
		BusinessID:      cmd.BusinessID,
		FromBranchID:    cmd.FromBranchID,
		ToBranchID:      cmd.ToBranchID,
		CreatedByUserID: cmd.UserID,
		Status:          domain.TransferPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err := s.repo.RunInTx(ctx, func(tx store.Tx) error {
		from, err := tx.GetBranch(ctx, cmd.BusinessID, cmd.FromBranchID)
		if err != nil {
			return err
		}
		to, err := tx.GetBranch(ctx, cmd.BusinessID, cmd.ToBranchID)
		if err != nil {
			return err
		}
		productIDs := make([]string, 0, len(merged))
		for _, item := range merged {
			productIDs = append(productIDs, item.ProductID)
		}
		if _, err := requireProducts(ctx, tx, cmd.BusinessID, productIDs); err != nil {
			return err
		}
		if err := tx.InsertTransfer(ctx, transfer); err != nil {
			return err
		}

		keys := make([]domain.StockKey, 0, 2*len(merged))
		for _, item := range merged {
			keys = append(keys,
				stockKey(cmd.BusinessID, from.ID, item.ProductID),
				stockKey(cmd.BusinessID, to.ID, item.ProductID),
			)
		}
		levels, err := tx.LockStock(ctx, keys)
		if err != nil {
			return err
		}

		for i, item := range merged {
			fromKey := stockKey(cmd.BusinessID, from.ID, item.ProductID)
			if levels[fromKey] < item.Quantity {
				return domain.InsufficientStock("branch %s has %d of product %s, transfer needs %d", from.Code, levels[fromKey], item.ProductID, item.Quantity)
			}
			if _, err := ledger.Adjust(ctx, tx, ledger.Entry{
				Key:         fromKey,
				Delta:       -item.Quantity,
				Type:        domain.MovementAdjustment,
				UserID:      cmd.UserID,
				Note:        fmt.Sprintf("transfer %s to branch %s", transfer.ID, to.Code),
				ReferenceID: transfer.ID,
				At:          now,
			}); err != nil {
				return err
			}
			if _, err := ledger.Adjust(ctx, tx, ledger.Entry{
				Key:         stockKey(cmd.BusinessID, to.ID, item.ProductID),
				Delta:       item.Quantity,
				Type:        domain.MovementAdjustment,
				UserID:      cmd.UserID,
				Note:        fmt.Sprintf("transfer %s from branch %s", transfer.ID, from.Code),
				ReferenceID: transfer.ID,
				At:          now,
			}); err != nil {
				return err
			}
			if err := tx.InsertTransferItem(ctx, transfer.ID, i+1, item); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, domain.Internal("create stock transfer", err)
	}

	transfer.Items = merged
	s.logAudit(ctx, "transfer_create", "stock_transfer", transfer.ID).
		Str("from_branch_id", transfer.FromBranchID).
		Str("to_branch_id", transfer.ToBranchID).
		Int("lines", len(merged)).
		Msg("stock transferred")
	return &transfer, nil
}

// UpdateStockTransferStatus changes only the status field. Stock moved when
// the transfer was created, so no movement is written here.
func (s *Service) UpdateStockTransferStatus(ctx context.Context, businessID string, transferID string, rawStatus string) (*domain.StockTransfer, error) {
	if err := requireBusiness(businessID); err != nil {
		return nil, err
	}
	transferID = strings.TrimSpace(transferID)
	if transferID == "" {
		return nil, domain.InvalidArgument("transfer id is required")
	}
	status, ok := domain.ParseTransferStatus(rawStatus)
	if !ok {
		return nil, domain.InvalidArgument("unknown transfer status %q", rawStatus)
	}

	var updated *domain.StockTransfer
	err := s.repo.RunInTx(ctx, func(tx store.Tx) error {
		current, err := tx.LockTransfer(ctx, businessID, transferID)
		if err != nil {
			return err
		}
		if !current.Status.CanAdvanceTo(status) {
			return domain.InvalidArgument("transfer %s cannot move from %s back to %s", transferID, current.Status, status)
		}
		if current.Status == status {
			updated = current
			return nil
		}
		at := s.now()
		if err := tx.UpdateTransferStatus(ctx, businessID, transferID, status, at); err != nil {
			return err
		}
		current.Status = status
		current.UpdatedAt = at
		updated = current
		return nil
	})
	if err != nil {
		return nil, domain.Internal("update transfer status", err)
	}

	s.logAudit(ctx, "transfer_status", "stock_transfer", transferID).
		Str("status", string(updated.Status)).
		Msg("transfer status updated")
	return updated, nil
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/store"
)

type tx struct {
	q querier
}

var _ store.Tx = (*tx)(nil)

func (t *tx) GetBranch(ctx context.Context, businessID string, branchID string) (*domain.Branch, error) {
	row := t.q.QueryRowContext(ctx, `
		SELECT `+branchColumns+`
		FROM branches
		WHERE business_id = $1 AND id = $2
	`, businessID, branchID)
	branch, err := scanBranch(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound("branch %s not found", branchID)
		}
		return nil, domain.Internal("get branch", err)
	}
	return &branch, nil
}

func (t *tx) GetProducts(ctx context.Context, businessID string, productIDs []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(productIDs))
	if len(productIDs) == 0 {
		return result, nil
	}
	rows, err := t.q.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE business_id = $1 AND id = ANY($2)
	`, businessID, productIDs)
	if err != nil {
		return nil, domain.Internal("get products", err)
	}
	defer rows.Close()

	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, domain.Internal("scan product", err)
		}
		result[product.ID] = product
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal("get products", err)
	}
	return result, nil
}

// LockStock materializes missing rows first so FOR UPDATE has something to
// lock, then locks one key at a time in sorted order.
func (t *tx) LockStock(ctx context.Context, keys []domain.StockKey) (map[domain.StockKey]int, error) {
	sorted := domain.SortStockKeys(keys)
	levels := make(map[domain.StockKey]int, len(sorted))
	for _, key := range sorted {
		_, err := t.q.ExecContext(ctx, `
			INSERT INTO stock_levels (business_id, branch_id, product_id, quantity, updated_at)
			VALUES ($1,$2,$3,0,now())
			ON CONFLICT (business_id, branch_id, product_id) DO NOTHING
		`, key.BusinessID, key.BranchID, key.ProductID)
		if err != nil {
			return nil, domain.Internal("ensure stock row", err)
		}

		var qty int
		err = t.q.QueryRowContext(ctx, `
			SELECT quantity
			FROM stock_levels
			WHERE business_id = $1 AND branch_id = $2 AND product_id = $3
			FOR UPDATE
		`, key.BusinessID, key.BranchID, key.ProductID).Scan(&qty)
		if err != nil {
			return nil, domain.Internal("lock stock row", err)
		}
		levels[key] = qty
	}
	return levels, nil
}

func (t *tx) AddStock(ctx context.Context, key domain.StockKey, delta int) (int, error) {
	var qty int
	err := t.q.QueryRowContext(ctx, `
		INSERT INTO stock_levels (business_id, branch_id, product_id, quantity, updated_at)
		VALUES ($1,$2,$3,$4,now())
		ON CONFLICT (business_id, branch_id, product_id)
		DO UPDATE SET quantity = stock_levels.quantity + EXCLUDED.quantity, updated_at = now()
		RETURNING quantity
	`, key.BusinessID, key.BranchID, key.ProductID, delta).Scan(&qty)
	if err != nil {
		return 0, domain.Internal("add stock", err)
	}
	return qty, nil
}

func (t *tx) InsertMovement(ctx context.Context, m domain.StockMovement) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO stock_movements (id, business_id, branch_id, product_id, user_id, type, quantity, note, reference_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, m.ID, m.BusinessID, m.BranchID, m.ProductID, m.UserID, string(m.Type), m.Quantity,
		nullIfEmpty(m.Note), nullIfEmpty(m.ReferenceID), m.CreatedAt)
	if err != nil {
		return domain.Internal("insert movement", err)
	}
	return nil
}

func (t *tx) InsertSale(ctx context.Context, sale domain.Sale) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO sales (id, business_id, branch_id, user_id, total_amount, status, offline_id, sold_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, sale.ID, sale.BusinessID, sale.BranchID, sale.UserID, sale.TotalAmount, sale.Status,
		nullIfEmpty(sale.OfflineID), sale.SoldAt)
	if err != nil {
		if constraint, ok := uniqueViolation(err); ok && constraint == offlineConstraint {
			return domain.Conflict("", "offline id %q already used", sale.OfflineID)
		}
		return domain.Internal("insert sale", err)
	}
	return nil
}

func (t *tx) InsertSaleItem(ctx context.Context, saleID string, lineNo int, item domain.SaleItem) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO sale_items (sale_id, line_no, product_id, quantity, unit_price, line_total)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, saleID, lineNo, item.ProductID, item.Quantity, item.UnitPrice, item.LineTotal)
	if err != nil {
		return domain.Internal("insert sale item", err)
	}
	return nil
}

func (t *tx) InsertRegisterEntry(ctx context.Context, saleID string, entry domain.CashRegisterEntry) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO cash_register_entries (id, sale_id, payment_method, reference_code, amount, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, entry.ID, saleID, entry.PaymentMethod, nullIfEmpty(entry.ReferenceCode), entry.Amount, entry.CreatedAt)
	if err != nil {
		return domain.Internal("insert register entry", err)
	}
	return nil
}

func (t *tx) LockSale(ctx context.Context, businessID string, saleID string) (*domain.Sale, error) {
	row := t.q.QueryRowContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE business_id = $1 AND id = $2
		FOR UPDATE
	`, businessID, saleID)
	sale, err := scanSale(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound("sale %s not found", saleID)
		}
		return nil, domain.Internal("lock sale", err)
	}
	sales := []domain.Sale{sale}
	if err := attachSaleDetails(ctx, t.q, sales); err != nil {
		return nil, err
	}
	return &sales[0], nil
}

func (t *tx) ReturnedQuantities(ctx context.Context, saleID string) (map[string]int, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT ri.product_id, COALESCE(SUM(ri.quantity), 0)::int
		FROM returns r
		JOIN return_items ri ON ri.return_id = r.id
		WHERE r.sale_id = $1
		GROUP BY ri.product_id
	`, saleID)
	if err != nil {
		return nil, domain.Internal("returned quantities", err)
	}
	defer rows.Close()

	result := make(map[string]int)
	for rows.Next() {
		var productID string
		var qty int
		if err := rows.Scan(&productID, &qty); err != nil {
			return nil, domain.Internal("scan returned quantity", err)
		}
		result[productID] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal("returned quantities", err)
	}
	return result, nil
}

func (t *tx) InsertReturn(ctx context.Context, ret domain.Return) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO returns (id, sale_id, business_id, branch_id, user_id, total_amount, reason, refund_method, reference_code, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, ret.ID, ret.SaleID, ret.BusinessID, ret.BranchID, ret.UserID, ret.TotalAmount,
		nullIfEmpty(ret.Reason), nullIfEmpty(ret.RefundMethod), nullIfEmpty(ret.ReferenceCode), ret.CreatedAt)
	if err != nil {
		return domain.Internal("insert return", err)
	}
	return nil
}

func (t *tx) InsertReturnItem(ctx context.Context, returnID string, lineNo int, item domain.ReturnItem) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO return_items (return_id, line_no, product_id, quantity, unit_price, line_total)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, returnID, lineNo, item.ProductID, item.Quantity, item.UnitPrice, item.LineTotal)
	if err != nil {
		return domain.Internal("insert return item", err)
	}
	return nil
}

func (t *tx) InsertTransfer(ctx context.Context, transfer domain.StockTransfer) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO stock_transfers (id, business_id, from_branch_id, to_branch_id, created_by_user_id, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, transfer.ID, transfer.BusinessID, transfer.FromBranchID, transfer.ToBranchID, transfer.CreatedByUserID,
		string(transfer.Status), transfer.CreatedAt, transfer.UpdatedAt)
	if err != nil {
		return domain.Internal("insert transfer", err)
	}
	return nil
}

func (t *tx) InsertTransferItem(ctx context.Context, transferID string, lineNo int, item domain.StockTransferItem) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO stock_transfer_items (transfer_id, line_no, product_id, quantity)
		VALUES ($1,$2,$3,$4)
	`, transferID, lineNo, item.ProductID, item.Quantity)
	if err != nil {
		return domain.Internal("insert transfer item", err)
	}
	return nil
}

func (t *tx) LockTransfer(ctx context.Context, businessID string, transferID string) (*domain.StockTransfer, error) {
	row := t.q.QueryRowContext(ctx, `
		SELECT `+transferColumns+`
		FROM stock_transfers
		WHERE business_id = $1 AND id = $2
		FOR UPDATE
	`, businessID, transferID)
	transfer, err := scanTransfer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound("stock transfer %s not found", transferID)
		}
		return nil, domain.Internal("lock transfer", err)
	}
	transfers := []domain.StockTransfer{transfer}
	if err := attachTransferItems(ctx, t.q, transfers); err != nil {
		return nil, err
	}
	return &transfers[0], nil
}

func (t *tx) UpdateTransferStatus(ctx context.Context, businessID string, transferID string, status domain.TransferStatus, at time.Time) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE stock_transfers
		SET status = $3, updated_at = $4
		WHERE business_id = $1 AND id = $2
	`, businessID, transferID, string(status), at)
	if err != nil {
		return domain.Internal("update transfer status", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Internal("update transfer status", err)
	}
	if affected == 0 {
		return domain.NotFound("stock transfer %s not found", transferID)
	}
	return nil
}

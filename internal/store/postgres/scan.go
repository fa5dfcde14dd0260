package postgres

import (
	"context"
	"database/sql"

	"tokoledger/backend/internal/domain"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

const (
	branchColumns   = `id, business_id, name, code, active, created_at`
	productColumns  = `id, business_id, name, COALESCE(sku, ''), category, cost_price, sell_price, status, created_at, updated_at`
	saleColumns     = `id, business_id, branch_id, user_id, total_amount, status, COALESCE(offline_id, ''), sold_at`
	returnColumns   = `id, sale_id, business_id, branch_id, user_id, total_amount, COALESCE(reason, ''), COALESCE(refund_method, ''), COALESCE(reference_code, ''), created_at`
	transferColumns = `id, business_id, from_branch_id, to_branch_id, created_by_user_id, status, created_at, updated_at`
)

func scanBranch(row scanner) (domain.Branch, error) {
	var b domain.Branch
	err := row.Scan(&b.ID, &b.BusinessID, &b.Name, &b.Code, &b.Active, &b.CreatedAt)
	b.CreatedAt = b.CreatedAt.UTC()
	return b, err
}

func scanProduct(row scanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.BusinessID, &p.Name, &p.SKU, &p.Category, &p.CostPrice, &p.SellPrice, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, err
}

func scanSale(row scanner) (domain.Sale, error) {
	var s domain.Sale
	err := row.Scan(&s.ID, &s.BusinessID, &s.BranchID, &s.UserID, &s.TotalAmount, &s.Status, &s.OfflineID, &s.SoldAt)
	s.SoldAt = s.SoldAt.UTC()
	return s, err
}

func scanReturn(row scanner) (domain.Return, error) {
	var r domain.Return
	err := row.Scan(&r.ID, &r.SaleID, &r.BusinessID, &r.BranchID, &r.UserID, &r.TotalAmount, &r.Reason, &r.RefundMethod, &r.ReferenceCode, &r.CreatedAt)
	r.CreatedAt = r.CreatedAt.UTC()
	return r, err
}

func scanTransfer(row scanner) (domain.StockTransfer, error) {
	var t domain.StockTransfer
	var status string
	err := row.Scan(&t.ID, &t.BusinessID, &t.FromBranchID, &t.ToBranchID, &t.CreatedByUserID, &status, &t.CreatedAt, &t.UpdatedAt)
	t.Status = domain.TransferStatus(status)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, err
}

// attachSaleDetails loads items and register entries for sales in two
// round trips.
func attachSaleDetails(ctx context.Context, q querier, sales []domain.Sale) error {
	if len(sales) == 0 {
		return nil
	}
	ids := make([]string, 0, len(sales))
	index := make(map[string]int, len(sales))
	for i, sale := range sales {
		ids = append(ids, sale.ID)
		index[sale.ID] = i
		sales[i].Items = make([]domain.SaleItem, 0, 4)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT sale_id, product_id, quantity, unit_price, line_total
		FROM sale_items
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, line_no
	`, ids)
	if err != nil {
		return domain.Internal("load sale items", err)
	}
	for rows.Next() {
		var saleID string
		var item domain.SaleItem
		if err := rows.Scan(&saleID, &item.ProductID, &item.Quantity, &item.UnitPrice, &item.LineTotal); err != nil {
			_ = rows.Close()
			return domain.Internal("scan sale item", err)
		}
		sales[index[saleID]].Items = append(sales[index[saleID]].Items, item)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return domain.Internal("load sale items", err)
	}
	_ = rows.Close()

	rows, err = q.QueryContext(ctx, `
		SELECT sale_id, id, payment_method, COALESCE(reference_code, ''), amount, created_at
		FROM cash_register_entries
		WHERE sale_id = ANY($1)
	`, ids)
	if err != nil {
		return domain.Internal("load register entries", err)
	}
	defer rows.Close()
	for rows.Next() {
		var saleID string
		var entry domain.CashRegisterEntry
		if err := rows.Scan(&saleID, &entry.ID, &entry.PaymentMethod, &entry.ReferenceCode, &entry.Amount, &entry.CreatedAt); err != nil {
			return domain.Internal("scan register entry", err)
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		sales[index[saleID]].RegisterEntry = entry
	}
	if err := rows.Err(); err != nil {
		return domain.Internal("load register entries", err)
	}
	return nil
}

func attachReturnItems(ctx context.Context, q querier, returns []domain.Return) error {
	if len(returns) == 0 {
		return nil
	}
	ids := make([]string, 0, len(returns))
	index := make(map[string]int, len(returns))
	for i, ret := range returns {
		ids = append(ids, ret.ID)
		index[ret.ID] = i
		returns[i].Items = make([]domain.ReturnItem, 0, 2)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT return_id, product_id, quantity, unit_price, line_total
		FROM return_items
		WHERE return_id = ANY($1)
		ORDER BY return_id, line_no
	`, ids)
	if err != nil {
		return domain.Internal("load return items", err)
	}
	defer rows.Close()
	for rows.Next() {
		var returnID string
		var item domain.ReturnItem
		if err := rows.Scan(&returnID, &item.ProductID, &item.Quantity, &item.UnitPrice, &item.LineTotal); err != nil {
			return domain.Internal("scan return item", err)
		}
		returns[index[returnID]].Items = append(returns[index[returnID]].Items, item)
	}
	if err := rows.Err(); err != nil {
		return domain.Internal("load return items", err)
	}
	return nil
}

func attachTransferItems(ctx context.Context, q querier, transfers []domain.StockTransfer) error {
	if len(transfers) == 0 {
		return nil
	}
	ids := make([]string, 0, len(transfers))
	index := make(map[string]int, len(transfers))
	for i, t := range transfers {
		ids = append(ids, t.ID)
		index[t.ID] = i
		transfers[i].Items = make([]domain.StockTransferItem, 0, 4)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT transfer_id, product_id, quantity
		FROM stock_transfer_items
		WHERE transfer_id = ANY($1)
		ORDER BY transfer_id, line_no
	`, ids)
	if err != nil {
		return domain.Internal("load transfer items", err)
	}
	defer rows.Close()
	for rows.Next() {
		var transferID string
		var item domain.StockTransferItem
		if err := rows.Scan(&transferID, &item.ProductID, &item.Quantity); err != nil {
			return domain.Internal("scan transfer item", err)
		}
		transfers[index[transferID]].Items = append(transfers[index[transferID]].Items, item)
	}
	if err := rows.Err(); err != nil {
		return domain.Internal("load transfer items", err)
	}
	return nil
}

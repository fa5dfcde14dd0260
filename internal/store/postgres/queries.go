package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"tokoledger/backend/internal/domain"
)

// whereBuilder collects AND-ed predicates. Each "?" in a clause is bound to
// the single argument passed with it.
type whereBuilder struct {
	clauses []string
	args    []any
}

func (w *whereBuilder) add(clause string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, strings.ReplaceAll(clause, "?", "$"+strconv.Itoa(len(w.args))))
}

func (w *whereBuilder) timeRange(column string, filter domain.ListFilter) {
	if filter.From != nil {
		w.add(column+" >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		w.add(column+" < ?", filter.To.UTC())
	}
}

func (w *whereBuilder) where() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

// page appends LIMIT and OFFSET placeholders and returns the final args.
func (w *whereBuilder) page(filter domain.ListFilter) (string, []any) {
	args := append(w.args, filter.Limit, filter.Offset)
	n := len(w.args)
	return " LIMIT $" + strconv.Itoa(n+1) + " OFFSET $" + strconv.Itoa(n+2), args
}

func (s *Store) FindSaleByOfflineID(ctx context.Context, businessID string, offlineID string) (*domain.Sale, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE business_id = $1 AND offline_id = $2
	`, businessID, offlineID)
	return s.loadSale(ctx, row, "sale with offline id "+strconv.Quote(offlineID))
}

func (s *Store) GetSale(ctx context.Context, businessID string, saleID string) (*domain.Sale, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE business_id = $1 AND id = $2
	`, businessID, saleID)
	return s.loadSale(ctx, row, "sale "+saleID)
}

func (s *Store) loadSale(ctx context.Context, row *sql.Row, what string) (*domain.Sale, error) {
	sale, err := scanSale(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound("%s not found", what)
		}
		return nil, domain.Internal("get sale", err)
	}
	sales := []domain.Sale{sale}
	if err := attachSaleDetails(ctx, s.db, sales); err != nil {
		return nil, err
	}
	return &sales[0], nil
}

func (s *Store) ListSales(ctx context.Context, filter domain.ListFilter) ([]domain.Sale, error) {
	filter = filter.Normalize()
	w := &whereBuilder{}
	w.add("business_id = ?", filter.BusinessID)
	if filter.BranchID != "" {
		w.add("branch_id = ?", filter.BranchID)
	}
	w.timeRange("sold_at", filter)
	limit, args := w.page(filter)

	rows, err := s.db.QueryContext(ctx, `SELECT `+saleColumns+` FROM sales`+w.where()+
		` ORDER BY sold_at DESC, id DESC`+limit, args...)
	if err != nil {
		return nil, domain.Internal("list sales", err)
	}
	sales := make([]domain.Sale, 0, filter.Limit)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			_ = rows.Close()
			return nil, domain.Internal("scan sale", err)
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, domain.Internal("list sales", err)
	}
	_ = rows.Close()

	if err := attachSaleDetails(ctx, s.db, sales); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) GetReturn(ctx context.Context, businessID string, returnID string) (*domain.Return, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+returnColumns+`
		FROM returns
		WHERE business_id = $1 AND id = $2
	`, businessID, returnID)
	ret, err := scanReturn(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound("return %s not found", returnID)
		}
		return nil, domain.Internal("get return", err)
	}
	returns := []domain.Return{ret}
	if err := attachReturnItems(ctx, s.db, returns); err != nil {
		return nil, err
	}
	return &returns[0], nil
}

func (s *Store) ListReturns(ctx context.Context, filter domain.ListFilter) ([]domain.Return, error) {
	filter = filter.Normalize()
	w := &whereBuilder{}
	w.add("business_id = ?", filter.BusinessID)
	if filter.BranchID != "" {
		w.add("branch_id = ?", filter.BranchID)
	}
	if filter.SaleID != "" {
		w.add("sale_id = ?", filter.SaleID)
	}
	w.timeRange("created_at", filter)
	limit, args := w.page(filter)

	rows, err := s.db.QueryContext(ctx, `SELECT `+returnColumns+` FROM returns`+w.where()+
		` ORDER BY created_at DESC, id DESC`+limit, args...)
	if err != nil {
		return nil, domain.Internal("list returns", err)
	}
	returns := make([]domain.Return, 0, filter.Limit)
	for rows.Next() {
		ret, err := scanReturn(rows)
		if err != nil {
			_ = rows.Close()
			return nil, domain.Internal("scan return", err)
		}
		returns = append(returns, ret)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, domain.Internal("list returns", err)
	}
	_ = rows.Close()

	if err := attachReturnItems(ctx, s.db, returns); err != nil {
		return nil, err
	}
	return returns, nil
}

func (s *Store) GetTransfer(ctx context.Context, businessID string, transferID string) (*domain.StockTransfer, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+transferColumns+`
		FROM stock_transfers
		WHERE business_id = $1 AND id = $2
	`, businessID, transferID)
	transfer, err := scanTransfer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound("stock transfer %s not found", transferID)
		}
		return nil, domain.Internal("get transfer", err)
	}
	transfers := []domain.StockTransfer{transfer}
	if err := attachTransferItems(ctx, s.db, transfers); err != nil {
		return nil, err
	}
	return &transfers[0], nil
}

func (s *Store) ListTransfers(ctx context.Context, filter domain.ListFilter) ([]domain.StockTransfer, error) {
	filter = filter.Normalize()
	w := &whereBuilder{}
	w.add("business_id = ?", filter.BusinessID)
	if filter.BranchID != "" {
		w.add("(from_branch_id = ? OR to_branch_id = ?)", filter.BranchID)
	}
	if filter.Status != "" {
		w.add("status = ?", string(filter.Status))
	}
	w.timeRange("created_at", filter)
	limit, args := w.page(filter)

	rows, err := s.db.QueryContext(ctx, `SELECT `+transferColumns+` FROM stock_transfers`+w.where()+
		` ORDER BY created_at DESC, id DESC`+limit, args...)
	if err != nil {
		return nil, domain.Internal("list transfers", err)
	}
	transfers := make([]domain.StockTransfer, 0, filter.Limit)
	for rows.Next() {
		transfer, err := scanTransfer(rows)
		if err != nil {
			_ = rows.Close()
			return nil, domain.Internal("scan transfer", err)
		}
		transfers = append(transfers, transfer)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, domain.Internal("list transfers", err)
	}
	_ = rows.Close()

	if err := attachTransferItems(ctx, s.db, transfers); err != nil {
		return nil, err
	}
	return transfers, nil
}

func (s *Store) ListStockLevels(ctx context.Context, filter domain.ListFilter) ([]domain.StockLevel, error) {
	filter = filter.Normalize()
	w := &whereBuilder{}
	w.add("business_id = ?", filter.BusinessID)
	if filter.BranchID != "" {
		w.add("branch_id = ?", filter.BranchID)
	}
	if filter.ProductID != "" {
		w.add("product_id = ?", filter.ProductID)
	}
	limit, args := w.page(filter)

	rows, err := s.db.QueryContext(ctx, `SELECT business_id, branch_id, product_id, quantity, updated_at FROM stock_levels`+
		w.where()+` ORDER BY branch_id ASC, product_id ASC`+limit, args...)
	if err != nil {
		return nil, domain.Internal("list stock levels", err)
	}
	defer rows.Close()

	levels := make([]domain.StockLevel, 0, filter.Limit)
	for rows.Next() {
		var l domain.StockLevel
		if err := rows.Scan(&l.BusinessID, &l.BranchID, &l.ProductID, &l.Quantity, &l.UpdatedAt); err != nil {
			return nil, domain.Internal("scan stock level", err)
		}
		l.UpdatedAt = l.UpdatedAt.UTC()
		levels = append(levels, l)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal("list stock levels", err)
	}
	return levels, nil
}

func (s *Store) ListMovements(ctx context.Context, filter domain.ListFilter) ([]domain.StockMovement, error) {
	filter = filter.Normalize()
	w := &whereBuilder{}
	w.add("business_id = ?", filter.BusinessID)
	if filter.BranchID != "" {
		w.add("branch_id = ?", filter.BranchID)
	}
	if filter.ProductID != "" {
		w.add("product_id = ?", filter.ProductID)
	}
	if filter.Type != "" {
		w.add("type = ?", string(filter.Type))
	}
	w.timeRange("created_at", filter)
	limit, args := w.page(filter)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, business_id, branch_id, product_id, user_id, type, quantity, COALESCE(note, ''), COALESCE(reference_id, ''), created_at
		FROM stock_movements`+w.where()+` ORDER BY created_at DESC, id DESC`+limit, args...)
	if err != nil {
		return nil, domain.Internal("list movements", err)
	}
	defer rows.Close()

	movements := make([]domain.StockMovement, 0, filter.Limit)
	for rows.Next() {
		var m domain.StockMovement
		var movementType string
		if err := rows.Scan(&m.ID, &m.BusinessID, &m.BranchID, &m.ProductID, &m.UserID, &movementType, &m.Quantity, &m.Note, &m.ReferenceID, &m.CreatedAt); err != nil {
			return nil, domain.Internal("scan movement", err)
		}
		m.Type = domain.MovementType(movementType)
		m.CreatedAt = m.CreatedAt.UTC()
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal("list movements", err)
	}
	return movements, nil
}

package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/store"
)

// pgArgConverter lets []string through the way the pgx driver does.
type pgArgConverter struct{}

func (pgArgConverter) ConvertValue(v any) (driver.Value, error) {
	if ids, ok := v.([]string); ok {
		return ids, nil
	}
	return driver.DefaultParameterConverter.ConvertValue(v)
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.ValueConverterOption(pgArgConverter{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

func q(sql string) string { return regexp.QuoteMeta(sql) }

func TestRunInTxRollsBackWhenFnFails(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(q("INSERT INTO stock_movements")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := s.RunInTx(context.Background(), func(tx store.Tx) error {
		require.NoError(t, tx.InsertMovement(context.Background(), domain.StockMovement{
			ID: "m-1", BusinessID: "biz", BranchID: "br-1", ProductID: "p-1", Type: domain.MovementPurchase, Quantity: 1,
		}))
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTxCommits(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(q("INSERT INTO stock_levels")).
		WithArgs("biz", "br-1", "p-1", -3).
		WillReturnRows(sqlmock.NewRows([]string{"quantity"}).AddRow(7))
	mock.ExpectCommit()

	err := s.RunInTx(context.Background(), func(tx store.Tx) error {
		qty, err := tx.AddStock(context.Background(), domain.StockKey{BusinessID: "biz", BranchID: "br-1", ProductID: "p-1"}, -3)
		assert.Equal(t, 7, qty)
		return err
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLockStockLocksKeysInBranchProductOrder(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	for _, k := range [][2]string{{"br-1", "a"}, {"br-1", "b"}, {"br-2", "a"}} {
		mock.ExpectExec(q("ON CONFLICT (business_id, branch_id, product_id) DO NOTHING")).
			WithArgs("biz", k[0], k[1]).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(q("FOR UPDATE")).
			WithArgs("biz", k[0], k[1]).
			WillReturnRows(sqlmock.NewRows([]string{"quantity"}).AddRow(5))
	}
	mock.ExpectCommit()

	err := s.RunInTx(context.Background(), func(tx store.Tx) error {
		levels, err := tx.LockStock(context.Background(), []domain.StockKey{
			{BusinessID: "biz", BranchID: "br-2", ProductID: "a"},
			{BusinessID: "biz", BranchID: "br-1", ProductID: "b"},
			{BusinessID: "biz", BranchID: "br-1", ProductID: "a"},
			{BusinessID: "biz", BranchID: "br-1", ProductID: "b"},
		})
		assert.Len(t, levels, 3)
		return err
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertSaleMapsOfflineUniqueViolationToConflict(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(q("INSERT INTO sales")).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: offlineConstraint})
	mock.ExpectRollback()

	err := s.RunInTx(context.Background(), func(tx store.Tx) error {
		return tx.InsertSale(context.Background(), domain.Sale{
			ID: "s-1", BusinessID: "biz", BranchID: "br-1", TotalAmount: decimal.NewFromInt(10),
			Status: domain.SaleStatusCompleted, OfflineID: "off-1", SoldAt: time.Now().UTC(),
		})
	})
	assert.True(t, errors.Is(err, domain.ErrConflict))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStorageFailuresAreInternal(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(q("INSERT INTO sale_items")).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := s.RunInTx(context.Background(), func(tx store.Tx) error {
		return tx.InsertSaleItem(context.Background(), "s-1", 1, domain.SaleItem{ProductID: "p-1", Quantity: 1})
	})
	assert.Equal(t, domain.KindInternal, domain.KindOf(err))
	assert.Contains(t, err.Error(), "insert sale item")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSaleMissingIsNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(q("FROM sales")).
		WithArgs("biz", "missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.GetSale(context.Background(), "biz", "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListSalesAppliesFilterAndJoinsDetails(t *testing.T) {
	s, mock := newMockStore(t)
	from := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	soldAt := from.Add(time.Hour)

	mock.ExpectQuery(q("FROM sales WHERE business_id = $1 AND branch_id = $2 AND sold_at >= $3 ORDER BY sold_at DESC, id DESC LIMIT $4 OFFSET $5")).
		WithArgs("biz", "br-1", from, 50, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "business_id", "branch_id", "user_id", "total_amount", "status", "offline_id", "sold_at"}).
			AddRow("s-1", "biz", "br-1", "u-1", "31.50", "completed", "", soldAt))
	mock.ExpectQuery(q("FROM sale_items")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"sale_id", "product_id", "quantity", "unit_price", "line_total"}).
			AddRow("s-1", "P42", 3, "10.5", "31.50"))
	mock.ExpectQuery(q("FROM cash_register_entries")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"sale_id", "id", "payment_method", "reference_code", "amount", "created_at"}).
			AddRow("s-1", "r-1", "cash", "", "31.50", soldAt))

	sales, err := s.ListSales(context.Background(), domain.ListFilter{BusinessID: "biz", BranchID: "br-1", From: &from})
	require.NoError(t, err)
	require.Len(t, sales, 1)
	require.Len(t, sales[0].Items, 1)
	assert.Equal(t, 3, sales[0].Items[0].Quantity)
	assert.True(t, decimal.RequireFromString("31.50").Equal(sales[0].TotalAmount))
	assert.Equal(t, "cash", sales[0].RegisterEntry.PaymentMethod)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListTransfersMatchesEitherBranch(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(q("WHERE business_id = $1 AND (from_branch_id = $2 OR to_branch_id = $2) AND status = $3")).
		WithArgs("biz", "br-1", "pending", 10, 20).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	transfers, err := s.ListTransfers(context.Background(), domain.ListFilter{
		BusinessID: "biz", BranchID: "br-1", Status: domain.TransferPending, Limit: 10, Offset: 20,
	})
	require.NoError(t, err)
	assert.Empty(t, transfers)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateTransferStatusMissingIsNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(q("UPDATE stock_transfers")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.RunInTx(context.Background(), func(tx store.Tx) error {
		return tx.UpdateTransferStatus(context.Background(), "biz", "t-1", domain.TransferReceived, time.Now().UTC())
	})
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateBranchDuplicateCodeIsConflict(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(q("INSERT INTO branches")).WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "branches_business_code_key"})

	err := s.CreateBranch(context.Background(), domain.Branch{ID: "br-1", BusinessID: "biz", Code: "MAIN"})
	assert.True(t, errors.Is(err, domain.ErrConflict))
	require.NoError(t, mock.ExpectationsWereMet())
}

package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/store"
)

func mieKey() domain.StockKey {
	return domain.StockKey{BusinessID: DemoBusinessID, BranchID: DemoMainBranch, ProductID: "p-mie"}
}

func stockOf(t *testing.T, s *Store, key domain.StockKey) int {
	t.Helper()
	levels, err := s.ListStockLevels(context.Background(), domain.ListFilter{
		BusinessID: key.BusinessID,
		BranchID:   key.BranchID,
		ProductID:  key.ProductID,
	})
	require.NoError(t, err)
	if len(levels) == 0 {
		return 0
	}
	return levels[0].Quantity
}

func TestRunInTxRollsBackOnError(t *testing.T) {
	s := NewSeeded()
	before := stockOf(t, s, mieKey())
	boom := errors.New("boom")

	err := s.RunInTx(context.Background(), func(tx store.Tx) error {
		if _, err := tx.AddStock(context.Background(), mieKey(), -5); err != nil {
			return err
		}
		if err := tx.InsertSale(context.Background(), domain.Sale{ID: "s-1", BusinessID: DemoBusinessID}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	assert.Equal(t, before, stockOf(t, s, mieKey()))
	_, err = s.GetSale(context.Background(), DemoBusinessID, "s-1")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestRunInTxCommitsStagedWrites(t *testing.T) {
	s := NewSeeded()
	now := time.Now().UTC()

	err := s.RunInTx(context.Background(), func(tx store.Tx) error {
		sale := domain.Sale{ID: "s-1", BusinessID: DemoBusinessID, BranchID: DemoMainBranch, SoldAt: now, OfflineID: "off-1"}
		require.NoError(t, tx.InsertSale(context.Background(), sale))
		require.NoError(t, tx.InsertSaleItem(context.Background(), "s-1", 1, domain.SaleItem{ProductID: "p-mie", Quantity: 2, UnitPrice: decimal.RequireFromString("3.50")}))
		require.NoError(t, tx.InsertRegisterEntry(context.Background(), "s-1", domain.CashRegisterEntry{ID: "r-1", PaymentMethod: "cash"}))
		_, err := tx.AddStock(context.Background(), mieKey(), -2)
		return err
	})
	require.NoError(t, err)

	sale, err := s.FindSaleByOfflineID(context.Background(), DemoBusinessID, "off-1")
	require.NoError(t, err)
	assert.Equal(t, "s-1", sale.ID)
	require.Len(t, sale.Items, 1)
	assert.Equal(t, "cash", sale.RegisterEntry.PaymentMethod)
	assert.Equal(t, 118, stockOf(t, s, mieKey()))
}

func TestInsertSaleRejectsDuplicateOfflineID(t *testing.T) {
	s := NewSeeded()
	insert := func(id string) error {
		return s.RunInTx(context.Background(), func(tx store.Tx) error {
			return tx.InsertSale(context.Background(), domain.Sale{ID: id, BusinessID: DemoBusinessID, OfflineID: "dup"})
		})
	}

	require.NoError(t, insert("s-1"))
	err := insert("s-2")
	require.True(t, errors.Is(err, domain.ErrConflict))
	assert.Equal(t, "s-1", domain.ConflictID(err))

	other := s.RunInTx(context.Background(), func(tx store.Tx) error {
		return tx.InsertSale(context.Background(), domain.Sale{ID: "s-3", BusinessID: "other-business", OfflineID: "dup"})
	})
	assert.NoError(t, other)
}

func TestLockStockReadsAbsentRowsAsZero(t *testing.T) {
	s := NewSeeded()
	east := domain.StockKey{BusinessID: DemoBusinessID, BranchID: DemoEastBranch, ProductID: "p-mie"}

	err := s.RunInTx(context.Background(), func(tx store.Tx) error {
		levels, err := tx.LockStock(context.Background(), []domain.StockKey{east, mieKey()})
		require.NoError(t, err)
		assert.Equal(t, 0, levels[east])
		assert.Equal(t, 120, levels[mieKey()])
		return nil
	})
	require.NoError(t, err)
}

func TestLockStockBlocksUntilHolderFinishes(t *testing.T) {
	s := NewSeeded()
	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- s.RunInTx(context.Background(), func(tx store.Tx) error {
			if _, err := tx.LockStock(context.Background(), []domain.StockKey{mieKey()}); err != nil {
				return err
			}
			close(locked)
			<-release
			_, err := tx.AddStock(context.Background(), mieKey(), -20)
			return err
		})
	}()
	<-locked

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.RunInTx(ctx, func(tx store.Tx) error {
		_, err := tx.LockStock(ctx, []domain.StockKey{mieKey()})
		return err
	})
	assert.Equal(t, domain.KindInternal, domain.KindOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, <-done)

	err = s.RunInTx(context.Background(), func(tx store.Tx) error {
		levels, err := tx.LockStock(context.Background(), []domain.StockKey{mieKey()})
		require.NoError(t, err)
		assert.Equal(t, 100, levels[mieKey()])
		return nil
	})
	require.NoError(t, err)
}

func TestConcurrentAddStockIsSerialized(t *testing.T) {
	s := NewSeeded()
	const workers = 50

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.RunInTx(context.Background(), func(tx store.Tx) error {
				_, err := tx.AddStock(context.Background(), mieKey(), -1)
				return err
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 120-workers, stockOf(t, s, mieKey()))
}

func TestUpdateTransferStatusRequiresLock(t *testing.T) {
	s := NewSeeded()
	now := time.Now().UTC()
	require.NoError(t, s.RunInTx(context.Background(), func(tx store.Tx) error {
		return tx.InsertTransfer(context.Background(), domain.StockTransfer{
			ID: "t-1", BusinessID: DemoBusinessID, FromBranchID: DemoMainBranch, ToBranchID: DemoEastBranch,
			Status: domain.TransferPending, CreatedAt: now, UpdatedAt: now,
		})
	}))

	err := s.RunInTx(context.Background(), func(tx store.Tx) error {
		return tx.UpdateTransferStatus(context.Background(), DemoBusinessID, "t-1", domain.TransferReceived, now)
	})
	assert.Equal(t, domain.KindInternal, domain.KindOf(err))

	err = s.RunInTx(context.Background(), func(tx store.Tx) error {
		if _, err := tx.LockTransfer(context.Background(), DemoBusinessID, "t-1"); err != nil {
			return err
		}
		return tx.UpdateTransferStatus(context.Background(), DemoBusinessID, "t-1", domain.TransferInTransit, now)
	})
	require.NoError(t, err)

	transfer, err := s.GetTransfer(context.Background(), DemoBusinessID, "t-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TransferInTransit, transfer.Status)

	_, err = s.GetTransfer(context.Background(), "other-business", "t-1")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestListMovementsFiltersAndPages(t *testing.T) {
	s := NewSeeded()

	all, err := s.ListMovements(context.Background(), domain.ListFilter{BusinessID: DemoBusinessID})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	one, err := s.ListMovements(context.Background(), domain.ListFilter{BusinessID: DemoBusinessID, ProductID: "p-kopi"})
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, 200, one[0].Quantity)

	paged, err := s.ListMovements(context.Background(), domain.ListFilter{BusinessID: DemoBusinessID, Limit: 3, Offset: 3})
	require.NoError(t, err)
	assert.Len(t, paged, 1)

	none, err := s.ListMovements(context.Background(), domain.ListFilter{BusinessID: DemoBusinessID, Type: domain.MovementSale})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCatalogRejectsDuplicateCodes(t *testing.T) {
	s := NewSeeded()

	err := s.CreateBranch(context.Background(), domain.Branch{ID: "br-x", BusinessID: DemoBusinessID, Code: "main"})
	assert.True(t, errors.Is(err, domain.ErrConflict))

	err = s.CreateProduct(context.Background(), domain.Product{ID: "p-x", BusinessID: DemoBusinessID, SKU: "SKU-MIE-01"})
	assert.True(t, errors.Is(err, domain.ErrConflict))

	branches, err := s.ListBranches(context.Background(), DemoBusinessID)
	require.NoError(t, err)
	require.Len(t, branches, 2)
	assert.Equal(t, "EAST", branches[0].Code)
}

package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokoledger/backend/internal/domain"
)

type fakeWriter struct {
	stock     map[domain.StockKey]int
	movements []domain.StockMovement
	addErr    error
	insertErr error
}

func (f *fakeWriter) AddStock(_ context.Context, key domain.StockKey, delta int) (int, error) {
	if f.addErr != nil {
		return 0, f.addErr
	}
	if f.stock == nil {
		f.stock = make(map[domain.StockKey]int)
	}
	f.stock[key] += delta
	return f.stock[key], nil
}

func (f *fakeWriter) InsertMovement(_ context.Context, m domain.StockMovement) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.movements = append(f.movements, m)
	return nil
}

var key = domain.StockKey{BusinessID: "biz", BranchID: "br-1", ProductID: "P42"}

func TestAdjustAppliesDeltaAndRecordsMovement(t *testing.T) {
	w := &fakeWriter{}

	qty, err := Adjust(context.Background(), w, Entry{Key: key, Delta: 10, Type: domain.MovementOpeningBalance, UserID: "u-1"})
	require.NoError(t, err)
	assert.Equal(t, 10, qty)

	qty, err = Adjust(context.Background(), w, Entry{Key: key, Delta: -3, Type: domain.MovementSale, ReferenceID: "sale-1"})
	require.NoError(t, err)
	assert.Equal(t, 7, qty)

	require.Len(t, w.movements, 2)
	sum := 0
	for _, m := range w.movements {
		sum += m.Quantity
		assert.NotEmpty(t, m.ID)
		assert.False(t, m.CreatedAt.IsZero())
	}
	assert.Equal(t, w.stock[key], sum)
	assert.Equal(t, domain.MovementSale, w.movements[1].Type)
	assert.Equal(t, "sale-1", w.movements[1].ReferenceID)
}

func TestAdjustRejectsInvalidEntries(t *testing.T) {
	w := &fakeWriter{}

	_, err := Adjust(context.Background(), w, Entry{Key: key, Delta: 0, Type: domain.MovementSale})
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))

	_, err = Adjust(context.Background(), w, Entry{Key: key, Delta: 1, Type: "gift"})
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))

	_, err = Adjust(context.Background(), w, Entry{Key: domain.StockKey{BusinessID: "biz"}, Delta: 1, Type: domain.MovementPurchase})
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))

	assert.Empty(t, w.movements)
}

func TestAdjustWrapsStorageFailuresAsInternal(t *testing.T) {
	w := &fakeWriter{addErr: errors.New("disk full")}
	_, err := Adjust(context.Background(), w, Entry{Key: key, Delta: 1, Type: domain.MovementPurchase})
	assert.Equal(t, domain.KindInternal, domain.KindOf(err))

	w = &fakeWriter{insertErr: errors.New("disk full")}
	_, err = Adjust(context.Background(), w, Entry{Key: key, Delta: 1, Type: domain.MovementPurchase})
	assert.Equal(t, domain.KindInternal, domain.KindOf(err))
}

func TestSortStockKeysDedupesInLockOrder(t *testing.T) {
	keys := domain.SortStockKeys([]domain.StockKey{
		{BusinessID: "biz", BranchID: "br-2", ProductID: "a"},
		{BusinessID: "biz", BranchID: "br-1", ProductID: "b"},
		{BusinessID: "biz", BranchID: "br-1", ProductID: "a"},
		{BusinessID: "biz", BranchID: "br-2", ProductID: "a"},
	})
	require.Len(t, keys, 3)
	assert.Equal(t, domain.StockKey{BusinessID: "biz", BranchID: "br-1", ProductID: "a"}, keys[0])
	assert.Equal(t, domain.StockKey{BusinessID: "biz", BranchID: "br-1", ProductID: "b"}, keys[1])
	assert.Equal(t, domain.StockKey{BusinessID: "biz", BranchID: "br-2", ProductID: "a"}, keys[2])
}

package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/store"
)

// lockTable hands out one context-aware mutex per name. Entries are never
// removed; the table is bounded by the number of distinct rows touched.
type lockTable struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func newLockTable() *lockTable {
	return &lockTable{slots: make(map[string]chan struct{})}
}

func (l *lockTable) slot(name string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[name]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[name] = ch
	}
	return ch
}

func (l *lockTable) acquire(ctx context.Context, name string) (func(), error) {
	ch := l.slot(name)
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, domain.Internal("acquire lock "+name, ctx.Err())
	}
}

func stockLockName(key domain.StockKey) string {
	return "stock:" + key.BusinessID + "/" + key.BranchID + "/" + key.ProductID
}

type statusChange struct {
	status domain.TransferStatus
	at     time.Time
}

// tx stages every write until commit. Rows it reads for update are guarded by
// lockTable entries held until the unit of work ends.
type tx struct {
	s        *Store
	held     map[string]func()
	stock    map[domain.StockKey]int
	dirty    map[domain.StockKey]struct{}
	moves    []domain.StockMovement
	sales    []*domain.Sale
	returns  []*domain.Return
	xfers    []*domain.StockTransfer
	statuses map[string]statusChange
}

var _ store.Tx = (*tx)(nil)

func (s *Store) RunInTx(ctx context.Context, fn func(store.Tx) error) error {
	t := &tx{
		s:        s,
		held:     make(map[string]func()),
		stock:    make(map[domain.StockKey]int),
		dirty:    make(map[domain.StockKey]struct{}),
		statuses: make(map[string]statusChange),
	}
	defer t.release()

	if err := fn(t); err != nil {
		return err
	}
	return t.commit()
}

func (t *tx) lock(ctx context.Context, name string) error {
	if _, ok := t.held[name]; ok {
		return nil
	}
	unlock, err := t.s.locks.acquire(ctx, name)
	if err != nil {
		return err
	}
	t.held[name] = unlock
	return nil
}

func (t *tx) release() {
	for name, unlock := range t.held {
		unlock()
		delete(t.held, name)
	}
}

func (t *tx) GetBranch(_ context.Context, businessID string, branchID string) (*domain.Branch, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	branch, ok := t.s.branches[branchID]
	if !ok || branch.BusinessID != businessID {
		return nil, domain.NotFound("branch %s not found", branchID)
	}
	return &branch, nil
}

func (t *tx) GetProducts(_ context.Context, businessID string, productIDs []string) (map[string]domain.Product, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	result := make(map[string]domain.Product, len(productIDs))
	for _, id := range productIDs {
		if p, ok := t.s.products[id]; ok && p.BusinessID == businessID {
			result[id] = p
		}
	}
	return result, nil
}

func (t *tx) LockStock(ctx context.Context, keys []domain.StockKey) (map[domain.StockKey]int, error) {
	sorted := domain.SortStockKeys(keys)
	for _, key := range sorted {
		if err := t.lockKey(ctx, key); err != nil {
			return nil, err
		}
	}
	levels := make(map[domain.StockKey]int, len(sorted))
	for _, key := range sorted {
		levels[key] = t.stock[key]
	}
	return levels, nil
}

func (t *tx) lockKey(ctx context.Context, key domain.StockKey) error {
	name := stockLockName(key)
	if _, ok := t.held[name]; ok {
		return nil
	}
	if err := t.lock(ctx, name); err != nil {
		return err
	}
	t.s.mu.RLock()
	t.stock[key] = t.s.stock[key].qty
	t.s.mu.RUnlock()
	return nil
}

func (t *tx) AddStock(ctx context.Context, key domain.StockKey, delta int) (int, error) {
	if err := t.lockKey(ctx, key); err != nil {
		return 0, err
	}
	t.stock[key] += delta
	t.dirty[key] = struct{}{}
	return t.stock[key], nil
}

func (t *tx) InsertMovement(_ context.Context, movement domain.StockMovement) error {
	t.moves = append(t.moves, movement)
	return nil
}

func (t *tx) InsertSale(ctx context.Context, sale domain.Sale) error {
	if sale.OfflineID != "" {
		key := offlineKey(sale.BusinessID, sale.OfflineID)
		if err := t.lock(ctx, "offline:"+key); err != nil {
			return err
		}
		t.s.mu.RLock()
		existing, dup := t.s.saleByOffline[key]
		t.s.mu.RUnlock()
		if dup {
			return domain.Conflict(existing, "offline id %q already used", sale.OfflineID)
		}
	}
	staged := sale
	staged.Items = nil
	t.sales = append(t.sales, &staged)
	return nil
}

func (t *tx) stagedSale(saleID string) (*domain.Sale, error) {
	for _, sale := range t.sales {
		if sale.ID == saleID {
			return sale, nil
		}
	}
	return nil, domain.Internal("staged sale", fmt.Errorf("sale %s not inserted in this unit of work", saleID))
}

func (t *tx) InsertSaleItem(_ context.Context, saleID string, _ int, item domain.SaleItem) error {
	sale, err := t.stagedSale(saleID)
	if err != nil {
		return err
	}
	sale.Items = append(sale.Items, item)
	return nil
}

func (t *tx) InsertRegisterEntry(_ context.Context, saleID string, entry domain.CashRegisterEntry) error {
	sale, err := t.stagedSale(saleID)
	if err != nil {
		return err
	}
	sale.RegisterEntry = entry
	return nil
}

func (t *tx) LockSale(ctx context.Context, businessID string, saleID string) (*domain.Sale, error) {
	if err := t.lock(ctx, "sale:"+saleID); err != nil {
		return nil, err
	}
	t.s.mu.RLock()
	sale, ok := t.s.sales[saleID]
	t.s.mu.RUnlock()
	if !ok || sale.BusinessID != businessID {
		return nil, domain.NotFound("sale %s not found", saleID)
	}
	dup := cloneSale(sale)
	return &dup, nil
}

func (t *tx) ReturnedQuantities(_ context.Context, saleID string) (map[string]int, error) {
	result := make(map[string]int)
	t.s.mu.RLock()
	for productID, qty := range t.s.returnedBySale[saleID] {
		result[productID] = qty
	}
	t.s.mu.RUnlock()
	for _, ret := range t.returns {
		if ret.SaleID != saleID {
			continue
		}
		for _, item := range ret.Items {
			result[item.ProductID] += item.Quantity
		}
	}
	return result, nil
}

func (t *tx) InsertReturn(_ context.Context, ret domain.Return) error {
	staged := ret
	staged.Items = nil
	t.returns = append(t.returns, &staged)
	return nil
}

func (t *tx) InsertReturnItem(_ context.Context, returnID string, _ int, item domain.ReturnItem) error {
	for _, ret := range t.returns {
		if ret.ID == returnID {
			ret.Items = append(ret.Items, item)
			return nil
		}
	}
	return domain.Internal("staged return", fmt.Errorf("return %s not inserted in this unit of work", returnID))
}

func (t *tx) InsertTransfer(_ context.Context, transfer domain.StockTransfer) error {
	staged := transfer
	staged.Items = nil
	t.xfers = append(t.xfers, &staged)
	return nil
}

func (t *tx) InsertTransferItem(_ context.Context, transferID string, _ int, item domain.StockTransferItem) error {
	for _, xfer := range t.xfers {
		if xfer.ID == transferID {
			xfer.Items = append(xfer.Items, item)
			return nil
		}
	}
	return domain.Internal("staged transfer", fmt.Errorf("transfer %s not inserted in this unit of work", transferID))
}

func (t *tx) LockTransfer(ctx context.Context, businessID string, transferID string) (*domain.StockTransfer, error) {
	if err := t.lock(ctx, "transfer:"+transferID); err != nil {
		return nil, err
	}
	t.s.mu.RLock()
	transfer, ok := t.s.transfers[transferID]
	t.s.mu.RUnlock()
	if !ok || transfer.BusinessID != businessID {
		return nil, domain.NotFound("stock transfer %s not found", transferID)
	}
	if change, ok := t.statuses[transferID]; ok {
		transfer.Status = change.status
		transfer.UpdatedAt = change.at
	}
	dup := cloneTransfer(transfer)
	return &dup, nil
}

func (t *tx) UpdateTransferStatus(_ context.Context, businessID string, transferID string, status domain.TransferStatus, at time.Time) error {
	if _, ok := t.held["transfer:"+transferID]; !ok {
		return domain.Internal("update transfer status", fmt.Errorf("transfer %s is not locked", transferID))
	}
	t.s.mu.RLock()
	transfer, ok := t.s.transfers[transferID]
	t.s.mu.RUnlock()
	if !ok || transfer.BusinessID != businessID {
		return domain.NotFound("stock transfer %s not found", transferID)
	}
	t.statuses[transferID] = statusChange{status: status, at: at}
	return nil
}

func (t *tx) commit() error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sale := range t.sales {
		if sale.OfflineID == "" {
			continue
		}
		if existing, dup := s.saleByOffline[offlineKey(sale.BusinessID, sale.OfflineID)]; dup {
			return domain.Conflict(existing, "offline id %q already used", sale.OfflineID)
		}
	}

	now := time.Now().UTC()
	for key := range t.dirty {
		s.stock[key] = stockRow{qty: t.stock[key], updatedAt: now}
	}
	s.movements = append(s.movements, t.moves...)

	for _, sale := range t.sales {
		s.sales[sale.ID] = cloneSale(*sale)
		if sale.OfflineID != "" {
			s.saleByOffline[offlineKey(sale.BusinessID, sale.OfflineID)] = sale.ID
		}
	}
	for _, ret := range t.returns {
		s.returns[ret.ID] = cloneReturn(*ret)
		returned := s.returnedBySale[ret.SaleID]
		if returned == nil {
			returned = make(map[string]int)
			s.returnedBySale[ret.SaleID] = returned
		}
		for _, item := range ret.Items {
			returned[item.ProductID] += item.Quantity
		}
	}
	for _, xfer := range t.xfers {
		s.transfers[xfer.ID] = cloneTransfer(*xfer)
	}
	for id, change := range t.statuses {
		transfer := s.transfers[id]
		transfer.Status = change.status
		transfer.UpdatedAt = change.at
		s.transfers[id] = transfer
	}
	return nil
}

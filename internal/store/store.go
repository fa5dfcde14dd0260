package store

import (
	"context"
	"time"

	"tokoledger/backend/internal/domain"
)

// Tx is the repository surface bound to one unit of work. Every write made
// through a Tx becomes visible together on commit or not at all.
//
// Stock rows are locked by LockStock (and implicitly by AddStock) and stay
// locked until the unit of work ends, so a read-then-write on a StockKey can
// never interleave with another Tx touching the same key.
type Tx interface {
	GetBranch(ctx context.Context, businessID string, branchID string) (*domain.Branch, error)
	GetProducts(ctx context.Context, businessID string, productIDs []string) (map[string]domain.Product, error)

	// LockStock locks keys in ascending (branch, product) order and returns
	// their current quantities. Absent rows read as zero.
	LockStock(ctx context.Context, keys []domain.StockKey) (map[domain.StockKey]int, error)
	AddStock(ctx context.Context, key domain.StockKey, delta int) (int, error)
	InsertMovement(ctx context.Context, movement domain.StockMovement) error

	InsertSale(ctx context.Context, sale domain.Sale) error
	InsertSaleItem(ctx context.Context, saleID string, lineNo int, item domain.SaleItem) error
	InsertRegisterEntry(ctx context.Context, saleID string, entry domain.CashRegisterEntry) error

	// LockSale loads a sale with its items and holds it until the unit of work
	// ends, serializing concurrent returns against the same sale.
	LockSale(ctx context.Context, businessID string, saleID string) (*domain.Sale, error)
	ReturnedQuantities(ctx context.Context, saleID string) (map[string]int, error)
	InsertReturn(ctx context.Context, ret domain.Return) error
	InsertReturnItem(ctx context.Context, returnID string, lineNo int, item domain.ReturnItem) error

	InsertTransfer(ctx context.Context, transfer domain.StockTransfer) error
	InsertTransferItem(ctx context.Context, transferID string, lineNo int, item domain.StockTransferItem) error
	LockTransfer(ctx context.Context, businessID string, transferID string) (*domain.StockTransfer, error)
	UpdateTransferStatus(ctx context.Context, businessID string, transferID string, status domain.TransferStatus, at time.Time) error
}

// TxRunner executes fn inside one atomic unit of work. A non-nil error from
// fn rolls back every write fn made.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(tx Tx) error) error
}

type Catalog interface {
	CreateBranch(ctx context.Context, branch domain.Branch) error
	ListBranches(ctx context.Context, businessID string) ([]domain.Branch, error)
	CreateProduct(ctx context.Context, product domain.Product) error
	ListProducts(ctx context.Context, businessID string) ([]domain.Product, error)
	GetProduct(ctx context.Context, businessID string, productID string) (*domain.Product, error)
}

// Queries is the read side. Implementations never take locks that block the
// engines and may return slightly stale data.
type Queries interface {
	FindSaleByOfflineID(ctx context.Context, businessID string, offlineID string) (*domain.Sale, error)
	GetSale(ctx context.Context, businessID string, saleID string) (*domain.Sale, error)
	ListSales(ctx context.Context, filter domain.ListFilter) ([]domain.Sale, error)
	GetReturn(ctx context.Context, businessID string, returnID string) (*domain.Return, error)
	ListReturns(ctx context.Context, filter domain.ListFilter) ([]domain.Return, error)
	GetTransfer(ctx context.Context, businessID string, transferID string) (*domain.StockTransfer, error)
	ListTransfers(ctx context.Context, filter domain.ListFilter) ([]domain.StockTransfer, error)
	ListStockLevels(ctx context.Context, filter domain.ListFilter) ([]domain.StockLevel, error)
	ListMovements(ctx context.Context, filter domain.ListFilter) ([]domain.StockMovement, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type Repository interface {
	TxRunner
	Catalog
	Queries
	UserStore
}

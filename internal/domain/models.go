package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	ProductStatusActive   = "active"
	ProductStatusInactive = "inactive"
)

const (
	SaleStatusCompleted = "completed"
)

type MovementType string

const (
	MovementPurchase       MovementType = "purchase"
	MovementSale           MovementType = "sale"
	MovementAdjustment     MovementType = "adjustment"
	MovementReturn         MovementType = "return"
	MovementOpeningBalance MovementType = "opening_balance"
)

func (t MovementType) Valid() bool {
	switch t {
	case MovementPurchase, MovementSale, MovementAdjustment, MovementReturn, MovementOpeningBalance:
		return true
	default:
		return false
	}
}

type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferInTransit TransferStatus = "in_transit"
	TransferReceived  TransferStatus = "received"
)

// ParseTransferStatus accepts the canonical values plus "in-transit".
func ParseTransferStatus(raw string) (TransferStatus, bool) {
	switch TransferStatus(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "-", "_")) {
	case TransferPending:
		return TransferPending, true
	case TransferInTransit:
		return TransferInTransit, true
	case TransferReceived:
		return TransferReceived, true
	default:
		return "", false
	}
}

func (s TransferStatus) rank() int {
	switch s {
	case TransferPending:
		return 1
	case TransferInTransit:
		return 2
	case TransferReceived:
		return 3
	default:
		return 0
	}
}

// CanAdvanceTo reports whether a transfer may move from s to next. Status
// only moves forward; skipping a step is allowed.
func (s TransferStatus) CanAdvanceTo(next TransferStatus) bool {
	return next.rank() > 0 && next.rank() >= s.rank()
}

type Actor struct {
	UserID     string `json:"user_id"`
	BusinessID string `json:"business_id"`
	BranchID   string `json:"branch_id,omitempty"`
	Role       string `json:"role"`
}

type Branch struct {
	ID         string    `json:"id"`
	BusinessID string    `json:"business_id"`
	Name       string    `json:"name"`
	Code       string    `json:"code"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

type Product struct {
	ID         string          `json:"id"`
	BusinessID string          `json:"business_id"`
	Name       string          `json:"name"`
	SKU        string          `json:"sku,omitempty"`
	Category   string          `json:"category"`
	CostPrice  decimal.Decimal `json:"cost_price"`
	SellPrice  decimal.Decimal `json:"sell_price"`
	Status     string          `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// StockKey identifies one StockLevel row.
type StockKey struct {
	BusinessID string
	BranchID   string
	ProductID  string
}

// Less orders keys by branch, then product. Locks are always taken in this order.
func (k StockKey) Less(o StockKey) bool {
	if k.BusinessID != o.BusinessID {
		return k.BusinessID < o.BusinessID
	}
	if k.BranchID != o.BranchID {
		return k.BranchID < o.BranchID
	}
	return k.ProductID < o.ProductID
}

type StockLevel struct {
	BusinessID string    `json:"business_id"`
	BranchID   string    `json:"branch_id"`
	ProductID  string    `json:"product_id"`
	Quantity   int       `json:"quantity"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (l StockLevel) Key() StockKey {
	return StockKey{BusinessID: l.BusinessID, BranchID: l.BranchID, ProductID: l.ProductID}
}

// StockMovement is an append-only ledger fact. Quantity is the signed delta
// applied to the matching StockLevel.
type StockMovement struct {
	ID          string       `json:"id"`
	BusinessID  string       `json:"business_id"`
	BranchID    string       `json:"branch_id"`
	ProductID   string       `json:"product_id"`
	UserID      string       `json:"user_id"`
	Type        MovementType `json:"type"`
	Quantity    int          `json:"quantity"`
	Note        string       `json:"note,omitempty"`
	ReferenceID string       `json:"reference_id,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

type SaleItem struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type CashRegisterEntry struct {
	ID            string          `json:"id"`
	PaymentMethod string          `json:"payment_method"`
	ReferenceCode string          `json:"reference_code,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	CreatedAt     time.Time       `json:"created_at"`
}

type Sale struct {
	ID            string            `json:"id"`
	BusinessID    string            `json:"business_id"`
	BranchID      string            `json:"branch_id"`
	UserID        string            `json:"user_id"`
	TotalAmount   decimal.Decimal   `json:"total_amount"`
	Status        string            `json:"status"`
	OfflineID     string            `json:"offline_id,omitempty"`
	SoldAt        time.Time         `json:"sold_at"`
	Items         []SaleItem        `json:"items"`
	RegisterEntry CashRegisterEntry `json:"register_entry"`
}

type ReturnItem struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type Return struct {
	ID            string          `json:"id"`
	SaleID        string          `json:"sale_id"`
	BusinessID    string          `json:"business_id"`
	BranchID      string          `json:"branch_id"`
	UserID        string          `json:"user_id"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Reason        string          `json:"reason,omitempty"`
	RefundMethod  string          `json:"refund_method,omitempty"`
	ReferenceCode string          `json:"reference_code,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	Items         []ReturnItem    `json:"items"`
}

type StockTransferItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type StockTransfer struct {
	ID              string              `json:"id"`
	BusinessID      string              `json:"business_id"`
	FromBranchID    string              `json:"from_branch_id"`
	ToBranchID      string              `json:"to_branch_id"`
	CreatedByUserID string              `json:"created_by_user_id"`
	Status          TransferStatus      `json:"status"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
	Items           []StockTransferItem `json:"items"`
}

type UserAccount struct {
	Username   string    `json:"username"`
	BusinessID string    `json:"business_id"`
	BranchID   string    `json:"branch_id,omitempty"`
	Password   string    `json:"-"`
	Role       string    `json:"role"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type SaleItemInput struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type CreateSaleCommand struct {
	BusinessID    string           `json:"-"`
	BranchID      string           `json:"branch_id"`
	UserID        string           `json:"-"`
	Items         []SaleItemInput  `json:"items"`
	TotalAmount   *decimal.Decimal `json:"total_amount,omitempty"`
	PaymentMethod string           `json:"payment_method"`
	ReferenceCode string           `json:"reference_code,omitempty"`
	OfflineID     string           `json:"offline_id,omitempty"`
	SoldAt        *time.Time       `json:"sold_at,omitempty"`
}

type ReturnItemInput struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type CreateReturnCommand struct {
	BusinessID    string            `json:"-"`
	BranchID      string            `json:"branch_id,omitempty"`
	UserID        string            `json:"-"`
	SaleID        string            `json:"sale_id"`
	Items         []ReturnItemInput `json:"items"`
	Reason        string            `json:"reason,omitempty"`
	RefundMethod  string            `json:"refund_method,omitempty"`
	ReferenceCode string            `json:"reference_code,omitempty"`
}

type CreateTransferCommand struct {
	BusinessID   string              `json:"-"`
	UserID       string              `json:"-"`
	FromBranchID string              `json:"from_branch_id"`
	ToBranchID   string              `json:"to_branch_id"`
	Items        []StockTransferItem `json:"items"`
}

type AdjustStockCommand struct {
	BusinessID string       `json:"-"`
	UserID     string       `json:"-"`
	BranchID   string       `json:"branch_id"`
	ProductID  string       `json:"product_id"`
	Delta      int          `json:"delta"`
	Type       MovementType `json:"type"`
	Note       string       `json:"note,omitempty"`
}

type CreateBranchCommand struct {
	BusinessID string `json:"-"`
	Name       string `json:"name"`
	Code       string `json:"code"`
}

type CreateProductCommand struct {
	BusinessID string          `json:"-"`
	Name       string          `json:"name"`
	SKU        string          `json:"sku,omitempty"`
	Category   string          `json:"category"`
	CostPrice  decimal.Decimal `json:"cost_price"`
	SellPrice  decimal.Decimal `json:"sell_price"`
}

type OfflineSale struct {
	ClientSaleID string            `json:"client_sale_id"`
	Sale         CreateSaleCommand `json:"sale"`
}

type OfflineSyncCommand struct {
	BusinessID string        `json:"-"`
	BranchID   string        `json:"branch_id"`
	UserID     string        `json:"-"`
	EnvelopeID string        `json:"envelope_id"`
	Sales      []OfflineSale `json:"sales"`
}

const (
	OfflineStatusAccepted  = "accepted"
	OfflineStatusDuplicate = "duplicate"
	OfflineStatusRejected  = "rejected"
)

type OfflineSyncStatus struct {
	ClientSaleID string `json:"client_sale_id"`
	Status       string `json:"status"`
	SaleID       string `json:"sale_id,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

type OfflineSyncResult struct {
	EnvelopeID string              `json:"envelope_id"`
	Statuses   []OfflineSyncStatus `json:"statuses"`
}

// ListFilter scopes read-side queries. From is inclusive, To is exclusive.
type ListFilter struct {
	BusinessID string
	BranchID   string
	SaleID     string
	ProductID  string
	Status     TransferStatus
	Type       MovementType
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Normalize clamps pagination to sane bounds.
func (f ListFilter) Normalize() ListFilter {
	if f.Limit < 1 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// MatchesTime reports whether t falls inside the filter window.
func (f ListFilter) MatchesTime(t time.Time) bool {
	if f.From != nil && t.Before(*f.From) {
		return false
	}
	if f.To != nil && !t.Before(*f.To) {
		return false
	}
	return true
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	BusinessID  string `json:"business_id"`
	ExpiresAt   string `json:"expires_at"`
}

type CreateUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
	BranchID string `json:"branch_id,omitempty"`
}

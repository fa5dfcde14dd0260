// Package ledger applies signed stock deltas and records each one as an
// append-only movement. It always runs inside the caller's unit of work.
package ledger

import (
	"context"
	"time"

	"tokoledger/backend/internal/domain"
	"tokoledger/backend/internal/xid"
)

type Writer interface {
	AddStock(ctx context.Context, key domain.StockKey, delta int) (int, error)
	InsertMovement(ctx context.Context, movement domain.StockMovement) error
}

type Entry struct {
	Key         domain.StockKey
	Delta       int
	Type        domain.MovementType
	UserID      string
	Note        string
	ReferenceID string
	At          time.Time
}

// Adjust applies e.Delta to the stock row for e.Key, appends the matching
// movement and returns the new quantity.
func Adjust(ctx context.Context, w Writer, e Entry) (int, error) {
	if e.Delta == 0 {
		return 0, domain.InvalidArgument("stock delta must not be zero")
	}
	if !e.Type.Valid() {
		return 0, domain.InvalidArgument("unknown movement type %q", e.Type)
	}
	if e.Key.BusinessID == "" || e.Key.BranchID == "" || e.Key.ProductID == "" {
		return 0, domain.InvalidArgument("stock key is incomplete")
	}
	at := e.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	qty, err := w.AddStock(ctx, e.Key, e.Delta)
	if err != nil {
		return 0, domain.Internal("add stock", err)
	}

	err = w.InsertMovement(ctx, domain.StockMovement{
		ID:          xid.New(),
		BusinessID:  e.Key.BusinessID,
		BranchID:    e.Key.BranchID,
		ProductID:   e.Key.ProductID,
		UserID:      e.UserID,
		Type:        e.Type,
		Quantity:    e.Delta,
		Note:        e.Note,
		ReferenceID: e.ReferenceID,
		CreatedAt:   at,
	})
	if err != nil {
		return 0, domain.Internal("insert movement", err)
	}
	return qty, nil
}

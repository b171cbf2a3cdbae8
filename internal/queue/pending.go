package queue

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a pending sale with the given ID is not found.
var ErrNotFound = errors.New("pending sale not found")

// ErrInvalidQuantity is returned when trying to enqueue a sale with a
// quantity of zero or less.
var ErrInvalidQuantity = errors.New("quantity must be greater than zero")

// ErrNegativePrice is returned when trying to enqueue a sale with a negative
// unit price.
var ErrNegativePrice = errors.New("unit price must not be negative")

// PendingSale is a sale captured locally and not yet confirmed written to the
// remote ledger. Records survive process restarts; they are deleted only
// after being marked synced and then pruned.
type PendingSale struct {
	ID          int64           `json:"id"`
	ClientRef   string          `json:"client_ref"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	UserID      string          `json:"user_id"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TotalPrice  decimal.Decimal `json:"total_price"`
	CreatedAt   time.Time       `json:"created_at"`
	Synced      bool            `json:"synced"`

	// Attempts and LastAttemptAt track failed sync attempts so the engine
	// can back off on records that keep failing. LastAttemptAt is zero for
	// a record that has never been attempted.
	Attempts      int       `json:"attempts"`
	LastAttemptAt time.Time `json:"last_attempt_at"`
}

// NewPendingSale carries the caller-supplied fields of a capture. The store
// assigns the ID and client reference, recomputes the total price, and stamps
// the capture time.
type NewPendingSale struct {
	ProductID   string
	ProductName string
	UserID      string
	Quantity    int
	UnitPrice   decimal.Decimal
}

// Validate checks the quantity and unit price bounds.
func (n NewPendingSale) Validate() error {
	if n.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	if n.UnitPrice.IsNegative() {
		return ErrNegativePrice
	}
	return nil
}

// Package ledger defines the remote write contract the sync engine depends
// on, and implements it against a PostgREST-style HTTP backend.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrProductNotFound is returned when a stock decrement references a product
// the remote store does not know about.
var ErrProductNotFound = errors.New("product not found in remote store")

// SaleRow is the remote sales-table row for one captured sale. CreatedAt is
// the original capture timestamp, not the sync time, so historical reports
// stay accurate. ClientRef is the client-generated idempotency key: re-sending
// the same row after a partial failure must not create a duplicate sale.
type SaleRow struct {
	ClientRef  string          `json:"client_ref"`
	ProductID  string          `json:"product_id"`
	UserID     string          `json:"user_id"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
	CreatedAt  time.Time       `json:"created_at"`
}

// LogRow is the remote inventory-log row recording a stock change.
type LogRow struct {
	ProductID      string `json:"product_id"`
	UserID         string `json:"user_id"`
	ActionType     string `json:"action_type"`
	ChangeQuantity int    `json:"change_quantity"`
	PreviousStock  int    `json:"previous_stock"`
	NewStock       int    `json:"new_stock"`
}

// StockChange reports the stock level before and after a decrement.
type StockChange struct {
	Previous int
	New      int
}

// ActionSale is the inventory-log action kind written for a synced sale.
const ActionSale = "sale"

// Client is the remote write interface for one sale. The three calls promise
// no multi-statement atomicity; the engine issues them strictly in order and
// treats any step's failure as "retry the whole record later". Each call must
// be bounded by a timeout so one unreachable record cannot stall a pass.
type Client interface {
	InsertSale(ctx context.Context, row SaleRow) error
	DecrementStock(ctx context.Context, productID string, quantity int) (StockChange, error)
	InsertInventoryLog(ctx context.Context, row LogRow) error
}

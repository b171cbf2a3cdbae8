package ledger

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"resty.dev/v3"
)

// RESTClient implements Client against a PostgREST-style remote store: one
// table endpoint per entity, filters in query parameters. Every request is
// bounded by the configured timeout; a timed-out call surfaces as an error
// and the record is retried on a later pass.
type RESTClient struct {
	http   *resty.Client
	logger *zap.Logger
}

// NewRESTClient creates a RESTClient for the given base URL. The API key is
// optional and sent as the `apikey` header when set.
func NewRESTClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *RESTClient {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}

	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if apiKey != "" {
		c.SetHeader("apikey", apiKey)
	}

	return &RESTClient{
		http:   c,
		logger: logger,
	}
}

// Close releases the underlying HTTP client resources.
func (c *RESTClient) Close() error {
	c.http.Close()
	return nil
}

// InsertSale writes the sale row. The client reference is declared as the
// conflict target so a row already inserted by an earlier partial attempt is
// merged instead of duplicated.
func (c *RESTClient) InsertSale(ctx context.Context, row SaleRow) error {
	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("on_conflict", "client_ref").
		SetHeader("Prefer", "resolution=merge-duplicates,return=minimal").
		SetBody(row).
		Post("/sales")
	if err != nil {
		return fmt.Errorf("insert sale: %w", err)
	}
	if res.IsError() {
		return fmt.Errorf("insert sale: remote store returned %s", res.Status())
	}
	return nil
}

// DecrementStock reads the product's current stock, writes it back lowered by
// quantity, and reports both levels for the inventory log.
func (c *RESTClient) DecrementStock(ctx context.Context, productID string, quantity int) (StockChange, error) {
	var products []struct {
		CurrentStock int `json:"current_stock"`
	}

	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("id", "eq."+productID).
		SetQueryParam("select", "current_stock").
		SetResult(&products).
		Get("/products")
	if err != nil {
		return StockChange{}, fmt.Errorf("read product stock: %w", err)
	}
	if res.IsError() {
		return StockChange{}, fmt.Errorf("read product stock: remote store returned %s", res.Status())
	}
	if len(products) == 0 {
		return StockChange{}, fmt.Errorf("read product stock: %w: %s", ErrProductNotFound, productID)
	}

	change := StockChange{
		Previous: products[0].CurrentStock,
		New:      products[0].CurrentStock - quantity,
	}

	res, err = c.http.R().
		SetContext(ctx).
		SetQueryParam("id", "eq."+productID).
		SetBody(map[string]int{"current_stock": change.New}).
		Patch("/products")
	if err != nil {
		return StockChange{}, fmt.Errorf("update product stock: %w", err)
	}
	if res.IsError() {
		return StockChange{}, fmt.Errorf("update product stock: remote store returned %s", res.Status())
	}

	c.logger.Debug("product stock decremented",
		zap.String("product_id", productID),
		zap.Int("previous_stock", change.Previous),
		zap.Int("new_stock", change.New),
	)
	return change, nil
}

// InsertInventoryLog appends the stock-change audit row.
func (c *RESTClient) InsertInventoryLog(ctx context.Context, row LogRow) error {
	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("Prefer", "return=minimal").
		SetBody(row).
		Post("/inventory_logs")
	if err != nil {
		return fmt.Errorf("insert inventory log: %w", err)
	}
	if res.IsError() {
		return fmt.Errorf("insert inventory log: remote store returned %s", res.Status())
	}
	return nil
}

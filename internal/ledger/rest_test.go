package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeRemote emulates the PostgREST-style store: one endpoint per table,
// filters in query parameters.
type fakeRemote struct {
	mu       sync.Mutex
	requests []*http.Request
	bodies   []map[string]any
	stock    int
	status   int
	delay    time.Duration

	srv *httptest.Server
}

func newFakeRemote(t *testing.T) *fakeRemote {
	t.Helper()
	f := &fakeRemote{stock: 10}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeRemote) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	delay, status := f.delay, f.status
	f.requests = append(f.requests, r.Clone(context.Background()))
	var body map[string]any
	if r.Method != http.MethodGet {
		json.NewDecoder(r.Body).Decode(&body)
	}
	f.bodies = append(f.bodies, body)
	stock := f.stock
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if status != 0 {
		w.WriteHeader(status)
		return
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/products":
		w.Header().Set("Content-Type", "application/json")
		if stock < 0 { // sentinel for "no such product"
			w.Write([]byte(`[]`))
			return
		}
		json.NewEncoder(w).Encode([]map[string]int{{"current_stock": stock}})
	case r.Method == http.MethodPatch && r.URL.Path == "/products":
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusCreated)
	}
}

func (f *fakeRemote) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, r := range f.requests {
		out = append(out, r.Method+" "+r.URL.Path)
	}
	return out
}

func newTestClient(t *testing.T, f *fakeRemote, timeout time.Duration) *RESTClient {
	t.Helper()
	c := NewRESTClient(f.srv.URL, "test-key", timeout, zaptest.NewLogger(t))
	t.Cleanup(func() { c.Close() })
	return c
}

func TestInsertSaleSendsIdempotentUpsert(t *testing.T) {
	remote := newFakeRemote(t)
	client := newTestClient(t, remote, time.Second)

	captured := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	err := client.InsertSale(context.Background(), SaleRow{
		ClientRef:  "ref-123",
		ProductID:  "prod-a",
		UserID:     "user123",
		Quantity:   2,
		UnitPrice:  decimal.RequireFromString("1000"),
		TotalPrice: decimal.RequireFromString("2000"),
		CreatedAt:  captured,
	})
	require.NoError(t, err)

	require.Equal(t, []string{"POST /sales"}, remote.calls())
	req := remote.requests[0]
	assert.Equal(t, "client_ref", req.URL.Query().Get("on_conflict"),
		"Expected the client reference declared as the conflict target")
	assert.Contains(t, req.Header.Get("Prefer"), "resolution=merge-duplicates")
	assert.Equal(t, "test-key", req.Header.Get("apikey"))

	body := remote.bodies[0]
	assert.Equal(t, "ref-123", body["client_ref"])
	assert.Equal(t, "prod-a", body["product_id"])
	assert.Equal(t, "user123", body["user_id"])
	assert.Equal(t, float64(2), body["quantity"])
	assert.Equal(t, "1000", body["unit_price"])
	assert.Equal(t, "2000", body["total_price"])
	assert.Equal(t, captured.Format(time.RFC3339), body["created_at"],
		"Expected the original capture timestamp, not the sync time")
}

func TestDecrementStockReadsThenWrites(t *testing.T) {
	remote := newFakeRemote(t)
	client := newTestClient(t, remote, time.Second)

	change, err := client.DecrementStock(context.Background(), "prod-a", 3)
	require.NoError(t, err)
	assert.Equal(t, StockChange{Previous: 10, New: 7}, change)

	require.Equal(t, []string{"GET /products", "PATCH /products"}, remote.calls())
	get := remote.requests[0]
	assert.Equal(t, "eq.prod-a", get.URL.Query().Get("id"))
	assert.Equal(t, "current_stock", get.URL.Query().Get("select"))

	patch := remote.requests[1]
	assert.Equal(t, "eq.prod-a", patch.URL.Query().Get("id"))
	assert.Equal(t, map[string]any{"current_stock": float64(7)}, remote.bodies[1])
}

func TestDecrementStockUnknownProduct(t *testing.T) {
	remote := newFakeRemote(t)
	remote.stock = -1
	client := newTestClient(t, remote, time.Second)

	_, err := client.DecrementStock(context.Background(), "prod-missing", 1)
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestInsertInventoryLog(t *testing.T) {
	remote := newFakeRemote(t)
	client := newTestClient(t, remote, time.Second)

	err := client.InsertInventoryLog(context.Background(), LogRow{
		ProductID:      "prod-a",
		UserID:         "user123",
		ActionType:     ActionSale,
		ChangeQuantity: -3,
		PreviousStock:  10,
		NewStock:       7,
	})
	require.NoError(t, err)

	require.Equal(t, []string{"POST /inventory_logs"}, remote.calls())
	body := remote.bodies[0]
	assert.Equal(t, "sale", body["action_type"])
	assert.Equal(t, float64(-3), body["change_quantity"])
	assert.Equal(t, float64(10), body["previous_stock"])
	assert.Equal(t, float64(7), body["new_stock"])
}

func TestRemoteErrorSurfaced(t *testing.T) {
	remote := newFakeRemote(t)
	remote.status = http.StatusInternalServerError
	client := newTestClient(t, remote, time.Second)

	err := client.InsertSale(context.Background(), SaleRow{ClientRef: "ref-1", ProductID: "prod-a"})
	assert.Error(t, err, "Expected a non-2xx response to surface as an error")

	_, err = client.DecrementStock(context.Background(), "prod-a", 1)
	assert.Error(t, err)

	err = client.InsertInventoryLog(context.Background(), LogRow{ProductID: "prod-a"})
	assert.Error(t, err)
}

// A hanging remote call is bounded by the client timeout and treated as an
// ordinary step failure.
func TestTimeoutTreatedAsFailure(t *testing.T) {
	remote := newFakeRemote(t)
	remote.delay = 500 * time.Millisecond
	client := newTestClient(t, remote, 50*time.Millisecond)

	start := time.Now()
	err := client.InsertSale(context.Background(), SaleRow{ClientRef: "ref-1", ProductID: "prod-a"})
	assert.Error(t, err, "Expected the timed-out call to fail")
	assert.Less(t, time.Since(start), 400*time.Millisecond,
		"Expected the call to be cut off by the timeout, not the server delay")
}

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multistock/meli-bridge/internal/config"
	"github.com/multistock/meli-bridge/internal/credential"
	"github.com/multistock/meli-bridge/internal/meli"
	"github.com/multistock/meli-bridge/internal/preset"
	"github.com/multistock/meli-bridge/internal/report"
	"github.com/multistock/meli-bridge/internal/testhelpers"
	"github.com/multistock/meli-bridge/internal/warehouse"
	"github.com/multistock/meli-bridge/internal/woo"
)

func testAggregator(t *testing.T, mock *testhelpers.MockMeliServer, store *testhelpers.MemoryCredentialStore) *report.Aggregator {
	t.Helper()

	cache, err := credential.NewCache(store)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })

	cfg := config.MeliConfig{
		APIURL:                mock.URL(),
		TokenURL:              mock.TokenURL(),
		ClientID:              "client",
		ClientSecret:          "secret",
		RequestTimeoutSeconds: 5,
	}

	tokens, err := meli.NewTokenSource(cfg, store)
	require.NoError(t, err)

	client, err := meli.New(cfg)
	require.NoError(t, err)

	return report.New(cache, tokens, client, store)
}

// serve routes the request through a mux so path values resolve.
func serve(pattern string, handler http.Handler, r *http.Request) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	mux.Handle(pattern, handler)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHandleCancelledOrders(t *testing.T) {
	mock := testhelpers.SetupMockMeliServer(t)
	store := testhelpers.NewMemoryCredentialStore(
		credential.Credential{TenantID: "tenant-a", AccessToken: "token-a", Expiry: time.Now().Add(time.Hour)},
	)
	mock.Sellers["token-a"] = 101
	mock.OrdersBySeller[101] = []meli.Order{
		{
			ID: 1, DateCreated: "2026-02-01T10:00:00.000-00:00", TotalAmount: 5000, Status: "cancelled",
			OrderItems: []meli.OrderItem{{Quantity: 1, UnitPrice: 5000, Item: meli.Item{Title: "Polera"}}},
		},
	}

	handler := handleCancelledOrders(testAggregator(t, mock, store))

	req := httptest.NewRequest(http.MethodGet, "/reports/cancelled-orders?year=2026", nil)
	w := serve("GET /reports/cancelled-orders", handler, req)

	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, 5000.0, body["total_cancelled"])

	byTenant, ok := body["orders_by_company"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, byTenant, "tenant-a")
}

func TestHandleCancelledOrders_InvalidYear(t *testing.T) {
	mock := testhelpers.SetupMockMeliServer(t)
	handler := handleCancelledOrders(testAggregator(t, mock, testhelpers.NewMemoryCredentialStore()))

	req := httptest.NewRequest(http.MethodGet, "/reports/cancelled-orders?year=twenty", nil)
	w := serve("GET /reports/cancelled-orders", handler, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "error", decodeBody(t, w)["status"])
}

func TestHandleRefunds_NoCredentialsMapsTo404(t *testing.T) {
	mock := testhelpers.SetupMockMeliServer(t)
	handler := handleRefundsByCategory(testAggregator(t, mock, testhelpers.NewMemoryCredentialStore()), preset.NewStore())

	req := httptest.NewRequest(http.MethodGet, "/reports/refunds-by-category/missing", nil)
	w := serve("GET /reports/refunds-by-category/{tenant}", handler, req)

	require.Equal(t, http.StatusNotFound, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, "error", body["status"])
	assert.Contains(t, body["message"], "credentials")
}

func TestHandleRefunds_UnknownPreset(t *testing.T) {
	mock := testhelpers.SetupMockMeliServer(t)
	handler := handleRefundsByCategory(testAggregator(t, mock, testhelpers.NewMemoryCredentialStore()), preset.NewStore())

	req := httptest.NewRequest(http.MethodGet, "/reports/refunds-by-category/tenant-a?preset=nope", nil)
	w := serve("GET /reports/refunds-by-category/{tenant}", handler, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeBody(t, w)["message"], "preset")
}

func TestHandleRefunds_PresetExpanded(t *testing.T) {
	mock := testhelpers.SetupMockMeliServer(t)
	store := testhelpers.NewMemoryCredentialStore(
		credential.Credential{TenantID: "tenant-a", AccessToken: "token-a", Expiry: time.Now().Add(time.Hour)},
	)
	mock.Sellers["token-a"] = 101

	presets := preset.NewStore()
	cfg, err := preset.Parse([]byte("presets:\n  - name: march\n    date_from: \"2026-03-01\"\n    date_to: \"2026-03-31\"\n"))
	require.NoError(t, err)
	presets.Update(cfg)

	handler := handleRefundsByCategory(testAggregator(t, mock, store), presets)

	req := httptest.NewRequest(http.MethodGet, "/reports/refunds-by-category/tenant-a?preset=march", nil)
	w := serve("GET /reports/refunds-by-category/{tenant}", handler, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "success", decodeBody(t, w)["status"])
}

type staticStores struct {
	store woo.Store
	err   error
}

func (s staticStores) FindStore(context.Context, int64) (woo.Store, error) {
	return s.store, s.err
}

type staticAssignments struct {
	products []warehouse.Assignment
}

func (s staticAssignments) Assign(context.Context, warehouse.Assignment) error { return nil }

func (s staticAssignments) ProductsByWarehouse(context.Context, int64, int64) ([]warehouse.Assignment, error) {
	return s.products, nil
}

func (s staticAssignments) AssignedProductIDs(context.Context, int64) (map[int64]bool, error) {
	return map[int64]bool{}, nil
}

func TestHandleWarehouseProducts(t *testing.T) {
	assignments := staticAssignments{products: []warehouse.Assignment{
		{ProductID: 10, WarehouseID: 7, StoreID: 1, Title: "Polera"},
	}}
	stores := storeResolver{stores: staticStores{store: woo.Store{ID: 1, Active: true}}}

	handler := handleWarehouseProducts(assignments, stores)

	req := httptest.NewRequest(http.MethodGet, "/warehouses/7/products?store=1", nil)
	w := serve("GET /warehouses/{warehouse}/products", handler, req)

	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, "success", body["status"])

	products, ok := body["products"].([]any)
	require.True(t, ok)
	require.Len(t, products, 1)
}

func TestHandleWarehouseProducts_UnknownStore(t *testing.T) {
	stores := storeResolver{stores: staticStores{err: woo.ErrStoreNotFound}}

	handler := handleWarehouseProducts(staticAssignments{}, stores)

	req := httptest.NewRequest(http.MethodGet, "/warehouses/7/products?store=99", nil)
	w := serve("GET /warehouses/{warehouse}/products", handler, req)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleWarehouseProducts_MissingStoreParameter(t *testing.T) {
	stores := storeResolver{stores: staticStores{}}

	handler := handleWarehouseProducts(staticAssignments{}, stores)

	req := httptest.NewRequest(http.MethodGet, "/warehouses/7/products", nil)
	w := serve("GET /warehouses/{warehouse}/products", handler, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStoreResolver_Fallback(t *testing.T) {
	fallback := woo.Store{URL: "https://store.example", ConsumerKey: "ck", Active: true}
	resolver := storeResolver{stores: staticStores{err: woo.ErrStoreNotFound}, fallback: &fallback}

	req := httptest.NewRequest(http.MethodGet, "/warehouses/unassigned-products", nil)
	store, err := resolver.resolve(req)
	require.NoError(t, err)
	assert.Equal(t, fallback, store)
}

func TestHandleHealthCheck(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthcheck", nil)
	w := httptest.NewRecorder()

	handleHealthCheck().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}

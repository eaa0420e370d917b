package testhelpers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/multistock/meli-bridge/internal/meli"
)

// MockMeliServer provides a configurable mock MercadoLibre API server for
// testing: OAuth token endpoint, identity, order search and the per-resource
// detail endpoints.
type MockMeliServer struct {
	Server *httptest.Server

	// Refresh endpoint behaviour.
	RefreshStatusCode int            // status for POST /oauth/token (200 if not set)
	RefreshResponse   map[string]any // body returned on success
	RefreshCount      int            // number of refresh requests received

	// Sellers maps an access token to the seller id returned by /users/me.
	// Tokens not present are rejected with 401.
	Sellers map[string]int64

	// OrdersBySeller holds the full result set per seller; the search
	// endpoint slices it by limit/offset.
	OrdersBySeller map[int64][]meli.Order

	Shipments map[int64]meli.Shipment
	LeadTimes map[int64]meli.LeadTime
	Buyers    map[int64]meli.Buyer
	Billing   map[int64]json.RawMessage

	// SearchOffsets records the offset parameter of every search request.
	SearchOffsets []int
	SearchCount   int
}

// SetupMockMeliServer creates a mock MercadoLibre API server. Returns a
// MockMeliServer with configurable response values and request tracking.
func SetupMockMeliServer(t *testing.T) *MockMeliServer {
	t.Helper()

	mock := &MockMeliServer{
		RefreshStatusCode: http.StatusOK,
		RefreshResponse: map[string]any{
			"access_token":  "refreshed-token",
			"refresh_token": "refreshed-refresh-token",
			"expires_in":    21600,
		},
		Sellers:        map[string]int64{},
		OrdersBySeller: map[int64][]meli.Order{},
		Shipments:      map[int64]meli.Shipment{},
		LeadTimes:      map[int64]meli.LeadTime{},
		Buyers:         map[int64]meli.Buyer{},
		Billing:        map[int64]json.RawMessage{},
	}

	router := http.NewServeMux()

	router.HandleFunc("POST /oauth/token", func(w http.ResponseWriter, r *http.Request) {
		mock.RefreshCount++

		if mock.RefreshStatusCode != http.StatusOK {
			w.WriteHeader(mock.RefreshStatusCode)
			WriteJSON(w, map[string]string{"error": "invalid_grant"})
			return
		}

		WriteJSON(w, mock.RefreshResponse)
	})

	router.HandleFunc("GET /users/me", func(w http.ResponseWriter, r *http.Request) {
		seller, ok := mock.Sellers[bearerToken(r)]
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			WriteJSON(w, map[string]string{"message": "invalid token"})
			return
		}

		WriteJSON(w, map[string]any{"id": seller})
	})

	router.HandleFunc("GET /users/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
		buyer, ok := mock.Buyers[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		WriteJSON(w, buyer)
	})

	router.HandleFunc("GET /orders/search", func(w http.ResponseWriter, r *http.Request) {
		mock.SearchCount++

		seller, _ := strconv.ParseInt(r.URL.Query().Get("seller"), 10, 64)
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit <= 0 {
			limit = 50
		}

		mock.SearchOffsets = append(mock.SearchOffsets, offset)

		orders := mock.OrdersBySeller[seller]
		if offset > len(orders) {
			offset = len(orders)
		}
		end := offset + limit
		if end > len(orders) {
			end = len(orders)
		}

		WriteJSON(w, map[string]any{"results": orders[offset:end]})
	})

	router.HandleFunc("GET /shipments/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
		shipment, ok := mock.Shipments[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		WriteJSON(w, shipment)
	})

	router.HandleFunc("GET /shipments/{id}/lead_time", func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
		leadTime, ok := mock.LeadTimes[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		WriteJSON(w, leadTime)
	})

	router.HandleFunc("GET /orders/{id}/billing_info", func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
		billing, ok := mock.Billing[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(billing)
	})

	mock.Server = httptest.NewServer(router)
	t.Cleanup(mock.Server.Close)

	return mock
}

// URL returns the base URL of the mock server.
func (m *MockMeliServer) URL() string {
	return m.Server.URL
}

// TokenURL returns the OAuth token endpoint of the mock server.
func (m *MockMeliServer) TokenURL() string {
	return m.Server.URL + "/oauth/token"
}

func bearerToken(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

// WriteJSON is a helper function that writes a JSON response.
// It sets the Content-Type header and marshals the payload to JSON.
func WriteJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(payload)
	if err != nil {
		// In test context, this should never happen with valid test data
		http.Error(w, fmt.Sprintf("failed to marshal JSON: %v", err), http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(data)
}

package report_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multistock/meli-bridge/internal/credential"
	"github.com/multistock/meli-bridge/internal/meli"
	"github.com/multistock/meli-bridge/internal/report"
	"github.com/multistock/meli-bridge/internal/testhelpers"
)

func TestDispatchLimit_PaginationTerminatesOnShortPage(t *testing.T) {
	now := time.Now()
	mock := testhelpers.SetupMockMeliServer(t)

	store := testhelpers.NewMemoryCredentialStore(
		credential.Credential{TenantID: "tenant-a", AccessToken: "token-a", Expiry: now.Add(time.Hour)},
	)
	mock.Sellers["token-a"] = 101

	// pages of sizes 50, 50, 23
	orders := make([]meli.Order, 123)
	for i := range orders {
		orders[i] = meli.Order{ID: int64(i + 1)}
	}
	mock.OrdersBySeller[101] = orders

	agg := newAggregator(t, mock, store, now)

	shipments, err := agg.DispatchLimitToday(context.Background(), "tenant-a")
	require.NoError(t, err)
	assert.Empty(t, shipments)

	assert.Equal(t, []int{0, 50, 100}, mock.SearchOffsets, "offsets advance by the page size")
	assert.Equal(t, 3, mock.SearchCount, "the short page stops the scan")
}

func TestDispatchLimit_KeepsOnlyTodayUnshipped(t *testing.T) {
	now := time.Now()
	mock := testhelpers.SetupMockMeliServer(t)

	store := testhelpers.NewMemoryCredentialStore(
		credential.Credential{TenantID: "tenant-a", AccessToken: "token-a", Expiry: now.Add(time.Hour)},
	)
	mock.Sellers["token-a"] = 101

	shipped := now.Format(time.RFC3339)
	mock.OrdersBySeller[101] = []meli.Order{
		{ID: 1, Shipping: meli.OrderRef{ID: 11}}, // due today, not shipped: kept
		{ID: 2, Shipping: meli.OrderRef{ID: 22}}, // already shipped: dropped
		{ID: 3, Shipping: meli.OrderRef{ID: 33}}, // due tomorrow: dropped
		{ID: 4, Shipping: meli.OrderRef{ID: 11}}, // duplicate shipping id: not re-fetched
	}

	mock.Shipments[11] = meli.Shipment{
		ID:             11,
		ShippingOption: meli.ShippingOption{EstimatedHandlingLimit: meli.DateValue{Date: now.Format(time.RFC3339)}},
		ReceiverAddress: meli.ReceiverAddress{
			ReceiverName: "Ana",
			AddressLine:  "Av. Siempre Viva 742",
			City:         meli.NamedPlace{Name: "Santiago"},
			State:        meli.NamedPlace{Name: "RM"},
		},
		ShippingItems: []meli.ShippingItem{{Description: "Polera", Quantity: 2}},
	}
	mock.Shipments[22] = meli.Shipment{
		ID:             22,
		StatusHistory:  meli.StatusHistory{DateShipped: &shipped},
		ShippingOption: meli.ShippingOption{EstimatedHandlingLimit: meli.DateValue{Date: now.Format(time.RFC3339)}},
	}
	mock.Shipments[33] = meli.Shipment{
		ID:             33,
		ShippingOption: meli.ShippingOption{EstimatedHandlingLimit: meli.DateValue{Date: now.AddDate(0, 0, 1).Format(time.RFC3339)}},
	}

	agg := newAggregator(t, mock, store, now)

	shipments, err := agg.DispatchLimitToday(context.Background(), "tenant-a")
	require.NoError(t, err)

	require.Len(t, shipments, 1)
	assert.Equal(t, int64(11), shipments[0].ID)
	assert.Equal(t, int64(1), shipments[0].OrderID)
	assert.Equal(t, "Ana", shipments[0].ReceiverName)
	assert.Equal(t, "RM, Santiago, Av. Siempre Viva 742", shipments[0].Direction)
	assert.Equal(t, "Polera", shipments[0].Product)
	assert.Equal(t, 2, shipments[0].Quantity)
}

func TestDispatchLimit_NoCredentials(t *testing.T) {
	now := time.Now()
	mock := testhelpers.SetupMockMeliServer(t)
	store := testhelpers.NewMemoryCredentialStore()

	agg := newAggregator(t, mock, store, now)

	_, err := agg.DispatchLimitToday(context.Background(), "unknown")

	var prepareErr *report.PrepareError
	require.ErrorAs(t, err, &prepareErr)
	assert.Equal(t, report.ReasonNoCredentials, prepareErr.Reason)
}

func TestUpcomingShipments_RowsPerLineItem(t *testing.T) {
	now := time.Now()
	mock := testhelpers.SetupMockMeliServer(t)

	store := testhelpers.NewMemoryCredentialStore(
		credential.Credential{TenantID: "tenant-a", AccessToken: "token-a", Expiry: now.Add(time.Hour)},
	)
	mock.Sellers["token-a"] = 101

	mock.OrdersBySeller[101] = []meli.Order{
		{
			ID:          1,
			DateCreated: "2026-03-01T10:00:00.000-00:00",
			Substatus:   "ready_to_print",
			Shipping:    meli.OrderRef{ID: 88},
			Buyer:       meli.Buyer{ID: 7, Nickname: "ANA-STORE"},
			OrderItems: []meli.OrderItem{
				{
					Quantity: 2,
					Item: meli.Item{
						ID:        "MLC123",
						Title:     "Polera",
						SellerSKU: "SKU-1",
						VariationAttributes: []meli.VariationAttribute{
							{Name: "Talla", ValueName: "M"},
							{Name: "Color", ValueName: "Rojo"},
						},
					},
				},
				{Quantity: 1, Item: meli.Item{ID: "MLC456", Title: "Gorro"}},
			},
		},
		{ID: 2}, // no shipping id: dropped
	}

	mock.LeadTimes[88] = meli.LeadTime{
		EstimatedHandlingLimit: meli.DateValue{Date: "2026-03-02T00:00:00.000-00:00"},
	}
	mock.Shipments[88] = meli.Shipment{
		ID: 88,
		ReceiverAddress: meli.ReceiverAddress{
			AddressLine: "Calle Falsa 123",
			Comment:     "depto 4",
			City:        meli.NamedPlace{Name: "Santiago"},
			State:       meli.NamedPlace{Name: "RM"},
			ZipCode:     "8320000",
		},
	}

	agg := newAggregator(t, mock, store, now)

	upcoming, err := agg.UpcomingShipments(context.Background(), "tenant-a")
	require.NoError(t, err)

	require.Len(t, upcoming, 2, "one row per line item")

	first := upcoming[0]
	assert.Equal(t, int64(1), first.OrderID)
	assert.Equal(t, int64(88), first.ShippingID)
	assert.Equal(t, "2026-03-02T00:00:00.000-00:00", first.ScheduledDate)
	assert.Equal(t, "M / Rojo", first.Size)
	assert.Equal(t, "SKU-1", first.SKU)
	assert.Equal(t, "ANA-STORE", first.Receiver.Name)
	assert.Equal(t, "Calle Falsa 123, depto 4, Santiago, RM, 8320000", first.Receiver.Direction)

	assert.Equal(t, "Gorro", upcoming[1].ProductTitle)
	assert.Equal(t, "", upcoming[1].Size)
}

func TestUpcomingShipments_LeadTimeFailureDropsOrder(t *testing.T) {
	now := time.Now()
	mock := testhelpers.SetupMockMeliServer(t)

	store := testhelpers.NewMemoryCredentialStore(
		credential.Credential{TenantID: "tenant-a", AccessToken: "token-a", Expiry: now.Add(time.Hour)},
	)
	mock.Sellers["token-a"] = 101
	mock.OrdersBySeller[101] = []meli.Order{
		{ID: 1, Shipping: meli.OrderRef{ID: 99}, OrderItems: []meli.OrderItem{{Quantity: 1}}},
	}
	// no lead time configured for shipment 99: lookup 404s

	agg := newAggregator(t, mock, store, now)

	upcoming, err := agg.UpcomingShipments(context.Background(), "tenant-a")
	require.NoError(t, err)
	assert.Empty(t, upcoming)
}

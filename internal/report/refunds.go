package report

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/multistock/meli-bridge/internal/meli"
)

// RefundFilter narrows a refund report. Zero-value dates default to the
// current month.
type RefundFilter struct {
	DateFrom string // YYYY-MM-DD
	DateTo   string // YYYY-MM-DD
	Category string
}

// CategoryRefunds groups the refunded orders of one category.
type CategoryRefunds struct {
	CategoryID   string        `json:"category_id"`
	TotalRefunds float64       `json:"total_refunds"`
	Orders       []RefundOrder `json:"orders"`
}

// RefundOrder is one refunded line item, enriched with shipping, buyer and
// billing details where those lookups succeeded.
type RefundOrder struct {
	ID              int64            `json:"id"`
	CreatedDate     string           `json:"created_date"`
	TotalAmount     float64          `json:"total_amount"`
	Status          string           `json:"status"`
	Product         ProductInfo      `json:"product"`
	ShippingAddress *ShippingAddress `json:"shipping_address,omitempty"`
	Buyer           *meli.Buyer      `json:"buyer,omitempty"`
	BillingInfo     json.RawMessage  `json:"billing_info,omitempty"`
}

type ShippingAddress struct {
	Address  string `json:"address"`
	Number   string `json:"number"`
	City     string `json:"city"`
	State    string `json:"state"`
	Country  string `json:"country"`
	Comments string `json:"comments"`
}

// RefundsByCategory builds the refund report for a single tenant, grouped
// by category. Enrichment lookups (shipment, buyer, billing) are optional:
// a failure leaves the field empty rather than failing the order.
func (a *Aggregator) RefundsByCategory(ctx context.Context, tenantID string, filter RefundFilter) (map[string]*CategoryRefunds, error) {
	sess, err := a.prepare(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	dateFrom, dateTo := filter.DateFrom, filter.DateTo
	if dateFrom == "" {
		dateFrom = firstOfMonth(a.now())
	}
	if dateTo == "" {
		dateTo = lastOfMonth(a.now())
	}

	page, err := a.client.SearchOrders(ctx, sess.token, meli.OrderSearch{
		Seller:      sess.seller,
		Status:      "cancelled",
		CreatedFrom: dateFrom + "T00:00:00.000-00:00",
		CreatedTo:   dateTo + "T23:59:59.999-00:00",
		Category:    filter.Category,
	})
	if err != nil {
		return nil, fmt.Errorf("refund query for tenant %s failed: %w", tenantID, err)
	}

	refunds := map[string]*CategoryRefunds{}

	for _, order := range page.Results {
		var address *ShippingAddress
		if order.Shipping.ID != 0 {
			shipment, err := a.client.Shipment(ctx, sess.token, order.Shipping.ID)
			if err != nil {
				log.Ctx(ctx).Warn().Err(err).Int64("order", order.ID).Msg("shipment enrichment failed")
			} else {
				address = &ShippingAddress{
					Address:  shipment.ReceiverAddress.StreetName,
					Number:   shipment.ReceiverAddress.StreetNumber,
					City:     shipment.ReceiverAddress.City.Name,
					State:    shipment.ReceiverAddress.State.Name,
					Country:  shipment.ReceiverAddress.Country.Name,
					Comments: shipment.ReceiverAddress.Comment,
				}
			}
		}

		var buyer *meli.Buyer
		if order.Buyer.ID != 0 {
			b, err := a.client.User(ctx, sess.token, order.Buyer.ID)
			if err != nil {
				log.Ctx(ctx).Warn().Err(err).Int64("order", order.ID).Msg("buyer enrichment failed")
			} else {
				buyer = &b
			}
		}

		billing, err := a.client.BillingInfo(ctx, sess.token, order.ID)
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Int64("order", order.ID).Msg("billing enrichment failed")
			billing = nil
		}

		for _, item := range order.OrderItems {
			categoryID := item.Item.CategoryID

			group, ok := refunds[categoryID]
			if !ok {
				group = &CategoryRefunds{CategoryID: categoryID, Orders: []RefundOrder{}}
				refunds[categoryID] = group
			}
			group.TotalRefunds += order.TotalAmount

			group.Orders = append(group.Orders, RefundOrder{
				ID:          order.ID,
				CreatedDate: order.DateCreated,
				TotalAmount: order.TotalAmount,
				Status:      order.Status,
				Product: ProductInfo{
					Title:    item.Item.Title,
					Quantity: item.Quantity,
					Price:    item.UnitPrice,
				},
				ShippingAddress: address,
				Buyer:           buyer,
				BillingInfo:     billing,
			})
		}
	}

	return refunds, nil
}

func firstOfMonth(now time.Time) string {
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).Format("2006-01-02")
}

func lastOfMonth(now time.Time) string {
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	return first.AddDate(0, 1, -1).Format("2006-01-02")
}

package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/multistock/meli-bridge/internal/meli"
)

// UpcomingShipment is one line item of a paid order with a scheduled
// handling limit in the next two days.
type UpcomingShipment struct {
	OrderID       int64    `json:"order_id"`
	ShippingID    int64    `json:"shipping_id"`
	ScheduledDate string   `json:"scheduled_date"`
	ProductID     string   `json:"product_id"`
	ProductTitle  string   `json:"product_title"`
	Size          string   `json:"size"`
	Quantity      int      `json:"quantity"`
	SKU           string   `json:"sku"`
	Receiver      Receiver `json:"receiver"`
	DateCreated   string   `json:"date_created"`
	Substatus     string   `json:"substatus"`
}

type Receiver struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Direction string `json:"direction"`
}

// UpcomingShipments lists line items of paid orders created today through
// two days out whose shipments carry an estimated handling limit. Lead-time
// or shipment lookups that fail drop only the affected order.
func (a *Aggregator) UpcomingShipments(ctx context.Context, tenantID string) ([]UpcomingShipment, error) {
	sess, err := a.prepare(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	now := a.now()
	dateFrom := now.Format("2006-01-02") + "T00:00:00.000-00:00"
	dateTo := now.AddDate(0, 0, 2).Format("2006-01-02") + "T23:59:59.999-00:00"

	page, err := a.client.SearchOrders(ctx, sess.token, meli.OrderSearch{
		Seller:      sess.seller,
		Status:      "paid",
		CreatedFrom: dateFrom,
		CreatedTo:   dateTo,
		Limit:       pageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("upcoming shipment query for tenant %s failed: %w", tenantID, err)
	}

	upcoming := []UpcomingShipment{}

	for _, order := range page.Results {
		if order.Shipping.ID == 0 {
			continue
		}

		leadTime, err := a.client.ShipmentLeadTime(ctx, sess.token, order.Shipping.ID)
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Int64("shipment", order.Shipping.ID).Msg("lead time lookup failed")
			continue
		}
		if leadTime.EstimatedHandlingLimit.Date == "" {
			continue
		}

		var receiver meli.ReceiverAddress
		if shipment, err := a.client.Shipment(ctx, sess.token, order.Shipping.ID); err != nil {
			log.Ctx(ctx).Warn().Err(err).Int64("shipment", order.Shipping.ID).Msg("shipment lookup failed")
		} else {
			receiver = shipment.ReceiverAddress
		}

		direction := joinAddress(
			receiver.AddressLine,
			receiver.Comment,
			receiver.City.Name,
			receiver.State.Name,
			receiver.ZipCode,
		)

		for _, item := range order.OrderItems {
			upcoming = append(upcoming, UpcomingShipment{
				OrderID:       order.ID,
				ShippingID:    order.Shipping.ID,
				ScheduledDate: leadTime.EstimatedHandlingLimit.Date,
				ProductID:     item.Item.ID,
				ProductTitle:  item.Item.Title,
				Size:          joinVariationAttributes(item.Item.VariationAttributes),
				Quantity:      item.Quantity,
				SKU:           item.Item.SellerSKU,
				Receiver: Receiver{
					ID:        order.Buyer.ID,
					Name:      order.Buyer.Nickname,
					Direction: direction,
				},
				DateCreated: order.DateCreated,
				Substatus:   order.Substatus,
			})
		}
	}

	return upcoming, nil
}

// DispatchShipment is a shipment whose estimated handling limit falls today
// and which has not yet been dispatched.
type DispatchShipment struct {
	ID                     int64  `json:"id"`
	EstimatedHandlingLimit string `json:"estimated_handling_limit"`
	ShippingDate           string `json:"shipping_date"`
	Direction              string `json:"direction"`
	ReceiverName           string `json:"receiver_name"`
	OrderID                int64  `json:"order_id"`
	Product                string `json:"product"`
	Quantity               int    `json:"quantity"`
}

// DispatchLimitToday scans the tenant's paid orders of the last six days and
// returns the shipments that must be dispatched today. The scan pages
// through the search endpoint until a short page signals end-of-data.
func (a *Aggregator) DispatchLimitToday(ctx context.Context, tenantID string) ([]DispatchShipment, error) {
	sess, err := a.prepare(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	now := a.now()
	query := meli.OrderSearch{
		Seller:      sess.seller,
		Status:      "paid",
		CreatedFrom: now.AddDate(0, 0, -6).Format(time.RFC3339),
		CreatedTo:   now.Format(time.RFC3339),
		Sort:        "date_desc",
		Limit:       pageSize,
	}

	orders, err := a.searchAllPages(ctx, sess.token, query)
	if err != nil {
		return nil, fmt.Errorf("dispatch limit scan for tenant %s failed: %w", tenantID, err)
	}

	today := now.Format("2006-01-02")
	seen := map[int64]bool{}
	details := []DispatchShipment{}

	for _, order := range orders {
		shippingID := order.Shipping.ID
		if shippingID == 0 || seen[shippingID] {
			continue
		}
		seen[shippingID] = true

		shipment, err := a.client.Shipment(ctx, sess.token, shippingID)
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Int64("shipment", shippingID).Msg("shipment lookup failed")
			continue
		}

		limitRaw := shipment.ShippingOption.EstimatedHandlingLimit.Date
		if limitRaw == "" || shipment.StatusHistory.DateShipped != nil {
			continue
		}

		limit, err := time.Parse(time.RFC3339, limitRaw)
		if err != nil {
			log.Ctx(ctx).Warn().Str("date", limitRaw).Int64("shipment", shippingID).
				Msg("unparseable handling limit, skipping record")
			continue
		}

		if limit.Format("2006-01-02") != today {
			continue
		}

		var product string
		var quantity int
		if len(shipment.ShippingItems) > 0 {
			product = shipment.ShippingItems[0].Description
			quantity = shipment.ShippingItems[0].Quantity
		}

		details = append(details, DispatchShipment{
			ID:                     shipment.ID,
			EstimatedHandlingLimit: limitRaw,
			ShippingDate:           "not yet dispatched",
			Direction: joinAddress(
				shipment.ReceiverAddress.State.Name,
				shipment.ReceiverAddress.City.Name,
				shipment.ReceiverAddress.AddressLine,
			),
			ReceiverName: shipment.ReceiverAddress.ReceiverName,
			OrderID:      order.ID,
			Product:      product,
			Quantity:     quantity,
		})
	}

	return details, nil
}

// searchAllPages pages through the search endpoint with offset increments
// of the page size, stopping when a page comes back short. The scan is
// bounded at maxScanPages; hitting the bound returns what was gathered.
func (a *Aggregator) searchAllPages(ctx context.Context, token string, query meli.OrderSearch) ([]meli.Order, error) {
	var all []meli.Order

	for page := 0; ; page++ {
		if page >= maxScanPages {
			log.Ctx(ctx).Warn().Int("pages", page).Int("orders", len(all)).
				Msg("offset scan page bound reached, returning partial result")
			return all, nil
		}

		query.Offset = page * query.Limit
		result, err := a.client.SearchOrders(ctx, token, query)
		if err != nil {
			return nil, err
		}

		all = append(all, result.Results...)

		if len(result.Results) < query.Limit {
			return all, nil
		}
	}
}

// joinAddress joins the non-empty parts with a comma, the way street
// address fragments are combined for display.
func joinAddress(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ", ")
}

func joinVariationAttributes(attrs []meli.VariationAttribute) string {
	values := make([]string, 0, len(attrs))
	for _, attr := range attrs {
		if attr.ValueName != "" {
			values = append(values, attr.ValueName)
		}
	}
	return strings.Join(values, " / ")
}

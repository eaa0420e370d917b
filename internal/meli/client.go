package meli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/multistock/meli-bridge/internal/config"
)

// Client performs bearer-authenticated calls against the MercadoLibre REST
// API. The zero value is not usable; construct with New.
type Client struct {
	apiURL     *url.URL
	httpClient *http.Client
	timeout    time.Duration
}

// New creates a client from configuration. The shared http.DefaultClient is
// used so the instrumented transport configured at startup applies.
func New(cfg config.MeliConfig) (Client, error) {
	u, err := url.Parse(cfg.APIURL)
	if err != nil {
		return Client{}, fmt.Errorf("could not parse MercadoLibre API URL: %w", err)
	}

	timeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	return Client{
		apiURL:     u,
		httpClient: http.DefaultClient,
		timeout:    timeout,
	}, nil
}

// Identity is the remote user identity a tenant's token resolves to. The
// numeric ID is the seller parameter for order searches.
type Identity struct {
	ID       int64  `json:"id"`
	Nickname string `json:"nickname"`
	SiteID   string `json:"site_id"`
}

// OrderSearch holds the filter parameters of a GET /orders/search call.
type OrderSearch struct {
	Seller      int64
	Status      string
	CreatedFrom string
	CreatedTo   string
	Category    string
	Sort        string
	Limit       int
	Offset      int
}

func (q OrderSearch) values() url.Values {
	v := url.Values{}
	v.Set("seller", strconv.FormatInt(q.Seller, 10))
	if q.Status != "" {
		v.Set("order.status", q.Status)
	}
	if q.CreatedFrom != "" {
		v.Set("order.date_created.from", q.CreatedFrom)
	}
	if q.CreatedTo != "" {
		v.Set("order.date_created.to", q.CreatedTo)
	}
	if q.Category != "" {
		v.Set("category", q.Category)
	}
	if q.Sort != "" {
		v.Set("sort", q.Sort)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	v.Set("offset", strconv.Itoa(q.Offset))
	return v
}

// OrderPage is one page of search results.
type OrderPage struct {
	Results []Order `json:"results"`
}

type Order struct {
	ID          int64       `json:"id"`
	DateCreated string      `json:"date_created"`
	TotalAmount float64     `json:"total_amount"`
	Status      string      `json:"status"`
	Substatus   string      `json:"substatus"`
	Shipping    OrderRef    `json:"shipping"`
	Buyer       Buyer       `json:"buyer"`
	OrderItems  []OrderItem `json:"order_items"`
}

type OrderRef struct {
	ID int64 `json:"id"`
}

type Buyer struct {
	ID       int64  `json:"id"`
	Nickname string `json:"nickname"`
}

type OrderItem struct {
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	Item      Item    `json:"item"`
}

type Item struct {
	ID                  string               `json:"id"`
	Title               string               `json:"title"`
	CategoryID          string               `json:"category_id"`
	SellerSKU           string               `json:"seller_sku"`
	VariationAttributes []VariationAttribute `json:"variation_attributes"`
}

type VariationAttribute struct {
	Name      string `json:"name"`
	ValueName string `json:"value_name"`
}

// Shipment is the detail record of a shipping id.
type Shipment struct {
	ID              int64           `json:"id"`
	Status          string          `json:"status"`
	StatusHistory   StatusHistory   `json:"status_history"`
	ShippingOption  ShippingOption  `json:"shipping_option"`
	ReceiverAddress ReceiverAddress `json:"receiver_address"`
	ShippingItems   []ShippingItem  `json:"shipping_items"`
}

type StatusHistory struct {
	DateShipped *string `json:"date_shipped"`
}

type ShippingOption struct {
	EstimatedHandlingLimit DateValue `json:"estimated_handling_limit"`
}

type DateValue struct {
	Date string `json:"date"`
}

type ReceiverAddress struct {
	AddressLine  string     `json:"address_line"`
	StreetName   string     `json:"street_name"`
	StreetNumber string     `json:"street_number"`
	Comment      string     `json:"comment"`
	ZipCode      string     `json:"zip_code"`
	ReceiverName string     `json:"receiver_name"`
	City         NamedPlace `json:"city"`
	State        NamedPlace `json:"state"`
	Country      NamedPlace `json:"country"`
}

type NamedPlace struct {
	Name string `json:"name"`
}

type ShippingItem struct {
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
}

// LeadTime is the shipment lead-time record, carrying the estimated
// handling limit for a shipment.
type LeadTime struct {
	EstimatedHandlingLimit DateValue `json:"estimated_handling_limit"`
}

// Me resolves the identity of the user the token belongs to.
func (c Client) Me(ctx context.Context, token string) (Identity, error) {
	var id Identity
	err := c.get(ctx, token, "/users/me", nil, nil, &id)
	return id, err
}

// User fetches the public record of a user by id.
func (c Client) User(ctx context.Context, token string, userID int64) (Buyer, error) {
	var u Buyer
	err := c.get(ctx, token, fmt.Sprintf("/users/%d", userID), nil, nil, &u)
	return u, err
}

// SearchOrders fetches a single page of orders matching the query.
func (c Client) SearchOrders(ctx context.Context, token string, q OrderSearch) (OrderPage, error) {
	var page OrderPage
	err := c.get(ctx, token, "/orders/search", q.values(), nil, &page)
	return page, err
}

// Shipment fetches the detail record of a shipment.
func (c Client) Shipment(ctx context.Context, token string, shipmentID int64) (Shipment, error) {
	var s Shipment
	err := c.get(ctx, token, fmt.Sprintf("/shipments/%d", shipmentID), nil, nil, &s)
	return s, err
}

// ShipmentLeadTime fetches the lead-time record of a shipment.
func (c Client) ShipmentLeadTime(ctx context.Context, token string, shipmentID int64) (LeadTime, error) {
	var lt LeadTime
	err := c.get(ctx, token, fmt.Sprintf("/shipments/%d/lead_time", shipmentID), nil, nil, &lt)
	return lt, err
}

// BillingInfo fetches the billing information of an order. The endpoint
// requires the versioned header; the payload shape varies per site, so it is
// returned raw.
func (c Client) BillingInfo(ctx context.Context, token string, orderID int64) (json.RawMessage, error) {
	var raw json.RawMessage
	headers := http.Header{"X-Version": []string{"2"}}
	err := c.get(ctx, token, fmt.Sprintf("/orders/%d/billing_info", orderID), nil, headers, &raw)
	return raw, err
}

// get issues a bearer-authenticated GET and decodes the 2xx response body
// into out. Network failures map to TransportError, non-2xx statuses to
// StatusError.
func (c Client) get(ctx context.Context, token, path string, query url.Values, headers http.Header, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := c.apiURL.JoinPath(path)
	if query != nil {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("could not create request for %s: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	for k, vals := range headers {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode, Body: body}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("could not decode %s response: %w", path, err)
	}

	return nil
}

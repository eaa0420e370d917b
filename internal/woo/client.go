package woo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const apiBase = "/wp-json/wc/v3"

// Client performs key-authenticated calls against a WooCommerce store's
// REST API. It is stateless: pass the target store on each call.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
}

func NewClient(timeout time.Duration) Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return Client{httpClient: http.DefaultClient, timeout: timeout}
}

// Product is the subset of the WooCommerce product record this service
// consumes. Monetary fields are strings on the wire.
type Product struct {
	ID            int64       `json:"id"`
	Name          string      `json:"name"`
	SKU           string      `json:"sku"`
	Type          string      `json:"type"`
	Status        string      `json:"status"`
	Price         string      `json:"price"`
	RegularPrice  string      `json:"regular_price"`
	StockQuantity *int        `json:"stock_quantity"`
	Description   string      `json:"description"`
	Categories    []Category  `json:"categories"`
	Images        []Image     `json:"images"`
	Attributes    []Attribute `json:"attributes"`
	Variations    []int64     `json:"variations"`
}

type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Image struct {
	ID  int64  `json:"id"`
	Src string `json:"src"`
}

type Attribute struct {
	ID      int64    `json:"id"`
	Name    string   `json:"name"`
	Options []string `json:"options"`
}

// Variation is one concrete variant of a variable product.
type Variation struct {
	ID            int64       `json:"id"`
	SKU           string      `json:"sku"`
	Price         string      `json:"price"`
	StockQuantity *int        `json:"stock_quantity"`
	Attributes    []Attribute `json:"attributes"`
}

// ProductQuery holds the filter parameters of a product listing call.
// Zero values are omitted; the page size defaults server-side to 10.
type ProductQuery struct {
	PerPage  int
	Page     int
	Search   string
	Status   string
	Category string
	SKU      string
	OrderBy  string
	Order    string
}

func (q ProductQuery) values() url.Values {
	v := url.Values{}
	if q.PerPage > 0 {
		v.Set("per_page", strconv.Itoa(q.PerPage))
	}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.Search != "" {
		v.Set("search", q.Search)
	}
	if q.Status != "" {
		v.Set("status", q.Status)
	}
	if q.Category != "" {
		v.Set("category", q.Category)
	}
	if q.SKU != "" {
		v.Set("sku", q.SKU)
	}
	if q.OrderBy != "" {
		v.Set("orderby", q.OrderBy)
	}
	if q.Order != "" {
		v.Set("order", q.Order)
	}
	return v
}

// ListProducts fetches one page of the store's product catalog.
func (c Client) ListProducts(ctx context.Context, store Store, query ProductQuery) ([]Product, error) {
	var products []Product
	err := c.get(ctx, store, apiBase+"/products", query.values(), &products)
	return products, err
}

// Product fetches a single product by id.
func (c Client) Product(ctx context.Context, store Store, productID int64) (Product, error) {
	var p Product
	err := c.get(ctx, store, fmt.Sprintf("%s/products/%d", apiBase, productID), nil, &p)
	return p, err
}

// Variations fetches the variants of a variable product.
func (c Client) Variations(ctx context.Context, store Store, productID int64) ([]Variation, error) {
	var variations []Variation
	err := c.get(ctx, store, fmt.Sprintf("%s/products/%d/variations", apiBase, productID), nil, &variations)
	return variations, err
}

// get issues a key-authenticated GET against the store and decodes the 2xx
// response body into out. The consumer key pair is passed as query
// parameters, matching the WooCommerce REST convention.
func (c Client) get(ctx context.Context, store Store, path string, query url.Values, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	base, err := url.Parse(store.URL)
	if err != nil {
		return fmt.Errorf("could not parse store URL for store %d: %w", store.ID, err)
	}

	u := base.JoinPath(path)
	if query == nil {
		query = url.Values{}
	}
	query.Set("consumer_key", store.ConsumerKey)
	query.Set("consumer_secret", store.ConsumerSecret)
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("could not create request for %s: %w", path, err)
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

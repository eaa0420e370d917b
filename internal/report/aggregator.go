package report

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/multistock/meli-bridge/internal/credential"
	"github.com/multistock/meli-bridge/internal/meli"
)

// SkipReason identifies why a tenant contributed nothing to a report.
type SkipReason string

const (
	ReasonNoCredentials        SkipReason = "no_credentials"
	ReasonStoreUnavailable     SkipReason = "store_unavailable"
	ReasonRefreshFailed        SkipReason = "refresh_failed"
	ReasonIdentityLookupFailed SkipReason = "identity_lookup_failed"
)

// PrepareError is returned when a tenant cannot be readied for data calls:
// missing credentials, a failed token refresh, or a failed identity lookup.
// In a multi-tenant batch it terminates only that tenant's contribution.
type PrepareError struct {
	TenantID string
	Reason   SkipReason
	Err      error
}

func (e *PrepareError) Error() string {
	return fmt.Sprintf("tenant %s not ready (%s): %v", e.TenantID, e.Reason, e.Err)
}

func (e *PrepareError) Unwrap() error {
	return e.Err
}

// Status maps the failure to an HTTP status for single-tenant endpoints.
func (e *PrepareError) Status() (int, string) {
	switch e.Reason {
	case ReasonNoCredentials:
		return http.StatusNotFound, "no valid credentials found for the provided tenant"
	case ReasonRefreshFailed:
		return http.StatusUnauthorized, "could not refresh the access token"
	case ReasonIdentityLookupFailed:
		return http.StatusInternalServerError, "could not resolve the remote user identity"
	default:
		return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
	}
}

// pageSize is the limit used for deep offset scans; a page shorter than
// this signals end-of-data.
const pageSize = 50

// maxScanPages bounds an offset scan so a misbehaving upstream cannot hold
// a request open indefinitely. At 50 pages of 50 orders a scan covers 2500
// orders, well past any observed tenant volume.
const maxScanPages = 50

// Aggregator drives per-tenant report generation: credential lookup, token
// validation, identity resolution, data queries and folding of results.
// Tenant failures are isolated; they never abort a batch.
type Aggregator struct {
	credentials *credential.Cache
	tokens      *meli.TokenSource
	client      meli.Client
	store       credential.Store
	now         func() time.Time
}

// Option adjusts optional aggregator behaviour.
type Option func(*Aggregator)

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		a.now = now
	}
}

// New creates an aggregator. The store is used for tenant enumeration only;
// credential reads go through the cache.
func New(credentials *credential.Cache, tokens *meli.TokenSource, client meli.Client, store credential.Store, opts ...Option) *Aggregator {
	a := &Aggregator{
		credentials: credentials,
		tokens:      tokens,
		client:      client,
		store:       store,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// session is a tenant readied for data calls.
type session struct {
	token  string
	seller int64
}

// prepare obtains a valid access token for the tenant and resolves its
// remote seller identity.
func (a *Aggregator) prepare(ctx context.Context, tenantID string) (session, error) {
	cred, err := a.credentials.Get(ctx, tenantID)
	if errors.Is(err, credential.ErrNotFound) {
		return session{}, &PrepareError{TenantID: tenantID, Reason: ReasonNoCredentials, Err: err}
	}
	if err != nil {
		return session{}, &PrepareError{TenantID: tenantID, Reason: ReasonStoreUnavailable, Err: err}
	}

	cred, err = a.tokens.EnsureValid(ctx, cred)
	if err != nil {
		return session{}, &PrepareError{TenantID: tenantID, Reason: ReasonRefreshFailed, Err: err}
	}

	identity, err := a.client.Me(ctx, cred.AccessToken)
	if err != nil {
		return session{}, &PrepareError{TenantID: tenantID, Reason: ReasonIdentityLookupFailed, Err: err}
	}

	return session{token: cred.AccessToken, seller: identity.ID}, nil
}

// OrderRow is one report row, a single line item of an order.
type OrderRow struct {
	ID          int64       `json:"id"`
	CreatedDate string      `json:"created_date"`
	TotalAmount float64     `json:"total_amount"`
	Status      string      `json:"status"`
	Product     ProductInfo `json:"product"`
}

type ProductInfo struct {
	Title    string  `json:"title"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

// CancelledOrders is the cross-tenant cancelled order report.
type CancelledOrders struct {
	// OrdersByTenant has one key per tenant that reached the data query
	// stage; a tenant whose query was rejected contributes an empty list.
	// Tenants skipped before the query are absent, recorded in Skipped.
	OrdersByTenant map[string][]OrderRow `json:"orders_by_company"`
	TotalCancelled float64               `json:"total_cancelled"`
	Skipped        map[string]SkipReason `json:"-"`
}

// cancelledOrderCap bounds how many orders per tenant are folded into the
// report for the year-wide query.
const cancelledOrderCap = 20

// CancelledOrdersForYear builds the cancelled order report across every
// configured tenant for the given year. Per-tenant failures are recorded
// and skipped; only a failure to enumerate tenants fails the request.
func (a *Aggregator) CancelledOrdersForYear(ctx context.Context, year int) (*CancelledOrders, error) {
	tenants, err := a.store.ListTenants(ctx)
	if err != nil {
		// nothing can be produced without the tenant list
		return nil, fmt.Errorf("could not enumerate tenants: %w", err)
	}

	dateFrom := fmt.Sprintf("%d-01-01T00:00:00.000-00:00", year)
	dateTo := fmt.Sprintf("%d-12-31T23:59:59.999-00:00", year)

	result := &CancelledOrders{
		OrdersByTenant: make(map[string][]OrderRow, len(tenants)),
		Skipped:        map[string]SkipReason{},
	}

	batch := make(map[string]meli.BatchRequest, len(tenants))
	for _, tenantID := range tenants {
		log.Ctx(ctx).Info().Str("tenant", tenantID).Msg("preparing tenant for cancelled order report")

		sess, err := a.prepare(ctx, tenantID)
		if err != nil {
			result.Skipped[tenantID] = skipReason(err)
			log.Ctx(ctx).Warn().Err(err).Str("tenant", tenantID).Msg("tenant skipped")
			continue
		}

		batch[tenantID] = meli.BatchRequest{
			Token: sess.token,
			Query: meli.OrderSearch{
				Seller:      sess.seller,
				Status:      "cancelled",
				CreatedFrom: dateFrom,
				CreatedTo:   dateTo,
				Limit:       cancelledOrderCap,
			},
		}
	}

	outcomes := a.client.SearchOrdersAll(ctx, batch)

	for tenantID, outcome := range outcomes {
		rows := []OrderRow{}

		if outcome.Fulfilled() {
			orders := outcome.Page.Results
			if len(orders) > cancelledOrderCap {
				orders = orders[:cancelledOrderCap]
			}

			for _, order := range orders {
				if len(order.OrderItems) == 0 {
					continue
				}
				result.TotalCancelled += order.TotalAmount
				rows = append(rows, flattenOrder(order)...)
			}
		} else {
			// rejected entries contribute an empty result set, not a failure
			log.Ctx(ctx).Warn().Err(outcome.Err).Str("tenant", tenantID).
				Msg("cancelled order query rejected")
		}

		result.OrdersByTenant[tenantID] = rows
	}

	return result, nil
}

// flattenOrder expands an order into one row per line item.
func flattenOrder(order meli.Order) []OrderRow {
	rows := make([]OrderRow, 0, len(order.OrderItems))
	for _, item := range order.OrderItems {
		rows = append(rows, OrderRow{
			ID:          order.ID,
			CreatedDate: order.DateCreated,
			TotalAmount: order.TotalAmount,
			Status:      order.Status,
			Product: ProductInfo{
				Title:    item.Item.Title,
				Quantity: item.Quantity,
				Price:    item.UnitPrice,
			},
		})
	}
	return rows
}

func skipReason(err error) SkipReason {
	var prepareErr *PrepareError
	if errors.As(err, &prepareErr) {
		return prepareErr.Reason
	}
	return ReasonStoreUnavailable
}

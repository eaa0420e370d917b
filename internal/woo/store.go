// Package woo is a minimal WooCommerce REST client for the product
// catalog. Each storefront registers its own base URL and API keys; the
// client is stateless and takes the store record per call.
package woo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrStoreNotFound indicates no storefront is registered under the id.
	ErrStoreNotFound = errors.New("woocommerce store not found")

	// ErrStoreDisabled indicates the storefront exists but has been
	// deactivated by an operator.
	ErrStoreDisabled = errors.New("woocommerce store is disabled")
)

// Store is a registered WooCommerce storefront.
type Store struct {
	ID             int64
	Name           string
	URL            string
	ConsumerKey    string
	ConsumerSecret string
	Active         bool
}

// StoreSource resolves storefront records.
type StoreSource interface {
	FindStore(ctx context.Context, id int64) (Store, error)
}

// PostgresStores reads storefront records from the woo_stores table.
type PostgresStores struct {
	pool *pgxpool.Pool
}

func NewPostgresStores(pool *pgxpool.Pool) *PostgresStores {
	return &PostgresStores{pool: pool}
}

func (s *PostgresStores) FindStore(ctx context.Context, id int64) (Store, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, store_url, consumer_key, consumer_secret, active
		 FROM woo_stores WHERE id = $1`,
		id,
	)

	var store Store
	err := row.Scan(&store.ID, &store.Name, &store.URL, &store.ConsumerKey, &store.ConsumerSecret, &store.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return Store{}, ErrStoreNotFound
	}
	if err != nil {
		return Store{}, fmt.Errorf("could not load woocommerce store %d: %w", id, err)
	}

	if !store.Active {
		return Store{}, ErrStoreDisabled
	}

	return store, nil
}

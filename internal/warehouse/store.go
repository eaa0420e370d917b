// Package warehouse maps storefront products to physical warehouses. The
// mapping drives stock sync; a product not assigned to a warehouse is not
// fulfilled.
package warehouse

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Assignment links one storefront product to a warehouse. The product id
// plus store id identify a row; re-assigning moves the product.
type Assignment struct {
	ProductID   int64  `json:"product_id"`
	WarehouseID int64  `json:"warehouse_id"`
	StoreID     int64  `json:"store_id"`
	Title       string `json:"title"`
	Price       string `json:"price"`
	Quantity    int    `json:"quantity"`
}

// Store persists product-warehouse assignments.
type Store interface {
	// Assign records the assignment, replacing any previous warehouse for
	// the same product and store.
	Assign(ctx context.Context, a Assignment) error

	// ProductsByWarehouse lists the assignments of one warehouse for one
	// store.
	ProductsByWarehouse(ctx context.Context, warehouseID, storeID int64) ([]Assignment, error)

	// AssignedProductIDs returns the product ids of a store that are
	// mapped to any warehouse.
	AssignedProductIDs(ctx context.Context, storeID int64) (map[int64]bool, error)
}

// PostgresStore keeps assignments in the stock_warehouses table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Assign(ctx context.Context, a Assignment) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO stock_warehouses (product_id, warehouse_id, store_id, title, price, available_quantity, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now())
		 ON CONFLICT (product_id, store_id)
		 DO UPDATE SET warehouse_id = EXCLUDED.warehouse_id,
		               title = EXCLUDED.title,
		               price = EXCLUDED.price,
		               available_quantity = EXCLUDED.available_quantity,
		               updated_at = now()`,
		a.ProductID, a.WarehouseID, a.StoreID, a.Title, a.Price, a.Quantity,
	)
	if err != nil {
		return fmt.Errorf("could not assign product %d to warehouse %d: %w", a.ProductID, a.WarehouseID, err)
	}

	return nil
}

func (s *PostgresStore) ProductsByWarehouse(ctx context.Context, warehouseID, storeID int64) ([]Assignment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT product_id, warehouse_id, store_id, title, price, available_quantity
		 FROM stock_warehouses
		 WHERE warehouse_id = $1 AND store_id = $2
		 ORDER BY product_id`,
		warehouseID, storeID,
	)
	if err != nil {
		return nil, fmt.Errorf("could not list products for warehouse %d: %w", warehouseID, err)
	}
	defer rows.Close()

	var assignments []Assignment
	for rows.Next() {
		var a Assignment
		if err := rows.Scan(&a.ProductID, &a.WarehouseID, &a.StoreID, &a.Title, &a.Price, &a.Quantity); err != nil {
			return nil, fmt.Errorf("could not scan assignment row: %w", err)
		}
		assignments = append(assignments, a)
	}

	return assignments, rows.Err()
}

func (s *PostgresStore) AssignedProductIDs(ctx context.Context, storeID int64) (map[int64]bool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT product_id FROM stock_warehouses WHERE store_id = $1`,
		storeID,
	)
	if err != nil {
		return nil, fmt.Errorf("could not list assigned products: %w", err)
	}
	defer rows.Close()

	assigned := map[int64]bool{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("could not scan product id: %w", err)
		}
		assigned[id] = true
	}

	return assigned, rows.Err()
}

package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/multistock/meli-bridge/internal/config"
)

// PostgresStore is the production Store, backed by the same tables the rest
// of the inventory system writes: companies (tenant enumeration) and
// mercadolibre_credentials (one row per tenant).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects a pool to the configured database.
func NewPostgresStore(ctx context.Context, cfg config.StoreConfig) (*PostgresStore, error) {
	pc, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("could not parse database URL: %w", err)
	}
	pc.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("could not create database pool: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) FindByTenant(ctx context.Context, tenantID string) (Credential, error) {
	var cred Credential
	err := s.pool.QueryRow(ctx,
		`SELECT tenant_id, access_token, refresh_token, expires_at
		   FROM mercadolibre_credentials
		  WHERE tenant_id = $1`,
		tenantID,
	).Scan(&cred.TenantID, &cred.AccessToken, &cred.RefreshToken, &cred.Expiry)

	if errors.Is(err, pgx.ErrNoRows) {
		return Credential{}, ErrNotFound
	}
	if err != nil {
		return Credential{}, fmt.Errorf("credential lookup for tenant %s failed: %w", tenantID, err)
	}

	return cred, nil
}

func (s *PostgresStore) Save(ctx context.Context, cred Credential) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO mercadolibre_credentials (tenant_id, access_token, refresh_token, expires_at, updated_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (tenant_id) DO UPDATE
		    SET access_token = EXCLUDED.access_token,
		        refresh_token = EXCLUDED.refresh_token,
		        expires_at = EXCLUDED.expires_at,
		        updated_at = now()`,
		cred.TenantID, cred.AccessToken, cred.RefreshToken, cred.Expiry,
	)
	if err != nil {
		return fmt.Errorf("credential save for tenant %s failed: %w", cred.TenantID, err)
	}

	return nil
}

func (s *PostgresStore) ListTenants(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT client_id FROM companies WHERE client_id IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("tenant enumeration failed: %w", err)
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("tenant enumeration scan failed: %w", err)
		}
		tenants = append(tenants, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tenant enumeration failed: %w", err)
	}

	return tenants, nil
}

// Pool exposes the connection pool so the other stores of the service can
// share it.
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// Close releases the underlying pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

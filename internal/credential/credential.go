package credential

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates that no credential record exists for a tenant. Any
// other error from a Store means the store itself could not be reached.
var ErrNotFound = errors.New("credential not found")

// Credential is the OAuth credential record held for a tenant. It is an
// immutable value: a refresh produces a new value which replaces the old one
// at the store boundary.
type Credential struct {
	TenantID     string
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Expired reports whether the access token can no longer be used. The
// boundary instant counts as expired.
func (c Credential) Expired(now time.Time) bool {
	return !now.Before(c.Expiry)
}

// Store persists credential records per tenant. Records are created
// out-of-band by the initial OAuth grant; this service only reads them and
// replaces them on refresh.
type Store interface {
	// FindByTenant returns the credential for the given tenant, or
	// ErrNotFound when no record exists.
	FindByTenant(ctx context.Context, tenantID string) (Credential, error)

	// Save replaces the stored credential for its tenant.
	Save(ctx context.Context, cred Credential) error

	// ListTenants returns the identifiers of every tenant with a configured
	// integration.
	ListTenants(ctx context.Context) ([]string, error)
}

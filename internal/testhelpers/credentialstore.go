package testhelpers

import (
	"context"
	"sync"

	"github.com/multistock/meli-bridge/internal/credential"
)

// MemoryCredentialStore is an in-memory credential.Store for tests, with
// call counting and configurable failures.
type MemoryCredentialStore struct {
	mu sync.Mutex

	credentials map[string]credential.Credential

	// Tenants is the enumeration result; it may include tenants without a
	// credential record.
	Tenants []string

	FindCalls map[string]int
	SaveCalls int

	FindErr error // overrides lookups when set
	ListErr error // overrides enumeration when set
}

// NewMemoryCredentialStore creates a store holding the given credentials,
// enumerating exactly their tenants.
func NewMemoryCredentialStore(creds ...credential.Credential) *MemoryCredentialStore {
	s := &MemoryCredentialStore{
		credentials: map[string]credential.Credential{},
		FindCalls:   map[string]int{},
	}
	for _, c := range creds {
		s.credentials[c.TenantID] = c
		s.Tenants = append(s.Tenants, c.TenantID)
	}
	return s
}

func (s *MemoryCredentialStore) FindByTenant(ctx context.Context, tenantID string) (credential.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.FindCalls[tenantID]++
	if s.FindErr != nil {
		return credential.Credential{}, s.FindErr
	}

	c, ok := s.credentials[tenantID]
	if !ok {
		return credential.Credential{}, credential.ErrNotFound
	}
	return c, nil
}

func (s *MemoryCredentialStore) Save(ctx context.Context, cred credential.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.SaveCalls++
	s.credentials[cred.TenantID] = cred
	return nil
}

func (s *MemoryCredentialStore) ListTenants(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ListErr != nil {
		return nil, s.ListErr
	}
	return append([]string(nil), s.Tenants...), nil
}

// Get returns the stored credential for a tenant, for assertions.
func (s *MemoryCredentialStore) Get(tenantID string) (credential.Credential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.credentials[tenantID]
	return c, ok
}

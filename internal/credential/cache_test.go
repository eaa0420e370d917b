package credential_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multistock/meli-bridge/internal/credential"
)

// countingStore records the number of lookups per tenant.
type countingStore struct {
	credentials map[string]credential.Credential
	finds       map[string]int
	err         error
}

func newCountingStore(creds ...credential.Credential) *countingStore {
	s := &countingStore{
		credentials: map[string]credential.Credential{},
		finds:       map[string]int{},
	}
	for _, c := range creds {
		s.credentials[c.TenantID] = c
	}
	return s
}

func (s *countingStore) FindByTenant(ctx context.Context, tenantID string) (credential.Credential, error) {
	s.finds[tenantID]++
	if s.err != nil {
		return credential.Credential{}, s.err
	}
	c, ok := s.credentials[tenantID]
	if !ok {
		return credential.Credential{}, credential.ErrNotFound
	}
	return c, nil
}

func (s *countingStore) Save(ctx context.Context, cred credential.Credential) error {
	s.credentials[cred.TenantID] = cred
	return nil
}

func (s *countingStore) ListTenants(ctx context.Context) ([]string, error) {
	var out []string
	for id := range s.credentials {
		out = append(out, id)
	}
	return out, nil
}

func testClock(start time.Time) (func() time.Time, func(time.Duration)) {
	now := start
	return func() time.Time { return now },
		func(d time.Duration) { now = now.Add(d) }
}

func TestCacheGet_ReadsThroughOnce(t *testing.T) {
	ctx := context.Background()
	cred := credential.Credential{TenantID: "tenant-1", AccessToken: "token-1"}
	store := newCountingStore(cred)

	now, _ := testClock(time.Now())
	c, err := credential.NewCache(store, credential.WithClock(now))
	require.NoError(t, err)

	got, err := c.Get(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, cred, got)

	got, err = c.Get(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, cred, got)

	assert.Equal(t, 1, store.finds["tenant-1"], "second read within TTL must not hit the store")
}

func TestCacheGet_RefetchesAfterTTL(t *testing.T) {
	ctx := context.Background()
	cred := credential.Credential{TenantID: "tenant-1", AccessToken: "token-1"}
	store := newCountingStore(cred)

	now, advance := testClock(time.Now())
	c, err := credential.NewCache(store, credential.WithClock(now))
	require.NoError(t, err)

	_, err = c.Get(ctx, "tenant-1")
	require.NoError(t, err)

	advance(credential.CacheTTL + time.Second)

	// the refreshed token written to the store in the meantime is picked up
	store.credentials["tenant-1"] = credential.Credential{TenantID: "tenant-1", AccessToken: "token-2"}

	got, err := c.Get(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, "token-2", got.AccessToken)
	assert.Equal(t, 2, store.finds["tenant-1"])
}

func TestCacheGet_AbsenceNotCached(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore()

	now, _ := testClock(time.Now())
	c, err := credential.NewCache(store, credential.WithClock(now))
	require.NoError(t, err)

	_, err = c.Get(ctx, "missing")
	assert.ErrorIs(t, err, credential.ErrNotFound)

	_, err = c.Get(ctx, "missing")
	assert.ErrorIs(t, err, credential.ErrNotFound)

	assert.Equal(t, 2, store.finds["missing"], "absence must re-query the store on every read")
}

func TestCacheGet_StoreErrorPropagates(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore()
	store.err = errors.New("connection refused")

	now, _ := testClock(time.Now())
	c, err := credential.NewCache(store, credential.WithClock(now))
	require.NoError(t, err)

	_, err = c.Get(ctx, "tenant-1")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, credential.ErrNotFound)
}

func TestCacheInvalidate_ForcesStoreRead(t *testing.T) {
	ctx := context.Background()
	cred := credential.Credential{TenantID: "tenant-1", AccessToken: "token-1"}
	store := newCountingStore(cred)

	now, _ := testClock(time.Now())
	c, err := credential.NewCache(store, credential.WithClock(now))
	require.NoError(t, err)

	_, err = c.Get(ctx, "tenant-1")
	require.NoError(t, err)

	c.Invalidate(ctx, "tenant-1")

	_, err = c.Get(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, 2, store.finds["tenant-1"])
}

func TestCredentialExpired(t *testing.T) {
	now := time.Now()
	cred := credential.Credential{Expiry: now}

	assert.True(t, cred.Expired(now), "boundary instant counts as expired")
	assert.True(t, cred.Expired(now.Add(time.Second)))
	assert.False(t, cred.Expired(now.Add(-time.Second)))
}

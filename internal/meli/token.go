package meli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/multistock/meli-bridge/internal/config"
	"github.com/multistock/meli-bridge/internal/credential"
)

// TokenSource ensures a tenant's access token is valid before use,
// refreshing against the OAuth endpoint when it has expired and persisting
// the replacement credential.
type TokenSource struct {
	store        credential.Store
	tokenURL     string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	now          func() time.Time

	// group deduplicates concurrent refreshes for the same tenant: the
	// loser of the race reuses the winner's freshly minted credential
	// instead of issuing a second refresh.
	group singleflight.Group
}

// TokenSourceOption adjusts optional TokenSource behaviour.
type TokenSourceOption func(*TokenSource)

// WithTokenClock replaces the wall clock, for tests.
func WithTokenClock(now func() time.Time) TokenSourceOption {
	return func(ts *TokenSource) {
		ts.now = now
	}
}

// NewTokenSource creates a token source backed by the given store.
func NewTokenSource(cfg config.MeliConfig, store credential.Store, opts ...TokenSourceOption) (*TokenSource, error) {
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = strings.TrimSuffix(cfg.APIURL, "/") + "/oauth/token"
	}
	if _, err := url.Parse(tokenURL); err != nil {
		return nil, fmt.Errorf("could not parse token URL: %w", err)
	}

	ts := &TokenSource{
		store:        store,
		tokenURL:     tokenURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		httpClient:   http.DefaultClient,
		now:          time.Now,
	}

	for _, opt := range opts {
		opt(ts)
	}

	return ts, nil
}

// EnsureValid returns a credential whose access token can be used now. An
// unexpired credential is returned as-is; an expired one is exchanged for a
// fresh credential which is persisted before being returned. On any error
// the stale credential must not be used.
func (ts *TokenSource) EnsureValid(ctx context.Context, cred credential.Credential) (credential.Credential, error) {
	if !cred.Expired(ts.now()) {
		return cred, nil
	}

	log.Ctx(ctx).Info().Str("tenant", cred.TenantID).Time("expiry", cred.Expiry).
		Msg("access token expired, refreshing")

	v, err, _ := ts.group.Do(cred.TenantID, func() (any, error) {
		return ts.refresh(ctx, cred)
	})
	if err != nil {
		return credential.Credential{}, err
	}

	return v.(credential.Credential), nil
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    *int64 `json:"expires_in"`
}

func (ts *TokenSource) refresh(ctx context.Context, cred credential.Credential) (credential.Credential, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", ts.clientID)
	form.Set("client_secret", ts.clientSecret)
	form.Set("refresh_token", cred.RefreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return credential.Credential{}, fmt.Errorf("could not create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ts.httpClient.Do(req)
	if err != nil {
		return credential.Credential{}, &RefreshError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return credential.Credential{}, &RefreshError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return credential.Credential{}, &RefreshError{StatusCode: resp.StatusCode, Body: body}
	}

	var tr refreshResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return credential.Credential{}, &RefreshError{Err: fmt.Errorf("could not decode refresh response: %w", err)}
	}

	if tr.AccessToken == "" {
		return credential.Credential{}, &RefreshError{Err: fmt.Errorf("refresh response missing access_token")}
	}

	// A success response without expires_in is a protocol violation by the
	// remote service. Guessing a lifetime would poison the stored expiry, so
	// the stored credential is left untouched.
	if tr.ExpiresIn == nil {
		return credential.Credential{}, &RefreshError{Err: fmt.Errorf("refresh response missing expires_in")}
	}

	refreshToken := tr.RefreshToken
	if refreshToken == "" {
		refreshToken = cred.RefreshToken
	}

	next := credential.Credential{
		TenantID:     cred.TenantID,
		AccessToken:  tr.AccessToken,
		RefreshToken: refreshToken,
		Expiry:       ts.now().Add(time.Duration(*tr.ExpiresIn) * time.Second),
	}

	if err := ts.store.Save(ctx, next); err != nil {
		return credential.Credential{}, fmt.Errorf("could not persist refreshed credential: %w", err)
	}

	log.Ctx(ctx).Info().Str("tenant", cred.TenantID).Time("expiry", next.Expiry).
		Msg("access token refreshed")

	return next, nil
}

// This command is only used for local testing: it seeds a tenant
// credential row so the reports can be exercised against a local database
// without going through the OAuth grant flow.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sethvargo/go-envconfig"

	"github.com/multistock/meli-bridge/internal/config"
	"github.com/multistock/meli-bridge/internal/credential"
)

type Config struct {
	DatabaseURL  string `env:"STORE_DATABASE_URL, required"`
	TenantID     string `env:"SEED_TENANT_ID, required"`
	AccessToken  string `env:"SEED_ACCESS_TOKEN, required"`
	RefreshToken string `env:"SEED_REFRESH_TOKEN"`
	ExpiresInSec int    `env:"SEED_EXPIRES_IN_SECS, default=21600"`
}

func main() {
	ctx := context.Background()

	cfg := Config{}
	if err := envconfig.Process(ctx, &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error reading config: %v\n", err)
		os.Exit(1)
	}

	store, err := credential.NewPostgresStore(ctx, config.StoreConfig{
		DatabaseURL: cfg.DatabaseURL,
		MaxConns:    1,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error connecting to database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	cred := credential.Credential{
		TenantID:     cfg.TenantID,
		AccessToken:  cfg.AccessToken,
		RefreshToken: cfg.RefreshToken,
		Expiry:       time.Now().Add(time.Duration(cfg.ExpiresInSec) * time.Second),
	}

	if err := store.Save(ctx, cred); err != nil {
		fmt.Fprintf(os.Stderr, "error saving credential: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("credential for tenant %s saved, expires %s\n", cfg.TenantID, cred.Expiry.Format(time.RFC3339))
}

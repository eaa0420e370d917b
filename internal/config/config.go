package config

import (
	"context"
	"fmt"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Meli    MeliConfig
	Observe ObserveConfig
	Presets PresetConfig
	Server  ServerConfig
	Store   StoreConfig
	Woo     WooConfig
}

type ServerConfig struct {
	Port                   int `env:"SERVER_PORT, default=8080"`
	ShutdownTimeoutSeconds int `env:"SERVER_SHUTDOWN_TIMEOUT_SECS, default=25"`

	OutgoingHTTPMaxIdleConns    int `env:"SERVER_OUTGOING_MAX_IDLE_CONNS, default=100"`
	OutgoingHTTPMaxConnsPerHost int `env:"SERVER_OUTGOING_MAX_CONNS_PER_HOST, default=20"`
}

// MeliConfig specifies MercadoLibre integration settings. The client ID and
// secret are issued by the partner when the integration is registered; they
// are used for token refresh only, never for data calls.
type MeliConfig struct {
	APIURL   string `env:"MELI_API_URL, default=https://api.mercadolibre.com"`
	TokenURL string `env:"MELI_TOKEN_URL"` // defaults to APIURL + /oauth/token

	ClientID     string `env:"MELI_CLIENT_ID, required"`
	ClientSecret string `env:"MELI_CLIENT_SECRET, required"`

	// RequestTimeoutSeconds bounds each request in a fan-out batch so one
	// slow tenant cannot stall the whole batch.
	RequestTimeoutSeconds int `env:"MELI_REQUEST_TIMEOUT_SECS, default=20"`
}

// StoreConfig specifies the backing Postgres database holding credentials
// and warehouse assignments.
type StoreConfig struct {
	DatabaseURL string `env:"STORE_DATABASE_URL, required"`

	MaxConns int `env:"STORE_MAX_CONNS, default=10"`
}

// WooConfig specifies WooCommerce store access.
type WooConfig struct {
	BaseURL        string `env:"WOO_BASE_URL"`
	ConsumerKey    string `env:"WOO_CONSUMER_KEY"`
	ConsumerSecret string `env:"WOO_CONSUMER_SECRET"`
}

// PresetConfig locates the YAML file defining named report parameter presets.
// When empty, only ad-hoc query parameters are accepted.
type PresetConfig struct {
	Path string `env:"REPORT_PRESET_FILE"`
}

type ObserveConfig struct {
	SDKLogLevel                string `env:"OBSERVE_OTEL_LOG_LEVEL, default=info"`
	Enabled                    bool   `env:"OBSERVE_ENABLED, default=false"`
	MetricsEnabled             bool   `env:"OBSERVE_METRICS_ENABLED, default=true"`
	Type                       string `env:"OBSERVE_TYPE, default=grpc"`
	ServiceName                string `env:"OBSERVE_SERVICE_NAME, default=meli-bridge"`
	TraceBatchTimeoutSeconds   int    `env:"OBSERVE_TRACE_BATCH_TIMEOUT_SECS, default=20"`
	MetricReadIntervalSeconds  int    `env:"OBSERVE_METRIC_READ_INTERVAL_SECS, default=60"`
	HTTPTransportEnabled       bool   `env:"OBSERVE_HTTP_TRANSPORT_ENABLED, default=true"`
	HTTPConnectionTraceEnabled bool   `env:"OBSERVE_CONNECTION_TRACE_ENABLED, default=true"`
}

func Load(ctx context.Context) (Config, error) {
	return load(ctx, nil) // load from OS environment
}

func load(ctx context.Context, lookup envconfig.Lookuper) (Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup, // nil defaults to OS environment
	})
	if err != nil {
		return cfg, err
	}

	err = cfg.Woo.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid WooCommerce configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the WooCommerce configuration is complete when
// the integration is enabled at all.
func (c *WooConfig) Validate() error {
	if c.BaseURL == "" {
		// integration disabled
		return nil
	}

	if c.ConsumerKey == "" || c.ConsumerSecret == "" {
		return fmt.Errorf("WOO_CONSUMER_KEY and WOO_CONSUMER_SECRET required when WOO_BASE_URL set")
	}

	return nil
}

// Enabled reports whether the WooCommerce integration is configured.
func (c *WooConfig) Enabled() bool {
	return c.BaseURL != ""
}

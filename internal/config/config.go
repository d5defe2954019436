package config

import (
	"os"
	"strconv"
)

// Config holds all configuration for the Deskwing runtime.
type Config struct {
	Port      int
	Version   string
	Database  DatabaseConfig
	Telemetry TelemetryConfig
	Auth      AuthConfig
	Routing   RoutingEnvConfig
	Tenants   TenantConfig
	Collector CollectorConfig
}

type DatabaseConfig struct {
	URL            string
	MaxConnections int
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

type AuthConfig struct {
	APIKeyHeader string
	APIKey       string // empty disables ingress auth
	TenantHeader string
}

// RoutingEnvConfig is the environment-level routing configuration. The
// provider credentials themselves live in ProvidersPath.
type RoutingEnvConfig struct {
	Primary       string
	Secondary     string
	Tertiary      string
	Strategy      string // config or abtest
	SplitPercent  int
	ProvidersPath string // JSON file listing providers
}

type TenantConfig struct {
	PolicyPath string // YAML file of tenant policies
}

type CollectorConfig struct {
	Workers    int
	BufferSize int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("DESKWING_PORT", 8080),
		Version: envStr("DESKWING_VERSION", "0.2.0"),
		Database: DatabaseConfig{
			URL:            envStr("DATABASE_URL", ""),
			MaxConnections: envInt("DATABASE_MAX_CONNECTIONS", 25),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", true),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "deskwing-runtime"),
		},
		Auth: AuthConfig{
			APIKeyHeader: envStr("AUTH_API_KEY_HEADER", "Authorization"),
			APIKey:       envStr("AUTH_API_KEY", ""),
			TenantHeader: envStr("AUTH_TENANT_HEADER", "X-Deskwing-Tenant"),
		},
		Routing: RoutingEnvConfig{
			Primary:       envStr("ROUTING_PRIMARY", "openai-default"),
			Secondary:     envStr("ROUTING_SECONDARY", ""),
			Tertiary:      envStr("ROUTING_TERTIARY", ""),
			Strategy:      envStr("ROUTING_STRATEGY", "config"),
			SplitPercent:  envInt("ROUTING_SPLIT_PERCENT", 0),
			ProvidersPath: envStr("ROUTING_PROVIDERS_PATH", "providers.json"),
		},
		Tenants: TenantConfig{
			PolicyPath: envStr("TENANT_POLICY_PATH", "tenants.yaml"),
		},
		Collector: CollectorConfig{
			Workers:    envInt("COLLECTOR_WORKERS", 2),
			BufferSize: envInt("COLLECTOR_BUFFER_SIZE", 256),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

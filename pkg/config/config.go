package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for branchsight-engine.
// Configuration can come from YAML file (config.yaml) or environment
// variables. Environment variables always override YAML values. Secrets
// (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8090"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	Version  string `yaml:"-"`                                      // Set at load time, not from config

	// Tenant directory service (tenant -> database target mappings)
	Directory DirectoryConfig `yaml:"directory"`

	// Remote query-execution API
	QueryAPI QueryAPIConfig `yaml:"query_api"`

	// Direct-SQL target pooling
	Datasource DatasourceConfig `yaml:"datasource"`

	// Result cache
	Cache CacheConfig `yaml:"cache"`

	// Pub/sub job completion relay
	Relay RelayConfig `yaml:"relay"`

	// Report template catalog
	ReportsPath string `yaml:"reports_path" env:"REPORTS_PATH" env-default:"reports.yaml"`

	// AI analysis assistant (OpenAI-compatible endpoint)
	AI AIConfig `yaml:"ai"`
}

// DirectoryConfig holds the tenant directory lookup settings.
type DirectoryConfig struct {
	BaseURL string `yaml:"base_url" env:"DIRECTORY_BASE_URL" env-default:"http://localhost:8091"`
	// TimeoutSeconds bounds directory lookups; failures are fatal to the
	// calling request (propagated, not retried).
	TimeoutSeconds int `yaml:"timeout_seconds" env:"DIRECTORY_TIMEOUT_SECONDS" env-default:"10"`

	// AllowDefaultTenant opts into the legacy fallback target for requests
	// that carry no resolvable tenant. Off by default: unresolved tenants
	// fail closed.
	AllowDefaultTenant bool   `yaml:"allow_default_tenant" env:"DIRECTORY_ALLOW_DEFAULT_TENANT" env-default:"false"`
	DefaultTenantID    string `yaml:"default_tenant_id" env:"DIRECTORY_DEFAULT_TENANT_ID" env-default:""`
}

// QueryAPIConfig holds settings for the remote query-execution backend.
type QueryAPIConfig struct {
	BaseURL        string `yaml:"base_url" env:"QUERY_API_BASE_URL" env-default:"http://localhost:8092"`
	BearerToken    string `yaml:"-" env:"QUERY_API_TOKEN"` // Secret - not in YAML
	TimeoutSeconds int    `yaml:"timeout_seconds" env:"QUERY_API_TIMEOUT_SECONDS" env-default:"30"`
}

// DatasourceConfig holds direct-SQL connection pooling settings.
type DatasourceConfig struct {
	// ConnectionTTLMinutes is how long idle target pools are kept alive.
	ConnectionTTLMinutes int   `yaml:"connection_ttl_minutes" env:"DATASOURCE_CONNECTION_TTL_MINUTES" env-default:"5"`
	PoolMaxConns         int32 `yaml:"pool_max_conns" env:"DATASOURCE_POOL_MAX_CONNS" env-default:"10"`
	PoolMinConns         int32 `yaml:"pool_min_conns" env:"DATASOURCE_POOL_MIN_CONNS" env-default:"1"`
}

// CacheConfig holds result cache settings.
type CacheConfig struct {
	TTLSeconds int `yaml:"ttl_seconds" env:"CACHE_TTL_SECONDS" env-default:"300"`
	// MaxEntries bounds the cache; least-recently-used entries are evicted
	// once the bound is reached.
	MaxEntries int `yaml:"max_entries" env:"CACHE_MAX_ENTRIES" env-default:"1024"`
}

// TTL returns the cache entry lifetime.
func (c *CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// RelayConfig holds pub/sub relay (Redis) settings.
type RelayConfig struct {
	Host     string `yaml:"host" env:"RELAY_HOST" env-default:"localhost"`
	Port     int    `yaml:"port" env:"RELAY_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"RELAY_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"RELAY_DB" env-default:"0"`
	// ConnectTimeoutSeconds bounds lazy relay connection establishment.
	// Exceeding it fails that notification attempt; it is not retried.
	ConnectTimeoutSeconds int `yaml:"connect_timeout_seconds" env:"RELAY_CONNECT_TIMEOUT_SECONDS" env-default:"5"`
}

// Addr returns the host:port address of the relay.
func (c *RelayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ConnectTimeout returns the relay connect timeout.
func (c *RelayConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}

// AIConfig holds the analysis assistant endpoint settings.
type AIConfig struct {
	BaseURL string `yaml:"base_url" env:"AI_BASE_URL" env-default:""`
	APIKey  string `yaml:"-" env:"AI_API_KEY"` // Secret - not in YAML
	Model   string `yaml:"model" env:"AI_MODEL" env-default:""`
}

// IsAvailable returns true if the analysis assistant is configured.
func (c *AIConfig) IsAvailable() bool {
	return c.BaseURL != "" && c.Model != ""
}

// Load reads configuration from config.yaml with environment variable
// overrides. The version parameter is injected at build time.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = (&url.URL{
			Scheme: "http",
			Host:   "localhost:" + cfg.Port,
		}).String()
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Directory.AllowDefaultTenant && c.Directory.DefaultTenantID == "" {
		return fmt.Errorf("allow_default_tenant requires default_tenant_id")
	}
	if c.Cache.TTLSeconds <= 0 {
		return fmt.Errorf("cache ttl_seconds must be positive")
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache max_entries must be positive")
	}
	if c.Relay.ConnectTimeoutSeconds <= 0 {
		return fmt.Errorf("relay connect_timeout_seconds must be positive")
	}
	return nil
}

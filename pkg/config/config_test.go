package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Cache: CacheConfig{TTLSeconds: 300, MaxEntries: 1024},
		Relay: RelayConfig{Host: "localhost", Port: 6379, ConnectTimeoutSeconds: 5},
	}
}

func TestValidate_OK(t *testing.T) {
	require.NoError(t, validConfig().validate())
}

func TestValidate_DefaultTenantRequiresID(t *testing.T) {
	cfg := validConfig()
	cfg.Directory.AllowDefaultTenant = true
	require.Error(t, cfg.validate())

	cfg.Directory.DefaultTenantID = "3"
	require.NoError(t, cfg.validate())
}

func TestValidate_CacheBounds(t *testing.T) {
	cfg := validConfig()
	cfg.Cache.TTLSeconds = 0
	assert.Error(t, cfg.validate())

	cfg = validConfig()
	cfg.Cache.MaxEntries = -1
	assert.Error(t, cfg.validate())
}

func TestValidate_RelayTimeout(t *testing.T) {
	cfg := validConfig()
	cfg.Relay.ConnectTimeoutSeconds = 0
	assert.Error(t, cfg.validate())
}

func TestCacheTTL(t *testing.T) {
	cfg := CacheConfig{TTLSeconds: 90}
	assert.Equal(t, 90*time.Second, cfg.TTL())
}

func TestRelayAddr(t *testing.T) {
	cfg := RelayConfig{Host: "redis.internal", Port: 6380, ConnectTimeoutSeconds: 5}
	assert.Equal(t, "redis.internal:6380", cfg.Addr())
	assert.Equal(t, 5*time.Second, cfg.ConnectTimeout())
}

func TestAIIsAvailable(t *testing.T) {
	assert.False(t, (&AIConfig{}).IsAvailable())
	assert.False(t, (&AIConfig{BaseURL: "http://llm:8000/v1"}).IsAvailable())
	assert.True(t, (&AIConfig{BaseURL: "http://llm:8000/v1", Model: "analyst-8b"}).IsAvailable())
}

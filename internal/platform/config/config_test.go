package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookup(vars map[string]string) func(string) string {
	return func(key string) string { return vars[key] }
}

func TestFromLookupDefaults(t *testing.T) {
	cfg, err := fromLookup(lookup(nil))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 4, cfg.Webhook.Workers)
	assert.Equal(t, 1000, cfg.Webhook.QueueSize)
	assert.Equal(t, 5*time.Second, cfg.Webhook.Timeout)
	assert.Equal(t, 365*24*time.Hour, cfg.ConsentTTL)
	assert.Equal(t, 60*time.Second, cfg.Redis.CacheTTL)
	assert.Equal(t, "consent.history", cfg.Kafka.ConsentTopic)
	assert.False(t, cfg.Kafka.Enabled())
	assert.Equal(t, DefaultAPIKeyPepper, cfg.APIKeyPepper)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Empty(t, cfg.Server.TrustedProxies)
}

func TestFromLookupOverrides(t *testing.T) {
	cfg, err := fromLookup(lookup(map[string]string{
		"COOKIECONSENT_ADDR": ":9090",
		"DATABASE_URL":       "postgres://localhost/consent",
		"KAFKA_BROKERS":      "k1:9092, k2:9092,,",
		"WEBHOOK_WORKERS":    "8",
		"WEBHOOK_TIMEOUT":    "2s",
		"CONSENT_TTL":        "720h",
		"TRUSTED_PROXIES":    "10.0.0.0/8, 192.0.2.10",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "postgres://localhost/consent", cfg.DatabaseURL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Kafka.Enabled())
	assert.Equal(t, 8, cfg.Webhook.Workers)
	assert.Equal(t, 2*time.Second, cfg.Webhook.Timeout)
	assert.Equal(t, 720*time.Hour, cfg.ConsentTTL)
	assert.Equal(t, []string{"10.0.0.0/8", "192.0.2.10"}, cfg.Server.TrustedProxies)
}

func TestFromLookupRejectsBadValues(t *testing.T) {
	for key, value := range map[string]string{
		"WEBHOOK_WORKERS": "zero",
		"WEBHOOK_TIMEOUT": "soon",
		"CONSENT_TTL":     "-1h",
	} {
		t.Run(key, func(t *testing.T) {
			_, err := fromLookup(lookup(map[string]string{key: value}))
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

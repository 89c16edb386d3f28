package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir switches to dir for the duration of the test; t.Chdir requires Go 1.24.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, 5*time.Minute, cfg.Entitlement.SubscriptionTTL)
	assert.Equal(t, 5*time.Minute, cfg.Entitlement.UsageTTL)
	assert.Equal(t, 1000, cfg.Entitlement.TrackerBufferSize)
	assert.False(t, cfg.Entitlement.DevFallback)
	assert.Equal(t, uint32(5), cfg.Entitlement.BreakerMaxFailures)
	assert.Equal(t, 5*time.Second, cfg.Entitlement.RemoteFetchTimeout)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromFile(t *testing.T) {
	chdir(t, t.TempDir())
	require.NoError(t, os.WriteFile("config.yaml", []byte(`
environment: development
server:
  address: ":9090"
  cors_allow_origins:
    - "http://localhost:5173"
entitlement:
  subscription_ttl: 1m
  dev_fallback: true
`), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.Server.CORSAllowOrigins)
	assert.Equal(t, time.Minute, cfg.Entitlement.SubscriptionTTL)
	assert.True(t, cfg.Entitlement.DevFallback)
}

func TestDevFallbackRefusedOutsideDevelopment(t *testing.T) {
	chdir(t, t.TempDir())
	require.NoError(t, os.WriteFile("config.yaml", []byte(`
environment: production
entitlement:
  dev_fallback: true
`), 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dev_fallback")
}

func TestSensitiveEnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("FRAMECRAFT_JWT_SECRET", "from-env")
	t.Setenv("FRAMECRAFT_STRIPE_WEBHOOK_SECRET", "whsec_test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, "whsec_test", cfg.Billing.StripeWebhookSecret)
}

func TestDatabaseDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "db.internal",
		Port:     5433,
		User:     "svc",
		Password: "secret",
		Database: "framecraft",
		SSLMode:  "require",
	}
	assert.Equal(t,
		"host=db.internal port=5433 user=svc password=secret dbname=framecraft sslmode=require",
		cfg.DSN())
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("IMAGE_VARIANT_WIDTHS", "")
	t.Setenv("DEFAULT_MAX_ACTIVE_ADS", "")
	t.Setenv("DEFAULT_AD_ACTIVE_DAYS", "")
	t.Setenv("SWEEP_INTERVAL", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Lifecycle.DefaultMaxActiveAds)
	assert.Equal(t, 3, cfg.Lifecycle.DefaultAdActiveDays)
	assert.Equal(t, time.Minute, cfg.Lifecycle.SweepInterval)
	assert.Equal(t, []int{320, 800, 1600}, cfg.Images.VariantWidths)
	assert.Contains(t, cfg.Database.DSN(), "sslmode=")
	assert.Nil(t, cfg.Server.TrustedProxies)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/x?sslmode=require")
	t.Setenv("SWEEP_INTERVAL", "30")
	t.Setenv("SWEEP_LOCK_TTL", "25s")
	t.Setenv("SWEEPER_IN_SERVER", "true")
	t.Setenv("IMAGE_VARIANT_WIDTHS", "200, 400")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 127.0.0.1")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@db:5432/x?sslmode=require", cfg.Database.DSN())
	assert.Equal(t, 30*time.Second, cfg.Lifecycle.SweepInterval)
	assert.Equal(t, 25*time.Second, cfg.Lifecycle.SweepLockTTL)
	assert.True(t, cfg.Lifecycle.SweeperInServer)
	assert.Equal(t, []int{200, 400}, cfg.Images.VariantWidths)
	assert.Equal(t, []string{"10.0.0.0/8", "127.0.0.1"}, cfg.Server.TrustedProxies)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("IMAGE_VARIANT_WIDTHS", "320,abc")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("IMAGE_VARIANT_WIDTHS", "")
	t.Setenv("DEFAULT_MAX_ACTIVE_ADS", "0")
	_, err = Load()
	assert.Error(t, err)
}

func TestLoadRejectsNonPositiveRateLimitWindow(t *testing.T) {
	t.Setenv("IMAGE_VARIANT_WIDTHS", "")
	t.Setenv("DEFAULT_MAX_ACTIVE_ADS", "")
	for _, v := range []string{"0", "0s", "-5s"} {
		t.Setenv("RATE_LIMIT_WINDOW", v)
		_, err := Load()
		assert.Error(t, err, v)
	}
}

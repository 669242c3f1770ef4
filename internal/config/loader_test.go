package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyHex = "000102030405060708090a0b0c0d0e0f"

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"FLEETSHARE_CONFIG",
		"FLEETSHARE_HTTP_PORT",
		"FLEETSHARE_SQLITE_DSN",
		"FLEETSHARE_ACCESS_TOKEN_KEY",
		"FLEETSHARE_ACCESS_TOKEN_TTL",
		"FLEETSHARE_CHECKOUT_LEAD",
		"FLEETSHARE_CHECKOUT_GRACE",
		"FLEETSHARE_SWEEP_INTERVAL",
		"FLEETSHARE_FEE_ADMINS",
		"FLEETSHARE_EXPAND_HORIZON_DAYS",
	} {
		t.Setenv(name, "")
		require.NoError(t, os.Unsetenv(name))
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("FLEETSHARE_ACCESS_TOKEN_KEY", testKeyHex)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 15*time.Minute, cfg.AccessTokenTTL.Duration())
	assert.Equal(t, 30, cfg.ExpandHorizonDays)
	assert.Equal(t, "EUR", cfg.LateFee.Currency)

	key, err := cfg.AccessTokenKey()
	require.NoError(t, err)
	assert.Len(t, key, 16)
}

func TestLoadRequiresAccessTokenKey(t *testing.T) {
	clearEnv(t)

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FLEETSHARE_ACCESS_TOKEN_KEY")
}

func TestLoadRejectsBadKey(t *testing.T) {
	clearEnv(t)

	t.Setenv("FLEETSHARE_ACCESS_TOKEN_KEY", "not-hex")
	_, err := Load()
	require.Error(t, err)

	// Valid hex but wrong decoded length.
	t.Setenv("FLEETSHARE_ACCESS_TOKEN_KEY", "0001020304")
	_, err = Load()
	require.Error(t, err)
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("FLEETSHARE_ACCESS_TOKEN_KEY", testKeyHex)
	t.Setenv("FLEETSHARE_HTTP_PORT", "9090")
	t.Setenv("FLEETSHARE_ACCESS_TOKEN_TTL", "5m")
	t.Setenv("FLEETSHARE_FEE_ADMINS", "root, ops ,")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, 5*time.Minute, cfg.AccessTokenTTL.Duration())
	assert.Equal(t, []string{"root", "ops"}, cfg.FeeAdmins)
}

func TestLoadRejectsInvalidOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("FLEETSHARE_ACCESS_TOKEN_KEY", testKeyHex)
	t.Setenv("FLEETSHARE_HTTP_PORT", "zero")
	t.Setenv("FLEETSHARE_SWEEP_INTERVAL", "-1h")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FLEETSHARE_HTTP_PORT")
	assert.Contains(t, err.Error(), "FLEETSHARE_SWEEP_INTERVAL")
}

func TestLoadFromTOMLFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "fleetshare.toml")
	content := `
http_port = 7070
access_token_key = "` + testKeyHex + `"
access_token_ttl = "10m"
fee_admins = ["root"]

[late_fee]
grace_minutes = 5
block_minutes = 15
rate_per_block_minor = 250
cap_minor = 5000
currency = "USD"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("FLEETSHARE_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.HTTPPort)
	assert.Equal(t, 10*time.Minute, cfg.AccessTokenTTL.Duration())
	assert.Equal(t, []string{"root"}, cfg.FeeAdmins)
	assert.Equal(t, "USD", cfg.LateFee.Currency)
	assert.Equal(t, int64(250), cfg.LateFee.RatePerBlockMinor)
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "fleetshare.toml")
	content := `
http_port = 7070
access_token_key = "` + testKeyHex + `"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("FLEETSHARE_CONFIG", path)
	t.Setenv("FLEETSHARE_HTTP_PORT", "9191")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.HTTPPort)
}

package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DYNAMO_DATA_DIR", dir)
	chdir(t, dir) // keep a developer .env out of the test

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, 8001, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.DevMode)
	assert.Equal(t, "reserve", cfg.Vault.ReserveHolder)
	assert.Equal(t, int32(18), cfg.Vault.AssetDecimals)
	assert.Equal(t, 5, cfg.Vault.MaxInstructions)
	assert.Equal(t, 0, cfg.Vault.TargetReserve.Sign())
	assert.InDelta(t, 0.05, cfg.Vault.DriftThreshold, 1e-9)
	assert.Empty(t, cfg.Schedule.Rebalance)
	assert.Equal(t, "0 0 3 * * *", cfg.Schedule.Maintenance)
	assert.Equal(t, 90, cfg.Schedule.PlanRetentionDays)
	assert.Nil(t, cfg.Backup)
	assert.Equal(t, filepath.Join(dir, "ledger.db"), cfg.DatabasePath("ledger"))
}

func TestLoad_FromEnvironment(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	t.Setenv("DYNAMO_DATA_DIR", dir)
	t.Setenv("GO_PORT", "9100")
	t.Setenv("DEV_MODE", "true")
	t.Setenv("RESERVE_HOLDER", "vault")
	t.Setenv("ASSET_DECIMALS", "6")
	t.Setenv("MAX_INSTRUCTIONS", "3")
	t.Setenv("TARGET_RESERVE", "1000000000000000000000000")
	t.Setenv("DRIFT_THRESHOLD", "0.1")
	t.Setenv("REBALANCE_SCHEDULE", "0 */5 * * * *")
	t.Setenv("R2_ACCOUNT_ID", "acct")
	t.Setenv("R2_ACCESS_KEY_ID", "key")
	t.Setenv("R2_SECRET_ACCESS_KEY", "secret")
	t.Setenv("R2_BUCKET", "bucket")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Port)
	assert.True(t, cfg.DevMode)
	assert.Equal(t, "vault", cfg.Vault.ReserveHolder)
	assert.Equal(t, int32(6), cfg.Vault.AssetDecimals)
	assert.Equal(t, 3, cfg.Vault.MaxInstructions)
	expected, _ := new(big.Int).SetString("1000000000000000000000000", 10)
	assert.Equal(t, 0, expected.Cmp(cfg.Vault.TargetReserve))
	assert.InDelta(t, 0.1, cfg.Vault.DriftThreshold, 1e-9)
	assert.Equal(t, "0 */5 * * * *", cfg.Schedule.Rebalance)
	require.NotNil(t, cfg.Backup)
	assert.Equal(t, "bucket", cfg.Backup.Bucket)
	assert.Equal(t, 30, cfg.Backup.RetentionDays)
}

func TestLoad_RejectsBadTargetReserve(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	t.Setenv("DYNAMO_DATA_DIR", dir)

	t.Setenv("TARGET_RESERVE", "12.5")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("TARGET_RESERVE", "-1")
	_, err = Load()
	assert.Error(t, err)
}

func TestLoad_MalformedNumbersFallBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	t.Setenv("DYNAMO_DATA_DIR", dir)
	t.Setenv("GO_PORT", "not-a-port")
	t.Setenv("DEV_MODE", "maybe")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8001, cfg.Port)
	assert.False(t, cfg.DevMode)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Port: 8001,
			Vault: VaultConfig{
				ReserveHolder:   "reserve",
				AssetDecimals:   18,
				MaxInstructions: 5,
				TargetReserve:   big.NewInt(0),
				DriftThreshold:  0.05,
			},
		}
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Port = 0 }},
		{"reserve holder", func(c *Config) { c.Vault.ReserveHolder = "" }},
		{"decimals", func(c *Config) { c.Vault.AssetDecimals = 40 }},
		{"budget", func(c *Config) { c.Vault.MaxInstructions = -1 }},
		{"target", func(c *Config) { c.Vault.TargetReserve = big.NewInt(-5) }},
		{"drift", func(c *Config) { c.Vault.DriftThreshold = 1.5 }},
		{"plan retention", func(c *Config) { c.Schedule.PlanRetentionDays = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

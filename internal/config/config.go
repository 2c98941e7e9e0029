// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for all databases (always absolute)
	LogLevel string
	Port     int
	DevMode  bool

	Vault    VaultConfig
	Schedule ScheduleConfig
	Backup   *BackupConfig // nil when R2 credentials are not configured
}

// VaultConfig holds the rebalancing parameters of the vault
type VaultConfig struct {
	ReserveHolder   string   // Ledger holder name of the reserve balance
	AssetDecimals   int32    // Decimals of the underlying asset, for display
	MaxInstructions int      // Instruction budget per plan
	TargetReserve   *big.Int // Reserve balance every plan must leave behind, in base units
	StrategyFile    string   // Optional YAML strategy seeded on startup
	DriftThreshold  float64  // Allocation drift (fraction) that triggers scheduled rebalancing
}

// ScheduleConfig holds cron specs. Empty specs disable the job.
type ScheduleConfig struct {
	Rebalance         string
	Backup            string
	Maintenance       string
	PlanRetentionDays int // Stored plans older than this are pruned by maintenance; 0 keeps them
}

// BackupConfig holds Cloudflare R2 credentials for ledger backups
type BackupConfig struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	RetentionDays   int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	absDataDir, err := filepath.Abs(getEnv("DYNAMO_DATA_DIR", "./data"))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	targetReserve, ok := new(big.Int).SetString(strings.TrimSpace(getEnv("TARGET_RESERVE", "0")), 10)
	if !ok {
		return nil, fmt.Errorf("TARGET_RESERVE must be an integer amount in base units")
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("GO_PORT", 8001),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Vault: VaultConfig{
			ReserveHolder:   getEnv("RESERVE_HOLDER", "reserve"),
			AssetDecimals:   int32(getEnvAsInt("ASSET_DECIMALS", 18)),
			MaxInstructions: getEnvAsInt("MAX_INSTRUCTIONS", 5),
			TargetReserve:   targetReserve,
			StrategyFile:    getEnv("STRATEGY_FILE", ""),
			DriftThreshold:  getEnvAsFloat("DRIFT_THRESHOLD", 0.05),
		},
		Schedule: ScheduleConfig{
			Rebalance:         getEnv("REBALANCE_SCHEDULE", ""),
			Backup:            getEnv("BACKUP_SCHEDULE", ""),
			Maintenance:       getEnv("MAINTENANCE_SCHEDULE", "0 0 3 * * *"),
			PlanRetentionDays: getEnvAsInt("PLAN_RETENTION_DAYS", 90),
		},
		Backup: loadBackupConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadBackupConfig returns nil unless every R2 setting is present
func loadBackupConfig() *BackupConfig {
	backup := &BackupConfig{
		AccountID:       getEnv("R2_ACCOUNT_ID", ""),
		AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
		SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
		Bucket:          getEnv("R2_BUCKET", ""),
		RetentionDays:   getEnvAsInt("R2_RETENTION_DAYS", 30),
	}
	if backup.AccountID == "" || backup.AccessKeyID == "" || backup.SecretAccessKey == "" || backup.Bucket == "" {
		return nil
	}
	return backup
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Vault.ReserveHolder == "" {
		return fmt.Errorf("RESERVE_HOLDER must not be empty")
	}
	if c.Vault.AssetDecimals < 0 || c.Vault.AssetDecimals > 36 {
		return fmt.Errorf("ASSET_DECIMALS must be between 0 and 36, got %d", c.Vault.AssetDecimals)
	}
	if c.Vault.MaxInstructions < 0 {
		return fmt.Errorf("MAX_INSTRUCTIONS must not be negative, got %d", c.Vault.MaxInstructions)
	}
	if c.Vault.TargetReserve == nil || c.Vault.TargetReserve.Sign() < 0 {
		return fmt.Errorf("TARGET_RESERVE must not be negative")
	}
	if c.Schedule.PlanRetentionDays < 0 {
		return fmt.Errorf("PLAN_RETENTION_DAYS must not be negative, got %d", c.Schedule.PlanRetentionDays)
	}
	if c.Vault.DriftThreshold < 0 || c.Vault.DriftThreshold > 1 {
		return fmt.Errorf("DRIFT_THRESHOLD must be between 0 and 1, got %f", c.Vault.DriftThreshold)
	}
	return nil
}

// DatabasePath returns the file path of a named database inside DataDir
func (c *Config) DatabasePath(name string) string {
	return filepath.Join(c.DataDir, name+".db")
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

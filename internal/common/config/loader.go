// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	// Enable ENV override like SHEETS_BASE_URL
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	// Environment overlay is optional.
	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig()

	return finish(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return finish(v)
}

func finish(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// Find project root by looking for go.mod
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		val := v.Get(key)

		if strVal, ok := val.(string); ok {
			if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
				expanded := os.ExpandEnv(strVal)
				if expanded != strVal && expanded != "" {
					v.Set(key, expanded)
				}
			}
		}
	}
}

// Direct override if config values are still empty after expansion
func overrideEmptyConfig(cfg *Config) {
	if cfg.Sheets.BaseURL == "" {
		if val := os.Getenv("SHEETS_SCRIPT_URL"); val != "" {
			cfg.Sheets.BaseURL = val
		}
	}
	if cfg.FileStore.FolderID == "" {
		if val := os.Getenv("DRIVE_FOLDER_ID"); val != "" {
			cfg.FileStore.FolderID = val
		}
	}
	if cfg.FileStore.GCS.CredentialsJSON == "" {
		if val := os.Getenv("GCS_CREDENTIALS_JSON"); val != "" {
			cfg.FileStore.GCS.CredentialsJSON = val
		}
	}

	if cfg.Database.Postgres.User == "" {
		if val := os.Getenv("DB_USER"); val != "" {
			cfg.Database.Postgres.User = val
		}
	}
	if cfg.Database.Postgres.Password == "" {
		if val := os.Getenv("DB_PASSWORD"); val != "" {
			cfg.Database.Postgres.Password = val
		}
	}
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.Camunda.MaxJobsActive == 0 {
		cfg.Camunda.MaxJobsActive = 10
	}
	if cfg.Camunda.Timeout == 0 {
		cfg.Camunda.Timeout = 30000
	}
	if cfg.Camunda.RequestTimeout == 0 {
		cfg.Camunda.RequestTimeout = 30000
	}

	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 10
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 2
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}

	if cfg.Database.Elasticsearch.URL == "" && len(cfg.Database.Elasticsearch.Addresses) > 0 {
		cfg.Database.Elasticsearch.URL = cfg.Database.Elasticsearch.Addresses[0]
	}
	if cfg.Database.Elasticsearch.Index == "" {
		cfg.Database.Elasticsearch.Index = "enquiries"
	}

	if cfg.Sheets.Timeout == 0 {
		cfg.Sheets.Timeout = 30000
	}
	if cfg.Sheets.HeaderRow == 0 {
		cfg.Sheets.HeaderRow = 6
	}
	if cfg.Sheets.Location == "" {
		cfg.Sheets.Location = "Asia/Kolkata"
	}

	if cfg.FileStore.Backend == "" {
		cfg.FileStore.Backend = "script"
	}
	if cfg.FileStore.MaxBytes == 0 {
		cfg.FileStore.MaxBytes = 10 * 1024 * 1024
	}

	if cfg.Enquiry.LockTTL == 0 {
		cfg.Enquiry.LockTTL = (LockedSheetCalls + 1) * cfg.Sheets.Timeout
	}
	if cfg.Enquiry.SnapshotTTL == 0 {
		cfg.Enquiry.SnapshotTTL = 600000
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Observability.MetricsAddress == "" {
		cfg.Observability.MetricsAddress = ":9090"
	}

	for key, worker := range cfg.Workers {
		if worker.MaxJobsActive == 0 {
			worker.MaxJobsActive = 5
		}
		if worker.Timeout == 0 {
			worker.Timeout = 30000
		}
		if worker.MaxRetries == 0 {
			worker.MaxRetries = 3
		}
		cfg.Workers[key] = worker
	}
}

// LockedSheetCalls is the most sheet calls one serialized submission makes
// while holding the enquiry lock.
const LockedSheetCalls = 5

// validateConfig validates critical configuration fields
func validateConfig(cfg *Config) error {
	if cfg.Sheets.BaseURL == "" {
		return fmt.Errorf("sheets.base_url is required")
	}
	if cfg.Sheets.HeaderRow < 1 {
		return fmt.Errorf("sheets.header_row must be positive")
	}
	if _, err := time.LoadLocation(cfg.Sheets.Location); err != nil {
		return fmt.Errorf("sheets.location: %w", err)
	}

	switch cfg.FileStore.Backend {
	case "script":
		if cfg.FileStore.FolderID == "" {
			return fmt.Errorf("filestore.folder_id is required for the script backend")
		}
	case "gcs":
		if cfg.FileStore.GCS.Bucket == "" {
			return fmt.Errorf("filestore.gcs.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("filestore.backend %q is not supported", cfg.FileStore.Backend)
	}

	if cfg.Enquiry.SerializeWrites && cfg.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required when enquiry.serialize_writes is set")
	}
	if cfg.Enquiry.SerializeWrites && cfg.Enquiry.LockTTL <= LockedSheetCalls*cfg.Sheets.Timeout {
		return fmt.Errorf("enquiry.lock_ttl (%dms) must exceed %d x sheets.timeout (%dms)",
			cfg.Enquiry.LockTTL, LockedSheetCalls, cfg.Sheets.Timeout)
	}

	return nil
}

// ValidateForWorkers checks the settings only the worker host needs.
func ValidateForWorkers(cfg *Config) error {
	if cfg.Camunda.BrokerAddress == "" {
		return fmt.Errorf("camunda.broker_address is required")
	}
	return nil
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}

// GetWorkerConfig retrieves worker-specific configuration with fallback to defaults
func GetWorkerConfig(cfg *Config, workerName string) WorkerConfig {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker
	}

	return WorkerConfig{
		Enabled:       true,
		MaxJobsActive: 5,
		Timeout:       30000,
		MaxRetries:    3,
	}
}

// IsWorkerEnabled checks if a specific worker is enabled
func IsWorkerEnabled(cfg *Config, workerName string) bool {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker.Enabled
	}
	return true
}

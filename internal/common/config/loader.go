package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	loadEnvFile()

	// Base config
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("../../configs")
	viper.AddConfigPath(".")

	// Enable ENV override like MODEL_API_KEY
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	// Environment-specific overlay, ignored if absent
	envConfigFile := fmt.Sprintf("config.%s", env)
	viper.SetConfigName(envConfigFile)
	_ = viper.MergeInConfig()

	expandEnvVars(viper.GetViper())

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadEnvFile tries multiple paths so tests running from package directories
// still pick up the repository .env.
func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
		"../../../.env",
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

// findProjectRoot walks up directories looking for go.mod.
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

// expandEnvVars resolves ${VAR} placeholders in string config values.
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

// overrideEmptyConfig fills secrets from the environment when the YAML left
// them empty.
func overrideEmptyConfig(cfg *Config) {
	if cfg.Model.APIKey == "" {
		if val := os.Getenv("MODEL_API_KEY"); val != "" {
			cfg.Model.APIKey = val
		}
	}
	if cfg.Execution.APIKey == "" {
		if val := os.Getenv("FLEET_API_KEY"); val != "" {
			cfg.Execution.APIKey = val
		}
	}
	if cfg.Database.Postgres.Password == "" {
		if val := os.Getenv("POSTGRES_PASSWORD"); val != "" {
			cfg.Database.Postgres.Password = val
		}
	}
	if cfg.Database.Redis.Password == "" {
		if val := os.Getenv("REDIS_PASSWORD"); val != "" {
			cfg.Database.Redis.Password = val
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "fleetbridge"
	}
	if cfg.App.Environment == "" {
		cfg.App.Environment = "development"
	}
	if cfg.App.Port == 0 {
		cfg.App.Port = 8080
	}
	if cfg.App.MetricsPort == 0 {
		cfg.App.MetricsPort = 9090
	}

	if cfg.Model.Timeout == 0 {
		cfg.Model.Timeout = 30000
	}
	if cfg.Model.MaxRetries == 0 {
		cfg.Model.MaxRetries = 2
	}

	if cfg.Pipeline.WorkerPoolSize == 0 {
		cfg.Pipeline.WorkerPoolSize = 4
	}
	if cfg.Pipeline.StageTimeout == 0 {
		cfg.Pipeline.StageTimeout = 30000
	}
	if cfg.Pipeline.HistoryDepth == 0 {
		cfg.Pipeline.HistoryDepth = 5
	}
	if cfg.Pipeline.AmbiguityEpsilon == 0 {
		cfg.Pipeline.AmbiguityEpsilon = 0.1
	}
	if cfg.Pipeline.CoverageThreshold == 0 {
		cfg.Pipeline.CoverageThreshold = 0.5
	}
	if cfg.Pipeline.SelectionTieEpsilon == 0 {
		cfg.Pipeline.SelectionTieEpsilon = 0.05
	}
	if cfg.Pipeline.ConfidenceThreshold == 0 {
		cfg.Pipeline.ConfidenceThreshold = 0.6
	}

	if cfg.Templates.Directory == "" {
		cfg.Templates.UseBuiltin = true
	}

	if cfg.Execution.Timeout == 0 {
		cfg.Execution.Timeout = 15000
	}
	if cfg.Execution.MaxRetries == 0 {
		cfg.Execution.MaxRetries = 3
	}
	if cfg.Execution.FailureThreshold == 0 {
		cfg.Execution.FailureThreshold = 5
	}
	if cfg.Execution.FailureWindow == 0 {
		cfg.Execution.FailureWindow = 60000
	}
	if cfg.Execution.RecoveryTimeout == 0 {
		cfg.Execution.RecoveryTimeout = 30000
	}

	if cfg.Database.Redis.CacheTTL == 0 {
		cfg.Database.Redis.CacheTTL = 600000
	}

	if cfg.Audit.Backend == "" {
		cfg.Audit.Backend = "file"
	}
	if cfg.Audit.Path == "" {
		cfg.Audit.Path = "state/audit.jsonl"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Pipeline.AmbiguityEpsilon < 0 || cfg.Pipeline.AmbiguityEpsilon > 1 {
		return fmt.Errorf("pipeline.ambiguity_epsilon must be in [0,1], got %f", cfg.Pipeline.AmbiguityEpsilon)
	}
	if cfg.Pipeline.CoverageThreshold < 0 || cfg.Pipeline.CoverageThreshold > 1 {
		return fmt.Errorf("pipeline.coverage_threshold must be in [0,1], got %f", cfg.Pipeline.CoverageThreshold)
	}
	if cfg.Pipeline.WorkerPoolSize < 1 {
		return fmt.Errorf("pipeline.worker_pool_size must be positive, got %d", cfg.Pipeline.WorkerPoolSize)
	}
	if cfg.Execution.FailureThreshold < 1 {
		return fmt.Errorf("execution.failure_threshold must be positive, got %d", cfg.Execution.FailureThreshold)
	}
	switch cfg.Audit.Backend {
	case "file", "postgres":
	default:
		return fmt.Errorf("audit.backend must be file or postgres, got %q", cfg.Audit.Backend)
	}
	return nil
}

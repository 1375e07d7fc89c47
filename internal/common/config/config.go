package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Model     ModelConfig     `mapstructure:"model"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Templates TemplatesConfig `mapstructure:"templates"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// --- Core App Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Port        int    `mapstructure:"port"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

// ModelConfig holds settings for the completion service collaborator.
type ModelConfig struct {
	BaseURL     string `mapstructure:"base_url"`
	APIKey      string `mapstructure:"api_key"`
	Model       string `mapstructure:"model"`
	Timeout     int    `mapstructure:"timeout"` // milliseconds
	MaxRetries  int    `mapstructure:"max_retries"`
	Temperature float64 `mapstructure:"temperature"`
}

// PipelineConfig carries the pipeline tunables: thresholds, epsilons, pool
// size, history depth.
type PipelineConfig struct {
	WorkerPoolSize      int     `mapstructure:"worker_pool_size"`
	StageTimeout        int     `mapstructure:"stage_timeout"` // milliseconds
	HistoryDepth        int     `mapstructure:"history_depth"` // conversation turns kept per request
	AmbiguityEpsilon    float64 `mapstructure:"ambiguity_epsilon"`
	CoverageThreshold   float64 `mapstructure:"coverage_threshold"`
	SelectionTieEpsilon float64 `mapstructure:"selection_tie_epsilon"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	AutoApproveCutoff   float64 `mapstructure:"auto_approve_cutoff"`
}

// TemplatesConfig controls where template documents are loaded from.
type TemplatesConfig struct {
	Directory string `mapstructure:"directory"`
	// UseBuiltin layers the compiled-in catalog under any directory templates.
	// Forced on when no directory is configured, so the server never starts
	// with an empty catalog.
	UseBuiltin bool `mapstructure:"use_builtin"`
}

// ExecutionConfig holds settings for the fleet API execution client.
type ExecutionConfig struct {
	BaseURL          string `mapstructure:"base_url"`
	APIKey           string `mapstructure:"api_key"`
	Timeout          int    `mapstructure:"timeout"` // milliseconds
	MaxRetries       int    `mapstructure:"max_retries"`
	FailureThreshold int    `mapstructure:"failure_threshold"`
	FailureWindow    int    `mapstructure:"failure_window"`    // milliseconds
	RecoveryTimeout  int    `mapstructure:"recovery_timeout"`  // milliseconds
	DryRunEnabled    bool   `mapstructure:"dry_run_enabled"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// CacheTTL bounds how long cached extraction results live, milliseconds.
	CacheTTL int `mapstructure:"cache_ttl"`
}

// AuditConfig selects the persistence backend for the append-only trail.
type AuditConfig struct {
	Backend string `mapstructure:"backend"` // "file" or "postgres"
	Path    string `mapstructure:"path"`    // file backend only
}

// NotifyConfig holds optional terminal-state notification settings.
type NotifyConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Region    string `mapstructure:"region"`
	FromEmail string `mapstructure:"from_email"`
	ToEmail   string `mapstructure:"to_email"`
	SNSTopic  string `mapstructure:"sns_topic"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

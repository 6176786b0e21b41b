// Package config loads and hot-reloads the engine's configuration blob
// from a YAML file plus environment variable overrides (loaded via
// godotenv's .env convention, generalized with spf13/viper for the full
// layered blob spec §6 requires: api.*, database.url, cache.url, risk.*,
// execution.*, bus.*, scheduler.*, fundamentals.*, symbol_sync.*, and the
// credential-store encryption key).
//
// Data Directory Priority (highest to lowest):
// 1. --data-dir CLI flag (if provided)
// 2. SENTINEL_DATA_DIR environment variable
// 3. data_dir in the config file
// 4. "./data" (default)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/aristath/sentinel/internal/domain"
)

// Config is the full configuration blob spec §6 names, unmarshalled via
// viper's mapstructure tags.
type Config struct {
	DataDir  string `mapstructure:"data_dir"`
	LogLevel string `mapstructure:"log_level"`
	DevMode  bool   `mapstructure:"dev_mode"`

	API          APIConfig          `mapstructure:"api"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Risk         RiskConfig         `mapstructure:"risk"`
	Execution    ExecutionConfig    `mapstructure:"execution"`
	Bus          BusConfig          `mapstructure:"bus"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Fundamentals FundamentalsConfig `mapstructure:"fundamentals"`
	SymbolSync   SymbolSyncConfig   `mapstructure:"symbol_sync"`
	Encryption   EncryptionConfig   `mapstructure:"encryption"`
	Backup       BackupConfig       `mapstructure:"backup"`

	// Venue credentials come only from these keys; the TRADERNET_API_KEY
	// and TRADERNET_API_SECRET environment variables override the
	// Tradernet pair. The CredentialStore is not consulted for them.
	TradernetAPIKey    string `mapstructure:"tradernet_api_key"`
	TradernetAPISecret string `mapstructure:"tradernet_api_secret"`
	TradernetWSURL     string `mapstructure:"tradernet_ws_url"`

	CryptoAPIKey    string `mapstructure:"crypto_api_key"`
	CryptoAPISecret string `mapstructure:"crypto_api_secret"`
	CryptoBaseURL   string `mapstructure:"crypto_base_url"`
	CryptoWSURL     string `mapstructure:"crypto_ws_url"`
}

type APIConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

type CacheConfig struct {
	URL string `mapstructure:"url"`
}

// RiskConfig feeds internal/risk.Gate's six pre-trade checks.
// ATRFilterCeiling is optional (spec's `?` suffix); zero means unset.
type RiskConfig struct {
	MaxDailyLossPct      float64 `mapstructure:"max_daily_loss_pct"`
	MaxPositionPct       float64 `mapstructure:"max_position_pct"`
	StopLossDefaultPct   float64 `mapstructure:"stop_loss_default_pct"`
	TakeProfitDefaultPct float64 `mapstructure:"take_profit_default_pct"`
	ATRFilterCeiling     float64 `mapstructure:"atr_filter_ceiling"`
}

type ExecutionConfig struct {
	RetryMax              int `mapstructure:"retry_max"`
	RetryInitialBackoffMs int `mapstructure:"retry_initial_backoff_ms"`
	TimeoutMs             int `mapstructure:"timeout_ms"`
}

type BusConfig struct {
	SubscriberQueueDepth int `mapstructure:"subscriber_queue_depth"`
}

// TaskConfig is the period/batch-size pair spec §6 requires for every
// scheduler.* entry.
type TaskConfig struct {
	Period    time.Duration `mapstructure:"period"`
	BatchSize int           `mapstructure:"batch_size"`
}

type SchedulerConfig struct {
	SymbolSync            TaskConfig `mapstructure:"symbol_sync"`
	Fundamentals          TaskConfig `mapstructure:"fundamentals"`
	JournalReconciliation TaskConfig `mapstructure:"journal_reconciliation"`
	DailyMaintenance      TaskConfig `mapstructure:"daily_maintenance"`
	WeeklyVacuum          TaskConfig `mapstructure:"weekly_vacuum"`
}

// BackupConfig controls the optional cold-storage upload DailyMaintenanceJob
// performs after its local integrity/checkpoint pass. Disabled by default:
// an engine running without AWS credentials configured still gets the local
// maintenance pass, just no offsite copy.
type BackupConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Bucket  string `mapstructure:"bucket"`
	Region  string `mapstructure:"region"`
	// AccessKeyID/SecretAccessKey override the default AWS credential
	// chain (env vars, shared config, instance role) when set; both must
	// be non-empty to take effect, matching aws-sdk-go-v2's static
	// credentials provider requirements.
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

type FundamentalsConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Period    time.Duration `mapstructure:"period"`
	BatchSize int           `mapstructure:"batch_size"`
}

type SymbolSyncConfig struct {
	Enabled bool `mapstructure:"enabled"`
	KRX     bool `mapstructure:"krx"`
	Binance bool `mapstructure:"binance"`
	Yahoo   bool `mapstructure:"yahoo"`
}

// EncryptionConfig holds the 32-byte key the CredentialStore uses to
// encrypt venue secrets at rest. Key is hex-encoded in the config blob.
type EncryptionConfig struct {
	Key string `mapstructure:"key"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "./data")
	v.SetDefault("log_level", "info")
	v.SetDefault("dev_mode", false)
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8001)
	v.SetDefault("database.url", "")
	v.SetDefault("cache.url", "")
	v.SetDefault("risk.max_daily_loss_pct", 0.03)
	v.SetDefault("risk.max_position_pct", 0.20)
	v.SetDefault("risk.stop_loss_default_pct", 0.02)
	v.SetDefault("risk.take_profit_default_pct", 0.04)
	v.SetDefault("risk.atr_filter_ceiling", 0.0)
	v.SetDefault("execution.retry_max", 3)
	v.SetDefault("execution.retry_initial_backoff_ms", 250)
	v.SetDefault("execution.timeout_ms", 10000)
	v.SetDefault("bus.subscriber_queue_depth", 1024)
	v.SetDefault("scheduler.symbol_sync.period", 24*time.Hour)
	v.SetDefault("scheduler.symbol_sync.batch_size", 500)
	v.SetDefault("scheduler.fundamentals.period", 24*time.Hour)
	v.SetDefault("scheduler.fundamentals.batch_size", 200)
	v.SetDefault("scheduler.journal_reconciliation.period", time.Hour)
	v.SetDefault("scheduler.journal_reconciliation.batch_size", 500)
	v.SetDefault("scheduler.daily_maintenance.period", 24*time.Hour)
	v.SetDefault("scheduler.daily_maintenance.batch_size", 0)
	v.SetDefault("scheduler.weekly_vacuum.period", 7*24*time.Hour)
	v.SetDefault("scheduler.weekly_vacuum.batch_size", 0)
	v.SetDefault("backup.enabled", false)
	v.SetDefault("backup.region", "us-east-1")
	v.SetDefault("fundamentals.enabled", false)
	v.SetDefault("fundamentals.period", 24*time.Hour)
	v.SetDefault("fundamentals.batch_size", 200)
	v.SetDefault("symbol_sync.enabled", true)
	v.SetDefault("symbol_sync.krx", true)
	v.SetDefault("symbol_sync.binance", true)
	v.SetDefault("symbol_sync.yahoo", false)
	v.SetDefault("tradernet_ws_url", "wss://wss.freedom24.com")
	v.SetDefault("crypto_base_url", "")
	v.SetDefault("crypto_ws_url", "")
}

// Load reads the config file at path (if it exists — a missing file is
// not an error, only missing required fields are), layers SENTINEL_*
// environment variables on top (highest precedence after the explicit
// dataDirOverride), and validates the result. A *domain.EngineError with
// category ErrConfigInvalid is returned on any validation failure, which
// callers surface as the process's exit code 1 per spec §6.
func Load(path string, dataDirOverride string) (*Config, error) {
	_ = godotenv.Load() // .env is optional; godotenv.Load's error is ignored same as the teacher's Load did

	v := viper.New()
	setDefaults(v)
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return nil, domain.NewError(domain.ErrConfigInvalid, "config.Load", "read config file", err)
			}
		}
	}

	v.SetEnvPrefix("SENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, domain.NewError(domain.ErrConfigInvalid, "config.Load", "unmarshal config", err)
	}

	if dataDirOverride != "" {
		cfg.DataDir = dataDirOverride
	}
	absDataDir, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return nil, domain.NewError(domain.ErrConfigInvalid, "config.Load", "resolve data directory", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, domain.NewError(domain.ErrConfigInvalid, "config.Load", "create data directory", err)
	}
	cfg.DataDir = absDataDir

	if key := os.Getenv("TRADERNET_API_KEY"); key != "" {
		cfg.TradernetAPIKey = key
	}
	if secret := os.Getenv("TRADERNET_API_SECRET"); secret != "" {
		cfg.TradernetAPISecret = secret
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the blob's required fields and value ranges, returning
// a *domain.EngineError with category ErrConfigInvalid describing the
// first violation found.
func (c *Config) Validate() error {
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return domain.NewError(domain.ErrConfigInvalid, "config.Validate", "api.port must be in (0, 65535]", nil)
	}
	if c.Risk.MaxDailyLossPct <= 0 || c.Risk.MaxDailyLossPct > 1 {
		return domain.NewError(domain.ErrConfigInvalid, "config.Validate", "risk.max_daily_loss_pct must be in (0, 1]", nil)
	}
	if c.Risk.MaxPositionPct <= 0 || c.Risk.MaxPositionPct > 1 {
		return domain.NewError(domain.ErrConfigInvalid, "config.Validate", "risk.max_position_pct must be in (0, 1]", nil)
	}
	if c.Execution.RetryMax < 0 {
		return domain.NewError(domain.ErrConfigInvalid, "config.Validate", "execution.retry_max must be >= 0", nil)
	}
	if c.Bus.SubscriberQueueDepth <= 0 {
		return domain.NewError(domain.ErrConfigInvalid, "config.Validate", "bus.subscriber_queue_depth must be > 0", nil)
	}
	if c.Encryption.Key != "" && len(c.Encryption.Key) != 64 { // 32 raw bytes, hex-encoded
		return domain.NewError(domain.ErrConfigInvalid, "config.Validate", "encryption.key must be 32 bytes hex-encoded (64 chars)", nil)
	}
	if c.Backup.Enabled && c.Backup.Bucket == "" {
		return domain.NewError(domain.ErrConfigInvalid, "config.Validate", "backup.bucket is required when backup.enabled is true", nil)
	}
	return nil
}

// Manager holds the live Config and watches the backing file for changes.
// A failed reload is rejected without being logged; the prior Config is kept live,
// matching spec §7's hot-reload propagation policy (ConfigInvalid never
// tears down an already-running process).
type Manager struct {
	path string
	v    *viper.Viper

	mu  sync.RWMutex
	cur *Config

	onChange func(*Config)
}

// NewManager loads path once via Load and starts watching it for changes.
// onChange, if non-nil, is invoked with the newly validated Config after
// every successful hot-reload.
func NewManager(path, dataDirOverride string, onChange func(*Config)) (*Manager, error) {
	cfg, err := Load(path, dataDirOverride)
	if err != nil {
		return nil, err
	}

	m := &Manager{path: path, cur: cfg, onChange: onChange}
	if path != "" {
		m.v = viper.New()
		setDefaults(m.v)
		m.v.SetConfigFile(path)
		m.v.SetEnvPrefix("SENTINEL")
		m.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		m.v.AutomaticEnv()
		_ = m.v.ReadInConfig()
		m.v.OnConfigChange(m.reload)
		m.v.WatchConfig()
	}
	return m, nil
}

func (m *Manager) reload(_ fsnotify.Event) {
	var next Config
	if err := m.v.Unmarshal(&next); err != nil {
		return // rejected: keep m.cur; nothing is logged or recorded
	}

	m.mu.Lock()
	next.DataDir = m.cur.DataDir // data_dir is fixed at startup, never hot-reloaded
	if err := next.Validate(); err != nil {
		m.mu.Unlock()
		return // rejected per spec §7: ConfigInvalid at hot-reload keeps the prior configuration
	}
	m.cur = &next
	m.mu.Unlock()

	if m.onChange != nil {
		m.onChange(&next)
	}
}

// Current returns the live Config. Callers that need a stable snapshot
// across a multi-step operation should copy the returned value; Manager
// may swap it out from under a concurrent reader at any time.
func (m *Manager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cur
}

// String renders a redacted summary safe for startup logs.
func (c *Config) String() string {
	return fmt.Sprintf("data_dir=%s api=%s:%d log_level=%s dev_mode=%v", c.DataDir, c.API.Host, c.API.Port, c.LogLevel, c.DevMode)
}

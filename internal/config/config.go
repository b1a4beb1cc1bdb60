package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Budget   BudgetConfig   `mapstructure:"budget"`
	Alerts   AlertsConfig   `mapstructure:"alerts"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	Export   ExportConfig   `mapstructure:"export"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
	// EncryptionKey seeds the key that seals sample and error payloads at rest
	EncryptionKey string `mapstructure:"encryption_key"`
}

// GatewayConfig holds the upstream gateway client configuration
type GatewayConfig struct {
	URL               string        `mapstructure:"url"`
	Token             string        `mapstructure:"token"`
	Timeout           time.Duration `mapstructure:"timeout"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	LastKnownTTL      time.Duration `mapstructure:"last_known_ttl"`
	MaxConcurrency    int           `mapstructure:"max_concurrency"`
}

// BudgetConfig holds spend limits
type BudgetConfig struct {
	MonthlyUSD string `mapstructure:"monthly_usd"` // empty or 0 = no budget configured
}

// Monthly parses the monthly budget as an exact decimal amount
func (b BudgetConfig) Monthly() (decimal.Decimal, error) {
	raw := strings.TrimSpace(b.MonthlyUSD)
	if raw == "" {
		return decimal.Zero, nil
	}
	budget, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid monthly budget %q: %w", b.MonthlyUSD, err)
	}
	return budget, nil
}

// AlertsConfig holds alert lifecycle configuration
type AlertsConfig struct {
	DedupWindow         time.Duration `mapstructure:"dedup_window"`
	RetentionMaxAge     time.Duration `mapstructure:"retention_max_age"`
	SweepSchedule       string        `mapstructure:"sweep_schedule"` // cron expression
	ErrorSpikeThreshold int           `mapstructure:"error_spike_threshold"`
}

// RealtimeConfig holds live-update broadcaster configuration
type RealtimeConfig struct {
	CostInterval      time.Duration `mapstructure:"cost_interval"`
	ResourceInterval  time.Duration `mapstructure:"resource_interval"`
	AlertInterval     time.Duration `mapstructure:"alert_interval"`
	SendQueueSize     int           `mapstructure:"send_queue_size"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	PingInterval      time.Duration `mapstructure:"ping_interval"`
	InboundPerSecond  float64       `mapstructure:"inbound_per_second"`
	MaxInboundMessage int64         `mapstructure:"max_inbound_message"`
}

// ExportConfig holds the scheduled cost report upload configuration
type ExportConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Schedule       string `mapstructure:"schedule"` // cron expression
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	PrivateKeyPath string `mapstructure:"private_key_path"`
	KnownHostsPath string `mapstructure:"known_hosts_path"` // empty skips host key verification
	RemoteDir      string `mapstructure:"remote_dir"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "text"
}

// Load loads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := newViper()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Config file is optional
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	return unmarshal(v)
}

// LoadFromEnv loads configuration primarily from environment variables
func LoadFromEnv() (*Config, error) {
	v := newViper()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // Ignore error if .env doesn't exist

	return unmarshal(v)
}

// Watch reloads configPath whenever it changes on disk and hands the new
// configuration to onChange. Invalid files are logged and skipped.
func Watch(configPath string, logger *slog.Logger, onChange func(*Config)) error {
	if configPath == "" {
		return fmt.Errorf("config path is required for watching")
	}
	if logger == nil {
		logger = slog.Default()
	}

	v := newViper()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := unmarshal(v)
		if err != nil {
			logger.Error("failed to reload config",
				slog.String("file", e.Name),
				slog.String("error", err.Error()))
			return
		}
		if err := cfg.Validate(); err != nil {
			logger.Warn("ignoring invalid config change",
				slog.String("file", e.Name),
				slog.String("error", err.Error()))
			return
		}
		logger.Info("config reloaded", slog.String("file", e.Name))
		onChange(cfg)
	})
	v.WatchConfig()

	return nil
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindEnvVars(v)
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	// Database defaults
	v.SetDefault("database.path", "./data/agentwatch.db")

	// Gateway defaults
	v.SetDefault("gateway.url", "http://localhost:18789")
	v.SetDefault("gateway.timeout", 10*time.Second)
	v.SetDefault("gateway.poll_interval", 30*time.Second)
	v.SetDefault("gateway.requests_per_second", 5.0)
	v.SetDefault("gateway.last_known_ttl", 15*time.Minute)
	v.SetDefault("gateway.max_concurrency", 4)

	// Budget defaults
	v.SetDefault("budget.monthly_usd", "0")

	// Alert defaults
	v.SetDefault("alerts.dedup_window", time.Minute)
	v.SetDefault("alerts.retention_max_age", 7*24*time.Hour)
	v.SetDefault("alerts.sweep_schedule", "0 * * * *")
	v.SetDefault("alerts.error_spike_threshold", 10)

	// Realtime defaults
	v.SetDefault("realtime.cost_interval", 5*time.Second)
	v.SetDefault("realtime.resource_interval", 10*time.Second)
	v.SetDefault("realtime.alert_interval", 30*time.Second)
	v.SetDefault("realtime.send_queue_size", 32)
	v.SetDefault("realtime.write_timeout", 10*time.Second)
	v.SetDefault("realtime.ping_interval", 30*time.Second)
	v.SetDefault("realtime.inbound_per_second", 10.0)
	v.SetDefault("realtime.max_inbound_message", 4096)

	// Export defaults
	v.SetDefault("export.enabled", false)
	v.SetDefault("export.schedule", "15 0 * * *")
	v.SetDefault("export.port", 22)
	v.SetDefault("export.remote_dir", "reports")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func bindEnvVars(v *viper.Viper) {
	// BindEnv errors are non-fatal but should be logged
	bindEnv := func(key string, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			slog.Warn("failed to bind environment variable",
				slog.String("key", key),
				slog.String("env_var", envVar),
				slog.String("error", err.Error()))
		}
	}

	bindEnv("gateway.url", "GATEWAY_URL")
	bindEnv("gateway.token", "GATEWAY_TOKEN")

	bindEnv("database.path", "DATABASE_PATH")
	bindEnv("database.encryption_key", "DASHBOARD_ENCRYPTION_KEY")

	bindEnv("budget.monthly_usd", "MONTHLY_BUDGET")

	bindEnv("server.host", "SERVER_HOST")
	bindEnv("server.port", "SERVER_PORT")

	bindEnv("logging.level", "LOG_LEVEL")
	bindEnv("logging.format", "LOG_FORMAT")

	bindEnv("export.enabled", "EXPORT_ENABLED")
	bindEnv("export.host", "EXPORT_HOST")
	bindEnv("export.user", "EXPORT_USER")
	bindEnv("export.private_key_path", "EXPORT_PRIVATE_KEY_PATH")
	bindEnv("export.known_hosts_path", "EXPORT_KNOWN_HOSTS_PATH")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Gateway.URL == "" {
		return fmt.Errorf("GATEWAY_URL is required")
	}

	if len(c.Database.EncryptionKey) < 16 {
		return fmt.Errorf("DASHBOARD_ENCRYPTION_KEY must be at least 16 characters")
	}

	budget, err := c.Budget.Monthly()
	if err != nil {
		return err
	}
	if budget.IsNegative() {
		return fmt.Errorf("monthly budget must not be negative, got %s", budget.StringFixed(2))
	}

	if c.Realtime.CostInterval <= 0 || c.Realtime.ResourceInterval <= 0 || c.Realtime.AlertInterval <= 0 {
		return fmt.Errorf("realtime intervals must be positive")
	}

	if c.Alerts.SweepSchedule != "" {
		if _, err := cron.ParseStandard(c.Alerts.SweepSchedule); err != nil {
			return fmt.Errorf("invalid alerts.sweep_schedule %q: %w", c.Alerts.SweepSchedule, err)
		}
	}

	if c.Export.Enabled {
		if c.Export.Host == "" || c.Export.User == "" || c.Export.PrivateKeyPath == "" {
			return fmt.Errorf("EXPORT_HOST, EXPORT_USER and EXPORT_PRIVATE_KEY_PATH are required when export is enabled")
		}
		if _, err := cron.ParseStandard(c.Export.Schedule); err != nil {
			return fmt.Errorf("invalid export.schedule %q: %w", c.Export.Schedule, err)
		}
	}

	return nil
}

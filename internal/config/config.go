package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	ERP       ERPConfig       `mapstructure:"erp"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Approval  ApprovalConfig  `mapstructure:"approval"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Logger    LoggerConfig    `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds SQLite configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
}

// ERPConfig selects and configures the ERP connector
type ERPConfig struct {
	Mode string    `mapstructure:"mode"` // mock | sap | hybrid
	SAP  SAPConfig `mapstructure:"sap"`
}

// SAPConfig holds SAP OData connection settings
type SAPConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	ServicePrefix string        `mapstructure:"service_prefix"`
	APIKey        string        `mapstructure:"api_key"`
	Username      string        `mapstructure:"username"`
	Password      string        `mapstructure:"password"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// SchedulerConfig holds background worker timing
type SchedulerConfig struct {
	CommitInterval time.Duration `mapstructure:"commit_interval"`
}

// ApprovalConfig holds staging behavior
type ApprovalConfig struct {
	GracePeriod       time.Duration `mapstructure:"grace_period"`
	AutoCommitEnabled bool          `mapstructure:"auto_commit_enabled"`
}

// NotifyConfig holds post-commit notification settings
type NotifyConfig struct {
	LarkEnabled   bool   `mapstructure:"lark_enabled"`
	LarkAppID     string `mapstructure:"lark_app_id"`
	LarkAppSecret string `mapstructure:"lark_app_secret"`
	LarkReceiveID string `mapstructure:"lark_receive_id"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load reads configuration from the YAML file, a .env file and
// environment variables, in increasing precedence.
func Load(configPath string) (*Config, error) {
	// .env is optional; real deployments set the environment directly
	_ = gotenv.Load()

	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	bindEnvVars()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8000)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)

	viper.SetDefault("database.path", "data/approvals.db")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	viper.SetDefault("database.migrations_dir", "migrations")

	viper.SetDefault("erp.mode", "mock")
	viper.SetDefault("erp.sap.base_url", "https://sandbox.api.sap.com")
	viper.SetDefault("erp.sap.service_prefix", "")
	viper.SetDefault("erp.sap.timeout", 30*time.Second)

	viper.SetDefault("scheduler.commit_interval", 60*time.Second)

	viper.SetDefault("approval.grace_period", 5*time.Minute)
	viper.SetDefault("approval.auto_commit_enabled", true)

	viper.SetDefault("notify.lark_enabled", false)

	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.output_path", "stdout")
	viper.SetDefault("logger.format", "json")
}

func bindEnvVars() {
	// Sensitive credentials come from the environment only
	viper.BindEnv("erp.sap.api_key", "SAP_API_KEY")
	viper.BindEnv("erp.sap.username", "SAP_USERNAME")
	viper.BindEnv("erp.sap.password", "SAP_PASSWORD")
	viper.BindEnv("erp.sap.base_url", "SAP_BASE_URL")
	viper.BindEnv("notify.lark_app_id", "LARK_APP_ID")
	viper.BindEnv("notify.lark_app_secret", "LARK_APP_SECRET")
	viper.BindEnv("notify.lark_receive_id", "LARK_RECEIVE_ID")
}

// Validate checks configuration consistency
func (c *Config) Validate() error {
	switch c.ERP.Mode {
	case "mock", "sap", "hybrid":
	default:
		return fmt.Errorf("erp.mode must be one of mock, sap, hybrid (got %q)", c.ERP.Mode)
	}

	if c.ERP.Mode == "sap" || c.ERP.Mode == "hybrid" {
		if c.ERP.SAP.BaseURL == "" {
			return fmt.Errorf("erp.sap.base_url is required for mode %q", c.ERP.Mode)
		}
	}

	if c.Approval.GracePeriod < 0 {
		return fmt.Errorf("approval.grace_period must not be negative")
	}
	if c.Scheduler.CommitInterval <= 0 {
		return fmt.Errorf("scheduler.commit_interval must be positive")
	}

	if c.Notify.LarkEnabled {
		if c.Notify.LarkAppID == "" || c.Notify.LarkAppSecret == "" {
			return fmt.Errorf("notify.lark_enabled requires LARK_APP_ID and LARK_APP_SECRET")
		}
		if c.Notify.LarkReceiveID == "" {
			return fmt.Errorf("notify.lark_enabled requires notify.lark_receive_id")
		}
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Version is injected at build time via ldflags.
var Version = "dev"

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	View     ViewConfig     `mapstructure:"view"`
	Mutation MutationConfig `mapstructure:"mutation"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Stub     StubConfig     `mapstructure:"stub"`
}

// ServerConfig describes the scan server the client connects to.
type ServerConfig struct {
	Endpoint    string        `mapstructure:"endpoint"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	PingPeriod  time.Duration `mapstructure:"ping_period"`
}

// ViewConfig holds row windowing and ordering settings.
type ViewConfig struct {
	PageSize      int  `mapstructure:"page_size"`
	UpdatingFirst bool `mapstructure:"updating_first"`
}

// MutationConfig holds delete tracking settings.
type MutationConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// StubConfig configures the development scan server.
type StubConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Fixture      string        `mapstructure:"fixture"`
	DeleteDelay  time.Duration `mapstructure:"delete_delay"`
	ScanInterval time.Duration `mapstructure:"scan_interval"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Endpoint:    "ws://127.0.0.1:8080/ws",
			DialTimeout: 10 * time.Second,
			PingPeriod:  54 * time.Second,
		},
		View: ViewConfig{
			PageSize:      100,
			UpdatingFirst: true,
		},
		Mutation: MutationConfig{
			Timeout:       30 * time.Second,
			SweepInterval: time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Stub: StubConfig{
			Host:         "127.0.0.1",
			Port:         8080,
			DeleteDelay:  time.Second,
			ScanInterval: 200 * time.Millisecond,
		},
	}
}

// Load reads configuration from file and environment variables.
// Priority: environment variables > .env file > config file > defaults
func Load(configPath string) (*Config, error) {
	// A missing .env is the normal case
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env file: %w", err)
	}

	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Config file settings
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.sizeview")
	}

	// Environment variable settings
	v.SetEnvPrefix("SIZEVIEW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults mirrors Default into viper so env vars can override each key.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.endpoint", d.Server.Endpoint)
	v.SetDefault("server.dial_timeout", d.Server.DialTimeout)
	v.SetDefault("server.ping_period", d.Server.PingPeriod)

	v.SetDefault("view.page_size", d.View.PageSize)
	v.SetDefault("view.updating_first", d.View.UpdatingFirst)

	v.SetDefault("mutation.timeout", d.Mutation.Timeout)
	v.SetDefault("mutation.sweep_interval", d.Mutation.SweepInterval)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.path", d.Logging.Path)
	v.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max_age_days", d.Logging.MaxAgeDays)
	v.SetDefault("logging.compress", d.Logging.Compress)

	v.SetDefault("stub.host", d.Stub.Host)
	v.SetDefault("stub.port", d.Stub.Port)
	v.SetDefault("stub.fixture", d.Stub.Fixture)
	v.SetDefault("stub.delete_delay", d.Stub.DeleteDelay)
	v.SetDefault("stub.scan_interval", d.Stub.ScanInterval)
}

// Validate checks values that would otherwise fail much later.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Server.Endpoint)
	if err != nil {
		return fmt.Errorf("invalid server.endpoint: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid server.endpoint %q: scheme must be ws or wss", c.Server.Endpoint)
	}
	if c.View.PageSize <= 0 {
		return fmt.Errorf("invalid view.page_size %d: must be positive", c.View.PageSize)
	}
	if c.Mutation.Timeout <= 0 || c.Mutation.SweepInterval <= 0 {
		return fmt.Errorf("mutation.timeout and mutation.sweep_interval must be positive")
	}
	return nil
}

// Address returns the stub server listen address.
func (c *StubConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

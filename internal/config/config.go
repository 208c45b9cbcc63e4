package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application's configuration.
type Config struct {
	Server struct {
		Port               string   `yaml:"port"`
		AllowedOrigins     []string `yaml:"allowed_origins"`
		MaxBodyBytes       int64    `yaml:"max_body_bytes"`
		ScanRatePerMinute  int      `yaml:"scan_rate_per_minute"`
		QueryRatePerMinute int      `yaml:"query_rate_per_minute"`
		// TrustedProxies lists proxy IPs or CIDRs whose X-Forwarded-For is
		// believed. Empty means the peer address is always the client.
		TrustedProxies []string `yaml:"trusted_proxies"`
	} `yaml:"server"`
	Database struct {
		Driver string `yaml:"driver"` // "postgres" or "sqlite"
		URL    string `yaml:"url"`
	} `yaml:"database"`
	Model struct {
		Path    string `yaml:"path"`
		Version string `yaml:"version"`
	} `yaml:"model"`
	MLService struct {
		URL            string `yaml:"url"`
		TimeoutSeconds int64  `yaml:"timeout_seconds"`
	} `yaml:"ml_service"`
	Statistics struct {
		MaxRetries int `yaml:"max_retries"`
	} `yaml:"statistics"`
	Retention struct {
		Enabled              bool  `yaml:"enabled"`
		DataRetentionDays    int   `yaml:"data_retention_days"`
		AnonymizationDays    int   `yaml:"anonymization_days"`
		SweepIntervalMinutes int64 `yaml:"sweep_interval_minutes"`
	} `yaml:"retention"`
	Log struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`
}

// LoadConfig reads configuration from the specified YAML file.
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	config.Database.URL = os.ExpandEnv(config.Database.URL)
	config.MLService.URL = os.ExpandEnv(config.MLService.URL)
	config.Model.Path = os.ExpandEnv(config.Model.Path)

	config.SetDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// SetDefaults fills every zero-valued setting with its default.
func (c *Config) SetDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = ":8080"
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 16 * 1024
	}
	if c.Server.ScanRatePerMinute == 0 {
		c.Server.ScanRatePerMinute = 60
	}
	if c.Server.QueryRatePerMinute == 0 {
		c.Server.QueryRatePerMinute = 30
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.URL == "" && c.Database.Driver == "sqlite" {
		c.Database.URL = "file:./data/phishguard.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_time_format=sqlite"
	}

	if c.Model.Version == "" {
		c.Model.Version = "v1.0.0"
	}
	if c.MLService.TimeoutSeconds == 0 {
		c.MLService.TimeoutSeconds = 5
	}

	if c.Statistics.MaxRetries == 0 {
		c.Statistics.MaxRetries = 5
	}

	if c.Retention.DataRetentionDays == 0 {
		c.Retention.DataRetentionDays = 90
	}
	if c.Retention.AnonymizationDays == 0 {
		c.Retention.AnonymizationDays = 180
	}
	if c.Retention.SweepIntervalMinutes == 0 {
		c.Retention.SweepIntervalMinutes = 60
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate rejects settings the rest of the application cannot work with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q (must be postgres or sqlite)", c.Database.Driver)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database url is required for driver %q", c.Database.Driver)
	}
	if c.Retention.DataRetentionDays < 0 || c.Retention.AnonymizationDays < 0 {
		return fmt.Errorf("retention periods must not be negative")
	}
	if c.Statistics.MaxRetries < 1 {
		return fmt.Errorf("statistics.max_retries must be at least 1")
	}
	for _, proxy := range c.Server.TrustedProxies {
		if net.ParseIP(proxy) == nil {
			if _, _, err := net.ParseCIDR(proxy); err != nil {
				return fmt.Errorf("server.trusted_proxies: %q is not an IP or CIDR", proxy)
			}
		}
	}
	return nil
}

// RetentionAge is the age after which scans are deleted.
func (c *Config) RetentionAge() time.Duration {
	return time.Duration(c.Retention.DataRetentionDays) * 24 * time.Hour
}

// AnonymizationAge is the age after which scans lose their identifying fields.
func (c *Config) AnonymizationAge() time.Duration {
	return time.Duration(c.Retention.AnonymizationDays) * 24 * time.Hour
}

// SweepInterval is the period of the background lifecycle loop.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Retention.SweepIntervalMinutes) * time.Minute
}

// MLServiceTimeout bounds a single remote prediction.
func (c *Config) MLServiceTimeout() time.Duration {
	return time.Duration(c.MLService.TimeoutSeconds) * time.Second
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // timezone validation must not depend on the host zoneinfo

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the pet feeder bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Petlibro PetlibroConfig `yaml:"petlibro"`
	Cache    CacheConfig    `yaml:"cache"`
	Tray     TrayConfig     `yaml:"tray"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	API      APIConfig      `yaml:"api"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// PetlibroConfig holds the vendor account and transport settings.
type PetlibroConfig struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`

	// DeviceID selects a feeder by serial number. When empty, or when the
	// serial is not on the account, the first device returned is used.
	DeviceID string `yaml:"device_id"`

	Timezone string `yaml:"timezone"`
	BaseURL  string `yaml:"base_url"`

	Timeout     time.Duration `yaml:"timeout"`
	FeedTimeout time.Duration `yaml:"feed_timeout"`

	// Portions is the grain count sent for a portion feed on dry feeders.
	Portions int `yaml:"portions"`

	// RateLimit is the sustained vendor request rate (requests per second).
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

// HasCredentials reports whether both email and password are set.
func (p PetlibroConfig) HasCredentials() bool {
	return p.Email != "" && p.Password != ""
}

// CacheConfig holds the time-to-live for each class of cached vendor response.
type CacheConfig struct {
	AuthTTL          time.Duration `yaml:"auth_ttl"`
	DeviceListTTL    time.Duration `yaml:"device_list_ttl"`
	RealInfoTTL      time.Duration `yaml:"real_info_ttl"`
	FeedingStatusTTL time.Duration `yaml:"feeding_status_ttl"`
	ControlActionTTL time.Duration `yaml:"control_action_ttl"`

	// BackgroundRefresh keeps the selected device's snapshot warm.
	BackgroundRefresh bool          `yaml:"background_refresh"`
	RefreshInterval   time.Duration `yaml:"refresh_interval"`

	// CleanupInterval is how often expired entries are swept.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// TrayConfig holds rotating tray settings.
type TrayConfig struct {
	// SettleDelay is the pause between consecutive single-step rotations.
	SettleDelay time.Duration `yaml:"settle_delay"`
}

// BridgeConfig holds MQTT bridge settings.
type BridgeConfig struct {
	Enabled        bool          `yaml:"enabled"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	HealthInterval time.Duration `yaml:"health_interval"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains status HTTP server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`

	// Output is stdout, stderr or file. "file" writes to File.
	Output string `yaml:"output"`
	File   string `yaml:"file"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults); a missing file keeps the defaults
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: PETFEEDER_SECTION_KEY
// For example: PETFEEDER_PETLIBRO_EMAIL, PETFEEDER_MQTT_HOST
//
// Parameters:
//   - path: YAML file to read; it need not exist
//
// Returns:
//   - *Config: merged and validated configuration
//   - error: unreadable or malformed file, bad env value, or failed validation
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// Container deployments configure purely through the environment.
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Petlibro: PetlibroConfig{
			Timezone:    "America/New_York",
			BaseURL:     "https://api.us.petlibro.com",
			Timeout:     10 * time.Second,
			FeedTimeout: 15 * time.Second,
			Portions:    1,
			RateLimit:   5,
			RateBurst:   10,
		},
		Cache: CacheConfig{
			AuthTTL:           50 * time.Minute,
			DeviceListTTL:     30 * time.Minute,
			RealInfoTTL:       2 * time.Minute,
			FeedingStatusTTL:  30 * time.Second,
			ControlActionTTL:  5 * time.Second,
			BackgroundRefresh: true,
			RefreshInterval:   90 * time.Second,
			CleanupInterval:   5 * time.Minute,
		},
		Tray: TrayConfig{
			SettleDelay: time.Second,
		},
		Bridge: BridgeConfig{
			Enabled:        true,
			PollInterval:   60 * time.Second,
			HealthInterval: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Path:        "./data/petfeeder.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-petfeeder",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) error {
	// Petlibro account
	setString(&cfg.Petlibro.Email, "PETFEEDER_PETLIBRO_EMAIL")
	setString(&cfg.Petlibro.Password, "PETFEEDER_PETLIBRO_PASSWORD")
	setString(&cfg.Petlibro.DeviceID, "PETFEEDER_PETLIBRO_DEVICE_ID")
	setString(&cfg.Petlibro.Timezone, "PETFEEDER_PETLIBRO_TIMEZONE")
	setString(&cfg.Petlibro.BaseURL, "PETFEEDER_PETLIBRO_BASE_URL")

	// Database
	setString(&cfg.Database.Path, "PETFEEDER_DATABASE_PATH")

	// MQTT
	setString(&cfg.MQTT.Broker.Host, "PETFEEDER_MQTT_HOST")
	setString(&cfg.MQTT.Auth.Username, "PETFEEDER_MQTT_USERNAME")
	setString(&cfg.MQTT.Auth.Password, "PETFEEDER_MQTT_PASSWORD")

	// API
	setString(&cfg.API.Host, "PETFEEDER_API_HOST")

	// InfluxDB
	setString(&cfg.InfluxDB.Token, "PETFEEDER_INFLUXDB_TOKEN")

	// Logging
	setString(&cfg.Logging.Level, "PETFEEDER_LOG_LEVEL")

	var errs []string
	if v := os.Getenv("PETFEEDER_PETLIBRO_PORTIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, "PETFEEDER_PETLIBRO_PORTIONS must be an integer")
		} else {
			cfg.Petlibro.Portions = n
		}
	}
	if v := os.Getenv("PETFEEDER_MQTT_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, "PETFEEDER_MQTT_PORT must be an integer")
		} else {
			cfg.MQTT.Broker.Port = n
		}
	}
	if v := os.Getenv("PETFEEDER_API_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, "PETFEEDER_API_PORT must be an integer")
		} else {
			cfg.API.Port = n
		}
	}
	if v := os.Getenv("PETFEEDER_PETLIBRO_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, "PETFEEDER_PETLIBRO_TIMEOUT must be a duration (e.g. 10s)")
		} else {
			cfg.Petlibro.Timeout = d
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("environment overrides: %s", strings.Join(errs, "; "))
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate checks the configuration for errors.
//
// Missing vendor credentials are not a validation error: the bridge starts
// without them and authentication is re-attempted on every command.
func (c *Config) Validate() error {
	var errs []string

	// Petlibro validation
	if c.Petlibro.BaseURL == "" {
		errs = append(errs, "petlibro.base_url is required")
	} else if u, err := url.Parse(c.Petlibro.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, "petlibro.base_url must be an absolute URL")
	}
	if c.Petlibro.Timezone != "" {
		if _, err := time.LoadLocation(c.Petlibro.Timezone); err != nil {
			errs = append(errs, fmt.Sprintf("petlibro.timezone %q is not a known time zone", c.Petlibro.Timezone))
		}
	}
	if c.Petlibro.Timeout <= 0 {
		errs = append(errs, "petlibro.timeout must be positive")
	}
	if c.Petlibro.FeedTimeout < c.Petlibro.Timeout {
		errs = append(errs, "petlibro.feed_timeout must not be shorter than petlibro.timeout")
	}
	if c.Petlibro.Portions < 1 {
		errs = append(errs, "petlibro.portions must be at least 1")
	}
	if c.Petlibro.RateLimit <= 0 || c.Petlibro.RateBurst < 1 {
		errs = append(errs, "petlibro.rate_limit and petlibro.rate_burst must be positive")
	}

	// Cache validation
	if c.Cache.AuthTTL <= 0 || c.Cache.DeviceListTTL <= 0 || c.Cache.RealInfoTTL <= 0 ||
		c.Cache.FeedingStatusTTL <= 0 || c.Cache.ControlActionTTL <= 0 {
		errs = append(errs, "cache TTLs must all be positive")
	}
	if c.Cache.BackgroundRefresh && c.Cache.RefreshInterval <= 0 {
		errs = append(errs, "cache.refresh_interval must be positive when background_refresh is on")
	}

	// Tray validation
	if c.Tray.SettleDelay < 0 {
		errs = append(errs, "tray.settle_delay must not be negative")
	}

	// Bridge validation
	if c.Bridge.Enabled && (c.Bridge.PollInterval <= 0 || c.Bridge.HealthInterval <= 0) {
		errs = append(errs, "bridge.poll_interval and bridge.health_interval must be positive")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	// Logging validation
	if strings.EqualFold(c.Logging.Output, "file") && c.Logging.File == "" {
		errs = append(errs, "logging.file is required when logging.output is file")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// minLongCycle is the smallest permitted full-sync interval in seconds.
// It matches the scheduler's full-sync floor; a shorter interval would
// have every long tick skipped.
const minLongCycle = 5

// Config is the root configuration structure for the Gray Logic shade bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site     SiteConfig     `yaml:"site"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Sync     SyncConfig     `yaml:"sync"`
	Bridge   BridgeConfig   `yaml:"bridge"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
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

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
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
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// GatewayConfig contains shade gateway connection settings.
type GatewayConfig struct {
	// Addresses is the ordered list of gateway candidates. The first
	// reachable gateway claiming the primary role wins elections.
	// Entries may be IPs, host:port pairs, or .local mDNS names.
	// At least one address is required.
	Addresses []string `yaml:"addresses"`

	// Generation selects the gateway API dialect: "push" for gateways
	// with an event stream, "poll" for older poll-only gateways.
	// Default: "push"
	Generation string `yaml:"generation"`

	// ProbeTimeout is the per-candidate probe timeout in seconds used
	// during gateway elections.
	// Default: 5
	ProbeTimeout int `yaml:"probe_timeout"`

	// RequestTimeout is the timeout in seconds for ordinary REST calls
	// (snapshots, commands).
	// Default: 15
	RequestTimeout int `yaml:"request_timeout"`

	// MDNS configures multicast DNS resolution for .local addresses.
	MDNS MDNSConfig `yaml:"mdns"`
}

// MDNSConfig contains multicast DNS resolution settings.
type MDNSConfig struct {
	// Enabled turns on resolution of .local gateway names.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Timeout is the per-query resolution timeout in seconds.
	// Default: 4
	Timeout int `yaml:"timeout"`
}

// SyncConfig contains synchronisation loop settings.
type SyncConfig struct {
	// LongCycle is the full synchronisation interval in seconds.
	// Default: 60
	LongCycle int `yaml:"long_cycle"`

	// ShortCycle is the event drain interval in seconds. It also bounds
	// the event stream's reconnect backoff.
	// Default: 3
	ShortCycle int `yaml:"short_cycle"`

	// Heartbeat is the event stream silence threshold in seconds. When
	// no stream traffic (including keep-alives) arrives for this long,
	// the stream is reconnected.
	// Default: 1500 (25 minutes)
	Heartbeat int `yaml:"heartbeat"`

	// RediscoverCron optionally schedules periodic full rediscovery
	// using a standard 5-field cron expression (e.g. "0 3 * * *").
	// Empty disables scheduled rediscovery.
	RediscoverCron string `yaml:"rediscover_cron"`
}

// BridgeConfig contains bridge identity and health reporting settings.
type BridgeConfig struct {
	// ID identifies this bridge in MQTT topics and health messages.
	// Default: "shades"
	ID string `yaml:"id"`

	// HealthInterval is how often health status is published, in seconds.
	// Default: 30
	HealthInterval int `yaml:"health_interval"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
// For example: GRAYLOGIC_DATABASE_PATH, GRAYLOGIC_GATEWAY_ADDRESSES
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Derive the broker identity from the site when not set explicitly:
	// each site's bridge needs a distinct client id (it is also the LWT
	// client_id on graylogic/system/status).
	if cfg.MQTT.Broker.ClientID == "" {
		cfg.MQTT.Broker.ClientID = "graylogic-shades-" + cfg.Site.ID
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "site-001",
			Name:     "Gray Logic",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Path:        "./data/graylogic-shades.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 1883,
				// ClientID is derived from site.id in Load when unset.
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Gateway: GatewayConfig{
			Generation:     "push",
			ProbeTimeout:   5,
			RequestTimeout: 15,
			MDNS: MDNSConfig{
				Enabled: true,
				Timeout: 4,
			},
		},
		Sync: SyncConfig{
			LongCycle:  60,
			ShortCycle: 3,
			Heartbeat:  1500,
		},
		Bridge: BridgeConfig{
			ID:             "shades",
			HealthInterval: 30,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("GRAYLOGIC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("GRAYLOGIC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("GRAYLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Gateway (comma-separated candidate list)
	if v := os.Getenv("GRAYLOGIC_GATEWAY_ADDRESSES"); v != "" {
		var addrs []string
		for _, a := range strings.Split(v, ",") {
			if a = strings.TrimSpace(a); a != "" {
				addrs = append(addrs, a)
			}
		}
		cfg.Gateway.Addresses = addrs
	}
	if v := os.Getenv("GRAYLOGIC_GATEWAY_GENERATION"); v != "" {
		cfg.Gateway.Generation = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Site validation
	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}

	// Gateway validation. An empty candidate list is a configuration
	// fault: there is nothing to elect and nothing to sync from.
	if len(c.Gateway.Addresses) == 0 {
		errs = append(errs, "gateway.addresses must list at least one gateway")
	}
	for i, addr := range c.Gateway.Addresses {
		if strings.TrimSpace(addr) == "" {
			errs = append(errs, fmt.Sprintf("gateway.addresses[%d] is empty", i))
		}
	}
	switch c.Gateway.Generation {
	case "push", "poll":
	default:
		errs = append(errs, "gateway.generation must be \"push\" or \"poll\"")
	}
	if c.Gateway.ProbeTimeout <= 0 {
		errs = append(errs, "gateway.probe_timeout must be positive")
	}
	if c.Gateway.RequestTimeout <= 0 {
		errs = append(errs, "gateway.request_timeout must be positive")
	}

	// Sync validation
	if c.Sync.LongCycle <= 0 {
		errs = append(errs, "sync.long_cycle must be positive")
	} else if c.Sync.LongCycle < minLongCycle {
		errs = append(errs, fmt.Sprintf("sync.long_cycle must be at least %d seconds (the full-sync floor)", minLongCycle))
	}
	if c.Sync.ShortCycle <= 0 {
		errs = append(errs, "sync.short_cycle must be positive")
	}
	if c.Sync.ShortCycle >= c.Sync.LongCycle {
		errs = append(errs, "sync.short_cycle must be shorter than sync.long_cycle")
	}
	if c.Sync.Heartbeat <= 0 {
		errs = append(errs, "sync.heartbeat must be positive")
	}
	if c.Sync.RediscoverCron != "" {
		if _, err := cron.ParseStandard(c.Sync.RediscoverCron); err != nil {
			errs = append(errs, fmt.Sprintf("sync.rediscover_cron is not a valid cron expression: %v", err))
		}
	}

	// Bridge validation
	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}
	if c.Bridge.HealthInterval <= 0 {
		errs = append(errs, "bridge.health_interval must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetProbeTimeout returns the gateway probe timeout as a Duration.
func (c *Config) GetProbeTimeout() time.Duration {
	return time.Duration(c.Gateway.ProbeTimeout) * time.Second
}

// GetRequestTimeout returns the gateway request timeout as a Duration.
func (c *Config) GetRequestTimeout() time.Duration {
	return time.Duration(c.Gateway.RequestTimeout) * time.Second
}

// GetMDNSTimeout returns the mDNS resolution timeout as a Duration.
func (c *Config) GetMDNSTimeout() time.Duration {
	return time.Duration(c.Gateway.MDNS.Timeout) * time.Second
}

// GetLongCycle returns the full sync interval as a Duration.
func (c *Config) GetLongCycle() time.Duration {
	return time.Duration(c.Sync.LongCycle) * time.Second
}

// GetShortCycle returns the event drain interval as a Duration.
func (c *Config) GetShortCycle() time.Duration {
	return time.Duration(c.Sync.ShortCycle) * time.Second
}

// GetHeartbeat returns the stream silence threshold as a Duration.
func (c *Config) GetHeartbeat() time.Duration {
	return time.Duration(c.Sync.Heartbeat) * time.Second
}

// GetHealthInterval returns the health reporting interval as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Bridge.HealthInterval) * time.Second
}

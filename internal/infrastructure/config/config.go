package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Terrarium Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Serial    SerialConfig    `yaml:"serial"`
	Poller    PollerConfig    `yaml:"poller"`
	Control   ControlConfig   `yaml:"control"`
	Pump      PumpConfig      `yaml:"pump"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// SiteConfig identifies the terrarium. ID is used in MQTT topics and as the
// InfluxDB site tag.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// SerialConfig contains the microcontroller link settings.
type SerialConfig struct {
	// Port is the serial device path, e.g. /dev/ttyACM0.
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`

	// BootDelay is waited after opening the port because the
	// microcontroller resets when the port is opened.
	// Default: 2s
	BootDelay time.Duration `yaml:"boot_delay"`

	// CommandSettle is the pause between writing an actuator command and
	// reading its acknowledgment.
	// Default: 100ms
	CommandSettle time.Duration `yaml:"command_settle"`

	// ReadSettle is the pause between writing READ and reading the frame.
	// Default: 500ms
	ReadSettle time.Duration `yaml:"read_settle"`

	// Timeout is the read window for a single reply line.
	// Default: 1s
	Timeout time.Duration `yaml:"timeout"`

	// MaxLineLength bounds a single reply line in bytes.
	// Default: 4096
	MaxLineLength int `yaml:"max_line_length"`
}

// PollerConfig contains sensor polling settings.
type PollerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Interval    time.Duration `yaml:"interval"`
	SinkTimeout time.Duration `yaml:"sink_timeout"`
}

// ControlConfig holds the startup auto-control targets. Values persisted in
// the database take precedence once the first change has been saved.
type ControlConfig struct {
	Enabled        bool    `yaml:"enabled"`
	TargetLight    int     `yaml:"target_light"`
	TargetTemp     float64 `yaml:"target_temp"`
	TargetHumid    float64 `yaml:"target_humid"`
	TempTolerance  float64 `yaml:"temp_tolerance"`
	HumidTolerance float64 `yaml:"humid_tolerance"`
}

// PumpConfig contains watering pump settings.
type PumpConfig struct {
	// PulseDuration is the default run time for a triggered pump pulse.
	PulseDuration time.Duration `yaml:"pulse_duration"`

	// MaxDuration caps any single timed pump run.
	MaxDuration time.Duration `yaml:"max_duration"`

	// Supersede makes a new timed run cancel the pending shut-off of the
	// previous one. When false, every run keeps its own timer and the
	// earliest one switches the pump off.
	Supersede bool `yaml:"supersede"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path          string `yaml:"path"`
	WALMode       bool   `yaml:"wal_mode"`
	BusyTimeout   int    `yaml:"busy_timeout"`
	RetentionDays int    `yaml:"retention_days"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
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

// MQTTReconnectConfig contains MQTT reconnection settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
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

// FileLoggingConfig is used when Output is "file".
type FileLoggingConfig struct {
	Path string `yaml:"path"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings. An empty Secret disables API
// authentication, which suits a terrarium on a private network.
type JWTConfig struct {
	Secret string `yaml:"secret"`
	// AccessTokenTTL is the lifetime of tokens minted by -issue-token, in minutes.
	AccessTokenTTL int `yaml:"access_token_ttl"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: TERRARIUM_SECTION_KEY
// For example: TERRARIUM_SERIAL_PORT, TERRARIUM_API_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration with environment overrides
// applied. It is used when no config file exists.
func Default() (*Config, error) {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "terrarium-01",
			Name:     "Terrarium",
			Timezone: "UTC",
		},
		Serial: SerialConfig{
			Port:          "/dev/ttyACM0",
			BaudRate:      9600,
			BootDelay:     2 * time.Second,
			CommandSettle: 100 * time.Millisecond,
			ReadSettle:    500 * time.Millisecond,
			Timeout:       time.Second,
			MaxLineLength: 4096,
		},
		Poller: PollerConfig{
			Enabled:     true,
			Interval:    180 * time.Second,
			SinkTimeout: 10 * time.Second,
		},
		Control: ControlConfig{
			Enabled:        false,
			TargetLight:    500,
			TargetTemp:     25.0,
			TargetHumid:    60.0,
			TempTolerance:  2.0,
			HumidTolerance: 10.0,
		},
		Pump: PumpConfig{
			PulseDuration: 3 * time.Second,
			MaxDuration:   60 * time.Second,
			Supersede:     true,
		},
		Database: DatabaseConfig{
			Path:          "./data/terrarium.db",
			WALMode:       true,
			BusyTimeout:   5,
			RetentionDays: 90,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "terrarium-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 5000,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			CORS: CORSConfig{
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			Org:           "terrarium",
			Bucket:        "terrarium",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 60 * 24 * 30,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: TERRARIUM_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Serial
	if v := os.Getenv("TERRARIUM_SERIAL_PORT"); v != "" {
		cfg.Serial.Port = v
	}
	if v := os.Getenv("TERRARIUM_SERIAL_BAUD_RATE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Serial.BaudRate = n
		}
	}

	// Control
	if v := os.Getenv("TERRARIUM_CONTROL_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Control.Enabled = b
		}
	}

	// Database
	if v := os.Getenv("TERRARIUM_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("TERRARIUM_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("TERRARIUM_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("TERRARIUM_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("TERRARIUM_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("TERRARIUM_API_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = n
		}
	}

	// InfluxDB
	if v := os.Getenv("TERRARIUM_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security
	if v := os.Getenv("TERRARIUM_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	// Serial link
	if c.Serial.Port == "" {
		errs = append(errs, "serial.port is required")
	}
	if c.Serial.BaudRate <= 0 {
		errs = append(errs, "serial.baud_rate must be positive")
	}
	if c.Serial.Timeout <= 0 {
		errs = append(errs, "serial.timeout must be positive")
	}
	if c.Serial.BootDelay < 0 || c.Serial.CommandSettle < 0 || c.Serial.ReadSettle < 0 {
		errs = append(errs, "serial delays must not be negative")
	}
	if c.Serial.MaxLineLength < 64 {
		errs = append(errs, "serial.max_line_length must be at least 64")
	}

	// Poller
	if c.Poller.Interval < time.Second {
		errs = append(errs, "poller.interval must be at least 1s")
	}
	if c.Poller.SinkTimeout <= 0 {
		errs = append(errs, "poller.sink_timeout must be positive")
	}

	// Control targets
	if c.Control.TargetLight < 0 || c.Control.TargetLight > 1023 {
		errs = append(errs, "control.target_light must be between 0 and 1023")
	}
	if c.Control.TargetTemp < -20 || c.Control.TargetTemp > 60 {
		errs = append(errs, "control.target_temp must be between -20 and 60")
	}
	if c.Control.TargetHumid < 0 || c.Control.TargetHumid > 100 {
		errs = append(errs, "control.target_humid must be between 0 and 100")
	}
	if !validTolerance(c.Control.TempTolerance) || !validTolerance(c.Control.HumidTolerance) {
		errs = append(errs, "control tolerances must be finite and not negative")
	}

	// Pump
	if c.Pump.MaxDuration <= 0 {
		errs = append(errs, "pump.max_duration must be positive")
	}
	if c.Pump.PulseDuration <= 0 || c.Pump.PulseDuration > c.Pump.MaxDuration {
		errs = append(errs, "pump.pulse_duration must be positive and not exceed pump.max_duration")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.Database.RetentionDays < 0 {
		errs = append(errs, "database.retention_days must not be negative")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if strings.EqualFold(c.Logging.Output, "file") && c.Logging.File.Path == "" {
		errs = append(errs, "logging.file.path is required when logging.output is file")
	}

	// A secret is optional, but a short one is worse than none because it
	// gives a false sense of protection.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret != "" && len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func validTolerance(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
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

// CommandTimeout bounds one actuator exchange: settle delay plus the reply
// window with a margin for the exchange lock.
func (c *Config) CommandTimeout() time.Duration {
	return c.Serial.CommandSettle + c.Serial.Timeout + 2*time.Second
}

// ReadTimeout bounds one sensor READ exchange.
func (c *Config) ReadTimeout() time.Duration {
	return c.Serial.ReadSettle + c.Serial.Timeout + 2*time.Second
}

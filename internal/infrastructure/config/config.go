package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable override.
const EnvPrefix = "SNAPDOG_"

// Config is the root configuration structure for SnapDog Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	System    SystemConfig    `yaml:"system"    envPrefix:"SYSTEM_"`
	Database  DatabaseConfig  `yaml:"database"  envPrefix:"DATABASE_"`
	MQTT      MQTTConfig      `yaml:"mqtt"      envPrefix:"MQTT_"`
	API       APIConfig       `yaml:"api"       envPrefix:"API_"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"  envPrefix:"INFLUXDB_"`
	Logging   LoggingConfig   `yaml:"logging"   envPrefix:"LOG_"`
	Telemetry TelemetryConfig `yaml:"telemetry" envPrefix:"TELEMETRY_"`
	Discovery DiscoveryConfig `yaml:"discovery" envPrefix:"DISCOVERY_"`
	KNX       KNXConfig       `yaml:"knx"       envPrefix:"KNX_"`
	Snapcast  SnapcastConfig  `yaml:"snapcast"  envPrefix:"SNAPCAST_"`
	Pipeline  PipelineConfig  `yaml:"pipeline"  envPrefix:"PIPELINE_"`
	Catalog   CatalogConfig   `yaml:"catalog"   envPrefix:"CATALOG_"`
	Zones     []ZoneConfig    `yaml:"zones"`
	Clients   []ClientConfig  `yaml:"clients"`
}

// SystemConfig identifies this SnapDog instance.
type SystemConfig struct {
	Name string `yaml:"name" env:"NAME"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"         env:"PATH"`
	WALMode     bool   `yaml:"wal_mode"     env:"WAL_MODE"`
	BusyTimeout int    `yaml:"busy_timeout" env:"BUSY_TIMEOUT"`

	// Journal enables the command journal.
	Journal bool `yaml:"journal" env:"JOURNAL"`
	// JournalRetentionDays prunes older journal entries at startup. 0 keeps everything.
	JournalRetentionDays int `yaml:"journal_retention_days" env:"JOURNAL_RETENTION_DAYS"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"    env:"ENABLED"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"        env:"QOS"`
	BaseTopic string              `yaml:"base_topic" env:"BASE_TOPIC"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"      env:"HOST"`
	Port     int    `yaml:"port"      env:"PORT"`
	TLS      bool   `yaml:"tls"       env:"TLS"`
	ClientID string `yaml:"client_id" env:"CLIENT_ID"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username" env:"USERNAME"`
	Password string `yaml:"password" env:"PASSWORD"`
}

// MQTTReconnectConfig contains MQTT reconnection settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled   bool             `yaml:"enabled"    env:"ENABLED"`
	Host      string           `yaml:"host"       env:"HOST"`
	Port      int              `yaml:"port"       env:"PORT"`
	Timeouts  APITimeoutConfig `yaml:"timeouts"`
	CORS      CORSConfig       `yaml:"cors"`
	WebSocket WebSocketConfig  `yaml:"websocket"`
	Auth      AuthConfig       `yaml:"auth"       envPrefix:"AUTH_"`
	RateLimit RateLimitConfig  `yaml:"rate_limit" envPrefix:"RATE_LIMIT_"`
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
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// AuthConfig protects mutating API routes with bearer tokens.
type AuthConfig struct {
	Enabled   bool   `yaml:"enabled"    env:"ENABLED"`
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
	Issuer    string `yaml:"issuer"     env:"ISSUER"`

	// TokenTTL is the lifetime in hours of tokens issued by /auth/login.
	TokenTTL int `yaml:"token_ttl" env:"TOKEN_TTL"`

	// Users may log in with a password to obtain a token. Hashes come
	// from `snapdog -hash-password`.
	Users []UserConfig `yaml:"users"`
}

// UserConfig is one login account.
type UserConfig struct {
	Name         string `yaml:"name"`
	PasswordHash string `yaml:"password_hash"`
	Role         string `yaml:"role"`
}

// RateLimitConfig limits API requests per client address.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"             env:"ENABLED"`
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"RPS"`
	Burst             int     `yaml:"burst"               env:"BURST"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"        env:"ENABLED"`
	URL           string `yaml:"url"            env:"URL"`
	Token         string `yaml:"token"          env:"TOKEN"`
	Org           string `yaml:"org"            env:"ORG"`
	Bucket        string `yaml:"bucket"         env:"BUCKET"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"  env:"LEVEL"`
	Format string            `yaml:"format" env:"FORMAT"`
	Output string            `yaml:"output" env:"OUTPUT"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
type FileLoggingConfig struct {
	Path       string `yaml:"path" env:"FILE_PATH"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// TelemetryConfig contains OpenTelemetry tracing settings.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"      env:"ENABLED"`
	Endpoint    string  `yaml:"endpoint"     env:"ENDPOINT"`
	Insecure    bool    `yaml:"insecure"     env:"INSECURE"`
	SampleRatio float64 `yaml:"sample_ratio" env:"SAMPLE_RATIO"`
}

// DiscoveryConfig contains mDNS advertisement settings.
type DiscoveryConfig struct {
	Enabled  bool   `yaml:"enabled"  env:"ENABLED"`
	Instance string `yaml:"instance" env:"INSTANCE"`
	Service  string `yaml:"service"`
	Domain   string `yaml:"domain"`
}

// KNXConfig contains the knxd connection used by the KNX bridge.
type KNXConfig struct {
	Enabled  bool   `yaml:"enabled"   env:"ENABLED"`
	KNXDHost string `yaml:"knxd_host" env:"KNXD_HOST"`
	KNXDPort int    `yaml:"knxd_port" env:"KNXD_PORT"`
	// ConnectTimeout and ReconnectInterval are in seconds.
	ConnectTimeout    int `yaml:"connect_timeout"`
	ReconnectInterval int `yaml:"reconnect_interval"`
}

// SnapcastConfig contains the Snapcast JSON-RPC connection.
type SnapcastConfig struct {
	Address string `yaml:"address" env:"ADDRESS"`
	// Timeouts are in seconds.
	ConnectTimeout    int `yaml:"connect_timeout"`
	ReconnectInterval int `yaml:"reconnect_interval"`
	CallTimeout       int `yaml:"call_timeout"`
}

// PipelineConfig contains the command/query pipeline tunables.
type PipelineConfig struct {
	Cache bool `yaml:"cache" env:"CACHE"`
	// Thresholds are in milliseconds, transaction timeouts in seconds.
	SlowCommandMs int `yaml:"slow_command_ms"`
	SlowQueryMs   int `yaml:"slow_query_ms"`
	TxTimeout     int `yaml:"tx_timeout"`
	BulkTxTimeout int `yaml:"bulk_tx_timeout"`
}

// CatalogConfig contains the media catalog seed settings.
type CatalogConfig struct {
	SeedFile string `yaml:"seed_file" env:"SEED_FILE"`
	Watch    bool   `yaml:"watch"     env:"WATCH"`
}

// ZoneConfig declares one zone.
type ZoneConfig struct {
	Index    int                `yaml:"index"`
	Name     string             `yaml:"name"`
	Volume   int                `yaml:"volume"`
	Snapcast ZoneSnapcast       `yaml:"snapcast"`
	KNX      KNXAddressesConfig `yaml:"knx"`
}

// ZoneSnapcast binds a zone to its Snapcast group and stream.
type ZoneSnapcast struct {
	Group  string `yaml:"group"`
	Stream string `yaml:"stream"`
}

// ClientConfig declares one Snapcast client.
type ClientConfig struct {
	Index      int                `yaml:"index"`
	Name       string             `yaml:"name"`
	SnapcastID string             `yaml:"snapcast_id"`
	Zone       int                `yaml:"zone"`
	KNX        KNXAddressesConfig `yaml:"knx"`
}

// KNXAddressesConfig maps feature ids to group addresses ("main/middle/sub").
type KNXAddressesConfig struct {
	Commands map[string]string `yaml:"commands"`
	Status   map[string]string `yaml:"status"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern SNAPDOG_SECTION_KEY, for example
// SNAPDOG_DATABASE_PATH or SNAPDOG_API_AUTH_JWT_SECRET.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		System: SystemConfig{
			Name: "SnapDog",
		},
		Database: DatabaseConfig{
			Path:        "./data/snapdog.db",
			WALMode:     true,
			BusyTimeout: 5,
			Journal:     true,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "snapdog-core",
			},
			QoS:       1,
			BaseTopic: "snapdog",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    5555,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			WebSocket: WebSocketConfig{
				Path:           "/ws",
				MaxMessageSize: 8192,
				PingInterval:   30,
				PongTimeout:    10,
			},
			Auth: AuthConfig{
				Issuer:   "snapdog",
				TokenTTL: 12,
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerSecond: 20,
				Burst:             40,
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
			File: FileLoggingConfig{
				MaxSize:    50,
				MaxBackups: 5,
				MaxAge:     28,
			},
		},
		Telemetry: TelemetryConfig{
			SampleRatio: 1,
		},
		Discovery: DiscoveryConfig{
			Enabled: true,
			Service: "_snapdog._tcp",
			Domain:  "local.",
		},
		KNX: KNXConfig{
			KNXDHost:          "localhost",
			KNXDPort:          6720,
			ConnectTimeout:    10,
			ReconnectInterval: 5,
		},
		Snapcast: SnapcastConfig{
			Address:           "localhost:1705",
			ConnectTimeout:    10,
			ReconnectInterval: 5,
			CallTimeout:       5,
		},
		Pipeline: PipelineConfig{
			Cache:         true,
			SlowCommandMs: 500,
			SlowQueryMs:   100,
			TxTimeout:     30,
			BulkTxTimeout: 300,
		},
	}
}

// applyEnvOverrides applies SNAPDOG_* environment variables on top of cfg.
// Unset variables leave the current values untouched.
func applyEnvOverrides(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parsing environment: %w", err)
	}
	return nil
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.BaseTopic == "" {
		errs = append(errs, "mqtt.base_topic is required when mqtt is enabled")
	}

	if c.API.Enabled {
		if c.API.Port < 1 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 1 and 65535")
		}
		// Forged tokens would let anyone drive every zone, so a weak secret is rejected.
		const minJWTSecretLength = 32
		if c.API.Auth.Enabled {
			if c.API.Auth.JWTSecret == "" {
				errs = append(errs, "api.auth.jwt_secret is required (set SNAPDOG_API_AUTH_JWT_SECRET)")
			} else if len(c.API.Auth.JWTSecret) < minJWTSecretLength {
				errs = append(errs, "api.auth.jwt_secret must be at least 32 characters")
			}
			errs = append(errs, c.validateUsers()...)
		}
		if c.API.RateLimit.Enabled && (c.API.RateLimit.RequestsPerSecond <= 0 || c.API.RateLimit.Burst < 1) {
			errs = append(errs, "api.rate_limit requires requests_per_second > 0 and burst >= 1")
		}
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		errs = append(errs, "telemetry.sample_ratio must be between 0 and 1")
	}

	if c.Snapcast.Address == "" {
		errs = append(errs, "snapcast.address is required")
	}

	if c.KNX.Enabled && (c.KNX.KNXDPort < 1 || c.KNX.KNXDPort > 65535) {
		errs = append(errs, "knx.knxd_port must be between 1 and 65535")
	}

	errs = append(errs, c.validateZones()...)
	errs = append(errs, c.validateClients()...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (c *Config) validateZones() []string {
	var errs []string
	if len(c.Zones) == 0 {
		errs = append(errs, "at least one zone is required")
	}
	seen := make(map[int]bool, len(c.Zones))
	for i, z := range c.Zones {
		switch {
		case z.Index < 1:
			errs = append(errs, fmt.Sprintf("zones[%d].index must be >= 1", i))
		case seen[z.Index]:
			errs = append(errs, fmt.Sprintf("zones[%d].index %d is duplicated", i, z.Index))
		}
		seen[z.Index] = true
		if z.Name == "" {
			errs = append(errs, fmt.Sprintf("zones[%d].name is required", i))
		}
		if z.Volume < 0 || z.Volume > 100 {
			errs = append(errs, fmt.Sprintf("zones[%d].volume must be between 0 and 100", i))
		}
		if z.Snapcast.Stream == "" {
			errs = append(errs, fmt.Sprintf("zones[%d].snapcast.stream is required", i))
		}
	}
	return errs
}

// validateUsers checks login accounts. Roles mirror auth.ValidRoles.
func (c *Config) validateUsers() []string {
	var errs []string
	seen := make(map[string]bool, len(c.API.Auth.Users))
	for i, u := range c.API.Auth.Users {
		switch {
		case u.Name == "":
			errs = append(errs, fmt.Sprintf("api.auth.users[%d].name is required", i))
		case seen[u.Name]:
			errs = append(errs, fmt.Sprintf("api.auth.users[%d].name %q is duplicated", i, u.Name))
		}
		seen[u.Name] = true
		if !strings.HasPrefix(u.PasswordHash, "$argon2id$") {
			errs = append(errs, fmt.Sprintf("api.auth.users[%d].password_hash must be an argon2id hash", i))
		}
		switch u.Role {
		case "viewer", "controller", "admin":
		default:
			errs = append(errs, fmt.Sprintf("api.auth.users[%d].role %q is not viewer, controller or admin", i, u.Role))
		}
	}
	return errs
}

func (c *Config) validateClients() []string {
	var errs []string
	zones := make(map[int]bool, len(c.Zones))
	for _, z := range c.Zones {
		zones[z.Index] = true
	}
	seen := make(map[int]bool, len(c.Clients))
	for i, cl := range c.Clients {
		switch {
		case cl.Index < 1:
			errs = append(errs, fmt.Sprintf("clients[%d].index must be >= 1", i))
		case seen[cl.Index]:
			errs = append(errs, fmt.Sprintf("clients[%d].index %d is duplicated", i, cl.Index))
		}
		seen[cl.Index] = true
		if cl.SnapcastID == "" {
			errs = append(errs, fmt.Sprintf("clients[%d].snapcast_id is required", i))
		}
		if cl.Zone != 0 && !zones[cl.Zone] {
			errs = append(errs, fmt.Sprintf("clients[%d].zone %d does not exist", i, cl.Zone))
		}
	}
	return errs
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

// Seconds converts a seconds setting to a Duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Hours converts an hours setting to a Duration.
func Hours(n int) time.Duration {
	return time.Duration(n) * time.Hour
}

// Millis converts a milliseconds setting to a Duration.
func Millis(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Auth      AuthConfig      `mapstructure:"auth"`
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Scan      ScanConfig      `mapstructure:"scan"`
	Trust     TrustConfig     `mapstructure:"trust"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	Version     string `mapstructure:"version"`
	Debug       bool   `mapstructure:"debug"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	HTTPPort        int           `mapstructure:"http_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig selects the storage backend. Driver "postgres" uses the
// connection fields; driver "sqlite" uses only Path.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// IsSQLite reports whether the embedded store is selected
func (c DatabaseConfig) IsSQLite() bool {
	return c.Driver == "sqlite"
}

type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type NATSConfig struct {
	Enabled    bool               `mapstructure:"enabled"`
	URL        string             `mapstructure:"url"`
	StreamName string             `mapstructure:"stream_name"`
	Subjects   NATSSubjectsConfig `mapstructure:"subjects"`
}

type NATSSubjectsConfig struct {
	IncidentCreated string `mapstructure:"incident_created"`
	IncidentUpdated string `mapstructure:"incident_updated"`
	VerdictChanged  string `mapstructure:"verdict_changed"`
}

type AuthConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	APIKeys []string `mapstructure:"api_keys"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
}

type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	TimeFormat string `mapstructure:"time_format"`
}

// ScanConfig tunes the scan orchestrator
type ScanConfig struct {
	MaxParallel    int           `mapstructure:"max_parallel"`
	LockTTL        time.Duration `mapstructure:"lock_ttl"`
	VerdictCacheTTL time.Duration `mapstructure:"verdict_cache_ttl"`
}

// TrustConfig points to the certificate whitelist file
type TrustConfig struct {
	WhitelistPath string `mapstructure:"whitelist_path"`
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/appsentry")
	}

	v.SetEnvPrefix("APPSENTRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bind nested env vars explicitly (viper doesn't auto-bind nested struct fields)
	v.BindEnv("redis.enabled", "APPSENTRY_REDIS_ENABLED")
	v.BindEnv("redis.host", "APPSENTRY_REDIS_HOST")
	v.BindEnv("redis.port", "APPSENTRY_REDIS_PORT")
	v.BindEnv("redis.password", "APPSENTRY_REDIS_PASSWORD")
	v.BindEnv("database.driver", "APPSENTRY_DATABASE_DRIVER")
	v.BindEnv("database.path", "APPSENTRY_DATABASE_PATH")
	v.BindEnv("database.host", "APPSENTRY_DATABASE_HOST")
	v.BindEnv("database.port", "APPSENTRY_DATABASE_PORT")
	v.BindEnv("database.user", "APPSENTRY_DATABASE_USER")
	v.BindEnv("database.password", "APPSENTRY_DATABASE_PASSWORD")
	v.BindEnv("database.dbname", "APPSENTRY_DATABASE_DBNAME")
	v.BindEnv("database.sslmode", "APPSENTRY_DATABASE_SSLMODE")
	v.BindEnv("nats.enabled", "APPSENTRY_NATS_ENABLED")
	v.BindEnv("nats.url", "APPSENTRY_NATS_URL")
	v.BindEnv("app.environment", "APPSENTRY_APP_ENVIRONMENT")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Running from env alone is supported; only a malformed file is fatal
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadDefault loads configuration with default path
func LoadDefault() (*Config, error) {
	return Load("")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "appsentry")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.version", "dev")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "appsentry.db")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	v.SetDefault("redis.key_prefix", "appsentry:")
	v.SetDefault("redis.port", 6379)

	v.SetDefault("nats.stream_name", "APPSENTRY")
	v.SetDefault("nats.subjects.incident_created", "appsentry.incidents.created")
	v.SetDefault("nats.subjects.incident_updated", "appsentry.incidents.updated")
	v.SetDefault("nats.subjects.verdict_changed", "appsentry.verdicts.changed")

	v.SetDefault("ratelimit.requests_per_minute", 120)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")

	v.SetDefault("scan.max_parallel", 8)
	v.SetDefault("scan.lock_ttl", 30*time.Second)
	v.SetDefault("scan.verdict_cache_ttl", 10*time.Minute)
}

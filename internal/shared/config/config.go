package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Environment string            `mapstructure:"environment"`
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Entitlement EntitlementConfig `mapstructure:"entitlement"`
	Billing     BillingConfig     `mapstructure:"billing"`
	Log         LogConfig         `mapstructure:"log"`
}

// IsDevelopment returns true if the service runs in a development environment.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address          string        `mapstructure:"address"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
	CORSAllowOrigins []string      `mapstructure:"cors_allow_origins"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// DSN returns the database connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	JWTSecret         string        `mapstructure:"jwt_secret"`
	Issuer            string        `mapstructure:"issuer"`
	AccessTokenExpiry time.Duration `mapstructure:"access_token_expiry"`
}

// EntitlementConfig holds entitlement engine configuration.
type EntitlementConfig struct {
	SubscriptionTTL    time.Duration `mapstructure:"subscription_ttl"`
	UsageTTL           time.Duration `mapstructure:"usage_ttl"`
	TrackerBufferSize  int           `mapstructure:"tracker_buffer_size"`
	DevFallback        bool          `mapstructure:"dev_fallback"`
	BreakerMaxFailures uint32        `mapstructure:"breaker_max_failures"`
	BreakerTimeout     time.Duration `mapstructure:"breaker_timeout"`
	BreakerMaxHalfOpen uint32        `mapstructure:"breaker_max_half_open"`
	RemoteFetchTimeout time.Duration `mapstructure:"remote_fetch_timeout"`
}

// BillingConfig holds billing-sync configuration.
type BillingConfig struct {
	StripeWebhookSecret string `mapstructure:"stripe_webhook_secret"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Set config file name and paths
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/framecraft")

	// Set defaults
	setDefaults(v)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults and env
	}

	// Read from environment variables
	v.SetEnvPrefix("FRAMECRAFT")
	v.AutomaticEnv()

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override with environment variables for sensitive values
	if secret := os.Getenv("FRAMECRAFT_JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if password := os.Getenv("FRAMECRAFT_DB_PASSWORD"); password != "" {
		cfg.Database.Password = password
	}
	if password := os.Getenv("FRAMECRAFT_REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}
	if secret := os.Getenv("FRAMECRAFT_STRIPE_WEBHOOK_SECRET"); secret != "" {
		cfg.Billing.StripeWebhookSecret = secret
	}

	// The dev fallback hands out synthetic subscriptions on backend failure.
	// Refuse it outside explicit development environments.
	if cfg.Entitlement.DevFallback && !cfg.IsDevelopment() {
		return nil, fmt.Errorf("entitlement.dev_fallback requires environment=development")
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "production")

	// Server defaults
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "framecraft")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", 30*time.Minute)

	// Redis defaults
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)

	// Auth defaults
	v.SetDefault("auth.issuer", "framecraft")
	v.SetDefault("auth.access_token_expiry", 15*time.Minute)

	// Entitlement defaults
	v.SetDefault("entitlement.subscription_ttl", 5*time.Minute)
	v.SetDefault("entitlement.usage_ttl", 5*time.Minute)
	v.SetDefault("entitlement.tracker_buffer_size", 1000)
	v.SetDefault("entitlement.dev_fallback", false)
	v.SetDefault("entitlement.breaker_max_failures", 5)
	v.SetDefault("entitlement.breaker_timeout", 60*time.Second)
	v.SetDefault("entitlement.breaker_max_half_open", 1)
	v.SetDefault("entitlement.remote_fetch_timeout", 5*time.Second)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

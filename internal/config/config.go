package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Debug    bool           `mapstructure:"debug"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Secrets  SecretsConfig  `mapstructure:"secrets"`
	Webhooks WebhooksConfig `mapstructure:"webhooks"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig selects Postgres when URL is set; otherwise an in-memory store is used.
type DatabaseConfig struct {
	URL     string `mapstructure:"url"`
	Migrate bool   `mapstructure:"migrate"`
}

// RedisConfig moves the delivery queue to Redis when URL is set.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type AuthConfig struct {
	Mode       string `mapstructure:"mode"` // dev, hmac or jwks
	HMACSecret string `mapstructure:"hmac_secret"`
	JWKSURL    string `mapstructure:"jwks_url"`
}

type SecretsConfig struct {
	// Key seals webhook signing secrets at rest.
	Key string `mapstructure:"key"`
}

type WebhooksConfig struct {
	MaxAttempts       int           `mapstructure:"max_attempts"`
	BaseDelay         time.Duration `mapstructure:"base_delay"`
	MaxDelay          time.Duration `mapstructure:"max_delay"`
	Timeout           time.Duration `mapstructure:"timeout"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	BatchSize         int           `mapstructure:"batch_size"`
	Concurrency       int           `mapstructure:"concurrency"`
	Lease             time.Duration `mapstructure:"lease"`
	RatePerSecond     float64       `mapstructure:"rate_per_second"`
	RateBurst         int           `mapstructure:"rate_burst"`
	AllowInsecureURLs bool          `mapstructure:"allow_insecure_urls"`
}

const devSecretsKey = "deskhooks-dev-only-key"

// Load reads config.yaml (or configFile), .env files under envPath and
// DESKHOOKS_* environment variables, in increasing precedence.
func Load(configFile string, envPath string) (*Config, error) {
	v := configureViper(configFile, envPath)

	v.SetDefault("debug", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("database.migrate", true)
	v.SetDefault("auth.mode", "dev")
	v.SetDefault("webhooks.max_attempts", 6)
	v.SetDefault("webhooks.base_delay", 30*time.Second)
	v.SetDefault("webhooks.max_delay", 30*time.Minute)
	v.SetDefault("webhooks.timeout", 10*time.Second)
	v.SetDefault("webhooks.poll_interval", time.Second)
	v.SetDefault("webhooks.batch_size", 50)
	v.SetDefault("webhooks.concurrency", 8)
	v.SetDefault("webhooks.lease", 2*time.Minute)
	v.SetDefault("webhooks.rate_per_second", 0)
	v.SetDefault("webhooks.rate_burst", 1)
	v.SetDefault("webhooks.allow_insecure_urls", false)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	c.Auth.Mode = strings.ToLower(strings.TrimSpace(c.Auth.Mode))
	switch c.Auth.Mode {
	case "dev":
	case "hmac":
		if c.Auth.HMACSecret == "" {
			return errors.New("auth.hmac_secret is required when auth.mode is hmac")
		}
	case "jwks":
		if c.Auth.JWKSURL == "" {
			return errors.New("auth.jwks_url is required when auth.mode is jwks")
		}
	default:
		return fmt.Errorf("unsupported auth.mode %q", c.Auth.Mode)
	}
	if c.Secrets.Key == "" {
		if c.Auth.Mode != "dev" {
			return errors.New("secrets.key is required outside dev mode")
		}
		c.Secrets.Key = devSecretsKey
	}
	if c.Webhooks.Timeout >= c.Webhooks.Lease {
		return fmt.Errorf("webhooks.lease (%s) must exceed webhooks.timeout (%s)", c.Webhooks.Lease, c.Webhooks.Timeout)
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

func configureViper(configFile string, envPath string) *viper.Viper {
	v := viper.New()

	loadEnv(envPath)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("config/")
	}

	v.SetEnvPrefix("DESKHOOKS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal only sees env values for keys viper already knows about.
	for _, key := range []string{
		"debug",
		"server.port", "server.read_timeout", "server.write_timeout", "server.shutdown_timeout",
		"database.url", "database.migrate",
		"redis.url",
		"auth.mode", "auth.hmac_secret", "auth.jwks_url",
		"secrets.key",
		"webhooks.max_attempts", "webhooks.base_delay", "webhooks.max_delay", "webhooks.timeout",
		"webhooks.poll_interval", "webhooks.batch_size", "webhooks.concurrency", "webhooks.lease",
		"webhooks.rate_per_second", "webhooks.rate_burst", "webhooks.allow_insecure_urls",
	} {
		_ = v.BindEnv(key)
	}
	return v
}

func loadEnv(envPath string) {
	if envPath == "" {
		envPath = "."
	}
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Overload(filepath.Join(envPath, f))
	}
}

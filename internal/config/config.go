// Package config loads service configuration from defaults, an optional
// YAML file and COMPLIANCE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rezonia/invoice-compliance/internal/authority"
	"github.com/rezonia/invoice-compliance/internal/queue"
	"github.com/rezonia/invoice-compliance/internal/resilience"
)

// EnvPrefix is prepended to every environment variable
const EnvPrefix = "COMPLIANCE"

type Config struct {
	Service   ServiceConfig   `mapstructure:"service"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Secrets   SecretsConfig   `mapstructure:"secrets"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Authority AuthorityConfig `mapstructure:"authority"`
	Trust     TrustConfig     `mapstructure:"trust"`
}

type ServiceConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
}

type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Debug        bool          `mapstructure:"debug"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig selects the store; an empty DSN keeps everything in memory
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig selects the queue; an empty address uses the in-memory queue
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NATSConfig enables event publishing when URL is set
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// SecretsConfig holds the base64 secretbox key for tenant secrets.
// Empty means secrets are stored in plain text (development only).
type SecretsConfig struct {
	Key string `mapstructure:"key"`
}

type QueueConfig struct {
	Prefix       string        `mapstructure:"prefix"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	BackoffBase  time.Duration `mapstructure:"backoff_base"`
	BackoffMax   time.Duration `mapstructure:"backoff_max"`
	HistoryLimit int           `mapstructure:"history_limit"`
	LeaseTTL     time.Duration `mapstructure:"lease_ttl"`
}

type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
}

type RetryConfig struct {
	MaxRetries   int           `mapstructure:"max_retries"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
}

type AuthorityConfig struct {
	SandboxURL    string        `mapstructure:"sandbox_url"`
	ProductionURL string        `mapstructure:"production_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// TrustConfig enables signer chain and OCSP checks during verification
type TrustConfig struct {
	RootsFile   string        `mapstructure:"roots_file"`
	SoftFail    bool          `mapstructure:"soft_fail"`
	OCSPTimeout time.Duration `mapstructure:"ocsp_timeout"`
}

func setDefaults(v *viper.Viper) {
	q := queue.DefaultConfig()
	b := resilience.DefaultBreakerConfig()
	r := resilience.DefaultRetryConfig()

	v.SetDefault("service.name", "invoice-compliance")
	v.SetDefault("service.version", "dev")

	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.debug", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.environment", "production")

	v.SetDefault("database.dsn", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject_prefix", "compliance")
	v.SetDefault("secrets.key", "")

	v.SetDefault("queue.prefix", q.Prefix)
	v.SetDefault("queue.initial_delay", q.InitialDelay)
	v.SetDefault("queue.max_attempts", q.MaxAttempts)
	v.SetDefault("queue.backoff_base", q.BackoffBase)
	v.SetDefault("queue.backoff_max", q.BackoffMax)
	v.SetDefault("queue.history_limit", q.HistoryLimit)
	v.SetDefault("queue.lease_ttl", q.LeaseTTL)

	v.SetDefault("breaker.failure_threshold", b.FailureThreshold)
	v.SetDefault("breaker.success_threshold", b.SuccessThreshold)
	v.SetDefault("breaker.cooldown", b.Cooldown)

	v.SetDefault("retry.max_retries", r.MaxRetries)
	v.SetDefault("retry.initial_delay", r.InitialDelay)
	v.SetDefault("retry.multiplier", r.Multiplier)
	v.SetDefault("retry.max_delay", r.MaxDelay)

	v.SetDefault("authority.sandbox_url", "")
	v.SetDefault("authority.production_url", "")
	v.SetDefault("authority.timeout", authority.DefaultTimeout)

	v.SetDefault("trust.roots_file", "")
	v.SetDefault("trust.soft_fail", false)
	v.SetDefault("trust.ocsp_timeout", 10*time.Second)
}

// Load reads configuration. path may be empty; a named file that does not
// exist is an error.
func Load(path string) (*Config, error) {
	return LoadWith(viper.New(), path)
}

// LoadWith loads into v so callers can bind command-line flags first
func LoadWith(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects impossible values
func (c *Config) Validate() error {
	var errs []error
	if err := c.BreakerConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.RetryConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.QueueConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Authority.Timeout < 0 {
		errs = append(errs, fmt.Errorf("authority timeout must not be negative"))
	}
	if c.Server.Address == "" {
		errs = append(errs, fmt.Errorf("server address is required"))
	}
	return errors.Join(errs...)
}

func (c *Config) QueueConfig() queue.Config {
	return queue.Config{
		RedisAddr:     c.Redis.Addr,
		RedisPassword: c.Redis.Password,
		RedisDB:       c.Redis.DB,
		Prefix:        c.Queue.Prefix,
		InitialDelay:  c.Queue.InitialDelay,
		MaxAttempts:   c.Queue.MaxAttempts,
		BackoffBase:   c.Queue.BackoffBase,
		BackoffMax:    c.Queue.BackoffMax,
		HistoryLimit:  c.Queue.HistoryLimit,
		LeaseTTL:      c.Queue.LeaseTTL,
	}
}

func (c *Config) BreakerConfig() resilience.BreakerConfig {
	return resilience.BreakerConfig{
		FailureThreshold: c.Breaker.FailureThreshold,
		SuccessThreshold: c.Breaker.SuccessThreshold,
		Cooldown:         c.Breaker.Cooldown,
	}
}

func (c *Config) RetryConfig() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxRetries:   c.Retry.MaxRetries,
		InitialDelay: c.Retry.InitialDelay,
		Multiplier:   c.Retry.Multiplier,
		MaxDelay:     c.Retry.MaxDelay,
	}
}

func (c *Config) AuthorityConfig() authority.Config {
	return authority.Config{
		SandboxURL:    c.Authority.SandboxURL,
		ProductionURL: c.Authority.ProductionURL,
		Timeout:       c.Authority.Timeout,
	}
}

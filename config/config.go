// Package config loads server settings from defaults, an optional YAML file
// and the environment.
//
// Every key can be overridden with BANK4_<SECTION>_<KEY>, e.g.
// BANK4_SERVER_PORT=9000. The accrual trigger secret is also read from the
// bare CRON_SECRET variable that hosted cron services set.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type AccrualConfig struct {
	MinTimeBetweenRuns    time.Duration `mapstructure:"min_time_between_runs"`
	CarryForwardRemainder bool          `mapstructure:"carry_forward_remainder"`
	Concurrency           int           `mapstructure:"concurrency"`
	LockTTL               time.Duration `mapstructure:"lock_ttl"`
	SchedulerEnabled      bool          `mapstructure:"scheduler_enabled"`
	SchedulerInterval     time.Duration `mapstructure:"scheduler_interval"`
}

type AuthConfig struct {
	CronSecret string `mapstructure:"cron_secret"`
}

// RedisConfig enables the distributed per-user lock when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// KafkaConfig enables the Kafka publisher when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
}

type OutboxConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Interval   time.Duration `mapstructure:"interval"`
	BatchSize  int           `mapstructure:"batch_size"`
	MaxRetries int           `mapstructure:"max_retries"`
}

type Config struct {
	Environment string         `mapstructure:"environment"`
	Server      ServerConfig   `mapstructure:"server"`
	Database    DatabaseConfig `mapstructure:"database"`
	Accrual     AccrualConfig  `mapstructure:"accrual"`
	Auth        AuthConfig     `mapstructure:"auth"`
	Redis       RedisConfig    `mapstructure:"redis"`
	Kafka       KafkaConfig    `mapstructure:"kafka"`
	Outbox      OutboxConfig   `mapstructure:"outbox"`
}

func (c *Config) IsProduction() bool  { return c.Environment == EnvProduction }
func (c *Config) IsDevelopment() bool { return c.Environment == EnvDevelopment }

// New returns a viper instance with defaults and environment binding set up.
// Callers may bind flags into it before Load.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("environment", EnvDevelopment)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000", "http://localhost:5173"})

	v.SetDefault("database.path", "bank4.db")

	v.SetDefault("accrual.min_time_between_runs", 12*time.Hour)
	v.SetDefault("accrual.carry_forward_remainder", false)
	v.SetDefault("accrual.concurrency", 1)
	v.SetDefault("accrual.lock_ttl", 30*time.Second)
	v.SetDefault("accrual.scheduler_enabled", true)
	v.SetDefault("accrual.scheduler_interval", time.Hour)

	v.SetDefault("auth.cron_secret", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", []string{})

	v.SetDefault("outbox.enabled", true)
	v.SetDefault("outbox.interval", time.Second)
	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.max_retries", 5)

	v.SetEnvPrefix("BANK4")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("auth.cron_secret", "BANK4_AUTH_CRON_SECRET", "CRON_SECRET")

	return v
}

// Load reads path (if non-empty) into v and decodes the result.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) validate() error {
	switch c.Environment {
	case EnvDevelopment, EnvProduction, "test":
	default:
		return fmt.Errorf("invalid environment %q", c.Environment)
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	if c.Accrual.Concurrency < 1 {
		c.Accrual.Concurrency = 1
	}
	return nil
}

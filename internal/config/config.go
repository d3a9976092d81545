package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"material-exchange/internal/domain"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Redis     RedisConfig     `mapstructure:"redis"`
	MySQL     MySQLConfig     `mapstructure:"mysql"`
	Leader    LeaderConfig    `mapstructure:"leader"`
	Instance  InstanceConfig  `mapstructure:"instance"`
	Log       LogConfig       `mapstructure:"log"`
	Store     StoreConfig     `mapstructure:"store"`
	Bidding   BiddingConfig   `mapstructure:"bidding"`
	Settings  SettingsConfig  `mapstructure:"settings"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`

	// RateLimit is requests per second per client IP. Zero disables it.
	RateLimit float64 `mapstructure:"rate_limit"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MySQLConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type LeaderConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type InstanceConfig struct {
	ID string `mapstructure:"id"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`

	// Output is "stdout", "stderr" or a file path rotated in place.
	Output     string `mapstructure:"output"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type StoreConfig struct {
	// Driver is "mysql" or "memory".
	Driver string `mapstructure:"driver"`
}

type BiddingConfig struct {
	// Lock selects the concurrency guard: "redis" for a lock shared by
	// every instance, "local" for a single process.
	Lock           string        `mapstructure:"lock"`
	LockTimeout    time.Duration `mapstructure:"lock_timeout"`
	LockLease      time.Duration `mapstructure:"lock_lease"`
	NotifyTimeout  time.Duration `mapstructure:"notify_timeout"`
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"`
}

// SettingsConfig seeds the shared bidding settings when none are stored yet.
type SettingsConfig struct {
	SoftClose         time.Duration `mapstructure:"soft_close"`
	IncrementStrategy string        `mapstructure:"increment_strategy"`
	FixedIncrement    string        `mapstructure:"fixed_increment"`
	IncrementPercent  string        `mapstructure:"increment_percent"`
	DepositRequired   bool          `mapstructure:"deposit_required"`
	DepositPercent    string        `mapstructure:"deposit_percent"`
	MinorUnits        int32         `mapstructure:"minor_units"`
}

type SchedulerConfig struct {
	SweepSpec string `mapstructure:"sweep_spec"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.rate_limit", 20.0)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("mysql.dsn", "exchange_user:exchange_pass@tcp(localhost:3306)/exchange_db?parseTime=true")
	v.SetDefault("mysql.max_open_conns", 25)
	v.SetDefault("mysql.max_idle_conns", 10)
	v.SetDefault("mysql.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("leader.ttl", 30*time.Second)
	v.SetDefault("instance.id", "bidding-service-1")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.max_age_days", 7)
	v.SetDefault("store.driver", "mysql")
	v.SetDefault("bidding.lock", "redis")
	v.SetDefault("bidding.lock_timeout", 2*time.Second)
	v.SetDefault("bidding.lock_lease", 10*time.Second)
	v.SetDefault("bidding.notify_timeout", 3*time.Second)
	v.SetDefault("bidding.idempotency_ttl", 24*time.Hour)
	v.SetDefault("settings.soft_close", 180*time.Second)
	v.SetDefault("settings.increment_strategy", string(domain.IncrementFixed))
	v.SetDefault("settings.fixed_increment", "10")
	v.SetDefault("settings.increment_percent", "5")
	v.SetDefault("settings.deposit_required", false)
	v.SetDefault("settings.deposit_percent", "10")
	v.SetDefault("settings.minor_units", 2)
	v.SetDefault("scheduler.sweep_spec", "@every 15s")
}

func Load() (*Config, error) {
	// A .env next to the binary feeds the environment overrides below.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	// Configuration file settings
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/material-exchange/")

	// SERVER_PORT, BIDDING_LOCK_TIMEOUT, SETTINGS_SOFT_CLOSE, ...
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read configuration file (optional - will use defaults/env vars if not found)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	return unmarshal(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	if _, err := config.Settings.ToDomain(); err != nil {
		return nil, err
	}
	return &config, nil
}

// ToDomain parses the configured defaults into a settings value.
func (s SettingsConfig) ToDomain() (domain.Settings, error) {
	strategy := domain.IncrementStrategy(s.IncrementStrategy)
	if strategy != domain.IncrementFixed && strategy != domain.IncrementPercentage {
		return domain.Settings{}, fmt.Errorf("settings.increment_strategy: unknown strategy %q", s.IncrementStrategy)
	}
	if s.MinorUnits < 0 || s.MinorUnits > domain.MaxMinorUnits {
		return domain.Settings{}, fmt.Errorf("settings.minor_units: %d outside 0..%d", s.MinorUnits, domain.MaxMinorUnits)
	}

	fixed, err := decimal.NewFromString(s.FixedIncrement)
	if err != nil {
		return domain.Settings{}, fmt.Errorf("settings.fixed_increment: %w", err)
	}
	percent, err := decimal.NewFromString(s.IncrementPercent)
	if err != nil {
		return domain.Settings{}, fmt.Errorf("settings.increment_percent: %w", err)
	}
	deposit, err := decimal.NewFromString(s.DepositPercent)
	if err != nil {
		return domain.Settings{}, fmt.Errorf("settings.deposit_percent: %w", err)
	}

	return domain.Settings{
		SoftClose:         s.SoftClose,
		IncrementStrategy: strategy,
		FixedIncrement:    fixed,
		IncrementPercent:  percent,
		DepositRequired:   s.DepositRequired,
		DepositPercent:    deposit,
		MinorUnits:        s.MinorUnits,
	}, nil
}

// GetConfigString returns a formatted string representation of the config
func (c *Config) GetConfigString() string {
	return fmt.Sprintf(
		"Server: %s:%d, Redis: %s, Store: %s, Lock: %s, Instance: %s",
		c.Server.Host,
		c.Server.Port,
		c.Redis.Address,
		c.Store.Driver,
		c.Bidding.Lock,
		c.Instance.ID,
	)
}

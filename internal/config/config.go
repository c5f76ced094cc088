// Package config содержит логику чтения конфигурации ядра pass Culture.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/pflag"
)

const defaultDecree = "2025-02-28T23:00:00Z"

// Config содержит параметры конфигурации сервиса и фоновых задач.
type Config struct {
	RunAddress    string `env:"RUN_ADDRESS"`
	DatabaseURI   string `env:"DATABASE_URI"`
	NotifyAddress string `env:"NOTIFY_ADDRESS"`
	AuthSecret    string `env:"AUTH_SECRET"`
	// FixturesPath - JSON с начальными данными для хранилища в памяти.
	FixturesPath string `env:"FIXTURES_PATH"`

	EnableCreditV3 bool `env:"ENABLE_CREDIT_V3"`
	// CreditV3Decree - момент вступления в силу регламента v3, RFC 3339.
	CreditV3Decree string `env:"CREDIT_V3_DECREE_DATETIME"`

	PricingMaxAge      time.Duration `env:"PRICING_MAX_AGE"`
	PricingInterval    time.Duration `env:"PRICING_INTERVAL"`
	RecreditInterval   time.Duration `env:"RECREDIT_INTERVAL"`
	RecreditBatchSize  int           `env:"RECREDIT_BATCH_SIZE"`
	CollectiveInterval time.Duration `env:"COLLECTIVE_INTERVAL"`

	decree time.Time
}

// RegisterFlags регистрирует флаги командной строки со значениями по умолчанию.
func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&c.RunAddress, "address", "a", "localhost:8080", "address and port for HTTP server")
	fs.StringVarP(&c.DatabaseURI, "database", "d", "", "database URI, in-memory store if empty")
	fs.StringVar(&c.NotifyAddress, "notify", "", "notification dispatcher address")
	fs.StringVar(&c.AuthSecret, "auth-secret", "", "HMAC key for bearer tokens")
	fs.StringVar(&c.FixturesPath, "fixtures", "", "JSON fixture loaded into the in-memory store")
	fs.BoolVar(&c.EnableCreditV3, "credit-v3", false, "enable the v3 deposit policy")
	fs.StringVar(&c.CreditV3Decree, "credit-v3-decree", defaultDecree, "v3 policy cutover datetime (RFC 3339)")
	fs.DurationVar(&c.PricingMaxAge, "pricing-max-age", 72*time.Hour, "how far back price-bookings looks for used bookings")
	fs.DurationVar(&c.PricingInterval, "pricing-interval", 10*time.Minute, "pricing job period, 0 disables it")
	fs.DurationVar(&c.RecreditInterval, "recredit-interval", 24*time.Hour, "recredit job period, 0 disables it")
	fs.IntVar(&c.RecreditBatchSize, "recredit-batch-size", 1000, "users locked per recredit batch")
	fs.DurationVar(&c.CollectiveInterval, "collective-interval", time.Hour, "collective bookings job period, 0 disables it")
}

// Load применяет переменные окружения поверх флагов и проверяет результат.
func (c *Config) Load() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	if c.RunAddress == "" {
		c.RunAddress = "localhost:8080"
	}
	if c.CreditV3Decree == "" {
		c.CreditV3Decree = defaultDecree
	}
	decree, err := time.Parse(time.RFC3339, c.CreditV3Decree)
	if err != nil {
		return fmt.Errorf("parse credit v3 decree datetime: %w", err)
	}
	c.decree = decree

	if c.PricingMaxAge <= 0 {
		return errors.New("pricing max age must be positive")
	}
	if c.RecreditBatchSize <= 0 {
		return errors.New("recredit batch size must be positive")
	}
	if c.FixturesPath != "" && c.DatabaseURI != "" {
		return errors.New("fixtures can only be loaded into the in-memory store")
	}
	return nil
}

// DecreeDatetime возвращает момент вступления в силу регламента v3.
func (c *Config) DecreeDatetime() time.Time {
	return c.decree
}

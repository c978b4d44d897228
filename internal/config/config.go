// Package config содержит логику чтения конфигурации сервиса pointmarket.
package config

import (
	"errors"
	"flag"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/caarlos0/env/v11"

	"github.com/mmeshcher/pointmarket/internal/pricing"
	"github.com/mmeshcher/pointmarket/internal/rental"
	"github.com/mmeshcher/pointmarket/internal/service"
)

const defaultRunAddress = "localhost:8080"

// Config содержит параметры конфигурации сервиса pointmarket.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`

	JWTSecret string        `env:"JWT_SECRET"`
	TokenTTL  time.Duration `env:"TOKEN_TTL" envDefault:"24h"`

	AdminLogin    string `env:"ADMIN_LOGIN"`
	AdminPassword string `env:"ADMIN_PASSWORD"`
	AdminName     string `env:"ADMIN_NAME" envDefault:"Admin"`

	ShippingMode                string `env:"SHIPPING_MODE" envDefault:"flat"`
	ShippingFee                 int64  `env:"SHIPPING_FEE" envDefault:"50"`
	FreeShippingThreshold       int64  `env:"FREE_SHIPPING_THRESHOLD" envDefault:"1000"`
	DiscountMinQuantity         int64  `env:"DISCOUNT_MIN_QUANTITY" envDefault:"5"`
	DiscountPercent             int64  `env:"DISCOUNT_PERCENT" envDefault:"50"`
	ReturnRefundPercent         int64  `env:"RETURN_REFUND_PERCENT" envDefault:"50"`
	ElevatedReturnRefundPercent int64  `env:"ELEVATED_RETURN_REFUND_PERCENT" envDefault:"60"`

	RentalGrace   time.Duration `env:"RENTAL_GRACE" envDefault:"24h"`
	PenaltyPerDay int64         `env:"PENALTY_PER_DAY" envDefault:"1"`

	MembershipFee         int64 `env:"MEMBERSHIP_FEE" envDefault:"100"`
	MembershipUpgradeCost int64 `env:"MEMBERSHIP_UPGRADE_COST" envDefault:"1000"`

	Timezone              string `env:"TIMEZONE" envDefault:"Asia/Seoul"`
	PenaltySchedule       string `env:"PENALTY_SCHEDULE" envDefault:"0 0 * * *"`
	MembershipFeeSchedule string `env:"MEMBERSHIP_FEE_SCHEDULE" envDefault:"0 0 1 * *"`

	RedisAddr    string   `env:"REDIS_ADDR"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"order-events"`

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"5"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"10"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg, err := FromEnv()
	if err != nil {
		return nil, err
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}

	return cfg, nil
}

// FromEnv считывает конфигурацию только из переменных окружения.
func FromEnv() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Location возвращает часовой пояс, в котором работают расписания и периоды взноса.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Policy собирает бизнес-параметры сервиса и проверяет их.
func (c *Config) Policy() (service.Policy, error) {
	loc, err := c.Location()
	if err != nil {
		return service.Policy{}, err
	}

	p := service.Policy{
		Pricing: pricing.Policy{
			ShippingMode:                pricing.ShippingMode(c.ShippingMode),
			ShippingFee:                 c.ShippingFee,
			FreeShippingThreshold:       c.FreeShippingThreshold,
			DiscountMinQuantity:         c.DiscountMinQuantity,
			DiscountPercent:             c.DiscountPercent,
			ReturnRefundPercent:         c.ReturnRefundPercent,
			ElevatedReturnRefundPercent: c.ElevatedReturnRefundPercent,
		},
		Rental: rental.Policy{
			Grace:         c.RentalGrace,
			PenaltyPerDay: c.PenaltyPerDay,
		},
		MembershipFee: c.MembershipFee,
		UpgradeCost:   c.MembershipUpgradeCost,
		FeeLocation:   loc,
	}

	if err := p.Pricing.Validate(); err != nil {
		return service.Policy{}, fmt.Errorf("pricing policy: %w", err)
	}
	if p.Rental.Grace < 0 || p.Rental.PenaltyPerDay < 0 {
		return service.Policy{}, errors.New("rental policy: grace and penalty must not be negative")
	}
	if p.MembershipFee < 0 || p.UpgradeCost < 0 {
		return service.Policy{}, errors.New("membership policy: fee and upgrade cost must not be negative")
	}

	return p, nil
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
	_ "time/tzdata" // zone database for minimal containers

	"parkovka/internal/pricing"

	"gopkg.in/yaml.v3"
)

const DefaultPath = "configs/config.yaml"

type Config struct {
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		Debug    bool   `yaml:"debug"`
	} `yaml:"telegram"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Backup struct {
		Enabled       bool   `yaml:"enabled"`
		Schedule      string `yaml:"schedule"`
		Path          string `yaml:"path"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"backup"`

	Redis struct {
		Address         string `yaml:"address"`
		Password        string `yaml:"password"`
		DB              int    `yaml:"db"`
		CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
	} `yaml:"redis"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Booking struct {
		TimeoutMinutes       int     `yaml:"timeout_minutes"`
		RetentionDays        int     `yaml:"retention_days"`
		ExpireSchedule       string  `yaml:"expire_schedule"`
		HousekeepingSchedule string  `yaml:"housekeeping_schedule"`
		ReminderSchedule     string  `yaml:"reminder_schedule"`
		NotifyPerSecond      float64 `yaml:"notify_per_second"`
		FreeSlotsLimit       int     `yaml:"free_slots_limit"`
	} `yaml:"booking"`

	Location struct {
		Address  string `yaml:"address"`
		Timezone string `yaml:"timezone"`
	} `yaml:"location"`

	Pricing struct {
		DayStart       string        `yaml:"day_start"`
		NightStart     string        `yaml:"night_start"`
		DayPrices      map[int]int64 `yaml:"day_prices"`
		ExtraHourPrice int64         `yaml:"extra_hour_price"`
		NightPrices    map[int]int64 `yaml:"night_prices"`
		NightMinPrice  int64         `yaml:"night_min_price"`
		NightMinHours  int           `yaml:"night_min_hours"`
	} `yaml:"pricing"`

	Admins []int64 `yaml:"admins"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err = cfg.Validate(); err != nil {
		return nil, err
	}

	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Database.Path == "" {
		c.Database.Path = "data/parkovka.db"
	}
	if c.Backup.Path == "" {
		c.Backup.Path = "backups"
	}
	if c.Backup.Schedule == "" {
		c.Backup.Schedule = "0 3 * * *"
	}
	if c.Backup.RetentionDays <= 0 {
		c.Backup.RetentionDays = 14
	}
	if c.Booking.ExpireSchedule == "" {
		c.Booking.ExpireSchedule = "@every 1m"
	}
	if c.Booking.HousekeepingSchedule == "" {
		c.Booking.HousekeepingSchedule = "@every 5m"
	}
	if c.Booking.ReminderSchedule == "" {
		c.Booking.ReminderSchedule = "@every 5m"
	}
	if c.Booking.FreeSlotsLimit <= 0 {
		c.Booking.FreeSlotsLimit = 10
	}
	if c.Location.Timezone == "" {
		c.Location.Timezone = "Europe/Moscow"
	}
	if c.Pricing.DayStart == "" {
		c.Pricing.DayStart = "08:00"
	}
	if c.Pricing.NightStart == "" {
		c.Pricing.NightStart = "20:00"
	}
	def := pricing.DefaultTariff()
	if len(c.Pricing.DayPrices) == 0 {
		c.Pricing.DayPrices = def.DayPrices
	}
	if len(c.Pricing.NightPrices) == 0 {
		c.Pricing.NightPrices = def.NightPrices
	}
	if c.Pricing.ExtraHourPrice <= 0 {
		c.Pricing.ExtraHourPrice = def.ExtraHourPrice
	}
	if c.Pricing.NightMinPrice <= 0 {
		c.Pricing.NightMinPrice = def.NightMinPrice
	}
	if c.Pricing.NightMinHours <= 0 {
		c.Pricing.NightMinHours = def.NightMinHours
	}
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Location.Address == "" {
		return fmt.Errorf("location.address is required")
	}
	if _, err := c.Tariff(); err != nil {
		return fmt.Errorf("pricing: %w", err)
	}
	return nil
}

// Tariff builds the pricing tariff from the pricing and location sections.
func (c *Config) Tariff() (pricing.Tariff, error) {
	loc, err := time.LoadLocation(c.Location.Timezone)
	if err != nil {
		return pricing.Tariff{}, fmt.Errorf("load timezone %q: %w", c.Location.Timezone, err)
	}
	dayStart, err := pricing.ParseClock(c.Pricing.DayStart)
	if err != nil {
		return pricing.Tariff{}, err
	}
	nightStart, err := pricing.ParseClock(c.Pricing.NightStart)
	if err != nil {
		return pricing.Tariff{}, err
	}
	t := pricing.Tariff{
		Location:       loc,
		DayStart:       dayStart,
		NightStart:     nightStart,
		DayPrices:      c.Pricing.DayPrices,
		ExtraHourPrice: c.Pricing.ExtraHourPrice,
		NightPrices:    c.Pricing.NightPrices,
		NightMinPrice:  c.Pricing.NightMinPrice,
		NightMinHours:  c.Pricing.NightMinHours,
	}
	if err := t.Validate(); err != nil {
		return pricing.Tariff{}, err
	}
	return t, nil
}

// BookingTimeout is how long a pending booking may stay unpaid.
func (c *Config) BookingTimeout() time.Duration {
	if c.Booking.TimeoutMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.Booking.TimeoutMinutes) * time.Minute
}

// BookingRetention is how long cancelled and expired bookings are kept.
func (c *Config) BookingRetention() time.Duration {
	if c.Booking.RetentionDays <= 0 {
		return 30 * 24 * time.Hour
	}
	return time.Duration(c.Booking.RetentionDays) * 24 * time.Hour
}

func (c *Config) BackupRetention() time.Duration {
	return time.Duration(c.Backup.RetentionDays) * 24 * time.Hour
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Redis.CacheTTLSeconds) * time.Second
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config keeps runtime settings for the planner. Values come from an
// optional YAML file (CONFIG_FILE) and are overridden by the environment.
type Config struct {
	DatabaseDriver string `yaml:"database_driver"`
	DatabaseURL    string `yaml:"database_url"`
	TelegramToken  string `yaml:"telegram_token"`
	HTTPAddr       string `yaml:"http_addr"`
	Timezone       string `yaml:"timezone"`

	SMTP SMTPConfig `yaml:"smtp"`

	EscalationInterval  time.Duration `yaml:"escalation_interval"`
	ReminderInterval    time.Duration `yaml:"reminder_interval"`
	RecurrenceInterval  time.Duration `yaml:"recurrence_interval"`
	StreakTime          string        `yaml:"streak_time"`
	MaintenanceInterval time.Duration `yaml:"maintenance_interval"`
	MaintenanceLockTTL  time.Duration `yaml:"maintenance_lock_ttl"`

	SweepWorkers          int           `yaml:"sweep_workers"`
	SweepTimeout          time.Duration `yaml:"sweep_timeout"`
	RecurrenceHorizonDays int           `yaml:"recurrence_horizon_days"`
	DeletedRetentionDays  int           `yaml:"deleted_retention_days"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		DatabaseDriver:        "sqlite",
		DatabaseURL:           "coach_planner.db",
		HTTPAddr:              ":8080",
		Timezone:              "Local",
		SMTP:                  SMTPConfig{Port: 587},
		EscalationInterval:    time.Minute,
		ReminderInterval:      time.Minute,
		RecurrenceInterval:    15 * time.Minute,
		StreakTime:            "00:05",
		MaintenanceInterval:   time.Hour,
		MaintenanceLockTTL:    10 * time.Minute,
		SweepWorkers:          4,
		SweepTimeout:          50 * time.Second,
		RecurrenceHorizonDays: 7,
		DeletedRetentionDays:  30,
	}
}

// Load reads CONFIG_FILE when set, then applies environment overrides.
func Load() (Config, error) {
	cfg := Defaults()
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}
	if err := applyEnv(&cfg, os.Getenv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func loadFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	strs := map[string]*string{
		"DATABASE_DRIVER": &cfg.DatabaseDriver,
		"DATABASE_URL":    &cfg.DatabaseURL,
		"TELEGRAM_TOKEN":  &cfg.TelegramToken,
		"HTTP_ADDR":       &cfg.HTTPAddr,
		"TIMEZONE":        &cfg.Timezone,
		"STREAK_TIME":     &cfg.StreakTime,
		"SMTP_HOST":       &cfg.SMTP.Host,
		"SMTP_USER":       &cfg.SMTP.User,
		"SMTP_PASSWORD":   &cfg.SMTP.Password,
		"SMTP_FROM":       &cfg.SMTP.From,
	}
	for key, dst := range strs {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"ESCALATION_INTERVAL":  &cfg.EscalationInterval,
		"REMINDER_INTERVAL":    &cfg.ReminderInterval,
		"RECURRENCE_INTERVAL":  &cfg.RecurrenceInterval,
		"MAINTENANCE_INTERVAL": &cfg.MaintenanceInterval,
		"MAINTENANCE_LOCK_TTL": &cfg.MaintenanceLockTTL,
		"SWEEP_TIMEOUT":        &cfg.SweepTimeout,
	}
	for key, dst := range durations {
		raw := strings.TrimSpace(getenv(key))
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
	}

	ints := map[string]*int{
		"SMTP_PORT":               &cfg.SMTP.Port,
		"SWEEP_WORKERS":           &cfg.SweepWorkers,
		"RECURRENCE_HORIZON_DAYS": &cfg.RecurrenceHorizonDays,
		"DELETED_RETENTION_DAYS":  &cfg.DeletedRetentionDays,
	}
	for key, dst := range ints {
		raw := strings.TrimSpace(getenv(key))
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
	}
	return nil
}

// Validate rejects settings the scheduler cannot run with.
func (c Config) Validate() error {
	switch strings.ToLower(c.DatabaseDriver) {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("DATABASE_DRIVER must be sqlite or postgres, got %q", c.DatabaseDriver)
	}
	if c.SweepWorkers <= 0 {
		return fmt.Errorf("SWEEP_WORKERS must be positive")
	}
	if c.RecurrenceHorizonDays <= 0 {
		return fmt.Errorf("RECURRENCE_HORIZON_DAYS must be positive")
	}
	if c.DeletedRetentionDays <= 0 {
		return fmt.Errorf("DELETED_RETENTION_DAYS must be positive")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves TIMEZONE for the scheduler clock.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE: %w", err)
	}
	return loc, nil
}

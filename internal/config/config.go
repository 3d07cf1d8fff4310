package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config keeps runtime settings for the planner.
type Config struct {
	TelegramToken   string
	DatabaseURL     string
	Timezone        *time.Location
	PollInterval    time.Duration // status refresh cadence while watching a day
	MaterializeTime string        // HH:MM, daily template materialization
	ReportInterval  time.Duration
	HorizonDays     int // export and reconciliation window
}

// fileConfig is the optional YAML layer underneath the environment.
type fileConfig struct {
	TelegramToken   string `yaml:"telegram_token"`
	DatabaseURL     string `yaml:"database_url"`
	Timezone        string `yaml:"timezone"`
	PollSeconds     int    `yaml:"poll_seconds"`
	MaterializeTime string `yaml:"materialize_time"`
	ReportHours     int    `yaml:"report_hours"`
	HorizonDays     int    `yaml:"horizon_days"`
}

// Load reads configuration from an optional YAML file (CONFIG_FILE) with
// environment variables taking precedence, then fills defaults.
func Load() (Config, error) {
	var file fileConfig
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &file); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg := Config{
		TelegramToken:   firstNonEmpty(os.Getenv("TELEGRAM_TOKEN"), file.TelegramToken),
		DatabaseURL:     firstNonEmpty(os.Getenv("DATABASE_URL"), file.DatabaseURL),
		MaterializeTime: firstNonEmpty(os.Getenv("MATERIALIZE_TIME"), file.MaterializeTime),
		PollInterval:    time.Duration(envInt("POLL_SECONDS", file.PollSeconds)) * time.Second,
		ReportInterval:  time.Duration(envInt("REPORT_INTERVAL_HOURS", file.ReportHours)) * time.Hour,
		HorizonDays:     envInt("HORIZON_DAYS", file.HorizonDays),
	}

	tzName := firstNonEmpty(os.Getenv("TIMEZONE"), file.Timezone)
	if tzName == "" {
		cfg.Timezone = time.Local
	} else {
		loc, err := time.LoadLocation(tzName)
		if err != nil {
			return cfg, fmt.Errorf("load timezone %q: %w", tzName, err)
		}
		cfg.Timezone = loc
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = "time_planner.db"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.MaterializeTime == "" {
		cfg.MaterializeTime = "00:05"
	}
	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = 24 * time.Hour
	}
	if cfg.HorizonDays <= 0 {
		cfg.HorizonDays = 30
	}

	if cfg.TelegramToken == "" {
		return cfg, fmt.Errorf("TELEGRAM_TOKEN is required")
	}

	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config keeps runtime settings for the bot.
type Config struct {
	TelegramToken       string `mapstructure:"telegram_token" validate:"required"`
	DatabaseURL         string `mapstructure:"database_url" validate:"required"`
	ReportIntervalHours int    `mapstructure:"report_interval_hours" validate:"gte=0,lte=168"`
	Timezone            string `mapstructure:"timezone" validate:"required"`
	RollForwardAt       string `mapstructure:"roll_forward_at" validate:"required"`
	LogLevel            string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogFormat           string `mapstructure:"log_format" validate:"oneof=console json"`

	// Resolved after validation.
	ReportInterval time.Duration  `mapstructure:"-"`
	Location       *time.Location `mapstructure:"-"`
}

var defaults = map[string]any{
	"telegram_token":        "",
	"database_url":          "daily_planner.db",
	"report_interval_hours": 5,
	"timezone":              "UTC",
	"roll_forward_at":       "00:00",
	"log_level":             "info",
	"log_format":            "console",
}

// Load reads configuration from environment variables and, when CONFIG_FILE
// is set, from that YAML/JSON file. Environment variables win.
func Load() (Config, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (Config, error) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()
	_ = v.BindEnv("config_file", "CONFIG_FILE")

	if path := strings.TrimSpace(v.GetString("config_file")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.TelegramToken = strings.TrimSpace(cfg.TelegramToken)
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))

	if err := validator.New().Struct(cfg); err != nil {
		return cfg, describe(err)
	}

	loc, err := time.LoadLocation(strings.TrimSpace(cfg.Timezone))
	if err != nil {
		return cfg, fmt.Errorf("TIMEZONE %q: %w", cfg.Timezone, err)
	}
	cfg.Location = loc

	if _, _, err := ParseClock(cfg.RollForwardAt); err != nil {
		return cfg, fmt.Errorf("ROLL_FORWARD_AT: %w", err)
	}
	cfg.ReportInterval = time.Duration(cfg.ReportIntervalHours) * time.Hour

	return cfg, nil
}

// ParseClock parses an HH:MM wall-clock time.
func ParseClock(raw string) (int, int, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", raw)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", raw)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", raw)
	}
	return hour, minute, nil
}

func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", envName(fe.Field()), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func envName(field string) string {
	switch field {
	case "TelegramToken":
		return "TELEGRAM_TOKEN"
	case "DatabaseURL":
		return "DATABASE_URL"
	case "ReportIntervalHours":
		return "REPORT_INTERVAL_HOURS"
	case "Timezone":
		return "TIMEZONE"
	case "RollForwardAt":
		return "ROLL_FORWARD_AT"
	case "LogLevel":
		return "LOG_LEVEL"
	case "LogFormat":
		return "LOG_FORMAT"
	default:
		return field
	}
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/stellarlinkco/taskflow/internal/cron"
)

const (
	DefaultBufSize          = 100
	DefaultDBFile           = "tasks.db"
	DefaultDeadlineSchedule = "@every 12h"
	DefaultTimezone         = "Asia/Bangkok"
	DefaultLocale           = "en"
)

type Config struct {
	Channels ChannelsConfig `json:"channels"`
	Store    StoreConfig    `json:"store"`
	Workflow WorkflowConfig `json:"workflow"`
	Deadline DeadlineConfig `json:"deadline"`
	Messages MessagesConfig `json:"messages"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom"`
	Proxy     string   `json:"proxy,omitempty"`
}

type StoreConfig struct {
	DBPath string `json:"dbPath"`
}

type WorkflowConfig struct {
	// Admins may set the main reviewer.
	Admins []string `json:"admins"`
	// StrictReview limits approve/reject to tasks submitted for review.
	StrictReview bool `json:"strictReview"`
}

type DeadlineConfig struct {
	Enabled    bool   `json:"enabled"`
	Schedule   string `json:"schedule"`
	Timezone   string `json:"timezone"`
	RunOnStart bool   `json:"runOnStart"`
}

type MessagesConfig struct {
	Locale string `json:"locale"`
	// Path points to an optional YAML file overriding built-in strings.
	Path string `json:"path,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Channels: ChannelsConfig{},
		Store: StoreConfig{
			DBPath: filepath.Join(ConfigDir(), DefaultDBFile),
		},
		Workflow: WorkflowConfig{},
		Deadline: DeadlineConfig{
			Enabled:    true,
			Schedule:   DefaultDeadlineSchedule,
			Timezone:   DefaultTimezone,
			RunOnStart: true,
		},
		Messages: MessagesConfig{
			Locale: DefaultLocale,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".taskflow")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if token := os.Getenv("TASKFLOW_TELEGRAM_TOKEN"); token != "" {
		cfg.Channels.Telegram.Token = token
		cfg.Channels.Telegram.Enabled = true
	}
	if dbPath := os.Getenv("TASKFLOW_DB_PATH"); dbPath != "" {
		cfg.Store.DBPath = dbPath
	}
	if admins := os.Getenv("TASKFLOW_ADMINS"); admins != "" {
		cfg.Workflow.Admins = splitList(admins)
	}
	if tz := os.Getenv("TASKFLOW_TIMEZONE"); tz != "" {
		cfg.Deadline.Timezone = tz
	}
	if locale := os.Getenv("TASKFLOW_LOCALE"); locale != "" {
		cfg.Messages.Locale = locale
	}
	if strict := os.Getenv("TASKFLOW_STRICT_REVIEW"); strict != "" {
		if parsed, err := strconv.ParseBool(strict); err == nil {
			cfg.Workflow.StrictReview = parsed
		}
	}

	if cfg.Store.DBPath == "" {
		cfg.Store.DBPath = DefaultConfig().Store.DBPath
	}
	if cfg.Deadline.Schedule == "" {
		cfg.Deadline.Schedule = DefaultDeadlineSchedule
	}
	if cfg.Deadline.Timezone == "" {
		cfg.Deadline.Timezone = DefaultTimezone
	}
	if cfg.Messages.Locale == "" {
		cfg.Messages.Locale = DefaultLocale
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values that would otherwise fail at gateway start.
func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	if err := cron.ValidateSpec(c.Deadline.Schedule); err != nil {
		return fmt.Errorf("invalid deadline schedule: %w", err)
	}
	if c.Channels.Telegram.Enabled && c.Channels.Telegram.Token == "" {
		return fmt.Errorf("telegram is enabled but no token is set")
	}
	return nil
}

// Location returns the deadline timezone.
func (c *Config) Location() (*time.Location, error) {
	name := c.Deadline.Timezone
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", name, err)
	}
	return loc, nil
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	// The file holds the bot token.
	return os.WriteFile(ConfigPath(), data, 0600)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	apperrors "github.com/gmsas95/carewatch/internal/errors"
)

// Config holds all configuration for carewatch
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Backend   BackendConfig   `mapstructure:"backend" yaml:"backend"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Monitor   MonitorConfig   `mapstructure:"monitor" yaml:"monitor"`
	Reminders RemindersConfig `mapstructure:"reminders" yaml:"reminders"`
	Notify    NotifyConfig    `mapstructure:"notify" yaml:"notify"`
	Cron      CronConfig      `mapstructure:"cron" yaml:"cron"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Address      string   `mapstructure:"address" yaml:"address"`
	Port         int      `mapstructure:"port" yaml:"port"`
	ReadTimeout  int      `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout int      `mapstructure:"write_timeout" yaml:"write_timeout"`
	AllowOrigins []string `mapstructure:"allow_origins" yaml:"allow_origins"`
}

// BackendConfig holds practice backend settings
type BackendConfig struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	// Token is used when the KV store has no token under TokenKey
	Token             string  `mapstructure:"token" yaml:"token"`
	TokenKey          string  `mapstructure:"token_key" yaml:"token_key"`
	Timeout           int     `mapstructure:"timeout" yaml:"timeout"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `mapstructure:"burst" yaml:"burst"`
	BreakerFailures   uint32  `mapstructure:"breaker_failures" yaml:"breaker_failures"`
	BreakerCooldown   int     `mapstructure:"breaker_cooldown" yaml:"breaker_cooldown"`
}

// StorageConfig holds database settings
type StorageConfig struct {
	DataDir    string `mapstructure:"data_dir" yaml:"data_dir"`
	SQLitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	BadgerPath string `mapstructure:"badger_path" yaml:"badger_path"`
	// InMemory keeps both databases in memory, for tests and dry runs
	InMemory bool `mapstructure:"in_memory" yaml:"in_memory"`
}

// MonitorConfig holds status monitor settings
type MonitorConfig struct {
	Interval   int  `mapstructure:"interval" yaml:"interval"`
	RunOnStart bool `mapstructure:"run_on_start" yaml:"run_on_start"`
}

// RemindersConfig holds reminder scheduler settings
type RemindersConfig struct {
	Interval   int   `mapstructure:"interval" yaml:"interval"`
	Thresholds []int `mapstructure:"thresholds" yaml:"thresholds"`
	// Store selects fired-state persistence: memory, sqlite or badger
	Store     string `mapstructure:"store" yaml:"store"`
	BadgerTTL int    `mapstructure:"badger_ttl_hours" yaml:"badger_ttl_hours"`
}

// NotifyConfig holds notification platform settings
type NotifyConfig struct {
	Platform string         `mapstructure:"platform" yaml:"platform"`
	Telegram TelegramConfig `mapstructure:"telegram" yaml:"telegram"`
	Discord  DiscordConfig  `mapstructure:"discord" yaml:"discord"`
}

// TelegramConfig holds Telegram bot settings
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token" yaml:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id" yaml:"chat_id"`
}

// DiscordConfig holds Discord bot settings
type DiscordConfig struct {
	Token     string `mapstructure:"token" yaml:"token"`
	ChannelID string `mapstructure:"channel_id" yaml:"channel_id"`
}

// CronConfig holds scheduled job settings
type CronConfig struct {
	RefreshSchedule    string  `mapstructure:"refresh_schedule" yaml:"refresh_schedule"`
	DigestSchedule     string  `mapstructure:"digest_schedule" yaml:"digest_schedule"`
	DigestPatients     []int64 `mapstructure:"digest_patients" yaml:"digest_patients"`
	PruneSchedule      string  `mapstructure:"prune_schedule" yaml:"prune_schedule"`
	AuditRetentionDays int     `mapstructure:"audit_retention_days" yaml:"audit_retention_days"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Development bool   `mapstructure:"development" yaml:"development"`
}

const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreBadger = "badger"

	PlatformConsole  = "console"
	PlatformTelegram = "telegram"
	PlatformDiscord  = "discord"
)

// Load loads configuration from file, env, and defaults
func Load(configPath, dataDir string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if dataDir == "" {
		dataDir = getDefaultDataDir()
	}

	v.SetDefault("storage.data_dir", dataDir)
	v.SetDefault("storage.sqlite_path", filepath.Join(dataDir, "carewatch.db"))
	v.SetDefault("storage.badger_path", filepath.Join(dataDir, "badger"))

	if configPath == "" {
		configPath = DefaultPath(dataDir)
	}

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrConfigInvalid.Code, "failed to read config")
		}
	}

	// CAREWATCH_BACKEND_BASE_URL, CAREWATCH_LOG_LEVEL, ...
	v.SetEnvPrefix("CAREWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrConfigInvalid.Code, "failed to unmarshal config")
	}

	loadEnvOverrides(&cfg)
	cfg.Storage.DataDir = expandPath(cfg.Storage.DataDir)
	cfg.Storage.SQLitePath = expandPath(cfg.Storage.SQLitePath)
	cfg.Storage.BadgerPath = expandPath(cfg.Storage.BadgerPath)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	if !cfg.Storage.InMemory {
		if err := os.MkdirAll(cfg.Storage.DataDir, 0755); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeEnvironment, "failed to create data directory")
		}
	}

	return &cfg, nil
}

// DefaultPath is the config file looked up when none is given
func DefaultPath(dataDir string) string {
	return filepath.Join(dataDir, "carewatch.yaml")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)
	v.SetDefault("server.allow_origins", []string{"*"})

	v.SetDefault("backend.base_url", "http://localhost:8080/api")
	v.SetDefault("backend.token_key", "jwtToken")
	v.SetDefault("backend.timeout", 15)
	v.SetDefault("backend.requests_per_second", 10.0)
	v.SetDefault("backend.burst", 5)
	v.SetDefault("backend.breaker_failures", 5)
	v.SetDefault("backend.breaker_cooldown", 30)

	v.SetDefault("monitor.interval", 60)
	v.SetDefault("monitor.run_on_start", true)

	v.SetDefault("reminders.interval", 60)
	v.SetDefault("reminders.thresholds", []int{1440, 60, 15})
	v.SetDefault("reminders.store", StoreMemory)
	v.SetDefault("reminders.badger_ttl_hours", 48)

	v.SetDefault("notify.platform", PlatformConsole)

	v.SetDefault("cron.refresh_schedule", "@every 5m")
	v.SetDefault("cron.digest_schedule", "0 8 * * *")
	v.SetDefault("cron.prune_schedule", "@daily")
	v.SetDefault("cron.audit_retention_days", 90)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

func getDefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "carewatch")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}

	return filepath.Join(home, ".local", "share", "carewatch")
}

// loadEnvOverrides applies the short env aliases and the values viper's
// AutomaticEnv cannot reach (slices and unregistered keys)
func loadEnvOverrides(cfg *Config) {
	if v := ResolveEnvWithAliases("CAREWATCH_BACKEND_TOKEN"); v != "" {
		cfg.Backend.Token = v
	}
	if v := ResolveEnvWithAliases("CAREWATCH_NOTIFY_TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Notify.Telegram.BotToken = v
	}
	if v := ResolveEnvWithAliases("CAREWATCH_NOTIFY_TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Notify.Telegram.ChatID = id
		}
	}
	if v := ResolveEnvWithAliases("CAREWATCH_NOTIFY_DISCORD_TOKEN"); v != "" {
		cfg.Notify.Discord.Token = v
	}
	if v := ResolveEnvWithAliases("CAREWATCH_NOTIFY_DISCORD_CHANNEL_ID"); v != "" {
		cfg.Notify.Discord.ChannelID = v
	}
	if v := os.Getenv("CAREWATCH_REMINDERS_THRESHOLDS"); v != "" {
		if t, err := parseInts(v); err == nil {
			cfg.Reminders.Thresholds = t
		}
	}
	if v := os.Getenv("CAREWATCH_CRON_DIGEST_PATIENTS"); v != "" {
		if ids, err := parseInt64s(v); err == nil {
			cfg.Cron.DigestPatients = ids
		}
	}
}

func validate(cfg *Config) error {
	invalid := func(format string, args ...any) error {
		return apperrors.New(apperrors.ErrConfigInvalid.Code, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(cfg.Backend.BaseURL) == "" {
		return invalid("backend.base_url is required")
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return invalid("server.port %d out of range", cfg.Server.Port)
	}
	if cfg.Monitor.Interval <= 0 {
		return invalid("monitor.interval must be positive")
	}
	if cfg.Reminders.Interval <= 0 {
		return invalid("reminders.interval must be positive")
	}
	for _, t := range cfg.Reminders.Thresholds {
		if t <= 0 {
			return invalid("reminders.thresholds must be positive minutes, got %d", t)
		}
	}

	switch cfg.Reminders.Store {
	case StoreMemory, StoreSQLite, StoreBadger:
	default:
		return invalid("reminders.store %q must be one of memory, sqlite, badger", cfg.Reminders.Store)
	}

	switch cfg.Notify.Platform {
	case PlatformConsole:
	case PlatformTelegram:
		if cfg.Notify.Telegram.BotToken == "" {
			return invalid("notify.telegram.bot_token is required for the telegram platform")
		}
	case PlatformDiscord:
		if cfg.Notify.Discord.Token == "" {
			return invalid("notify.discord.token is required for the discord platform")
		}
	default:
		return invalid("notify.platform %q must be one of console, telegram, discord", cfg.Notify.Platform)
	}

	return nil
}

// MonitorInterval returns the monitor tick period
func (c *Config) MonitorInterval() time.Duration {
	return time.Duration(c.Monitor.Interval) * time.Second
}

// ReminderInterval returns the reminder tick period
func (c *Config) ReminderInterval() time.Duration {
	return time.Duration(c.Reminders.Interval) * time.Second
}

// ListenAddr returns host:port for the HTTP server
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}

// Redacted returns a copy safe to print
func (c *Config) Redacted() Config {
	out := *c
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	out.Backend.Token = mask(out.Backend.Token)
	out.Notify.Telegram.BotToken = mask(out.Notify.Telegram.BotToken)
	out.Notify.Discord.Token = mask(out.Notify.Discord.Token)
	return out
}

func parseInts(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func parseInt64s(s string) ([]int64, error) {
	var out []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

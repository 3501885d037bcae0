package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/gmsas95/carewatch/internal/errors"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "carewatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load("", dir)
	require.NoError(t, err)

	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, "http://localhost:8080/api", cfg.Backend.BaseURL)
	assert.Equal(t, "jwtToken", cfg.Backend.TokenKey)
	assert.Equal(t, []int{1440, 60, 15}, cfg.Reminders.Thresholds)
	assert.Equal(t, StoreMemory, cfg.Reminders.Store)
	assert.Equal(t, PlatformConsole, cfg.Notify.Platform)
	assert.Equal(t, "@every 5m", cfg.Cron.RefreshSchedule)
	assert.Equal(t, time.Minute, cfg.MonitorInterval())
	assert.Equal(t, time.Minute, cfg.ReminderInterval())
	assert.Equal(t, filepath.Join(dir, "carewatch.db"), cfg.Storage.SQLitePath)
	assert.Equal(t, "0.0.0.0:8090", cfg.ListenAddr())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
backend:
  base_url: https://practice.example.com/api
monitor:
  interval: 30
reminders:
  thresholds: [120, 10]
  store: sqlite
cron:
  digest_patients: [4, 9]
log:
  level: debug
`)

	cfg, err := Load(path, dir)
	require.NoError(t, err)

	assert.Equal(t, "https://practice.example.com/api", cfg.Backend.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.MonitorInterval())
	assert.Equal(t, []int{120, 10}, cfg.Reminders.Thresholds)
	assert.Equal(t, StoreSQLite, cfg.Reminders.Store)
	assert.Equal(t, []int64{4, 9}, cfg.Cron.DigestPatients)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CAREWATCH_SERVER_PORT", "9191")
	t.Setenv("CAREWATCH_TOKEN", "from-alias")
	t.Setenv("CAREWATCH_REMINDERS_THRESHOLDS", "90,5")
	t.Setenv("CAREWATCH_NOTIFY_PLATFORM", "telegram")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_CHAT_ID", "-1001")

	cfg, err := Load("", dir)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "from-alias", cfg.Backend.Token)
	assert.Equal(t, []int{90, 5}, cfg.Reminders.Thresholds)
	assert.Equal(t, PlatformTelegram, cfg.Notify.Platform)
	assert.Equal(t, "123:abc", cfg.Notify.Telegram.BotToken)
	assert.Equal(t, int64(-1001), cfg.Notify.Telegram.ChatID)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown store", "reminders:\n  store: redis\n"},
		{"unknown platform", "notify:\n  platform: pager\n"},
		{"telegram without token", "notify:\n  platform: telegram\n"},
		{"discord without token", "notify:\n  platform: discord\n"},
		{"negative threshold", "reminders:\n  thresholds: [60, -1]\n"},
		{"zero interval", "monitor:\n  interval: 0\n"},
		{"bad port", "server:\n  port: 70000\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			_, err := Load(writeConfig(t, dir, tt.body), dir)
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrConfigInvalid)
		})
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(writeConfig(t, dir, "server: [unterminated"), dir)
	assert.Equal(t, apperrors.ErrConfigInvalid.Code, apperrors.GetCode(err))
}

func TestConfig_Redacted(t *testing.T) {
	cfg := &Config{}
	cfg.Backend.Token = "secret"
	cfg.Notify.Discord.Token = "also-secret"

	red := cfg.Redacted()
	assert.Equal(t, "********", red.Backend.Token)
	assert.Equal(t, "********", red.Notify.Discord.Token)
	assert.Equal(t, "", red.Notify.Telegram.BotToken)
	assert.Equal(t, "secret", cfg.Backend.Token, "the original is untouched")
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "log:\n  level: info\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, dir, nil, func(c *Config) { reloaded <- c })
	}()

	// give the watcher time to register before editing
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "debug", cfg.Log.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("config change was not picked up")
	}

	cancel()
	assert.NoError(t, <-done)
}

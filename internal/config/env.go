package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// LoadEnvFiles loads .env files from the working directory and the user's
// config directories. Variables already set in the environment win.
func LoadEnvFiles() error {
	envPaths := []string{
		"./.env",
	}

	if home, err := os.UserHomeDir(); err == nil {
		envPaths = append(envPaths,
			filepath.Join(home, ".carewatch", ".env"),
			filepath.Join(home, ".config", "carewatch", ".env"),
		)
	}

	for _, path := range envPaths {
		if _, err := os.Stat(path); err == nil {
			if err := loadEnvFile(path); err != nil {
				return err
			}
		}
	}

	return nil
}

func loadEnvFile(path string) error {
	return godotenv.Load(path)
}

// expandPath resolves a leading ~ to the user's home directory
func expandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// envAliases lists the shorter names accepted for canonical CAREWATCH_*
// variables, in priority order
var envAliases = map[string][]string{
	"CAREWATCH_BACKEND_TOKEN":             {"CAREWATCH_TOKEN", "JWT_TOKEN"},
	"CAREWATCH_NOTIFY_TELEGRAM_BOT_TOKEN": {"TELEGRAM_BOT_TOKEN"},
	"CAREWATCH_NOTIFY_TELEGRAM_CHAT_ID":   {"TELEGRAM_CHAT_ID"},
	"CAREWATCH_NOTIFY_DISCORD_TOKEN":      {"DISCORD_BOT_TOKEN", "DISCORD_TOKEN"},
	"CAREWATCH_NOTIFY_DISCORD_CHANNEL_ID": {"DISCORD_CHANNEL_ID"},
}

// ResolveEnvWithAliases returns the canonical variable when set, otherwise
// the first set alias
func ResolveEnvWithAliases(canonicalKey string) string {
	if val := os.Getenv(canonicalKey); val != "" {
		return val
	}
	for _, alias := range envAliases[canonicalKey] {
		if val := os.Getenv(alias); val != "" {
			return val
		}
	}
	return ""
}

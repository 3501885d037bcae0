package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// watchDebounce collapses the burst of events editors emit on save
const watchDebounce = 250 * time.Millisecond

// Watch reloads the config file whenever it changes and passes the new
// config to onChange. Invalid edits are logged and skipped. Watch blocks
// until ctx is done.
func Watch(ctx context.Context, configPath, dataDir string, logger *zap.Logger, onChange func(*Config)) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if configPath == "" {
		if dataDir == "" {
			dataDir = getDefaultDataDir()
		}
		configPath = DefaultPath(dataDir)
	}
	configPath = filepath.Clean(expandPath(configPath))

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// watch the directory so atomic rename-on-save is seen
	if err := watcher.Add(filepath.Dir(configPath)); err != nil {
		return err
	}
	logger.Info("Watching config file", zap.String("path", configPath))

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != configPath {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				debounce = time.After(watchDebounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Config watcher error", zap.Error(err))
		case <-debounce:
			debounce = nil
			cfg, err := Load(configPath, dataDir)
			if err != nil {
				logger.Warn("Ignoring invalid config change", zap.Error(err))
				continue
			}
			logger.Info("Config reloaded", zap.String("path", configPath))
			onChange(cfg)
		}
	}
}

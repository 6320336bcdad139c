package config

import (
	"context"
	"os"
	"sync"
	"time"

	"whatsrelay/internal/models"

	"github.com/sirupsen/logrus"
)

const (
	defaultPollInterval = 5 * time.Second
	writeSettleDelay    = 100 * time.Millisecond
)

// Watcher re-reads the configuration file whenever its modification time
// moves forward. Reload hooks only receive configurations that loaded and
// validated; tenants, database and listen settings still need a restart.
type Watcher struct {
	path     string
	logger   *logrus.Logger
	interval time.Duration

	mu      sync.RWMutex
	current *models.Config
	modTime time.Time
	hooks   []func(*models.Config)
}

func NewWatcher(path string, logger *logrus.Logger) *Watcher {
	return &Watcher{
		path:     path,
		logger:   logger,
		interval: defaultPollInterval,
	}
}

// Run loads the file once and polls until ctx is done. It fails only when
// the initial load does.
func (w *Watcher) Run(ctx context.Context) error {
	cfg, err := LoadConfig(w.path)
	if err != nil {
		return err
	}
	info, err := os.Stat(w.path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.current = cfg
	w.modTime = info.ModTime()
	w.mu.Unlock()

	w.logger.WithField("path", w.path).Info("Watching configuration file")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if w.modified() {
				time.Sleep(writeSettleDelay)
				w.reload()
			}
		}
	}
}

func (w *Watcher) modified() bool {
	info, err := os.Stat(w.path)
	if err != nil {
		w.logger.WithError(err).Warn("Cannot stat configuration file")
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if !info.ModTime().After(w.modTime) {
		return false
	}
	w.modTime = info.ModTime()
	return true
}

// Current returns the last configuration that loaded, nil before Run.
func (w *Watcher) Current() *models.Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnReload registers fn to run after each successful reload.
func (w *Watcher) OnReload(fn func(*models.Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.hooks = append(w.hooks, fn)
}

func (w *Watcher) reload() {
	next, err := LoadConfig(w.path)
	if err != nil {
		w.logger.WithError(err).Error("Configuration reload failed, keeping previous settings")
		return
	}

	w.mu.Lock()
	prev := w.current
	w.current = next
	hooks := append(([]func(*models.Config))(nil), w.hooks...)
	w.mu.Unlock()

	for _, setting := range RestartRequired(prev, next) {
		w.logger.WithField("setting", setting).Warn("Configuration change needs a restart to take effect")
	}
	w.logger.WithFields(logrus.Fields{
		"log_level":  next.LogLevel,
		"rate_limit": next.RateLimit.RequestsPerSecond,
	}).Info("Configuration reloaded")

	for _, hook := range hooks {
		w.runHook(hook, next)
	}
}

func (w *Watcher) runHook(hook func(*models.Config), cfg *models.Config) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.WithField("panic", r).Error("Configuration reload hook panicked")
		}
	}()
	hook(cfg)
}

// RestartRequired lists the settings that differ between prev and next but
// are only read at startup.
func RestartRequired(prev, next *models.Config) []string {
	if prev == nil || next == nil {
		return nil
	}

	var changed []string
	if len(prev.Tenants) != len(next.Tenants) {
		changed = append(changed, "tenants")
	} else {
		for i := range prev.Tenants {
			if prev.Tenants[i].PhoneNumberID != next.Tenants[i].PhoneNumberID || prev.Tenants[i].Table != next.Tenants[i].Table {
				changed = append(changed, "tenants")
				break
			}
		}
	}
	if prev.Database.Driver != next.Database.Driver || prev.Database.Path != next.Database.Path || prev.Database.DSN != next.Database.DSN {
		changed = append(changed, "database")
	}
	if prev.Server.Port != next.Server.Port {
		changed = append(changed, "server.port")
	}
	if prev.Media.Dir != next.Media.Dir {
		changed = append(changed, "media.dir")
	}
	return changed
}

// ApplyLogLevel returns a reload hook that keeps logger at the configured level.
func ApplyLogLevel(logger *logrus.Logger) func(*models.Config) {
	return func(c *models.Config) {
		if level, err := logrus.ParseLevel(c.LogLevel); err == nil {
			logger.SetLevel(level)
		}
	}
}

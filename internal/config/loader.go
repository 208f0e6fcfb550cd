package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const envPrefix = "ORDERFLOW"

// Loader reads configuration from defaults, an optional YAML file and
// ORDERFLOW_* environment variables, and can watch the file for changes.
type Loader struct {
	mu        sync.RWMutex
	viper     *viper.Viper
	validator *validator.Validate
	logger    *zap.Logger
	path      string
	config    *Config
	watcher   *fsnotify.Watcher
	onChange  []func(*Config)
}

// NewLoader creates a loader. path may be empty to skip the config file.
func NewLoader(path string, logger *zap.Logger) *Loader {
	return &Loader{
		viper:     newViper(),
		validator: validator.New(),
		logger:    logger,
		path:      path,
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("websocket.ping_interval", 30*time.Second)
	v.SetDefault("websocket.pong_timeout", 60*time.Second)
	v.SetDefault("websocket.write_timeout", 10*time.Second)
	v.SetDefault("websocket.send_buffer", 64)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "orderflow.db")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("queue.concurrency", 10)
	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.base_backoff", time.Second)
	v.SetDefault("queue.max_backoff", 30*time.Second)
	v.SetDefault("queue.rate_limit", 100)
	v.SetDefault("queue.rate_window", time.Minute)
	v.SetDefault("queue.journal_dir", "")
	v.SetDefault("queue.drain_timeout", 20*time.Second)

	v.SetDefault("pipeline.cache_ttl", time.Hour)
	v.SetDefault("pipeline.settlement_wait_min", 2*time.Second)
	v.SetDefault("pipeline.settlement_wait_max", 3*time.Second)
	v.SetDefault("pipeline.user_orders_limit", 50)

	v.SetDefault("venues.seed", 0)
	v.SetDefault("venues.quote_timeout", 2*time.Second)
	v.SetDefault("venues.max_amount", 1_000_000)
	v.SetDefault("venues.max_slippage", 0.05)
	v.SetDefault("venues.failure_rate", 0.03)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.topic", "order-status")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "orderflow")
}

// Load reads and validates the configuration
func (l *Loader) Load() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cfg, err := l.read(l.viper)
	if err != nil {
		return nil, err
	}
	l.config = cfg
	return cfg, nil
}

// Current returns the last successfully loaded configuration
func (l *Loader) Current() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config
}

// OnChange registers a callback invoked after every successful reload
func (l *Loader) OnChange(fn func(*Config)) {
	l.mu.Lock()
	l.onChange = append(l.onChange, fn)
	l.mu.Unlock()
}

func (l *Loader) read(v *viper.Viper) (*Config, error) {
	if l.path != "" {
		if _, err := os.Stat(l.path); err == nil {
			v.SetConfigFile(l.path)
			if err := v.MergeInConfig(); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", l.path, err)
			}
		} else {
			l.logger.Warn("Config file not found, using defaults and environment variables", zap.String("path", l.path))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := l.validator.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Watch reloads the configuration when the config file changes until ctx is done.
// Changes are debounced; an invalid file keeps the previous configuration.
func (l *Loader) Watch(ctx context.Context) error {
	if l.path == "" {
		l.logger.Info("No config file to watch, hot-reload disabled")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(l.path); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch config file %s: %w", l.path, err)
	}
	l.watcher = watcher

	go l.watchForChanges(ctx)
	l.logger.Info("File watcher started for hot-reload", zap.String("path", l.path))
	return nil
}

func (l *Loader) watchForChanges(ctx context.Context) {
	defer l.watcher.Close()

	debounceTimer := time.NewTimer(0)
	debounceTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				l.logger.Debug("Config file changed",
					zap.String("file", event.Name),
					zap.String("operation", event.Op.String()))
				debounceTimer.Reset(200 * time.Millisecond)
			}

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error("File watcher error", zap.Error(err))

		case <-debounceTimer.C:
			if err := l.reload(); err != nil {
				l.logger.Error("Failed to reload configuration", zap.Error(err))
			}
		}
	}
}

func (l *Loader) reload() error {
	cfg, err := l.read(newViper())
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.config = cfg
	callbacks := append([]func(*Config)(nil), l.onChange...)
	l.mu.Unlock()

	l.logger.Info("Configuration reloaded", zap.String("log_level", cfg.LogLevel))
	for _, fn := range callbacks {
		fn(cfg)
	}
	return nil
}

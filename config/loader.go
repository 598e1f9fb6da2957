package config

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"helmsman/core"

	"github.com/fsnotify/fsnotify"
	"github.com/samber/lo"
	"github.com/spf13/viper"
	str2duration "github.com/xhit/go-str2duration/v2"
)

// Manager owns the current configuration snapshot and keeps it fresh across
// file changes. Readers call Current and get an immutable *Config; a reload
// that fails validation is discarded and the previous snapshot stays live.
type Manager struct {
	viper   *viper.Viper
	current atomic.Pointer[Config]
	log     core.Logger
}

// Load reads, validates and installs the initial snapshot from path.
func Load(path string, log core.Logger) (*Manager, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("HELMSMAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	m := &Manager{viper: v, log: log}
	cfg, err := m.build()
	if err != nil {
		return nil, err
	}
	m.current.Store(cfg)
	return m, nil
}

// Current returns the live snapshot. Wait-free.
func (m *Manager) Current() *Config {
	return m.current.Load()
}

// Watch installs a file watcher that re-reads the config on change. Invalid
// snapshots are rejected loudly and the previous config stays in effect.
func (m *Manager) Watch() {
	m.viper.OnConfigChange(func(_ fsnotify.Event) {
		cfg, err := m.build()
		if err != nil {
			m.log.WithError(err).Error("config reload rejected, keeping previous snapshot")
			return
		}
		m.current.Store(cfg)
		m.log.Info("config reloaded")
	})
	m.viper.WatchConfig()
}

func (m *Manager) build() (*Config, error) {
	var cfg Config
	if err := m.viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	var err error
	if cfg.Engine.TickInterval, err = parseDuration(m.viper, "engine.tick_interval"); err != nil {
		return nil, err
	}
	if cfg.Engine.TickDeadline, err = parseDuration(m.viper, "engine.tick_deadline"); err != nil {
		return nil, err
	}
	if cfg.AI.LLM.Timeout, err = parseDuration(m.viper, "ai.llm.timeout"); err != nil {
		return nil, err
	}

	m.warnUnknownKeys()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func parseDuration(v *viper.Viper, key string) (time.Duration, error) {
	d, err := str2duration.ParseDuration(v.GetString(key))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

// warnUnknownKeys flags configuration keys outside the recognized tree.
// Unknown keys warn but never fail the load.
func (m *Manager) warnUnknownKeys() {
	known := []string{
		"log.", "exchange.", "storage.", "telegram.", "engine.", "ai.",
		"limits.", "defaults.", "strategies.", "pairs",
	}
	for _, key := range m.viper.AllKeys() {
		recognized := lo.SomeBy(known, func(prefix string) bool {
			return key == strings.TrimSuffix(prefix, ".") || strings.HasPrefix(key, prefix)
		})
		if !recognized && m.log != nil {
			m.log.Warnf("unknown config key %q ignored", key)
		}
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("exchange.quote_asset", "USDT")
	v.SetDefault("storage.backend", "bunt")
	v.SetDefault("storage.path", "helmsman.db")
	v.SetDefault("engine.tick_interval", "30s")
	v.SetDefault("engine.tick_deadline", "25s")
	v.SetDefault("engine.entry_concurrency", 4)
	v.SetDefault("engine.timeframe", "1m")
	v.SetDefault("engine.candle_window", 100)
	v.SetDefault("ai.enabled", true)
	v.SetDefault("ai.min_confidence", 0.55)
	v.SetDefault("ai.weights.sentiment", 0.20)
	v.SetDefault("ai.weights.technical", 0.35)
	v.SetDefault("ai.weights.macro", 0.15)
	v.SetDefault("ai.weights.llm", 0.30)
	v.SetDefault("ai.llm.temperature", 0.3)
	v.SetDefault("ai.llm.max_tokens", 2000)
	v.SetDefault("ai.llm.timeout", "60s")
	v.SetDefault("ai.llm.mode", "validator")
	v.SetDefault("limits.max_total_positions", 5)
	v.SetDefault("limits.max_order_size_usd", 500.0)
	v.SetDefault("limits.max_total_exposure_usd", 2000.0)
	v.SetDefault("limits.min_order_value_usd", 1.0)
	v.SetDefault("defaults.stop_loss_percent", 2.0)
	v.SetDefault("defaults.take_profit_percent", 3.0)
	v.SetDefault("defaults.position_size_percent", 10.0)
}

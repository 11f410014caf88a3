// Package config loads the gateway's layered YAML configuration via
// viper, restructured around spec.md §6's recognised key sections
// (middleware.middlewares, retry, proxy.<name>, worker.workers). Layering
// idiom adapted from the teacher's internal/infrastructure/config/config.go:
// defaults -> global ~/.lmproxy/config.yaml -> project-local ./config.yaml
// -> environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level gateway configuration.
type Config struct {
	Gateway    GatewayConfig              `mapstructure:"gateway"`
	Log        LogConfig                  `mapstructure:"log"`
	Middleware MiddlewareConfig           `mapstructure:"middleware"`
	Retry      RetryConfig                `mapstructure:"retry"`
	Proxy      map[string]ProxyPoolConfig `mapstructure:"proxy"`
	Worker     WorkerConfig               `mapstructure:"worker"`
}

// GatewayConfig controls the HTTP front end's bind address.
type GatewayConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// LogConfig mirrors internal/logging.Config.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// MiddlewareConfig holds the ordered middleware.middlewares list. Each
// entry is a raw settings map (class, priority, plus middleware-specific
// keys) rather than a fixed struct, since the set of recognised keys
// varies per middleware class, the same way worker.workers entries do.
type MiddlewareConfig struct {
	Middlewares []map[string]any `mapstructure:"middlewares"`
}

// Entries extracts (class, priority, settings) from the raw middleware
// list, defaulting priority to 0 when omitted.
func (m MiddlewareConfig) Entries() []Entry {
	return toEntries(m.Middlewares)
}

// RetryConfig mirrors spec.md §6's `retry` section.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	WaitTime    time.Duration `mapstructure:"wait_time"`
}

// ProxyPoolConfig mirrors spec.md §6's `proxy.<name>` section.
type ProxyPoolConfig struct {
	Class        string        `mapstructure:"class"`
	URL          string        `mapstructure:"url"`
	Initial      []string      `mapstructure:"initial"`
	Repeat       int           `mapstructure:"repeat"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Separator    string        `mapstructure:"separator"`
	CooldownTime time.Duration `mapstructure:"cooldown_time"`
}

// WorkerConfig holds the ordered worker.workers list, same raw-map shape
// as MiddlewareConfig.Middlewares for the same reason.
type WorkerConfig struct {
	Workers []map[string]any `mapstructure:"workers"`
}

// Entries extracts (class, priority, settings) from the raw worker list.
func (w WorkerConfig) Entries() []Entry {
	return toEntries(w.Workers)
}

// Entry is one {class, priority, ...settings} configuration block, shared
// by the middleware and worker registries' Create(class, settings) factories.
type Entry struct {
	Class    string
	Priority int
	Settings map[string]any
}

func toEntries(raw []map[string]any) []Entry {
	entries := make([]Entry, 0, len(raw))
	for _, m := range raw {
		class, _ := m["class"].(string)
		entries = append(entries, Entry{
			Class:    class,
			Priority: intOf(m["priority"]),
			Settings: m,
		})
	}
	return entries
}

func intOf(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

// Load reads and layers configuration: defaults, then the global
// ~/.lmproxy/config.yaml, then a project-local ./config.yaml (or
// ./config/config.yaml) merged on top, then LMPROXY_-prefixed environment
// variables as the final override.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// Layer 1: global config ~/.lmproxy/config.yaml
	v.AddConfigPath(HomeDir())
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read global config: %w", err)
		}
	}

	// Layer 2: project-local config, first match of ./config/config.yaml
	// or ./config.yaml wins, merged on top of the global layer.
	for _, dir := range []string{"./config", "."} {
		localPath := filepath.Join(dir, "config.yaml")
		if _, err := os.Stat(localPath); err != nil {
			continue
		}
		local := viper.New()
		local.SetConfigFile(localPath)
		if err := local.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read local config %s: %w", localPath, err)
		}
		if err := v.MergeConfigMap(local.AllSettings()); err != nil {
			return nil, fmt.Errorf("merge local config %s: %w", localPath, err)
		}
		break
	}

	// Layer 3: environment variables, e.g. LMPROXY_GATEWAY_PORT.
	v.SetEnvPrefix("LMPROXY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gateway.host", "0.0.0.0")
	v.SetDefault("gateway.port", 18790)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "stdout")

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.wait_time", "2s")
}

// Package config loads process configuration for the tuff-sandbox CLI from
// a config file and TUFF_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/tuff-dev/tuff-sandbox/capability/gatekeeper"
	"github.com/tuff-dev/tuff-sandbox/capability/grantstore"
)

// EnvPrefix prefixes every environment override, e.g. TUFF_LOG_LEVEL.
const EnvPrefix = "TUFF"

// Config is the resolved process configuration.
type Config struct {
	Log       LogConfig      `mapstructure:"log"`
	Security  string         `mapstructure:"security"`
	WorkDir   string         `mapstructure:"work_dir"`
	Grants    string         `mapstructure:"grants"`
	Metrics   MetricsConfig  `mapstructure:"metrics"`
	Downloads DownloadConfig `mapstructure:"downloads"`
	Compiler  CompilerConfig `mapstructure:"compiler"`
	Storage   StorageConfig  `mapstructure:"storage"`
	Limits    LimitsConfig   `mapstructure:"limits"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig controls the /metrics listener. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// DownloadConfig configures the download-center provider.
type DownloadConfig struct {
	AllowPrivate bool  `mapstructure:"allow_private"`
	MaxBytes     int64 `mapstructure:"max_bytes"`
}

// CompilerConfig configures the prelude compiler.
type CompilerConfig struct {
	MaxSourceBytes int64    `mapstructure:"max_source_bytes"`
	Externals      []string `mapstructure:"externals"`
}

// StorageConfig selects the plugin.storage backend. An empty RedisAddr
// keeps values in memory for the life of the process.
type StorageConfig struct {
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisPassword string `mapstructure:"redis_password"`
}

// LimitsConfig bounds capability calls per plugin. InvokePerSecond <= 0
// disables the limit.
type LimitsConfig struct {
	InvokePerSecond float64 `mapstructure:"invoke_per_second"`
	InvokeBurst     int     `mapstructure:"invoke_burst"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("security", string(gatekeeper.SecurityStandard))
	v.SetDefault("work_dir", filepath.Join(os.TempDir(), "tuff-sandbox"))
	v.SetDefault("grants", grantstore.DefaultPath())
	v.SetDefault("metrics.addr", "")
	v.SetDefault("downloads.allow_private", false)
	v.SetDefault("downloads.max_bytes", 50*1024*1024)
	v.SetDefault("compiler.max_source_bytes", 1<<20)
	v.SetDefault("compiler.externals", []string{})
	v.SetDefault("storage.redis_addr", "")
	v.SetDefault("storage.redis_db", 0)
	v.SetDefault("storage.redis_password", "")
	v.SetDefault("limits.invoke_per_second", 0.0)
	v.SetDefault("limits.invoke_burst", 10)
}

// Load reads file (or config.yaml from $HOME/.tuff and the working
// directory when file is empty) into v and decodes the result. A missing
// default config file is not an error.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".tuff"))
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enumerated settings.
func (c *Config) Validate() error {
	if _, err := gatekeeper.ParseSecurityLevel(c.Security); err != nil {
		return err
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q (want text or json)", c.Log.Format)
	}
	if c.Limits.InvokePerSecond > 0 && c.Limits.InvokeBurst < 1 {
		return fmt.Errorf("limits.invoke_burst must be at least 1")
	}
	if c.Compiler.MaxSourceBytes < 0 {
		return fmt.Errorf("compiler.max_source_bytes must not be negative")
	}
	return nil
}

// SecurityLevel returns the parsed security level.
func (c *Config) SecurityLevel() gatekeeper.SecurityLevel {
	level, _ := gatekeeper.ParseSecurityLevel(c.Security)
	return level
}

// Logger builds the process logger writing to w.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, _ := parseLevel(c.Log.Level)
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

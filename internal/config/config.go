package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/sysgate/internal/logger"
)

const pageSize = 4096

// Config represents the top-level TOML structure.
type Config struct {
	Log     LogConfig     `toml:"log" mapstructure:"log"`
	Console ConsoleConfig `toml:"console" mapstructure:"console"`
	FS      FSConfig      `toml:"fs" mapstructure:"fs"`
	Memory  MemoryConfig  `toml:"memory" mapstructure:"memory"`
	Limits  LimitsConfig  `toml:"limits" mapstructure:"limits"`
	History HistoryConfig `toml:"history" mapstructure:"history"`
	Monitor MonitorConfig `toml:"monitor" mapstructure:"monitor"`
	Metrics MetricsConfig `toml:"metrics" mapstructure:"metrics"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	ShowTime   bool   `toml:"show_time" mapstructure:"show_time"`
	File       string `toml:"file" mapstructure:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type ConsoleConfig struct {
	ExitBanner bool `toml:"exit_banner" mapstructure:"exit_banner"`
}

// FSConfig selects the user-visible filesystem. An empty Root keeps files in
// memory; Put lists host files copied in at boot as "host[:name]".
type FSConfig struct {
	Root string   `toml:"root" mapstructure:"root"`
	Put  []string `toml:"put" mapstructure:"put"`
}

type MemoryConfig struct {
	StackPages int `toml:"stack_pages" mapstructure:"stack_pages"`
}

type LimitsConfig struct {
	MaxOpenFiles int `toml:"max_open_files" mapstructure:"max_open_files"`
	MaxCmdline   int `toml:"max_cmdline" mapstructure:"max_cmdline"`
}

type HistoryConfig struct {
	Sinks   []string      `toml:"sinks" mapstructure:"sinks"`
	Timeout time.Duration `toml:"timeout" mapstructure:"timeout"`
}

type MonitorConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

type MetricsConfig struct {
	Enabled bool `toml:"enabled" mapstructure:"enabled"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "color")
	v.SetDefault("log.show_time", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)
	v.SetDefault("console.exit_banner", true)
	v.SetDefault("fs.root", "")
	v.SetDefault("fs.put", []string{})
	v.SetDefault("memory.stack_pages", 1)
	v.SetDefault("limits.max_open_files", 128)
	v.SetDefault("limits.max_cmdline", pageSize)
	v.SetDefault("history.sinks", []string{})
	v.SetDefault("history.timeout", 2*time.Second)
	v.SetDefault("monitor.listen", "")
	v.SetDefault("monitor.base_path", "/api")
	v.SetDefault("metrics.enabled", true)
}

// Default returns the built-in defaults, ignoring files and environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(err)
	}
	return &cfg
}

// Load reads the TOML file at path over the defaults. An empty path loads
// only defaults. SYSGATE_<SECTION>_<KEY> environment variables override both.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("sysgate")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch strings.ToLower(c.Log.Format) {
	case "color", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}
	if c.Memory.StackPages < 1 || c.Memory.StackPages > 64 {
		errs = append(errs, fmt.Errorf("memory.stack_pages: %d not in 1..64", c.Memory.StackPages))
	}
	if c.Limits.MaxOpenFiles < 1 {
		errs = append(errs, fmt.Errorf("limits.max_open_files: must be positive, got %d", c.Limits.MaxOpenFiles))
	}
	if c.Limits.MaxCmdline < 1 || c.Limits.MaxCmdline > c.Memory.StackPages*pageSize {
		errs = append(errs, fmt.Errorf("limits.max_cmdline: %d must be between 1 and the stack size", c.Limits.MaxCmdline))
	}
	if c.History.Timeout <= 0 {
		errs = append(errs, errors.New("history.timeout: must be positive"))
	}
	if !strings.HasPrefix(c.Monitor.BasePath, "/") {
		errs = append(errs, fmt.Errorf("monitor.base_path: %q must start with /", c.Monitor.BasePath))
	}
	return errors.Join(errs...)
}

// Logger converts the log section for the logger package.
func (c LogConfig) Logger() logger.Config {
	return logger.Config{
		Level:      c.Level,
		Format:     c.Format,
		ShowTime:   c.ShowTime,
		File:       c.File,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
		Compress:   c.Compress,
	}
}

// ParsePut splits a "host[:name]" entry. Without a name the base name of the
// host path is used.
func ParsePut(entry string) (host, name string) {
	host = entry
	if i := strings.LastIndexByte(entry, ':'); i > 0 && !isDriveColon(entry, i) {
		host, name = entry[:i], entry[i+1:]
	}
	if name == "" {
		name = host
		if j := strings.LastIndexAny(name, `/\`); j >= 0 {
			name = name[j+1:]
		}
	}
	return host, name
}

// isDriveColon reports whether the colon at i is a Windows drive separator
// such as the one in C:\data or C:/data.
func isDriveColon(entry string, i int) bool {
	return i == 1 && len(entry) > 2 && (entry[2] == '\\' || entry[2] == '/')
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/measures/internal/catalog"
	"github.com/loykin/measures/internal/logger"
	tlsx "github.com/loykin/measures/internal/tls"
	"github.com/loykin/measures/internal/update"
)

// EnvPrefix prefixes environment overrides, e.g. MEASURES_SOURCE_TYPE.
const EnvPrefix = "MEASURES"

// Config represents the top-level TOML structure.
type Config struct {
	Path                 string         `mapstructure:"path"`
	RequireObservatories bool           `mapstructure:"require_observatories"`
	IncludeObservatories bool           `mapstructure:"include_observatories"`
	CheckInterval        time.Duration  `mapstructure:"check_interval"`
	EnvFiles             []string       `mapstructure:"env_files"`
	Source               catalog.Config `mapstructure:"source"`
	Log                  logger.Config  `mapstructure:"log"`
	History              HistoryConfig  `mapstructure:"history"`
	Metrics              MetricsConfig  `mapstructure:"metrics"`
	Server               ServerConfig   `mapstructure:"server"`
	Schedule             ScheduleConfig `mapstructure:"schedule"`
}

type HistoryConfig struct {
	DSN  string   `mapstructure:"dsn"`
	DSNs []string `mapstructure:"dsns"`
}

// Targets returns every configured sink DSN.
func (h HistoryConfig) Targets() []string {
	var out []string
	for _, d := range append([]string{h.DSN}, h.DSNs...) {
		if d = strings.TrimSpace(d); d != "" {
			out = append(out, d)
		}
	}
	return out
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

type ServerConfig struct {
	Listen   string      `mapstructure:"listen"`
	BasePath string      `mapstructure:"base_path"`
	TLS      tlsx.Config `mapstructure:"tls"`
}

type ScheduleConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Spec    string `mapstructure:"spec"`
}

var defaults = map[string]any{
	"path":                  "~/.casa/measures",
	"require_observatories": true,
	"include_observatories": false,
	"check_interval":        update.DefaultCheckInterval,
	"env_files":             []string{},
	"source.type":           "ftp",
	"source.address":        catalog.DefaultFTPAddress,
	"source.dir":            catalog.DefaultFTPDir,
	"source.url":            "",
	"source.user":           "",
	"source.password":       "",
	"source.tls":            false,
	"source.timeout":        30 * time.Second,
	"log.level":             string(logger.LevelInfo),
	"log.format":            string(logger.FormatText),
	"log.color":             true,
	"log.timestamps":        true,
	"log.source":            false,
	"log.file.path":         "",
	"log.file.max_size_mb":  logger.DefaultMaxSizeMB,
	"log.file.max_backups":  logger.DefaultMaxBackups,
	"log.file.max_age_days": logger.DefaultMaxAgeDays,
	"log.file.compress":     false,
	"history.dsn":           "",
	"history.dsns":          []string{},
	"metrics.enabled":       false,
	"metrics.listen":        ":9090",
	"server.listen":         ":8080",
	"server.base_path":      "/api",
	"server.tls.enabled":    false,
	"schedule.enabled":      true,
	"schedule.spec":         "@daily",
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("toml")
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Default returns the built-in configuration plus environment overrides.
func Default() (*Config, error) {
	return decode(newViper())
}

// Load reads a TOML file; an empty path means defaults only. Environment
// variables override file values, and env_files are applied first without
// replacing variables that are already set.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	base := filepath.Dir(path)
	for _, f := range v.GetStringSlice("env_files") {
		if !filepath.IsAbs(f) {
			f = filepath.Join(base, f)
		}
		pairs, err := loadEnvFile(f)
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", f, err)
		}
		for k, val := range pairs {
			if _, ok := os.LookupEnv(k); !ok {
				if err := os.Setenv(k, val); err != nil {
					return nil, err
				}
			}
		}
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks values that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Path) == "" {
		errs = append(errs, update.ErrUnsetPath)
	}
	if c.CheckInterval < 0 {
		errs = append(errs, fmt.Errorf("check_interval must not be negative"))
	}
	if err := c.Log.Validate(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Source.Type) {
	case "", "ftp":
	case "http", "https":
		if c.Source.URL == "" {
			errs = append(errs, fmt.Errorf("source.url is required for %s sources", c.Source.Type))
		}
	case "dir", "local":
		if c.Source.Dir == "" {
			errs = append(errs, fmt.Errorf("source.dir is required for dir sources"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown source type %q", c.Source.Type))
	}
	if err := c.Server.TLS.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Schedule.Enabled && strings.TrimSpace(c.Schedule.Spec) == "" {
		errs = append(errs, fmt.Errorf("schedule.spec is required when the schedule is enabled"))
	}
	return errors.Join(errs...)
}

// UpdateConfig is the orchestrator view of c.
func (c *Config) UpdateConfig() update.Config {
	return update.Config{
		Path:                 c.Path,
		RequireObservatories: c.RequireObservatories,
		CheckInterval:        c.CheckInterval,
	}
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			m[k] = v
		}
	}
	return m, nil
}

// Package config loads modgate settings from defaults, an optional
// modgate.yaml file and MODGATE_ environment variables. Later sources
// override earlier ones.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dshills/modgate/internal/logging"
	"github.com/dshills/modgate/internal/plugin"
	plua "github.com/dshills/modgate/internal/plugin/lua"
)

const (
	// FileName is the config file name without extension.
	FileName = "modgate"
	// FileType is the config file format.
	FileType = "yaml"
	// EnvPrefix prefixes environment overrides, e.g. MODGATE_MODULES_DIR.
	EnvPrefix = "MODGATE"
)

// ErrInvalid is returned when a loaded configuration fails validation.
var ErrInvalid = errors.New("invalid configuration")

// Config holds the host settings.
type Config struct {
	ModulesDir string `mapstructure:"modules_dir"`
	CompatDir  string `mapstructure:"compat_dir"`

	// CheckCode scans sources during LoadAll and watcher-driven loads.
	CheckCode bool `mapstructure:"check_code"`
	// Autoload loads every valid unit at startup.
	Autoload bool `mapstructure:"autoload"`
	// Watch follows the unit directories for new and removed units.
	Watch       bool          `mapstructure:"watch"`
	SettleDelay time.Duration `mapstructure:"settle_delay"`

	// CallTimeout bounds each entry into unit code.
	CallTimeout time.Duration `mapstructure:"call_timeout"`

	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`

	RosterPath string   `mapstructure:"roster_path"`
	Protected  []string `mapstructure:"protected"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() Config {
	return Config{
		ModulesDir:  plugin.DefaultModulesDir,
		CompatDir:   plugin.DefaultCompatDir,
		CheckCode:   true,
		Autoload:    true,
		SettleDelay: plugin.DefaultSettleDelay,
		CallTimeout: plua.DefaultCallTimeout,
		LogLevel:    "info",
		RosterPath:  filepath.Join("data", "roster.db"),
		Protected:   append([]string(nil), plugin.DefaultProtected...),
	}
}

// LoadOptions selects where configuration is read from.
type LoadOptions struct {
	// File is an explicit config file. It must exist.
	File string

	// Dir is searched for modgate.yaml when File is empty. Defaults to the
	// working directory.
	Dir string
}

// Load reads the configuration. It also returns the config file used, or
// "" when only defaults and environment applied.
func Load(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	resolved := ""
	if opts.File != "" {
		if !fileExists(opts.File) {
			return nil, "", fmt.Errorf("config file not found: %s", opts.File)
		}
		resolved = opts.File
	} else {
		dir := opts.Dir
		if dir == "" {
			dir = "."
		}
		candidate := filepath.Join(dir, FileName+"."+FileType)
		if fileExists(candidate) {
			resolved = candidate
		}
	}

	if resolved != "" {
		v.SetConfigFile(resolved)
		v.SetConfigType(FileType)
		if err := v.ReadInConfig(); err != nil {
			return nil, "", fmt.Errorf("read config %s: %w", resolved, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return &cfg, resolved, nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("modules_dir", d.ModulesDir)
	v.SetDefault("compat_dir", d.CompatDir)
	v.SetDefault("check_code", d.CheckCode)
	v.SetDefault("autoload", d.Autoload)
	v.SetDefault("watch", d.Watch)
	v.SetDefault("settle_delay", d.SettleDelay)
	v.SetDefault("call_timeout", d.CallTimeout)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_json", d.LogJSON)
	v.SetDefault("roster_path", d.RosterPath)
	v.SetDefault("protected", d.Protected)
}

// Validate checks the values the decoder cannot.
func (c *Config) Validate() error {
	switch {
	case c.ModulesDir == "" || c.CompatDir == "":
		return fmt.Errorf("%w: modules_dir and compat_dir must be set", ErrInvalid)
	case filepath.Clean(c.ModulesDir) == filepath.Clean(c.CompatDir):
		return fmt.Errorf("%w: modules_dir and compat_dir must differ", ErrInvalid)
	case c.SettleDelay <= 0:
		return fmt.Errorf("%w: settle_delay must be positive", ErrInvalid)
	case c.CallTimeout <= 0:
		return fmt.Errorf("%w: call_timeout must be positive", ErrInvalid)
	case c.RosterPath == "":
		return fmt.Errorf("%w: roster_path must be set", ErrInvalid)
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: unknown log_level %q", ErrInvalid, c.LogLevel)
	}
	return nil
}

// Layout returns the unit directories.
func (c *Config) Layout() plugin.Layout {
	return plugin.Layout{ModulesDir: c.ModulesDir, CompatDir: c.CompatDir}
}

// Logging returns the logger configuration.
func (c *Config) Logging() logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = logging.ParseLevel(c.LogLevel)
	lc.JSON = c.LogJSON
	return lc
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

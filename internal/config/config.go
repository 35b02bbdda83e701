// Package config loads runtime configuration from defaults, an optional YAML
// file, and NSEDATA_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/meet-minimalist/nsedata/internal/apperror"
)

// Config is the full runtime configuration for the CLI.
type Config struct {
	DataDir       string        `mapstructure:"data_dir"`
	DBPath        string        `mapstructure:"db_path"`
	Source        string        `mapstructure:"source"`
	Workers       int           `mapstructure:"workers"`
	PaceInterval  time.Duration `mapstructure:"pace_interval"`
	SymbolTimeout time.Duration `mapstructure:"symbol_timeout"`
	Epoch         string        `mapstructure:"epoch"`
	SymbolsFile   string        `mapstructure:"symbols_file"`
	Index         string        `mapstructure:"index"`
}

const epochFormat = "2006-01-02"

// Load builds the configuration. A missing config file is fine; an unreadable
// or malformed one is not.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("data_dir", "nse_data")
	v.SetDefault("db_path", "nsedata.db")
	v.SetDefault("source", "nse")
	v.SetDefault("workers", 3)
	v.SetDefault("pace_interval", 2*time.Second)
	v.SetDefault("symbol_timeout", 2*time.Minute)
	v.SetDefault("epoch", "2000-01-01")
	// Empty defaults so AutomaticEnv sees these keys too.
	v.SetDefault("symbols_file", "")
	v.SetDefault("index", "")

	v.SetEnvPrefix("NSEDATA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			// A missing file leaves defaults and environment in effect.
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, apperror.Wrap(apperror.Config, fmt.Errorf("read config file: %w", err))
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperror.Wrap(apperror.Config, fmt.Errorf("parse config: %w", err))
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DataDir == "" {
		return apperror.New(apperror.Config, "data_dir must not be empty")
	}
	if c.DBPath == "" {
		return apperror.New(apperror.Config, "db_path must not be empty")
	}
	if c.Source != "nse" && c.Source != "yahoo" {
		return apperror.New(apperror.Config, fmt.Sprintf("unknown source %q (want nse or yahoo)", c.Source))
	}
	if c.Workers <= 0 {
		return apperror.New(apperror.Config, "workers must be positive")
	}
	if c.PaceInterval < 0 {
		return apperror.New(apperror.Config, "pace_interval must not be negative")
	}
	if c.SymbolTimeout <= 0 {
		return apperror.New(apperror.Config, "symbol_timeout must be positive")
	}
	if _, err := time.Parse(epochFormat, c.Epoch); err != nil {
		return apperror.Wrap(apperror.Config, fmt.Errorf("parse epoch: %w", err))
	}
	return nil
}

// EpochDate returns the configured epoch as a UTC midnight date. Load
// validates the format, so this never fails for a loaded Config.
func (c *Config) EpochDate() time.Time {
	t, _ := time.Parse(epochFormat, c.Epoch)
	return t.UTC()
}

// Package config loads application settings through viper. Precedence is
// flags over environment over config file over defaults; the CABLECOACH_
// prefix maps environment variables onto keys (CABLECOACH_LINK_MODE sets
// link.mode).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces the environment variables viper reads.
const EnvPrefix = "CABLECOACH"

// Link modes.
const (
	LinkModeBLE = "ble"
	LinkModeSim = "sim"
)

// Config is the full application configuration.
type Config struct {
	Link    LinkConfig    `mapstructure:"link"`
	Session SessionConfig `mapstructure:"session"`
	Storage StorageConfig `mapstructure:"storage"`
	Logging LoggingConfig `mapstructure:"logging"`
	Routine RoutineConfig `mapstructure:"routine"`
}

// LinkConfig selects and filters the machine connection.
type LinkConfig struct {
	// Mode is LinkModeBLE for a real machine or LinkModeSim for the
	// built-in simulator.
	Mode string `mapstructure:"mode"`
	// NamePrefix narrows the BLE scan to advertised names starting with it.
	NamePrefix string `mapstructure:"name_prefix"`
	// Address pins the scan to one device, bypassing the name filter.
	Address string `mapstructure:"address"`
	// SimPort serves the simulator's HTTP control panel; 0 disables it.
	SimPort int `mapstructure:"sim_port"`
}

// SessionConfig tunes engine timing.
type SessionConfig struct {
	// CountdownSeconds is the get-ready pause before a set loads. Zero
	// starts immediately.
	CountdownSeconds int `mapstructure:"countdown_seconds"`
	// SettleDelayMs is the wait between configuring the machine and
	// starting the set, giving the motors time to take the load point.
	SettleDelayMs int `mapstructure:"settle_delay_ms"`
}

// SettleDelay returns the settle wait as a duration.
func (c SessionConfig) SettleDelay() time.Duration {
	return time.Duration(c.SettleDelayMs) * time.Millisecond
}

// StorageConfig locates the on-disk state.
type StorageConfig struct {
	DatabasePath string `mapstructure:"database_path"`
	PrefsPath    string `mapstructure:"prefs_path"`
}

// LoggingConfig controls the rotating log file.
type LoggingConfig struct {
	FilePath   string `mapstructure:"file_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// RoutineConfig points at user-authored routines. FilePath is optional;
// built-in routines are always available.
type RoutineConfig struct {
	FilePath string `mapstructure:"file_path"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	data := DataDir()
	return &Config{
		Link: LinkConfig{
			Mode:       LinkModeBLE,
			NamePrefix: "Vee",
			Address:    "",
			SimPort:    9180,
		},
		Session: SessionConfig{
			CountdownSeconds: 3,
			SettleDelayMs:    750,
		},
		Storage: StorageConfig{
			DatabasePath: filepath.Join(data, "history.db"),
			PrefsPath:    filepath.Join(data, "prefs.json"),
		},
		Logging: LoggingConfig{
			FilePath:   filepath.Join(data, "cable-coach.log"),
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Routine: RoutineConfig{
			FilePath: "",
		},
	}
}

// SetDefaults registers every key's default with viper. Must run before
// ReadInConfig so unset keys resolve.
func SetDefaults() {
	d := Default()
	viper.SetDefault("link.mode", d.Link.Mode)
	viper.SetDefault("link.name_prefix", d.Link.NamePrefix)
	viper.SetDefault("link.address", d.Link.Address)
	viper.SetDefault("link.sim_port", d.Link.SimPort)
	viper.SetDefault("session.countdown_seconds", d.Session.CountdownSeconds)
	viper.SetDefault("session.settle_delay_ms", d.Session.SettleDelayMs)
	viper.SetDefault("storage.database_path", d.Storage.DatabasePath)
	viper.SetDefault("storage.prefs_path", d.Storage.PrefsPath)
	viper.SetDefault("logging.file_path", d.Logging.FilePath)
	viper.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	viper.SetDefault("logging.max_age_days", d.Logging.MaxAgeDays)
	viper.SetDefault("routine.file_path", d.Routine.FilePath)
}

// Init wires viper's sources: defaults, the config file (explicit path or
// the default location, missing file tolerated), and the environment.
func Init(configFile string) error {
	SetDefaults()

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(ConfigDir())
	}

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("reading config: %w", err)
	}
	return nil
}

// Load unmarshals and validates whatever viper currently holds.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}

// ConfigDir returns where the config file lives, honoring XDG_CONFIG_HOME.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "cable-coach")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cable-coach"
	}
	return filepath.Join(home, ".config", "cable-coach")
}

// DataDir returns where state files live by default, honoring XDG_DATA_HOME.
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "cable-coach")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cable-coach"
	}
	return filepath.Join(home, ".local", "share", "cable-coach")
}

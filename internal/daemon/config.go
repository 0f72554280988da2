// Package daemon holds the shared plumbing of the fennecd process:
// configuration, logging and module supervision.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the fennecd configuration file.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	Scanner   ScannerConfig   `toml:"scanner"`
	Watcher   WatcherConfig   `toml:"watcher"`
	VFolders  VFolderConfig   `toml:"vfolders"`
	Transcode TranscodeConfig `toml:"transcode"`
	SSDP      SSDPConfig      `toml:"ssdp"`
	Events    EventsConfig    `toml:"events"`
	Feeds     FeedsConfig     `toml:"feeds"`
	Log       LogConfig       `toml:"log"`
}

// ServerConfig configures the streaming server.
type ServerConfig struct {
	Listen     string   `toml:"listen"`
	AllowedIPs []string `toml:"allowed_ips"`
}

// DatabaseConfig locates the catalog database.
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// ScannerConfig configures the share scan.
type ScannerConfig struct {
	Shares        []string `toml:"shares"`
	ScanOnStartup bool     `toml:"scan_on_startup"`
}

// WatcherConfig toggles live filesystem watching.
type WatcherConfig struct {
	Enabled bool `toml:"enabled"`
}

// VFolderConfig points at the virtual folder layout file.
type VFolderConfig struct {
	Layout string `toml:"layout"`
}

// TranscodeConfig configures on-the-fly conversion.
type TranscodeConfig struct {
	Enabled    bool     `toml:"enabled"`
	Extensions []string `toml:"extensions"`
	Bitrate    int      `toml:"bitrate"`
}

// SSDPConfig configures network discovery.
type SSDPConfig struct {
	Enabled  bool   `toml:"enabled"`
	UUID     string `toml:"uuid"`
	Location string `toml:"location"`
	MaxAgeS  int    `toml:"max_age_s"`
}

// EventsConfig configures MQTT notifications.
type EventsConfig struct {
	Enabled        bool   `toml:"enabled"`
	Embedded       bool   `toml:"embedded"`
	BrokerURL      string `toml:"broker_url"`
	Listen         string `toml:"listen"`
	AllowAnonymous bool   `toml:"allow_anonymous"`
	Username       string `toml:"username"`
	Password       string `toml:"password"`
	TopicPrefix    string `toml:"topic_prefix"`
}

// FeedsConfig configures podcast imports.
type FeedsConfig struct {
	URLs        []string `toml:"urls"`
	Title       string   `toml:"title"`
	MaxEpisodes int      `toml:"max_episodes"`
}

// LogConfig configures the daemon logger.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	Output string `toml:"output"`
	UTC    bool   `toml:"utc"`
}

// DefaultConfigPath returns the XDG location of the config file.
func DefaultConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "fennec", "fennec.toml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "fennec.toml"
	}
	return filepath.Join(home, ".config", "fennec", "fennec.toml")
}

// LoadConfig reads, defaults and validates a config file.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("daemon: parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = "0.0.0.0:5080"
	}
	if c.Database.Path == "" {
		c.Database.Path = filepath.Join(dataDir(), "catalog.db")
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stderr"
	}
	if c.SSDP.MaxAgeS <= 0 {
		c.SSDP.MaxAgeS = 1800
	}
}

func (c *Config) validate() error {
	if len(c.Scanner.Shares) == 0 {
		return errors.New("daemon: config needs at least one scanner share")
	}
	if c.Events.Enabled && !c.Events.Embedded && c.Events.BrokerURL == "" {
		return errors.New("daemon: events enabled but no broker_url and embedded broker disabled")
	}
	if c.SSDP.Enabled && c.SSDP.UUID == "" {
		return errors.New("daemon: ssdp enabled but no uuid configured")
	}
	return nil
}

func dataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "fennec")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share", "fennec")
}

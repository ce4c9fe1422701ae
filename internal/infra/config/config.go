// Package config binds the daemon's configuration surface onto a
// viper-backed struct, extending the teacher's out_dir/log/store shape to
// every field spec 6 enumerates: per-server connection parameters, the
// download-engine tunables, and the par-repair passthrough fields.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

type Config struct {
	Servers  []ServerConfig `mapstructure:"servers" yaml:"servers"`
	Download DownloadConfig `mapstructure:"download" yaml:"download"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`

	Port string `mapstructure:"port" yaml:"port"`
}

// ServerConfig is one [SRV] entry (spec 6's per-server fields), read from
// the config file at every startup and not stored in Disk State. Encryption
// selects a TLS dial. JoinGroup and Cipher are parsed but read by no in-tree
// code: the downloader joins a file's groups whenever it has any, and the
// TLS dial sets no cipher preference.
type ServerConfig struct {
	ID            string `mapstructure:"id" yaml:"id"`
	Level         int    `mapstructure:"level" yaml:"level"`
	Group         int    `mapstructure:"group" yaml:"group"`
	Host          string `mapstructure:"host" yaml:"host"`
	Port          int    `mapstructure:"port" yaml:"port"`
	Username      string `mapstructure:"username" yaml:"username"`
	Password      string `mapstructure:"password" yaml:"password"`
	JoinGroup     bool   `mapstructure:"join_group" yaml:"join_group"`
	Encryption    bool   `mapstructure:"encryption" yaml:"encryption"`
	Cipher        string `mapstructure:"cipher" yaml:"cipher"`
	Connections   int    `mapstructure:"connections" yaml:"connections"`
	RetentionDays int    `mapstructure:"retention" yaml:"retention"`
	Active        bool   `mapstructure:"active" yaml:"active"`
}

// DownloadConfig carries the engine-wide tunables from spec 6: article/
// terminate/connection timeouts, retry policy, the decode/write/continue
// toggles, dupe checking, rate accounting, the health guard policy, and the
// par-repair passthrough fields (par_scan/par_check/par_repair/
// par_time_limit are accepted but neither persisted nor consumed by any
// in-tree code).
type DownloadConfig struct {
	OutDir       string `mapstructure:"out_dir" yaml:"out_dir"`
	CompletedDir string `mapstructure:"completed_dir" yaml:"completed_dir"`
	TempDir      string `mapstructure:"temp_dir" yaml:"temp_dir"`

	DownloadRate      int64         `mapstructure:"download_rate" yaml:"download_rate"`
	ArticleTimeout    time.Duration `mapstructure:"article_timeout" yaml:"article_timeout"`
	TerminateTimeout  time.Duration `mapstructure:"terminate_timeout" yaml:"terminate_timeout"`
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout" yaml:"connection_timeout"`
	Retries           int           `mapstructure:"retries" yaml:"retries"`
	RetryInterval     time.Duration `mapstructure:"retry_interval" yaml:"retry_interval"`

	CRCCheck        bool `mapstructure:"crc_check" yaml:"crc_check"`
	Decode          bool `mapstructure:"decode" yaml:"decode"`
	DirectWrite     bool `mapstructure:"direct_write" yaml:"direct_write"`
	ContinuePartial bool `mapstructure:"continue_partial" yaml:"continue_partial"`
	DupeCheck       bool `mapstructure:"dupe_check" yaml:"dupe_check"`
	AccurateRate    bool `mapstructure:"accurate_rate" yaml:"accurate_rate"`

	PropagationDelay time.Duration `mapstructure:"propagation_delay" yaml:"propagation_delay"`
	HealthCheck      string        `mapstructure:"health_check" yaml:"health_check"` // none|pause|delete

	ParScan      string        `mapstructure:"par_scan" yaml:"par_scan"`
	ParCheck     string        `mapstructure:"par_check" yaml:"par_check"`
	ParRepair    bool          `mapstructure:"par_repair" yaml:"par_repair"`
	ParTimeLimit time.Duration `mapstructure:"par_time_limit" yaml:"par_time_limit"`

	ThreadLimit int `mapstructure:"thread_limit" yaml:"thread_limit"`
}

type LogConfig struct {
	Path          string `mapstructure:"path" yaml:"path"`
	Level         string `mapstructure:"level" yaml:"level"`
	IncludeStdout bool   `mapstructure:"include_stdout" yaml:"include_stdout"`
	MaxSizeMB     int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups    int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays    int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

type StoreConfig struct {
	SQLitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
}

// Load reads the config file at path (defaulting to config.yaml, falling
// back to /config/config.yaml under a container mount), applies defaults,
// overlays GONZBD_-prefixed environment variables, and validates the
// result, matching the teacher's Load contract.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.yaml"
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if path != "config.yaml" {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		if _, errEx := os.Stat("/config/config.yaml"); errEx == nil {
			path = "/config/config.yaml"
		} else {
			return nil, fmt.Errorf("config file not found: %s\n\nrun: cp config.yaml.example config.yaml", path)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	v.SetEnvPrefix("GONZBD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WatchReload installs an fsnotify-backed hot-reload hook, invoking onChange
// with the freshly reparsed config whenever the underlying file changes.
// Validation failures are reported to onError and the prior config is kept.
func WatchReload(path string, onChange func(*Config), onError func(error)) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := Load(path)
		if err != nil {
			onError(err)
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("download.out_dir", "./downloads")
	v.SetDefault("download.completed_dir", "./downloads/completed")
	v.SetDefault("download.temp_dir", "./downloads/.tmp")
	v.SetDefault("download.article_timeout", "90s")
	v.SetDefault("download.terminate_timeout", "600s")
	v.SetDefault("download.connection_timeout", "60s")
	v.SetDefault("download.retries", 3)
	v.SetDefault("download.retry_interval", "10s")
	v.SetDefault("download.crc_check", true)
	v.SetDefault("download.decode", true)
	v.SetDefault("download.direct_write", false)
	v.SetDefault("download.continue_partial", true)
	v.SetDefault("download.dupe_check", true)
	v.SetDefault("download.accurate_rate", false)
	v.SetDefault("download.health_check", "pause")
	v.SetDefault("download.thread_limit", 4)
	v.SetDefault("log.path", "nzbgetd.log")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.include_stdout", true)
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("store.sqlite_path", "./nzbgetd.db")
}

func (c *Config) validate() error {
	if len(c.Servers) == 0 {
		return errors.New("at least one server must be configured")
	}
	for i, s := range c.Servers {
		if s.ID == "" {
			return fmt.Errorf("server[%d] requires a unique ID", i)
		}
		if s.Host == "" {
			return fmt.Errorf("server %s: host is required", s.ID)
		}
		if s.Port == 0 {
			return fmt.Errorf("server %s: port is required", s.ID)
		}
		if s.Connections <= 0 {
			c.Servers[i].Connections = 10
		}
	}
	if c.Download.OutDir == "" {
		c.Download.OutDir = "./downloads"
	}
	if c.Download.Retries <= 0 {
		c.Download.Retries = 1
	}
	return nil
}

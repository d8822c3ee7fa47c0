package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Quota   QuotaConfig   `yaml:"quota"`
	Thumbs  ThumbsConfig  `yaml:"thumbs"`
	Auth    AuthConfig    `yaml:"auth"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host       string `yaml:"host"`
	Port       string `yaml:"port"`
	StaticLink string `yaml:"static_link"`
}

// StorageConfig holds blob storage and database configuration.
type StorageConfig struct {
	Path          string        `yaml:"path"`
	Database      string        `yaml:"database"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// QuotaConfig holds upload admission limits.
type QuotaConfig struct {
	MaxFileSize    int64         `yaml:"max_file_size"`
	DefaultQuota   int64         `yaml:"default_quota"`
	Oversize       int64         `yaml:"oversize"`
	FilesLimit     int           `yaml:"files_limit"`
	TimeWindow     time.Duration `yaml:"time_window"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
	ReserveTTL     time.Duration `yaml:"reserve_ttl"`
}

// ThumbsConfig holds derivative generation configuration.
type ThumbsConfig struct {
	Size          int   `yaml:"size"`
	AvatarSizes   []int `yaml:"avatar_sizes"`
	MaxAvatarSize int   `yaml:"max_avatar_size"`
	Workers       int   `yaml:"workers"`
	QueueSize     int   `yaml:"queue_size"`
}

// AuthConfig holds token issuance configuration.
type AuthConfig struct {
	TokenLifetime time.Duration `yaml:"token_lifetime"`
	CodeLifetime  time.Duration `yaml:"code_lifetime"`
}

// LoggingConfig holds log output configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load reads the configuration from CONFIG_PATH (default config.yaml),
// falling back to defaults when the file is absent or a field is zero.
func Load() (*Config, error) {
	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}

	config := defaultConfig()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	return config, nil
}

func defaultConfig() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.StaticLink == "" {
		c.Server.StaticLink = "/media"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "./storage"
	}
	if c.Storage.Database == "" {
		c.Storage.Database = "./gallery.db"
	}
	if c.Storage.SweepInterval == 0 {
		c.Storage.SweepInterval = 10 * time.Minute
	}
	if c.Quota.MaxFileSize == 0 {
		c.Quota.MaxFileSize = 30 * 1024 * 1024
	}
	if c.Quota.DefaultQuota == 0 {
		c.Quota.DefaultQuota = 100 * 1024 * 1024
	}
	if c.Quota.Oversize == 0 {
		c.Quota.Oversize = 1024 * 1024
	}
	if c.Quota.FilesLimit == 0 {
		c.Quota.FilesLimit = 10
	}
	if c.Quota.TimeWindow == 0 {
		c.Quota.TimeWindow = 10 * time.Second
	}
	if c.Quota.SessionTimeout == 0 {
		c.Quota.SessionTimeout = 5 * time.Minute
	}
	if c.Quota.ReserveTTL == 0 {
		c.Quota.ReserveTTL = time.Hour
	}
	if c.Thumbs.Size == 0 {
		c.Thumbs.Size = 256
	}
	if len(c.Thumbs.AvatarSizes) == 0 {
		c.Thumbs.AvatarSizes = []int{32, 48, 64, 96, 128, 192, 256, 384, 512, 768}
	}
	if c.Thumbs.MaxAvatarSize == 0 {
		c.Thumbs.MaxAvatarSize = 1536
	}
	if c.Thumbs.Workers == 0 {
		c.Thumbs.Workers = 4
	}
	if c.Thumbs.QueueSize == 0 {
		c.Thumbs.QueueSize = 256
	}
	if c.Auth.TokenLifetime == 0 {
		c.Auth.TokenLifetime = 24 * time.Hour
	}
	if c.Auth.CodeLifetime == 0 {
		c.Auth.CodeLifetime = 90 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

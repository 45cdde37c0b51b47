// Package config loads the folio server configuration from YAML, with
// FOLIO_* environment variables taking precedence for deployment values
// and secrets.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/folio/manuscript"
	"github.com/hazyhaar/folio/objstore"
	"github.com/hazyhaar/folio/shield"
)

// Config holds the full folio configuration.
type Config struct {
	Listen    string            `yaml:"listen"`
	DBPath    string            `yaml:"db_path"`
	LogLevel  string            `yaml:"log_level"`
	MaxFileMB int               `yaml:"max_file_mb"`
	Extract   ExtractConfig     `yaml:"extract"`
	Storage   objstore.Config   `yaml:"storage"`
	RateLimit []shield.RateRule `yaml:"rate_limit"`
	Purge     PurgeConfig       `yaml:"purge"`
}

// PurgeConfig tunes the retry of failed image deletes.
type PurgeConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

// ExtractConfig tunes manuscript extraction.
type ExtractConfig struct {
	ImageFolder       string `yaml:"image_folder"`
	UploadConcurrency int    `yaml:"upload_concurrency"`
	Sanitize          bool   `yaml:"sanitize"`
}

// DefaultConfig returns sane defaults: a local directory store served by
// folio itself and a modest limit on uploads.
func DefaultConfig() *Config {
	return &Config{
		Listen:    ":8080",
		DBPath:    "folio.db",
		LogLevel:  "info",
		MaxFileMB: 100,
		Extract: ExtractConfig{
			ImageFolder:       manuscript.DefaultImageFolder,
			UploadConcurrency: 4,
			Sanitize:          true,
		},
		Storage: objstore.Config{
			Driver:    "dir",
			Dir:       "objects",
			PublicURL: "http://localhost:8080/files",
		},
		RateLimit: []shield.RateRule{
			{Endpoint: "POST /api/upload", Requests: 30, Per: time.Minute},
		},
		Purge: PurgeConfig{PollInterval: time.Minute, MaxAttempts: 20},
	}
}

// Load reads path when it is not empty, applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := []struct {
		key string
		dst *string
	}{
		{"FOLIO_LISTEN", &c.Listen},
		{"FOLIO_DB_PATH", &c.DBPath},
		{"FOLIO_LOG_LEVEL", &c.LogLevel},
		{"FOLIO_STORAGE_DRIVER", &c.Storage.Driver},
		{"FOLIO_STORAGE_DIR", &c.Storage.Dir},
		{"FOLIO_PUBLIC_URL", &c.Storage.PublicURL},
		{"FOLIO_S3_ENDPOINT", &c.Storage.S3.Endpoint},
		{"FOLIO_S3_BUCKET", &c.Storage.S3.Bucket},
		{"FOLIO_S3_ACCESS_KEY", &c.Storage.S3.AccessKey},
		{"FOLIO_S3_SECRET_KEY", &c.Storage.S3.SecretKey},
		{"FOLIO_S3_REGION", &c.Storage.S3.Region},
	}
	for _, s := range strs {
		if v, ok := lookup(s.key); ok {
			*s.dst = v
		}
	}
	if v, ok := lookup("FOLIO_MAX_FILE_MB"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FOLIO_MAX_FILE_MB: %w", err)
		}
		c.MaxFileMB = n
	}
	if v, ok := lookup("FOLIO_S3_USE_SSL"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("FOLIO_S3_USE_SSL: %w", err)
		}
		c.Storage.S3.UseSSL = b
	}
	return nil
}

// Validate checks that required fields are present and values are sane.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen is required")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if c.MaxFileMB <= 0 {
		return fmt.Errorf("max_file_mb must be > 0")
	}
	if c.Extract.UploadConcurrency < 0 {
		return fmt.Errorf("extract.upload_concurrency must be >= 0")
	}
	if strings.Contains(c.Extract.ImageFolder, "/") {
		return fmt.Errorf("extract.image_folder must be a single path segment")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	switch c.Storage.Driver {
	case "memory":
	case "dir", "":
		if c.Storage.Dir == "" {
			return fmt.Errorf("storage.dir is required for the dir driver")
		}
	case "s3", "r2":
		if c.Storage.S3.Endpoint == "" || c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.endpoint and storage.s3.bucket are required")
		}
		if c.Storage.PublicURL == "" {
			return fmt.Errorf("storage.public_url is required for the %s driver", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("unsupported storage.driver %q (use memory, dir or s3)", c.Storage.Driver)
	}
	if c.Purge.PollInterval < 0 || c.Purge.MaxAttempts < 0 {
		return fmt.Errorf("purge: poll_interval and max_attempts must be >= 0")
	}
	for i, r := range c.RateLimit {
		if r.Endpoint == "" || r.Requests <= 0 || r.Per <= 0 {
			return fmt.Errorf("rate_limit[%d]: endpoint, requests and per are required", i)
		}
	}
	return nil
}

// MaxFileBytes returns the manuscript size limit in bytes.
func (c *Config) MaxFileBytes() int64 { return int64(c.MaxFileMB) * 1024 * 1024 }

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}

// Manuscript returns the extractor settings.
func (c *Config) Manuscript() manuscript.Config {
	return manuscript.Config{
		MaxFileSize:       c.MaxFileBytes(),
		ImageFolder:       c.Extract.ImageFolder,
		UploadConcurrency: c.Extract.UploadConcurrency,
		Sanitize:          c.Extract.Sanitize,
	}
}

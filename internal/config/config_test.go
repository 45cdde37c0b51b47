package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "folio.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfig_Valid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestLoad_MergesFile(t *testing.T) {
	path := writeConfig(t, `
listen: ":9090"
max_file_mb: 20
log_level: debug
extract:
  upload_concurrency: 8
  sanitize: false
storage:
  driver: s3
  public_url: https://cdn.example.com
  s3:
    endpoint: https://acct.r2.cloudflarestorage.com
    bucket: manuscripts
rate_limit:
  - endpoint: "POST /api/upload"
    requests: 5
    per: 10s
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != ":9090" || cfg.DBPath != "folio.db" {
		t.Errorf("listen=%q db=%q", cfg.Listen, cfg.DBPath)
	}
	if cfg.MaxFileBytes() != 20<<20 {
		t.Errorf("max bytes = %d", cfg.MaxFileBytes())
	}
	if cfg.Extract.ImageFolder != "content-images" || cfg.Extract.UploadConcurrency != 8 || cfg.Extract.Sanitize {
		t.Errorf("extract = %+v", cfg.Extract)
	}
	if cfg.Storage.S3.Bucket != "manuscripts" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if len(cfg.RateLimit) != 1 || cfg.RateLimit[0].Per != 10*time.Second {
		t.Errorf("rate limit = %+v", cfg.RateLimit)
	}

	mc := cfg.Manuscript()
	if mc.MaxFileSize != 20<<20 || mc.UploadConcurrency != 8 || mc.Sanitize {
		t.Errorf("manuscript config = %+v", mc)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("FOLIO_LISTEN", ":7000")
	t.Setenv("FOLIO_S3_SECRET_KEY", "s3cr3t")
	t.Setenv("FOLIO_MAX_FILE_MB", "7")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":7000" || cfg.Storage.S3.SecretKey != "s3cr3t" || cfg.MaxFileMB != 7 {
		t.Errorf("cfg = %+v", cfg)
	}

	t.Setenv("FOLIO_MAX_FILE_MB", "lots")
	if _, err := Load(""); err == nil {
		t.Error("bad FOLIO_MAX_FILE_MB accepted")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no db", func(c *Config) { c.DBPath = "" }},
		{"zero size", func(c *Config) { c.MaxFileMB = 0 }},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }},
		{"nested folder", func(c *Config) { c.Extract.ImageFolder = "a/b" }},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "gcs" }},
		{"s3 without bucket", func(c *Config) {
			c.Storage.Driver = "s3"
			c.Storage.S3.Endpoint = "localhost:9000"
		}},
		{"dir without root", func(c *Config) { c.Storage.Dir = "" }},
		{"empty rate rule", func(c *Config) { c.RateLimit[0].Requests = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

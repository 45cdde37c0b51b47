// Package objstore holds the object stores relocated manuscript images are
// written to. Every store maps a slash-separated key to a public URL and is
// safe for concurrent use.
//
//	Memory  in-process map, for tests and dry runs
//	Dir     local directory served over HTTP
//	S3      any S3-compatible bucket (R2, MinIO, AWS) through minio-go
package objstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Store is the contract shared by every backend.
type Store interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
	Get(ctx context.Context, key string) (Object, error)
}

// Config selects and configures a backend.
type Config struct {
	Driver    string   `yaml:"driver"`     // memory, dir or s3
	PublicURL string   `yaml:"public_url"` // prefix of every returned URL
	Dir       string   `yaml:"dir"`        // root for the dir driver
	S3        S3Config `yaml:"s3"`
}

// Open builds the backend named by cfg.Driver.
func Open(cfg Config) (Store, error) {
	switch cfg.Driver {
	case "memory":
		return NewMemory(cfg.PublicURL), nil
	case "dir", "":
		return NewDir(cfg.Dir, cfg.PublicURL)
	case "s3", "r2":
		return NewS3(cfg.S3, cfg.PublicURL)
	default:
		return nil, fmt.Errorf("objstore: unknown driver %q", cfg.Driver)
	}
}

var (
	// ErrInvalidKey is returned for keys that are empty, absolute or escape
	// the store root.
	ErrInvalidKey = errors.New("objstore: invalid key")

	// ErrNotFound is returned by Get for a missing key.
	ErrNotFound = errors.New("objstore: not found")
)

// ValidateKey rejects keys that could address anything outside the store.
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, `\`) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}

// PublicURL joins a base URL and a key with exactly one slash.
func PublicURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + key
}

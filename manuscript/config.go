package manuscript

import (
	"log/slog"
	"time"
)

// DefaultImageFolder is the first segment of every relocated image key.
const DefaultImageFolder = "content-images"

// Config configures an Extractor.
type Config struct {
	// MaxFileSize is the largest manuscript accepted (default: 100 MB).
	MaxFileSize int64 `json:"max_file_size" yaml:"max_file_size"`

	// ImageFolder prefixes storage keys: {folder}/{namespace}/{filename}.
	ImageFolder string `json:"image_folder" yaml:"image_folder"`

	// UploadConcurrency bounds parallel uploads per extraction (default: 4).
	UploadConcurrency int `json:"upload_concurrency" yaml:"upload_concurrency"`

	// Sanitize strips document chrome and unsafe markup from the output.
	Sanitize bool `json:"sanitize" yaml:"sanitize"`

	// Now stamps relocated filenames. Defaults to time.Now.
	Now func() time.Time `json:"-" yaml:"-"`

	// Logger for debug/error messages.
	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = 100 * 1024 * 1024
	}
	if c.ImageFolder == "" {
		c.ImageFolder = DefaultImageFolder
	}
	if c.UploadConcurrency <= 0 {
		c.UploadConcurrency = 4
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

package artifacts

import (
	"context"
	"fmt"
)

// Backend names a storage implementation.
type Backend string

const (
	BackendFS  Backend = "fs"
	BackendS3  Backend = "s3"
	BackendGCS Backend = "gcs"
)

// GCSConfig selects a bucket. GCS support needs the gcp build tag.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// Config selects and configures the evidence store.
type Config struct {
	Backend Backend   `mapstructure:"backend"`
	Dir     string    `mapstructure:"dir"`
	S3      S3Config  `mapstructure:"s3"`
	GCS     GCSConfig `mapstructure:"gcs"`
}

// NewStore builds the configured backend. An empty backend means fs.
func NewStore(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case BackendFS, "":
		dir := cfg.Dir
		if dir == "" {
			dir = "data/artifacts"
		}
		return NewFileStore(dir)
	case BackendS3:
		return NewS3Store(ctx, cfg.S3)
	case BackendGCS:
		return newGCSStore(ctx, cfg.GCS)
	default:
		return nil, fmt.Errorf("unsupported artifact backend: %s", cfg.Backend)
	}
}

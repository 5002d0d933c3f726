package artifacts

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// StoreType selects the storage backend.
type StoreType string

const (
	StoreTypeFS  StoreType = "fs"
	StoreTypeS3  StoreType = "s3"
	StoreTypeGCS StoreType = "gcs"
)

// Options configures NewStore. Tags name the environment variables read
// by NewStoreFromEnv.
type Options struct {
	Type          StoreType `env:"ARTIFACT_STORAGE_TYPE" envDefault:"fs"`
	DataDir       string    `env:"DATA_DIR" envDefault:"data"`
	RetentionDays int       `env:"ARTIFACT_RETENTION_DAYS" envDefault:"0"`

	S3Bucket   string `env:"ARTIFACT_S3_BUCKET"`
	S3Region   string `env:"ARTIFACT_S3_REGION"`
	AWSRegion  string `env:"AWS_REGION"`
	S3Endpoint string `env:"ARTIFACT_S3_ENDPOINT"`
	S3Prefix   string `env:"ARTIFACT_S3_PREFIX"`

	GCSBucket string `env:"ARTIFACT_GCS_BUCKET"`
	GCSPrefix string `env:"ARTIFACT_GCS_PREFIX"`
}

// NewStoreFromEnv creates a store from ARTIFACT_* variables. The default
// is a filesystem store under $DATA_DIR/artifacts.
func NewStoreFromEnv(ctx context.Context) (Store, error) {
	var opts Options
	if err := env.Parse(&opts); err != nil {
		return nil, fmt.Errorf("parse artifact env: %w", err)
	}
	return NewStore(ctx, opts)
}

// NewStore creates the store selected by opts.Type.
func NewStore(ctx context.Context, opts Options) (Store, error) {
	switch opts.Type {
	case "", StoreTypeFS:
		dataDir := opts.DataDir
		if dataDir == "" {
			dataDir = "data"
		}
		return NewFileStore(filepath.Join(dataDir, "artifacts"))
	case StoreTypeS3:
		return newS3Store(ctx, opts)
	case StoreTypeGCS:
		return newGCSStore(ctx, opts)
	default:
		return nil, fmt.Errorf("unsupported artifact storage type: %s", opts.Type)
	}
}

func newS3Store(ctx context.Context, opts Options) (Store, error) {
	if opts.S3Bucket == "" {
		return nil, fmt.Errorf("ARTIFACT_S3_BUCKET is required for S3 storage")
	}
	region := opts.S3Region
	if region == "" {
		region = opts.AWSRegion
	}
	if region == "" {
		region = "us-east-1"
	}
	return NewS3Store(ctx, S3StoreConfig{
		Bucket:        opts.S3Bucket,
		Region:        region,
		Endpoint:      opts.S3Endpoint,
		Prefix:        opts.S3Prefix,
		RetentionDays: opts.RetentionDays,
	})
}

package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Store keeps objects in an S3 bucket. With RetentionDays set, objects
// are written under Object Lock in compliance mode, which the bucket must
// have enabled.
type S3Store struct {
	client        *s3.Client
	bucket        string
	prefix        string
	retentionDays int
	clock         func() time.Time
}

// S3StoreConfig holds configuration for S3Store.
type S3StoreConfig struct {
	Bucket        string
	Region        string
	Endpoint      string // MinIO, LocalStack
	Prefix        string
	RetentionDays int
}

func NewS3Store(ctx context.Context, cfg S3StoreConfig) (*S3Store, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Store{
		client:        client,
		bucket:        cfg.Bucket,
		prefix:        cfg.Prefix,
		retentionDays: cfg.RetentionDays,
		clock:         time.Now,
	}, nil
}

// putInput builds the upload request for data under ref.
func (s *S3Store) putInput(ref string, data []byte) *s3.PutObjectInput {
	in := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectName(s.prefix, strings.TrimPrefix(ref, refPrefix))),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata:    map[string]string{"content-ref": ref},
	}
	if s.retentionDays > 0 {
		in.ObjectLockMode = types.ObjectLockModeCompliance
		in.ObjectLockRetainUntilDate = aws.Time(s.clock().UTC().AddDate(0, 0, s.retentionDays))
	}
	return in
}

func (s *S3Store) Put(ctx context.Context, data []byte) (string, error) {
	ref := Ref(data)
	exists, err := s.Exists(ctx, ref)
	if err != nil {
		return "", err
	}
	if exists {
		return ref, nil
	}
	if _, err := s.client.PutObject(ctx, s.putInput(ref, data)); err != nil {
		return "", fmt.Errorf("s3 put failed: %w", err)
	}
	return ref, nil
}

func (s *S3Store) Get(ctx context.Context, ref string) ([]byte, error) {
	digest, err := parseRef(ref)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectName(s.prefix, digest)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, fmt.Errorf("s3 get failed for %s: %w", ref, err)
	}
	defer func() { _ = out.Body.Close() }()
	return io.ReadAll(out.Body)
}

func (s *S3Store) Exists(ctx context.Context, ref string) (bool, error) {
	digest, err := parseRef(ref)
	if err != nil {
		return false, err
	}
	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectName(s.prefix, digest)),
	})
	if err == nil {
		return true, nil
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return false, nil
	}
	return false, fmt.Errorf("s3 head failed for %s: %w", ref, err)
}

//go:build gcp

package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

// GCSStore keeps objects in a Cloud Storage bucket. With RetentionDays set,
// objects carry a locked retention, which the bucket must allow.
type GCSStore struct {
	client        *storage.Client
	bucket        string
	prefix        string
	retentionDays int
}

// GCSStoreConfig holds configuration for GCSStore.
type GCSStoreConfig struct {
	Bucket        string
	Prefix        string
	RetentionDays int
}

func NewGCSStore(ctx context.Context, cfg GCSStoreConfig) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix, retentionDays: cfg.RetentionDays}, nil
}

func (s *GCSStore) object(digest string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(objectName(s.prefix, digest))
}

func (s *GCSStore) Put(ctx context.Context, data []byte) (string, error) {
	ref := Ref(data)
	// DoesNotExist makes the write fail rather than replace an object.
	obj := s.object(strings.TrimPrefix(ref, refPrefix)).If(storage.Conditions{DoesNotExist: true})

	w := obj.NewWriter(ctx)
	w.ContentType = "application/json"
	w.Metadata = map[string]string{"content-ref": ref}
	if s.retentionDays > 0 {
		w.Retention = &storage.ObjectRetention{
			Mode:        "Locked",
			RetainUntil: time.Now().UTC().AddDate(0, 0, s.retentionDays),
		}
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("gcs write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		if exists, _ := s.Exists(ctx, ref); exists {
			return ref, nil
		}
		return "", fmt.Errorf("gcs close failed: %w", err)
	}
	return ref, nil
}

func (s *GCSStore) Get(ctx context.Context, ref string) ([]byte, error) {
	digest, err := parseRef(ref)
	if err != nil {
		return nil, err
	}
	r, err := s.object(digest).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("gcs get failed for %s: %w", ref, err)
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}

func (s *GCSStore) Exists(ctx context.Context, ref string) (bool, error) {
	digest, err := parseRef(ref)
	if err != nil {
		return false, err
	}
	_, err = s.object(digest).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("gcs attrs error: %w", err)
	}
	return true, nil
}

// Close closes the GCS client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

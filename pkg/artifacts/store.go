// Package artifacts is write-once, content-addressed storage for archived
// evidence. Objects are addressed by "sha256:<hex>" and can never be
// replaced or removed through this package.
package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrNotFound is returned for unknown references.
var ErrNotFound = errors.New("artifact not found")

const refPrefix = "sha256:"

// Store is a WORM content-addressed store.
type Store interface {
	// Put persists data and returns its reference. Putting the same bytes
	// twice is a no-op returning the same reference.
	Put(ctx context.Context, data []byte) (string, error)
	// Get retrieves data by reference.
	Get(ctx context.Context, ref string) ([]byte, error)
	// Exists reports whether ref is stored.
	Exists(ctx context.Context, ref string) (bool, error)
}

// Ref returns the reference of data.
func Ref(data []byte) string {
	sum := sha256.Sum256(data)
	return refPrefix + hex.EncodeToString(sum[:])
}

// parseRef validates ref and returns its hex digest.
func parseRef(ref string) (string, error) {
	raw, ok := strings.CutPrefix(ref, refPrefix)
	if !ok {
		return "", fmt.Errorf("invalid hash format: %s", ref)
	}
	b, err := hex.DecodeString(raw)
	if err != nil || len(b) != sha256.Size {
		return "", fmt.Errorf("invalid hash hex: %s", ref)
	}
	return raw, nil
}

func objectName(prefix, digest string) string {
	return prefix + digest + ".json"
}

// FileStore keeps objects as read-only files under a directory.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to ensure artifact dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) Put(_ context.Context, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref := Ref(data)
	path := filepath.Join(s.baseDir, objectName("", strings.TrimPrefix(ref, refPrefix)))
	if _, err := os.Stat(path); err == nil {
		return ref, nil
	}

	tmp := path + ".tmp"
	_ = os.Remove(tmp)
	if err := os.WriteFile(tmp, data, 0o444); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("failed to commit artifact: %w", err)
	}
	return ref, nil
}

func (s *FileStore) Get(_ context.Context, ref string) ([]byte, error) {
	digest, err := parseRef(ref)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(s.baseDir, objectName("", digest)))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return data, err
}

func (s *FileStore) Exists(_ context.Context, ref string) (bool, error) {
	digest, err := parseRef(ref)
	if err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err = os.Stat(filepath.Join(s.baseDir, objectName("", digest)))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

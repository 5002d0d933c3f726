package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Mindburn-Labs/aliasledger/pkg/artifacts"
	"github.com/Mindburn-Labs/aliasledger/pkg/crypto"
)

// Archiver writes bundles to write-once storage as canonical JSON
// (RFC 8785), so the stored bytes and their content address depend only
// on the bundle.
type Archiver struct {
	store  artifacts.Store
	logger *slog.Logger
}

func NewArchiver(s artifacts.Store) *Archiver {
	return &Archiver{store: s, logger: slog.Default().With("component", "evidence-archive")}
}

// Archive stores b and returns its content reference.
func (a *Archiver) Archive(ctx context.Context, b *Bundle) (string, error) {
	data, err := crypto.CanonicalMarshal(b)
	if err != nil {
		return "", fmt.Errorf("canonicalize bundle: %w", err)
	}
	ref, err := a.store.Put(ctx, data)
	if err != nil {
		return "", fmt.Errorf("archive bundle %s: %w", b.Period, err)
	}
	a.logger.InfoContext(ctx, "evidence archived", "period", b.Period, "ref", ref, "bytes", len(data))
	return ref, nil
}

// Load reads an archived bundle back with its raw bytes.
func (a *Archiver) Load(ctx context.Context, ref string) (*Bundle, []byte, error) {
	data, err := a.store.Get(ctx, ref)
	if err != nil {
		return nil, nil, err
	}
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, nil, fmt.Errorf("decode archived bundle %s: %w", ref, err)
	}
	return &b, data, nil
}

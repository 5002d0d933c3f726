package audit

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// ExportRequest defines what to export.
type ExportRequest struct {
	TenantID  string    `json:"tenant_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// Exporter packs a tenant's interop audit trail for regulators.
type Exporter struct {
	store Store
	clock func() time.Time
}

func NewExporter(s Store) *Exporter {
	return &Exporter{store: s, clock: time.Now}
}

// GeneratePack returns a zip with the records the tenant issued or
// received in the period, a manifest, and the SHA-256 of the zip.
func (e *Exporter) GeneratePack(ctx context.Context, req ExportRequest) ([]byte, string, error) {
	if req.TenantID == "" {
		return nil, "", ErrEmptyTenantID
	}
	if !req.StartTime.IsZero() && !req.EndTime.IsZero() && req.StartTime.After(req.EndTime) {
		return nil, "", ErrInvalidTimeRange
	}
	if e.store == nil {
		return nil, "", ErrStoreNotConfigured
	}

	base := Filter{}
	if !req.StartTime.IsZero() {
		base.Start = &req.StartTime
	}
	if !req.EndTime.IsZero() {
		base.End = &req.EndTime
	}
	issued := base
	issued.RequestingTenant = req.TenantID
	received := base
	received.TargetTenant = req.TenantID
	received.CrossTenantOnly = true

	out, err := e.store.Query(ctx, issued)
	if err != nil {
		return nil, "", err
	}
	in, err := e.store.Query(ctx, received)
	if err != nil {
		return nil, "", err
	}

	now := e.clock().UTC()
	manifest := map[string]interface{}{
		"tenant_id":      req.TenantID,
		"generated_at":   now,
		"issued_count":   len(out),
		"received_count": len(in),
		"period": map[string]interface{}{
			"start": req.StartTime,
			"end":   req.EndTime,
		},
	}

	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)
	entries := []struct {
		name string
		v    interface{}
	}{
		{"manifest.json", manifest},
		{"issued.json", out},
		{"received.json", in},
	}
	for _, entry := range entries {
		name := entry.name
		data, err := json.MarshalIndent(entry.v, "", "  ")
		if err != nil {
			return nil, "", fmt.Errorf("audit: failed to marshal %s: %w", name, err)
		}
		f, err := w.Create(name)
		if err != nil {
			return nil, "", err
		}
		if _, err := f.Write(data); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}

	zipBytes := buf.Bytes()
	hash := sha256.Sum256(zipBytes)
	return zipBytes, hex.EncodeToString(hash[:]), nil
}

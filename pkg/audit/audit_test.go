package audit_test

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/Mindburn-Labs/aliasledger/pkg/audit"
	"github.com/Mindburn-Labs/aliasledger/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var at = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func TestLogger_WritesPrefixedJSON(t *testing.T) {
	var buf bytes.Buffer
	l := audit.NewLoggerWithWriter(&buf)

	ctx := audit.WithTenant(context.Background(), "bank-a")
	require.NoError(t, l.Record(ctx, audit.EventInterop, "GLOBAL_VALIDATION", "alias:juan", map[string]interface{}{"k": "v"}))

	line := buf.String()
	require.True(t, strings.HasPrefix(line, "AUDIT: "))
	var ev audit.Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "AUDIT: ")), &ev))
	assert.Equal(t, "bank-a", ev.TenantID)
	assert.Equal(t, audit.EventInterop, ev.Type)
	assert.Equal(t, "alias:juan", ev.Resource)
	assert.NotEmpty(t, ev.ID)
}

func TestTenantFrom_DefaultsToSystem(t *testing.T) {
	assert.Equal(t, "system", audit.TenantFrom(context.Background()))
}

func TestRecorder_RecordQuery(t *testing.T) {
	var buf bytes.Buffer
	s := store.NewMemoryInteropStore()
	r := audit.NewRecorder(s, audit.NewLoggerWithWriter(&buf)).WithClock(func() time.Time { return at })

	rec, err := r.RecordQuery(context.Background(), "bank-a", "juan", "bank-b", audit.QueryGlobalValidation)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.CorrelationID)
	assert.Equal(t, uint64(1), rec.Sequence)
	assert.True(t, rec.CrossTenant())
	assert.True(t, rec.Timestamp.Equal(at))

	other, err := r.RecordQuery(context.Background(), "bank-a", "juan", "bank-b", audit.QueryGlobalValidation)
	require.NoError(t, err)
	assert.NotEqual(t, rec.CorrelationID, other.CorrelationID)

	assert.Contains(t, buf.String(), `"cross_tenant":true`)
	assert.Equal(t, 2, strings.Count(buf.String(), "AUDIT: "))
}

func TestRecorder_FailsClosed(t *testing.T) {
	ctx := context.Background()

	_, err := audit.NewRecorder(nil, nil).RecordQuery(ctx, "bank-a", "juan", "", audit.QueryGlobalValidation)
	assert.ErrorIs(t, err, audit.ErrStoreNotConfigured)

	r := audit.NewRecorder(store.NewMemoryInteropStore(), nil)
	_, err = r.RecordQuery(ctx, "", "juan", "", audit.QueryGlobalValidation)
	assert.ErrorIs(t, err, audit.ErrEmptyTenantID)

	_, err = r.RecordQuery(ctx, "bank-a", "juan", "", audit.QueryType("GOSSIP"))
	assert.Error(t, err)
}

type failingLogger struct{}

func (failingLogger) Record(context.Context, audit.EventType, string, string, map[string]interface{}) error {
	return errors.New("disk full")
}

func TestRecorder_AuditLineFailureKeepsRecord(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryInteropStore()
	r := audit.NewRecorder(s, failingLogger{})

	rec, err := r.RecordQuery(ctx, "bank-a", "juan", "bank-b", audit.QueryGlobalValidation)
	require.NoError(t, err)
	require.NotNil(t, rec)

	got, err := s.Query(ctx, audit.Filter{RequestingTenant: "bank-a"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, rec.CorrelationID, got[0].CorrelationID)
}

func TestExporter_GeneratePack(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryInteropStore()
	r := audit.NewRecorder(s, nil).WithClock(func() time.Time { return at })

	_, err := r.RecordQuery(ctx, "bank-a", "juan", "bank-b", audit.QueryGlobalValidation)
	require.NoError(t, err)
	_, err = r.RecordQuery(ctx, "bank-b", "maria", "bank-c", audit.QueryGlobalValidation)
	require.NoError(t, err)
	_, err = r.RecordQuery(ctx, "bank-b", "pedro", "bank-b", audit.QueryGlobalValidation)
	require.NoError(t, err)

	pack, sum, err := audit.NewExporter(s).GeneratePack(ctx, audit.ExportRequest{TenantID: "bank-b"})
	require.NoError(t, err)

	digest := sha256.Sum256(pack)
	assert.Equal(t, hex.EncodeToString(digest[:]), sum)

	zr, err := zip.NewReader(bytes.NewReader(pack), int64(len(pack)))
	require.NoError(t, err)
	require.Len(t, zr.File, 3)
	assert.Equal(t, "manifest.json", zr.File[0].Name)

	contents := map[string][]byte{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		_ = rc.Close()
		contents[f.Name] = data
	}

	var issued, received []audit.InteropRecord
	require.NoError(t, json.Unmarshal(contents["issued.json"], &issued))
	require.NoError(t, json.Unmarshal(contents["received.json"], &received))
	assert.Len(t, issued, 2)
	require.Len(t, received, 1)
	assert.Equal(t, "bank-a", received[0].RequestingTenant)
}

func TestExporter_RejectsBadRequests(t *testing.T) {
	ctx := context.Background()
	e := audit.NewExporter(store.NewMemoryInteropStore())

	_, _, err := e.GeneratePack(ctx, audit.ExportRequest{})
	assert.ErrorIs(t, err, audit.ErrEmptyTenantID)

	_, _, err = e.GeneratePack(ctx, audit.ExportRequest{TenantID: "t", StartTime: at, EndTime: at.Add(-time.Hour)})
	assert.ErrorIs(t, err, audit.ErrInvalidTimeRange)

	_, _, err = audit.NewExporter(nil).GeneratePack(ctx, audit.ExportRequest{TenantID: "t"})
	assert.ErrorIs(t, err, audit.ErrStoreNotConfigured)
}

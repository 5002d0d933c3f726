package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "aliasledger", config.ServiceName)
	require.Equal(t, "localhost:4317", config.OTLPEndpoint)
	require.False(t, config.Enabled)
}

func TestNewProviderDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p)
	require.NotNil(t, p.Tracer())
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestTrackOperationDisabled(t *testing.T) {
	p, err := New(context.Background(), nil)
	require.NoError(t, err)

	var tr Tracker = p
	ctx, done := tr.TrackOperation(context.Background(), "directory.register", attribute.String("tenant_id", "t1"))
	require.NotNil(t, ctx)
	done(nil)

	_, done = tr.TrackOperation(context.Background(), "directory.resolve")
	done(errors.New("boom"))
}

func TestNopTracker(t *testing.T) {
	ctx := context.Background()
	got, done := NopTracker().TrackOperation(ctx, "x")
	require.Equal(t, ctx, got)
	done(nil)
}

package store

import (
	"context"
	"testing"
	"time"

	"github.com/Mindburn-Labs/aliasledger/pkg/audit"
	"github.com/Mindburn-Labs/aliasledger/pkg/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func interopStores(t *testing.T) map[string]audit.Store {
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	sqlStore := NewSQLInteropStore(db, database.SQLite)
	require.NoError(t, sqlStore.Init(context.Background()))
	return map[string]audit.Store{
		"memory": NewMemoryInteropStore(),
		"sqlite": sqlStore,
	}
}

func record(requesting, target string, at time.Time) *audit.InteropRecord {
	return &audit.InteropRecord{
		RequestingTenant: requesting,
		AliasKey:         "juan.perez",
		TargetTenant:     target,
		QueryType:        audit.QueryGlobalValidation,
		CorrelationID:    "corr-" + requesting,
		Timestamp:        at,
	}
}

func TestInteropStore_AppendAssignsSequence(t *testing.T) {
	for name, s := range interopStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first := record("bank-a", "bank-b", created)
			second := record("bank-b", "", created.Add(time.Minute))
			require.NoError(t, s.Append(ctx, first))
			require.NoError(t, s.Append(ctx, second))

			assert.NotEmpty(t, first.ID)
			assert.Equal(t, uint64(1), first.Sequence)
			assert.Equal(t, uint64(2), second.Sequence)

			dup := record("bank-a", "bank-b", created)
			dup.ID = first.ID
			assert.ErrorIs(t, s.Append(ctx, dup), ErrDuplicate)

			all, err := s.Query(ctx, audit.Filter{})
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, first.ID, all[0].ID)
			assert.Equal(t, "", all[1].TargetTenant)
			assert.True(t, all[0].Timestamp.Equal(created))
		})
	}
}

func TestInteropStore_Query(t *testing.T) {
	for name, s := range interopStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Append(ctx, record("bank-a", "bank-b", created)))
			require.NoError(t, s.Append(ctx, record("bank-b", "bank-b", created.Add(time.Hour))))
			require.NoError(t, s.Append(ctx, record("bank-c", "bank-b", created.Add(2*time.Hour))))
			require.NoError(t, s.Append(ctx, record("bank-a", "", created.Add(3*time.Hour))))

			received, err := audit.CrossTenantQueries(ctx, s, "bank-b")
			require.NoError(t, err)
			require.Len(t, received, 2)
			assert.Equal(t, "bank-a", received[0].RequestingTenant)
			assert.Equal(t, "bank-c", received[1].RequestingTenant)

			issued, err := s.Query(ctx, audit.Filter{RequestingTenant: "bank-a"})
			require.NoError(t, err)
			assert.Len(t, issued, 2)

			start, end := created.Add(30*time.Minute), created.Add(2*time.Hour)
			windowed, err := s.Query(ctx, audit.Filter{Start: &start, End: &end})
			require.NoError(t, err)
			assert.Len(t, windowed, 2)

			_, err = audit.CrossTenantQueries(ctx, s, "")
			assert.ErrorIs(t, err, audit.ErrEmptyTenantID)
		})
	}
}

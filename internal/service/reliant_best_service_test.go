package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReliantBestService(t *testing.T) {
	store := newSeededStore(t)
	svc := NewReliantBestService(store, NewApprovalMachine(fixedClock), testLogger())
	ctx := context.Background()

	in := CreateReliantBestInput{
		CustomerName: "Suresh",
		GoldAmount:   decimal.RequireFromString("75000"),
		PLAmount:     decimal.RequireFromString("25000.50"),
	}
	e, err := svc.Create(ctx, "staff_x", in)
	require.NoError(t, err)
	assert.Equal(t, "RBE-000001", e.EntryID)
	assert.Equal(t, "RB-00001", e.CustomerID)
	assert.Equal(t, "GL-00001", e.CustomerIDGL)
	assert.Equal(t, "PL-00001", e.CustomerIDPL)
	assert.Equal(t, "100000.5", e.Total().String())

	second, err := svc.Create(ctx, "bm_z", in)
	require.NoError(t, err)
	assert.Equal(t, "RBE-000002", second.EntryID)
	assert.Equal(t, "PL-00002", second.CustomerIDPL)

	staffView, err := svc.List(ctx, "staff_x")
	require.NoError(t, err)
	assert.Empty(t, staffView, "branch staff do not see Reliant Best entries")

	bmView, err := svc.List(ctx, "bm_x")
	require.NoError(t, err)
	require.Len(t, bmView, 1)
	assert.Equal(t, "X", bmView[0].Branch)

	assert.ErrorIs(t, svc.Delete(ctx, "bm_x", "RBE-000001"), ErrForbidden)
	require.NoError(t, svc.Delete(ctx, "agm2", "RBE-000001"))
	assert.ErrorIs(t, svc.Delete(ctx, "ADMIN", "RBE-000001"), ErrNotFound)

	all, err := svc.List(ctx, "ADMIN")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "RBE-000002", all[0].EntryID)
}

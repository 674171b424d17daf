package repository

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/pesio-ai/be-crm-workflows/internal/common/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFileRepo(t *testing.T) (*SnapshotFileRepository, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "crm_data.json")
	return NewSnapshotFileRepository(path), path
}

func TestSnapshotFileRepository_LoadMissingFile(t *testing.T) {
	repo, _ := newFileRepo(t)

	snap, err := repo.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Users)
	assert.Equal(t, int64(0), snap.Version)
}

func TestSnapshotFileRepository_SaveAndLoad(t *testing.T) {
	repo, path := newFileRepo(t)
	ctx := context.Background()

	snap, err := repo.Load(ctx)
	require.NoError(t, err)
	snap.Users["ADMIN"] = &User{Username: "ADMIN", Role: RoleAdmin, CreatedBy: SystemCreator}
	require.NoError(t, repo.Save(ctx, snap))

	_, err = os.Stat(path)
	require.NoError(t, err)

	again, err := repo.Load(ctx)
	require.NoError(t, err)
	require.Contains(t, again.Users, "ADMIN")
	assert.Equal(t, RoleAdmin, again.Users["ADMIN"].Role)
}

func TestSnapshotFileRepository_StaleSaveConflicts(t *testing.T) {
	repo, _ := newFileRepo(t)
	ctx := context.Background()

	first, err := repo.Load(ctx)
	require.NoError(t, err)
	second, err := repo.Load(ctx)
	require.NoError(t, err)

	require.NoError(t, repo.Save(ctx, first))

	err = repo.Save(ctx, second)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, ErrVersionConflict))
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))
}

func TestSnapshotFileRepository_UpdateDiscardsOnError(t *testing.T) {
	repo, _ := newFileRepo(t)
	ctx := context.Background()
	boom := stderrors.New("boom")

	err := repo.Update(ctx, func(snap *Snapshot) error {
		snap.Users["x"] = &User{Username: "x"}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	snap, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.NotContains(t, snap.Users, "x")
}

func TestSnapshotFileRepository_ConcurrentUpdatesAreSerialized(t *testing.T) {
	repo, _ := newFileRepo(t)
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.Update(ctx, func(snap *Snapshot) error {
				snap.Bids = append(snap.Bids, &Bid{BidID: "BID", Status: BidPlaced})
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	snap, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Bids, workers)
}

func TestSnapshotFileRepository_CorruptFileIsStorageError(t *testing.T) {
	repo, path := newFileRepo(t)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := repo.Load(context.Background())
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, ErrStorage))
	assert.Equal(t, errors.ErrCodeStorage, errors.CodeOf(err))
}

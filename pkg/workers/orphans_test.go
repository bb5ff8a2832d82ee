package workers

import (
	"context"
	"errors"
	"testing"

	mocks "github.com/cbodonnell/gserver/mocks/github.com/cbodonnell/gserver/pkg/blobs"
	"github.com/cbodonnell/gserver/pkg/blobs"
	"github.com/cbodonnell/gserver/pkg/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrphanReaperWorker_Reap(t *testing.T) {
	ctx := context.Background()
	repository := repositories.NewInMemoryRepository()
	store := mocks.NewMockStore(t)

	for _, path := range []string{"saves/a/snake/slot1.json", "saves/a/snake/slot2.json", "saves/a/snake/slot3.json"} {
		require.NoError(t, repository.AddOrphanBlob(ctx, path))
	}
	store.EXPECT().Delete(ctx, "saves/a/snake/slot1.json").Return(nil).Once()
	store.EXPECT().Delete(ctx, "saves/a/snake/slot2.json").Return(&blobs.ErrNotFound{Path: "saves/a/snake/slot2.json"}).Once()
	store.EXPECT().Delete(ctx, "saves/a/snake/slot3.json").Return(errors.New("bucket unavailable")).Once()

	worker := NewOrphanReaperWorker(NewOrphanReaperWorkerOptions{
		Orphans: repository,
		Blobs:   store,
	})
	assert.Equal(t, 2, worker.Reap(ctx))

	remaining, err := repository.ListOrphanBlobs(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"saves/a/snake/slot3.json"}, remaining)

	// the failed delete is retried on the next tick
	store.EXPECT().Delete(ctx, "saves/a/snake/slot3.json").Return(nil).Once()
	assert.Equal(t, 1, worker.Reap(ctx))
	remaining, err = repository.ListOrphanBlobs(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestOrphanReaperWorker_BatchSize(t *testing.T) {
	ctx := context.Background()
	repository := repositories.NewInMemoryRepository()
	store := blobs.NewInMemoryStore()
	for _, path := range []string{"a", "b", "c"} {
		require.NoError(t, store.Put(ctx, path, []byte(`{}`)))
		require.NoError(t, repository.AddOrphanBlob(ctx, path))
	}

	worker := NewOrphanReaperWorker(NewOrphanReaperWorkerOptions{
		Orphans:   repository,
		Blobs:     store,
		BatchSize: 2,
	})
	assert.Equal(t, 2, worker.Reap(ctx))
	assert.Equal(t, 1, worker.Reap(ctx))
	assert.Equal(t, 0, worker.Reap(ctx))
	assert.Empty(t, store.Paths())
}

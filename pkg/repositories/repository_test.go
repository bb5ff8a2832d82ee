package repositories

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cbodonnell/gserver/pkg/repositories/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepositories(t *testing.T) map[string]Repository {
	ctx := context.Background()
	sqliteRepository, err := NewSQLiteRepository(ctx, filepath.Join(t.TempDir(), "test.db"), "../../migrations/sqlite")
	require.NoError(t, err)
	t.Cleanup(func() {
		sqliteRepository.Close(ctx)
	})

	return map[string]Repository{
		"memory": NewInMemoryRepository(),
		"sqlite": sqliteRepository,
	}
}

// newTestProgressRepositories adds the progress-only backends to every full repository.
func newTestProgressRepositories(t *testing.T) map[string]ProgressRepository {
	repositories := make(map[string]ProgressRepository)
	for name, repository := range newTestRepositories(t) {
		repositories[name] = repository
	}

	server := miniredis.RunT(t)
	redisRepository := NewRedisProgressRepositoryFromClient(redis.NewClient(&redis.Options{Addr: server.Addr()}))
	t.Cleanup(func() {
		redisRepository.Close(context.Background())
	})
	repositories["redis"] = redisRepository
	return repositories
}

func testSave(gameID string, slot int, score float64, modified time.Time) *models.SaveRecord {
	return &models.SaveRecord{
		GameID:       gameID,
		SlotNumber:   slot,
		StoragePath:  "saves/user-1/" + gameID + "/slot.json",
		Metadata:     map[string]interface{}{"score": score},
		CreatedAt:    modified,
		LastModified: modified,
	}
}

func TestRepository_saves(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(1700000000000).UTC()

	for name, repository := range newTestRepositories(t) {
		t.Run(name, func(t *testing.T) {
			for _, save := range []*models.SaveRecord{
				testSave("snake", 2, 20, now),
				testSave("snake", 1, 10, now.Add(time.Minute)),
				testSave("shooter", 1, 99, now.Add(2*time.Minute)),
			} {
				stored, err := repository.UpsertSave(ctx, "user-1", save)
				require.NoError(t, err)
				assert.Equal(t, models.SaveID(save.GameID, save.SlotNumber), stored.ID)
			}

			saves, err := repository.ListSaves(ctx, "user-1", "snake")
			require.NoError(t, err)
			require.Len(t, saves, 2)
			assert.Equal(t, 1, saves[0].SlotNumber)
			assert.Equal(t, 2, saves[1].SlotNumber)
			assert.EqualValues(t, 10, saves[0].Metadata["score"])

			all, err := repository.ListAllSaves(ctx, "user-1")
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, "shooter_slot_1", all[0].ID)

			thumbnail := "data:image/png;base64,AAAA"
			next := testSave("snake", 2, 80, now.Add(time.Hour))
			next.Thumbnail = &thumbnail
			stored, err := repository.UpsertSave(ctx, "user-1", next)
			require.NoError(t, err)
			assert.True(t, stored.CreatedAt.Equal(now), "an existing slot keeps its creation time")

			updated, err := repository.GetSave(ctx, "user-1", "snake_slot_2")
			require.NoError(t, err)
			assert.EqualValues(t, 80, updated.Metadata["score"])
			require.NotNil(t, updated.Thumbnail)
			assert.Equal(t, thumbnail, *updated.Thumbnail)
			assert.True(t, updated.LastModified.Equal(now.Add(time.Hour)))
			assert.True(t, updated.CreatedAt.Equal(now))

			_, err = repository.GetSave(ctx, "user-2", "snake_slot_2")
			assert.True(t, IsNotFound(err), "saves are scoped to their user")

			// another user's record of the same slot is a separate record
			_, err = repository.UpsertSave(ctx, "user-2", testSave("snake", 2, 5, now))
			require.NoError(t, err)
			mine, err := repository.GetSave(ctx, "user-1", "snake_slot_2")
			require.NoError(t, err)
			assert.EqualValues(t, 80, mine.Metadata["score"])

			require.NoError(t, repository.DeleteSave(ctx, "user-1", "snake_slot_2"))
			assert.True(t, IsNotFound(repository.DeleteSave(ctx, "user-1", "snake_slot_2")))
			_, err = repository.GetSave(ctx, "user-1", "snake_slot_2")
			assert.True(t, IsNotFound(err))
		})
	}
}

func TestRepository_upsertSaveIsAtomic(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(1700000000000).UTC()

	for name, repository := range newTestRepositories(t) {
		t.Run(name, func(t *testing.T) {
			const writers = 20
			var wg sync.WaitGroup
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, err := repository.UpsertSave(ctx, "user-1", testSave("snake", 1, float64(i), now.Add(time.Duration(i)*time.Second)))
					assert.NoError(t, err)
				}(i)
			}
			wg.Wait()

			saves, err := repository.ListSaves(ctx, "user-1", "snake")
			require.NoError(t, err)
			require.Len(t, saves, 1)
			assert.Equal(t, "snake_slot_1", saves[0].ID)
		})
	}
}

func TestRepository_updateProgress(t *testing.T) {
	ctx := context.Background()

	for name, repository := range newTestProgressRepositories(t) {
		t.Run(name, func(t *testing.T) {
			_, err := repository.GetProgress(ctx, "user-1", "snake")
			assert.True(t, IsNotFound(err))

			var sawNil bool
			_, err = repository.UpdateProgress(ctx, "user-1", "snake", func(current *models.ProgressRecord) (*models.ProgressRecord, error) {
				sawNil = current == nil
				return &models.ProgressRecord{
					TotalPlayTime: 30,
					HighScore:     50,
					Achievements:  []string{"first-bite"},
					CustomStats:   map[string]interface{}{"deaths": float64(1)},
					LastPlayed:    time.UnixMilli(1700000000000).UTC(),
				}, nil
			})
			require.NoError(t, err)
			assert.True(t, sawNil)

			progress, err := repository.GetProgress(ctx, "user-1", "snake")
			require.NoError(t, err)
			assert.Equal(t, "snake", progress.GameID)
			assert.Equal(t, 30.0, progress.TotalPlayTime)
			assert.Equal(t, []string{"first-bite"}, progress.Achievements)
			assert.EqualValues(t, 1, progress.CustomStats["deaths"])

			records, err := repository.ListProgress(ctx, "user-1")
			require.NoError(t, err)
			require.Len(t, records, 1)
		})
	}
}

func TestRepository_updateProgressIsAtomic(t *testing.T) {
	ctx := context.Background()

	for name, repository := range newTestProgressRepositories(t) {
		t.Run(name, func(t *testing.T) {
			const workers = 20
			var wg sync.WaitGroup
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := repository.UpdateProgress(ctx, "user-1", "snake", func(current *models.ProgressRecord) (*models.ProgressRecord, error) {
						next := &models.ProgressRecord{}
						if current != nil {
							next = current.Copy()
						}
						next.TotalPlayTime++
						return next, nil
					})
					assert.NoError(t, err)
				}()
			}
			wg.Wait()

			progress, err := repository.GetProgress(ctx, "user-1", "snake")
			require.NoError(t, err)
			assert.Equal(t, float64(workers), progress.TotalPlayTime)
		})
	}
}

func TestRepository_orphanBlobs(t *testing.T) {
	ctx := context.Background()

	for name, repository := range newTestRepositories(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, repository.AddOrphanBlob(ctx, "saves/u/g/slot1.json"))
			require.NoError(t, repository.AddOrphanBlob(ctx, "saves/u/g/slot1.json"))
			require.NoError(t, repository.AddOrphanBlob(ctx, "saves/u/g/slot2.json"))

			paths, err := repository.ListOrphanBlobs(ctx, 0)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"saves/u/g/slot1.json", "saves/u/g/slot2.json"}, paths)

			limited, err := repository.ListOrphanBlobs(ctx, 1)
			require.NoError(t, err)
			assert.Len(t, limited, 1)

			require.NoError(t, repository.RemoveOrphanBlob(ctx, "saves/u/g/slot1.json"))
			paths, err = repository.ListOrphanBlobs(ctx, 0)
			require.NoError(t, err)
			assert.Equal(t, []string{"saves/u/g/slot2.json"}, paths)
		})
	}
}

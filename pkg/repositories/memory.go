package repositories

import (
	"context"
	"sort"
	"sync"

	"github.com/cbodonnell/gserver/pkg/repositories/models"
)

var _ Repository = &InMemoryRepository{}

// InMemoryRepository keeps everything in maps. It backs memory:// and the tests.
type InMemoryRepository struct {
	lock sync.RWMutex
	// saves by user id, then save id
	saves map[string]map[string]*models.SaveRecord
	// progress by user id, then game id
	progress map[string]map[string]*models.ProgressRecord
	orphans  map[string]struct{}
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		saves:    make(map[string]map[string]*models.SaveRecord),
		progress: make(map[string]map[string]*models.ProgressRecord),
		orphans:  make(map[string]struct{}),
	}
}

func (r *InMemoryRepository) Close(ctx context.Context) error {
	return nil
}

func (r *InMemoryRepository) GetSave(ctx context.Context, userID string, saveID string) (*models.SaveRecord, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	save, ok := r.saves[userID][saveID]
	if !ok {
		return nil, &ErrNotFound{}
	}
	return save.Copy(), nil
}

func (r *InMemoryRepository) UpsertSave(ctx context.Context, userID string, save *models.SaveRecord) (*models.SaveRecord, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	stored := save.Copy()
	stored.ID = models.SaveID(save.GameID, save.SlotNumber)
	if _, ok := r.saves[userID]; !ok {
		r.saves[userID] = make(map[string]*models.SaveRecord)
	}
	if existing, ok := r.saves[userID][stored.ID]; ok {
		stored.CreatedAt = existing.CreatedAt
	}
	r.saves[userID][stored.ID] = stored
	return stored.Copy(), nil
}

func (r *InMemoryRepository) DeleteSave(ctx context.Context, userID string, saveID string) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.saves[userID][saveID]; !ok {
		return &ErrNotFound{}
	}
	delete(r.saves[userID], saveID)
	return nil
}

func (r *InMemoryRepository) ListSaves(ctx context.Context, userID string, gameID string) ([]*models.SaveRecord, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	saves := make([]*models.SaveRecord, 0)
	for _, save := range r.saves[userID] {
		if save.GameID == gameID {
			saves = append(saves, save.Copy())
		}
	}
	sort.Slice(saves, func(i, j int) bool {
		return saves[i].SlotNumber < saves[j].SlotNumber
	})
	return saves, nil
}

func (r *InMemoryRepository) ListAllSaves(ctx context.Context, userID string) ([]*models.SaveRecord, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	saves := make([]*models.SaveRecord, 0, len(r.saves[userID]))
	for _, save := range r.saves[userID] {
		saves = append(saves, save.Copy())
	}
	sort.Slice(saves, func(i, j int) bool {
		return saves[i].LastModified.After(saves[j].LastModified)
	})
	return saves, nil
}

func (r *InMemoryRepository) GetProgress(ctx context.Context, userID string, gameID string) (*models.ProgressRecord, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	progress, ok := r.progress[userID][gameID]
	if !ok {
		return nil, &ErrNotFound{}
	}
	return progress.Copy(), nil
}

func (r *InMemoryRepository) ListProgress(ctx context.Context, userID string) ([]*models.ProgressRecord, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	records := make([]*models.ProgressRecord, 0, len(r.progress[userID]))
	for _, progress := range r.progress[userID] {
		records = append(records, progress.Copy())
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].GameID < records[j].GameID
	})
	return records, nil
}

// UpdateProgress holds the write lock across the read, fn and the write.
func (r *InMemoryRepository) UpdateProgress(ctx context.Context, userID string, gameID string, fn ProgressUpdateFunc) (*models.ProgressRecord, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	next, err := fn(r.progress[userID][gameID].Copy())
	if err != nil {
		return nil, err
	}
	if _, ok := r.progress[userID]; !ok {
		r.progress[userID] = make(map[string]*models.ProgressRecord)
	}
	next.GameID = gameID
	r.progress[userID][gameID] = next.Copy()
	return next, nil
}

func (r *InMemoryRepository) AddOrphanBlob(ctx context.Context, path string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.orphans[path] = struct{}{}
	return nil
}

func (r *InMemoryRepository) ListOrphanBlobs(ctx context.Context, limit int) ([]string, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	paths := make([]string, 0, len(r.orphans))
	for path := range r.orphans {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	if limit > 0 && len(paths) > limit {
		paths = paths[:limit]
	}
	return paths, nil
}

func (r *InMemoryRepository) RemoveOrphanBlob(ctx context.Context, path string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	delete(r.orphans, path)
	return nil
}

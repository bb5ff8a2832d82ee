package repositories

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/cbodonnell/gserver/pkg/repositories/models"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var _ Repository = &FirestoreRepository{}

const (
	usersCollection       = "users"
	savesCollection       = "saves"
	progressCollection    = "progress"
	orphanBlobsCollection = "orphanBlobs"
)

// FirestoreRepository stores documents under users/{uid}/saves/{gameId}_slot_{n} and users/{uid}/progress/{gameId}.
type FirestoreRepository struct {
	client *firestore.Client
}

// NewFirestoreRepository wraps a Firestore client, usually obtained from the Firebase app.
func NewFirestoreRepository(client *firestore.Client) *FirestoreRepository {
	return &FirestoreRepository{
		client: client,
	}
}

func (r *FirestoreRepository) Close(ctx context.Context) error {
	return r.client.Close()
}

func (r *FirestoreRepository) saves(userID string) *firestore.CollectionRef {
	return r.client.Collection(usersCollection).Doc(userID).Collection(savesCollection)
}

func (r *FirestoreRepository) progress(userID string) *firestore.CollectionRef {
	return r.client.Collection(usersCollection).Doc(userID).Collection(progressCollection)
}

func isFirestoreNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

func saveFromSnapshot(doc *firestore.DocumentSnapshot) (*models.SaveRecord, error) {
	save := &models.SaveRecord{}
	if err := doc.DataTo(save); err != nil {
		return nil, fmt.Errorf("failed to decode save %s: %v", doc.Ref.ID, err)
	}
	save.ID = doc.Ref.ID
	return save, nil
}

func (r *FirestoreRepository) GetSave(ctx context.Context, userID string, saveID string) (*models.SaveRecord, error) {
	doc, err := r.saves(userID).Doc(saveID).Get(ctx)
	if err != nil {
		if isFirestoreNotFound(err) {
			return nil, &ErrNotFound{}
		}
		return nil, fmt.Errorf("failed to get save: %v", err)
	}
	return saveFromSnapshot(doc)
}

func (r *FirestoreRepository) UpsertSave(ctx context.Context, userID string, save *models.SaveRecord) (*models.SaveRecord, error) {
	stored := save.Copy()
	stored.ID = models.SaveID(save.GameID, save.SlotNumber)
	if stored.Metadata == nil {
		stored.Metadata = map[string]interface{}{}
	}
	ref := r.saves(userID).Doc(stored.ID)
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		// runs again on contention, so start from the caller's CreatedAt each time
		stored.CreatedAt = save.CreatedAt
		doc, err := tx.Get(ref)
		if err != nil && !isFirestoreNotFound(err) {
			return err
		}
		if err == nil {
			existing, err := saveFromSnapshot(doc)
			if err != nil {
				return err
			}
			stored.CreatedAt = existing.CreatedAt
		}
		return tx.Set(ref, stored)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert save: %v", err)
	}
	return stored, nil
}

func (r *FirestoreRepository) DeleteSave(ctx context.Context, userID string, saveID string) error {
	if _, err := r.saves(userID).Doc(saveID).Delete(ctx, firestore.Exists); err != nil {
		if isFirestoreNotFound(err) {
			return &ErrNotFound{}
		}
		return fmt.Errorf("failed to delete save: %v", err)
	}
	return nil
}

func (r *FirestoreRepository) ListSaves(ctx context.Context, userID string, gameID string) ([]*models.SaveRecord, error) {
	query := r.saves(userID).
		Where("gameId", "==", gameID).
		OrderBy("slotNumber", firestore.Asc)
	return r.querySaves(ctx, query)
}

func (r *FirestoreRepository) ListAllSaves(ctx context.Context, userID string) ([]*models.SaveRecord, error) {
	query := r.saves(userID).OrderBy("lastModified", firestore.Desc)
	return r.querySaves(ctx, query)
}

func (r *FirestoreRepository) querySaves(ctx context.Context, query firestore.Query) ([]*models.SaveRecord, error) {
	iter := query.Documents(ctx)
	defer iter.Stop()

	saves := make([]*models.SaveRecord, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to query saves: %v", err)
		}
		save, err := saveFromSnapshot(doc)
		if err != nil {
			return nil, err
		}
		saves = append(saves, save)
	}
	return saves, nil
}

func progressFromSnapshot(doc *firestore.DocumentSnapshot) (*models.ProgressRecord, error) {
	progress := &models.ProgressRecord{}
	if err := doc.DataTo(progress); err != nil {
		return nil, fmt.Errorf("failed to decode progress %s: %v", doc.Ref.ID, err)
	}
	progress.GameID = doc.Ref.ID
	return progress, nil
}

func (r *FirestoreRepository) GetProgress(ctx context.Context, userID string, gameID string) (*models.ProgressRecord, error) {
	doc, err := r.progress(userID).Doc(gameID).Get(ctx)
	if err != nil {
		if isFirestoreNotFound(err) {
			return nil, &ErrNotFound{}
		}
		return nil, fmt.Errorf("failed to get progress: %v", err)
	}
	return progressFromSnapshot(doc)
}

func (r *FirestoreRepository) ListProgress(ctx context.Context, userID string) ([]*models.ProgressRecord, error) {
	docs, err := r.progress(userID).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to query progress: %v", err)
	}
	records := make([]*models.ProgressRecord, 0, len(docs))
	for _, doc := range docs {
		progress, err := progressFromSnapshot(doc)
		if err != nil {
			return nil, err
		}
		records = append(records, progress)
	}
	return records, nil
}

// UpdateProgress runs fn inside a Firestore transaction. Firestore retries the
// transaction on contention, so fn may run more than once.
func (r *FirestoreRepository) UpdateProgress(ctx context.Context, userID string, gameID string, fn ProgressUpdateFunc) (*models.ProgressRecord, error) {
	ref := r.progress(userID).Doc(gameID)

	var next *models.ProgressRecord
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var current *models.ProgressRecord
		doc, err := tx.Get(ref)
		switch {
		case err == nil:
			current, err = progressFromSnapshot(doc)
			if err != nil {
				return err
			}
		case isFirestoreNotFound(err):
			current = nil
		default:
			return fmt.Errorf("failed to get progress: %v", err)
		}

		next, err = fn(current)
		if err != nil {
			return err
		}
		next.GameID = gameID
		return tx.Set(ref, next)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to run progress transaction: %v", err)
	}
	return next, nil
}

// orphanDocID maps a blob path to a document id, since paths contain slashes.
func orphanDocID(path string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(path)).String()
}

func (r *FirestoreRepository) AddOrphanBlob(ctx context.Context, path string) error {
	_, err := r.client.Collection(orphanBlobsCollection).Doc(orphanDocID(path)).Set(ctx, map[string]interface{}{
		"path":      path,
		"createdAt": firestore.ServerTimestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to add orphan blob: %v", err)
	}
	return nil
}

func (r *FirestoreRepository) ListOrphanBlobs(ctx context.Context, limit int) ([]string, error) {
	query := r.client.Collection(orphanBlobsCollection).OrderBy("createdAt", firestore.Asc)
	if limit > 0 {
		query = query.Limit(limit)
	}
	docs, err := query.Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to query orphan blobs: %v", err)
	}
	paths := make([]string, 0, len(docs))
	for _, doc := range docs {
		path, err := doc.DataAt("path")
		if err != nil {
			return nil, fmt.Errorf("failed to read orphan blob path: %v", err)
		}
		if s, ok := path.(string); ok {
			paths = append(paths, s)
		}
	}
	return paths, nil
}

func (r *FirestoreRepository) RemoveOrphanBlob(ctx context.Context, path string) error {
	if _, err := r.client.Collection(orphanBlobsCollection).Doc(orphanDocID(path)).Delete(ctx); err != nil {
		return fmt.Errorf("failed to remove orphan blob: %v", err)
	}
	return nil
}

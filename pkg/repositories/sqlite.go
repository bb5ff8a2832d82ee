package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cbodonnell/gserver/pkg/repositories/models"
	_ "github.com/mattn/go-sqlite3"
)

var _ Repository = &SQLiteRepository{}

type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens the database at path and runs every migration in the migrations directory.
// The pool is limited to one connection, so a transaction excludes every other statement.
func NewSQLiteRepository(ctx context.Context, path string, migrations string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}
	db.SetMaxOpenConns(1)

	dir, err := os.ReadDir(migrations)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %v", err)
	}

	for _, entry := range dir {
		if entry.IsDir() {
			continue
		}

		migrationPath := filepath.Join(migrations, entry.Name())
		migration, err := os.ReadFile(migrationPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %v", migrationPath, err)
		}

		if _, err := db.ExecContext(ctx, string(migration)); err != nil {
			return nil, fmt.Errorf("failed to execute migration %s: %v", migrationPath, err)
		}
	}

	return &SQLiteRepository{
		db: db,
	}, nil
}

func (r *SQLiteRepository) Close(ctx context.Context) error {
	return r.db.Close()
}

const sqliteSaveColumns = `save_id, game_id, slot_number, storage_path, metadata, thumbnail, created_at, last_modified`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSQLiteSave(row rowScanner) (*models.SaveRecord, error) {
	save := &models.SaveRecord{}
	var metadata string
	var thumbnail sql.NullString
	var createdAt, lastModified int64
	if err := row.Scan(&save.ID, &save.GameID, &save.SlotNumber, &save.StoragePath, &metadata, &thumbnail, &createdAt, &lastModified); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(metadata, &save.Metadata); err != nil {
		return nil, err
	}
	if thumbnail.Valid {
		save.Thumbnail = &thumbnail.String
	}
	save.CreatedAt = time.UnixMilli(createdAt).UTC()
	save.LastModified = time.UnixMilli(lastModified).UTC()
	return save, nil
}

func (r *SQLiteRepository) GetSave(ctx context.Context, userID string, saveID string) (*models.SaveRecord, error) {
	q := `SELECT ` + sqliteSaveColumns + ` FROM saves WHERE user_id = ? AND save_id = ?;`
	save, err := scanSQLiteSave(r.db.QueryRowContext(ctx, q, userID, saveID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &ErrNotFound{}
		}
		return nil, fmt.Errorf("failed to scan save: %v", err)
	}
	return save, nil
}

func (r *SQLiteRepository) UpsertSave(ctx context.Context, userID string, save *models.SaveRecord) (*models.SaveRecord, error) {
	stored := save.Copy()
	stored.ID = models.SaveID(save.GameID, save.SlotNumber)
	metadata, err := marshalJSON(stored.Metadata, "{}")
	if err != nil {
		return nil, err
	}

	q := `
	INSERT INTO saves (save_id, user_id, game_id, slot_number, storage_path, metadata, thumbnail, created_at, last_modified)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (user_id, game_id, slot_number) DO UPDATE SET
		storage_path = excluded.storage_path,
		metadata = excluded.metadata,
		thumbnail = excluded.thumbnail,
		last_modified = excluded.last_modified
	RETURNING created_at;
	`
	var createdAt int64
	err = r.db.QueryRowContext(ctx, q, stored.ID, userID, stored.GameID, stored.SlotNumber, stored.StoragePath, metadata,
		stored.Thumbnail, stored.CreatedAt.UnixMilli(), stored.LastModified.UnixMilli()).Scan(&createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert save: %v", err)
	}
	stored.CreatedAt = time.UnixMilli(createdAt).UTC()
	return stored, nil
}

func (r *SQLiteRepository) DeleteSave(ctx context.Context, userID string, saveID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM saves WHERE user_id = ? AND save_id = ?;`, userID, saveID)
	if err != nil {
		return fmt.Errorf("failed to delete save: %v", err)
	}
	return checkRowsAffected(res)
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %v", err)
	}
	if n == 0 {
		return &ErrNotFound{}
	}
	return nil
}

func (r *SQLiteRepository) ListSaves(ctx context.Context, userID string, gameID string) ([]*models.SaveRecord, error) {
	q := `SELECT ` + sqliteSaveColumns + ` FROM saves WHERE user_id = ? AND game_id = ? ORDER BY slot_number ASC;`
	return r.querySaves(ctx, q, userID, gameID)
}

func (r *SQLiteRepository) ListAllSaves(ctx context.Context, userID string) ([]*models.SaveRecord, error) {
	q := `SELECT ` + sqliteSaveColumns + ` FROM saves WHERE user_id = ? ORDER BY last_modified DESC;`
	return r.querySaves(ctx, q, userID)
}

func (r *SQLiteRepository) querySaves(ctx context.Context, q string, args ...interface{}) ([]*models.SaveRecord, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query saves: %v", err)
	}
	defer rows.Close()

	saves := make([]*models.SaveRecord, 0)
	for rows.Next() {
		save, err := scanSQLiteSave(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan save: %v", err)
		}
		saves = append(saves, save)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate saves: %v", err)
	}
	return saves, nil
}

const sqliteProgressColumns = `game_id, total_play_time, high_score, achievements, games_completed, custom_stats, last_played`

func scanSQLiteProgress(row rowScanner) (*models.ProgressRecord, error) {
	progress := &models.ProgressRecord{}
	var achievements, customStats string
	var lastPlayed int64
	if err := row.Scan(&progress.GameID, &progress.TotalPlayTime, &progress.HighScore, &achievements,
		&progress.GamesCompleted, &customStats, &lastPlayed); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(achievements, &progress.Achievements); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(customStats, &progress.CustomStats); err != nil {
		return nil, err
	}
	progress.LastPlayed = time.UnixMilli(lastPlayed).UTC()
	return progress, nil
}

func (r *SQLiteRepository) GetProgress(ctx context.Context, userID string, gameID string) (*models.ProgressRecord, error) {
	q := `SELECT ` + sqliteProgressColumns + ` FROM progress WHERE user_id = ? AND game_id = ?;`
	progress, err := scanSQLiteProgress(r.db.QueryRowContext(ctx, q, userID, gameID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &ErrNotFound{}
		}
		return nil, fmt.Errorf("failed to scan progress: %v", err)
	}
	return progress, nil
}

func (r *SQLiteRepository) ListProgress(ctx context.Context, userID string) ([]*models.ProgressRecord, error) {
	q := `SELECT ` + sqliteProgressColumns + ` FROM progress WHERE user_id = ? ORDER BY game_id ASC;`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query progress: %v", err)
	}
	defer rows.Close()

	records := make([]*models.ProgressRecord, 0)
	for rows.Next() {
		progress, err := scanSQLiteProgress(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan progress: %v", err)
		}
		records = append(records, progress)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate progress: %v", err)
	}
	return records, nil
}

func (r *SQLiteRepository) UpdateProgress(ctx context.Context, userID string, gameID string, fn ProgressUpdateFunc) (*models.ProgressRecord, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback()

	q := `SELECT ` + sqliteProgressColumns + ` FROM progress WHERE user_id = ? AND game_id = ?;`
	current, err := scanSQLiteProgress(tx.QueryRowContext(ctx, q, userID, gameID))
	if err != nil {
		if err != sql.ErrNoRows {
			return nil, fmt.Errorf("failed to scan progress: %v", err)
		}
		current = nil
	}

	next, err := fn(current)
	if err != nil {
		return nil, err
	}
	next.GameID = gameID

	achievements, err := marshalJSON(next.Achievements, "[]")
	if err != nil {
		return nil, err
	}
	customStats, err := marshalJSON(next.CustomStats, "{}")
	if err != nil {
		return nil, err
	}

	upsert := `
	INSERT OR REPLACE INTO progress (user_id, game_id, total_play_time, high_score, achievements, games_completed, custom_stats, last_played)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?);
	`
	if _, err := tx.ExecContext(ctx, upsert, userID, gameID, next.TotalPlayTime, next.HighScore, achievements,
		next.GamesCompleted, customStats, next.LastPlayed.UnixMilli()); err != nil {
		return nil, fmt.Errorf("failed to upsert progress: %v", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %v", err)
	}
	return next, nil
}

func (r *SQLiteRepository) AddOrphanBlob(ctx context.Context, path string) error {
	q := `INSERT OR IGNORE INTO orphan_blobs (path, created_at) VALUES (?, ?);`
	if _, err := r.db.ExecContext(ctx, q, path, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("failed to insert orphan blob: %v", err)
	}
	return nil
}

func (r *SQLiteRepository) ListOrphanBlobs(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, `SELECT path FROM orphan_blobs ORDER BY created_at ASC LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query orphan blobs: %v", err)
	}
	defer rows.Close()

	paths := make([]string, 0)
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, fmt.Errorf("failed to scan orphan blob: %v", err)
		}
		paths = append(paths, path)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate orphan blobs: %v", err)
	}
	return paths, nil
}

func (r *SQLiteRepository) RemoveOrphanBlob(ctx context.Context, path string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM orphan_blobs WHERE path = ?;`, path); err != nil {
		return fmt.Errorf("failed to delete orphan blob: %v", err)
	}
	return nil
}

package repositories

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cbodonnell/gserver/pkg/log"
	"github.com/cbodonnell/gserver/pkg/repositories/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ Repository = &PostgresRepository{}

type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository connects to the database and runs every migration in the migrations directory.
// The caller is responsible for calling Close() on the repository.
func NewPostgresRepository(ctx context.Context, connStr string, migrations string) (*PostgresRepository, error) {
	pool, err := connectDb(ctx, connStr)
	if err != nil {
		return nil, err
	}

	if migrations != "" {
		if err := migrate(ctx, pool, migrations); err != nil {
			pool.Close()
			return nil, err
		}
	}

	return &PostgresRepository{
		pool: pool,
	}, nil
}

func connectDb(ctx context.Context, connStr string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}

	var username string
	var database string
	err = pool.QueryRow(ctx, "SELECT current_user, current_database()").Scan(&username, &database)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to query database: %v", err)
	}

	log.Info("Connected to %s as %s", database, username)

	return pool, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool, migrations string) error {
	dir, err := os.ReadDir(migrations)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %v", err)
	}

	for _, entry := range dir {
		if entry.IsDir() {
			continue
		}

		migrationPath := filepath.Join(migrations, entry.Name())
		migration, err := os.ReadFile(migrationPath)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %v", migrationPath, err)
		}

		if _, err := pool.Exec(ctx, string(migration)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %v", migrationPath, err)
		}
	}

	return nil
}

func (r *PostgresRepository) Close(ctx context.Context) error {
	r.pool.Close()
	return nil
}

const postgresSaveColumns = `save_id, game_id, slot_number, storage_path, metadata, thumbnail, created_at, last_modified`

func scanPostgresSave(row pgx.Row) (*models.SaveRecord, error) {
	save := &models.SaveRecord{}
	if err := row.Scan(&save.ID, &save.GameID, &save.SlotNumber, &save.StoragePath, &save.Metadata,
		&save.Thumbnail, &save.CreatedAt, &save.LastModified); err != nil {
		return nil, err
	}
	return save, nil
}

func (r *PostgresRepository) GetSave(ctx context.Context, userID string, saveID string) (*models.SaveRecord, error) {
	q := `SELECT ` + postgresSaveColumns + ` FROM saves WHERE user_id = $1 AND save_id = $2;`
	save, err := scanPostgresSave(r.pool.QueryRow(ctx, q, userID, saveID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &ErrNotFound{}
		}
		return nil, fmt.Errorf("failed to scan save: %v", err)
	}
	return save, nil
}

func (r *PostgresRepository) UpsertSave(ctx context.Context, userID string, save *models.SaveRecord) (*models.SaveRecord, error) {
	stored := save.Copy()
	stored.ID = models.SaveID(save.GameID, save.SlotNumber)
	if stored.Metadata == nil {
		stored.Metadata = map[string]interface{}{}
	}

	q := `
	INSERT INTO saves (save_id, user_id, game_id, slot_number, storage_path, metadata, thumbnail, created_at, last_modified)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (user_id, game_id, slot_number) DO UPDATE SET
		storage_path = EXCLUDED.storage_path,
		metadata = EXCLUDED.metadata,
		thumbnail = EXCLUDED.thumbnail,
		last_modified = EXCLUDED.last_modified
	RETURNING created_at;
	`
	err := r.pool.QueryRow(ctx, q, stored.ID, userID, stored.GameID, stored.SlotNumber, stored.StoragePath, stored.Metadata,
		stored.Thumbnail, stored.CreatedAt, stored.LastModified).Scan(&stored.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert save: %v", err)
	}
	return stored, nil
}

func (r *PostgresRepository) DeleteSave(ctx context.Context, userID string, saveID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM saves WHERE user_id = $1 AND save_id = $2;`, userID, saveID)
	if err != nil {
		return fmt.Errorf("failed to delete save: %v", err)
	}
	return checkCommandTag(tag)
}

func checkCommandTag(tag pgconn.CommandTag) error {
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{}
	}
	return nil
}

func (r *PostgresRepository) ListSaves(ctx context.Context, userID string, gameID string) ([]*models.SaveRecord, error) {
	q := `SELECT ` + postgresSaveColumns + ` FROM saves WHERE user_id = $1 AND game_id = $2 ORDER BY slot_number ASC;`
	return r.querySaves(ctx, q, userID, gameID)
}

func (r *PostgresRepository) ListAllSaves(ctx context.Context, userID string) ([]*models.SaveRecord, error) {
	q := `SELECT ` + postgresSaveColumns + ` FROM saves WHERE user_id = $1 ORDER BY last_modified DESC;`
	return r.querySaves(ctx, q, userID)
}

func (r *PostgresRepository) querySaves(ctx context.Context, q string, args ...interface{}) ([]*models.SaveRecord, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query saves: %v", err)
	}
	defer rows.Close()

	saves := make([]*models.SaveRecord, 0)
	for rows.Next() {
		save, err := scanPostgresSave(rows)
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

const postgresProgressColumns = `game_id, total_play_time, high_score, achievements, games_completed, custom_stats, last_played`

func scanPostgresProgress(row pgx.Row) (*models.ProgressRecord, error) {
	progress := &models.ProgressRecord{}
	if err := row.Scan(&progress.GameID, &progress.TotalPlayTime, &progress.HighScore, &progress.Achievements,
		&progress.GamesCompleted, &progress.CustomStats, &progress.LastPlayed); err != nil {
		return nil, err
	}
	return progress, nil
}

func (r *PostgresRepository) GetProgress(ctx context.Context, userID string, gameID string) (*models.ProgressRecord, error) {
	q := `SELECT ` + postgresProgressColumns + ` FROM progress WHERE user_id = $1 AND game_id = $2;`
	progress, err := scanPostgresProgress(r.pool.QueryRow(ctx, q, userID, gameID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &ErrNotFound{}
		}
		return nil, fmt.Errorf("failed to scan progress: %v", err)
	}
	return progress, nil
}

func (r *PostgresRepository) ListProgress(ctx context.Context, userID string) ([]*models.ProgressRecord, error) {
	q := `SELECT ` + postgresProgressColumns + ` FROM progress WHERE user_id = $1 ORDER BY game_id ASC;`
	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query progress: %v", err)
	}
	defer rows.Close()

	records := make([]*models.ProgressRecord, 0)
	for rows.Next() {
		progress, err := scanPostgresProgress(rows)
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

// UpdateProgress serializes updates of one (user, game) with a transaction-scoped advisory lock,
// which also covers the first insert where there is no row to lock yet.
func (r *PostgresRepository) UpdateProgress(ctx context.Context, userID string, gameID string, fn ProgressUpdateFunc) (*models.ProgressRecord, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1));`, userID+"/"+gameID); err != nil {
		return nil, fmt.Errorf("failed to lock progress: %v", err)
	}

	q := `SELECT ` + postgresProgressColumns + ` FROM progress WHERE user_id = $1 AND game_id = $2;`
	current, err := scanPostgresProgress(tx.QueryRow(ctx, q, userID, gameID))
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("failed to scan progress: %v", err)
		}
		current = nil
	}

	next, err := fn(current)
	if err != nil {
		return nil, err
	}
	next.GameID = gameID
	achievements := next.Achievements
	if achievements == nil {
		achievements = []string{}
	}
	customStats := next.CustomStats
	if customStats == nil {
		customStats = map[string]interface{}{}
	}

	upsert := `
	INSERT INTO progress (user_id, game_id, total_play_time, high_score, achievements, games_completed, custom_stats, last_played)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (user_id, game_id) DO UPDATE SET
		total_play_time = $3, high_score = $4, achievements = $5, games_completed = $6, custom_stats = $7, last_played = $8;
	`
	if _, err := tx.Exec(ctx, upsert, userID, gameID, next.TotalPlayTime, next.HighScore, achievements,
		next.GamesCompleted, customStats, next.LastPlayed); err != nil {
		return nil, fmt.Errorf("failed to upsert progress: %v", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %v", err)
	}
	return next, nil
}

func (r *PostgresRepository) AddOrphanBlob(ctx context.Context, path string) error {
	q := `INSERT INTO orphan_blobs (path) VALUES ($1) ON CONFLICT (path) DO NOTHING;`
	if _, err := r.pool.Exec(ctx, q, path); err != nil {
		return fmt.Errorf("failed to insert orphan blob: %v", err)
	}
	return nil
}

func (r *PostgresRepository) ListOrphanBlobs(ctx context.Context, limit int) ([]string, error) {
	q := `SELECT path FROM orphan_blobs ORDER BY created_at ASC`
	args := []interface{}{}
	if limit > 0 {
		q += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orphan blobs: %v", err)
	}
	paths, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to collect orphan blobs: %v", err)
	}
	return paths, nil
}

func (r *PostgresRepository) RemoveOrphanBlob(ctx context.Context, path string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM orphan_blobs WHERE path = $1;`, path); err != nil {
		return fmt.Errorf("failed to delete orphan blob: %v", err)
	}
	return nil
}

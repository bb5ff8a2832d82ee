package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/cbodonnell/gserver/pkg/repositories/models"
	"github.com/redis/go-redis/v9"
)

var _ ProgressRepository = &RedisProgressRepository{}

// RedisMaxTxRetries bounds how often a progress update is retried after losing an optimistic lock.
const RedisMaxTxRetries = 32

// RedisProgressRepository keeps progress records as JSON values under progress:{uid}:{gameId}
// and the user's game ids in the set progress-games:{uid}.
type RedisProgressRepository struct {
	client *redis.Client
}

// NewRedisProgressRepository connects to the redis:// URL and pings the server.
func NewRedisProgressRepository(ctx context.Context, redisURL string) (*RedisProgressRepository, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %v", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %v", err)
	}

	return NewRedisProgressRepositoryFromClient(client), nil
}

func NewRedisProgressRepositoryFromClient(client *redis.Client) *RedisProgressRepository {
	return &RedisProgressRepository{
		client: client,
	}
}

func (r *RedisProgressRepository) Close(ctx context.Context) error {
	return r.client.Close()
}

func progressKey(userID string, gameID string) string {
	return fmt.Sprintf("progress:%s:%s", userID, gameID)
}

func progressGamesKey(userID string) string {
	return fmt.Sprintf("progress-games:%s", userID)
}

func decodeProgress(data string) (*models.ProgressRecord, error) {
	progress := &models.ProgressRecord{}
	if err := json.Unmarshal([]byte(data), progress); err != nil {
		return nil, fmt.Errorf("failed to unmarshal progress: %v", err)
	}
	return progress, nil
}

func (r *RedisProgressRepository) GetProgress(ctx context.Context, userID string, gameID string) (*models.ProgressRecord, error) {
	data, err := r.client.Get(ctx, progressKey(userID, gameID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, &ErrNotFound{}
		}
		return nil, fmt.Errorf("failed to get progress: %v", err)
	}
	return decodeProgress(data)
}

func (r *RedisProgressRepository) ListProgress(ctx context.Context, userID string) ([]*models.ProgressRecord, error) {
	gameIDs, err := r.client.SMembers(ctx, progressGamesKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list progress games: %v", err)
	}
	sort.Strings(gameIDs)

	records := make([]*models.ProgressRecord, 0, len(gameIDs))
	for _, gameID := range gameIDs {
		progress, err := r.GetProgress(ctx, userID, gameID)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}
		records = append(records, progress)
	}
	return records, nil
}

// UpdateProgress watches the record's key, computes the next value and commits it in a MULTI block.
// A concurrent write to the key aborts the commit and the update starts over from a fresh read.
func (r *RedisProgressRepository) UpdateProgress(ctx context.Context, userID string, gameID string, fn ProgressUpdateFunc) (*models.ProgressRecord, error) {
	key := progressKey(userID, gameID)

	var next *models.ProgressRecord
	txf := func(tx *redis.Tx) error {
		var current *models.ProgressRecord
		data, err := tx.Get(ctx, key).Result()
		switch {
		case err == nil:
			current, err = decodeProgress(data)
			if err != nil {
				return err
			}
		case errors.Is(err, redis.Nil):
			current = nil
		default:
			return fmt.Errorf("failed to get progress: %v", err)
		}

		next, err = fn(current)
		if err != nil {
			return err
		}
		next.GameID = gameID

		encoded, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to marshal progress: %v", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			pipe.SAdd(ctx, progressGamesKey(userID), gameID)
			return nil
		})
		return err
	}

	for i := 0; i < RedisMaxTxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return next, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("failed to update progress after %d attempts: lock contention", RedisMaxTxRetries)
}

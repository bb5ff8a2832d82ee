// Package progress merges the progress reports of games into durable per-game records.
package progress

import (
	"context"
	"time"

	"github.com/cbodonnell/gserver/pkg/apperrors"
	"github.com/cbodonnell/gserver/pkg/log"
	"github.com/cbodonnell/gserver/pkg/repositories"
	"github.com/cbodonnell/gserver/pkg/repositories/models"
)

// Report is one incremental progress report of a game.
type Report struct {
	HighScore      float64
	Achievements   []string
	PlayTime       float64
	CustomStats    map[string]interface{}
	GamesCompleted int64
}

// Merge folds report into current, which may be nil. Play time and completed games are summed,
// the high score is the maximum, achievements are a union in first-seen order and custom stats
// are shallow-merged with the report winning.
func Merge(current *models.ProgressRecord, gameID string, report Report, now time.Time) *models.ProgressRecord {
	next := &models.ProgressRecord{}
	if current != nil {
		next = current.Copy()
	}
	next.GameID = gameID

	if report.PlayTime > 0 {
		next.TotalPlayTime += report.PlayTime
	}
	if report.HighScore > next.HighScore {
		next.HighScore = report.HighScore
	}
	if report.GamesCompleted > 0 {
		next.GamesCompleted += report.GamesCompleted
	}

	seen := make(map[string]struct{}, len(next.Achievements)+len(report.Achievements))
	achievements := make([]string, 0, len(next.Achievements)+len(report.Achievements))
	for _, a := range append(next.Achievements, report.Achievements...) {
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		achievements = append(achievements, a)
	}
	next.Achievements = achievements

	if len(report.CustomStats) > 0 {
		if next.CustomStats == nil {
			next.CustomStats = make(map[string]interface{}, len(report.CustomStats))
		}
		for k, v := range report.CustomStats {
			next.CustomStats[k] = v
		}
	}

	next.LastPlayed = now.UTC()
	return next
}

// Aggregator applies progress reports to the progress store.
type Aggregator struct {
	repository repositories.ProgressRepository
	now        func() time.Time
}

type NewAggregatorOptions struct {
	Repository repositories.ProgressRepository
	// Now defaults to time.Now.
	Now func() time.Time
}

func NewAggregator(opts NewAggregatorOptions) *Aggregator {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Aggregator{
		repository: opts.Repository,
		now:        now,
	}
}

// UpdateProgress merges report into the record of (identity, gameID) atomically.
// Without a signed-in user or an active game it does nothing and returns nil, nil.
func (a *Aggregator) UpdateProgress(ctx context.Context, identity *models.Identity, gameID string, report Report) (*models.ProgressRecord, error) {
	if identity == nil || gameID == "" {
		log.Debug("Ignoring progress report without user or game")
		return nil, nil
	}

	record, err := a.repository.UpdateProgress(ctx, identity.UserID, gameID, func(current *models.ProgressRecord) (*models.ProgressRecord, error) {
		return Merge(current, gameID, report, a.now()), nil
	})
	if err != nil {
		return nil, apperrors.Storage("update progress", err)
	}
	return record, nil
}

// GetProgress returns nil, nil if the user has no progress for the game.
func (a *Aggregator) GetProgress(ctx context.Context, identity *models.Identity, gameID string) (*models.ProgressRecord, error) {
	if identity == nil {
		return nil, apperrors.ErrNotAuthenticated
	}
	record, err := a.repository.GetProgress(ctx, identity.UserID, gameID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return nil, nil
		}
		return nil, apperrors.Storage("get progress", err)
	}
	return record, nil
}

func (a *Aggregator) ListProgress(ctx context.Context, identity *models.Identity) ([]*models.ProgressRecord, error) {
	if identity == nil {
		return nil, apperrors.ErrNotAuthenticated
	}
	records, err := a.repository.ListProgress(ctx, identity.UserID)
	if err != nil {
		return nil, apperrors.Storage("list progress", err)
	}
	return records, nil
}

// Stats are the lifetime totals of a user across games.
type Stats struct {
	GamesPlayed     int     `json:"gamesPlayed"`
	TotalSaves      int     `json:"totalSaves"`
	TotalScore      float64 `json:"totalScore"`
	PlayTimeMinutes int64   `json:"playTimeMinutes"`
	Achievements    int     `json:"achievements"`
	GamesCompleted  int64   `json:"gamesCompleted"`
}

// Summarize totals progress records. totalSaves is passed through.
func Summarize(records []*models.ProgressRecord, totalSaves int) Stats {
	stats := Stats{
		GamesPlayed: len(records),
		TotalSaves:  totalSaves,
	}
	var playTime float64
	for _, r := range records {
		playTime += r.TotalPlayTime
		stats.TotalScore += r.HighScore
		stats.Achievements += len(r.Achievements)
		stats.GamesCompleted += r.GamesCompleted
	}
	stats.PlayTimeMinutes = int64(playTime / 60)
	return stats
}

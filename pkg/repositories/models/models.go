package models

import (
	"fmt"
	"time"
)

// DefaultMaxSlots is the number of save slots a game gets when it does not configure its own.
const DefaultMaxSlots = 3

// Identity is the authenticated actor of a host session.
type Identity struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

// Game is an entry of the games registry.
type Game struct {
	ID          string `json:"gameId" yaml:"id" firestore:"gameId"`
	Name        string `json:"name" yaml:"name" firestore:"name"`
	Description string `json:"description" yaml:"description" firestore:"description"`
	URL         string `json:"url" yaml:"url" firestore:"url"`
	Origin      string `json:"origin" yaml:"origin" firestore:"origin"`
	Category    string `json:"category,omitempty" yaml:"category" firestore:"category"`
	Version     string `json:"version,omitempty" yaml:"version" firestore:"version"`
	Thumbnail   string `json:"thumbnail,omitempty" yaml:"thumbnail" firestore:"thumbnail"`
	MaxSlots    int    `json:"maxSlots" yaml:"maxSlots" firestore:"maxSlots"`
	Active      bool   `json:"active" yaml:"active" firestore:"active"`
}

// SaveRecord is the metadata of one save slot. The payload itself lives in the blob store at StoragePath.
// It is unique per (user, GameID, SlotNumber).
type SaveRecord struct {
	ID           string                 `json:"id" firestore:"-"`
	GameID       string                 `json:"gameId" firestore:"gameId"`
	SlotNumber   int                    `json:"slotNumber" firestore:"slotNumber"`
	StoragePath  string                 `json:"storagePath" firestore:"storagePath"`
	Metadata     map[string]interface{} `json:"metadata" firestore:"metadata"`
	Thumbnail    *string                `json:"thumbnail" firestore:"thumbnail"`
	CreatedAt    time.Time              `json:"createdAt" firestore:"createdAt"`
	LastModified time.Time              `json:"lastModified" firestore:"lastModified"`
}

// SaveID is the id of the record holding a slot.
func SaveID(gameID string, slotNumber int) string {
	return fmt.Sprintf("%s_slot_%d", gameID, slotNumber)
}

// ProgressRecord is the lifetime aggregate of a user's stats for one game.
type ProgressRecord struct {
	GameID         string                 `json:"gameId" firestore:"gameId"`
	TotalPlayTime  float64                `json:"totalPlayTime" firestore:"totalPlayTime"`
	HighScore      float64                `json:"highScore" firestore:"highScore"`
	Achievements   []string               `json:"achievements" firestore:"achievements"`
	GamesCompleted int64                  `json:"gamesCompleted" firestore:"gamesCompleted"`
	LastPlayed     time.Time              `json:"lastPlayed" firestore:"lastPlayed"`
	CustomStats    map[string]interface{} `json:"customStats" firestore:"customStats"`
}

// Copy returns a deep enough copy of the record for callers to mutate safely.
func (s *SaveRecord) Copy() *SaveRecord {
	if s == nil {
		return nil
	}
	c := *s
	c.Metadata = copyMap(s.Metadata)
	if s.Thumbnail != nil {
		thumbnail := *s.Thumbnail
		c.Thumbnail = &thumbnail
	}
	return &c
}

// Copy returns a deep enough copy of the record for callers to mutate safely.
func (p *ProgressRecord) Copy() *ProgressRecord {
	if p == nil {
		return nil
	}
	c := *p
	c.Achievements = append([]string(nil), p.Achievements...)
	c.CustomStats = copyMap(p.CustomStats)
	return &c
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	c := make(map[string]interface{}, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

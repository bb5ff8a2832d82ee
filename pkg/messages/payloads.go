package messages

import (
	"encoding/json"

	"github.com/cbodonnell/gserver/pkg/repositories/models"
)

type GameReady struct {
	GameID  string `json:"gameId"`
	Version string `json:"version"`
}

type UserInfo struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

// SaveGame carries a save produced by the game. RequestID echoes the REQUEST_SAVE it answers, if any.
type SaveGame struct {
	SlotNumber int                    `json:"slotNumber"`
	SaveData   json.RawMessage        `json:"saveData"`
	Metadata   map[string]interface{} `json:"metadata"`
	Thumbnail  *string                `json:"thumbnail"`
	RequestID  string                 `json:"requestId,omitempty"`
}

type RequestSave struct {
	SlotNumber int    `json:"slotNumber"`
	RequestID  string `json:"requestId"`
}

type RequestSaves struct {
	GameID string `json:"gameId"`
}

type SavesList struct {
	Saves []*models.SaveRecord `json:"saves"`
}

type LoadGame struct {
	SaveData   json.RawMessage        `json:"saveData"`
	SlotNumber int                    `json:"slotNumber"`
	Metadata   map[string]interface{} `json:"metadata"`
}

type UpdateProgress struct {
	HighScore      float64                `json:"highScore"`
	Achievements   []string               `json:"achievements"`
	PlayTime       float64                `json:"playTime"`
	CustomStats    map[string]interface{} `json:"customStats"`
	GamesCompleted int64                  `json:"gamesCompleted,omitempty"`
}

// Error is reported by a game. Code is whatever the game sends, string or number.
type Error struct {
	Message string      `json:"message"`
	Code    interface{} `json:"code"`
}

package domain

import "time"

// AchievedFlag is the upstream unlock flag value for an unlocked achievement
const AchievedFlag = 1

// AchievementRecord is the canonical, schema-enriched view of one achievement
// for one player/game pair
type AchievementRecord struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Image       string `json:"image"`
	Description string `json:"description"`
	Achieved    bool   `json:"achieved"`
	UnlockTime  int64  `json:"unlockTime"`
}

// RawUnlockRecord is a player's unlock state for one achievement as reported upstream
type RawUnlockRecord struct {
	APIName     string `json:"apiname"`
	Name        string `json:"name"`
	Achieved    int    `json:"achieved"`
	UnlockTime  int64  `json:"unlocktime"`
	Description string `json:"description"`
}

// SchemaAchievement is the static per-game metadata for one achievement
type SchemaAchievement struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Icon        string `json:"icon"`
	IconGray    string `json:"icongray"`
}

// CurrentGame identifies the game a player is currently in
type CurrentGame struct {
	AppID    string `json:"app_id"`
	GameName string `json:"game_name"`
}

// Snapshot is the full ordered set of canonical records for a player at one
// point in time. AppID records the game it was taken for.
type Snapshot struct {
	AppID   string              `json:"app_id"`
	Records []AchievementRecord `json:"records"`
}

// BaselineFor returns the records usable as a diff baseline for appID.
// A snapshot taken for another game is not a baseline.
func (s Snapshot) BaselineFor(appID string) []AchievementRecord {
	if s.AppID == "" || s.AppID != appID {
		return nil
	}
	return s.Records
}

// UnlockEvent is emitted once per newly unlocked achievement
type UnlockEvent struct {
	EventID     string            `json:"event_id"`
	PlayerID    string            `json:"player_id"`
	AppID       string            `json:"app_id"`
	GameName    string            `json:"game_name"`
	Achievement AchievementRecord `json:"achievement"`
	DetectedAt  time.Time         `json:"detected_at"`
}

// UnlockHistoryEntry is a stored unlock transition
type UnlockHistoryEntry struct {
	PlayerID      string    `json:"player_id"`
	AppID         string    `json:"app_id"`
	GameName      string    `json:"game_name"`
	AchievementID string    `json:"achievement_id"`
	DisplayName   string    `json:"display_name"`
	Image         string    `json:"image,omitempty"`
	UnlockTime    int64     `json:"unlock_time"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// UnlockHistoryPage is the newest part of a player's unlock history.
// Count is the total recorded for the player, not the page length.
type UnlockHistoryPage struct {
	PlayerID string               `json:"player_id"`
	Count    int64                `json:"count"`
	Unlocks  []UnlockHistoryEntry `json:"unlocks"`
}

// ProgressEntry is one row of a per-game progress board
type ProgressEntry struct {
	Rank       int64  `json:"rank"`
	PlayerID   string `json:"player_id"`
	Percentage int    `json:"percentage"`
}

// GameProgress is the progress board of one game
type GameProgress struct {
	AppID    string          `json:"app_id"`
	GameName string          `json:"game_name,omitempty"`
	Entries  []ProgressEntry `json:"entries"`
}

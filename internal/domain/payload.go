package domain

// Payload is the outward widget response. It is either an IdlePayload or an ActivePayload.
type Payload interface {
	IsActive() bool
}

// IdlePayload is served while the player is not in a game, and as the body of error responses
type IdlePayload struct {
	Active  bool   `json:"active"`
	Message string `json:"message"`
}

// IsActive reports false
func (IdlePayload) IsActive() bool { return false }

// GameInfo describes the game being played
type GameInfo struct {
	Name       string `json:"name"`
	Image      string `json:"image"`
	TimePlayed string `json:"timePlayed"`
}

// Progress summarizes unlocked vs total achievements
type Progress struct {
	Unlocked   int `json:"unlocked"`
	Total      int `json:"total"`
	Percentage int `json:"percentage"`
}

// ActivePayload is served while the player is in a game
type ActivePayload struct {
	Active                   bool                `json:"active"`
	AppID                    string              `json:"appId"`
	Game                     GameInfo            `json:"game"`
	Progress                 Progress            `json:"progress"`
	LastAchievements         []AchievementRecord `json:"lastAchievements"`
	NewAchievements          []AchievementRecord `json:"newAchievements"`
	BlockedAchievementsCount int                 `json:"blockedAchievementsCount"`
}

// IsActive reports true
func (ActivePayload) IsActive() bool { return true }

// NewIdlePayload returns an inactive payload carrying message
func NewIdlePayload(message string) IdlePayload {
	return IdlePayload{Active: false, Message: message}
}

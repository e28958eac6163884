package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Player is a participant inside a GameSession. The slice order of
// GameSession.Players is the join order and drives turn rotation.
type Player struct {
	ID               string          `json:"id"`
	DisplayName      string          `json:"displayName"`
	AvatarToken      string          `json:"avatarToken"`
	ColorToken       string          `json:"colorToken"`
	Score            decimal.Decimal `json:"score"`
	TurnsPlayed      int             `json:"turnsPlayed"`
	TurnsSkipped     int             `json:"turnsSkipped"`
	CountriesGuessed []string        `json:"countriesGuessed"`
	IsReady          bool            `json:"isReady"`
	IsConnected      bool            `json:"isConnected"`
	LastSeenAt       time.Time       `json:"lastSeenAt"`
}

// Accuracy is correct guesses over turns that were actually answered.
// Skips do not count against it.
func (p Player) Accuracy() float64 {
	answered := p.TurnsPlayed - p.TurnsSkipped
	if answered <= 0 {
		return 0
	}
	return float64(len(p.CountriesGuessed)) / float64(answered)
}

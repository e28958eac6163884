package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// GameResult is the durable record of a finished session.
type GameResult struct {
	ID               uint           `json:"id" gorm:"primaryKey"`
	SessionID        string         `json:"session_id" gorm:"uniqueIndex;not null"`
	Code             string         `json:"code" gorm:"index;size:6;not null"`
	HostPlayerID     string         `json:"host_player_id" gorm:"not null"`
	DurationMinutes  int            `json:"duration_minutes" gorm:"not null"`
	Solo             bool           `json:"solo" gorm:"not null;default:false"`
	GuessedCountries datatypes.JSON `json:"guessed_countries" gorm:"type:jsonb"`
	StartedAt        *time.Time     `json:"started_at"`
	EndedAt          *time.Time     `json:"ended_at"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	DeletedAt        gorm.DeletedAt `json:"-" gorm:"index"`

	// Relationships
	Players []PlayerResult `json:"players,omitempty" gorm:"foreignKey:GameResultID"`
	Turns   []TurnRecord   `json:"turns,omitempty" gorm:"foreignKey:GameResultID"`
}

// PlayerResult is one player's final standing in a GameResult.
type PlayerResult struct {
	ID               uint            `json:"id" gorm:"primaryKey"`
	GameResultID     uint            `json:"game_result_id" gorm:"index;not null"`
	PlayerID         string          `json:"player_id" gorm:"index;not null"`
	DisplayName      string          `json:"display_name" gorm:"not null"`
	Score            decimal.Decimal `json:"score" gorm:"type:numeric(10,2);not null;default:0"`
	TurnsPlayed      int             `json:"turns_played" gorm:"not null;default:0"`
	TurnsSkipped     int             `json:"turns_skipped" gorm:"not null;default:0"`
	CountriesGuessed datatypes.JSON  `json:"countries_guessed" gorm:"type:jsonb"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	DeletedAt        gorm.DeletedAt  `json:"-" gorm:"index"`
}

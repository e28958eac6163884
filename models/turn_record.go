package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TurnRecord stores the outcome of one completed turn.
type TurnRecord struct {
	ID           uint            `json:"id" gorm:"primaryKey"`
	GameResultID uint            `json:"game_result_id" gorm:"index;not null"`
	PlayerID     string          `json:"player_id" gorm:"index;not null"`
	Country      string          `json:"country" gorm:"not null"`
	Answer       string          `json:"answer"`
	Outcome      string          `json:"outcome" gorm:"size:16;not null"` // exact, close, wrong, skipped, timeout
	Points       decimal.Decimal `json:"points" gorm:"type:numeric(10,2);not null;default:0"`
	HintsUsed    int             `json:"hints_used" gorm:"not null;default:0"`
	EndedAt      time.Time       `json:"ended_at"`
	CreatedAt    time.Time       `json:"created_at"`
	DeletedAt    gorm.DeletedAt  `json:"-" gorm:"index"`
}

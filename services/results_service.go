package services

import (
	"context"
	"encoding/json"
	"errors"

	"geoquiz/models"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrArchiveDisabled = errors.New("results archive is disabled")

// ResultsService archives finished sessions to Postgres. A nil service or
// one without a database accepts archives and stores nothing.
type ResultsService struct {
	db *gorm.DB
}

func NewResultsService(db *gorm.DB) *ResultsService {
	return &ResultsService{db: db}
}

func (s *ResultsService) enabled() bool {
	return s != nil && s.db != nil
}

// LeaderboardEntry aggregates every archived game of one player.
type LeaderboardEntry struct {
	PlayerID         string          `json:"player_id"`
	DisplayName      string          `json:"display_name"`
	TotalScore       decimal.Decimal `json:"total_score"`
	Games            int             `json:"games"`
	TurnsPlayed      int             `json:"turns_played"`
	CountriesGuessed int             `json:"countries_guessed"`
}

// Archive stores s once; archiving the same session again is a no-op.
func (s *ResultsService) Archive(ctx context.Context, session *models.GameSession) error {
	if !s.enabled() {
		return nil
	}
	result, err := buildResult(session)
	if err != nil {
		return err
	}

	tx := s.db.WithContext(ctx).Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	var count int64
	if err := tx.Model(&models.GameResult{}).Where("session_id = ?", result.SessionID).Count(&count).Error; err != nil {
		tx.Rollback()
		return err
	}
	if count > 0 {
		tx.Rollback()
		return nil
	}

	players, turns := result.Players, result.Turns
	result.Players, result.Turns = nil, nil
	if err := tx.Create(&result).Error; err != nil {
		tx.Rollback()
		return err
	}
	for i := range players {
		players[i].GameResultID = result.ID
	}
	for i := range turns {
		turns[i].GameResultID = result.ID
	}
	if len(players) > 0 {
		if err := tx.Create(&players).Error; err != nil {
			tx.Rollback()
			return err
		}
	}
	if len(turns) > 0 {
		if err := tx.Create(&turns).Error; err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit().Error
}

func buildResult(s *models.GameSession) (models.GameResult, error) {
	guessed, err := jsonList(s.GuessedCountries)
	if err != nil {
		return models.GameResult{}, err
	}
	result := models.GameResult{
		SessionID:        s.ID,
		Code:             s.Code,
		HostPlayerID:     s.HostPlayerID,
		DurationMinutes:  s.DurationMinutes,
		Solo:             s.Solo,
		GuessedCountries: guessed,
		StartedAt:        s.StartTime,
		EndedAt:          s.FinishedAt,
	}
	for _, p := range s.Players {
		countries, err := jsonList(p.CountriesGuessed)
		if err != nil {
			return models.GameResult{}, err
		}
		result.Players = append(result.Players, models.PlayerResult{
			PlayerID:         p.ID,
			DisplayName:      p.DisplayName,
			Score:            p.Score,
			TurnsPlayed:      p.TurnsPlayed,
			TurnsSkipped:     p.TurnsSkipped,
			CountriesGuessed: countries,
		})
	}
	for _, t := range s.History {
		result.Turns = append(result.Turns, models.TurnRecord{
			PlayerID:  t.PlayerID,
			Country:   t.Country,
			Answer:    t.Answer,
			Outcome:   t.Outcome,
			Points:    t.Points,
			HintsUsed: t.HintsUsed,
			EndedAt:   t.EndedAt,
		})
	}
	return result, nil
}

func jsonList(items []string) (datatypes.JSON, error) {
	if items == nil {
		items = []string{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(data), nil
}

// GetResultsByCode returns the latest archived game for code with players
// ranked by score.
func (s *ResultsService) GetResultsByCode(ctx context.Context, code string) (*models.GameResult, error) {
	if !s.enabled() {
		return nil, ErrArchiveDisabled
	}
	var result models.GameResult
	err := s.db.WithContext(ctx).Where("code = ?", code).
		Preload("Players", func(db *gorm.DB) *gorm.DB {
			return db.Order("player_results.score DESC")
		}).
		Preload("Turns", func(db *gorm.DB) *gorm.DB {
			return db.Order("turn_records.ended_at")
		}).
		Order("created_at DESC").
		First(&result).Error
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *ResultsService) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if !s.enabled() {
		return nil, ErrArchiveDisabled
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var entries []LeaderboardEntry
	err := s.db.WithContext(ctx).Model(&models.PlayerResult{}).
		Select("player_id, MAX(display_name) AS display_name, SUM(score) AS total_score, " +
			"COUNT(*) AS games, SUM(turns_played) AS turns_played, " +
			"SUM(jsonb_array_length(countries_guessed)) AS countries_guessed").
		Group("player_id").
		Order("total_score DESC").
		Limit(limit).
		Scan(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"geoquiz/models"

	"github.com/shopspring/decimal"
)

func finishedSession() *models.GameSession {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(10 * time.Minute)
	return &models.GameSession{
		ID:               "s-1",
		Code:             "ABC123",
		HostPlayerID:     "a",
		DurationMinutes:  10,
		Status:           models.StatusFinished,
		StartTime:        &start,
		FinishedAt:       &end,
		GuessedCountries: []string{"Peru"},
		Players: []models.Player{
			{ID: "a", DisplayName: "Ana", Score: decimal.NewFromFloat(2.5), TurnsPlayed: 2, CountriesGuessed: []string{"Peru"}},
			{ID: "b", DisplayName: "Ben", Score: decimal.Zero, TurnsPlayed: 1, TurnsSkipped: 1},
		},
		History: []models.TurnOutcome{
			{PlayerID: "a", Country: "Peru", Answer: "peru", Outcome: "exact", Points: decimal.NewFromInt(3), HintsUsed: 1, EndedAt: start.Add(time.Minute)},
			{PlayerID: "b", Country: "Chile", Outcome: "skipped", EndedAt: start.Add(2 * time.Minute)},
		},
	}
}

func TestBuildResult(t *testing.T) {
	result, err := buildResult(finishedSession())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if result.SessionID != "s-1" || result.Code != "ABC123" || result.HostPlayerID != "a" {
		t.Fatalf("unexpected header: %+v", result)
	}
	if string(result.GuessedCountries) != `["Peru"]` {
		t.Fatalf("guessed countries = %s", result.GuessedCountries)
	}
	if len(result.Players) != 2 || len(result.Turns) != 2 {
		t.Fatalf("expected 2 players and 2 turns, got %d and %d", len(result.Players), len(result.Turns))
	}
	if !result.Players[0].Score.Equal(decimal.NewFromFloat(2.5)) {
		t.Fatalf("score lost precision: %s", result.Players[0].Score)
	}
	if string(result.Players[1].CountriesGuessed) != `[]` {
		t.Fatalf("empty list should encode as [], got %s", result.Players[1].CountriesGuessed)
	}
	if result.Turns[1].Outcome != "skipped" || result.Turns[0].HintsUsed != 1 {
		t.Fatalf("turns not copied: %+v", result.Turns)
	}
	if result.EndedAt == nil || !result.EndedAt.Equal(*finishedSession().FinishedAt) {
		t.Fatalf("ended at not copied")
	}
}

func TestResultsServiceWithoutDatabase(t *testing.T) {
	ctx := context.Background()
	for name, svc := range map[string]*ResultsService{
		"nil":   nil,
		"no db": NewResultsService(nil),
	} {
		t.Run(name, func(t *testing.T) {
			if err := svc.Archive(ctx, finishedSession()); err != nil {
				t.Fatalf("archive should be a no-op, got %v", err)
			}
			if _, err := svc.GetResultsByCode(ctx, "ABC123"); !errors.Is(err, ErrArchiveDisabled) {
				t.Fatalf("expected ErrArchiveDisabled, got %v", err)
			}
			if _, err := svc.Leaderboard(ctx, 10); !errors.Is(err, ErrArchiveDisabled) {
				t.Fatalf("expected ErrArchiveDisabled, got %v", err)
			}
		})
	}
}
